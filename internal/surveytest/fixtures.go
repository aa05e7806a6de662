// Package surveytest builds survey extracts for tests and for the extract generator.
package surveytest

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/brianvoe/gofakeit/v6"

	"kycrisk/dataset"
	"kycrisk/export"
	"kycrisk/internal/config"
	"kycrisk/survey"
)

// Client is one survey response spread over the five extracts.
// Empty fields are written as empty cells.
type Client struct {
	SurveyID            string
	Year                string
	Sector              string
	Region              string
	Refusal             string
	Termination         string
	SuspTransSurvey     string
	ClientIDStatus      string
	BeneficiaryIDStatus string
	Archiving           string
	PaymentMethod       string
	RevenueKind         string
	Transactions        string
}

// Extract column layouts
var (
	MasterColumns        = []string{survey.ColSurveyID, survey.ColYearOfSubmission, survey.ColSector}
	QuestionnaireColumns = []string{
		survey.ColSurveyID, survey.ColYearOfSubmission,
		survey.ColRefusal, survey.ColTermination, survey.ColSuspTransSurvey,
		survey.ColClientIDStatus, survey.ColBeneficiaryID, survey.ColArchiving,
	}
	PaymentColumns   = []string{survey.ColSurveyID, survey.ColPaymentMethod}
	RevenueColumns   = []string{survey.ColSurveyID, survey.ColRevenueKind, survey.ColTransactions}
	SoftCheckColumns = []string{survey.ColSurveyID, survey.ColRegion}
)

// Extracts are the five source tables
type Extracts struct {
	Master        *dataset.Table
	Questionnaire *dataset.Table
	Payment       *dataset.Table
	Revenue       *dataset.Table
	SoftCheck     *dataset.Table
}

// Build lays clients out over the five extracts, one row per client in each
func Build(clients ...Client) Extracts {
	e := Extracts{
		Master:        dataset.MustNew(MasterColumns...),
		Questionnaire: dataset.MustNew(QuestionnaireColumns...),
		Payment:       dataset.MustNew(PaymentColumns...),
		Revenue:       dataset.MustNew(RevenueColumns...),
		SoftCheck:     dataset.MustNew(SoftCheckColumns...),
	}
	for _, c := range clients {
		id := dataset.FromCell(c.SurveyID)
		year := dataset.FromCell(c.Year)
		_ = e.Master.Append(id, year, dataset.FromCell(c.Sector))
		_ = e.Questionnaire.Append(id, year,
			dataset.FromCell(c.Refusal), dataset.FromCell(c.Termination), dataset.FromCell(c.SuspTransSurvey),
			dataset.FromCell(c.ClientIDStatus), dataset.FromCell(c.BeneficiaryIDStatus), dataset.FromCell(c.Archiving),
		)
		_ = e.Payment.Append(id, dataset.FromCell(c.PaymentMethod))
		_ = e.Revenue.Append(id, dataset.FromCell(c.RevenueKind), dataset.FromCell(c.Transactions))
		_ = e.SoftCheck.Append(id, dataset.FromCell(c.Region))
	}
	return e
}

// Write stores the extracts under dir with the configured file names
func (e Extracts) Write(dir string, files config.SourceFiles) error {
	tables := []*dataset.Table{e.Master, e.Questionnaire, e.Payment, e.Revenue, e.SoftCheck}
	for i, src := range files.Named() {
		path := filepath.Join(dir, src.File)
		if err := export.Write(path, tables[i]); err != nil {
			return fmt.Errorf("write %s extract: %w", src.Name, err)
		}
	}
	return nil
}

// HighRiskClient is the end-to-end example that scores 6
func HighRiskClient(id string) Client {
	return Client{
		SurveyID:            id,
		Year:                "2023",
		Sector:              "IMMO",
		Region:              survey.RegionNonLU,
		Refusal:             survey.FlagRaw,
		ClientIDStatus:      survey.IDStatusAdvanced,
		BeneficiaryIDStatus: survey.IDStatusSimple,
		Archiving:           "5A",
		PaymentMethod:       survey.PaymentCash,
		RevenueKind:         "SERV_FONCTION",
		Transactions:        "70",
	}
}

// SafeClient is a client on which no rule fires
func SafeClient(id string) Client {
	return Client{
		SurveyID:            id,
		Year:                "2023",
		Sector:              "SERVICE",
		Region:              survey.RegionLU,
		ClientIDStatus:      survey.IDStatusAdvanced,
		BeneficiaryIDStatus: survey.IDStatusAdvanced,
		Archiving:           "5A+",
		PaymentMethod:       "VIREMENT",
		RevenueKind:         "SALAIRE",
		Transactions:        "3",
	}
}

var (
	sectors      = []string{"IMMO", "SERVICE", "ECO"}
	regions      = []string{survey.RegionLU, survey.RegionLU, survey.RegionLU, survey.RegionNonLU}
	flags        = []string{survey.FlagRaw, "", "", ""}
	idStatuses   = []string{survey.IDStatusAdvanced, survey.IDStatusSimple, "AUCUNE", ""}
	archivings   = []string{"5A", "5A+", "3A", "1A", ""}
	payments     = []string{survey.PaymentCash, "VIREMENT", "CHEQUE", "CARTE", ""}
	revenueKinds = []string{
		"SERV_CREATION_S", "SERV_FONCTION", "SERV_VIRTUEL",
		survey.RevenueRealEstate, "SALAIRE", "COMMERCE", "",
	}
)

// Random generates n clients with reproducible values for a given seed
func Random(n int, seed int64) []Client {
	faker := gofakeit.New(seed)
	clients := make([]Client, n)
	for i := range clients {
		c := Client{
			SurveyID:            strconv.Itoa(100000 + i),
			Year:                strconv.Itoa(faker.Number(2019, 2024)),
			Sector:              faker.RandomString(sectors),
			Region:              faker.RandomString(regions),
			Refusal:             faker.RandomString(flags),
			Termination:         faker.RandomString(flags),
			SuspTransSurvey:     faker.RandomString(flags),
			ClientIDStatus:      faker.RandomString(idStatuses),
			BeneficiaryIDStatus: faker.RandomString(idStatuses),
			Archiving:           faker.RandomString(archivings),
			PaymentMethod:       faker.RandomString(payments),
			RevenueKind:         faker.RandomString(revenueKinds),
		}
		if faker.Number(0, 9) > 0 {
			c.Transactions = strconv.Itoa(faker.Number(0, 120))
		}
		clients[i] = c
	}
	return clients
}
