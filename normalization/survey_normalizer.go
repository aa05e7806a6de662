package normalization

import (
	"context"

	"go.uber.org/zap"

	"kycrisk/dataset"
	"kycrisk/internal/logging"
	"kycrisk/survey"
)

// SurveyInputColumns are the merged columns the survey normalizer reads
var SurveyInputColumns = []string{
	survey.ColSurveyID,
	survey.ColSector,
	survey.ColRegion,
	survey.ColRefusal,
	survey.ColTermination,
	survey.ColClientIDStatus,
	survey.ColBeneficiaryID,
	survey.ColArchiving,
	survey.ColPaymentMethod,
	survey.ColRevenueKind,
	survey.ColTransactions,
}

// Normalizer derives the scoring indicators from the merged survey table
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a survey normalizer
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logging.OrNop(logger)}
}

// Normalize turns every merged row into a NormalizedRecord, in row order.
// It reads nothing but the merged table.
func (n *Normalizer) Normalize(ctx context.Context, merged *dataset.Table) ([]survey.NormalizedRecord, error) {
	if err := merged.RequireColumns(SurveyInputColumns...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nonLU, err := NonLUClients(merged)
	if err != nil {
		return nil, err
	}

	records := make([]survey.NormalizedRecord, 0, merged.Len())
	badTransactions := 0
	for i := 0; i < merged.Len(); i++ {
		row := merged.Row(i)
		id := row.Get(survey.ColSurveyID)

		rec := survey.NormalizedRecord{
			SurveyID:    id,
			Sector:      row.Get(survey.ColSector),
			RegionRisk:  RegionRisk(id, nonLU),
			Refusal:     NormalizeFlag(row.Get(survey.ColRefusal)),
			Termination: NormalizeFlag(row.Get(survey.ColTermination)),
			IdentificationCompliance: IdentificationCompliance(
				row.Get(survey.ColClientIDStatus),
				row.Get(survey.ColBeneficiaryID),
			),
			ArchivingCompliance: ArchivingCompliance(row.Get(survey.ColArchiving)),
			PaymentMethod:       row.Get(survey.ColPaymentMethod),
			RevenueKind:         row.Get(survey.ColRevenueKind),
		}

		tx := row.Get(survey.ColTransactions)
		if f, ok := tx.Float(); ok {
			rec.Transactions = &f
		} else if !tx.IsNull() {
			badTransactions++
		}

		records = append(records, rec)
	}

	if badTransactions > 0 {
		n.logger.Warn("non-numeric transaction counts treated as missing",
			zap.String("column", survey.ColTransactions),
			zap.Int("rows", badTransactions),
		)
	}
	n.logger.Info("survey records normalized",
		zap.Int("rows", len(records)),
		zap.Int("non_lu_clients", len(nonLU)),
	)
	return records, nil
}

// NormalizeFlag maps "X" to Y and a missing value to N.
// Any other value is returned unchanged.
func NormalizeFlag(v dataset.Value) string {
	switch {
	case v.IsNull():
		return survey.FlagNo
	case v.Is(survey.FlagRaw):
		return survey.FlagYes
	default:
		return v.Str()
	}
}

// IdentificationCompliance classifies the client and beneficiary identification
// statuses. The first matching rule wins: both AVANCEE, both SIMPLE, statuses
// differ, otherwise NA. A missing status differs from every status, including
// another missing one.
func IdentificationCompliance(client, beneficiary dataset.Value) survey.IdentificationCompliance {
	switch {
	case client.Is(survey.IDStatusAdvanced) && beneficiary.Is(survey.IDStatusAdvanced):
		return survey.IdentificationAdvanced
	case client.Is(survey.IDStatusSimple) && beneficiary.Is(survey.IDStatusSimple):
		return survey.IdentificationSimple
	case client.IsNull() || beneficiary.IsNull() || client.Str() != beneficiary.Str():
		return survey.IdentificationRisk
	default:
		return survey.IdentificationNA
	}
}

// ArchivingCompliance is Conforme for archiving statuses 5A and 5A+
func ArchivingCompliance(status dataset.Value) string {
	if status.In(survey.ArchivingCompliantStatuses...) {
		return survey.ArchivingCompliant
	}
	return survey.ArchivingNonCompliant
}

// NonLUClients returns the SURVEY_IDs having at least one NON LU row
func NonLUClients(merged *dataset.Table) (map[string]bool, error) {
	if err := merged.RequireColumns(survey.ColSurveyID, survey.ColRegion); err != nil {
		return nil, err
	}
	clients := make(map[string]bool)
	for i := 0; i < merged.Len(); i++ {
		if merged.Get(i, survey.ColRegion).Is(survey.RegionNonLU) {
			clients[merged.Get(i, survey.ColSurveyID).Key()] = true
		}
	}
	return clients, nil
}

// RegionRisk labels every row of a NON LU client as NON LU
func RegionRisk(surveyID dataset.Value, nonLU map[string]bool) string {
	if nonLU[surveyID.Key()] {
		return survey.RegionNonLU
	}
	return survey.RegionLU
}
