package normalization

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"kycrisk/dataset"
	apperrors "kycrisk/internal/errors"
	"kycrisk/survey"
)

func mergedTable(t *testing.T, rows ...map[string]string) *dataset.Table {
	t.Helper()
	tbl := dataset.MustNew(SurveyInputColumns...)
	for _, r := range rows {
		values := make(map[string]dataset.Value, len(r))
		for col, v := range r {
			values[col] = dataset.FromCell(v)
		}
		require.NoError(t, tbl.AppendMap(values))
	}
	return tbl
}

func TestNormalizeFlag(t *testing.T) {
	assert.Equal(t, "Y", NormalizeFlag(dataset.String("X")))
	assert.Equal(t, "N", NormalizeFlag(dataset.Null))
	assert.Equal(t, "maybe", NormalizeFlag(dataset.String("maybe")))
	assert.Equal(t, "N", NormalizeFlag(dataset.String("N")))
}

func TestIdentificationCompliance(t *testing.T) {
	v := dataset.String
	tests := []struct {
		name                string
		client, beneficiary dataset.Value
		want                survey.IdentificationCompliance
	}{
		{"both advanced", v("AVANCEE"), v("AVANCEE"), survey.IdentificationAdvanced},
		{"both simple", v("SIMPLE"), v("SIMPLE"), survey.IdentificationSimple},
		{"mismatch", v("AVANCEE"), v("SIMPLE"), survey.IdentificationRisk},
		{"same other status", v("AUCUNE"), v("AUCUNE"), survey.IdentificationNA},
		{"one missing", v("AVANCEE"), dataset.Null, survey.IdentificationRisk},
		{"both missing", dataset.Null, dataset.Null, survey.IdentificationRisk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IdentificationCompliance(tt.client, tt.beneficiary))
		})
	}
}

func TestArchivingCompliance(t *testing.T) {
	assert.Equal(t, "Conforme", ArchivingCompliance(dataset.String("5A")))
	assert.Equal(t, "Conforme", ArchivingCompliance(dataset.String("5A+")))
	assert.Equal(t, "Non Conforme", ArchivingCompliance(dataset.String("3A")))
	assert.Equal(t, "Non Conforme", ArchivingCompliance(dataset.Null))
}

func TestNormalize_EndToEndClient(t *testing.T) {
	merged := mergedTable(t, map[string]string{
		survey.ColSurveyID:       "1",
		survey.ColSector:         "IMMO",
		survey.ColRegion:         "NON LU",
		survey.ColRefusal:        "X",
		survey.ColClientIDStatus: "AVANCEE",
		survey.ColBeneficiaryID:  "SIMPLE",
		survey.ColArchiving:      "5A",
		survey.ColPaymentMethod:  "CASH",
		survey.ColRevenueKind:    "SERV_FONCTION",
		survey.ColTransactions:   "70",
	})

	records, err := NewNormalizer(nil).Normalize(context.Background(), merged)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "Y", r.Refusal)
	assert.Equal(t, "N", r.Termination)
	assert.Equal(t, survey.IdentificationRisk, r.IdentificationCompliance)
	assert.Equal(t, "Conforme", r.ArchivingCompliance)
	assert.Equal(t, "NON LU", r.RegionRisk)
	require.NotNil(t, r.Transactions)
	assert.Equal(t, 70.0, *r.Transactions)
}

func TestNormalize_RegionBroadcastsToEveryClientRow(t *testing.T) {
	merged := mergedTable(t,
		map[string]string{survey.ColSurveyID: "7", survey.ColRegion: "LU"},
		map[string]string{survey.ColSurveyID: "8", survey.ColRegion: "LU"},
		map[string]string{survey.ColSurveyID: "7", survey.ColRegion: "NON LU"},
		map[string]string{survey.ColSurveyID: "7"},
	)

	records, err := NewNormalizer(nil).Normalize(context.Background(), merged)
	require.NoError(t, err)

	got := make([]string, len(records))
	for i, r := range records {
		got[i] = r.RegionRisk
	}
	assert.Equal(t, []string{"NON LU", "LU", "NON LU", "NON LU"}, got)
}

func TestNormalize_NonNumericTransactionsAreMissing(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	merged := mergedTable(t,
		map[string]string{survey.ColSurveyID: "1", survey.ColTransactions: "many"},
		map[string]string{survey.ColSurveyID: "2"},
	)

	records, err := NewNormalizer(zap.New(core)).Normalize(context.Background(), merged)
	require.NoError(t, err)
	assert.Nil(t, records[0].Transactions)
	assert.Nil(t, records[1].Transactions)
	assert.Equal(t, 1, logs.FilterMessage("non-numeric transaction counts treated as missing").Len())
}

func TestNormalize_MissingColumn(t *testing.T) {
	merged := dataset.MustNew(survey.ColSurveyID, survey.ColSector)

	_, err := NewNormalizer(nil).Normalize(context.Background(), merged)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)
}

func nullable(gs gopter.Gen) gopter.Gen {
	return gen.OneGenOf(gen.Const(dataset.Null), gs.Map(func(s string) dataset.Value { return dataset.String(s) }))
}

func TestIdentificationCompliance_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	status := nullable(gen.OneConstOf("AVANCEE", "SIMPLE", "AUCUNE", "PARTIELLE"))

	properties.Property("exactly one category and matching its rule", prop.ForAll(
		func(client, beneficiary dataset.Value) bool {
			got := IdentificationCompliance(client, beneficiary)
			bothAdvanced := client.Is("AVANCEE") && beneficiary.Is("AVANCEE")
			bothSimple := client.Is("SIMPLE") && beneficiary.Is("SIMPLE")
			switch got {
			case survey.IdentificationAdvanced:
				return bothAdvanced
			case survey.IdentificationSimple:
				return bothSimple && !bothAdvanced
			case survey.IdentificationRisk:
				return !bothAdvanced && !bothSimple && !client.Equal(beneficiary) || client.IsNull() || beneficiary.IsNull()
			case survey.IdentificationNA:
				return !client.IsNull() && client.Equal(beneficiary) && !bothAdvanced && !bothSimple
			default:
				return false
			}
		},
		status, status,
	))

	properties.TestingRun(t)
}

func TestRegionRisk_Properties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	type raw struct {
		id     string
		region string
	}
	rowGen := gopter.CombineGens(
		gen.OneConstOf("1", "2", "3", "4"),
		gen.OneConstOf("LU", "NON LU", ""),
	).Map(func(v []interface{}) raw {
		return raw{id: v[0].(string), region: v[1].(string)}
	})

	properties.Property("NON LU iff any row of the client is NON LU", prop.ForAll(
		func(rows []raw) bool {
			tbl := dataset.MustNew(SurveyInputColumns...)
			for _, r := range rows {
				if err := tbl.AppendMap(map[string]dataset.Value{
					survey.ColSurveyID: dataset.FromCell(r.id),
					survey.ColRegion:   dataset.FromCell(r.region),
				}); err != nil {
					return false
				}
			}
			records, err := NewNormalizer(nil).Normalize(context.Background(), tbl)
			if err != nil {
				return false
			}
			for i, rec := range records {
				want := "LU"
				for _, other := range rows {
					if other.id == rows[i].id && other.region == "NON LU" {
						want = "NON LU"
					}
				}
				if rec.RegionRisk != want {
					return false
				}
			}
			return true
		},
		gen.SliceOf(rowGen),
	))

	properties.TestingRun(t)
}
