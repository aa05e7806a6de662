package scoring

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycrisk/dataset"
	"kycrisk/survey"
)

func tx(f float64) *float64 { return &f }

func safeRecord() survey.NormalizedRecord {
	return survey.NormalizedRecord{
		SurveyID:                 dataset.String("1"),
		Sector:                   dataset.String("SERVICE"),
		RegionRisk:               survey.RegionLU,
		Refusal:                  survey.FlagNo,
		Termination:              survey.FlagNo,
		IdentificationCompliance: survey.IdentificationAdvanced,
		ArchivingCompliance:      survey.ArchivingCompliant,
		PaymentMethod:            dataset.String("VIREMENT"),
		RevenueKind:              dataset.String("SALAIRE"),
		Transactions:             tx(3),
	}
}

func TestEvaluate_EndToEndClientScoresSix(t *testing.T) {
	r := survey.NormalizedRecord{
		SurveyID:                 dataset.String("1"),
		RegionRisk:               survey.RegionNonLU,
		Refusal:                  survey.FlagYes,
		Termination:              survey.FlagNo,
		IdentificationCompliance: survey.IdentificationRisk,
		ArchivingCompliance:      survey.ArchivingCompliant,
		PaymentMethod:            dataset.String("CASH"),
		RevenueKind:              dataset.String("SERV_FONCTION"),
		Transactions:             tx(70),
	}

	score, signals := Evaluate(r)
	assert.Equal(t, 6, score)
	assert.Equal(t, []string{
		"refusal", "identification_risk", "region_non_lu",
		"cash_payment", "high_risk_revenue", "high_transaction_volume",
	}, signals)
	assert.Equal(t, survey.RiskHigh, Categorize(score))
}

func TestEvaluate_SafeClientScoresZero(t *testing.T) {
	score, signals := Evaluate(safeRecord())
	assert.Equal(t, 0, score)
	assert.Empty(t, signals)
	assert.Equal(t, survey.RiskLow, Categorize(score))
}

func TestEvaluate_MissingValuesNeverFire(t *testing.T) {
	r := safeRecord()
	r.PaymentMethod = dataset.Null
	r.RevenueKind = dataset.Null
	r.Transactions = nil

	score, _ := Evaluate(r)
	assert.Equal(t, 0, score)
}

func TestEvaluate_TransactionThresholdIsStrict(t *testing.T) {
	r := safeRecord()
	r.Transactions = tx(61)
	score, _ := Evaluate(r)
	assert.Equal(t, 0, score)

	r.Transactions = tx(62)
	score, _ = Evaluate(r)
	assert.Equal(t, 1, score)
}

func TestCategorize_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  survey.RiskCategory
	}{
		{0, survey.RiskLow},
		{1, survey.RiskLow},
		{2, survey.RiskMedium},
		{3, survey.RiskMedium},
		{4, survey.RiskHigh},
		{8, survey.RiskHigh},
		{-1, survey.RiskUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.score), "score %d", tt.score)
	}
}

func TestScorer_IsIdempotentAndOrderPreserving(t *testing.T) {
	high := safeRecord()
	high.SurveyID = dataset.String("2")
	high.Refusal = survey.FlagYes
	high.Termination = survey.FlagYes
	high.RegionRisk = survey.RegionNonLU
	high.PaymentMethod = dataset.String("CASH")

	records := []survey.NormalizedRecord{safeRecord(), high}
	scorer := NewScorer(nil)

	first, err := scorer.Score(context.Background(), records)
	require.NoError(t, err)
	second, err := scorer.Score(context.Background(), records)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second))
	assert.Equal(t, "1", first[0].SurveyID.Str())
	assert.Equal(t, 4, first[1].RiskScore)
	assert.Equal(t, survey.RiskHigh, first[1].RiskCategory)

	counts := TierCounts(first)
	assert.Equal(t, 1, counts[survey.RiskLow])
	assert.Equal(t, 1, counts[survey.RiskHigh])
}

func genRecord() gopter.Gen {
	nullable := func(values ...interface{}) gopter.Gen {
		return gen.OneConstOf(values...).Map(func(s string) dataset.Value { return dataset.FromCell(s) })
	}
	return gopter.CombineGens(
		gen.OneConstOf("Y", "N", "maybe"),
		gen.OneConstOf("Y", "N"),
		gen.OneConstOf(survey.IdentificationAdvanced, survey.IdentificationSimple, survey.IdentificationRisk, survey.IdentificationNA),
		gen.OneConstOf(survey.ArchivingCompliant, survey.ArchivingNonCompliant),
		gen.OneConstOf(survey.RegionLU, survey.RegionNonLU),
		nullable("CASH", "VIREMENT", ""),
		nullable("SERV_CREATION_S", "SERV_FONCTION", "SERV_VIRTUEL", "SALAIRE", ""),
		gen.Bool(),
		gen.Float64Range(0, 200),
	).Map(func(v []interface{}) survey.NormalizedRecord {
		var transactions *float64
		if v[7].(bool) {
			f := v[8].(float64)
			transactions = &f
		}
		return survey.NormalizedRecord{
			SurveyID:                 dataset.String("1"),
			Refusal:                  v[0].(string),
			Termination:              v[1].(string),
			IdentificationCompliance: v[2].(survey.IdentificationCompliance),
			ArchivingCompliance:      v[3].(string),
			RegionRisk:               v[4].(string),
			PaymentMethod:            v[5].(dataset.Value),
			RevenueKind:              v[6].(dataset.Value),
			Transactions:             transactions,
		}
	})
}

func TestScore_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("score stays within 0 and 8", prop.ForAll(
		func(r survey.NormalizedRecord) bool {
			score, _ := Evaluate(r)
			return score >= 0 && score <= MaxScore
		},
		genRecord(),
	))

	properties.Property("score equals the number of rules that hold", prop.ForAll(
		func(r survey.NormalizedRecord) bool {
			want := 0
			for _, rule := range Rules {
				if rule.Applies(r) {
					want++
				}
			}
			score, signals := Evaluate(r)
			return score == want && len(signals) == want
		},
		genRecord(),
	))

	properties.Property("category is never Unknown for a computed score", prop.ForAll(
		func(r survey.NormalizedRecord) bool {
			score, _ := Evaluate(r)
			return Categorize(score) != survey.RiskUnknown
		},
		genRecord(),
	))

	properties.TestingRun(t)
}
