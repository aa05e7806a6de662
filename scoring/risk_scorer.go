// Package scoring assigns the additive risk score and tier to normalized survey records.
package scoring

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kycrisk/internal/logging"
	"kycrisk/survey"
)

// TransactionThreshold is the transaction count a client must exceed to score the volume point
const TransactionThreshold = 61

var transactionThreshold = decimal.NewFromInt(TransactionThreshold)

// Rule is one risk indicator worth one point
type Rule struct {
	Name    string
	Applies func(survey.NormalizedRecord) bool
}

// Rules are evaluated independently. A missing input never fires a rule.
var Rules = []Rule{
	{"refusal", func(r survey.NormalizedRecord) bool {
		return r.Refusal == survey.FlagYes
	}},
	{"termination", func(r survey.NormalizedRecord) bool {
		return r.Termination == survey.FlagYes
	}},
	{"identification_risk", func(r survey.NormalizedRecord) bool {
		return r.IdentificationCompliance == survey.IdentificationRisk
	}},
	{"archiving_non_compliant", func(r survey.NormalizedRecord) bool {
		return r.ArchivingCompliance == survey.ArchivingNonCompliant
	}},
	{"region_non_lu", func(r survey.NormalizedRecord) bool {
		return r.RegionRisk == survey.RegionNonLU
	}},
	{"cash_payment", func(r survey.NormalizedRecord) bool {
		return r.PaymentMethod.Is(survey.PaymentCash)
	}},
	{"high_risk_revenue", func(r survey.NormalizedRecord) bool {
		return r.RevenueKind.In(survey.HighRiskRevenueKinds...)
	}},
	{"high_transaction_volume", func(r survey.NormalizedRecord) bool {
		return r.Transactions != nil && decimal.NewFromFloat(*r.Transactions).GreaterThan(transactionThreshold)
	}},
}

// MaxScore is the score of a record on which every rule fires
var MaxScore = len(Rules)

// Evaluate returns the number of rules that fire and their names in rule order
func Evaluate(r survey.NormalizedRecord) (int, []string) {
	signals := make([]string, 0, len(Rules))
	for _, rule := range Rules {
		if rule.Applies(r) {
			signals = append(signals, rule.Name)
		}
	}
	return len(signals), signals
}

// Categorize maps a score to its tier: at most 1 Low, 2 to 3 Medium, above 3 High.
// Negative scores cannot occur and map to Unknown.
func Categorize(score int) survey.RiskCategory {
	switch {
	case score < 0:
		return survey.RiskUnknown
	case score <= 1:
		return survey.RiskLow
	case score <= 3:
		return survey.RiskMedium
	default:
		return survey.RiskHigh
	}
}

// Scorer scores records one by one; records do not influence each other
type Scorer struct {
	logger *zap.Logger
}

// NewScorer creates a scorer
func NewScorer(logger *zap.Logger) *Scorer {
	return &Scorer{logger: logging.OrNop(logger)}
}

// Score returns the scored records in input order
func (s *Scorer) Score(ctx context.Context, records []survey.NormalizedRecord) ([]survey.ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scored := make([]survey.ScoredRecord, len(records))
	tiers := make(map[survey.RiskCategory]int, len(survey.RiskCategories))
	for i, r := range records {
		score, signals := Evaluate(r)
		category := Categorize(score)
		scored[i] = survey.ScoredRecord{
			NormalizedRecord: r,
			RiskScore:        score,
			RiskCategory:     category,
			Signals:          signals,
		}
		tiers[category]++
	}

	s.logger.Info("risk scores computed",
		zap.Int("rows", len(scored)),
		zap.Int("low", tiers[survey.RiskLow]),
		zap.Int("medium", tiers[survey.RiskMedium]),
		zap.Int("high", tiers[survey.RiskHigh]),
	)
	return scored, nil
}

// TierCounts counts records per tier
func TierCounts(scored []survey.ScoredRecord) map[survey.RiskCategory]int {
	counts := make(map[survey.RiskCategory]int, len(survey.RiskCategories))
	for _, r := range scored {
		counts[r.RiskCategory]++
	}
	return counts
}
