// Package watchlist extracts the high-risk clients from scored survey records.
package watchlist

import (
	"context"

	"go.uber.org/zap"

	"kycrisk/internal/logging"
	"kycrisk/survey"
)

// Result is the watchlist and the clients whose rows did not agree
type Result struct {
	// Clients holds one record per High client, first-seen, in input order
	Clients []survey.ScoredRecord
	// Inconsistent lists SURVEY_IDs whose rows carry different scores
	Inconsistent []string
}

// Extractor selects the High tier clients
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logging.OrNop(logger)}
}

// Extract keeps the first row of every SURVEY_ID and returns those in the High tier.
// Clients whose later rows disagree with the first row are reported, not resolved.
// No High client gives an empty result, not an error.
func (e *Extractor) Extract(ctx context.Context, scored []survey.ScoredRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	first := make(map[string]survey.ScoredRecord, len(scored))
	flagged := make(map[string]bool)
	var (
		order        []string
		inconsistent []string
	)
	for _, r := range scored {
		key := r.SurveyID.Key()
		seen, ok := first[key]
		if !ok {
			first[key] = r
			order = append(order, key)
			continue
		}
		if (seen.RiskScore != r.RiskScore || seen.RiskCategory != r.RiskCategory) && !flagged[key] {
			flagged[key] = true
			inconsistent = append(inconsistent, key)
		}
	}

	result := Result{Clients: []survey.ScoredRecord{}, Inconsistent: inconsistent}
	for _, key := range order {
		if r := first[key]; r.RiskCategory == survey.RiskHigh {
			result.Clients = append(result.Clients, r)
		}
	}

	if len(inconsistent) > 0 {
		e.logger.Warn("clients with disagreeing rows; first row kept",
			zap.Strings("survey_ids", inconsistent),
		)
	}
	e.logger.Info("high-risk clients extracted",
		zap.Int("clients", len(order)),
		zap.Int("high_risk", len(result.Clients)),
	)
	return result, nil
}
