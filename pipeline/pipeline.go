// Package pipeline chains the batch stages and owns their artifacts.
//
// Each stage reads its input from the file store (or from the previous stage
// when run through Run), writes its artifact atomically and reports a
// StageResult. A failing stage is wrapped with its name and stops the run, so
// nothing downstream of it is written.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kycrisk/database"
	"kycrisk/dataset"
	"kycrisk/internal/config"
	apperrors "kycrisk/internal/errors"
	"kycrisk/internal/logging"
	"kycrisk/merge"
	"kycrisk/metrics"
	"kycrisk/normalization"
	"kycrisk/reporting"
	"kycrisk/scoring"
	"kycrisk/survey"
	"kycrisk/watchlist"
)

// Stage names
const (
	StageMerge     = "merge"
	StageNormalize = "normalize"
	StageScore     = "score"
	StageExtract   = "extract"
	StageReport    = "report"
)

// Stages lists the stages in execution order
var Stages = []string{StageMerge, StageNormalize, StageScore, StageExtract, StageReport}

// StageResult describes one stage execution
type StageResult struct {
	Stage    string        `json:"stage"`
	Rows     int           `json:"rows"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped"`
	Artifact string        `json:"artifact,omitempty"`
}

// RunSummary is the outcome of a full run
type RunSummary struct {
	RunID        string                      `json:"run_id,omitempty"`
	Stages       []StageResult               `json:"stages"`
	Tiers        map[survey.RiskCategory]int `json:"tiers"`
	Watchlist    int                         `json:"watchlist"`
	Inconsistent []string                    `json:"inconsistent,omitempty"`
	Reports      []string                    `json:"reports,omitempty"`
}

// SnapshotStore mirrors the scored rows and the watchlist and keeps the run ledger
type SnapshotStore interface {
	BeginRun(ctx context.Context, configJSON string) (string, error)
	FinishRun(ctx context.Context, runID string, outcome database.RunOutcome) error
	ReplaceScored(ctx context.Context, runID string, records []survey.ScoredRecord) error
	ReplaceWatchlist(ctx context.Context, runID string, clients []survey.ScoredRecord) error
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger shared by every stage
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrNop(logger) }
}

// WithMetrics records stage metrics and writes them to the configured textfile
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSnapshotDB mirrors scored rows and the watchlist into SQLite and keeps the run ledger
func WithSnapshotDB(db SnapshotStore) Option {
	return func(p *Pipeline) { p.db = db }
}

// Pipeline runs the batch stages for one configuration
type Pipeline struct {
	cfg     *config.Config
	store   *FileStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	db      SnapshotStore
}

// New builds a pipeline. The configuration must have been validated.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	store, err := NewFileStore(cfg)
	if err != nil {
		return nil, apperrors.NewInvalidConfigError("invalid watchlist format", err)
	}
	p := &Pipeline{
		cfg:    cfg,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Store exposes the artifact locations
func (p *Pipeline) Store() *FileStore {
	return p.store
}

// Merge reads the five extracts, merges them and stores merged_data.xlsx
func (p *Pipeline) Merge(ctx context.Context) (*dataset.Table, StageResult, error) {
	start := time.Now()
	merger := merge.NewMerger(p.cfg.DuplicateSuffix, p.logger)

	merged, err := merger.MergeFiles(ctx, p.cfg.RawDataDir, p.cfg.Sources)
	if err != nil {
		return nil, StageResult{}, p.fail(StageMerge, err)
	}
	if err := p.store.SaveMerged(merged); err != nil {
		return nil, StageResult{}, p.fail(StageMerge, err)
	}
	return merged, p.done(StageMerge, merged.Len(), start, false, p.store.MergedPath()), nil
}

// OpenMerged loads the stored merged table, projected on columns when any are given
func (p *Pipeline) OpenMerged(columns ...string) (*dataset.Table, error) {
	merged, err := p.store.LoadMerged()
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return merged, nil
	}
	return merged.Select(columns...)
}

// Normalize derives the normalized snapshot from the stored merged table.
// An existing snapshot is reused unless ForceRecompute is set.
func (p *Pipeline) Normalize(ctx context.Context) ([]survey.NormalizedRecord, StageResult, error) {
	start := time.Now()

	if !p.cfg.ForceRecompute && p.store.Exists(p.store.NormalizedPath()) {
		records, err := p.store.LoadNormalized()
		if err != nil {
			return nil, StageResult{}, p.fail(StageNormalize, err)
		}
		p.logger.Info("normalized snapshot reused",
			zap.String("path", p.store.NormalizedPath()),
			zap.Int("rows", len(records)),
		)
		return records, p.done(StageNormalize, len(records), start, true, p.store.NormalizedPath()), nil
	}

	merged, err := p.OpenMerged(normalization.SurveyInputColumns...)
	if err != nil {
		return nil, StageResult{}, p.fail(StageNormalize, err)
	}
	records, err := normalization.NewNormalizer(p.logger).Normalize(ctx, merged)
	if err != nil {
		return nil, StageResult{}, p.fail(StageNormalize, err)
	}
	if err := p.store.SaveNormalized(records); err != nil {
		return nil, StageResult{}, p.fail(StageNormalize, err)
	}
	return records, p.done(StageNormalize, len(records), start, false, p.store.NormalizedPath()), nil
}

// Score scores records and stores risk_analysis_scores.xlsx
func (p *Pipeline) Score(ctx context.Context, records []survey.NormalizedRecord) ([]survey.ScoredRecord, StageResult, error) {
	start := time.Now()

	scored, err := scoring.NewScorer(p.logger).Score(ctx, records)
	if err != nil {
		return nil, StageResult{}, p.fail(StageScore, err)
	}
	if err := p.store.SaveScored(scored); err != nil {
		return nil, StageResult{}, p.fail(StageScore, err)
	}
	if p.metrics != nil {
		p.metrics.SetTiers(tierLabels(scoring.TierCounts(scored)))
	}
	return scored, p.done(StageScore, len(scored), start, false, p.store.ScoredPath()), nil
}

// ExtractHighRisk writes the deduplicated High tier to the watchlist file
func (p *Pipeline) ExtractHighRisk(ctx context.Context, scored []survey.ScoredRecord) (watchlist.Result, StageResult, error) {
	start := time.Now()

	result, err := watchlist.NewExtractor(p.logger).Extract(ctx, scored)
	if err != nil {
		return watchlist.Result{}, StageResult{}, p.fail(StageExtract, err)
	}
	if err := p.store.SaveWatchlist(result.Clients); err != nil {
		return watchlist.Result{}, StageResult{}, p.fail(StageExtract, err)
	}
	return result, p.done(StageExtract, len(result.Clients), start, false, p.store.WatchlistPath()), nil
}

// Report writes the sector tables from the stored merged table and scored records
func (p *Pipeline) Report(ctx context.Context, scored []survey.ScoredRecord) ([]string, StageResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, StageResult{}, p.fail(StageReport, err)
	}
	merged, err := p.OpenMerged()
	if err != nil {
		return nil, StageResult{}, p.fail(StageReport, err)
	}
	reports, err := reporting.Build(merged, scored)
	if err != nil {
		return nil, StageResult{}, p.fail(StageReport, err)
	}

	files := make([]string, 0, len(reports))
	for _, r := range reports {
		if err := p.store.SaveReport(r); err != nil {
			return nil, StageResult{}, p.fail(StageReport, err)
		}
		files = append(files, p.store.ReportPath(r.File))
	}
	return files, p.done(StageReport, len(reports), start, false, p.store.TablesPath()), nil
}

// Explain returns the stored scored rows of one client with the rules that fired.
// Signals are restored by LoadScored.
func (p *Pipeline) Explain(surveyID string) ([]survey.ScoredRecord, error) {
	scored, err := p.store.LoadScored()
	if err != nil {
		return nil, err
	}
	var out []survey.ScoredRecord
	for _, r := range scored {
		if r.SurveyID.Key() == surveyID {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.NewMissingKeyError(
			fmt.Sprintf("survey %s not found in %s", surveyID, ScoredFile), nil,
		).WithContext(surveyID)
	}
	return out, nil
}

// Run executes every stage in order. The first failure stops the run.
func (p *Pipeline) Run(ctx context.Context) (summary RunSummary, err error) {
	summary.Tiers = map[survey.RiskCategory]int{}

	if p.db != nil {
		runID, dbErr := p.db.BeginRun(ctx, p.cfg.JSON())
		if dbErr != nil {
			return summary, apperrors.NewInternalError("cannot record run", dbErr)
		}
		summary.RunID = runID
		defer func() { p.finishRun(summary, err) }()
	}
	defer p.writeMetrics()

	p.logger.Info("pipeline started",
		zap.String("run_id", summary.RunID),
		zap.Bool("force_recompute", p.cfg.ForceRecompute),
	)

	_, res, err := p.Merge(ctx)
	if err != nil {
		return summary, err
	}
	summary.Stages = append(summary.Stages, res)

	if err := p.checkContext(ctx, StageNormalize); err != nil {
		return summary, err
	}
	normalized, res, err := p.Normalize(ctx)
	if err != nil {
		return summary, err
	}
	summary.Stages = append(summary.Stages, res)

	if err := p.checkContext(ctx, StageScore); err != nil {
		return summary, err
	}
	scored, res, err := p.Score(ctx, normalized)
	if err != nil {
		return summary, err
	}
	summary.Stages = append(summary.Stages, res)
	summary.Tiers = scoring.TierCounts(scored)
	if p.db != nil {
		if err := p.db.ReplaceScored(ctx, summary.RunID, scored); err != nil {
			return summary, p.fail(StageScore, err)
		}
	}

	if err := p.checkContext(ctx, StageExtract); err != nil {
		return summary, err
	}
	result, res, err := p.ExtractHighRisk(ctx, scored)
	if err != nil {
		return summary, err
	}
	summary.Stages = append(summary.Stages, res)
	summary.Watchlist = len(result.Clients)
	summary.Inconsistent = result.Inconsistent
	if p.db != nil {
		if err := p.db.ReplaceWatchlist(ctx, summary.RunID, result.Clients); err != nil {
			return summary, p.fail(StageExtract, err)
		}
	}

	if err := p.checkContext(ctx, StageReport); err != nil {
		return summary, err
	}
	reports, res, err := p.Report(ctx, scored)
	if err != nil {
		return summary, err
	}
	summary.Stages = append(summary.Stages, res)
	summary.Reports = reports

	if p.metrics != nil {
		p.metrics.MarkSuccess(summary.Watchlist, time.Now())
	}
	p.logger.Info("pipeline finished",
		zap.String("run_id", summary.RunID),
		zap.Int("scored_rows", len(scored)),
		zap.Int("high_risk_clients", summary.Watchlist),
	)
	return summary, nil
}

func (p *Pipeline) checkContext(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return p.fail(stage, err)
	}
	return nil
}

// fail wraps err with the stage, logs it and counts it
func (p *Pipeline) fail(stage string, err error) error {
	wrapped := apperrors.WrapError(err, stage)
	p.logger.Error("stage failed",
		zap.String("stage", stage),
		zap.String("kind", string(wrapped.Kind)),
		zap.String("context", wrapped.Context),
		zap.Error(err),
	)
	if p.metrics != nil {
		p.metrics.ObserveError(stage, string(wrapped.Kind))
	}
	return wrapped
}

func (p *Pipeline) done(stage string, rows int, start time.Time, skipped bool, artifact string) StageResult {
	res := StageResult{
		Stage:    stage,
		Rows:     rows,
		Duration: time.Since(start),
		Skipped:  skipped,
		Artifact: artifact,
	}
	p.logger.Info("stage completed",
		zap.String("stage", stage),
		zap.Int("rows", rows),
		zap.Duration("duration", res.Duration),
		zap.Bool("skipped", skipped),
	)
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, rows, res.Duration, skipped)
	}
	return res
}

// finishRun stores the run outcome. The run context may already be cancelled.
func (p *Pipeline) finishRun(summary RunSummary, runErr error) {
	outcome := database.RunOutcome{
		Status:          database.RunSucceeded,
		HighRiskClients: summary.Watchlist,
	}
	for _, n := range summary.Tiers {
		outcome.ScoredRows += n
	}
	if runErr != nil {
		outcome.Status = database.RunFailed
		outcome.FailedStage = apperrors.StageOf(runErr)
		outcome.Err = runErr
	}
	if err := p.db.FinishRun(context.Background(), summary.RunID, outcome); err != nil {
		p.logger.Warn("failed to record run outcome", zap.String("run_id", summary.RunID), zap.Error(err))
	}
}

func (p *Pipeline) writeMetrics() {
	if p.metrics == nil || p.cfg.MetricsTextfile == "" {
		return
	}
	if err := p.metrics.WriteTextfile(p.cfg.MetricsTextfile); err != nil {
		p.logger.Warn("failed to write metrics", zap.Error(err))
	}
}

func tierLabels(counts map[survey.RiskCategory]int) map[string]int {
	out := make(map[string]int, len(counts))
	for tier, n := range counts {
		out[string(tier)] = n
	}
	return out
}
