package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycrisk/database"
	"kycrisk/dataset"
	"kycrisk/importer"
	"kycrisk/internal/config"
	apperrors "kycrisk/internal/errors"
	"kycrisk/internal/surveytest"
	"kycrisk/metrics"
	"kycrisk/survey"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.GetDefaults()
	cfg.RawDataDir = filepath.Join(root, "raw")
	cfg.ProcessedDataDir = filepath.Join(root, "processed")
	cfg.OutputDir = filepath.Join(root, "OUTPUT")
	return cfg
}

func writeExtracts(t *testing.T, cfg *config.Config, e surveytest.Extracts) {
	t.Helper()
	require.NoError(t, e.Write(cfg.RawDataDir, cfg.Sources))
}

func newPipeline(t *testing.T, cfg *config.Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return p
}

func scoreOf(t *testing.T, p *Pipeline, id string) int {
	t.Helper()
	rows, err := p.Explain(id)
	require.NoError(t, err)
	return rows[0].RiskScore
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(
		surveytest.HighRiskClient("1"),
		surveytest.SafeClient("2"),
		surveytest.HighRiskClient("3"),
	))
	p := newPipeline(t, cfg)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Stages, len(Stages))
	for i, res := range summary.Stages {
		assert.Equal(t, Stages[i], res.Stage)
		assert.False(t, res.Skipped)
	}
	assert.Equal(t, 2, summary.Watchlist)
	assert.Equal(t, 2, summary.Tiers[survey.RiskHigh])
	assert.Equal(t, 1, summary.Tiers[survey.RiskLow])
	assert.Len(t, summary.Reports, 7)
	assert.Empty(t, summary.RunID)

	for _, path := range append(p.Store().ProcessedArtifacts(), p.Store().WatchlistPath()) {
		assert.FileExists(t, path)
	}
	for _, path := range summary.Reports {
		assert.FileExists(t, path)
	}

	scored, err := p.Store().LoadScored()
	require.NoError(t, err)
	require.Len(t, scored, 3)
	assert.Equal(t, 6, scored[0].RiskScore)
	assert.Equal(t, survey.RiskHigh, scored[0].RiskCategory)
	assert.Equal(t, 0, scored[1].RiskScore)
}

func TestRun_NormalizedSnapshotIsReusedUntilForced(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(surveytest.HighRiskClient("1")))

	_, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)

	// the extracts change but the normalized snapshot is still there
	writeExtracts(t, cfg, surveytest.Build(surveytest.SafeClient("1")))

	p := newPipeline(t, cfg)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Stages[1].Skipped)
	assert.Equal(t, 6, scoreOf(t, p, "1"))

	cfg.ForceRecompute = true
	p = newPipeline(t, cfg)
	summary, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Stages[1].Skipped)
	assert.Equal(t, 0, scoreOf(t, p, "1"))
	assert.Equal(t, 0, summary.Watchlist)
}

func TestRun_MissingExtractStopsBeforeAnyArtifact(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(surveytest.HighRiskClient("1")))
	require.NoError(t, os.Remove(filepath.Join(cfg.RawDataDir, cfg.Sources.Payment)))
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
	assert.Equal(t, StageMerge, apperrors.StageOf(err))
	assert.Equal(t, 2, apperrors.ExitCode(err))
	assert.Contains(t, err.Error(), "payment extract: ")

	for _, path := range append(p.Store().ProcessedArtifacts(), p.Store().WatchlistPath()) {
		assert.NoFileExists(t, path)
	}
}

func TestRun_SchemaMismatchStopsDownstream(t *testing.T) {
	cfg := testConfig(t)
	e := surveytest.Build(surveytest.HighRiskClient("1"))
	softCheck := dataset.MustNew(survey.ColSurveyID, "ZONE")
	require.NoError(t, softCheck.Append(dataset.String("1"), dataset.String("NORD")))
	e.SoftCheck = softCheck
	writeExtracts(t, cfg, e)
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)
	assert.Equal(t, StageNormalize, apperrors.StageOf(err))

	assert.FileExists(t, p.Store().MergedPath())
	assert.NoFileExists(t, p.Store().NormalizedPath())
	assert.NoFileExists(t, p.Store().ScoredPath())
	assert.NoFileExists(t, p.Store().WatchlistPath())
}

func TestRun_CancelledContext(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(surveytest.SafeClient("1")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, cfg).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_RecordsSnapshotAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsTextfile = filepath.Join(t.TempDir(), "kycrisk.prom")
	writeExtracts(t, cfg, surveytest.Build(
		surveytest.HighRiskClient("1"),
		surveytest.SafeClient("2"),
	))

	db, err := database.NewSnapshotDB(filepath.Join(t.TempDir(), "snapshot.db"), database.DBConfig{}, nil)
	require.NoError(t, err)
	defer db.Close()

	p := newPipeline(t, cfg, WithSnapshotDB(db), WithMetrics(metrics.New()))
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)

	ctx := context.Background()
	runs, err := db.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, database.RunSucceeded, runs[0].Status)
	assert.Equal(t, 2, runs[0].ScoredRows)
	assert.Equal(t, 1, runs[0].HighRiskClients)

	entries, err := db.GetWatchlist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].SurveyID)

	n, err := db.CountScored(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw, err := os.ReadFile(cfg.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "kycrisk_watchlist_size 1")
}

func TestRun_FailedRunIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	db, err := database.NewSnapshotDB(":memory:", database.DBConfig{}, nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = newPipeline(t, cfg, WithSnapshotDB(db)).Run(context.Background())
	require.Error(t, err)

	runs, err := db.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunFailed, runs[0].Status)
	assert.Equal(t, StageMerge, runs[0].FailedStage)
	assert.NotEmpty(t, runs[0].Error)
}

func TestOpenMerged_Projection(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(surveytest.HighRiskClient("1")))
	p := newPipeline(t, cfg)
	_, _, err := p.Merge(context.Background())
	require.NoError(t, err)

	projected, err := p.OpenMerged(survey.ColSector, survey.ColSurveyID)
	require.NoError(t, err)
	assert.Equal(t, []string{survey.ColSector, survey.ColSurveyID}, projected.Columns())
	assert.Equal(t, "IMMO", projected.Get(0, survey.ColSector).Str())

	_, err = p.OpenMerged("NOT_A_COLUMN")
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)
}

func TestExplain(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(surveytest.HighRiskClient("1")))
	p := newPipeline(t, cfg)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	rows, err := p.Explain("1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{
		"refusal", "identification_risk", "region_non_lu",
		"cash_payment", "high_risk_revenue", "high_transaction_volume",
	}, rows[0].Signals)

	_, err = p.Explain("404")
	assert.ErrorIs(t, err, apperrors.ErrMissingKey)
}

func TestWatchlistFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.WatchlistFormat = "json"
	writeExtracts(t, cfg, surveytest.Build(surveytest.HighRiskClient("1")))
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ".json", filepath.Ext(p.Store().WatchlistPath()))

	raw, err := os.ReadFile(p.Store().WatchlistPath())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"SIGNALS"`)
}

func TestNew_RejectsUnknownWatchlistFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.WatchlistFormat = "pdf"
	_, err := New(cfg)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func TestFileStore_Clear(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(surveytest.SafeClient("1")))
	p := newPipeline(t, cfg)
	_, _, err := p.Merge(context.Background())
	require.NoError(t, err)

	removed, err := p.Store().Clear()
	require.NoError(t, err)
	assert.Equal(t, []string{p.Store().MergedPath()}, removed)
	assert.NoFileExists(t, p.Store().MergedPath())
}

func TestRun_LongNumericSurveyIDsStayDistinct(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(
		surveytest.HighRiskClient("1234567890123456"),
		surveytest.SafeClient("1234567890123457"),
	))
	p := newPipeline(t, cfg)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Tiers[survey.RiskHigh])
	assert.Equal(t, 1, summary.Tiers[survey.RiskLow])

	scored, err := p.Store().LoadScored()
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "1234567890123456", scored[0].SurveyID.Str())
	assert.Equal(t, "1234567890123457", scored[1].SurveyID.Str())

	rows, err := p.Explain("1234567890123457")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, survey.RegionLU, rows[0].RegionRisk)
	assert.Equal(t, survey.RiskLow, rows[0].RiskCategory)
	assert.Empty(t, rows[0].Signals)
}

func TestExtractHighRisk_FromStoredScoresKeepsSignals(t *testing.T) {
	cfg := testConfig(t)
	cfg.WatchlistFormat = "csv"
	writeExtracts(t, cfg, surveytest.Build(
		surveytest.HighRiskClient("1"),
		surveytest.SafeClient("2"),
	))
	p := newPipeline(t, cfg)
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(p.Store().WatchlistPath()))

	scored, err := p.Store().LoadScored()
	require.NoError(t, err)
	result, _, err := p.ExtractHighRisk(context.Background(), scored)
	require.NoError(t, err)
	require.Len(t, result.Clients, 1)

	written, err := importer.ReadTable(p.Store().WatchlistPath())
	require.NoError(t, err)
	require.Equal(t, 1, written.Len())
	assert.Equal(t,
		"refusal, identification_risk, region_non_lu, cash_payment, high_risk_revenue, high_transaction_volume",
		written.Get(0, ColSignals).Str(),
	)
}

func TestMerge_UnchangedSourcesGiveIdenticalOutput(t *testing.T) {
	cfg := testConfig(t)
	writeExtracts(t, cfg, surveytest.Build(surveytest.Random(40, 7)...))
	p := newPipeline(t, cfg)

	mergedRows := func() ([]string, [][]dataset.Value) {
		_, _, err := p.Merge(context.Background())
		require.NoError(t, err)
		merged, err := p.OpenMerged()
		require.NoError(t, err)
		rows := make([][]dataset.Value, merged.Len())
		for i := range rows {
			rows[i] = merged.Row(i).Values()
		}
		return merged.Columns(), rows
	}

	firstCols, firstRows := mergedRows()
	secondCols, secondRows := mergedRows()

	require.Len(t, firstRows, 40)
	assert.Empty(t, cmp.Diff(firstCols, secondCols))
	assert.Empty(t, cmp.Diff(firstRows, secondRows))
}
