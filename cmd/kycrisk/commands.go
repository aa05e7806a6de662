package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "kycrisk/internal/errors"
	"kycrisk/pipeline"
	"kycrisk/scoring"
)

var runsLimit int

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the five extracts into merged_data.xlsx",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		_, res, err := p.Merge(cmd.Context())
		if err != nil {
			return err
		}
		return renderStages(os.Stdout, []pipeline.StageResult{res})
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Derive the normalized snapshot from the merged table",
	Long: `Derives the normalized snapshot from merged_data.xlsx.

An existing risk_analysis_processed_data.xlsx is reused unless --force is set
or FORCE_RECOMPUTE=true.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		_, res, err := p.Normalize(cmd.Context())
		if err != nil {
			return err
		}
		return renderStages(os.Stdout, []pipeline.StageResult{res})
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score the normalized snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		records, err := p.Store().LoadNormalized()
		if err != nil {
			return apperrors.WrapError(err, pipeline.StageScore)
		}
		scored, res, err := p.Score(cmd.Context(), records)
		if err != nil {
			return err
		}
		if err := renderStages(os.Stdout, []pipeline.StageResult{res}); err != nil {
			return err
		}
		return renderTiers(os.Stdout, scoring.TierCounts(scored))
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Write the high-risk watchlist from the scored snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		scored, err := p.Store().LoadScored()
		if err != nil {
			return apperrors.WrapError(err, pipeline.StageExtract)
		}
		result, res, err := p.ExtractHighRisk(cmd.Context(), scored)
		if err != nil {
			return err
		}
		if err := renderStages(os.Stdout, []pipeline.StageResult{res}); err != nil {
			return err
		}
		warnInconsistent(result.Inconsistent)
		return renderWatchlist(os.Stdout, result.Clients)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the sector tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		scored, err := p.Store().LoadScored()
		if err != nil {
			return apperrors.WrapError(err, pipeline.StageReport)
		}
		files, res, err := p.Report(cmd.Context(), scored)
		if err != nil {
			return err
		}
		if err := renderStages(os.Stdout, []pipeline.StageResult{res}); err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		summary, err := p.Run(cmd.Context())
		if err != nil {
			return err
		}
		return renderSummary(os.Stdout, summary)
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain SURVEY_ID",
	Short: "Show the score of one client and the rules that fired",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		rows, err := p.Explain(args[0])
		if err != nil {
			return err
		}
		return renderExplain(os.Stdout, rows)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs",
	Long:  "Lists the runs recorded in the snapshot database (SNAPSHOT_DATABASE_PATH).",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.SnapshotDatabasePath == "" {
			return apperrors.NewInvalidConfigError("no snapshot database configured", nil).
				WithContext("snapshot_database_path")
		}
		db, err := openSnapshotDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		return renderRuns(os.Stdout, runs)
	},
}
