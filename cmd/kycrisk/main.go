package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kycrisk/database"
	"kycrisk/internal/config"
	apperrors "kycrisk/internal/errors"
	"kycrisk/internal/logging"
	"kycrisk/metrics"
	"kycrisk/pipeline"
)

var (
	// Global flags
	configPath string
	force      bool
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kycrisk",
	Short: "KYC survey risk pipeline",
	Long: `kycrisk merges the five KYC survey extracts, derives compliance
indicators, scores every client and writes the high-risk watchlist and the
sector tables.

Configuration comes from defaults, then the optional --config YAML file, then
environment variables (RAW_DATA_DIR, PROCESSED_DATA_DIR, OUTPUT_DIR, ...).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("force") {
			loaded.ForceRecompute = force
		}
		if verbose {
			loaded.LogLevel = "DEBUG"
		}
		cfg = loaded

		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return apperrors.NewInvalidConfigError("failed to initialize logger", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "recompute the normalized snapshot even when it exists")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")

	rootCmd.AddCommand(mergeCmd, normalizeCmd, scoreCmd, extractCmd, reportCmd, runCmd, explainCmd, runsCmd)
}

// openPipeline builds the pipeline with metrics and, when configured, the snapshot database.
// The returned function releases the database.
func openPipeline() (*pipeline.Pipeline, func(), error) {
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics.New()),
	}

	closeFn := func() {}
	if cfg.SnapshotDatabasePath != "" {
		db, err := openSnapshotDB()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithSnapshotDB(db))
		closeFn = func() {
			if err := db.Close(); err != nil {
				logger.Warn("failed to close snapshot database", zap.Error(err))
			}
		}
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return p, closeFn, nil
}

func openSnapshotDB() (*database.SnapshotDB, error) {
	db, err := database.NewSnapshotDB(cfg.SnapshotDatabasePath, database.DBConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, apperrors.NewSourceUnavailableError("cannot open snapshot database", err).
			WithContext(cfg.SnapshotDatabasePath)
	}
	return db, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		stop()
		os.Exit(apperrors.ExitCode(err))
	}
}

func printError(err error) {
	red.Fprint(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)

	kind := apperrors.KindOf(err)
	if stage := apperrors.StageOf(err); stage != "" {
		fmt.Fprintf(os.Stderr, "  stage: %s\n", stage)
	}
	fmt.Fprintf(os.Stderr, "  kind:  %s\n", kind)
}
