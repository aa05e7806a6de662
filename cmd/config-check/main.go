package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"kycrisk/internal/config"
	apperrors "kycrisk/internal/errors"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	printJSON := flag.Bool("json", false, "print the effective configuration as JSON")
	flag.Parse()

	fmt.Println("=== Configuration check ===")
	fmt.Println("")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("❌ Configuration rejected: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}

	fmt.Println("✅ Configuration loaded")
	fmt.Println("")

	if *printJSON {
		fmt.Println(cfg.JSON())
		return
	}

	fmt.Println("Directories:")
	fmt.Printf("  Raw data: %s\n", cfg.RawDataDir)
	fmt.Printf("  Processed data: %s\n", cfg.ProcessedDataDir)
	fmt.Printf("  Output: %s\n", cfg.OutputDir)
	fmt.Println("")

	// The stages fail on missing extracts; report them up front
	fmt.Println("Source extracts:")
	missing := 0
	for _, src := range cfg.Sources.Named() {
		path := filepath.Join(cfg.RawDataDir, src.File)
		if _, err := os.Stat(path); err != nil {
			missing++
			fmt.Printf("  %-13s %s [missing]\n", src.Name+":", path)
			continue
		}
		fmt.Printf("  %-13s %s\n", src.Name+":", path)
	}
	fmt.Println("")

	fmt.Println("Pipeline:")
	fmt.Printf("  Duplicate suffix: %s\n", cfg.DuplicateSuffix)
	fmt.Printf("  Force recompute: %v\n", cfg.ForceRecompute)
	fmt.Printf("  Watchlist format: %s\n", cfg.WatchlistFormat)
	fmt.Println("")

	fmt.Println("Snapshot database:")
	if cfg.SnapshotDatabasePath == "" {
		fmt.Println("  [disabled]")
	} else {
		fmt.Printf("  Path: %s\n", cfg.SnapshotDatabasePath)
		fmt.Printf("  Max Open Connections: %d\n", cfg.MaxOpenConns)
		fmt.Printf("  Max Idle Connections: %d\n", cfg.MaxIdleConns)
		fmt.Printf("  Connection Max Lifetime: %v\n", cfg.ConnMaxLifetime)
	}
	fmt.Println("")

	fmt.Println("Observability:")
	fmt.Printf("  Log level: %s\n", cfg.LogLevel)
	fmt.Printf("  Log format: %s\n", cfg.LogFormat)
	if cfg.MetricsTextfile != "" {
		fmt.Printf("  Metrics textfile: %s\n", cfg.MetricsTextfile)
	} else {
		fmt.Println("  Metrics textfile: [disabled]")
	}
	fmt.Println("")

	if missing > 0 {
		fmt.Printf("⚠️  %d source extract(s) missing\n", missing)
		fmt.Println("")
		fmt.Println("=== Check finished ===")
		os.Exit(2)
	}

	fmt.Println("=== Check finished ===")
}
