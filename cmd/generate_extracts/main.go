package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"kycrisk/internal/config"
	"kycrisk/internal/surveytest"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	outputDir := flag.String("output", "", "Directory for the extracts (default: the configured raw data directory)")
	clients := flag.Int("clients", 500, "Number of survey clients to generate")
	seed := flag.Int64("seed", 0, "Random seed (0 uses the current time)")
	withHighRisk := flag.Bool("with-high-risk", true, "Append the reference high-risk client")
	flag.Parse()

	if *clients < 0 {
		log.Fatalf("clients must be >= 0, got %d", *clients)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	dir := cfg.RawDataDir
	if *outputDir != "" {
		dir = *outputDir
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	generated := surveytest.Random(*clients, *seed)
	if *withHighRisk {
		generated = append(generated, surveytest.HighRiskClient(fmt.Sprintf("HR%06d", *clients+1)))
	}

	if err := surveytest.Build(generated...).Write(dir, cfg.Sources); err != nil {
		log.Fatalf("Failed to write extracts: %v", err)
	}

	fmt.Printf("Generated %d clients into %s (seed %d)\n", len(generated), dir, *seed)
	for _, src := range cfg.Sources.Named() {
		fmt.Printf("  %s: %s\n", src.Name, src.File)
	}
}
