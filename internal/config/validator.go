package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	validLogLevels       = []string{"DEBUG", "INFO", "WARN", "ERROR"}
	validLogFormats      = []string{"json", "console"}
	validWatchlistFormat = []string{"xlsx", "csv", "json"}
)

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var problems []string

	// Directories
	if c.RawDataDir == "" {
		problems = append(problems, "raw data dir is required")
	}
	if c.ProcessedDataDir == "" {
		problems = append(problems, "processed data dir is required")
	}
	if c.OutputDir == "" {
		problems = append(problems, "output dir is required")
	}

	// Extracts
	seen := make(map[string]string)
	for _, src := range c.Sources.Named() {
		if src.File == "" {
			problems = append(problems, fmt.Sprintf("%s source file is required", src.Name))
			continue
		}
		if other, dup := seen[src.File]; dup {
			problems = append(problems, fmt.Sprintf("%s and %s sources point to the same file %s", other, src.Name, src.File))
		}
		seen[src.File] = src.Name
	}

	if c.DuplicateSuffix == "" {
		problems = append(problems, "duplicate suffix is required")
	}

	if !oneOf(strings.ToLower(c.WatchlistFormat), validWatchlistFormat) {
		problems = append(problems, fmt.Sprintf("invalid watchlist format: %s (valid: %s)",
			c.WatchlistFormat, strings.Join(validWatchlistFormat, ", ")))
	}

	// Snapshot database pooling
	if c.SnapshotDatabasePath != "" {
		if c.MaxOpenConns < 1 {
			problems = append(problems, "max open connections must be at least 1")
		}
		if c.MaxIdleConns < 1 {
			problems = append(problems, "max idle connections must be at least 1")
		}
		if c.MaxIdleConns > c.MaxOpenConns {
			problems = append(problems, "max idle connections cannot be greater than max open connections")
		}
		if c.ConnMaxLifetime < time.Second {
			problems = append(problems, "connection max lifetime must be at least 1 second")
		}
	}

	// Logging. An empty level falls back to INFO.
	if c.LogLevel != "" && !oneOf(strings.ToUpper(c.LogLevel), validLogLevels) {
		problems = append(problems, fmt.Sprintf("invalid log level: %s (valid: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", ")))
	}
	if c.LogFormat != "" && !oneOf(strings.ToLower(c.LogFormat), validLogFormats) {
		problems = append(problems, fmt.Sprintf("invalid log format: %s (valid: %s)",
			c.LogFormat, strings.Join(validLogFormats, ", ")))
	}

	if len(problems) > 0 {
		return errors.New("validation errors: " + strings.Join(problems, "; "))
	}

	return nil
}

func oneOf(value string, valid []string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

// NamedSource pairs a source role with its file name
type NamedSource struct {
	Name string
	File string
}

// Named lists the extracts in join order, master first
func (s SourceFiles) Named() []NamedSource {
	return []NamedSource{
		{Name: "master", File: s.Master},
		{Name: "questionnaire", File: s.Questionnaire},
		{Name: "payment", File: s.Payment},
		{Name: "revenue", File: s.Revenue},
		{Name: "soft_check", File: s.SoftCheck},
	}
}

// GetDefaults returns the configuration with default values
func GetDefaults() *Config {
	return &Config{
		RawDataDir:       "data/raw",
		ProcessedDataDir: "data/processed",
		OutputDir:        "OUTPUT",
		Sources: SourceFiles{
			Master:        "aml_master.xlsx",
			Questionnaire: "aml_quest_data.xlsx",
			Payment:       "aml_methode_paiement_client.xlsx",
			Revenue:       "aml_revenu_professionnel.xlsx",
			SoftCheck:     "aml_soft_check.xlsx",
		},
		DuplicateSuffix: "_dup",
		ForceRecompute:  false,
		WatchlistFormat: "xlsx",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		LogLevel:        "INFO",
		LogFormat:       "console",
	}
}
