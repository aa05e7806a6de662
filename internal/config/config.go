package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "kycrisk/internal/errors"
)

// Config is the effective configuration of one pipeline run
type Config struct {
	// Directories
	RawDataDir       string `json:"raw_data_dir" yaml:"raw_data_dir"`
	ProcessedDataDir string `json:"processed_data_dir" yaml:"processed_data_dir"`
	OutputDir        string `json:"output_dir" yaml:"output_dir"`

	// Source extracts, relative to RawDataDir
	Sources SourceFiles `json:"sources" yaml:"sources"`

	// Merge
	DuplicateSuffix string `json:"duplicate_suffix" yaml:"duplicate_suffix"`

	// Cache policy: recompute the normalized snapshot even when it exists
	ForceRecompute bool `json:"force_recompute" yaml:"force_recompute"`

	// Output format of the watchlist: xlsx, csv or json
	WatchlistFormat string `json:"watchlist_format" yaml:"watchlist_format"`

	// Snapshot database; empty disables it
	SnapshotDatabasePath string        `json:"snapshot_database_path" yaml:"snapshot_database_path"`
	MaxOpenConns         int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns         int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime      time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`

	// Prometheus textfile; empty disables it
	MetricsTextfile string `json:"metrics_textfile" yaml:"metrics_textfile"`

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// SourceFiles names the five extracts
type SourceFiles struct {
	Master        string `json:"master" yaml:"master"`
	Questionnaire string `json:"questionnaire" yaml:"questionnaire"`
	Payment       string `json:"payment" yaml:"payment"`
	Revenue       string `json:"revenue" yaml:"revenue"`
	SoftCheck     string `json:"soft_check" yaml:"soft_check"`
}

// LoadConfig builds the configuration from defaults, then the optional YAML
// file, then environment variables, and validates the result.
func LoadConfig(path string) (*Config, error) {
	config := GetDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.NewInvalidConfigError(
				fmt.Sprintf("cannot read config file %s", path), err,
			).WithContext(path)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, apperrors.NewInvalidConfigError(
				fmt.Sprintf("cannot parse config file %s", path), err,
			).WithContext(path)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, apperrors.NewInvalidConfigError("invalid config", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	// Directories
	c.RawDataDir = getEnv("RAW_DATA_DIR", c.RawDataDir)
	c.ProcessedDataDir = getEnv("PROCESSED_DATA_DIR", c.ProcessedDataDir)
	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)

	// Extracts
	c.Sources.Master = getEnv("SOURCE_MASTER_FILE", c.Sources.Master)
	c.Sources.Questionnaire = getEnv("SOURCE_QUESTIONNAIRE_FILE", c.Sources.Questionnaire)
	c.Sources.Payment = getEnv("SOURCE_PAYMENT_FILE", c.Sources.Payment)
	c.Sources.Revenue = getEnv("SOURCE_REVENUE_FILE", c.Sources.Revenue)
	c.Sources.SoftCheck = getEnv("SOURCE_SOFT_CHECK_FILE", c.Sources.SoftCheck)

	c.DuplicateSuffix = getEnv("DUPLICATE_SUFFIX", c.DuplicateSuffix)
	c.ForceRecompute = getEnvBool("FORCE_RECOMPUTE", c.ForceRecompute)
	c.WatchlistFormat = getEnv("WATCHLIST_FORMAT", c.WatchlistFormat)

	// Snapshot database
	c.SnapshotDatabasePath = getEnv("SNAPSHOT_DATABASE_PATH", c.SnapshotDatabasePath)
	c.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.MaxOpenConns)
	c.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.MaxIdleConns)
	c.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.ConnMaxLifetime)

	c.MetricsTextfile = getEnv("METRICS_TEXTFILE", c.MetricsTextfile)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// JSON renders the configuration for the run ledger
func (c *Config) JSON() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// getEnv returns the environment variable or the default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or the default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool accepts the strconv.ParseBool spellings
func getEnvBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as Duration or the default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
