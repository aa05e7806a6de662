package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"kycrisk/internal/logging"
	"kycrisk/survey"
)

// DBConfig holds the connection pool settings
type DBConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RunStatus is the outcome recorded for a pipeline run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one row of the run ledger
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	Status          RunStatus
	FailedStage     string
	Error           string
	ConfigJSON      string
	ScoredRows      int
	HighRiskClients int
}

// WatchlistEntry is one stored high-risk client
type WatchlistEntry struct {
	SurveyID     string
	RunID        string
	Sector       string
	RiskScore    int
	RiskCategory string
	Signals      []string
}

// SnapshotDB stores the scored snapshot, the watchlist and the run ledger in SQLite.
// Every snapshot replace is a full overwrite inside one transaction.
type SnapshotDB struct {
	conn   *sql.DB
	logger *zap.Logger
}

// NewSnapshotDB opens (and migrates) the snapshot database at dbPath
func NewSnapshotDB(dbPath string, config DBConfig, logger *zap.Logger) (*SnapshotDB, error) {
	logger = logging.OrNop(logger)

	// An in-memory database lives in one connection; a second one would be empty.
	if isInMemory(dbPath) {
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		conn.SetMaxOpenConns(1)
	}
	if config.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping snapshot database: %w", err)
	}

	if !isInMemory(dbPath) {
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logger.Warn("failed to enable WAL mode", zap.Error(err))
		}
	}

	db := &SnapshotDB{conn: conn, logger: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}
	return db, nil
}

func isInMemory(dbPath string) bool {
	if dbPath == ":memory:" {
		return true
	}
	return strings.HasPrefix(dbPath, "file:") && strings.Contains(dbPath, "mode=memory")
}

func (db *SnapshotDB) migrate() error {
	if err := ensureMigrationTable(db.conn); err != nil {
		return err
	}
	if err := ensureMigrationApplied(db.conn, db.logger, "001_pipeline_runs", execStatements(`
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			status TEXT NOT NULL,
			failed_stage TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			config_json TEXT NOT NULL DEFAULT '{}',
			scored_rows INTEGER NOT NULL DEFAULT 0,
			high_risk_clients INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at)`,
	)); err != nil {
		return err
	}
	if err := ensureMigrationApplied(db.conn, db.logger, "002_scored_clients", execStatements(`
		CREATE TABLE IF NOT EXISTS scored_clients (
			row_num INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			survey_id TEXT,
			sector TEXT,
			region_risk TEXT NOT NULL,
			refusal TEXT NOT NULL,
			termination TEXT NOT NULL,
			identification_compliance TEXT NOT NULL,
			archiving_compliance TEXT NOT NULL,
			payment_method TEXT,
			revenue_kind TEXT,
			nb_transactions REAL,
			risk_score INTEGER NOT NULL,
			risk_category TEXT NOT NULL,
			signals TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scored_clients_survey_id ON scored_clients(survey_id)`,
	)); err != nil {
		return err
	}
	return ensureMigrationApplied(db.conn, db.logger, "003_high_risk_clients", execStatements(`
		CREATE TABLE IF NOT EXISTS high_risk_clients (
			survey_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			sector TEXT,
			risk_score INTEGER NOT NULL,
			risk_category TEXT NOT NULL,
			signals TEXT NOT NULL DEFAULT ''
		)`,
	))
}

// Close closes the connection pool
func (db *SnapshotDB) Close() error {
	return db.conn.Close()
}

// BeginRun records a new running pipeline run and returns its id
func (db *SnapshotDB) BeginRun(ctx context.Context, configJSON string) (string, error) {
	id := uuid.New().String()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO pipeline_runs(id, started_at, status, config_json) VALUES(?, ?, ?, ?)`,
		id, time.Now().UTC(), RunRunning, configJSON,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// RunOutcome is what FinishRun stores about a finished run
type RunOutcome struct {
	Status          RunStatus
	FailedStage     string
	Err             error
	ScoredRows      int
	HighRiskClients int
}

// FinishRun stores the outcome of a run
func (db *SnapshotDB) FinishRun(ctx context.Context, runID string, outcome RunOutcome) error {
	errText := ""
	if outcome.Err != nil {
		errText = outcome.Err.Error()
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET finished_at = ?, status = ?, failed_stage = ?, error = ?, scored_rows = ?, high_risk_clients = ?
		WHERE id = ?`,
		time.Now().UTC(), outcome.Status, outcome.FailedStage, errText,
		outcome.ScoredRows, outcome.HighRiskClients, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first
func (db *SnapshotDB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, failed_stage, error, config_json, scored_rows, high_risk_clients
		FROM pipeline_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &status, &r.FailedStage, &r.Error,
			&r.ConfigJSON, &r.ScoredRows, &r.HighRiskClients); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ReplaceScored overwrites the scored snapshot with records
func (db *SnapshotDB) ReplaceScored(ctx context.Context, runID string, records []survey.ScoredRecord) error {
	return db.replace(ctx, "scored_clients", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO scored_clients(row_num, run_id, survey_id, sector, region_risk, refusal, termination,
				identification_compliance, archiving_compliance, payment_method, revenue_kind, nb_transactions,
				risk_score, risk_category, signals)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range records {
			var transactions sql.NullFloat64
			if r.Transactions != nil {
				transactions = sql.NullFloat64{Float64: *r.Transactions, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				i+1, runID, nullable(r.SurveyID.Str(), r.SurveyID.IsNull()), nullable(r.Sector.Str(), r.Sector.IsNull()),
				r.RegionRisk, r.Refusal, r.Termination,
				string(r.IdentificationCompliance), r.ArchivingCompliance,
				nullable(r.PaymentMethod.Str(), r.PaymentMethod.IsNull()), nullable(r.RevenueKind.Str(), r.RevenueKind.IsNull()),
				transactions, r.RiskScore, string(r.RiskCategory), strings.Join(r.Signals, ","),
			); err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// ReplaceWatchlist overwrites the stored watchlist with clients
func (db *SnapshotDB) ReplaceWatchlist(ctx context.Context, runID string, clients []survey.ScoredRecord) error {
	return db.replace(ctx, "high_risk_clients", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO high_risk_clients(survey_id, run_id, sector, risk_score, risk_category, signals)
			VALUES(?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range clients {
			if _, err := stmt.ExecContext(ctx,
				r.SurveyID.Key(), runID, nullable(r.Sector.Str(), r.Sector.IsNull()),
				r.RiskScore, string(r.RiskCategory), strings.Join(r.Signals, ","),
			); err != nil {
				return fmt.Errorf("client %s: %w", r.SurveyID.Key(), err)
			}
		}
		return nil
	})
}

// GetWatchlist returns the stored watchlist ordered by descending score, then SURVEY_ID
func (db *SnapshotDB) GetWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT survey_id, run_id, sector, risk_score, risk_category, signals
		FROM high_risk_clients
		ORDER BY risk_score DESC, survey_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var entries []WatchlistEntry
	for rows.Next() {
		var (
			e       WatchlistEntry
			sector  sql.NullString
			signals string
		)
		if err := rows.Scan(&e.SurveyID, &e.RunID, &sector, &e.RiskScore, &e.RiskCategory, &signals); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		e.Sector = nullString(sector)
		if signals != "" {
			e.Signals = strings.Split(signals, ",")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountScored returns the number of rows in the scored snapshot
func (db *SnapshotDB) CountScored(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM scored_clients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count scored clients: %w", err)
	}
	return n, nil
}

// replace deletes every row of table and refills it in one transaction
func (db *SnapshotDB) replace(ctx context.Context, table string, fill func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if err := fill(tx); err != nil {
		return fmt.Errorf("failed to fill %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return nil
}

func nullable(s string, null bool) sql.NullString {
	return sql.NullString{String: s, Valid: !null}
}

func nullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
