package database

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const migrationsTableName = "schema_migrations"

// ensureMigrationTable creates schema_migrations when needed
func ensureMigrationTable(db *sql.DB) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, migrationsTableName)

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}
	return nil
}

// isMigrationApplied reports whether the named migration already ran
func isMigrationApplied(db *sql.DB, name string) (bool, error) {
	if err := ensureMigrationTable(db); err != nil {
		return false, err
	}

	var appliedAt sql.NullTime
	query := fmt.Sprintf(`SELECT applied_at FROM %s WHERE name = ?`, migrationsTableName)
	err := db.QueryRow(query, name).Scan(&appliedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check migration %s: %w", name, err)
	}

	return appliedAt.Valid, nil
}

func markMigrationApplied(db *sql.DB, name string) error {
	query := fmt.Sprintf(`INSERT OR REPLACE INTO %s(name, applied_at) VALUES(?, ?)`, migrationsTableName)
	_, err := db.Exec(query, name, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark migration %s as applied: %w", name, err)
	}
	return nil
}

// ensureMigrationApplied runs a migration exactly once
func ensureMigrationApplied(db *sql.DB, logger *zap.Logger, name string, migration func(*sql.DB) error) error {
	applied, err := isMigrationApplied(db, name)
	if err != nil {
		return err
	}
	if applied {
		logger.Debug("migration already applied", zap.String("migration", name))
		return nil
	}

	if err := migration(db); err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}

	if err := markMigrationApplied(db, name); err != nil {
		return err
	}

	logger.Info("migration applied", zap.String("migration", name))
	return nil
}

// execStatements is a migration running each statement in order
func execStatements(statements ...string) func(*sql.DB) error {
	return func(db *sql.DB) error {
		for _, stmt := range statements {
			if _, err := db.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}
