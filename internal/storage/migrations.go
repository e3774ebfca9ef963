package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Indexing ledger: one row per (entity type, target, parent, site)
CREATE TABLE IF NOT EXISTS indexing_entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    target_entity_type VARCHAR(50) NOT NULL,
    target_entity_subtype VARCHAR(50),
    target_id INTEGER NOT NULL,
    target_parent_id INTEGER,
    site_id VARCHAR(20) NOT NULL,
    is_indexable INTEGER NOT NULL DEFAULT 1,
    next_action TEXT,
    last_action TEXT,
    lock_timestamp INTEGER,
    last_action_timestamp INTEGER
);

-- NULL parents compare equal through IFNULL so the key stays unique
CREATE UNIQUE INDEX IF NOT EXISTS idx_indexing_entities_unique
    ON indexing_entities(target_entity_type, target_id, IFNULL(target_parent_id, 0), site_id);
CREATE INDEX IF NOT EXISTS idx_indexing_entities_site_action
    ON indexing_entities(site_id, next_action);
CREATE INDEX IF NOT EXISTS idx_indexing_entities_type_site
    ON indexing_entities(target_entity_type, site_id);
CREATE INDEX IF NOT EXISTS idx_indexing_entities_lock
    ON indexing_entities(lock_timestamp);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_indexing_entities_lock;
DROP INDEX IF EXISTS idx_indexing_entities_type_site;
DROP INDEX IF EXISTS idx_indexing_entities_site_action;
DROP INDEX IF EXISTS idx_indexing_entities_unique;
DROP TABLE IF EXISTS indexing_entities;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
-- Feed generation tasks
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    payload BLOB NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_detail TEXT,
    file_size INTEGER,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_tasks_status;
DROP TABLE IF EXISTS tasks;
`

const migrationV12Up = `
-- Bumped whenever a new action is queued, so a drain only settles the change it sent
ALTER TABLE indexing_entities ADD COLUMN revision INTEGER NOT NULL DEFAULT 0;
`

const migrationV12Down = `
ALTER TABLE indexing_entities DROP COLUMN revision;
`

// latestAppliedVersion returns the highest recorded schema version, or 0.0.0.
// Versions are compared with semver because several migrations can share one applied_at second.
func latestAppliedVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	latest := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", raw, err)
		}
		if v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	currentVersion, err := latestAppliedVersion(ctx, db)
	if err != nil {
		return err
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := latestAppliedVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The first migration drops schema_version itself
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil && !strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
