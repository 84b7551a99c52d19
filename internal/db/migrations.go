package db

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.DB) error
}

// migrations is the list of all migrations in order
var migrations = []Migration{
	{
		Version: 1,
		Name:    "add_session_token_limit_to_budget_counters",
		Up:      migrationV1,
	},
	{
		Version: 2,
		Name:    "add_reason_column_to_approvals",
		Up:      migrationV2,
	},
	{
		Version: 3,
		Name:    "add_override_headroom_to_budget_counters",
		Up:      migrationV3,
	},
}

// RunMigrations runs all pending migrations
func RunMigrations() error {
	db, err := GetDB()
	if err != nil {
		return fmt.Errorf("failed to get database: %w", err)
	}

	// Create schema_version table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	// Get current schema version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Run pending migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		fmt.Printf("Running migration %d: %s\n", migration.Version, migration.Name)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(db); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", migration.Version)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		fmt.Printf("✓ Migration %d completed\n", migration.Version)
	}

	return nil
}

// migrationV1 adds the per-session token limit alongside the daily limits.
func migrationV1(db *sql.DB) error {
	if hasColumn(db, "budget_counters", "session_token_limit") {
		return nil
	}
	_, err := db.Exec(`ALTER TABLE budget_counters ADD COLUMN session_token_limit INTEGER NOT NULL DEFAULT 20000`)
	return err
}

// migrationV2 adds the human-readable reason column used as the audit trail
// for rejected/expired/cancelled approvals.
func migrationV2(db *sql.DB) error {
	if hasColumn(db, "approvals", "reason") {
		return nil
	}
	_, err := db.Exec(`ALTER TABLE approvals ADD COLUMN reason TEXT`)
	return err
}

// migrationV3 adds override headroom columns: an approved override raises the
// effective limit instead of mutating the configured one.
func migrationV3(db *sql.DB) error {
	if hasColumn(db, "budget_counters", "override_tokens") {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE budget_counters ADD COLUMN override_tokens INTEGER NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	_, err := db.Exec(`ALTER TABLE budget_counters ADD COLUMN override_cost_micros INTEGER NOT NULL DEFAULT 0`)
	return err
}

// hasColumn reports whether a table already has the named column.
// Migrations use this so re-runs against a fresh-install schema are no-ops.
func hasColumn(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}
