// Package sqlite_test contains integration tests for SQLite repositories.
//
// # Schema Protection
//
// This file is the SINGLE POINT where the database schema is loaded for tests.
// All test setup functions use db.GetSchemaSQL() to ensure tests run against
// the authoritative schema, preventing drift between test and production.
//
// DO NOT hardcode CREATE TABLE statements in test files. Use setupTestDB()
// and the seed* helpers instead.
package sqlite_test

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/warden/internal/db"
)

// setupTestDB creates an in-memory database with the authoritative schema.
// This is the single shared test database setup function for all repository tests.
// Uses db.GetSchemaSQL() to prevent test schemas from drifting.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	// A single connection keeps :memory: state visible across the pool.
	testDB.SetMaxOpenConns(1)

	// Use the authoritative schema from schema.go
	_, err = testDB.Exec(db.GetSchemaSQL())
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}

// seedProject inserts a test project and returns its ID.
func seedProject(t *testing.T, db *sql.DB, id, name string) string {
	t.Helper()
	if id == "" {
		id = "PRJ-001"
	}
	if name == "" {
		name = "test-project"
	}
	_, err := db.Exec("INSERT INTO projects (id, name, status) VALUES (?, ?, 'active')", id, name)
	if err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	return id
}

// seedStop inserts a test emergency stop and returns its ID.
func seedStop(t *testing.T, db *sql.DB, id, projectID string) string {
	t.Helper()
	if id == "" {
		id = "STOP-001"
	}
	if projectID == "" {
		projectID = "PRJ-001"
	}
	_, err := db.Exec(
		"INSERT INTO emergency_stops (id, project_id, conditions, severity, reason) VALUES (?, ?, '[]', 'critical', 'test stop')",
		id, projectID)
	if err != nil {
		t.Fatalf("failed to seed emergency stop: %v", err)
	}
	return id
}
