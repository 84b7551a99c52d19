package db

// SchemaSQL is the complete schema for fresh warden installs.
// This schema reflects the current state after all migrations.
//
// This is the SINGLE SOURCE OF TRUTH for the database schema. All tests use
// this schema via GetSchemaSQL(). If repository code references a column that
// doesn't exist here, tests fail immediately with "no such column".
//
// When adding new columns or tables:
//  1. Add a migration in internal/db/migrations.go
//  2. Update SchemaSQL here
const SchemaSQL = `
-- Projects (governed units; halted projects refuse new approvals)
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL CHECK(status IN ('active', 'halted', 'archived')) DEFAULT 'active',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Approval ledger (audit records; rows are never deleted)
CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('pre_execution', 'response', 'budget_override')),
	action TEXT NOT NULL,
	input_summary TEXT,
	estimated_tokens INTEGER NOT NULL DEFAULT 0,
	estimated_cost_micros INTEGER NOT NULL DEFAULT 0,
	risk_flags TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL CHECK(status IN ('pending', 'approved', 'rejected', 'expired', 'cancelled')) DEFAULT 'pending',
	reason TEXT,
	resolver TEXT,
	comment TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL,
	resolved_at DATETIME,
	FOREIGN KEY (project_id) REFERENCES projects(id)
);

-- At most one live gate decision per (task, kind); resolved rows stay behind
-- as the audit trail.
CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_pending_task_kind
	ON approvals(task_id, kind) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_approvals_project_status ON approvals(project_id, status);
CREATE INDEX IF NOT EXISTS idx_approvals_expiry ON approvals(expires_at) WHERE status = 'pending';

-- Budget ledger: one counter per (project, agent type), created lazily.
-- All money columns are integer micro-USD so conditional increments stay
-- inside sqlite's integer arithmetic.
CREATE TABLE IF NOT EXISTS budget_counters (
	project_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	daily_token_limit INTEGER NOT NULL,
	daily_cost_limit_micros INTEGER NOT NULL,
	session_token_limit INTEGER NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost_used_micros INTEGER NOT NULL DEFAULT 0,
	tokens_reserved INTEGER NOT NULL DEFAULT 0,
	cost_reserved_micros INTEGER NOT NULL DEFAULT 0,
	override_tokens INTEGER NOT NULL DEFAULT 0,
	override_cost_micros INTEGER NOT NULL DEFAULT 0,
	emergency_triggered INTEGER NOT NULL DEFAULT 0,
	last_reset_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (project_id, agent_type),
	FOREIGN KEY (project_id) REFERENCES projects(id)
);

-- Budget reservations (reserve/commit/release protocol)
CREATE TABLE IF NOT EXISTS reservations (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	tokens INTEGER NOT NULL,
	cost_micros INTEGER NOT NULL,
	state TEXT NOT NULL CHECK(state IN ('held', 'committed', 'released')) DEFAULT 'held',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	finalized_at DATETIME,
	FOREIGN KEY (project_id) REFERENCES projects(id)
);

CREATE INDEX IF NOT EXISTS idx_reservations_project_state ON reservations(project_id, state);

-- Emergency stop records (immutable log; resolved_at set on recovery)
CREATE TABLE IF NOT EXISTS emergency_stops (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	conditions TEXT NOT NULL DEFAULT '[]',
	severity TEXT NOT NULL CHECK(severity IN ('warning', 'critical')) DEFAULT 'critical',
	reason TEXT NOT NULL,
	affected_tasks TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	resolved_at DATETIME,
	FOREIGN KEY (project_id) REFERENCES projects(id)
);

CREATE INDEX IF NOT EXISTS idx_emergency_stops_project ON emergency_stops(project_id);

-- Recovery sessions (one active per project)
CREATE TABLE IF NOT EXISTS recovery_sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	stop_id TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('assessment', 'waiting_approval', 'executing', 'completed', 'aborted')) DEFAULT 'assessment',
	current_step INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (project_id) REFERENCES projects(id),
	FOREIGN KEY (stop_id) REFERENCES emergency_stops(id)
);

CREATE TABLE IF NOT EXISTS recovery_steps (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	description TEXT NOT NULL,
	action TEXT NOT NULL,
	approval TEXT NOT NULL CHECK(approval IN ('pending', 'approved', 'rejected')) DEFAULT 'pending',
	state TEXT NOT NULL CHECK(state IN ('pending', 'done', 'failed')) DEFAULT 'pending',
	approved_by TEXT,
	executed_at DATETIME,
	PRIMARY KEY (session_id, seq),
	FOREIGN KEY (session_id) REFERENCES recovery_sessions(id)
);

-- Audit log (append-only)
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	field_name TEXT,
	old_value TEXT,
	new_value TEXT,
	actor TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// InitSchema creates the schema on a fresh database or runs pending
// migrations on an existing one.
func InitSchema() error {
	database, err := GetDB()
	if err != nil {
		return err
	}

	// Fresh install detection: if the schema_version table does not exist,
	// apply the full schema and mark all migrations applied.
	var name string
	err = database.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&name)
	if err != nil {
		if _, err := database.Exec(SchemaSQL); err != nil {
			return err
		}
		if _, err := database.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`); err != nil {
			return err
		}
		for i := 1; i <= len(migrations); i++ {
			if _, err := database.Exec("INSERT INTO schema_version (version) VALUES (?)", i); err != nil {
				return err
			}
		}
		return nil
	}

	// schema_version table exists - run any pending migrations
	return RunMigrations()
}

// GetSchemaSQL returns the authoritative schema SQL for use by tests.
// Tests should use this instead of hardcoding their own schema to prevent drift.
func GetSchemaSQL() string {
	return SchemaSQL
}
