package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaDDL is applied on every startup. Create-if-absent only, so it is
// idempotent; it never alters or drops existing tables.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		issue_id TEXT NOT NULL,
		worktree_path TEXT NOT NULL,
		worktree_name TEXT NOT NULL DEFAULT '',
		profile_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		current_stage TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		planned_at DATETIME,
		failure_reason TEXT NOT NULL DEFAULT '',
		external_plan INTEGER NOT NULL DEFAULT 0,
		plan_path TEXT,
		plan_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_worktree ON workflows(worktree_path)`,

	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		agent TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL DEFAULT '',
		tool_input TEXT NOT NULL DEFAULT '',
		is_error INTEGER NOT NULL DEFAULT 0,
		data TEXT,
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_workflow_sequence
		ON events(workflow_id, sequence)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,

	`CREATE TABLE IF NOT EXISTS token_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL,
		model TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_token_usage_workflow ON token_usage(workflow_id)`,

	`CREATE TABLE IF NOT EXISTS server_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		max_concurrent INTEGER NOT NULL,
		workflow_start_timeout_seconds INTEGER NOT NULL,
		websocket_idle_timeout_seconds INTEGER NOT NULL,
		event_retention_days INTEGER NOT NULL,
		checkpoint_retention_days INTEGER NOT NULL,
		stream_tool_results INTEGER NOT NULL,
		restart_policy TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		active INTEGER NOT NULL DEFAULT 0,
		architect_json TEXT NOT NULL,
		developer_json TEXT NOT NULL,
		reviewer_json TEXT NOT NULL,
		tracker TEXT NOT NULL DEFAULT '',
		working_dir TEXT NOT NULL DEFAULT '',
		plan_output_dir TEXT NOT NULL DEFAULT '',
		plan_path_pattern TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	// Database-enforced single-active rule: at most one row with active=1.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_single_active
		ON profiles(active) WHERE active = 1`,
}

// EnsureSchema applies the create-if-absent DDL. Safe to call on every start.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
