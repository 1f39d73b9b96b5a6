package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amelia-dev/amelia/pkg/models"
)

// SettingsRepository persists the ServerSettings singleton (row id = 1).
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a SettingsRepository over db.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// EnsureDefaults inserts the default settings row if none exists.
// Idempotent: an existing row is left untouched.
func (r *SettingsRepository) EnsureDefaults(ctx context.Context) error {
	defaults := models.DefaultServerSettings()
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO server_settings (
			id, max_concurrent, workflow_start_timeout_seconds,
			websocket_idle_timeout_seconds, event_retention_days,
			checkpoint_retention_days, stream_tool_results, restart_policy, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		defaults.MaxConcurrent, defaults.WorkflowStartTimeoutSeconds,
		defaults.WebsocketIdleTimeoutSeconds, defaults.EventRetentionDays,
		defaults.CheckpointRetentionDays, defaults.StreamToolResults,
		string(defaults.RestartPolicy), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure settings defaults: %w", err)
	}
	return nil
}

// Get returns the current settings.
func (r *SettingsRepository) Get(ctx context.Context) (*models.ServerSettings, error) {
	var (
		s             models.ServerSettings
		restartPolicy string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT max_concurrent, workflow_start_timeout_seconds,
			websocket_idle_timeout_seconds, event_retention_days,
			checkpoint_retention_days, stream_tool_results, restart_policy, updated_at
		 FROM server_settings WHERE id = 1`).Scan(
		&s.MaxConcurrent, &s.WorkflowStartTimeoutSeconds,
		&s.WebsocketIdleTimeoutSeconds, &s.EventRetentionDays,
		&s.CheckpointRetentionDays, &s.StreamToolResults, &restartPolicy, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	s.RestartPolicy = models.RestartPolicy(restartPolicy)
	return &s, nil
}

// Update applies a partial patch and returns the updated settings.
func (r *SettingsRepository) Update(ctx context.Context, patch models.SettingsPatch) (*models.ServerSettings, error) {
	current, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}

	if patch.MaxConcurrent != nil {
		current.MaxConcurrent = *patch.MaxConcurrent
	}
	if patch.WorkflowStartTimeoutSeconds != nil {
		current.WorkflowStartTimeoutSeconds = *patch.WorkflowStartTimeoutSeconds
	}
	if patch.WebsocketIdleTimeoutSeconds != nil {
		current.WebsocketIdleTimeoutSeconds = *patch.WebsocketIdleTimeoutSeconds
	}
	if patch.EventRetentionDays != nil {
		current.EventRetentionDays = *patch.EventRetentionDays
	}
	if patch.CheckpointRetentionDays != nil {
		current.CheckpointRetentionDays = *patch.CheckpointRetentionDays
	}
	if patch.StreamToolResults != nil {
		current.StreamToolResults = *patch.StreamToolResults
	}
	if patch.RestartPolicy != nil {
		current.RestartPolicy = *patch.RestartPolicy
	}
	current.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`UPDATE server_settings SET
			max_concurrent = ?, workflow_start_timeout_seconds = ?,
			websocket_idle_timeout_seconds = ?, event_retention_days = ?,
			checkpoint_retention_days = ?, stream_tool_results = ?,
			restart_policy = ?, updated_at = ?
		 WHERE id = 1`,
		current.MaxConcurrent, current.WorkflowStartTimeoutSeconds,
		current.WebsocketIdleTimeoutSeconds, current.EventRetentionDays,
		current.CheckpointRetentionDays, current.StreamToolResults,
		string(current.RestartPolicy), current.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	return current, nil
}
