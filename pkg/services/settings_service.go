package services

import (
	"context"
	"fmt"

	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/store"
)

// SettingsService manages the runtime settings singleton
type SettingsService struct {
	settings *store.SettingsRepository
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(settings *store.SettingsRepository) *SettingsService {
	return &SettingsService{settings: settings}
}

// GetSettings returns the current settings.
func (s *SettingsService) GetSettings(ctx context.Context) (*models.ServerSettings, error) {
	return s.settings.Get(ctx)
}

// UpdateSettings applies a partial update. Changed values take effect on the
// next admission decision or connection; running workflows are not disturbed.
func (s *SettingsService) UpdateSettings(ctx context.Context, patch *models.SettingsPatch) (*models.ServerSettings, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	updated, err := s.settings.Update(ctx, *patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	return updated, nil
}

func validatePatch(patch *models.SettingsPatch) error {
	if patch.MaxConcurrent != nil && *patch.MaxConcurrent < 1 {
		return NewValidationError("max_concurrent", "must be at least 1")
	}
	if patch.WorkflowStartTimeoutSeconds != nil && *patch.WorkflowStartTimeoutSeconds < 1 {
		return NewValidationError("workflow_start_timeout_seconds", "must be at least 1")
	}
	if patch.WebsocketIdleTimeoutSeconds != nil && *patch.WebsocketIdleTimeoutSeconds < 1 {
		return NewValidationError("websocket_idle_timeout_seconds", "must be at least 1")
	}
	if patch.EventRetentionDays != nil && *patch.EventRetentionDays < 0 {
		return NewValidationError("event_retention_days", "must be non-negative")
	}
	if patch.CheckpointRetentionDays != nil && *patch.CheckpointRetentionDays < 0 {
		return NewValidationError("checkpoint_retention_days", "must be non-negative")
	}
	if patch.RestartPolicy != nil &&
		*patch.RestartPolicy != models.RestartFail && *patch.RestartPolicy != models.RestartResume {
		return NewValidationError("restart_policy",
			fmt.Sprintf("unknown restart policy %q", *patch.RestartPolicy))
	}
	return nil
}
