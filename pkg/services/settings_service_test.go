package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/pkg/models"
)

func TestGetSettingsDefaults(t *testing.T) {
	svc := NewSettingsService(newTestStore(t).Settings)

	settings, err := svc.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, settings.MaxConcurrent)
	assert.Equal(t, models.RestartFail, settings.RestartPolicy)
	assert.True(t, settings.StreamToolResults)
}

func TestUpdateSettingsPartial(t *testing.T) {
	svc := NewSettingsService(newTestStore(t).Settings)
	ctx := context.Background()

	maxConcurrent := 5
	policy := models.RestartResume
	updated, err := svc.UpdateSettings(ctx, &models.SettingsPatch{
		MaxConcurrent: &maxConcurrent,
		RestartPolicy: &policy,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.MaxConcurrent)
	assert.Equal(t, models.RestartResume, updated.RestartPolicy)
	// Untouched fields keep their values.
	assert.Equal(t, 30, updated.EventRetentionDays)

	reread, err := svc.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, reread.MaxConcurrent)
}

func TestUpdateSettingsValidation(t *testing.T) {
	svc := NewSettingsService(newTestStore(t).Settings)
	ctx := context.Background()

	zero := 0
	_, err := svc.UpdateSettings(ctx, &models.SettingsPatch{MaxConcurrent: &zero})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	bogus := models.RestartPolicy("reboot")
	_, err = svc.UpdateSettings(ctx, &models.SettingsPatch{RestartPolicy: &bogus})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	negative := -1
	_, err = svc.UpdateSettings(ctx, &models.SettingsPatch{EventRetentionDays: &negative})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}
