package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/store"
)

// ProfileService manages named execution profiles
type ProfileService struct {
	profiles *store.ProfileRepository
}

// NewProfileService creates a new ProfileService
func NewProfileService(profiles *store.ProfileRepository) *ProfileService {
	return &ProfileService{profiles: profiles}
}

// CreateProfile validates and persists a new profile. New profiles are
// created inactive; activation is a separate operation.
func (s *ProfileService) CreateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	if err := validateProfile(p); err != nil {
		return nil, err
	}
	p.Active = false
	if err := s.profiles.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return p, nil
}

// GetProfile retrieves a profile by ID.
func (s *ProfileService) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	p, err := s.profiles.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetActiveProfile returns the currently active profile.
func (s *ProfileService) GetActiveProfile(ctx context.Context) (*models.Profile, error) {
	p, err := s.profiles.GetActive(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListProfiles returns all profiles.
func (s *ProfileService) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	return s.profiles.List(ctx)
}

// UpdateProfile validates and rewrites a profile's mutable fields. Running
// workflows keep the agent configs they were started with.
func (s *ProfileService) UpdateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	if p.ID == "" {
		return nil, NewValidationError("id", "required")
	}
	if err := validateProfile(p); err != nil {
		return nil, err
	}
	err := s.profiles.Update(ctx, p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, p.ID)
}

// DeleteProfile removes an inactive profile.
func (s *ProfileService) DeleteProfile(ctx context.Context, id string) error {
	err := s.profiles.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// ActivateProfile makes the given profile the single active one.
func (s *ProfileService) ActivateProfile(ctx context.Context, id string) (*models.Profile, error) {
	err := s.profiles.SetActive(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, id)
}

func validateProfile(p *models.Profile) error {
	if p.Name == "" {
		return NewValidationError("name", "required")
	}
	for _, role := range []struct {
		name string
		cfg  models.AgentConfig
	}{
		{"architect", p.Architect},
		{"developer", p.Developer},
		{"reviewer", p.Reviewer},
	} {
		if !models.DriverKindValidator(role.cfg.DriverKind) {
			return NewValidationError(role.name+".driver_kind",
				fmt.Sprintf("unknown driver kind %q", role.cfg.DriverKind))
		}
		if role.cfg.Model == "" {
			return NewValidationError(role.name+".model", "required")
		}
	}
	if p.Reviewer.MaxIterations < 0 {
		return NewValidationError("reviewer.max_iterations", "must be non-negative")
	}
	return nil
}
