package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amelia-dev/amelia/pkg/models"
)

const profileColumns = `id, name, active, architect_json, developer_json, reviewer_json,
	tracker, working_dir, plan_output_dir, plan_path_pattern, created_at, updated_at`

// ProfileRepository persists named execution profiles. A partial unique index
// on active=1 enforces the single-active rule at the database level.
type ProfileRepository struct {
	db *sql.DB
}

// NewProfileRepository creates a ProfileRepository over db.
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func scanProfile(scanner interface{ Scan(...any) error }) (*models.Profile, error) {
	var (
		p                                       models.Profile
		architectJSON, developerJSON, reviewerJSON string
	)
	err := scanner.Scan(
		&p.ID, &p.Name, &p.Active, &architectJSON, &developerJSON, &reviewerJSON,
		&p.Tracker, &p.WorkingDir, &p.PlanOutputDir, &p.PlanPathPattern,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(architectJSON), &p.Architect); err != nil {
		return nil, fmt.Errorf("failed to decode architect config for profile %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(developerJSON), &p.Developer); err != nil {
		return nil, fmt.Errorf("failed to decode developer config for profile %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(reviewerJSON), &p.Reviewer); err != nil {
		return nil, fmt.Errorf("failed to decode reviewer config for profile %s: %w", p.ID, err)
	}
	return &p, nil
}

func profileArgs(p *models.Profile) ([]any, error) {
	architectJSON, developerJSON, reviewerJSON, err := encodeAgents(p)
	if err != nil {
		return nil, err
	}
	return []any{
		p.Name, p.Active, architectJSON, developerJSON, reviewerJSON,
		p.Tracker, p.WorkingDir, p.PlanOutputDir, p.PlanPathPattern, p.CreatedAt, p.UpdatedAt,
	}, nil
}

// Create inserts a new profile, assigning an ID if absent.
func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	args, err := profileArgs(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{p.ID}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// Get retrieves a profile by ID.
func (r *ProfileRepository) Get(ctx context.Context, id string) (*models.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetActive returns the currently active profile.
func (r *ProfileRepository) GetActive(ctx context.Context) (*models.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE active = 1`)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active profile: %w", err)
	}
	return p, nil
}

// List returns all profiles, active first, then by name.
func (r *ProfileRepository) List(ctx context.Context) ([]*models.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY active DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return out, nil
}

// Update rewrites a profile's mutable fields. The active flag is only
// changed through SetActive.
func (r *ProfileRepository) Update(ctx context.Context, p *models.Profile) error {
	p.UpdatedAt = time.Now().UTC()
	architectJSON, developerJSON, reviewerJSON, err := encodeAgents(p)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET
			name = ?, architect_json = ?, developer_json = ?, reviewer_json = ?,
			tracker = ?, working_dir = ?, plan_output_dir = ?, plan_path_pattern = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, architectJSON, developerJSON, reviewerJSON,
		p.Tracker, p.WorkingDir, p.PlanOutputDir, p.PlanPathPattern, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a profile. The active profile cannot be deleted.
func (r *ProfileRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM profiles WHERE id = ? AND active = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		// Either missing or active; distinguish for the caller.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("cannot delete the active profile")
	}
	return nil
}

// SetActive makes the given profile the single active one. The deactivate
// and activate statements run in one transaction so the partial unique index
// never observes two active rows.
func (r *ProfileRepository) SetActive(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activate transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check profile: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("failed to deactivate profiles: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET active = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to activate profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activate: %w", err)
	}
	return nil
}

// EnsureDefault seeds the built-in profile when the table is empty.
func (r *ProfileRepository) EnsureDefault(ctx context.Context) error {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count profiles: %w", err)
	}
	if count > 0 {
		return nil
	}
	return r.Create(ctx, models.DefaultProfile())
}

func encodeAgents(p *models.Profile) (string, string, string, error) {
	architectJSON, err := json.Marshal(p.Architect)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode architect config: %w", err)
	}
	developerJSON, err := json.Marshal(p.Developer)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode developer config: %w", err)
	}
	reviewerJSON, err := json.Marshal(p.Reviewer)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode reviewer config: %w", err)
	}
	return string(architectJSON), string(developerJSON), string(reviewerJSON), nil
}
