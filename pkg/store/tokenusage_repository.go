package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/amelia-dev/amelia/pkg/models"
)

// TokenUsageRepository appends per-call usage rows. The core never reads
// them back; reporting does.
type TokenUsageRepository struct {
	db *sql.DB
}

// NewTokenUsageRepository creates a TokenUsageRepository over db.
func NewTokenUsageRepository(db *sql.DB) *TokenUsageRepository {
	return &TokenUsageRepository{db: db}
}

// Append inserts one usage row.
func (r *TokenUsageRepository) Append(ctx context.Context, u *models.TokenUsage) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO token_usage (workflow_id, model, timestamp, input_tokens, output_tokens, cost_usd, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.WorkflowID, u.Model, u.Timestamp, u.InputTokens, u.OutputTokens, u.CostUSD, u.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token usage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get token usage id: %w", err)
	}
	u.ID = id
	return nil
}

// ListForWorkflow returns a workflow's usage rows in insertion order.
func (r *TokenUsageRepository) ListForWorkflow(ctx context.Context, workflowID string) ([]*models.TokenUsage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, workflow_id, model, timestamp, input_tokens, output_tokens, cost_usd, duration_ms
		 FROM token_usage WHERE workflow_id = ? ORDER BY id ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list token usage: %w", err)
	}
	defer rows.Close()

	var out []*models.TokenUsage
	for rows.Next() {
		var u models.TokenUsage
		if err := rows.Scan(&u.ID, &u.WorkflowID, &u.Model, &u.Timestamp,
			&u.InputTokens, &u.OutputTokens, &u.CostUSD, &u.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan token usage: %w", err)
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token usage: %w", err)
	}
	return out, nil
}
