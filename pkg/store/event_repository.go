package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amelia-dev/amelia/pkg/models"
)

const eventColumns = `id, workflow_id, sequence, timestamp, agent, event_type,
	message, tool_name, tool_input, is_error, data`

// EventRepository appends and reads the per-workflow event log.
//
// Append assigns sequence numbers inside a transaction; a per-workflow mutex
// serializes concurrent in-process appends so (workflow_id, sequence) stays
// gapless. A unique index backs the invariant — an integrity error there
// means mutex discipline was lost and is surfaced as fatal.
type EventRepository struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex // workflow_id → append lock
}

// NewEventRepository creates an EventRepository over db.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the append mutex for a workflow, creating it on first use.
func (r *EventRepository) lockFor(workflowID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[workflowID] = l
	}
	return l
}

// Append persists an event, assigning the next sequence number for its
// workflow. The event's ID, Sequence, and Timestamp fields are filled in.
func (r *EventRepository) Append(ctx context.Context, e *models.Event) error {
	if e.WorkflowID == "" {
		return fmt.Errorf("event has no workflow_id")
	}
	if !models.EventTypeValidator(e.EventType) {
		return fmt.Errorf("unknown event type %q", e.EventType)
	}

	l := r.lockFor(e.WorkflowID)
	l.Lock()
	defer l.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = ?`,
		e.WorkflowID).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to compute next sequence: %w", err)
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Sequence = next
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var data any
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkflowID, e.Sequence, e.Timestamp, e.Agent, string(e.EventType),
		e.Message, e.ToolName, e.ToolInput, e.IsError, data,
	)
	if err != nil {
		// A constraint violation on (workflow_id, sequence) indicates lost
		// mutex discipline, not a retriable condition.
		return fmt.Errorf("fatal: failed to insert event seq %d for workflow %s: %w",
			e.Sequence, e.WorkflowID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// List returns events for a workflow with sequence > sinceSequence, in
// ascending sequence order. limit <= 0 means no limit.
func (r *EventRepository) List(ctx context.Context, workflowID string, sinceSequence int64, limit int) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE workflow_id = ? AND sequence > ? ORDER BY sequence ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, workflowID, sinceSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

// Tail returns the last n events for a workflow in ascending sequence order.
func (r *EventRepository) Tail(ctx context.Context, workflowID string, n int) ([]*models.Event, error) {
	latest, err := r.LatestSequence(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	since := latest - int64(n)
	if since < 0 {
		since = 0
	}
	return r.List(ctx, workflowID, since, n)
}

// LatestSequence returns the highest assigned sequence for a workflow,
// or 0 if it has no events.
func (r *EventRepository) LatestSequence(ctx context.Context, workflowID string) (int64, error) {
	var latest int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE workflow_id = ?`,
		workflowID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest sequence: %w", err)
	}
	return latest, nil
}

// DeleteOlderThan prunes events older than cutoff, but only for workflows
// that reached a terminal state. Live workflows keep their full gapless
// stream for replay. Returns the number of rows removed.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE timestamp < ? AND workflow_id IN
			(SELECT id FROM workflows WHERE status IN ('completed', 'failed', 'cancelled'))`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check prune result: %w", err)
	}
	return n, nil
}

func scanEvent(scanner interface{ Scan(...any) error }) (*models.Event, error) {
	var (
		e         models.Event
		eventType string
		data      sql.NullString
	)
	err := scanner.Scan(
		&e.ID, &e.WorkflowID, &e.Sequence, &e.Timestamp, &e.Agent, &eventType,
		&e.Message, &e.ToolName, &e.ToolInput, &e.IsError, &data,
	)
	if err != nil {
		return nil, err
	}
	e.EventType = models.EventType(eventType)
	if data.Valid && data.String != "" {
		e.Data = []byte(data.String)
	}
	return &e, nil
}
