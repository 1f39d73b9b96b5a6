// Package store implements the durable repositories over the embedded
// SQLite database. All state that must survive restart goes through here.
package store

import (
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleStatus is returned by guarded workflow writes when the row's
// status no longer matches what the caller last observed. The write did not
// happen; the caller must re-read before deciding anything.
var ErrStaleStatus = errors.New("workflow status changed concurrently")

// Store bundles the repositories sharing one database handle.
type Store struct {
	Workflows  *WorkflowRepository
	Events     *EventRepository
	Settings   *SettingsRepository
	Profiles   *ProfileRepository
	TokenUsage *TokenUsageRepository
}

// New creates a Store over db.
func New(db *sql.DB) *Store {
	return &Store{
		Workflows:  NewWorkflowRepository(db),
		Events:     NewEventRepository(db),
		Settings:   NewSettingsRepository(db),
		Profiles:   NewProfileRepository(db),
		TokenUsage: NewTokenUsageRepository(db),
	}
}
