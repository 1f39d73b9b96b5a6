package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// runRetentionSweeper prunes old events and terminal workflows on a fixed
// interval until shutdown. Retention is best-effort housekeeping: failures
// are logged and the next sweep tries again.
func (s *Scheduler) runRetentionSweeper() {
	ticker := time.NewTicker(s.cfg.RetentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	settings, err := s.settings(ctx)
	if err != nil {
		slog.Warn("Retention sweep skipped, settings unavailable", "error", err)
		return
	}

	if settings.EventRetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -settings.EventRetentionDays)
		pruned, err := s.store.Events.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			slog.Warn("Event retention sweep failed", "error", err)
		} else if pruned > 0 {
			slog.Info("Pruned old events", "count", pruned, "cutoff", cutoff)
		}
	}

	// Terminal workflow rows are the restart checkpoints; they expire on
	// their own clock and take their remaining events with them.
	if settings.CheckpointRetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -settings.CheckpointRetentionDays)
		pruned, err := s.store.Workflows.DeleteTerminalOlderThan(ctx, cutoff)
		if err != nil {
			slog.Warn("Workflow retention sweep failed", "error", err)
		} else if pruned > 0 {
			slog.Info("Pruned terminal workflows", "count", pruned, "cutoff", cutoff)
		}
	}
}
