package bus

import (
	"context"
	"log/slog"

	"github.com/amelia-dev/amelia/pkg/models"
)

// NoReplay disables backlog replay; the subscriber gets the live tail only.
const NoReplay int64 = -1

// SubscribeOptions configures a bus subscription.
type SubscribeOptions struct {
	// WorkflowID filters events to one workflow; empty subscribes to all.
	WorkflowID string

	// SinceSequence replays stored events with sequence > this value before
	// the live tail. Zero replays the full history; NoReplay skips replay.
	// Only meaningful with a WorkflowID filter.
	SinceSequence int64

	// QueueSize overrides the per-subscriber queue bound (default 1024).
	QueueSize int
}

// Subscription is one registered consumer. Events arrive on C in strictly
// ascending per-workflow sequence order. C is closed when the subscription
// ends — by ctx cancellation, Close, or the drop-slow-subscriber policy.
type Subscription struct {
	id         int
	workflowID string
	since      int64

	// live receives the raw fanout; run filters it into out.
	live chan *models.Event
	out  chan *models.Event

	// lastSeq tracks the highest delivered sequence per workflow, deduping
	// the replay/live overlap window and guarding ordering.
	lastSeq map[string]int64

	bus *Bus
}

// Events returns the receive channel.
func (s *Subscription) Events() <-chan *models.Event {
	return s.out
}

// Close unregisters the subscription. Safe to call once; usually deferred.
func (s *Subscription) Close() {
	s.bus.drop(s)
}

func (s *Subscription) matches(workflowID string) bool {
	return s.workflowID == "" || s.workflowID == workflowID
}

// run streams the replay backlog, then tails the live queue. Both paths pass
// through deliver, which enforces the per-workflow ordering/dedup guard.
func (s *Subscription) run(ctx context.Context) {
	defer close(s.out)
	defer s.bus.drop(s)

	if s.workflowID != "" && s.since >= 0 {
		if !s.replay(ctx) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.live:
			if !ok {
				return // dropped by the bus
			}
			if !s.deliver(ctx, e) {
				return
			}
		}
	}
}

// replay pages through stored events newer than the cursor. Live events
// emitted meanwhile buffer in the live queue and are deduplicated afterwards.
// Returns false if the subscription should end.
func (s *Subscription) replay(ctx context.Context) bool {
	cursor := s.since
	for {
		events, err := s.bus.events.List(ctx, s.workflowID, cursor, replayPageSize)
		if err != nil {
			slog.Error("Event replay failed",
				"workflow_id", s.workflowID, "since", cursor, "error", err)
			return false
		}
		for _, e := range events {
			if !s.deliver(ctx, e) {
				return false
			}
			cursor = e.Sequence
		}
		if len(events) < replayPageSize {
			return true
		}
	}
}

// deliver forwards one event to the consumer unless it is a duplicate or
// out of order for its workflow. Returns false when ctx ends.
func (s *Subscription) deliver(ctx context.Context, e *models.Event) bool {
	if last, ok := s.lastSeq[e.WorkflowID]; ok && e.Sequence <= last {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case s.out <- e:
		s.lastSeq[e.WorkflowID] = e.Sequence
		return true
	}
}
