// Package bus provides the in-process event bus: events are durably
// persisted first, then fanned out to live subscribers with bounded queues.
// Producers never block on slow consumers; the slowest subscriber is dropped.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/store"
)

// DefaultQueueSize is the per-subscriber queue bound.
const DefaultQueueSize = 1024

// replayPageSize is how many events one store read returns during replay.
const replayPageSize = 256

// Bus is the process-local pub/sub hub. One instance per process.
type Bus struct {
	events *store.EventRepository

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int

	// emitMu serializes persist+fanout per workflow so subscribers observe
	// strictly ascending sequences without reordering between the two steps.
	emitMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a Bus over the event repository.
func New(events *store.EventRepository) *Bus {
	return &Bus{
		events: events,
		subs:   make(map[int]*Subscription),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Emit persists the event and fans it out to matching live subscribers.
// The persist happens first: an event is only observable once durable.
func (b *Bus) Emit(ctx context.Context, e *models.Event) error {
	l := b.emitLock(e.WorkflowID)
	l.Lock()
	defer l.Unlock()

	if err := b.events.Append(ctx, e); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	b.fanout(e)
	return nil
}

// emitLock returns the per-workflow emit mutex, creating it on first use.
func (b *Bus) emitLock(workflowID string) *sync.Mutex {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	l, ok := b.locks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[workflowID] = l
	}
	return l
}

// fanout offers the event to every matching subscriber. A full live queue
// means the subscriber is too slow: it is dropped, never the producer blocked.
func (b *Bus) fanout(e *models.Event) {
	b.mu.Lock()
	var slow []*Subscription
	for _, sub := range b.subs {
		if !sub.matches(e.WorkflowID) {
			continue
		}
		select {
		case sub.live <- e:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range slow {
		slog.Warn("Dropping slow event subscriber",
			"subscriber_id", sub.id, "workflow_id", sub.workflowID)
		b.drop(sub)
	}
}

// Subscribe registers a subscriber. opts.WorkflowID filters to one workflow
// (empty means all). opts.SinceSequence replays stored events with sequence
// greater than it before switching to the live tail; the overlap window is
// deduplicated per workflow. The subscription ends when ctx is cancelled,
// Close is called, or the subscriber falls too far behind.
func (b *Bus) Subscribe(ctx context.Context, opts SubscribeOptions) *Subscription {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	sub := &Subscription{
		workflowID: opts.WorkflowID,
		since:      opts.SinceSequence,
		live:       make(chan *models.Event, size),
		out:        make(chan *models.Event, size),
		lastSeq:    make(map[string]int64),
		bus:        b,
	}
	if opts.WorkflowID != "" && opts.SinceSequence > 0 {
		sub.lastSeq[opts.WorkflowID] = opts.SinceSequence
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.run(ctx)
	return sub
}

// drop unregisters a subscriber and closes its output channel, signalling
// the consumer that it must resubscribe (typically with since_sequence).
func (b *Bus) drop(sub *Subscription) {
	b.mu.Lock()
	_, present := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if present {
		close(sub.live)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
