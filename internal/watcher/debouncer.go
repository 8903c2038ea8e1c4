package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events to prevent index thrashing.
// Events for the same path within the debounce window are merged according
// to these rules:
//   - CREATE + MODIFY = CREATE (document is still new)
//   - CREATE + DELETE = nothing (document never really existed)
//   - MODIFY + DELETE = DELETE (document is gone)
//   - DELETE + CREATE = MODIFY (document was replaced)
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

// pendingEvent holds the coalesced event for a path plus the first
// operation seen, which drives the merge rules.
type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a new debouncer with the given window duration.
// Events are coalesced within this window before being emitted.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add adds an event to be debounced.
// Events for the same path are coalesced according to the coalescing rules.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	existing, ok := d.pending[event.Path]
	if !ok {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
		d.scheduleFlush()
		return
	}

	merged, keep := coalesce(existing.firstOp, existing.event, event)
	if !keep {
		// Events cancelled each other out (CREATE + DELETE)
		delete(d.pending, event.Path)
	} else {
		existing.event = merged
	}

	d.scheduleFlush()
}

// coalesce merges a new event into the pending one for the same path.
// The second return is false when the pair cancels out entirely.
func coalesce(firstOp Operation, pending, incoming FileEvent) (FileEvent, bool) {
	switch firstOp {
	case OpCreate:
		switch incoming.Operation {
		case OpModify:
			return pending, true
		case OpDelete:
			return FileEvent{}, false
		}

	case OpDelete:
		if incoming.Operation == OpCreate {
			incoming.Operation = OpModify
			return incoming, true
		}
	}

	// MODIFY sequences and everything else keep the latest event.
	return incoming, true
}

// scheduleFlush schedules a flush after the debounce window.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.window, func() {
		d.flush()
	})
}

// flush emits all pending events.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	// Non-blocking send
	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)),
		)
	}
}

// Output returns the channel of debounced events.
// Events are emitted as batches after the debounce window.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
