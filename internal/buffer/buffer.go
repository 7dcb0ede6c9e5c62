// Package buffer holds captured events between delivery attempts.
//
// The queue is emptied before a flush's network call begins and restored in
// front of any newly arrived events if that call fails, so no event is lost
// and none is duplicated within a single flush attempt.
package buffer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fmarek/bugrelay/event"
)

// DefaultMaxSize bounds the queue when the caller does not configure a limit.
const DefaultMaxSize = 50

// FlushFunc delivers one batch. A non-nil error restores the batch for retry.
type FlushFunc func(ctx context.Context, events []event.Event) error

// Buffer is an ordered in-memory event queue with an urgency- and
// capacity-driven flush policy.
type Buffer struct {
	mu      sync.Mutex
	events  []event.Event
	maxSize int
	onFlush FlushFunc
	log     *zap.Logger
}

// New creates a buffer that invokes onFlush with drained batches.
func New(maxSize int, onFlush FlushFunc, log *zap.Logger) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Buffer{maxSize: maxSize, onFlush: onFlush, log: log}
}

// Add enqueues one event. Urgent events (ERROR, ACTION) and any add that
// fills the queue to capacity trigger a fire-and-forget flush attempt; a
// failed attempt restores the batch, so nothing is lost either way.
func (b *Buffer) Add(ev event.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	full := len(b.events) >= b.maxSize
	b.mu.Unlock()

	if ev.Type.Urgent() || full {
		go func() {
			if err := b.Flush(context.Background()); err != nil {
				b.log.Debug("background flush failed, events restored", zap.Error(err))
			}
		}()
	}
}

// Flush drains the queue and hands the batch to the delivery callback. On
// failure the batch is placed back in front of any events that arrived during
// the attempt, preserving capture order, and the failure is returned.
// Concurrent flushes are safe: each operates on its own swapped-out batch.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.events) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	if err := b.onFlush(ctx, batch); err != nil {
		b.mu.Lock()
		restored := make([]event.Event, 0, len(batch)+len(b.events))
		restored = append(restored, batch...)
		restored = append(restored, b.events...)
		b.events = restored
		b.mu.Unlock()
		return fmt.Errorf("flushing %d events: %w", len(batch), err)
	}
	return nil
}

// Snapshot returns a copy of the pending events in capture order.
func (b *Buffer) Snapshot() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Event, len(b.events))
	copy(out, b.events)
	return out
}

// HasUrgent reports whether any pending event is urgent.
func (b *Buffer) HasUrgent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.events {
		if ev.Type.Urgent() {
			return true
		}
	}
	return false
}

// Len returns the number of pending events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// IsEmpty reports whether the queue has no pending events.
func (b *Buffer) IsEmpty() bool { return b.Len() == 0 }

// IsFull reports whether the queue is at or beyond its configured maximum.
func (b *Buffer) IsFull() bool { return b.Len() >= b.maxSize }

// Clear drops all pending events without delivering them.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}
