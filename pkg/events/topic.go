// Package events is a typed, in-process publish/subscribe bus.
//
// Each event kind has its own Topic[T], so a subscriber for ActionConfirmed
// can never be handed a ProofAppended payload. Delivery is synchronous and in
// subscription order; a panicking handler is recovered and logged so the
// remaining handlers still run.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives a published payload.
type Handler[T any] func(ctx context.Context, payload T)

type subscription[T any] struct {
	id uint64
	fn Handler[T]
}

// Topic fans one payload type out to its subscribers.
type Topic[T any] struct {
	name   string
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[T]
	logger *slog.Logger
}

// NewTopic creates an empty topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{
		name:   name,
		logger: slog.Default().With("component", "events", "topic", name),
	}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (t *Topic[T]) Subscribe(fn Handler[T]) (unsubscribe func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscription[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers payload to every current subscriber.
// Handlers run outside the topic lock, so they may subscribe or unsubscribe.
func (t *Topic[T]) Publish(ctx context.Context, payload T) {
	t.mu.RLock()
	subs := make([]subscription[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, s := range subs {
		t.deliver(ctx, s.fn, payload)
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *Topic[T]) deliver(ctx context.Context, fn Handler[T], payload T) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.ErrorContext(ctx, "event handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn(ctx, payload)
}
