// Package fetchstate holds the outcome of a fetch for a single consumer:
// whether a request is outstanding, the last data, the last error and the
// handle that cancels the outstanding request.
//
// A State is an explicit mutable cell. Every mutation goes through Update,
// which notifies subscribers and wakes WaitFor callers, so consumers never
// poll. Each consumer creates its own State; nothing is shared globally.
package fetchstate

import (
	"context"
	"sync"

	"github.com/Sternrassler/message-feed-client/pkg/client"
)

// Value is a snapshot of a State. Data must be treated as read-only:
// writers replace it rather than mutate it.
type Value[T any] struct {
	// Pending is true while a request for this state is outstanding.
	Pending bool

	// Data is the last successfully fetched value, nil before the first one.
	Data *T

	// Error is the failure of the last request, nil when it succeeded.
	Error *client.Error

	// Cancel aborts the outstanding request. Never nil.
	Cancel context.CancelFunc

	// Version increases by one with every mutation.
	Version uint64
}

// Page is one or more accumulated pages of an offset-paginated listing.
type Page[T any] struct {
	Items  []T `json:"items"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// Complete reports whether every item of the listing has been loaded.
func (p *Page[T]) Complete() bool {
	return p != nil && len(p.Items) >= p.Total
}

func noop() {}

type subscriber[T any] struct {
	id int
	fn func(Value[T])
}

// State is a fetch-state cell. The zero value is not usable; use New.
type State[T any] struct {
	mu      sync.Mutex
	value   Value[T]
	changed chan struct{}
	subs    []subscriber[T]
	nextID  int
}

// New returns a fresh state: pending, no data, no error, no-op cancel.
func New[T any]() *State[T] {
	return &State[T]{
		value: Value[T]{
			Pending: true,
			Cancel:  noop,
		},
		changed: make(chan struct{}),
	}
}

// NewPaginated returns a fresh state holding accumulated pages of T.
func NewPaginated[T any]() *State[Page[T]] {
	return New[Page[T]]()
}

// Get returns the current snapshot.
func (s *State[T]) Get() Value[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Update mutates the state under its lock and then notifies. A nil Cancel
// left by fn is replaced with a no-op. The new snapshot is returned.
//
// Subscribers run synchronously on the updating goroutine after the lock is
// released. Concurrent updates may reach a subscriber out of order; compare
// Version to discard stale snapshots.
func (s *State[T]) Update(fn func(v *Value[T])) Value[T] {
	snapshot, notify := s.UpdateDeferred(fn)
	notify()
	return snapshot
}

// UpdateDeferred is Update without running subscribers: WaitFor callers are
// woken at once, subscribers only when the returned notify is called. A
// caller that mutates the state while holding its own lock calls notify
// after releasing it.
func (s *State[T]) UpdateDeferred(fn func(v *Value[T])) (snapshot Value[T], notify func()) {
	s.mu.Lock()
	version := s.value.Version
	fn(&s.value)
	if s.value.Cancel == nil {
		s.value.Cancel = noop
	}
	s.value.Version = version + 1

	snapshot = s.value
	changed := s.changed
	s.changed = make(chan struct{})
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	close(changed)
	return snapshot, func() {
		for _, sub := range subs {
			sub.fn(snapshot)
		}
	}
}

// Set replaces the whole value (Version is still managed by the state).
func (s *State[T]) Set(v Value[T]) Value[T] {
	return s.Update(func(cur *Value[T]) {
		*cur = v
	})
}

// Subscribe registers fn for every future snapshot and returns a function
// that removes it. fn must not block for long.
func (s *State[T]) Subscribe(fn func(Value[T])) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Changed returns a channel closed by the next mutation.
func (s *State[T]) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// WaitFor blocks until pred holds for the current snapshot or ctx ends.
// It is woken by mutations; it never polls.
func (s *State[T]) WaitFor(ctx context.Context, pred func(Value[T]) bool) (Value[T], error) {
	for {
		s.mu.Lock()
		v := s.value
		changed := s.changed
		s.mu.Unlock()

		if pred(v) {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-changed:
		}
	}
}

// Settled is a WaitFor predicate: no request outstanding.
func Settled[T any](v Value[T]) bool {
	return !v.Pending
}
