// Package store holds the single authoritative simulation snapshot.
//
// Every update, whether it came back from a request or arrived on the push
// channel, goes through Store.Apply. Apply replaces the held snapshot as a
// whole and notifies subscribers before returning.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/safesim/simdash/internal/model"
)

// MergeErrorKind classifies why an update was refused
type MergeErrorKind string

const (
	InvariantViolation MergeErrorKind = "invariant_violation"
)

// ErrInvariantViolation matches any MergeError of kind InvariantViolation.
var ErrInvariantViolation = errors.New("snapshot invariant violation")

// MergeError is returned by Apply when an update cannot be accepted. The
// previously held snapshot is left untouched.
type MergeError struct {
	Kind MergeErrorKind
	Err  error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge rejected (%s): %v", e.Kind, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// Is lets errors.Is match on the kind sentinel.
func (e *MergeError) Is(target error) bool {
	return target == ErrInvariantViolation && e.Kind == InvariantViolation
}

// Subscriber is called after each successful apply with the new snapshot.
// It runs synchronously on the applying goroutine and must not call Apply.
type Subscriber func(model.Snapshot)

type subscription struct {
	id uint64
	fn Subscriber
}

// Store owns the current snapshot
type Store struct {
	logger *slog.Logger

	// applyMu serializes the whole apply path, including notification, so
	// subscribers see updates in arrival order.
	applyMu sync.Mutex

	mu      sync.RWMutex
	current model.Snapshot
	has     bool
	version uint64
	subs    []subscription
	nextID  uint64
}

// New creates an empty store
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Apply replaces the held snapshot with s. Updates are applied in the order
// Apply is called; there is no reconciliation by timestamp.
func (st *Store) Apply(s model.Snapshot) error {
	st.applyMu.Lock()
	defer st.applyMu.Unlock()

	if err := s.Validate(); err != nil {
		merr := &MergeError{Kind: InvariantViolation, Err: err}
		st.logger.Warn("rejected snapshot", "error", merr,
			"pi", s.CurrentPI, "sprint", s.CurrentSprint, "day", s.CurrentDay)
		return merr
	}

	next := s.Clone()

	st.mu.Lock()
	st.current = next
	st.has = true
	st.version++
	version := st.version
	subs := make([]subscription, len(st.subs))
	copy(subs, st.subs)
	st.mu.Unlock()

	st.logger.Debug("applied snapshot", "version", version,
		"pi", next.CurrentPI, "sprint", next.CurrentSprint, "day", next.CurrentDay)

	for _, sub := range subs {
		sub.fn(next.Clone())
	}
	return nil
}

// Current returns a copy of the held snapshot. ok is false until the first
// successful Apply.
func (st *Store) Current() (snap model.Snapshot, ok bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if !st.has {
		return model.Snapshot{}, false
	}
	return st.current.Clone(), true
}

// Version returns the number of successful applies so far.
func (st *Store) Version() uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.version
}

// Subscribe registers fn for change notifications. The returned function
// removes the subscription.
func (st *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	st.mu.Lock()
	st.nextID++
	id := st.nextID
	st.subs = append(st.subs, subscription{id: id, fn: fn})
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		for i, sub := range st.subs {
			if sub.id == id {
				st.subs = append(st.subs[:i], st.subs[i+1:]...)
				return
			}
		}
	}
}
