// Package sequencer reveals the reasoning steps of an agent answer one at a
// time.
//
// An agent call returns all of its steps at once. The sequencer shows them at
// a fixed pace to simulate incremental thought, and makes sure a timer left
// over from a superseded invocation never touches the session that replaced
// it: every scheduled callback carries the slot generation it was created
// for and re-checks it before acting.
package sequencer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultStepDelay is the pause between two step reveals.
	DefaultStepDelay = 500 * time.Millisecond
	// DefaultVisibilityDelay is the pause between revealing a step and
	// marking it visible, used by the presentation for its fade-in.
	DefaultVisibilityDelay = 10 * time.Millisecond
)

var (
	// ErrStaleCallback is returned when a result or timer belongs to an
	// invocation that has since been superseded or dismissed. Callers are
	// expected to drop it silently.
	ErrStaleCallback = errors.New("stale sequencer callback")
	// ErrNotPending is returned when a batch is delivered twice.
	ErrNotPending = errors.New("session is not awaiting a result")
	// ErrSessionClosed is returned when failing a session that already
	// finished.
	ErrSessionClosed = errors.New("session already finished")
)

// Timer is a scheduled callback that can be cancelled
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay. The TUI provides one that runs
// them on its update loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }
func (wallClock) Now() time.Time                             { return time.Now() }

// Observer receives session changes. It must not call back into methods
// that start, deliver, fail or dismiss sessions.
type Observer func(Change)

// Option configures a Sequencer
type Option func(*Sequencer)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(q *Sequencer) { q.sched = s }
}

// WithStepDelay sets the pause between reveals.
func WithStepDelay(d time.Duration) Option {
	return func(q *Sequencer) { q.stepDelay = d }
}

// WithVisibilityDelay sets the reveal-to-visible pause.
func WithVisibilityDelay(d time.Duration) Option {
	return func(q *Sequencer) { q.visibilityDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Sequencer) { q.logger = l }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(q *Sequencer) { q.observers = append(q.observers, o) }
}

type slotState struct {
	generation uint64
	session    *ReasoningSession
	pending    []string
	timers     []Timer
}

func (st *slotState) stopTimers() {
	for _, t := range st.timers {
		t.Stop()
	}
	st.timers = nil
}

// Sequencer owns every reasoning session, one per slot
type Sequencer struct {
	sched           Scheduler
	stepDelay       time.Duration
	visibilityDelay time.Duration
	logger          *slog.Logger
	observers       []Observer

	// notifyMu keeps observer notifications in mutation order.
	notifyMu sync.Mutex
	mu       sync.Mutex
	slots    map[Slot]*slotState
	stale    uint64
}

// New creates a sequencer
func New(opts ...Option) *Sequencer {
	q := &Sequencer{
		sched:           wallClock{},
		stepDelay:       DefaultStepDelay,
		visibilityDelay: DefaultVisibilityDelay,
		slots:           make(map[Slot]*slotState),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Begin starts a new pending session in slot, superseding whatever was
// there. Timers of the superseded session are stopped and, should one fire
// anyway, it is discarded.
func (q *Sequencer) Begin(slot Slot, question string) Ticket {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	st, ok := q.slots[slot]
	if !ok {
		st = &slotState{}
		q.slots[slot] = st
	}
	if st.session != nil && !st.session.Status.Terminal() {
		q.logger.Debug("superseding reasoning session", "slot", slot.String(),
			"session", st.session.ID, "status", st.session.Status.String())
	}
	st.stopTimers()
	st.generation++
	st.pending = nil
	st.session = &ReasoningSession{
		ID:         uuid.NewString(),
		Generation: st.generation,
		Slot:       slot,
		Question:   question,
		Status:     StatusPending,
		StartedAt:  q.sched.Now(),
	}
	ticket := Ticket{Slot: slot, Generation: st.generation, SessionID: st.session.ID}
	change := Change{Kind: ChangeBegun, Slot: slot, Index: -1, Session: st.session.clone()}
	q.mu.Unlock()

	q.emit(change)
	return ticket
}

// Deliver hands the batch returned by the agent call for t to the
// sequencer and starts revealing it.
func (q *Sequencer) Deliver(t Ticket, b Batch) error {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	st, err := q.currentLocked(t.Slot, t.Generation)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	s := st.session
	if s.Status != StatusPending {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotPending, t.Slot, s.Status)
	}

	s.Total = len(b.Steps)
	s.Conclusion = b.Conclusion

	var changes []Change
	if len(b.Steps) == 0 {
		s.NoSteps = true
		s.ConclusionShown = true
		s.Status = StatusComplete
		changes = append(changes, Change{Kind: ChangeCompleted, Slot: t.Slot, Index: -1, Session: s.clone()})
	} else {
		st.pending = append([]string(nil), b.Steps...)
		s.Status = StatusRevealing
		changes = q.revealLocked(st, t.Slot)
	}
	q.mu.Unlock()

	q.emit(changes...)
	return nil
}

// Fail moves the session for t to Errored. Steps revealed so far stay.
func (q *Sequencer) Fail(t Ticket, cause error) error {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	st, err := q.currentLocked(t.Slot, t.Generation)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	s := st.session
	if s.Status.Terminal() {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, t.Slot, s.Status)
	}
	st.stopTimers()
	st.pending = nil
	s.Status = StatusErrored
	s.Err = cause
	change := Change{Kind: ChangeErrored, Slot: t.Slot, Index: -1, Session: s.clone()}
	q.mu.Unlock()

	q.logger.Debug("reasoning session failed", "slot", t.Slot.String(), "error", cause)
	q.emit(change)
	return nil
}

// Dismiss destroys the session in slot. Any outstanding ticket or timer
// for it becomes stale.
func (q *Sequencer) Dismiss(slot Slot) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	st, ok := q.slots[slot]
	if !ok || st.session == nil {
		q.mu.Unlock()
		return
	}
	st.stopTimers()
	st.generation++
	st.pending = nil
	last := st.session.clone()
	st.session = nil
	q.mu.Unlock()

	q.emit(Change{Kind: ChangeDismissed, Slot: slot, Index: -1, Session: last})
}

// Session returns a copy of the session currently in slot.
func (q *Sequencer) Session(slot Slot) (ReasoningSession, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.slots[slot]
	if !ok || st.session == nil {
		return ReasoningSession{}, false
	}
	return st.session.clone(), true
}

// Current reports whether t still names the live invocation of its slot.
func (q *Sequencer) Current(t Ticket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.slots[t.Slot]
	return ok && st.session != nil && st.generation == t.Generation
}

// StaleCount returns how many stale results and timers have been discarded.
func (q *Sequencer) StaleCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stale
}

func (q *Sequencer) currentLocked(slot Slot, gen uint64) (*slotState, error) {
	st, ok := q.slots[slot]
	if !ok || st.session == nil || st.generation != gen {
		q.stale++
		q.logger.Debug("discarding stale reasoning callback", "slot", slot.String(), "generation", gen)
		return nil, ErrStaleCallback
	}
	return st, nil
}

// revealLocked reveals the next pending step and schedules what follows.
// Callers hold q.mu.
func (q *Sequencer) revealLocked(st *slotState, slot Slot) []Change {
	s := st.session
	idx := len(s.Steps)
	if idx >= len(st.pending) {
		return nil
	}
	s.Steps = append(s.Steps, Step{Text: st.pending[idx], RevealedAt: q.sched.Now()})
	changes := []Change{{Kind: ChangeRevealed, Slot: slot, Index: idx, Session: s.clone()}}

	gen := st.generation
	st.timers = append(st.timers, q.sched.AfterFunc(q.visibilityDelay, func() {
		q.onVisible(slot, gen, idx)
	}))

	if idx == len(st.pending)-1 {
		s.ConclusionShown = true
		s.Status = StatusComplete
		changes = append(changes, Change{Kind: ChangeCompleted, Slot: slot, Index: -1, Session: s.clone()})
		return changes
	}

	st.timers = append(st.timers, q.sched.AfterFunc(q.stepDelay, func() {
		q.onNextStep(slot, gen)
	}))
	return changes
}

func (q *Sequencer) onNextStep(slot Slot, gen uint64) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	st, err := q.currentLocked(slot, gen)
	if err != nil || st.session.Status != StatusRevealing {
		q.mu.Unlock()
		return
	}
	changes := q.revealLocked(st, slot)
	q.mu.Unlock()

	q.emit(changes...)
}

func (q *Sequencer) onVisible(slot Slot, gen uint64, idx int) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	st, err := q.currentLocked(slot, gen)
	if err != nil || st.session.Status == StatusErrored || idx >= len(st.session.Steps) {
		q.mu.Unlock()
		return
	}
	st.session.Steps[idx].Visible = true
	change := Change{Kind: ChangeVisible, Slot: slot, Index: idx, Session: st.session.clone()}
	q.mu.Unlock()

	q.emit(change)
}

func (q *Sequencer) emit(changes ...Change) {
	for _, c := range changes {
		for _, o := range q.observers {
			o(c)
		}
	}
}
