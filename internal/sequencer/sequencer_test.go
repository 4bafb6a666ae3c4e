package sequencer

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesim/simdash/internal/model"
)

// manualClock is a Scheduler whose time only moves when the test says so.
type manualClock struct {
	mu         sync.Mutex
	now        time.Time
	seq        int
	timers     []*manualTimer
	ignoreStop bool // simulate timers that fire even after Stop
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.seq++
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.clock.ignoreStop || t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance fires every due timer in deadline order, including timers
// scheduled by callbacks that fall inside the window.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*manualTimer
		for _, t := range c.timers {
			if !t.fired && !t.stopped && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.fn()
	}
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) observe(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) kinds() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeKind, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Kind
	}
	return out
}

func newTestSequencer(t *testing.T) (*Sequencer, *manualClock, *recorder) {
	t.Helper()
	clock := newManualClock()
	rec := &recorder{}
	q := New(WithScheduler(clock), WithObserver(rec.observe))
	return q, clock, rec
}

var coachAsk = Slot{Panel: PanelAsk, Agent: model.AgentCoach}

func TestRevealsStepsAtFixedPace(t *testing.T) {
	q, clock, _ := newTestSequencer(t)
	start := clock.Now()

	ticket := q.Begin(coachAsk, "How should we size the PI?")
	s, ok := q.Session(coachAsk)
	require.True(t, ok)
	assert.Equal(t, StatusPending, s.Status)

	require.NoError(t, q.Deliver(ticket, Batch{
		Steps:      []string{"A", "B", "C"},
		Conclusion: "Done",
	}))

	s, _ = q.Session(coachAsk)
	assert.Equal(t, StatusRevealing, s.Status)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "A", s.Steps[0].Text)
	assert.Equal(t, start, s.Steps[0].RevealedAt)
	assert.False(t, s.Steps[0].Visible)
	assert.False(t, s.ConclusionShown)

	clock.Advance(DefaultVisibilityDelay)
	s, _ = q.Session(coachAsk)
	assert.True(t, s.Steps[0].Visible)

	clock.Advance(DefaultStepDelay - DefaultVisibilityDelay)
	s, _ = q.Session(coachAsk)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "B", s.Steps[1].Text)
	assert.Equal(t, start.Add(DefaultStepDelay), s.Steps[1].RevealedAt)
	assert.Equal(t, StatusRevealing, s.Status)

	clock.Advance(DefaultStepDelay)
	s, _ = q.Session(coachAsk)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, "C", s.Steps[2].Text)
	assert.Equal(t, start.Add(2*DefaultStepDelay), s.Steps[2].RevealedAt)
	assert.Equal(t, StatusComplete, s.Status)
	assert.True(t, s.ConclusionShown)
	assert.Equal(t, "Done", s.Conclusion)

	clock.Advance(time.Second)
	s, _ = q.Session(coachAsk)
	for i, step := range s.Steps {
		assert.True(t, step.Visible, "step %d", i)
	}
	assert.Len(t, s.Steps, 3, "nothing revealed after completion")
}

func TestObserverSeesChangesInOrder(t *testing.T) {
	q, clock, rec := newTestSequencer(t)

	ticket := q.Begin(coachAsk, "q")
	require.NoError(t, q.Deliver(ticket, Batch{Steps: []string{"A", "B"}, Conclusion: "C"}))
	clock.Advance(time.Second)

	assert.Equal(t, []ChangeKind{
		ChangeBegun,
		ChangeRevealed, ChangeVisible,
		ChangeRevealed, ChangeCompleted, ChangeVisible,
	}, rec.kinds())
}

func TestSupersededSessionNeverWrites(t *testing.T) {
	for _, ignoreStop := range []bool{false, true} {
		name := "stopped timers"
		if ignoreStop {
			name = "timers that fire after stop"
		}
		t.Run(name, func(t *testing.T) {
			q, clock, _ := newTestSequencer(t)
			clock.ignoreStop = ignoreStop

			first := q.Begin(coachAsk, "first")
			require.NoError(t, q.Deliver(first, Batch{Steps: []string{"a1", "a2", "a3"}, Conclusion: "A"}))

			second := q.Begin(coachAsk, "second")
			assert.NotEqual(t, first.Generation, second.Generation)
			assert.False(t, q.Current(first))
			assert.True(t, q.Current(second))

			// First invocation's timers are due here.
			clock.Advance(2 * DefaultStepDelay)

			s, ok := q.Session(coachAsk)
			require.True(t, ok)
			assert.Equal(t, "second", s.Question)
			assert.Equal(t, StatusPending, s.Status)
			assert.Empty(t, s.Steps)

			require.NoError(t, q.Deliver(second, Batch{Steps: []string{"b1", "b2"}, Conclusion: "B"}))
			clock.Advance(time.Second)

			s, _ = q.Session(coachAsk)
			require.Len(t, s.Steps, 2)
			assert.Equal(t, "b1", s.Steps[0].Text)
			assert.Equal(t, "b2", s.Steps[1].Text)
			assert.Equal(t, "B", s.Conclusion)
			assert.Equal(t, StatusComplete, s.Status)
		})
	}
}

func TestLateResultForSupersededInvocation(t *testing.T) {
	q, _, _ := newTestSequencer(t)

	first := q.Begin(coachAsk, "first")
	q.Begin(coachAsk, "second")

	err := q.Deliver(first, Batch{Steps: []string{"late"}})
	assert.True(t, errors.Is(err, ErrStaleCallback))
	assert.Equal(t, uint64(1), q.StaleCount())

	err = q.Fail(first, errors.New("boom"))
	assert.True(t, errors.Is(err, ErrStaleCallback))

	s, _ := q.Session(coachAsk)
	assert.Equal(t, StatusPending, s.Status)
	assert.Empty(t, s.Steps)
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	q, _, rec := newTestSequencer(t)

	ticket := q.Begin(coachAsk, "q")
	require.NoError(t, q.Deliver(ticket, Batch{Conclusion: "Just the answer"}))

	s, _ := q.Session(coachAsk)
	assert.Equal(t, StatusComplete, s.Status)
	assert.True(t, s.NoSteps)
	assert.True(t, s.ConclusionShown)
	assert.Equal(t, "Just the answer", s.Conclusion)
	assert.Equal(t, []ChangeKind{ChangeBegun, ChangeCompleted}, rec.kinds())
}

func TestFailKeepsRevealedSteps(t *testing.T) {
	q, clock, _ := newTestSequencer(t)

	ticket := q.Begin(coachAsk, "q")
	require.NoError(t, q.Deliver(ticket, Batch{Steps: []string{"A", "B", "C"}}))
	clock.Advance(DefaultStepDelay)

	require.NoError(t, q.Fail(ticket, errors.New("connection reset")))
	clock.Advance(5 * time.Second)

	s, _ := q.Session(coachAsk)
	assert.Equal(t, StatusErrored, s.Status)
	assert.EqualError(t, s.Err, "connection reset")
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "B", s.Steps[1].Text)
	assert.False(t, s.ConclusionShown)
}

func TestFailWhilePending(t *testing.T) {
	q, _, _ := newTestSequencer(t)

	ticket := q.Begin(coachAsk, "q")
	require.NoError(t, q.Fail(ticket, errors.New("HTTP 500")))

	s, _ := q.Session(coachAsk)
	assert.Equal(t, StatusErrored, s.Status)

	err := q.Fail(ticket, errors.New("again"))
	assert.True(t, errors.Is(err, ErrSessionClosed))
}

func TestDeliverTwice(t *testing.T) {
	q, _, _ := newTestSequencer(t)

	ticket := q.Begin(coachAsk, "q")
	require.NoError(t, q.Deliver(ticket, Batch{Steps: []string{"A", "B"}}))
	err := q.Deliver(ticket, Batch{Steps: []string{"X"}})
	assert.True(t, errors.Is(err, ErrNotPending))
}

func TestDismissDropsSession(t *testing.T) {
	q, clock, rec := newTestSequencer(t)

	ticket := q.Begin(coachAsk, "q")
	require.NoError(t, q.Deliver(ticket, Batch{Steps: []string{"A", "B", "C"}}))
	q.Dismiss(coachAsk)

	_, ok := q.Session(coachAsk)
	assert.False(t, ok)

	clock.Advance(5 * time.Second)
	_, ok = q.Session(coachAsk)
	assert.False(t, ok)
	assert.Contains(t, rec.kinds(), ChangeDismissed)

	err := q.Fail(ticket, errors.New("late"))
	assert.True(t, errors.Is(err, ErrStaleCallback))

	// Dismissing an empty slot is a no-op.
	q.Dismiss(Slot{Panel: PanelConfigDemo, Agent: model.AgentDeveloper})
}

func TestSlotsAreIndependent(t *testing.T) {
	q, clock, _ := newTestSequencer(t)

	coach := q.Begin(coachAsk, "coach question")
	dev := Slot{Panel: PanelChainOfThought, Agent: model.AgentDeveloper}
	devTicket := q.Begin(dev, "dev question")

	require.NoError(t, q.Deliver(coach, Batch{Steps: []string{"c1", "c2"}}))
	require.NoError(t, q.Deliver(devTicket, Batch{Steps: []string{"d1"}}))
	clock.Advance(time.Second)

	cs, _ := q.Session(coachAsk)
	ds, _ := q.Session(dev)
	assert.Equal(t, StatusComplete, cs.Status)
	assert.Equal(t, StatusComplete, ds.Status)
	assert.Len(t, cs.Steps, 2)
	assert.Len(t, ds.Steps, 1)
	assert.Zero(t, q.StaleCount())
}

func TestSessionReturnsCopy(t *testing.T) {
	q, _, _ := newTestSequencer(t)

	ticket := q.Begin(coachAsk, "q")
	require.NoError(t, q.Deliver(ticket, Batch{Steps: []string{"A", "B"}}))

	s, _ := q.Session(coachAsk)
	s.Steps[0].Text = "mutated"

	again, _ := q.Session(coachAsk)
	assert.Equal(t, "A", again.Steps[0].Text)
}

func TestCustomDelays(t *testing.T) {
	clock := newManualClock()
	q := New(WithScheduler(clock), WithStepDelay(100*time.Millisecond), WithVisibilityDelay(time.Millisecond))

	ticket := q.Begin(coachAsk, "q")
	require.NoError(t, q.Deliver(ticket, Batch{Steps: []string{"A", "B"}}))
	clock.Advance(100 * time.Millisecond)

	s, _ := q.Session(coachAsk)
	assert.Equal(t, StatusComplete, s.Status)
}
