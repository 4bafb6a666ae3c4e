package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/safesim/simdash/internal/sequencer"
)

// timerFiredMsg is delivered when a sequencer timer comes due
type timerFiredMsg struct {
	id uint64
}

// loopScheduler runs sequencer callbacks on the bubbletea update loop.
// AfterFunc queues a tick command instead of starting a goroutine; the model
// drains the queue after every Update and runs the callback when the tick
// message arrives. It is only touched from the update loop.
type loopScheduler struct {
	now    func() time.Time
	nextID uint64
	timers map[uint64]*loopTimer
	queued []tea.Cmd
}

type loopTimer struct {
	sched *loopScheduler
	id    uint64
	fn    func()
}

func (t *loopTimer) Stop() bool {
	if _, ok := t.sched.timers[t.id]; !ok {
		return false
	}
	delete(t.sched.timers, t.id)
	return true
}

func newLoopScheduler() *loopScheduler {
	return &loopScheduler{now: time.Now, timers: make(map[uint64]*loopTimer)}
}

func (s *loopScheduler) AfterFunc(d time.Duration, fn func()) sequencer.Timer {
	s.nextID++
	t := &loopTimer{sched: s, id: s.nextID, fn: fn}
	s.timers[t.id] = t
	id := t.id
	s.queued = append(s.queued, tea.Tick(d, func(time.Time) tea.Msg {
		return timerFiredMsg{id: id}
	}))
	return t
}

func (s *loopScheduler) Now() time.Time { return s.now() }

// fire runs the callback for id. Stopped timers are ignored.
func (s *loopScheduler) fire(id uint64) bool {
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	t.fn()
	return true
}

// drain returns the tick commands queued since the last drain
func (s *loopScheduler) drain() []tea.Cmd {
	cmds := s.queued
	s.queued = nil
	return cmds
}

// pending returns how many timers are armed
func (s *loopScheduler) pending() int { return len(s.timers) }
