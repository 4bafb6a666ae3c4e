package sequencer

import (
	"time"

	"github.com/safesim/simdash/internal/model"
)

// Panel names a part of the dashboard that hosts reasoning sessions
type Panel string

const (
	PanelAsk            Panel = "ask"
	PanelChainOfThought Panel = "chain_of_thought"
	PanelConfigDemo     Panel = "config_demo"
)

// Slot is the logical UI slot a session belongs to. Starting a new session
// in a slot supersedes the one already there.
type Slot struct {
	Panel Panel
	Agent model.AgentType
}

func (s Slot) String() string {
	return string(s.Panel) + "/" + string(s.Agent)
}

// Status is the lifecycle state of a reasoning session
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusRevealing
	StatusComplete
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRevealing:
		return "revealing"
	case StatusComplete:
		return "complete"
	case StatusErrored:
		return "errored"
	default:
		return "idle"
	}
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusErrored
}

// Step is one revealed reasoning step
type Step struct {
	Text       string
	Visible    bool
	RevealedAt time.Time
}

// ReasoningSession is one agent invocation and how much of its answer has
// been shown so far.
type ReasoningSession struct {
	ID         string
	Generation uint64
	Slot       Slot
	Question   string

	Steps           []Step // revealed steps, in order
	Total           int    // steps in the delivered batch
	Conclusion      string
	ConclusionShown bool
	NoSteps         bool

	Status    Status
	Err       error
	StartedAt time.Time
}

// Revealed returns how many steps have been revealed
func (s ReasoningSession) Revealed() int { return len(s.Steps) }

func (s ReasoningSession) clone() ReasoningSession {
	out := s
	out.Steps = make([]Step, len(s.Steps))
	copy(out.Steps, s.Steps)
	return out
}

// Ticket identifies one invocation. Results for an invocation are handed
// back with its ticket so a superseded invocation can be recognized.
type Ticket struct {
	Slot       Slot
	Generation uint64
	SessionID  string
}

// Batch is the complete answer returned by one agent call
type Batch struct {
	Steps      []string
	Conclusion string
}

// ChangeKind describes what happened to a session
type ChangeKind string

const (
	ChangeBegun     ChangeKind = "begun"
	ChangeRevealed  ChangeKind = "revealed"
	ChangeVisible   ChangeKind = "visible"
	ChangeCompleted ChangeKind = "completed"
	ChangeErrored   ChangeKind = "errored"
	ChangeDismissed ChangeKind = "dismissed"
)

// Change is published to observers after every session mutation
type Change struct {
	Kind    ChangeKind
	Slot    Slot
	Index   int // step index for revealed/visible, -1 otherwise
	Session ReasoningSession
}
