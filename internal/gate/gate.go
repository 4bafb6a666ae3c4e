// Package gate derives which user actions are currently legal.
package gate

import (
	"fmt"

	"github.com/safesim/simdash/internal/model"
)

// Action identifies a user-facing control
type Action string

const (
	StartPI                 Action = "start_pi"
	EndPI                   Action = "end_pi"
	StartSprint             Action = "start_sprint"
	RunStandup              Action = "run_standup"
	EndSprint               Action = "end_sprint"
	SubmitChangeRequest     Action = "submit_change_request"
	SubmitTechnicalGuidance Action = "submit_technical_guidance"
	AskAgent                Action = "ask_agent"
)

var allActions = [...]Action{
	StartPI, EndPI, StartSprint, RunStandup, EndSprint,
	SubmitChangeRequest, SubmitTechnicalGuidance, AskAgent,
}

// Actions returns every action in a fixed order
func Actions() []Action {
	out := make([]Action, len(allActions))
	copy(out, allActions[:])
	return out
}

// ParseAction looks up an action by its identifier
func ParseAction(s string) (Action, error) {
	for _, a := range allActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// ControlSet records, for every action, whether it is enabled. It is a
// comparable value so two derivations can be checked with ==.
type ControlSet struct {
	enabled [len(allActions)]bool
}

// Enabled reports whether a is currently legal. Unknown actions are never
// enabled.
func (c ControlSet) Enabled(a Action) bool {
	for i, known := range allActions {
		if known == a {
			return c.enabled[i]
		}
	}
	return false
}

// EnabledActions lists the enabled actions in fixed order.
func (c ControlSet) EnabledActions() []Action {
	var out []Action
	for i, a := range allActions {
		if c.enabled[i] {
			out = append(out, a)
		}
	}
	return out
}

// Any reports whether at least one action is enabled.
func (c ControlSet) Any() bool {
	for _, e := range c.enabled {
		if e {
			return true
		}
	}
	return false
}

func (c *ControlSet) set(a Action, v bool) {
	for i, known := range allActions {
		if known == a {
			c.enabled[i] = v
			return
		}
	}
}

// DeriveControls computes the control set for s. It reads nothing but s, so
// the same snapshot always yields the same set.
func DeriveControls(s model.Snapshot) ControlSet {
	var c ControlSet
	piActive := s.CurrentPI > 0
	sprintActive := s.CurrentSprint > 0

	c.set(StartPI, s.Initialized && !piActive)
	c.set(EndPI, piActive)
	c.set(StartSprint, piActive && !sprintActive)
	c.set(RunStandup, sprintActive)
	c.set(EndSprint, sprintActive)
	c.set(SubmitChangeRequest, sprintActive)
	c.set(SubmitTechnicalGuidance, sprintActive)
	c.set(AskAgent, s.Initialized)
	return c
}

// Visibility says which groups of controls the dashboard shows at all
type Visibility struct {
	SetupForm      bool
	PIControls     bool
	SprintControls bool
	ChangeRequest  bool
	TechnicalInput bool
}

// DeriveVisibility computes which control groups are shown for s.
func DeriveVisibility(s model.Snapshot) Visibility {
	return Visibility{
		SetupForm:      !s.Initialized,
		PIControls:     s.Initialized,
		SprintControls: s.CurrentPI > 0,
		ChangeRequest:  s.CurrentSprint > 0,
		TechnicalInput: s.CurrentSprint > 0,
	}
}
