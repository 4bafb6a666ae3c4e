package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesim/simdash/internal/model"
)

func TestDeriveControlsRules(t *testing.T) {
	tests := []struct {
		name    string
		snap    model.Snapshot
		enabled []Action
	}{
		{
			name:    "not initialized",
			snap:    model.Snapshot{},
			enabled: nil,
		},
		{
			name:    "initialized, no PI",
			snap:    model.Snapshot{Initialized: true},
			enabled: []Action{StartPI, AskAgent},
		},
		{
			name:    "PI running, no sprint",
			snap:    model.Snapshot{Initialized: true, CurrentPI: 1},
			enabled: []Action{EndPI, StartSprint, AskAgent},
		},
		{
			name: "sprint running",
			snap: model.Snapshot{Initialized: true, CurrentPI: 1, CurrentSprint: 2, CurrentDay: 3},
			enabled: []Action{
				EndPI, RunStandup, EndSprint,
				SubmitChangeRequest, SubmitTechnicalGuidance, AskAgent,
			},
		},
		{
			// start_pi needs initialized; end_pi only looks at the counter
			name:    "uninitialized with stale PI counter",
			snap:    model.Snapshot{CurrentPI: 2},
			enabled: []Action{EndPI, StartSprint},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveControls(tt.snap)
			assert.Equal(t, tt.enabled, got.EnabledActions())
			for _, a := range Actions() {
				want := false
				for _, e := range tt.enabled {
					if e == a {
						want = true
					}
				}
				assert.Equal(t, want, got.Enabled(a), "action %s", a)
			}
		})
	}
}

func TestDeriveControlsIsDeterministic(t *testing.T) {
	snaps := []model.Snapshot{
		{},
		{Initialized: true},
		{Initialized: true, CurrentPI: 1},
		{Initialized: true, CurrentPI: 3, CurrentSprint: 1, CurrentDay: 9},
	}
	for _, s := range snaps {
		a := DeriveControls(s)
		b := DeriveControls(s)
		assert.True(t, a == b, "same snapshot must yield an identical control set")
	}
}

func TestLifecycleGating(t *testing.T) {
	before := DeriveControls(model.Snapshot{Initialized: false})
	assert.False(t, before.Any(), "nothing is available before initialize")

	afterInit := DeriveControls(model.Snapshot{Initialized: true, CurrentPI: 0})
	assert.True(t, afterInit.Enabled(StartPI))
	assert.False(t, afterInit.Enabled(EndPI))

	afterStartPI := DeriveControls(model.Snapshot{Initialized: true, CurrentPI: 1, CurrentSprint: 0})
	assert.False(t, afterStartPI.Enabled(StartPI))
	assert.True(t, afterStartPI.Enabled(EndPI))
	assert.True(t, afterStartPI.Enabled(StartSprint))
}

// The backend keeps its counters when a sprint or PI is closed, so the
// snapshot after end_sprint still reads sprint 1.
func TestGatingAfterClose(t *testing.T) {
	afterEndSprint := DeriveControls(model.Snapshot{Initialized: true, CurrentPI: 1, CurrentSprint: 1, CurrentDay: 1})
	assert.False(t, afterEndSprint.Enabled(StartSprint))
	assert.True(t, afterEndSprint.Enabled(EndSprint))
	assert.True(t, afterEndSprint.Enabled(RunStandup))

	afterEndPI := DeriveControls(model.Snapshot{Initialized: true, CurrentPI: 1, CurrentSprint: 1})
	assert.True(t, afterEndPI.Enabled(EndPI))
	assert.False(t, afterEndPI.Enabled(StartPI))
}

func TestUnknownActionNeverEnabled(t *testing.T) {
	c := DeriveControls(model.Snapshot{Initialized: true, CurrentPI: 1, CurrentSprint: 1})
	assert.False(t, c.Enabled(Action("delete_everything")))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("run_standup")
	require.NoError(t, err)
	assert.Equal(t, RunStandup, a)

	_, err = ParseAction("nope")
	assert.Error(t, err)
}

func TestDeriveVisibility(t *testing.T) {
	v := DeriveVisibility(model.Snapshot{})
	assert.True(t, v.SetupForm)
	assert.False(t, v.PIControls)

	v = DeriveVisibility(model.Snapshot{Initialized: true, CurrentPI: 1, CurrentSprint: 1})
	assert.False(t, v.SetupForm)
	assert.True(t, v.PIControls)
	assert.True(t, v.SprintControls)
	assert.True(t, v.ChangeRequest)
	assert.True(t, v.TechnicalInput)
}
