package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/config"
	"github.com/safesim/simdash/internal/model"
	"github.com/safesim/simdash/internal/sequencer"
)

func feed(t *testing.T, f Form, keys ...string) (Form, formOutcome) {
	t.Helper()
	km := DefaultKeyMap()
	outcome := formEditing
	for _, k := range keys {
		f, _, outcome = f.HandleKey(keyMsg(k), km)
	}
	return f, outcome
}

func TestSetupFormDefaults(t *testing.T) {
	d := config.SetupDefaults{ProjectName: "Apollo", Configuration: model.ConfigPortfolio, UseSampleBacklog: true}
	req := NewSetupForm(d).InitializeRequest()

	want := api.InitializeRequest{ProjectName: "Apollo", Configuration: model.ConfigPortfolio, UseSampleBacklog: true}
	if req.ProjectName != want.ProjectName || req.Configuration != want.Configuration || req.UseSampleBacklog != want.UseSampleBacklog {
		t.Errorf("request = %+v, want %+v", req, want)
	}
}

func TestSetupFormChoiceAndToggle(t *testing.T) {
	f := NewSetupForm(config.SetupDefaults{ProjectName: "x", Configuration: model.ConfigEssential, UseSampleBacklog: true})

	f, outcome := feed(t, f, "tab", "right", "tab", " ")
	if outcome != formEditing {
		t.Fatalf("outcome = %d", outcome)
	}
	req := f.InitializeRequest()
	if req.Configuration != model.ConfigLargeSolution {
		t.Errorf("configuration = %s, want large_solution", req.Configuration)
	}
	if req.UseSampleBacklog {
		t.Error("space should have toggled the sample backlog off")
	}

	// wraps backwards from the first option
	f, _ = feed(t, f, "up", "left", "left")
	if got := f.InitializeRequest().Configuration; got != model.ConfigFull {
		t.Errorf("configuration = %s, want full", got)
	}
}

func TestChangeFormPriority(t *testing.T) {
	tests := []struct {
		name     string
		priority string
		want     int
	}{
		{"default", "", api.DefaultChangePriority},
		{"typed", "8", 8},
		{"not a number", "x", api.DefaultChangePriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewChangeForm()
			f.fields[0].input.SetValue("Add SSO")
			if tt.priority != "" {
				f.fields[1].input.SetValue(tt.priority)
			}
			req := f.ChangeRequest()
			if req.Priority != tt.want {
				t.Errorf("priority = %d, want %d", req.Priority, tt.want)
			}
			if req.Description != "Add SSO" {
				t.Errorf("description = %q", req.Description)
			}
		})
	}
}

func TestFormSubmitAndCancel(t *testing.T) {
	if _, outcome := feed(t, NewGuidanceForm(), "enter"); outcome != formSubmitted {
		t.Errorf("enter: outcome = %d", outcome)
	}
	if _, outcome := feed(t, NewGuidanceForm(), "esc"); outcome != formCancelled {
		t.Errorf("esc: outcome = %d", outcome)
	}
}

func TestDemoFormPreselectsCurrent(t *testing.T) {
	f := NewDemoForm(model.ConfigPortfolio)
	if got := f.DemoRequest().ConfigType; got != model.ConfigPortfolio {
		t.Errorf("config = %s", got)
	}
}

func TestLoopScheduler(t *testing.T) {
	s := newLoopScheduler()
	var fired []string

	a := s.AfterFunc(time.Millisecond, func() { fired = append(fired, "a") })
	s.AfterFunc(time.Millisecond, func() { fired = append(fired, "b") })

	if got := len(s.drain()); got != 2 {
		t.Fatalf("drained %d commands, want 2", got)
	}
	if got := len(s.drain()); got != 0 {
		t.Errorf("second drain returned %d commands", got)
	}
	if !a.Stop() {
		t.Error("stopping an armed timer should report true")
	}
	if a.Stop() {
		t.Error("stopping twice should report false")
	}

	if s.fire(1) {
		t.Error("a stopped timer must not fire")
	}
	if !s.fire(2) {
		t.Error("timer 2 should fire")
	}
	if s.fire(2) {
		t.Error("a timer fires once")
	}
	if len(fired) != 1 || fired[0] != "b" {
		t.Errorf("fired = %v", fired)
	}
	if s.pending() != 0 {
		t.Errorf("pending = %d", s.pending())
	}
}

func TestLoopSchedulerTickCarriesID(t *testing.T) {
	s := newLoopScheduler()
	s.AfterFunc(time.Millisecond, func() {})
	cmds := s.drain()

	msg, ok := cmds[0]().(timerFiredMsg)
	if !ok || msg.id != 1 {
		t.Errorf("msg = %#v", msg)
	}
}

func TestDebugPanelRecordsWhileHidden(t *testing.T) {
	d := NewDebugPanel(false)
	d.buffer = 3
	for i := range 5 {
		d.AddEvent("apply", string(rune('a'+i)))
	}
	d.AddChange(sequencer.Change{
		Kind:  sequencer.ChangeRevealed,
		Slot:  sequencer.Slot{Panel: sequencer.PanelAsk, Agent: model.AgentDeveloper},
		Index: 0,
		Session: sequencer.ReasoningSession{
			Generation: 2, Status: sequencer.StatusRevealing, Total: 3,
		},
	})

	lines := d.Lines()
	if len(lines) != 3 {
		t.Fatalf("kept %d lines, want 3", len(lines))
	}
	if d.Render(80, 10) != "" {
		t.Error("hidden panel should render nothing")
	}
	d.Toggle()
	if d.Render(80, 10) == "" {
		t.Error("visible panel should render")
	}
	last := lines[len(lines)-1]
	if want := "[session:revealed] ask/developer gen=2 revealing step=1/3"; !strings.Contains(last, want) {
		t.Errorf("last line = %q, want it to contain %q", last, want)
	}
}
