package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Configuration is the SAFe configuration the simulation runs with
type Configuration string

const (
	ConfigEssential        Configuration = "essential"
	ConfigLargeSolution    Configuration = "large_solution"
	ConfigPortfolio        Configuration = "portfolio"
	ConfigFull             Configuration = "full"
	ConfigBigPicture       Configuration = "big_picture"
	ConfigCoreCompetencies Configuration = "core_competencies"
)

// SimulationConfigurations are the configurations a simulation can be
// initialized with.
func SimulationConfigurations() []Configuration {
	return []Configuration{ConfigEssential, ConfigLargeSolution, ConfigPortfolio, ConfigFull}
}

// DemoConfigurations are the configurations the backend can demonstrate.
func DemoConfigurations() []Configuration {
	return []Configuration{
		ConfigBigPicture, ConfigCoreCompetencies, ConfigEssential,
		ConfigLargeSolution, ConfigPortfolio, ConfigFull,
	}
}

// Title returns a display name for the configuration.
func (c Configuration) Title() string {
	switch c {
	case ConfigEssential:
		return "Essential SAFe"
	case ConfigLargeSolution:
		return "Large Solution SAFe"
	case ConfigPortfolio:
		return "Portfolio SAFe"
	case ConfigFull:
		return "Full SAFe"
	case ConfigBigPicture:
		return "SAFe Big Picture"
	case ConfigCoreCompetencies:
		return "Core Competencies"
	default:
		return string(c)
	}
}

// Metrics are the running delivery metrics reported by the backend
type Metrics struct {
	Velocity         int    `json:"velocity"`
	PointsCompleted  int    `json:"points_completed"`
	Impediments      int    `json:"impediments"`
	PIPredictability string `json:"pi_predictability"`
}

// UnmarshalJSON accepts numbers of either kind for the counters and a
// number or string for predictability.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metrics{PIPredictability: "N/A"}
	m.Velocity = rawInt(raw["velocity"])
	m.PointsCompleted = rawInt(raw["points_completed"])
	m.Impediments = rawInt(raw["impediments"])
	if v, ok := raw["pi_predictability"]; ok {
		if s := rawString(v); s != "" {
			m.PIPredictability = s
		}
	}
	return nil
}

// Snapshot is the complete simulation state as last reported by the
// backend. Every producing call returns a whole snapshot, so it is replaced
// as a unit and never patched field by field.
type Snapshot struct {
	Initialized   bool          `json:"initialized"`
	ProjectName   string        `json:"project_name"`
	Configuration Configuration `json:"configuration"`

	CurrentPI     int `json:"current_pi"`
	CurrentSprint int `json:"current_sprint"`
	CurrentDay    int `json:"current_day"`

	PIProgress      *float64 `json:"pi_progress,omitempty"`
	SprintProgress  *float64 `json:"sprint_progress,omitempty"`
	StoryCompletion *float64 `json:"story_completion,omitempty"`

	Metrics Metrics `json:"metrics"`

	PIScope       []BacklogItem `json:"pi_scope,omitempty"`
	SprintBacklog []BacklogItem `json:"sprint_backlog,omitempty"`
	FullBacklog   []BacklogItem `json:"full_backlog,omitempty"`

	BacklogSize     int    `json:"backlog_size,omitempty"`
	PIScopeSize     int    `json:"pi_scope_size,omitempty"`
	PIStartDate     string `json:"pi_start_date,omitempty"`
	SprintStartDate string `json:"sprint_start_date,omitempty"`
	EventCount      int    `json:"events,omitempty"`
	CommCount       int    `json:"communications,omitempty"`
}

// UnmarshalJSON decodes a backend state payload. The backend only sends
// state once a simulation exists, so a payload without an explicit
// "initialized" flag but with a project name counts as initialized.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type alias Snapshot
	var raw struct {
		alias
		Initialized *bool           `json:"initialized"`
		Metrics     json.RawMessage `json:"metrics"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Snapshot(raw.alias)
	s.Metrics = Metrics{PIPredictability: "N/A"}
	if len(raw.Metrics) > 0 && string(raw.Metrics) != "null" {
		if err := json.Unmarshal(raw.Metrics, &s.Metrics); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	if raw.Initialized != nil {
		s.Initialized = *raw.Initialized
	} else {
		s.Initialized = s.ProjectName != ""
	}
	return nil
}

// ErrNestingViolation is returned by Validate when a lower-level counter is
// running without its parent.
var ErrNestingViolation = errors.New("pi/sprint/day nesting violated")

// Validate checks the PI/Sprint/Day nesting invariant: a sprint only runs
// inside a PI and a day only inside a sprint.
func (s Snapshot) Validate() error {
	if s.CurrentPI < 0 || s.CurrentSprint < 0 || s.CurrentDay < 0 {
		return fmt.Errorf("%w: negative counter (pi=%d sprint=%d day=%d)",
			ErrNestingViolation, s.CurrentPI, s.CurrentSprint, s.CurrentDay)
	}
	if s.CurrentSprint > 0 && s.CurrentPI == 0 {
		return fmt.Errorf("%w: sprint %d without an active PI", ErrNestingViolation, s.CurrentSprint)
	}
	if s.CurrentDay > 0 && s.CurrentSprint == 0 {
		return fmt.Errorf("%w: day %d without an active sprint", ErrNestingViolation, s.CurrentDay)
	}
	return nil
}

// Clone returns a deep copy that shares no slices or pointers with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.PIProgress = cloneFloat(s.PIProgress)
	out.SprintProgress = cloneFloat(s.SprintProgress)
	out.StoryCompletion = cloneFloat(s.StoryCompletion)
	out.PIScope = cloneItems(s.PIScope)
	out.SprintBacklog = cloneItems(s.SprintBacklog)
	out.FullBacklog = cloneItems(s.FullBacklog)
	return out
}

// PhaseLabel formats a counter the way the dashboard shows it.
func PhaseLabel(prefix string, n int) string {
	if n <= 0 {
		return "Not started"
	}
	return prefix + " " + strconv.Itoa(n)
}

// Percent converts an optional fraction to a whole percentage.
func Percent(f *float64) (int, bool) {
	if f == nil {
		return 0, false
	}
	v := *f
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return int(v*100 + 0.5), true
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func rawInt(r json.RawMessage) int {
	if len(r) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(r, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(r, &s); err == nil {
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
	}
	return 0
}

func rawString(r json.RawMessage) string {
	if len(r) == 0 || string(r) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(r, &f); err == nil {
		return strconv.FormatFloat(f, 'f', 1, 64) + "%"
	}
	return ""
}
