package api

import (
	"encoding/json"
	"fmt"

	"github.com/safesim/simdash/internal/model"
)

// InitializeRequest starts a new simulation
type InitializeRequest struct {
	ProjectName      string              `json:"project_name" validate:"required,max=200"`
	Configuration    model.Configuration `json:"configuration" validate:"required,oneof=essential large_solution portfolio full"`
	UseSampleBacklog bool                `json:"use_sample_backlog"`
	CustomBacklog    []model.BacklogItem `json:"custom_backlog,omitempty" validate:"omitempty,dive"`
	StrategicThemes  []string            `json:"strategic_themes,omitempty" validate:"omitempty,dive,required"`
}

// ChangeRequest is a mid-flight change submitted to the agents
type ChangeRequest struct {
	Description string `json:"description" validate:"required"`
	Priority    int    `json:"priority" validate:"min=1,max=10"`
	Urgency     string `json:"urgency,omitempty" validate:"omitempty,oneof=low medium high"`
	Estimate    int    `json:"estimate,omitempty" validate:"omitempty,min=1"`
	Strategic   bool   `json:"strategic"`
}

// DefaultChangePriority is the priority the change form starts at
const DefaultChangePriority = 5

// GuidanceRequest asks the developer agent for technical input
type GuidanceRequest struct {
	Topic string `json:"topic" validate:"required"`
}

// AskRequest is a free-form question to one agent
type AskRequest struct {
	AgentType model.AgentType `json:"agent_type" validate:"required,oneof=safe_coach scrum_master developer"`
	Question  string          `json:"question" validate:"required"`
}

// DemoRequest asks every agent to explain one configuration
type DemoRequest struct {
	ConfigType model.Configuration `json:"config_type" validate:"required,oneof=big_picture core_competencies essential large_solution portfolio full"`
}

// envelope is the wrapper every backend reply uses
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	State   *model.Snapshot `json:"state"`
}

// InitializeResult is the reply to Initialize
type InitializeResult struct {
	Message string
	State   *model.Snapshot
}

// PIStartResult is the reply to StartPI
type PIStartResult struct {
	PINumber            int                 `json:"pi_number"`
	StartDate           string              `json:"start_date"`
	PlannedEndDate      string              `json:"planned_end_date"`
	Scope               []model.BacklogItem `json:"scope"`
	PlanningDetails     string              `json:"planning_details"`
	PlanningDetailsHTML string              `json:"planning_details_html"`

	State *model.Snapshot `json:"-"`
}

// SprintStartResult is the reply to StartSprint
type SprintStartResult struct {
	SprintNumber        int                 `json:"sprint_number"`
	PINumber            int                 `json:"pi_number"`
	StartDate           string              `json:"start_date"`
	PlannedEndDate      string              `json:"planned_end_date"`
	Backlog             []model.BacklogItem `json:"backlog"`
	PlanningDetails     string              `json:"planning_details"`
	PlanningDetailsHTML string              `json:"planning_details_html"`

	State *model.Snapshot `json:"-"`
}

// StandupResult is the reply to DailyStandup
type StandupResult struct {
	Day                  int                   `json:"day"`
	Sprint               int                   `json:"sprint"`
	PI                   int                   `json:"pi"`
	Updates              []model.StandupUpdate `json:"updates"`
	Summary              string                `json:"standup_summary"`
	SummaryHTML          string                `json:"standup_summary_html"`
	ImpedimentsAddressed []string              `json:"impediments_addressed"`

	State *model.Snapshot `json:"-"`
}

// SprintEndResult is the reply to EndSprint
type SprintEndResult struct {
	SprintNumber      int                 `json:"sprint_number"`
	PINumber          int                 `json:"pi_number"`
	CompletedItems    []model.BacklogItem `json:"completed_items"`
	CompletionRate    float64             `json:"completion_rate"`
	Retrospective     string              `json:"retrospective"`
	RetrospectiveHTML string              `json:"retrospective_html"`
	TechnicalDebt     []string            `json:"technical_debt"`

	State *model.Snapshot `json:"-"`
}

// PIEndResult is the reply to EndPI
type PIEndResult struct {
	PINumber            int             `json:"pi_number"`
	SprintsCompleted    int             `json:"sprints_completed"`
	Metrics             model.PIMetrics `json:"metrics"`
	Achievements        []string        `json:"achievements"`
	InspectAndAdapt     string          `json:"inspect_and_adapt"`
	InspectAndAdaptHTML string          `json:"inspect_and_adapt_html"`

	State *model.Snapshot `json:"-"`
}

// ChangeResult is the reply to SubmitChangeRequest. Team-level changes with
// active developer work come back as a scrum master / developer pair,
// everything else as a single response.
type ChangeResult struct {
	Level           string `json:"level"`
	Handler         string `json:"handler"`
	Accepted        bool   `json:"accepted"`
	Response        string `json:"response"`
	ResponseHTML    string `json:"response_html"`
	SMResponse      string `json:"sm_response"`
	SMResponseHTML  string `json:"sm_response_html"`
	DevResponse     string `json:"dev_response"`
	DevResponseHTML string `json:"dev_response_html"`

	State *model.Snapshot `json:"-"`
}

// Paired reports whether the reply carries the scrum master / developer pair
func (r ChangeResult) Paired() bool {
	return r.ResponseHTML == "" && r.Response == "" && (r.SMResponse != "" || r.SMResponseHTML != "")
}

// GuidanceResult is the reply to SubmitTechnicalGuidance
type GuidanceResult struct {
	Topic        string `json:"topic"`
	Guidance     string `json:"guidance"`
	GuidanceHTML string `json:"guidance_html"`

	State *model.Snapshot `json:"-"`
}

// AgentAnswer is the reply to AskAgent
type AgentAnswer struct {
	Response     string          `json:"response"`
	ResponseHTML string          `json:"response_html"`
	Timestamp    string          `json:"timestamp"`
	State        *model.Snapshot `json:"state"`
}

// Reasoning is one agent's stepwise answer. The backend sends either the
// thought process with a conclusion, or a single pre-rendered html block.
type Reasoning struct {
	ThoughtProcess     []string `json:"thought_process"`
	ThoughtProcessHTML []string `json:"thought_process_html"`
	Conclusion         string   `json:"conclusion"`
	ConclusionHTML     string   `json:"conclusion_html"`
	HTML               string   `json:"html"`
}

// Steps returns the reasoning steps, preferring the plain text form. Steps
// in HTML form are reported with html set.
func (r Reasoning) Steps() (steps []string, html bool) {
	if len(r.ThoughtProcess) > 0 {
		return r.ThoughtProcess, false
	}
	if len(r.ThoughtProcessHTML) > 0 {
		return r.ThoughtProcessHTML, true
	}
	return nil, false
}

// Final returns the conclusion, preferring plain text. A reply in the
// single-block shape has its whole body as the conclusion.
func (r Reasoning) Final() (text string, html bool) {
	switch {
	case r.Conclusion != "":
		return r.Conclusion, false
	case r.ConclusionHTML != "":
		return r.ConclusionHTML, true
	default:
		return r.HTML, r.HTML != ""
	}
}

// Empty reports whether the agent sent nothing at all
func (r Reasoning) Empty() bool {
	steps, _ := r.Steps()
	final, _ := r.Final()
	return len(steps) == 0 && final == ""
}

// ChainOfThoughtResult is the reply to DemonstrateChainOfThought
type ChainOfThoughtResult struct {
	AgentType model.AgentType `json:"agent_type"`
	Question  string          `json:"question"`
	Reasoning
	Timestamp string          `json:"timestamp"`
	State     *model.Snapshot `json:"state"`
}

// ConfigDemoResult is the reply to DemonstrateConfig: one reasoning per
// agent for the requested configuration.
type ConfigDemoResult struct {
	ConfigType model.Configuration
	Agents     map[model.AgentType]Reasoning
	Timestamp  string
	State      *model.Snapshot
}

// demoKeys lists the keys each agent's reasoning may arrive under
var demoKeys = map[model.AgentType][]string{
	model.AgentCoach:       {"safe_coach", "coach"},
	model.AgentScrumMaster: {"scrum_master"},
	model.AgentDeveloper:   {"developer"},
}

// UnmarshalJSON accepts both reply shapes the backend has used for the
// configuration demo.
func (r *ConfigDemoResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Agents = make(map[model.AgentType]Reasoning, len(demoKeys))
	for agent, keys := range demoKeys {
		for _, k := range keys {
			body, ok := raw[k]
			if !ok || string(body) == "null" {
				continue
			}
			var rs Reasoning
			if err := json.Unmarshal(body, &rs); err != nil {
				return fmt.Errorf("decode %s reasoning: %w", k, err)
			}
			r.Agents[agent] = rs
			break
		}
	}

	if v, ok := raw["config_type"]; ok {
		if err := json.Unmarshal(v, &r.ConfigType); err != nil {
			return fmt.Errorf("decode config_type: %w", err)
		}
	}
	if v, ok := raw["timestamp"]; ok {
		_ = json.Unmarshal(v, &r.Timestamp)
	}
	if v, ok := raw["state"]; ok && string(v) != "null" {
		var s model.Snapshot
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		r.State = &s
	}
	return nil
}
