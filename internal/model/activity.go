package model

import "time"

// Communication is one message exchanged between the user and the agents
type Communication struct {
	DateTime    string `json:"datetime"`
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	Message     string `json:"message"`
	MessageHTML string `json:"message_html,omitempty"`
	PI          any    `json:"pi,omitempty"`
	Sprint      any    `json:"sprint,omitempty"`
}

// Event is one entry of the simulation event log
type Event struct {
	DateTime    string `json:"datetime"`
	Type        string `json:"type"`
	Description string `json:"description"`
	PI          any    `json:"pi,omitempty"`
	Sprint      any    `json:"sprint,omitempty"`
	Day         any    `json:"day,omitempty"`
}

// StandupUpdate is one team member's report from a daily standup
type StandupUpdate struct {
	Member     string `json:"member"`
	Status     string `json:"status"`
	Impediment string `json:"impediment,omitempty"`
}

// PIMetrics are the closing metrics reported when a PI ends
type PIMetrics struct {
	Predictability float64 `json:"predictability"`
	BusinessValue  float64 `json:"business_value"`
}

// ActivityKind classifies entries of the local activity feed
type ActivityKind string

const (
	ActivityLifecycle ActivityKind = "lifecycle"
	ActivityChange    ActivityKind = "change"
	ActivityGuidance  ActivityKind = "guidance"
	ActivityAgent     ActivityKind = "agent"
	ActivityError     ActivityKind = "error"
	ActivitySystem    ActivityKind = "system"
)

// Activity is a rendered summary of the last thing that happened, kept by
// the dashboard for its activity and response panes.
type Activity struct {
	Kind      ActivityKind
	Title     string
	Lines     []string
	Detail    string // plain-text body (converted from the backend's HTML)
	Timestamp time.Time
}
