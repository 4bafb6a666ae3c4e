package model

import "fmt"

// AgentType identifies one of the conversational agent roles hosted by the
// backend. The values are the backend's wire names.
type AgentType string

const (
	AgentCoach       AgentType = "safe_coach"
	AgentScrumMaster AgentType = "scrum_master"
	AgentDeveloper   AgentType = "developer"
)

// Agents returns all agent roles in display order
func Agents() []AgentType {
	return []AgentType{AgentCoach, AgentScrumMaster, AgentDeveloper}
}

// ParseAgentType accepts the wire name or the short alias "coach".
func ParseAgentType(s string) (AgentType, error) {
	switch s {
	case "safe_coach", "coach":
		return AgentCoach, nil
	case "scrum_master", "sm":
		return AgentScrumMaster, nil
	case "developer", "dev":
		return AgentDeveloper, nil
	}
	return "", fmt.Errorf("unknown agent type %q", s)
}

// DisplayName returns the human readable role name
func (a AgentType) DisplayName() string {
	switch a {
	case AgentCoach:
		return "SAFe Coach"
	case AgentScrumMaster:
		return "Scrum Master"
	case AgentDeveloper:
		return "Developer"
	default:
		return string(a)
	}
}
