package model

import (
	"encoding/json"
	"strings"
)

// ItemStatus represents the status of a backlog item
type ItemStatus string

const (
	ItemStatusNotStarted ItemStatus = "Not Started"
	ItemStatusInProgress ItemStatus = "In Progress"
	ItemStatusCompleted  ItemStatus = "Completed"
	ItemStatusBlocked    ItemStatus = "Blocked"
)

// BacklogItem is one entry of a backlog list. Items have no identity of
// their own; they are positional within the list that owns them.
type BacklogItem struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Priority    int        `json:"priority"`
	Estimate    *int       `json:"estimate,omitempty"`
	Status      ItemStatus `json:"status,omitempty"`
}

// UnmarshalJSON fills in the default status and normalizes the spellings
// the backend has been seen to use.
func (b *BacklogItem) UnmarshalJSON(data []byte) error {
	type alias BacklogItem
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw.Status = ParseItemStatus(string(raw.Status))
	*b = BacklogItem(raw)
	return nil
}

// ParseItemStatus maps a backend status string onto an ItemStatus.
// Empty or unrecognized values are treated as not started.
func ParseItemStatus(s string) ItemStatus {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", " ")) {
	case "in progress":
		return ItemStatusInProgress
	case "completed", "complete", "done":
		return ItemStatusCompleted
	case "blocked":
		return ItemStatusBlocked
	default:
		return ItemStatusNotStarted
	}
}

// StatusIcon returns the icon for the item status
func (b BacklogItem) StatusIcon() string {
	switch b.Status {
	case ItemStatusInProgress:
		return "●"
	case ItemStatusCompleted:
		return "✓"
	case ItemStatusBlocked:
		return "⊘"
	default:
		return "○"
	}
}

// HasEstimate reports whether the backend supplied a story point estimate.
func (b BacklogItem) HasEstimate() bool {
	return b.Estimate != nil && *b.Estimate > 0
}

func cloneItems(items []BacklogItem) []BacklogItem {
	if items == nil {
		return nil
	}
	out := make([]BacklogItem, len(items))
	for i, it := range items {
		out[i] = it
		if it.Estimate != nil {
			est := *it.Estimate
			out[i].Estimate = &est
		}
	}
	return out
}
