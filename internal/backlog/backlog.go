// Package backlog turns a snapshot into the backlog list the user asked to see.
package backlog

import (
	"errors"
	"fmt"

	"github.com/safesim/simdash/internal/model"
)

// View selects one of the backlog lists carried by a snapshot
type View string

const (
	ViewNone          View = ""
	ViewPIScope       View = "pi_scope"
	ViewSprintBacklog View = "sprint_backlog"
	ViewFullBacklog   View = "full_backlog"
)

// ErrUnknownView is returned for a View the selector does not know
var ErrUnknownView = errors.New("unknown backlog view")

// Views returns the selectable views in display order
func Views() []View {
	return []View{ViewPIScope, ViewSprintBacklog, ViewFullBacklog}
}

// ParseView maps an identifier to a View
func ParseView(s string) (View, error) {
	for _, v := range Views() {
		if string(v) == s {
			return v, nil
		}
	}
	return ViewNone, fmt.Errorf("%w: %q", ErrUnknownView, s)
}

// Title returns the heading shown for the view
func (v View) Title() string {
	switch v {
	case ViewPIScope:
		return "PI Scope"
	case ViewSprintBacklog:
		return "Sprint Backlog"
	case ViewFullBacklog:
		return "Full Backlog"
	default:
		return ""
	}
}

// ViewModel is a render-ready backlog list
type ViewModel struct {
	Which      View
	Title      string
	BadgeCount int
	Items      []model.BacklogItem
	Empty      bool
	EmptyText  string
}

// SelectView picks the list named by which out of s. Items keep the order
// the backend sent them in. A missing or empty list yields an empty view
// model, not an error.
func SelectView(s model.Snapshot, which View) (ViewModel, error) {
	var items []model.BacklogItem
	switch which {
	case ViewPIScope:
		items = s.PIScope
	case ViewSprintBacklog:
		items = s.SprintBacklog
	case ViewFullBacklog:
		items = s.FullBacklog
	default:
		return ViewModel{}, fmt.Errorf("%w: %q", ErrUnknownView, string(which))
	}

	vm := ViewModel{
		Which:      which,
		Title:      which.Title(),
		BadgeCount: len(items),
		Items:      make([]model.BacklogItem, len(items)),
	}
	copy(vm.Items, items)
	if len(items) == 0 {
		vm.Empty = true
		vm.EmptyText = "No items in the " + emptyLabel(which) + " yet"
	}
	return vm, nil
}

func emptyLabel(v View) string {
	switch v {
	case ViewPIScope:
		return "pi scope"
	case ViewSprintBacklog:
		return "sprint backlog"
	default:
		return "full backlog"
	}
}

// Selection is the explicit "currently selected view" held in application
// state. The zero value means nothing is selected.
type Selection struct {
	current View
}

// Select records v as the current view
func (s *Selection) Select(v View) error {
	if v != ViewNone {
		if _, err := ParseView(string(v)); err != nil {
			return err
		}
	}
	s.current = v
	return nil
}

// Clear drops the selection
func (s *Selection) Clear() { s.current = ViewNone }

// Current returns the selected view, ViewNone if there is none
func (s Selection) Current() View { return s.current }

// Refresh recomputes the view model for the current selection. ok is false
// when nothing is selected, in which case the selector is not consulted.
func (s Selection) Refresh(snap model.Snapshot) (vm ViewModel, ok bool) {
	if s.current == ViewNone {
		return ViewModel{}, false
	}
	vm, err := SelectView(snap, s.current)
	if err != nil {
		return ViewModel{}, false
	}
	return vm, true
}

// Band is a coarse priority grouping used for colouring
type Band int

const (
	BandHigh Band = iota
	BandMedium
	BandLow
)

// PriorityBand groups a priority the way the dashboard colours it.
func PriorityBand(priority int) Band {
	switch {
	case priority <= 3:
		return BandHigh
	case priority <= 6:
		return BandMedium
	default:
		return BandLow
	}
}
