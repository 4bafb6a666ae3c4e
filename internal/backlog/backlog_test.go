package backlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesim/simdash/internal/model"
)

func sampleSnapshot() model.Snapshot {
	return model.Snapshot{
		Initialized: true,
		CurrentPI:   1,
		PIScope: []model.BacklogItem{
			{Name: "Dashboard UI", Priority: 8},
			{Name: "User Authentication", Priority: 10},
			{Name: "Data Export", Priority: 2},
		},
		SprintBacklog: []model.BacklogItem{{Name: "Dashboard UI", Priority: 8}},
	}
}

func TestSelectViewKeepsBackendOrder(t *testing.T) {
	vm, err := SelectView(sampleSnapshot(), ViewPIScope)
	require.NoError(t, err)

	assert.Equal(t, "PI Scope", vm.Title)
	assert.Equal(t, 3, vm.BadgeCount)
	assert.False(t, vm.Empty)
	names := []string{vm.Items[0].Name, vm.Items[1].Name, vm.Items[2].Name}
	assert.Equal(t, []string{"Dashboard UI", "User Authentication", "Data Export"}, names)
}

func TestSelectViewEmptyList(t *testing.T) {
	tests := []struct {
		name string
		snap model.Snapshot
		view View
		text string
	}{
		{"absent full backlog", sampleSnapshot(), ViewFullBacklog, "No items in the full backlog yet"},
		{"explicitly empty sprint backlog", model.Snapshot{SprintBacklog: []model.BacklogItem{}}, ViewSprintBacklog, "No items in the sprint backlog yet"},
		{"zero snapshot pi scope", model.Snapshot{}, ViewPIScope, "No items in the pi scope yet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, err := SelectView(tt.snap, tt.view)
			require.NoError(t, err)
			assert.True(t, vm.Empty)
			assert.Equal(t, 0, vm.BadgeCount)
			assert.NotNil(t, vm.Items, "items is an explicit empty list")
			assert.Len(t, vm.Items, 0)
			assert.Equal(t, tt.text, vm.EmptyText)
			assert.Equal(t, tt.view.Title(), vm.Title)
		})
	}
}

func TestSelectViewUnknown(t *testing.T) {
	_, err := SelectView(sampleSnapshot(), View("epics"))
	assert.True(t, errors.Is(err, ErrUnknownView))

	_, err = SelectView(sampleSnapshot(), ViewNone)
	assert.True(t, errors.Is(err, ErrUnknownView))
}

func TestSelectViewDoesNotAliasSnapshot(t *testing.T) {
	snap := sampleSnapshot()
	vm, err := SelectView(snap, ViewPIScope)
	require.NoError(t, err)
	vm.Items[0].Name = "changed"
	assert.Equal(t, "Dashboard UI", snap.PIScope[0].Name)
}

func TestSelectionRefresh(t *testing.T) {
	var sel Selection
	_, ok := sel.Refresh(sampleSnapshot())
	assert.False(t, ok, "no selection is a valid state and skips the selector")

	require.NoError(t, sel.Select(ViewSprintBacklog))
	vm, ok := sel.Refresh(sampleSnapshot())
	require.True(t, ok)
	assert.Equal(t, ViewSprintBacklog, vm.Which)
	assert.Equal(t, 1, vm.BadgeCount)

	// A later snapshot refreshes the same view, not whatever was rendered.
	next := sampleSnapshot()
	next.SprintBacklog = append(next.SprintBacklog, model.BacklogItem{Name: "API Integration"})
	vm, ok = sel.Refresh(next)
	require.True(t, ok)
	assert.Equal(t, 2, vm.BadgeCount)

	sel.Clear()
	assert.Equal(t, ViewNone, sel.Current())
}

func TestSelectionRejectsUnknown(t *testing.T) {
	var sel Selection
	assert.Error(t, sel.Select(View("bogus")))
	assert.Equal(t, ViewNone, sel.Current())
}

func TestPriorityBand(t *testing.T) {
	assert.Equal(t, BandHigh, PriorityBand(1))
	assert.Equal(t, BandHigh, PriorityBand(3))
	assert.Equal(t, BandMedium, PriorityBand(6))
	assert.Equal(t, BandLow, PriorityBand(7))
}
