package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesim/simdash/internal/model"
)

func TestApplyReplacesWholeSnapshot(t *testing.T) {
	st := New(nil)

	first := model.Snapshot{
		Initialized: true,
		ProjectName: "alpha",
		CurrentPI:   1,
		PIScope:     []model.BacklogItem{{Name: "a"}},
	}
	require.NoError(t, st.Apply(first))

	second := model.Snapshot{Initialized: true, ProjectName: "beta"}
	require.NoError(t, st.Apply(second))

	got, ok := st.Current()
	require.True(t, ok)
	assert.Equal(t, "beta", got.ProjectName)
	assert.Equal(t, 0, got.CurrentPI)
	assert.Nil(t, got.PIScope, "no field from the previous snapshot survives")
	assert.Equal(t, uint64(2), st.Version())
}

func TestApplyRejectsNestingViolations(t *testing.T) {
	tests := []struct {
		name string
		snap model.Snapshot
	}{
		{"sprint without pi", model.Snapshot{Initialized: true, CurrentSprint: 1}},
		{"day without sprint", model.Snapshot{Initialized: true, CurrentPI: 1, CurrentDay: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := New(nil)
			prior := model.Snapshot{Initialized: true, ProjectName: "keep", CurrentPI: 1}
			require.NoError(t, st.Apply(prior))

			notified := 0
			st.Subscribe(func(model.Snapshot) { notified++ })

			err := st.Apply(tt.snap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvariantViolation))
			assert.True(t, errors.Is(err, model.ErrNestingViolation))

			var merr *MergeError
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, InvariantViolation, merr.Kind)

			got, ok := st.Current()
			require.True(t, ok)
			assert.Equal(t, "keep", got.ProjectName)
			assert.Equal(t, 1, got.CurrentPI)
			assert.Equal(t, 0, notified, "rejected updates are not published")
			assert.Equal(t, uint64(1), st.Version())
		})
	}
}

func TestApplyIsLastAppliedWins(t *testing.T) {
	st := New(nil)
	u1 := model.Snapshot{Initialized: true, CurrentPI: 1, CurrentSprint: 1}
	u2 := model.Snapshot{Initialized: true, CurrentPI: 1, CurrentSprint: 2}

	// Causally newer data arrives first; arrival order still decides.
	require.NoError(t, st.Apply(u2))
	require.NoError(t, st.Apply(u1))

	got, _ := st.Current()
	assert.Equal(t, 1, got.CurrentSprint)
}

func TestSubscribersNotifiedOncePerApply(t *testing.T) {
	st := New(nil)

	var seen []int
	unsubscribe := st.Subscribe(func(s model.Snapshot) {
		seen = append(seen, s.CurrentPI)
	})

	require.NoError(t, st.Apply(model.Snapshot{Initialized: true}))
	require.NoError(t, st.Apply(model.Snapshot{Initialized: true, CurrentPI: 1}))
	unsubscribe()
	require.NoError(t, st.Apply(model.Snapshot{Initialized: true, CurrentPI: 2}))

	assert.Equal(t, []int{0, 1}, seen)
}

func TestSubscriberSeesAppliedStateDuringNotification(t *testing.T) {
	st := New(nil)
	var current model.Snapshot
	st.Subscribe(func(model.Snapshot) {
		current, _ = st.Current()
	})
	require.NoError(t, st.Apply(model.Snapshot{Initialized: true, CurrentPI: 3}))
	assert.Equal(t, 3, current.CurrentPI)
}

func TestCallerMutationDoesNotLeakIntoStore(t *testing.T) {
	st := New(nil)
	s := model.Snapshot{Initialized: true, FullBacklog: []model.BacklogItem{{Name: "orig"}}}
	require.NoError(t, st.Apply(s))

	s.FullBacklog[0].Name = "mutated"
	got, _ := st.Current()
	assert.Equal(t, "orig", got.FullBacklog[0].Name)

	got.FullBacklog[0].Name = "mutated again"
	again, _ := st.Current()
	assert.Equal(t, "orig", again.FullBacklog[0].Name)
}

func TestConcurrentAppliesAreSerialized(t *testing.T) {
	st := New(nil)

	var mu sync.Mutex
	var order []int
	st.Subscribe(func(s model.Snapshot) {
		mu.Lock()
		order = append(order, s.CurrentPI)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(pi int) {
			defer wg.Done()
			_ = st.Apply(model.Snapshot{Initialized: true, CurrentPI: pi})
		}(i)
	}
	wg.Wait()

	require.Len(t, order, 50)
	got, _ := st.Current()
	assert.Equal(t, order[len(order)-1], got.CurrentPI, "held snapshot is the last one published")
}

func TestCurrentBeforeFirstApply(t *testing.T) {
	st := New(nil)
	_, ok := st.Current()
	assert.False(t, ok)
}
