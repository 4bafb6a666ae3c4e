package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/backendtest"
	"github.com/safesim/simdash/internal/model"
	"github.com/safesim/simdash/internal/push"
	"github.com/safesim/simdash/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChannel(t *testing.T) (*Channel, *store.Store, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New(t)
	st := store.New(quietLogger())
	client := api.NewClient(srv.URL, api.WithTimeout(5*time.Second), api.WithLogger(quietLogger()))
	return New(client, st, "", quietLogger()), st, srv
}

func mustInitialize(t *testing.T, ch *Channel) {
	t.Helper()
	_, upd, err := ch.Initialize(context.Background(), api.InitializeRequest{
		ProjectName: "Apollo", Configuration: model.ConfigEssential, UseSampleBacklog: true,
	})
	require.NoError(t, err)
	require.NotNil(t, upd)
	require.NoError(t, ch.Deliver(*upd))
}

func TestCallUpdatesReachStoreOnlyThroughDeliver(t *testing.T) {
	ch, st, _ := newTestChannel(t)
	ctx := context.Background()

	_, upd, err := ch.Initialize(ctx, api.InitializeRequest{
		ProjectName: "Apollo", Configuration: model.ConfigPortfolio, UseSampleBacklog: true,
	})
	require.NoError(t, err)
	require.NotNil(t, upd)
	assert.Equal(t, SourceCall, upd.Source)
	assert.Equal(t, "initialize", upd.Origin)

	_, ok := st.Current()
	assert.False(t, ok, "a call result is not applied until delivered")

	require.NoError(t, ch.Deliver(*upd))
	cur, ok := st.Current()
	require.True(t, ok)
	assert.Equal(t, "Apollo", cur.ProjectName)
	assert.Equal(t, model.ConfigPortfolio, cur.Configuration)
}

func TestLifecycleThroughChannel(t *testing.T) {
	ch, st, _ := newTestChannel(t)
	ctx := context.Background()
	mustInitialize(t, ch)

	_, upd, err := ch.StartPI(ctx)
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(*upd))

	_, upd, err = ch.StartSprint(ctx)
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(*upd))

	res, upd, err := ch.DailyStandup(ctx)
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(*upd))
	assert.Equal(t, 1, res.Day)

	cur, _ := st.Current()
	assert.Equal(t, 1, cur.CurrentPI)
	assert.Equal(t, 1, cur.CurrentSprint)
	assert.Equal(t, 1, cur.CurrentDay)
	assert.Equal(t, "daily_standup", upd.Origin)
}

func TestRejectedCallLeavesSnapshotUnchanged(t *testing.T) {
	ch, st, _ := newTestChannel(t)
	mustInitialize(t, ch)
	before, _ := st.Current()
	version := st.Version()

	res, upd, err := ch.EndSprint(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrBackendRejection))
	assert.Nil(t, res)
	assert.Nil(t, upd)

	after, _ := st.Current()
	assert.Equal(t, before, after)
	assert.Equal(t, version, st.Version())
}

func TestDeliverRejectsInvalidSnapshot(t *testing.T) {
	ch, st, _ := newTestChannel(t)
	mustInitialize(t, ch)

	err := ch.Deliver(Update{Source: SourcePush, Origin: "sprint_started",
		Snapshot: model.Snapshot{Initialized: true, CurrentSprint: 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInvariantViolation))

	var merr *store.MergeError
	assert.True(t, errors.As(err, &merr))

	cur, _ := st.Current()
	assert.Equal(t, "Apollo", cur.ProjectName)
}

func TestFromPush(t *testing.T) {
	snap := &model.Snapshot{Initialized: true, CurrentPI: 1}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	u, ok := FromPush(push.Event{Name: push.EventPIStarted, Snapshot: snap, ReceivedAt: at})
	require.True(t, ok)
	assert.Equal(t, SourcePush, u.Source)
	assert.Equal(t, "pi_started", u.Origin)
	assert.Equal(t, 1, u.Snapshot.CurrentPI)
	assert.Equal(t, at, u.ReceivedAt)

	_, ok = FromPush(push.Event{Name: push.EventChangeProcessed, Other: true, Snapshot: snap})
	assert.False(t, ok)

	_, ok = FromPush(push.Event{Name: push.EventSimulationState})
	assert.False(t, ok, "state event without a snapshot")
}

func TestPushAndCallInterleaveLastWins(t *testing.T) {
	ch, st, srv := newTestChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mustInitialize(t, ch)

	pc, err := ch.ConnectPush(ctx)
	require.NoError(t, err)
	defer pc.Close()

	events := make(chan push.Event, 16)
	go pc.Run(ctx, func(ev push.Event) { events <- ev })

	// Joining produces a full state sync.
	sync := <-events
	u, ok := FromPush(sync)
	require.True(t, ok)
	require.NoError(t, ch.Deliver(u))

	// The call's own push echo and its response carry the same state; apply
	// both in arrival order.
	_, upd, err := ch.StartPI(ctx)
	require.NoError(t, err)
	echo := <-events
	assert.Equal(t, push.EventPIStarted, echo.Name)

	pu, ok := FromPush(echo)
	require.True(t, ok)
	require.NoError(t, ch.Deliver(pu))
	require.NoError(t, ch.Deliver(*upd))

	// A newer push after the call wins.
	srv.Emit(string(push.EventSprintStarted), map[string]any{
		"state": model.Snapshot{Initialized: true, ProjectName: "Apollo", CurrentPI: 1, CurrentSprint: 4},
	})
	latest := <-events
	lu, ok := FromPush(latest)
	require.True(t, ok)
	require.NoError(t, ch.Deliver(lu))

	cur, _ := st.Current()
	assert.Equal(t, 4, cur.CurrentSprint)
}

func TestFetchActivity(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	ctx := context.Background()
	mustInitialize(t, ch)
	_, _, err := ch.AskAgent(ctx, api.AskRequest{AgentType: model.AgentCoach, Question: "What is ART?"})
	require.NoError(t, err)

	act, err := ch.FetchActivity(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, act.Communications, 2)
	assert.NotEmpty(t, act.Events)
}

func TestFetchActivityFailsAsAWhole(t *testing.T) {
	ch, _, srv := newTestChannel(t)
	mustInitialize(t, ch)
	srv.Override("/api/events", func(w http.ResponseWriter, r *http.Request) {
		backendtest.Reject(w, http.StatusInternalServerError, "event log unavailable")
	})

	act, err := ch.FetchActivity(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, "event log unavailable", api.UserMessage(err))
	assert.Empty(t, act.Communications)
}

func TestFetchState(t *testing.T) {
	ch, st, srv := newTestChannel(t)
	srv.SetState(model.Snapshot{Initialized: true, ProjectName: "Remote", CurrentPI: 2, CurrentSprint: 1})

	upd, err := ch.FetchState(context.Background())
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(*upd))

	cur, _ := st.Current()
	assert.Equal(t, "Remote", cur.ProjectName)
	assert.Equal(t, "state", upd.Origin)
}

type recorded struct {
	source, origin string
	version        uint64
	sprint         int
}

type fakeRecorder struct {
	got  []recorded
	fail bool
}

func (f *fakeRecorder) RecordSnapshot(source, origin string, version uint64, s model.Snapshot) error {
	if f.fail {
		return errors.New("disk full")
	}
	f.got = append(f.got, recorded{source, origin, version, s.CurrentSprint})
	return nil
}

func TestRecorderSeesAppliedUpdatesOnly(t *testing.T) {
	ch, st, _ := newTestChannel(t)
	rec := &fakeRecorder{}
	ch.SetRecorder(rec)
	mustInitialize(t, ch)

	err := ch.Deliver(Update{Source: SourcePush, Origin: "sprint_started",
		Snapshot: model.Snapshot{Initialized: true, CurrentSprint: 1}})
	require.Error(t, err)

	require.NoError(t, ch.Deliver(Update{Source: SourcePush, Origin: "sprint_started",
		Snapshot: model.Snapshot{Initialized: true, ProjectName: "Apollo", CurrentPI: 1, CurrentSprint: 1}}))

	require.Len(t, rec.got, 2)
	assert.Equal(t, recorded{"call", "initialize", 1, 0}, rec.got[0])
	assert.Equal(t, recorded{"push", "sprint_started", 2, 1}, rec.got[1])
	assert.Equal(t, uint64(2), st.Version())
}

func TestRecorderFailureDoesNotFailDelivery(t *testing.T) {
	ch, st, _ := newTestChannel(t)
	ch.SetRecorder(&fakeRecorder{fail: true})
	mustInitialize(t, ch)

	cur, ok := st.Current()
	require.True(t, ok)
	assert.Equal(t, "Apollo", cur.ProjectName)
}
