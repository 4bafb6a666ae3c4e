package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesim/simdash/internal/backendtest"
	"github.com/safesim/simdash/internal/model"
)

func newTestClient(t *testing.T) (*Client, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New(t)
	return NewClient(srv.URL, WithTimeout(5*time.Second)), srv
}

func initialize(t *testing.T, c *Client) *InitializeResult {
	t.Helper()
	res, err := c.Initialize(context.Background(), InitializeRequest{
		ProjectName:      "Apollo",
		Configuration:    model.ConfigEssential,
		UseSampleBacklog: true,
	})
	require.NoError(t, err)
	return res
}

func TestInitializeReturnsState(t *testing.T) {
	c, srv := newTestClient(t)

	res := initialize(t, c)
	require.NotNil(t, res.State)
	assert.True(t, res.State.Initialized)
	assert.Equal(t, "Apollo", res.State.ProjectName)
	assert.Equal(t, model.ConfigEssential, res.State.Configuration)
	assert.Len(t, res.State.FullBacklog, len(backendtest.SampleBacklog()))
	assert.Contains(t, res.Message, "essential")

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "application/json", reqs[0].ContentType)
	assert.NotEmpty(t, reqs[0].RequestID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, "Apollo", body["project_name"])
	assert.Equal(t, true, body["use_sample_backlog"])
}

func TestLifecycleCalls(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	initialize(t, c)

	pi, err := c.StartPI(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pi.PINumber)
	assert.Len(t, pi.Scope, 3)
	assert.Equal(t, "<p>PI 1 planned with 3 features</p>", pi.PlanningDetailsHTML)
	require.NotNil(t, pi.State)
	assert.Equal(t, 1, pi.State.CurrentPI)

	sprint, err := c.StartSprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sprint.SprintNumber)
	assert.Len(t, sprint.State.SprintBacklog, 2)

	standup, err := c.DailyStandup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, standup.Day)
	assert.Len(t, standup.Updates, 2)
	assert.Equal(t, []string{"Test data missing"}, standup.ImpedimentsAddressed)

	end, err := c.EndSprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, end.SprintNumber)
	assert.InDelta(t, 0.85, end.CompletionRate, 0.001)
	assert.Equal(t, 1, end.State.CurrentSprint, "ending a sprint keeps the counter")
	assert.Equal(t, 1, end.State.CurrentDay)

	endPI, err := c.EndPI(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, endPI.State.CurrentPI, "ending a PI keeps the counter")
	assert.Equal(t, 1, endPI.State.CurrentSprint)
	assert.InDelta(t, 87.5, endPI.Metrics.Predictability, 0.001)
	assert.Equal(t, "87.5%", endPI.State.Metrics.PIPredictability)
}

func TestRejectionCarriesBackendMessage(t *testing.T) {
	c, _ := newTestClient(t)
	initialize(t, c)

	_, err := c.StartSprint(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendRejection))
	assert.False(t, errors.Is(err, ErrNetworkFailure))

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "Must start a PI first", rej.Message)
	assert.Equal(t, http.StatusBadRequest, rej.StatusCode)
	assert.Equal(t, "Must start a PI first", UserMessage(err))
}

func TestUndecodableBodyIsNetworkFailure(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Override("/api/start_pi", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html>Internal Server Error</html>"))
	})

	_, err := c.StartPI(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkFailure))

	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, http.StatusInternalServerError, nerr.StatusCode)
	assert.Equal(t, "start_pi", nerr.Op)
}

func TestUnreachableServerIsNetworkFailure(t *testing.T) {
	srv := backendtest.New(t)
	url := srv.URL
	srv.Close()

	c := NewClient(url, WithTimeout(time.Second))
	_, err := c.FetchState(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkFailure))
	assert.True(t, strings.HasPrefix(UserMessage(err), "Could not reach the simulation server"))
}

func TestRequestValidation(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"missing project name", func() error {
			_, err := c.Initialize(ctx, InitializeRequest{Configuration: model.ConfigEssential})
			return err
		}},
		{"demo-only configuration", func() error {
			_, err := c.Initialize(ctx, InitializeRequest{ProjectName: "x", Configuration: model.ConfigBigPicture})
			return err
		}},
		{"priority out of range", func() error {
			_, err := c.SubmitChangeRequest(ctx, ChangeRequest{Description: "x", Priority: 11})
			return err
		}},
		{"empty change description", func() error {
			_, err := c.SubmitChangeRequest(ctx, ChangeRequest{Priority: DefaultChangePriority})
			return err
		}},
		{"unknown agent", func() error {
			_, err := c.AskAgent(ctx, AskRequest{AgentType: "product_owner", Question: "?"})
			return err
		}},
		{"empty question", func() error {
			_, err := c.DemonstrateChainOfThought(ctx, AskRequest{AgentType: model.AgentCoach})
			return err
		}},
		{"empty topic", func() error {
			_, err := c.SubmitTechnicalGuidance(ctx, GuidanceRequest{})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrNetworkFailure))
			assert.False(t, errors.Is(err, ErrBackendRejection))
		})
	}
	assert.Empty(t, srv.Requests(), "invalid requests never reach the backend")
}

func TestChangeRequestShapes(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	initialize(t, c)

	single, err := c.SubmitChangeRequest(ctx, ChangeRequest{Description: "New market", Priority: 9, Strategic: true})
	require.NoError(t, err)
	assert.False(t, single.Paired())
	assert.Equal(t, "<p>Accept for next PI.</p>", single.ResponseHTML)
	assert.NotNil(t, single.State)

	paired, err := c.SubmitChangeRequest(ctx, ChangeRequest{Description: "Add export", Priority: DefaultChangePriority})
	require.NoError(t, err)
	assert.True(t, paired.Paired())
	assert.Equal(t, "<p>We can absorb it.</p>", paired.SMResponseHTML)
	assert.Equal(t, "<p>Two days of work.</p>", paired.DevResponseHTML)
}

func TestAskAgentAndChainOfThought(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	initialize(t, c)

	ans, err := c.AskAgent(ctx, AskRequest{AgentType: model.AgentScrumMaster, Question: "Ready?"})
	require.NoError(t, err)
	assert.Equal(t, "Answer from scrum_master: Ready?", ans.Response)
	require.NotNil(t, ans.State)
	assert.Equal(t, 2, ans.State.CommCount)

	cot, err := c.DemonstrateChainOfThought(ctx, AskRequest{AgentType: model.AgentDeveloper, Question: "How?"})
	require.NoError(t, err)
	steps, html := cot.Steps()
	assert.False(t, html)
	assert.Equal(t, []string{"developer step 1", "developer step 2", "developer step 3"}, steps)
	final, _ := cot.Final()
	assert.Equal(t, "developer conclusion", final)
	assert.Equal(t, model.AgentDeveloper, cot.AgentType)
	assert.NotNil(t, cot.State)
}

func TestDemonstrateConfig(t *testing.T) {
	c, _ := newTestClient(t)
	initialize(t, c)

	res, err := c.DemonstrateConfig(context.Background(), DemoRequest{ConfigType: model.ConfigPortfolio})
	require.NoError(t, err)
	assert.Equal(t, model.ConfigPortfolio, res.ConfigType)
	require.Len(t, res.Agents, 3)

	coach := res.Agents[model.AgentCoach]
	steps, _ := coach.Steps()
	assert.Len(t, steps, 2)
	assert.NotNil(t, res.State)
}

func TestConfigDemoDecoderAcceptsBothShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		agent     model.AgentType
		wantSteps int
		wantFinal string
		wantHTML  bool
	}{
		{
			name:      "safe_coach key with thought process",
			body:      `{"config_type":"full","safe_coach":{"thought_process":["a","b"],"conclusion":"c"}}`,
			agent:     model.AgentCoach,
			wantSteps: 2,
			wantFinal: "c",
		},
		{
			name:      "coach key with html steps only",
			body:      `{"coach":{"thought_process_html":["<p>a</p>"],"conclusion_html":"<p>c</p>"}}`,
			agent:     model.AgentCoach,
			wantSteps: 1,
			wantFinal: "<p>c</p>",
			wantHTML:  true,
		},
		{
			name:      "single html block",
			body:      `{"developer":{"html":"<p>whole answer</p>"}}`,
			agent:     model.AgentDeveloper,
			wantSteps: 0,
			wantFinal: "<p>whole answer</p>",
			wantHTML:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res ConfigDemoResult
			require.NoError(t, json.Unmarshal([]byte(tt.body), &res))
			rs, ok := res.Agents[tt.agent]
			require.True(t, ok)
			steps, _ := rs.Steps()
			assert.Len(t, steps, tt.wantSteps)
			final, html := rs.Final()
			assert.Equal(t, tt.wantFinal, final)
			assert.Equal(t, tt.wantHTML, html)
		})
	}
}

func TestFetchStateAndLogs(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	initialize(t, c)
	_, err := c.AskAgent(ctx, AskRequest{AgentType: model.AgentCoach, Question: "Why PI planning?"})
	require.NoError(t, err)

	snap, err := c.FetchState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Apollo", snap.ProjectName)
	assert.True(t, snap.Initialized)

	comms, err := c.FetchCommunications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, comms, 2)
	assert.Equal(t, "User", comms[0].Sender)
	assert.Equal(t, "<p>Why PI planning?</p>", comms[0].MessageHTML)

	last, err := c.FetchCommunications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "safe_coach", last[0].Sender)

	events, err := c.FetchEvents(ctx, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestFetchBeforeInitializeIsRejected(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.FetchEvents(context.Background(), 10)
	assert.True(t, errors.Is(err, ErrBackendRejection))
	assert.Equal(t, "Simulation not initialized", UserMessage(err))
}

func TestUploadConfigImage(t *testing.T) {
	c, srv := newTestClient(t)

	path, err := c.UploadConfigImage(context.Background(), model.ConfigFull, "full.jpg", strings.NewReader("jpegdata"))
	require.NoError(t, err)
	assert.Equal(t, "/static/images/safe_configurations/full.jpg", path)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasPrefix(reqs[0].ContentType, "multipart/form-data"))

	_, err = c.UploadConfigImage(context.Background(), "mystery", "x.jpg", strings.NewReader(""))
	assert.Error(t, err)
}

func TestConfigImageURL(t *testing.T) {
	c := NewClient("http://sim.local:5000/")
	assert.Equal(t, "http://sim.local:5000/api/safe_config_image/big_picture", c.ConfigImageURL(model.ConfigBigPicture))
}
