// Package channel is the single path by which backend state reaches the
// store. Request/response calls and push events both become Updates, and
// every Update goes through Deliver.
package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/model"
	"github.com/safesim/simdash/internal/push"
	"github.com/safesim/simdash/internal/store"
)

// Source says which path an update came in on
type Source int

const (
	SourceCall Source = iota
	SourcePush
)

func (s Source) String() string {
	if s == SourcePush {
		return "push"
	}
	return "call"
}

// Update is a snapshot on its way into the store
type Update struct {
	Source     Source
	Origin     string // backend action or push event name
	Snapshot   model.Snapshot
	ReceivedAt time.Time
}

// FromPush converts a push event. ok is false for events that carry
// nothing to apply.
func FromPush(ev push.Event) (u Update, ok bool) {
	if ev.Other || ev.Snapshot == nil {
		return Update{}, false
	}
	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	return Update{Source: SourcePush, Origin: string(ev.Name), Snapshot: *ev.Snapshot, ReceivedAt: at}, true
}

func fromCall(origin string, s *model.Snapshot) *Update {
	if s == nil {
		return nil
	}
	return &Update{Source: SourceCall, Origin: origin, Snapshot: *s, ReceivedAt: time.Now()}
}

// Backend is the request/response surface of the simulation backend
type Backend interface {
	Initialize(ctx context.Context, req api.InitializeRequest) (*api.InitializeResult, error)
	StartPI(ctx context.Context) (*api.PIStartResult, error)
	StartSprint(ctx context.Context) (*api.SprintStartResult, error)
	DailyStandup(ctx context.Context) (*api.StandupResult, error)
	EndSprint(ctx context.Context) (*api.SprintEndResult, error)
	EndPI(ctx context.Context) (*api.PIEndResult, error)
	SubmitChangeRequest(ctx context.Context, req api.ChangeRequest) (*api.ChangeResult, error)
	SubmitTechnicalGuidance(ctx context.Context, req api.GuidanceRequest) (*api.GuidanceResult, error)
	AskAgent(ctx context.Context, req api.AskRequest) (*api.AgentAnswer, error)
	DemonstrateChainOfThought(ctx context.Context, req api.AskRequest) (*api.ChainOfThoughtResult, error)
	DemonstrateConfig(ctx context.Context, req api.DemoRequest) (*api.ConfigDemoResult, error)
	FetchState(ctx context.Context) (*model.Snapshot, error)
	FetchCommunications(ctx context.Context, limit int) ([]model.Communication, error)
	FetchEvents(ctx context.Context, limit int) ([]model.Event, error)
	UploadConfigImage(ctx context.Context, cfg model.Configuration, filename string, image io.Reader) (string, error)
	ConfigImageURL(cfg model.Configuration) string
	BaseURL() string
}

// Recorder is told about every snapshot that reached the store
type Recorder interface {
	RecordSnapshot(source, origin string, version uint64, s model.Snapshot) error
}

// Channel pairs the backend with the store it feeds
type Channel struct {
	backend  Backend
	store    *store.Store
	logger   *slog.Logger
	pushPath string
	recorder Recorder
}

// New creates a channel. pushPath may be empty for the default endpoint.
func New(b Backend, st *store.Store, pushPath string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{backend: b, store: st, logger: logger, pushPath: pushPath}
}

// SetRecorder installs r to be called after each successful Deliver. A
// recorder failure is logged and never fails the delivery.
func (c *Channel) SetRecorder(r Recorder) { c.recorder = r }

// Backend returns the wrapped backend
func (c *Channel) Backend() Backend { return c.backend }

// Deliver applies u to the store. It is the only place snapshots enter the
// store, whichever path they arrived on.
func (c *Channel) Deliver(u Update) error {
	if err := c.store.Apply(u.Snapshot); err != nil {
		c.logger.Warn("snapshot not applied",
			"source", u.Source.String(), "origin", u.Origin, "error", err)
		return fmt.Errorf("apply %s snapshot from %s: %w", u.Source, u.Origin, err)
	}
	version := c.store.Version()
	c.logger.Debug("snapshot applied",
		"source", u.Source.String(),
		"origin", u.Origin,
		"version", version,
		"pi", u.Snapshot.CurrentPI,
		"sprint", u.Snapshot.CurrentSprint,
		"day", u.Snapshot.CurrentDay,
	)
	if c.recorder != nil {
		if err := c.recorder.RecordSnapshot(u.Source.String(), u.Origin, version, u.Snapshot); err != nil {
			c.logger.Warn("snapshot not recorded", "origin", u.Origin, "error", err)
		}
	}
	return nil
}

// Initialize starts a new simulation
func (c *Channel) Initialize(ctx context.Context, req api.InitializeRequest) (*api.InitializeResult, *Update, error) {
	res, err := c.backend.Initialize(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("initialize", res.State), nil
}

// StartPI starts the next PI
func (c *Channel) StartPI(ctx context.Context) (*api.PIStartResult, *Update, error) {
	res, err := c.backend.StartPI(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("start_pi", res.State), nil
}

// StartSprint starts the next sprint
func (c *Channel) StartSprint(ctx context.Context) (*api.SprintStartResult, *Update, error) {
	res, err := c.backend.StartSprint(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("start_sprint", res.State), nil
}

// DailyStandup runs a standup
func (c *Channel) DailyStandup(ctx context.Context) (*api.StandupResult, *Update, error) {
	res, err := c.backend.DailyStandup(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("daily_standup", res.State), nil
}

// EndSprint ends the current sprint
func (c *Channel) EndSprint(ctx context.Context) (*api.SprintEndResult, *Update, error) {
	res, err := c.backend.EndSprint(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("end_sprint", res.State), nil
}

// EndPI ends the current PI
func (c *Channel) EndPI(ctx context.Context) (*api.PIEndResult, *Update, error) {
	res, err := c.backend.EndPI(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("end_pi", res.State), nil
}

// SubmitChangeRequest submits a change request
func (c *Channel) SubmitChangeRequest(ctx context.Context, req api.ChangeRequest) (*api.ChangeResult, *Update, error) {
	res, err := c.backend.SubmitChangeRequest(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("change_request", res.State), nil
}

// SubmitTechnicalGuidance asks for technical guidance
func (c *Channel) SubmitTechnicalGuidance(ctx context.Context, req api.GuidanceRequest) (*api.GuidanceResult, *Update, error) {
	res, err := c.backend.SubmitTechnicalGuidance(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("technical_guidance", res.State), nil
}

// AskAgent asks one agent a question
func (c *Channel) AskAgent(ctx context.Context, req api.AskRequest) (*api.AgentAnswer, *Update, error) {
	res, err := c.backend.AskAgent(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("ask_agent", res.State), nil
}

// DemonstrateChainOfThought asks one agent for a stepwise answer
func (c *Channel) DemonstrateChainOfThought(ctx context.Context, req api.AskRequest) (*api.ChainOfThoughtResult, *Update, error) {
	res, err := c.backend.DemonstrateChainOfThought(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("demonstrate_cot", res.State), nil
}

// DemonstrateConfig asks every agent to explain a configuration
func (c *Channel) DemonstrateConfig(ctx context.Context, req api.DemoRequest) (*api.ConfigDemoResult, *Update, error) {
	res, err := c.backend.DemonstrateConfig(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res, fromCall("demonstrate_safe_config", res.State), nil
}

// FetchState reads the backend's current snapshot
func (c *Channel) FetchState(ctx context.Context) (*Update, error) {
	snap, err := c.backend.FetchState(ctx)
	if err != nil {
		return nil, err
	}
	return fromCall("state", snap), nil
}

// Activity is the communication and event logs fetched together
type Activity struct {
	Communications []model.Communication
	Events         []model.Event
}

// FetchActivity reads both logs in parallel. Either failing fails the whole
// fetch.
func (c *Channel) FetchActivity(ctx context.Context, limit int) (Activity, error) {
	var act Activity
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		comms, err := c.backend.FetchCommunications(gctx, limit)
		if err != nil {
			return err
		}
		act.Communications = comms
		return nil
	})
	g.Go(func() error {
		events, err := c.backend.FetchEvents(gctx, limit)
		if err != nil {
			return err
		}
		act.Events = events
		return nil
	})
	if err := g.Wait(); err != nil {
		return Activity{}, err
	}
	return act, nil
}

// UploadConfigImage replaces the diagram shown for a configuration
func (c *Channel) UploadConfigImage(ctx context.Context, cfg model.Configuration, filename string, image io.Reader) (string, error) {
	path, err := c.backend.UploadConfigImage(ctx, cfg, filename, image)
	if err != nil {
		return "", err
	}
	c.logger.Info("configuration image uploaded", "configuration", string(cfg), "path", path)
	return path, nil
}

// ConnectPush opens the push channel. Events are read with Run on the
// returned client and converted with FromPush.
func (c *Channel) ConnectPush(ctx context.Context) (*push.Client, error) {
	opts := []push.Option{push.WithLogger(c.logger)}
	if c.pushPath != "" {
		opts = append(opts, push.WithPath(c.pushPath))
	}
	return push.Dial(ctx, c.backend.BaseURL(), opts...)
}
