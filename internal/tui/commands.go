package tui

import (
	"context"
	"errors"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/channel"
	"github.com/safesim/simdash/internal/gate"
	"github.com/safesim/simdash/internal/htmltext"
	"github.com/safesim/simdash/internal/model"
	"github.com/safesim/simdash/internal/push"
	"github.com/safesim/simdash/internal/sequencer"
)

// Messages

// stateFetchedMsg carries the snapshot read at startup or on refresh
type stateFetchedMsg struct {
	update *channel.Update
	err    error
}

// actionDoneMsg is the result of a lifecycle, change or guidance call
type actionDoneMsg struct {
	action   string
	update   *channel.Update
	activity model.Activity
	err      error
}

// reasoningMsg is the result of an ask or chain-of-thought call for one slot
type reasoningMsg struct {
	ticket sequencer.Ticket
	update *channel.Update
	batch  sequencer.Batch
	err    error
}

// demoMsg is the result of a configuration demonstration
type demoMsg struct {
	tickets map[model.AgentType]sequencer.Ticket
	config  model.Configuration
	update  *channel.Update
	batches map[model.AgentType]sequencer.Batch
	image   string
	err     error
}

// activityFetchedMsg carries the communication and event logs
type activityFetchedMsg struct {
	activity channel.Activity
	err      error
}

// pushConnectedMsg is sent once the push channel has joined
type pushConnectedMsg struct {
	conn *pushConn
}

// pushFailedMsg is sent when the push channel could not be opened
type pushFailedMsg struct {
	err error
}

// pushEventMsg carries one push event
type pushEventMsg struct {
	conn  *pushConn
	event push.Event
}

// pushClosedMsg is sent when a push connection ends
type pushClosedMsg struct {
	conn *pushConn
	err  error
}

type spinnerTickMsg struct{}

// activityLimit caps how many log entries a refresh fetches
const activityLimit = 50

// pushConn bridges a push client's Run loop to the update loop
type pushConn struct {
	client *push.Client
	events chan push.Event
	done   chan error
	cancel context.CancelFunc
}

func (c *pushConn) close() {
	c.cancel()
	c.client.Close()
}

// Commands

func fetchStateCmd(ch *channel.Channel) tea.Cmd {
	return func() tea.Msg {
		upd, err := ch.FetchState(context.Background())
		return stateFetchedMsg{update: upd, err: err}
	}
}

func fetchActivityCmd(ch *channel.Channel, rec activityRecorder) tea.Cmd {
	return func() tea.Msg {
		act, err := ch.FetchActivity(context.Background(), activityLimit)
		if err == nil && rec != nil {
			// journal failures only cost history
			_, _ = rec.RecordActivity(act.Communications, act.Events)
		}
		return activityFetchedMsg{activity: act, err: err}
	}
}

// activityRecorder is the part of the journal the dashboard writes logs to
type activityRecorder interface {
	RecordActivity(comms []model.Communication, events []model.Event) (int, error)
}

func initializeCmd(ch *channel.Channel, req api.InitializeRequest) tea.Cmd {
	return func() tea.Msg {
		res, upd, err := ch.Initialize(context.Background(), req)
		if err != nil {
			return actionDoneMsg{action: "initialize", err: err}
		}
		return actionDoneMsg{action: "initialize", update: upd, activity: model.Activity{
			Kind:  model.ActivitySystem,
			Title: "Simulation initialized",
			Lines: []string{
				"Project: " + req.ProjectName,
				"Configuration: " + req.Configuration.Title(),
			},
			Detail:    res.Message,
			Timestamp: time.Now(),
		}}
	}
}

// lifecycleCmd runs one of the no-argument lifecycle actions
func lifecycleCmd(ch *channel.Channel, action gate.Action) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		var (
			upd *channel.Update
			act model.Activity
			err error
		)
		switch action {
		case gate.StartPI:
			var res *api.PIStartResult
			if res, upd, err = ch.StartPI(ctx); err == nil {
				act = piStartedActivity(res)
			}
		case gate.StartSprint:
			var res *api.SprintStartResult
			if res, upd, err = ch.StartSprint(ctx); err == nil {
				act = sprintStartedActivity(res)
			}
		case gate.RunStandup:
			var res *api.StandupResult
			if res, upd, err = ch.DailyStandup(ctx); err == nil {
				act = standupActivity(res)
			}
		case gate.EndSprint:
			var res *api.SprintEndResult
			if res, upd, err = ch.EndSprint(ctx); err == nil {
				act = sprintEndedActivity(res)
			}
		case gate.EndPI:
			var res *api.PIEndResult
			if res, upd, err = ch.EndPI(ctx); err == nil {
				act = piEndedActivity(res)
			}
		default:
			err = errors.New("unsupported action " + string(action))
		}
		act.Timestamp = time.Now()
		return actionDoneMsg{action: string(action), update: upd, activity: act, err: err}
	}
}

func changeRequestCmd(ch *channel.Channel, req api.ChangeRequest) tea.Cmd {
	return func() tea.Msg {
		res, upd, err := ch.SubmitChangeRequest(context.Background(), req)
		if err != nil {
			return actionDoneMsg{action: string(gate.SubmitChangeRequest), err: err}
		}
		return actionDoneMsg{action: string(gate.SubmitChangeRequest), update: upd, activity: changeActivity(req, res)}
	}
}

func guidanceCmd(ch *channel.Channel, req api.GuidanceRequest) tea.Cmd {
	return func() tea.Msg {
		res, upd, err := ch.SubmitTechnicalGuidance(context.Background(), req)
		if err != nil {
			return actionDoneMsg{action: string(gate.SubmitTechnicalGuidance), err: err}
		}
		return actionDoneMsg{action: string(gate.SubmitTechnicalGuidance), update: upd, activity: model.Activity{
			Kind:      model.ActivityGuidance,
			Title:     "Technical guidance: " + req.Topic,
			Detail:    textOf(res.Guidance, res.GuidanceHTML),
			Timestamp: time.Now(),
		}}
	}
}

func askCmd(ch *channel.Channel, t sequencer.Ticket, req api.AskRequest) tea.Cmd {
	return func() tea.Msg {
		res, upd, err := ch.AskAgent(context.Background(), req)
		if err != nil {
			return reasoningMsg{ticket: t, err: err}
		}
		return reasoningMsg{ticket: t, update: upd, batch: sequencer.Batch{
			Conclusion: textOf(res.Response, res.ResponseHTML),
		}}
	}
}

func chainOfThoughtCmd(ch *channel.Channel, t sequencer.Ticket, req api.AskRequest) tea.Cmd {
	return func() tea.Msg {
		res, upd, err := ch.DemonstrateChainOfThought(context.Background(), req)
		if err != nil {
			return reasoningMsg{ticket: t, err: err}
		}
		return reasoningMsg{ticket: t, update: upd, batch: reasoningBatch(res.Reasoning)}
	}
}

func demoCmd(ch *channel.Channel, tickets map[model.AgentType]sequencer.Ticket, req api.DemoRequest) tea.Cmd {
	return func() tea.Msg {
		res, upd, err := ch.DemonstrateConfig(context.Background(), req)
		if err != nil {
			return demoMsg{tickets: tickets, config: req.ConfigType, err: err}
		}
		batches := make(map[model.AgentType]sequencer.Batch, len(res.Agents))
		for agent, r := range res.Agents {
			batches[agent] = reasoningBatch(r)
		}
		return demoMsg{
			tickets: tickets,
			config:  req.ConfigType,
			update:  upd,
			batches: batches,
			image:   ch.Backend().ConfigImageURL(req.ConfigType),
		}
	}
}

// connectPushCmd opens the push channel and starts forwarding its events
func connectPushCmd(ch *channel.Channel) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		defer dialCancel()

		client, err := ch.ConnectPush(dialCtx)
		if err != nil {
			cancel()
			return pushFailedMsg{err: err}
		}

		conn := &pushConn{
			client: client,
			events: make(chan push.Event, 64),
			done:   make(chan error, 1),
			cancel: cancel,
		}
		go func() {
			err := client.Run(ctx, func(ev push.Event) {
				select {
				case conn.events <- ev:
				case <-ctx.Done():
				}
			})
			conn.done <- err
			close(conn.events)
		}()
		return pushConnectedMsg{conn: conn}
	}
}

// waitForPush blocks until the next event on conn or its end
func waitForPush(conn *pushConn) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-conn.events
		if !ok {
			return pushClosedMsg{conn: conn, err: <-conn.done}
		}
		return pushEventMsg{conn: conn, event: ev}
	}
}

func spinnerTickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

// Result shaping

// textOf prefers the HTML rendering converted to text, falling back to the
// plain field.
func textOf(plain, html string) string {
	if html != "" {
		return htmltext.ToText(html)
	}
	return plain
}

func reasoningBatch(r api.Reasoning) sequencer.Batch {
	steps, isHTML := r.Steps()
	if isHTML {
		steps = htmltext.Lines(steps)
	}
	final, finalHTML := r.Final()
	if finalHTML {
		final = htmltext.ToText(final)
	}
	return sequencer.Batch{Steps: steps, Conclusion: final}
}

func itemLines(items []model.BacklogItem) []string {
	var lines []string
	for _, it := range items {
		line := it.StatusIcon() + " " + it.Name
		if it.HasEstimate() {
			line += " (" + strconv.Itoa(*it.Estimate) + " pts)"
		}
		lines = append(lines, line)
	}
	return lines
}

func piStartedActivity(res *api.PIStartResult) model.Activity {
	lines := []string{"Planned end: " + res.PlannedEndDate, "Scope:"}
	return model.Activity{
		Kind:   model.ActivityLifecycle,
		Title:  "PI " + strconv.Itoa(res.PINumber) + " started",
		Lines:  append(lines, itemLines(res.Scope)...),
		Detail: textOf(res.PlanningDetails, res.PlanningDetailsHTML),
	}
}

func sprintStartedActivity(res *api.SprintStartResult) model.Activity {
	lines := []string{"Planned end: " + res.PlannedEndDate, "Backlog:"}
	return model.Activity{
		Kind:   model.ActivityLifecycle,
		Title:  "Sprint " + strconv.Itoa(res.SprintNumber) + " of PI " + strconv.Itoa(res.PINumber) + " started",
		Lines:  append(lines, itemLines(res.Backlog)...),
		Detail: textOf(res.PlanningDetails, res.PlanningDetailsHTML),
	}
}

func standupActivity(res *api.StandupResult) model.Activity {
	var lines []string
	for _, u := range res.Updates {
		line := u.Member + ": " + u.Status
		if u.Impediment != "" {
			line += " (impediment: " + u.Impediment + ")"
		}
		lines = append(lines, line)
	}
	for _, imp := range res.ImpedimentsAddressed {
		lines = append(lines, "Addressed: "+imp)
	}
	return model.Activity{
		Kind:   model.ActivityLifecycle,
		Title:  "Daily standup, day " + strconv.Itoa(res.Day),
		Lines:  lines,
		Detail: textOf(res.Summary, res.SummaryHTML),
	}
}

func sprintEndedActivity(res *api.SprintEndResult) model.Activity {
	lines := []string{"Completion: " + strconv.Itoa(int(res.CompletionRate*100+0.5)) + "%"}
	lines = append(lines, itemLines(res.CompletedItems)...)
	for _, d := range res.TechnicalDebt {
		lines = append(lines, "Technical debt: "+d)
	}
	return model.Activity{
		Kind:   model.ActivityLifecycle,
		Title:  "Sprint " + strconv.Itoa(res.SprintNumber) + " ended",
		Lines:  lines,
		Detail: textOf(res.Retrospective, res.RetrospectiveHTML),
	}
}

func piEndedActivity(res *api.PIEndResult) model.Activity {
	lines := []string{
		"Sprints completed: " + strconv.Itoa(res.SprintsCompleted),
		"Predictability: " + strconv.Itoa(int(res.Metrics.Predictability+0.5)) + "%",
		"Business value: " + strconv.Itoa(int(res.Metrics.BusinessValue+0.5)),
	}
	for _, a := range res.Achievements {
		lines = append(lines, "✓ "+a)
	}
	return model.Activity{
		Kind:   model.ActivityLifecycle,
		Title:  "PI " + strconv.Itoa(res.PINumber) + " ended",
		Lines:  lines,
		Detail: textOf(res.InspectAndAdapt, res.InspectAndAdaptHTML),
	}
}

func changeActivity(req api.ChangeRequest, res *api.ChangeResult) model.Activity {
	act := model.Activity{
		Kind:      model.ActivityChange,
		Title:     "Change request: " + req.Description,
		Timestamp: time.Now(),
	}
	if res.Level != "" {
		act.Lines = append(act.Lines, "Level: "+res.Level)
	}
	if res.Paired() {
		act.Lines = append(act.Lines,
			"Scrum Master: "+textOf(res.SMResponse, res.SMResponseHTML),
			"Developer: "+textOf(res.DevResponse, res.DevResponseHTML),
		)
		return act
	}
	act.Detail = textOf(res.Response, res.ResponseHTML)
	return act
}
