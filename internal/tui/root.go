package tui

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/backlog"
	"github.com/safesim/simdash/internal/channel"
	"github.com/safesim/simdash/internal/config"
	"github.com/safesim/simdash/internal/gate"
	"github.com/safesim/simdash/internal/model"
	"github.com/safesim/simdash/internal/sequencer"
	"github.com/safesim/simdash/internal/store"
)

// ViewMode represents the current screen
type ViewMode int

const (
	ViewModeDashboard ViewMode = iota
	ViewModeHelp
	ViewModeForm
)

// Pane is one of the tabs in the right-hand column
type Pane int

const (
	PaneBacklog Pane = iota
	PaneReasoning
	PaneActivity
	PaneLogs
)

var paneNames = []string{"Backlog", "Reasoning", "Activity", "Logs"}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const (
	sidebarWidth = 36
	feedLimit    = 50
	debugHeight  = 10
)

// Deps are the collaborators the dashboard runs against
type Deps struct {
	Config  *config.Config
	Channel *channel.Channel
	Store   *store.Store
	Journal activityRecorder // optional
	Logger  *slog.Logger
	Debug   bool // start with the debug panel open
	Push    bool // connect the push channel on start
}

// runtime is the state shared by every copy of the Model. It is only
// touched from the update loop.
type runtime struct {
	sched   *loopScheduler
	seq     *sequencer.Sequencer
	changes []sequencer.Change

	snapshot   model.Snapshot
	has        bool
	controls   gate.ControlSet
	visibility gate.Visibility

	inflight    map[string]bool
	push        *pushConn
	connecting  bool
	unsubscribe func()
}

// Model is the root Bubble Tea model
type Model struct {
	// Terminal dimensions
	width  int
	height int
	ready  bool

	viewMode ViewMode
	keys     KeyMap

	cfg     *config.Config
	ch      *channel.Channel
	journal activityRecorder
	logger  *slog.Logger
	rt      *runtime

	form      Form
	selection backlog.Selection
	pane      Pane
	viewport  viewport.Model

	// Reasoning slots shown in the reasoning pane
	focusSlots []sequencer.Slot
	demoConfig model.Configuration
	demoImage  string

	// Local activity feed and the backend's logs
	feed       []model.Activity
	comms      []model.Communication
	localComms []model.Communication
	events     []model.Event

	// Status line
	status    string
	statusErr bool

	pushEnabled bool
	pushErr     string

	fetchedOnce  bool
	spinning     bool
	spinnerIndex int

	debug DebugPanel
}

// New creates the dashboard model
func New(d Deps) Model {
	cfg := d.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := &runtime{
		sched:    newLoopScheduler(),
		inflight: make(map[string]bool),
	}
	rt.visibility = gate.DeriveVisibility(model.Snapshot{})
	rt.seq = sequencer.New(
		sequencer.WithScheduler(rt.sched),
		sequencer.WithStepDelay(cfg.StepDelay),
		sequencer.WithVisibilityDelay(cfg.VisibilityDelay),
		sequencer.WithLogger(logger),
		sequencer.WithObserver(func(c sequencer.Change) {
			rt.changes = append(rt.changes, c)
		}),
	)
	if d.Store != nil {
		rt.unsubscribe = d.Store.Subscribe(func(s model.Snapshot) {
			rt.snapshot = s
			rt.has = true
			rt.controls = gate.DeriveControls(s)
			rt.visibility = gate.DeriveVisibility(s)
		})
		if cur, ok := d.Store.Current(); ok {
			rt.snapshot = cur
			rt.has = true
			rt.controls = gate.DeriveControls(cur)
			rt.visibility = gate.DeriveVisibility(cur)
		}
	}

	return Model{
		viewMode:    ViewModeDashboard,
		keys:        DefaultKeyMap(),
		cfg:         cfg,
		ch:          d.Channel,
		journal:     d.Journal,
		logger:      logger,
		rt:          rt,
		pushEnabled: d.Push,
		debug:       NewDebugPanel(d.Debug),
	}
}

// Init fetches the current state and opens the push channel
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{fetchStateCmd(m.ch)}
	if m.pushEnabled {
		m.rt.connecting = true
		cmds = append(cmds, connectPushCmd(m.ch))
	}
	return tea.Batch(cmds...)
}

// Snapshot returns the state the dashboard is showing. ok is false until the
// first snapshot arrives.
func (m Model) Snapshot() (model.Snapshot, bool) {
	return m.rt.snapshot, m.rt.has
}

// Controls returns the controls currently enabled
func (m Model) Controls() gate.ControlSet { return m.rt.controls }

// Update handles a message and then flushes sequencer timers and session
// changes that the message caused.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m, cmd := m.update(msg)
	return m.settle(cmd)
}

func (m Model) settle(cmd tea.Cmd) (Model, tea.Cmd) {
	for _, c := range m.rt.changes {
		m.debug.AddChange(c)
	}
	m.rt.changes = nil

	cmds := append([]tea.Cmd{cmd}, m.rt.sched.drain()...)
	if m.busy() && !m.spinning {
		m.spinning = true
		cmds = append(cmds, spinnerTickCmd())
	}
	m.syncViewport()
	return m, tea.Batch(cmds...)
}

func (m Model) update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.viewport.Width = max(m.width-sidebarWidth-6, 10)
		m.viewport.Height = max(m.bodyHeight()-4, 1)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case timerFiredMsg:
		m.rt.sched.fire(msg.id)
		return m, nil

	case spinnerTickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		m.spinnerIndex = (m.spinnerIndex + 1) % len(spinnerFrames)
		return m, spinnerTickCmd()

	case stateFetchedMsg:
		return m.handleStateFetched(msg)

	case actionDoneMsg:
		return m.handleActionDone(msg)

	case reasoningMsg:
		cmd := m.handleReasoning(msg)
		return m, cmd

	case demoMsg:
		cmd := m.handleDemo(msg)
		return m, cmd

	case activityFetchedMsg:
		delete(m.rt.inflight, "activity")
		if msg.err != nil {
			m.debug.AddEvent("activity", api.UserMessage(msg.err))
			m.logger.Warn("activity fetch failed", "error", msg.err)
			return m, nil
		}
		m.comms = msg.activity.Communications
		m.events = msg.activity.Events
		m.localComms = nil
		return m, nil

	case pushConnectedMsg:
		m.rt.connecting = false
		m.rt.push = msg.conn
		m.pushErr = ""
		m.debug.AddEvent("push", "connected sid="+msg.conn.client.SID())
		return m, waitForPush(msg.conn)

	case pushFailedMsg:
		m.rt.connecting = false
		m.pushErr = msg.err.Error()
		m.debug.AddEvent("push", "connect failed: "+msg.err.Error())
		m.logger.Warn("push connect failed", "error", msg.err)
		return m, nil

	case pushEventMsg:
		if msg.conn != m.rt.push {
			return m, nil
		}
		m.debug.AddEvent("push", string(msg.event.Name))
		var cmd tea.Cmd
		if u, ok := channel.FromPush(msg.event); ok {
			m.deliver(u)
			cmd = m.refreshActivity()
		}
		return m, tea.Batch(cmd, waitForPush(msg.conn))

	case pushClosedMsg:
		if msg.conn != m.rt.push {
			return m, nil
		}
		m.rt.push = nil
		if msg.err != nil {
			m.pushErr = msg.err.Error()
		}
		m.debug.AddEvent("push", "closed")
		m.logger.Info("push channel closed", "error", msg.err)
		return m, nil
	}

	return m, nil
}

// Key handling

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Interrupt) {
		return m.quit()
	}

	switch m.viewMode {
	case ViewModeForm:
		return m.handleFormKey(msg)
	case ViewModeHelp:
		if key.Matches(msg, m.keys.Help, m.keys.Escape, m.keys.Quit) {
			m.viewMode = ViewModeDashboard
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Help):
		m.viewMode = ViewModeHelp
	case key.Matches(msg, m.keys.Debug):
		m.debug.Toggle()

	case key.Matches(msg, m.keys.StartPI):
		cmd := m.runAction(gate.StartPI)
		return m, cmd
	case key.Matches(msg, m.keys.EndPI):
		cmd := m.runAction(gate.EndPI)
		return m, cmd
	case key.Matches(msg, m.keys.StartSprint):
		cmd := m.runAction(gate.StartSprint)
		return m, cmd
	case key.Matches(msg, m.keys.Standup):
		cmd := m.runAction(gate.RunStandup)
		return m, cmd
	case key.Matches(msg, m.keys.EndSprint):
		cmd := m.runAction(gate.EndSprint)
		return m, cmd

	case key.Matches(msg, m.keys.Setup):
		if !m.rt.visibility.SetupForm {
			m.setStatus("A simulation is already running", true)
			return m, nil
		}
		m.openForm(NewSetupForm(m.cfg.Defaults))
	case key.Matches(msg, m.keys.Change):
		if m.gated(gate.SubmitChangeRequest) && m.rt.visibility.ChangeRequest {
			m.openForm(NewChangeForm())
		}
	case key.Matches(msg, m.keys.Guidance):
		if m.gated(gate.SubmitTechnicalGuidance) && m.rt.visibility.TechnicalInput {
			m.openForm(NewGuidanceForm())
		}
	case key.Matches(msg, m.keys.Ask):
		if m.gated(gate.AskAgent) {
			m.openForm(NewAskForm(FormAsk))
		}
	case key.Matches(msg, m.keys.Reason):
		if m.gated(gate.AskAgent) {
			m.openForm(NewAskForm(FormReason))
		}
	case key.Matches(msg, m.keys.Demo):
		if m.gated(gate.AskAgent) {
			m.openForm(NewDemoForm(m.demoConfig))
		}
	case key.Matches(msg, m.keys.Dismiss):
		for _, slot := range m.focusSlots {
			m.rt.seq.Dismiss(slot)
		}
		m.focusSlots = nil
		m.demoImage = ""

	case key.Matches(msg, m.keys.PIScope):
		m.selectView(backlog.ViewPIScope)
	case key.Matches(msg, m.keys.SprintBacklog):
		m.selectView(backlog.ViewSprintBacklog)
	case key.Matches(msg, m.keys.FullBacklog):
		m.selectView(backlog.ViewFullBacklog)
	case key.Matches(msg, m.keys.ClearBacklog):
		m.selection.Clear()

	case key.Matches(msg, m.keys.Refresh):
		return m, tea.Batch(fetchStateCmd(m.ch), m.refreshActivity())
	case key.Matches(msg, m.keys.Reconnect):
		if !m.pushEnabled || m.rt.push != nil || m.rt.connecting {
			return m, nil
		}
		m.rt.connecting = true
		m.pushErr = ""
		m.debug.AddEvent("push", "reconnecting")
		return m, connectPushCmd(m.ch)

	case key.Matches(msg, m.keys.NextPane):
		m.pane = (m.pane + 1) % Pane(len(paneNames))
		m.viewport.GotoTop()
	case key.Matches(msg, m.keys.PrevPane):
		m.pane = (m.pane - 1 + Pane(len(paneNames))) % Pane(len(paneNames))
		m.viewport.GotoTop()
	case key.Matches(msg, m.keys.Up):
		m.viewport.ScrollUp(1)
	case key.Matches(msg, m.keys.Down):
		m.viewport.ScrollDown(1)
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.PageUp()
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.PageDown()
	}
	return m, nil
}

func (m Model) handleFormKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	form, cmd, outcome := m.form.HandleKey(msg, m.keys)
	m.form = form
	switch outcome {
	case formCancelled:
		m.closeForm()
		return m, nil
	case formSubmitted:
		return m.submitForm()
	}
	return m, cmd
}

func (m *Model) openForm(f Form) {
	m.form = f
	m.viewMode = ViewModeForm
}

func (m *Model) closeForm() {
	m.form = Form{}
	m.viewMode = ViewModeDashboard
}

func (m Model) submitForm() (Model, tea.Cmd) {
	switch m.form.Kind {
	case FormSetup:
		req := m.form.InitializeRequest()
		if req.ProjectName == "" {
			m.form.Error = "Project name is required"
			return m, nil
		}
		m.closeForm()
		m.rt.inflight["initialize"] = true
		m.setStatus("Initializing "+req.ProjectName+"…", false)
		return m, initializeCmd(m.ch, req)

	case FormChange:
		req := m.form.ChangeRequest()
		if req.Description == "" {
			m.form.Error = "Description is required"
			return m, nil
		}
		m.closeForm()
		if !m.gated(gate.SubmitChangeRequest) {
			return m, nil
		}
		m.rt.inflight[string(gate.SubmitChangeRequest)] = true
		return m, changeRequestCmd(m.ch, req)

	case FormGuidance:
		req := m.form.GuidanceRequest()
		if req.Topic == "" {
			m.form.Error = "Topic is required"
			return m, nil
		}
		m.closeForm()
		if !m.gated(gate.SubmitTechnicalGuidance) {
			return m, nil
		}
		m.rt.inflight[string(gate.SubmitTechnicalGuidance)] = true
		return m, guidanceCmd(m.ch, req)

	case FormAsk, FormReason:
		req := m.form.AskRequest()
		if req.Question == "" {
			m.form.Error = "Question is required"
			return m, nil
		}
		kind := m.form.Kind
		m.closeForm()
		if !m.gated(gate.AskAgent) {
			return m, nil
		}
		panel := sequencer.PanelAsk
		if kind == FormReason {
			panel = sequencer.PanelChainOfThought
		}
		slot := sequencer.Slot{Panel: panel, Agent: req.AgentType}
		ticket := m.rt.seq.Begin(slot, req.Question)
		m.focusSlots = []sequencer.Slot{slot}
		m.demoImage = ""
		m.pane = PaneReasoning
		m.localComms = append(m.localComms, model.Communication{
			DateTime:  time.Now().Format("2006-01-02 15:04:05"),
			Sender:    "User",
			Recipient: req.AgentType.DisplayName(),
			Message:   req.Question,
		})
		if kind == FormReason {
			return m, chainOfThoughtCmd(m.ch, ticket, req)
		}
		return m, askCmd(m.ch, ticket, req)

	case FormDemo:
		req := m.form.DemoRequest()
		m.closeForm()
		tickets := make(map[model.AgentType]sequencer.Ticket)
		m.focusSlots = nil
		for _, agent := range model.Agents() {
			slot := sequencer.Slot{Panel: sequencer.PanelConfigDemo, Agent: agent}
			tickets[agent] = m.rt.seq.Begin(slot, "Explain "+req.ConfigType.Title())
			m.focusSlots = append(m.focusSlots, slot)
		}
		m.demoConfig = req.ConfigType
		m.demoImage = ""
		m.pane = PaneReasoning
		return m, demoCmd(m.ch, tickets, req)
	}

	m.closeForm()
	return m, nil
}

// gated reports whether a is enabled, noting it on the status line if not
func (m *Model) gated(a gate.Action) bool {
	if m.rt.controls.Enabled(a) {
		return true
	}
	m.debug.AddEvent("gate", string(a)+" disabled")
	return false
}

// runAction starts a lifecycle action. Disabled actions and actions
// already in flight do nothing.
func (m *Model) runAction(a gate.Action) tea.Cmd {
	if !m.gated(a) || m.rt.inflight[string(a)] {
		return nil
	}
	m.rt.inflight[string(a)] = true
	m.logger.Debug("running action", "action", string(a))
	return lifecycleCmd(m.ch, a)
}

func (m *Model) selectView(v backlog.View) {
	if err := m.selection.Select(v); err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.pane = PaneBacklog
}

func (m Model) quit() (Model, tea.Cmd) {
	m.Close()
	return m, tea.Quit
}

// Close releases the push connection and the store subscription
func (m Model) Close() {
	if m.rt.push != nil {
		m.rt.push.close()
		m.rt.push = nil
	}
	if m.rt.unsubscribe != nil {
		m.rt.unsubscribe()
		m.rt.unsubscribe = nil
	}
}

// Results

// deliver hands u to the channel. The store subscriber refreshes the
// snapshot and controls.
func (m *Model) deliver(u channel.Update) bool {
	if err := m.ch.Deliver(u); err != nil {
		m.setStatus("Ignored inconsistent state from server", true)
		m.debug.AddEvent("reject", err.Error())
		return false
	}
	m.debug.AddEvent("apply", fmt.Sprintf("%s %s pi=%d sprint=%d day=%d",
		u.Source, u.Origin, u.Snapshot.CurrentPI, u.Snapshot.CurrentSprint, u.Snapshot.CurrentDay))
	return true
}

func (m Model) handleStateFetched(msg stateFetchedMsg) (Model, tea.Cmd) {
	first := !m.fetchedOnce
	m.fetchedOnce = true

	if msg.err != nil {
		if errors.Is(msg.err, api.ErrBackendRejection) {
			// an uninitialized backend rejects state reads
			m.debug.AddEvent("state", api.UserMessage(msg.err))
		} else {
			m.setStatus(api.UserMessage(msg.err), true)
			m.logger.Warn("state fetch failed", "error", msg.err)
		}
	} else if msg.update != nil {
		m.deliver(*msg.update)
	}

	if first && m.rt.visibility.SetupForm && m.viewMode == ViewModeDashboard {
		m.openForm(NewSetupForm(m.cfg.Defaults))
	}
	if m.rt.has && m.rt.snapshot.Initialized {
		return m, m.refreshActivity()
	}
	return m, nil
}

func (m Model) handleActionDone(msg actionDoneMsg) (Model, tea.Cmd) {
	delete(m.rt.inflight, msg.action)
	if msg.err != nil {
		text := api.UserMessage(msg.err)
		m.setStatus(text, true)
		m.addActivity(model.Activity{
			Kind:      model.ActivityError,
			Title:     actionTitle(msg.action) + " failed",
			Detail:    text,
			Timestamp: time.Now(),
		})
		m.logger.Warn("action failed", "action", msg.action, "error", msg.err)
		return m, nil
	}

	applied := true
	if msg.update != nil {
		applied = m.deliver(*msg.update)
	}
	m.addActivity(msg.activity)
	if applied {
		m.setStatus(msg.activity.Title, false)
	}
	m.pane = PaneActivity
	m.viewport.GotoTop()
	return m, m.refreshActivity()
}

func (m *Model) handleReasoning(msg reasoningMsg) tea.Cmd {
	if msg.update != nil {
		m.deliver(*msg.update)
	}
	var err error
	if msg.err != nil {
		err = m.rt.seq.Fail(msg.ticket, msg.err)
		if err == nil {
			m.logger.Warn("agent call failed", "slot", msg.ticket.Slot.String(), "error", msg.err)
		}
	} else {
		err = m.rt.seq.Deliver(msg.ticket, msg.batch)
	}
	if err != nil {
		// superseded or dismissed while the call was out
		m.debug.AddEvent("stale", msg.ticket.Slot.String()+": "+err.Error())
	}
	if msg.err != nil {
		return nil
	}
	return m.refreshActivity()
}

func (m *Model) handleDemo(msg demoMsg) tea.Cmd {
	if msg.update != nil {
		m.deliver(*msg.update)
	}
	if msg.err == nil && msg.config == m.demoConfig {
		m.demoImage = msg.image
	}
	for agent, ticket := range msg.tickets {
		var err error
		if msg.err != nil {
			err = m.rt.seq.Fail(ticket, msg.err)
		} else {
			err = m.rt.seq.Deliver(ticket, msg.batches[agent])
		}
		if err != nil {
			m.debug.AddEvent("stale", ticket.Slot.String()+": "+err.Error())
		}
	}
	if msg.err != nil {
		m.logger.Warn("configuration demo failed", "config", string(msg.config), "error", msg.err)
		return nil
	}
	return m.refreshActivity()
}

func (m *Model) refreshActivity() tea.Cmd {
	if m.rt.inflight["activity"] {
		return nil
	}
	m.rt.inflight["activity"] = true
	return fetchActivityCmd(m.ch, m.journal)
}

func (m *Model) addActivity(a model.Activity) {
	m.feed = append(m.feed, a)
	if len(m.feed) > feedLimit {
		m.feed = m.feed[len(m.feed)-feedLimit:]
	}
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// busy reports whether a call is out or a reasoning session is still
// revealing.
func (m Model) busy() bool {
	for k := range m.rt.inflight {
		if k != "activity" {
			return true
		}
	}
	return m.rt.sched.pending() > 0
}

func actionTitle(action string) string {
	switch action {
	case "initialize":
		return "Initialize"
	case string(gate.StartPI):
		return "Start PI"
	case string(gate.EndPI):
		return "End PI"
	case string(gate.StartSprint):
		return "Start sprint"
	case string(gate.RunStandup):
		return "Daily standup"
	case string(gate.EndSprint):
		return "End sprint"
	case string(gate.SubmitChangeRequest):
		return "Change request"
	case string(gate.SubmitTechnicalGuidance):
		return "Technical guidance"
	default:
		return action
	}
}

// agentStatus summarises the agent's latest ask or chain-of-thought session
func (m Model) agentStatus(agent model.AgentType) (string, lipgloss.Style) {
	status := sequencer.StatusIdle
	for _, panel := range []sequencer.Panel{sequencer.PanelAsk, sequencer.PanelChainOfThought, sequencer.PanelConfigDemo} {
		s, ok := m.rt.seq.Session(sequencer.Slot{Panel: panel, Agent: agent})
		if !ok {
			continue
		}
		switch s.Status {
		case sequencer.StatusPending, sequencer.StatusRevealing:
			return "Thinking...", WarningStyle
		case sequencer.StatusErrored:
			status = sequencer.StatusErrored
		}
	}
	if status == sequencer.StatusErrored {
		return "Error", ErrorStyle
	}
	return "Ready", SuccessStyle
}
