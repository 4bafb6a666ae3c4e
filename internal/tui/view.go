package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/gate"
	"github.com/safesim/simdash/internal/model"
	"github.com/safesim/simdash/internal/sequencer"
)

// View renders the model
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	switch m.viewMode {
	case ViewModeHelp:
		return m.helpView()
	case ViewModeForm:
		return m.form.Render(m.width, m.height)
	default:
		return m.mainView()
	}
}

func (m Model) bodyHeight() int {
	h := m.height - 3 // header and status bar
	if m.debug.Visible() {
		h -= debugHeight
	}
	return max(h, 5)
}

// mainView renders the dashboard
func (m Model) mainView() string {
	header := m.renderHeader()
	bodyHeight := m.bodyHeight()

	sidebar := m.renderSidebar(sidebarWidth, bodyHeight)
	main := m.renderMain(m.width-sidebarWidth-2, bodyHeight)
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main)

	parts := []string{header, body}
	if m.debug.Visible() {
		parts = append(parts, m.debug.Render(m.width-2, debugHeight))
	}
	parts = append(parts, m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	title := lipgloss.NewStyle().
		Foreground(ColorRed).
		Bold(true).
		Render("SIMDASH")

	subtitle := SubtitleStyle.Render("SAFe Simulation Dashboard")

	var project string
	if s := m.rt.snapshot; m.rt.has && s.Initialized {
		project = lipgloss.NewStyle().
			Foreground(ColorFgSecondary).
			Render(" · " + s.ProjectName + " · " + s.Configuration.Title())
	}

	return lipgloss.NewStyle().
		PaddingLeft(1).
		Width(m.width).
		Render(title+"  "+subtitle+project) + "\n"
}

// Sidebar: simulation status, controls and agents

func (m Model) renderSidebar(width, height int) string {
	var b strings.Builder
	b.WriteString(m.renderStatusSection(width - 4))
	b.WriteString("\n")
	b.WriteString(m.renderControlsSection())
	b.WriteString("\n")
	b.WriteString(m.renderAgentsSection())

	return PanelStyle.
		Width(width - 2).
		Height(height - 2).
		Render(b.String())
}

func (m Model) renderStatusSection(width int) string {
	var b strings.Builder
	b.WriteString(PanelTitleStyle.Render("Simulation"))
	b.WriteString("\n")

	s := m.rt.snapshot
	if !m.rt.has || !s.Initialized {
		b.WriteString(DimStyle.Render("No simulation running"))
		b.WriteString("\n")
		return b.String()
	}

	row := func(label, value string) {
		b.WriteString(LabelStyle.Render(padRight(label, 12)))
		b.WriteString(ValueStyle.Render(value))
		b.WriteString("\n")
	}
	row("PI", model.PhaseLabel("PI", s.CurrentPI))
	row("Sprint", model.PhaseLabel("Sprint", s.CurrentSprint))
	row("Day", model.PhaseLabel("Day", s.CurrentDay))

	barWidth := max(width-18, 5)
	bar := func(label string, f *float64) {
		b.WriteString(LabelStyle.Render(padRight(label, 12)))
		pct, ok := model.Percent(f)
		if !ok {
			b.WriteString(DimStyle.Render("—"))
		} else {
			b.WriteString(progressBar(pct, barWidth) + " " + strconv.Itoa(pct) + "%")
		}
		b.WriteString("\n")
	}
	bar("PI", s.PIProgress)
	bar("Sprint", s.SprintProgress)
	bar("Stories", s.StoryCompletion)

	row("Velocity", strconv.Itoa(s.Metrics.Velocity))
	row("Points", strconv.Itoa(s.Metrics.PointsCompleted))
	row("Impediments", strconv.Itoa(s.Metrics.Impediments))
	predictability := s.Metrics.PIPredictability
	if predictability == "" {
		predictability = "N/A"
	}
	row("Predictable", predictability)
	return b.String()
}

type controlHint struct {
	action gate.Action
	key    string
	label  string
}

func (m Model) renderControlsSection() string {
	var b strings.Builder
	b.WriteString(PanelTitleStyle.Render("Controls"))
	b.WriteString("\n")

	vis := m.rt.visibility
	if vis.SetupForm {
		b.WriteString(KeyHintStyle.Render("n") + " " + ControlEnabledStyle.Render("New simulation"))
		b.WriteString("\n")
	}

	var hints []controlHint
	if vis.PIControls {
		hints = append(hints,
			controlHint{gate.StartPI, "p", "Start PI"},
			controlHint{gate.EndPI, "P", "End PI"},
			controlHint{gate.AskAgent, "a", "Ask agent"},
		)
	}
	if vis.SprintControls {
		hints = append(hints,
			controlHint{gate.StartSprint, "s", "Start sprint"},
			controlHint{gate.RunStandup, "d", "Daily standup"},
			controlHint{gate.EndSprint, "e", "End sprint"},
		)
	}
	if vis.ChangeRequest {
		hints = append(hints, controlHint{gate.SubmitChangeRequest, "c", "Change request"})
	}
	if vis.TechnicalInput {
		hints = append(hints, controlHint{gate.SubmitTechnicalGuidance, "t", "Technical guidance"})
	}

	for _, h := range hints {
		label := ControlDisabledStyle.Render(h.label)
		keyHint := ControlDisabledStyle.Render(h.key)
		if m.rt.controls.Enabled(h.action) {
			label = ControlEnabledStyle.Render(h.label)
			keyHint = KeyHintStyle.Render(h.key)
		}
		if m.rt.inflight[string(h.action)] {
			label += " " + WarningStyle.Render(spinnerFrames[m.spinnerIndex])
		}
		b.WriteString(keyHint + " " + label + "\n")
	}
	return b.String()
}

func (m Model) renderAgentsSection() string {
	var b strings.Builder
	b.WriteString(PanelTitleStyle.Render("Agents"))
	b.WriteString("\n")
	for _, agent := range model.Agents() {
		text, style := m.agentStatus(agent)
		b.WriteString(LabelStyle.Render(padRight(agent.DisplayName(), 18)))
		b.WriteString(style.Render(text))
		b.WriteString("\n")
	}
	return b.String()
}

// Main column: pane tabs over a scrollable viewport

func (m Model) renderMain(width, height int) string {
	var tabs []string
	for i, name := range paneNames {
		label := " " + name + " "
		if Pane(i) == m.pane {
			tabs = append(tabs, SelectedStyle.Render(label))
		} else {
			tabs = append(tabs, DimStyle.Render(label))
		}
	}
	tabLine := strings.Join(tabs, DimStyle.Render("│"))

	return FocusedPanelStyle.
		Width(width - 2).
		Height(height - 2).
		Render(tabLine + "\n\n" + m.viewport.View())
}

// syncViewport refreshes the viewport with the focused pane's content
func (m *Model) syncViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.paneContent(m.viewport.Width))
}

func (m Model) paneContent(width int) string {
	switch m.pane {
	case PaneReasoning:
		return m.renderReasoning(width)
	case PaneActivity:
		return m.renderActivity(width)
	case PaneLogs:
		return m.renderLogs(width)
	default:
		return m.renderBacklog(width)
	}
}

func (m Model) renderBacklog(width int) string {
	s := m.rt.snapshot
	if !m.rt.has || !s.Initialized {
		return DimStyle.Render("Set up a simulation with n to load a backlog.")
	}

	vm, ok := m.selection.Refresh(s)
	if !ok {
		var b strings.Builder
		b.WriteString(SubtitleStyle.Render("Choose a backlog view:"))
		b.WriteString("\n\n")
		b.WriteString(KeyHintStyle.Render("1") + " PI scope " + BadgeStyle.Render(strconv.Itoa(len(s.PIScope))) + "\n")
		b.WriteString(KeyHintStyle.Render("2") + " Sprint backlog " + BadgeStyle.Render(strconv.Itoa(len(s.SprintBacklog))) + "\n")
		b.WriteString(KeyHintStyle.Render("3") + " Full backlog " + BadgeStyle.Render(strconv.Itoa(len(s.FullBacklog))) + "\n")
		return b.String()
	}

	var b strings.Builder
	b.WriteString(PanelTitleStyle.Render(vm.Title) + " " + BadgeStyle.Render("("+strconv.Itoa(vm.BadgeCount)+")"))
	b.WriteString("\n\n")
	if vm.Empty {
		b.WriteString(DimStyle.Render(vm.EmptyText))
		return b.String()
	}
	for _, it := range vm.Items {
		line := itemStyle(it.Status).Render(it.StatusIcon()) + " " +
			priorityStyle(it.Priority).Render("P"+strconv.Itoa(it.Priority)) + " " +
			ValueStyle.Render(truncate(it.Name, max(width-24, 10)))
		if it.HasEstimate() {
			line += " " + DimStyle.Render(strconv.Itoa(*it.Estimate)+" pts")
		}
		b.WriteString(line)
		b.WriteString("\n")
		if it.Description != "" {
			b.WriteString("    " + DimStyle.Render(truncate(it.Description, max(width-6, 10))))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderReasoning(width int) string {
	if len(m.focusSlots) == 0 {
		return DimStyle.Render("Press a to ask an agent, o for chain of thought, or m for a configuration demo.")
	}

	var b strings.Builder
	if m.focusSlots[0].Panel == sequencer.PanelConfigDemo {
		b.WriteString(TitleStyle.Render(m.demoConfig.Title()))
		b.WriteString("\n")
		if m.demoImage != "" {
			b.WriteString(DimStyle.Render("Diagram: " + m.demoImage))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	for _, slot := range m.focusSlots {
		session, ok := m.rt.seq.Session(slot)
		if !ok {
			continue
		}
		b.WriteString(m.renderSession(session, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderSession(s sequencer.ReasoningSession, width int) string {
	var b strings.Builder
	b.WriteString(PanelTitleStyle.Render(s.Slot.Agent.DisplayName()))
	if s.Slot.Panel != sequencer.PanelConfigDemo {
		b.WriteString(DimStyle.Render(" · " + s.Question))
	}
	b.WriteString("\n")

	switch s.Status {
	case sequencer.StatusPending:
		b.WriteString(WarningStyle.Render(spinnerFrames[m.spinnerIndex] + " Thinking..."))
		b.WriteString("\n")
		return b.String()
	}

	textWidth := max(width-4, 10)
	if s.NoSteps && s.Slot.Panel != sequencer.PanelAsk {
		b.WriteString(DimStyle.Render("No reasoning steps provided"))
		b.WriteString("\n")
	}
	for i, step := range s.Steps {
		text := wrapText(strconv.Itoa(i+1)+". "+step.Text, textWidth)
		if step.Visible {
			b.WriteString(StepStyle.Render(text))
		} else {
			b.WriteString(StepHiddenStyle.Render(text))
		}
		b.WriteString("\n")
	}
	if s.Status == sequencer.StatusRevealing && s.Revealed() < s.Total {
		b.WriteString(DimStyle.Render(spinnerFrames[m.spinnerIndex] + " " +
			strconv.Itoa(s.Revealed()) + "/" + strconv.Itoa(s.Total) + " steps"))
		b.WriteString("\n")
	}
	if s.ConclusionShown && s.Conclusion != "" {
		b.WriteString(ConclusionStyle.Render(wrapText(s.Conclusion, textWidth)))
		b.WriteString("\n")
	}
	if s.Status == sequencer.StatusErrored {
		msg := "Request failed"
		if s.Err != nil {
			msg = api.UserMessage(s.Err)
		}
		b.WriteString(ErrorStyle.Render(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderActivity(width int) string {
	if len(m.feed) == 0 {
		return DimStyle.Render("No activity yet")
	}

	var b strings.Builder
	textWidth := max(width-2, 10)
	for i := len(m.feed) - 1; i >= 0; i-- {
		a := m.feed[i]
		style := SuccessStyle
		switch a.Kind {
		case model.ActivityError:
			style = ErrorStyle
		case model.ActivityChange, model.ActivityGuidance:
			style = lipgloss.NewStyle().Foreground(ColorCyan)
		}
		b.WriteString(DimStyle.Render(a.Timestamp.Format("15:04:05")) + " " + style.Bold(true).Render(a.Title))
		b.WriteString("\n")
		for _, line := range a.Lines {
			b.WriteString("  " + ValueStyle.UnsetBold().Render(wrapText(line, textWidth-2)))
			b.WriteString("\n")
		}
		if a.Detail != "" {
			b.WriteString(HelpDescStyle.Render(wrapText(a.Detail, textWidth)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderLogs(width int) string {
	var b strings.Builder
	textWidth := max(width-2, 10)

	b.WriteString(PanelTitleStyle.Render("Communications"))
	b.WriteString("\n")
	comms := append(append([]model.Communication{}, m.comms...), m.localComms...)
	if len(comms) == 0 {
		b.WriteString(DimStyle.Render("No communications yet"))
		b.WriteString("\n")
	}
	for _, c := range comms {
		b.WriteString(DimStyle.Render(c.DateTime) + " " +
			KeyHintStyle.Render(c.Sender) + DimStyle.Render(" → ") + KeyHintStyle.Render(c.Recipient))
		b.WriteString("\n")
		b.WriteString("  " + wrapText(textOf(c.Message, c.MessageHTML), textWidth-2))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(PanelTitleStyle.Render("Events"))
	b.WriteString("\n")
	if len(m.events) == 0 {
		b.WriteString(DimStyle.Render("No events yet"))
		b.WriteString("\n")
	}
	for _, e := range m.events {
		b.WriteString(DimStyle.Render(e.DateTime) + " " + BadgeStyle.Render(e.Type))
		b.WriteString("\n")
		b.WriteString("  " + wrapText(e.Description, textWidth-2))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderStatusBar() string {
	var push string
	switch {
	case !m.pushEnabled:
		push = StatusDisconnectedStyle.Render("○ Push off")
	case m.rt.push != nil:
		push = StatusConnectedStyle.Render("● Live")
	case m.rt.connecting:
		push = WarningStyle.Render("◌ Connecting")
	default:
		push = StatusDisconnectedStyle.Render("○ Offline")
	}

	mutedStyle := lipgloss.NewStyle().Foreground(ColorFgMuted)
	var state string
	if m.busy() {
		state = mutedStyle.Render(" │ ") + WarningStyle.Render(spinnerFrames[m.spinnerIndex]+" Working")
	}
	if m.status != "" {
		style := SuccessStyle
		if m.statusErr {
			style = ErrorStyle
		}
		state += mutedStyle.Render(" │ ") + style.Render(truncate(m.status, max(m.width/2, 20)))
	}

	var hints []string
	for _, k := range m.keys.ShortHelp() {
		h := k.Help()
		hints = append(hints, HelpKeyStyle.Render(h.Key)+mutedStyle.Render(" "+h.Desc))
	}
	if m.pushEnabled && m.rt.push == nil && !m.rt.connecting {
		h := m.keys.Reconnect.Help()
		hints = append(hints, HelpKeyStyle.Render(h.Key)+mutedStyle.Render(" "+h.Desc))
	}
	helpHint := mutedStyle.Render(" │ ") + strings.Join(hints, mutedStyle.Render(" │ "))

	return StatusBarStyle.Render(push + state + helpHint)
}

// helpView renders the help overlay
func (m Model) helpView() string {
	title := TitleStyle.Render("Keyboard Shortcuts")

	var b strings.Builder
	for _, group := range m.keys.FullHelp() {
		b.WriteString("\n")
		for _, k := range group {
			h := k.Help()
			b.WriteString(HelpKeyStyle.Render(padRight(h.Key, 12)))
			b.WriteString(HelpDescStyle.Render(h.Desc))
			b.WriteString("\n")
		}
	}

	content := title + "\n" + b.String() + "\n" + DimStyle.Render("Press ? or Esc to close")
	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		HelpStyle.Render(content),
	)
}

// Helper functions

func progressBar(pct, width int) string {
	filled := pct * width / 100
	return SuccessStyle.Render(strings.Repeat("█", filled)) +
		DimStyle.Render(strings.Repeat("░", width-filled))
}

func padRight(s string, n int) string {
	if w := lipgloss.Width(s); w < n {
		return s + strings.Repeat(" ", n-w)
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// wrapText wraps text to width, preserving word boundaries
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			result.WriteString("\n")
		}
		if len([]rune(line)) <= width {
			result.WriteString(line)
			continue
		}

		current := ""
		for _, word := range strings.Fields(line) {
			for len([]rune(word)) > width {
				if current != "" {
					result.WriteString(current + "\n")
					current = ""
				}
				r := []rune(word)
				result.WriteString(string(r[:width]) + "\n")
				word = string(r[width:])
			}
			switch {
			case current == "":
				current = word
			case len([]rune(current))+1+len([]rune(word)) <= width:
				current += " " + word
			default:
				result.WriteString(current + "\n")
				current = word
			}
		}
		result.WriteString(current)
	}
	return result.String()
}
