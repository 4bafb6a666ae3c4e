package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings for the dashboard
type KeyMap struct {
	// Navigation
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	NextPane key.Binding
	PrevPane key.Binding

	// Simulation lifecycle
	StartPI     key.Binding
	EndPI       key.Binding
	StartSprint key.Binding
	Standup     key.Binding
	EndSprint   key.Binding

	// Forms
	Setup    key.Binding
	Change   key.Binding
	Guidance key.Binding
	Ask      key.Binding
	Reason   key.Binding
	Demo     key.Binding
	Dismiss  key.Binding

	// Backlog views
	PIScope       key.Binding
	SprintBacklog key.Binding
	FullBacklog   key.Binding
	ClearBacklog  key.Binding

	// General
	Refresh   key.Binding
	Reconnect key.Binding
	Debug     key.Binding
	Help      key.Binding
	Escape    key.Binding
	Quit      key.Binding
	Interrupt key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "page down"),
		),
		NextPane: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next pane"),
		),
		PrevPane: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "previous pane"),
		),
		StartPI: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "start PI"),
		),
		EndPI: key.NewBinding(
			key.WithKeys("P"),
			key.WithHelp("P", "end PI"),
		),
		StartSprint: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start sprint"),
		),
		Standup: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "daily standup"),
		),
		EndSprint: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "end sprint"),
		),
		Setup: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new simulation"),
		),
		Change: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "change request"),
		),
		Guidance: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "technical guidance"),
		),
		Ask: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "ask agent"),
		),
		Reason: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "chain of thought"),
		),
		Demo: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "configuration demo"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "dismiss reasoning"),
		),
		PIScope: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "PI scope"),
		),
		SprintBacklog: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "sprint backlog"),
		),
		FullBacklog: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "full backlog"),
		),
		ClearBacklog: key.NewBinding(
			key.WithKeys("0"),
			key.WithHelp("0", "hide backlog"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "reconnect push"),
		),
		Debug: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "debug panel"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Interrupt: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.NextPane, k.Refresh, k.Quit}
}

// FullHelp returns the bindings shown in the help overlay
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.StartPI, k.EndPI, k.StartSprint, k.Standup, k.EndSprint},
		{k.Setup, k.Change, k.Guidance, k.Ask, k.Reason, k.Demo, k.Dismiss},
		{k.PIScope, k.SprintBacklog, k.FullBacklog, k.ClearBacklog},
		{k.Up, k.Down, k.NextPane, k.PrevPane},
		{k.Refresh, k.Reconnect, k.Debug, k.Help, k.Escape, k.Quit},
	}
}
