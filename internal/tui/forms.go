package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/config"
	"github.com/safesim/simdash/internal/model"
)

// FormKind identifies which form is open
type FormKind int

const (
	FormNone FormKind = iota
	FormSetup
	FormChange
	FormGuidance
	FormAsk
	FormReason
	FormDemo
)

type fieldKind int

const (
	fieldText fieldKind = iota
	fieldChoice
	fieldToggle
)

type option struct {
	label string
	value string
}

type field struct {
	label    string
	kind     fieldKind
	input    textinput.Model
	options  []option
	selected int
	on       bool
}

// Form is a small modal form. Text fields take typed input, choice fields
// cycle with ←/→ and toggles flip with space.
type Form struct {
	Kind   FormKind
	Title  string
	fields []field
	focus  int
	Error  string
}

// formOutcome says what a key press did to the form
type formOutcome int

const (
	formEditing formOutcome = iota
	formSubmitted
	formCancelled
)

func newTextField(label, placeholder, value string, limit int) field {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "❯ "
	ti.PromptStyle = InputPromptStyle
	ti.CharLimit = limit
	ti.Width = 50
	ti.SetValue(value)
	return field{label: label, kind: fieldText, input: ti}
}

func newChoiceField(label string, options []option, selected int) field {
	return field{label: label, kind: fieldChoice, options: options, selected: selected}
}

func newToggleField(label string, on bool) field {
	return field{label: label, kind: fieldToggle, on: on}
}

func agentOptions() []option {
	var opts []option
	for _, a := range model.Agents() {
		opts = append(opts, option{label: a.DisplayName(), value: string(a)})
	}
	return opts
}

// NewSetupForm builds the simulation setup form prefilled from defaults
func NewSetupForm(d config.SetupDefaults) Form {
	var configs []option
	for _, c := range config.AvailableConfigurations() {
		configs = append(configs, option{label: c.Name + " · " + c.Description, value: string(c.ID)})
	}
	f := Form{Kind: FormSetup, Title: "New Simulation", fields: []field{
		newTextField("Project name", "My SAFe project", d.ProjectName, 80),
		newChoiceField("Configuration", configs, config.ConfigurationIndex(d.Configuration)),
		newToggleField("Use sample backlog", d.UseSampleBacklog),
	}}
	return f.focused()
}

// NewChangeForm builds the change request form
func NewChangeForm() Form {
	f := Form{Kind: FormChange, Title: "Change Request", fields: []field{
		newTextField("Description", "What needs to change?", "", 500),
		newTextField("Priority (1-10)", "5", strconv.Itoa(api.DefaultChangePriority), 2),
		newToggleField("Strategic change", false),
	}}
	return f.focused()
}

// NewGuidanceForm builds the technical guidance form
func NewGuidanceForm() Form {
	f := Form{Kind: FormGuidance, Title: "Technical Guidance", fields: []field{
		newTextField("Topic", "e.g. microservices, testing strategy", "", 200),
	}}
	return f.focused()
}

// NewAskForm builds the form for a direct question or a chain-of-thought
// demonstration, depending on kind.
func NewAskForm(kind FormKind) Form {
	title := "Ask an Agent"
	if kind == FormReason {
		title = "Chain of Thought"
	}
	f := Form{Kind: kind, Title: title, fields: []field{
		newChoiceField("Agent", agentOptions(), 0),
		newTextField("Question", "Ask about SAFe, the backlog, the team…", "", 500),
	}}
	f.focus = 1
	return f.focused()
}

// NewDemoForm builds the configuration demonstration form
func NewDemoForm(current model.Configuration) Form {
	var configs []option
	selected := 0
	for i, c := range model.DemoConfigurations() {
		configs = append(configs, option{label: c.Title(), value: string(c)})
		if c == current {
			selected = i
		}
	}
	f := Form{Kind: FormDemo, Title: "SAFe Configuration Demo", fields: []field{
		newChoiceField("Configuration", configs, selected),
	}}
	return f.focused()
}

// focused moves keyboard focus onto the current field
func (f Form) focused() Form {
	for i := range f.fields {
		if f.fields[i].kind != fieldText {
			continue
		}
		if i == f.focus {
			f.fields[i].input.Focus()
		} else {
			f.fields[i].input.Blur()
		}
	}
	return f
}

// HandleKey processes a key press
func (f Form) HandleKey(msg tea.KeyMsg, keys KeyMap) (Form, tea.Cmd, formOutcome) {
	cur := &f.fields[f.focus]
	switch {
	case key.Matches(msg, keys.Escape):
		return f, nil, formCancelled
	case msg.Type == tea.KeyEnter:
		return f, nil, formSubmitted
	case msg.Type == tea.KeyTab, msg.Type == tea.KeyDown:
		f.focus = (f.focus + 1) % len(f.fields)
		return f.focused(), nil, formEditing
	case msg.Type == tea.KeyShiftTab, msg.Type == tea.KeyUp:
		f.focus = (f.focus - 1 + len(f.fields)) % len(f.fields)
		return f.focused(), nil, formEditing
	}

	switch cur.kind {
	case fieldChoice:
		switch msg.Type {
		case tea.KeyLeft:
			cur.selected = (cur.selected - 1 + len(cur.options)) % len(cur.options)
		case tea.KeyRight:
			cur.selected = (cur.selected + 1) % len(cur.options)
		}
		return f, nil, formEditing
	case fieldToggle:
		if msg.Type == tea.KeySpace || msg.String() == " " {
			cur.on = !cur.on
		}
		return f, nil, formEditing
	}

	var cmd tea.Cmd
	cur.input, cmd = cur.input.Update(msg)
	return f, cmd, formEditing
}

func (f Form) text(i int) string   { return strings.TrimSpace(f.fields[i].input.Value()) }
func (f Form) choice(i int) string { return f.fields[i].options[f.fields[i].selected].value }
func (f Form) toggled(i int) bool  { return f.fields[i].on }

// InitializeRequest reads the setup form
func (f Form) InitializeRequest() api.InitializeRequest {
	return api.InitializeRequest{
		ProjectName:      f.text(0),
		Configuration:    model.Configuration(f.choice(1)),
		UseSampleBacklog: f.toggled(2),
	}
}

// ChangeRequest reads the change request form. An unparseable priority
// falls back to the default.
func (f Form) ChangeRequest() api.ChangeRequest {
	priority, err := strconv.Atoi(f.text(1))
	if err != nil {
		priority = api.DefaultChangePriority
	}
	return api.ChangeRequest{
		Description: f.text(0),
		Priority:    priority,
		Strategic:   f.toggled(2),
	}
}

// GuidanceRequest reads the guidance form
func (f Form) GuidanceRequest() api.GuidanceRequest {
	return api.GuidanceRequest{Topic: f.text(0)}
}

// AskRequest reads the ask or chain-of-thought form
func (f Form) AskRequest() api.AskRequest {
	return api.AskRequest{AgentType: model.AgentType(f.choice(0)), Question: f.text(1)}
}

// DemoRequest reads the configuration demo form
func (f Form) DemoRequest() api.DemoRequest {
	return api.DemoRequest{ConfigType: model.Configuration(f.choice(0))}
}

// Render draws the form centered in width x height
func (f Form) Render(width, height int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(f.Title))
	b.WriteString("\n\n")

	for i, fl := range f.fields {
		label := LabelStyle.Render(fl.label)
		if i == f.focus {
			label = KeyHintStyle.Render("▸ " + fl.label)
		} else {
			label = "  " + label
		}
		b.WriteString(label)
		b.WriteString("\n")

		switch fl.kind {
		case fieldText:
			b.WriteString("  " + fl.input.View())
		case fieldChoice:
			opt := fl.options[fl.selected].label
			line := "‹ " + opt + " ›"
			if i == f.focus {
				line = SelectedStyle.Render(line)
			}
			b.WriteString("  " + line)
		case fieldToggle:
			box := "[ ]"
			if fl.on {
				box = "[✓]"
			}
			b.WriteString("  " + box)
		}
		b.WriteString("\n\n")
	}

	if f.Error != "" {
		b.WriteString(ErrorStyle.Render(f.Error))
		b.WriteString("\n\n")
	}
	b.WriteString(DimStyle.Render("tab/↑↓ move • ←/→ choose • space toggle • enter submit • esc cancel"))

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, FormStyle.Render(b.String()))
}
