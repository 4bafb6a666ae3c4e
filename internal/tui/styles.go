package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/safesim/simdash/internal/backlog"
	"github.com/safesim/simdash/internal/model"
)

// One Dark Pro color palette
var (
	ColorBgHighlight = lipgloss.Color("#2C313C")

	ColorFgPrimary   = lipgloss.Color("#ABB2BF")
	ColorFgSecondary = lipgloss.Color("#828997")
	ColorFgMuted     = lipgloss.Color("#636B78")
	ColorFgComment   = lipgloss.Color("#5C6370")

	ColorRed     = lipgloss.Color("#E06C75")
	ColorGreen   = lipgloss.Color("#98C379")
	ColorYellow  = lipgloss.Color("#E5C07B")
	ColorBlue    = lipgloss.Color("#61AFEF")
	ColorMagenta = lipgloss.Color("#C678DD")
	ColorCyan    = lipgloss.Color("#56B6C2")
	ColorOrange  = lipgloss.Color("#D19A66")

	ColorBorder = lipgloss.Color("#3F4451")
)

// Component styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorFgMuted)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	FocusedPanelStyle = PanelStyle.
				BorderForeground(ColorBlue)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorFgSecondary)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorFgPrimary).
			Bold(true)

	// Controls
	ControlEnabledStyle = lipgloss.NewStyle().
				Foreground(ColorGreen)

	ControlDisabledStyle = lipgloss.NewStyle().
				Foreground(ColorFgComment)

	KeyHintStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	// Backlog item statuses
	ItemNotStartedStyle = lipgloss.NewStyle().
				Foreground(ColorFgMuted)

	ItemInProgressStyle = lipgloss.NewStyle().
				Foreground(ColorYellow)

	ItemCompletedStyle = lipgloss.NewStyle().
				Foreground(ColorGreen)

	ItemBlockedStyle = lipgloss.NewStyle().
				Foreground(ColorRed)

	BadgeStyle = lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true)

	// Reasoning
	StepStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(ColorBlue).
			PaddingLeft(1)

	StepHiddenStyle = StepStyle.
			Foreground(ColorFgComment)

	ConclusionStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(ColorGreen).
			Foreground(ColorGreen).
			PaddingLeft(1)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			PaddingLeft(1).
			PaddingRight(1)

	StatusConnectedStyle = lipgloss.NewStyle().
				Foreground(ColorGreen).
				Bold(true)

	StatusDisconnectedStyle = lipgloss.NewStyle().
				Foreground(ColorFgMuted)

	// Forms and overlays
	InputPromptStyle = lipgloss.NewStyle().
				Foreground(ColorGreen)

	FormStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBlue).
			Padding(1, 2)

	SelectedStyle = lipgloss.NewStyle().
			Background(ColorBgHighlight).
			Foreground(ColorFgPrimary).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(1, 2)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(ColorFgPrimary)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorFgComment)
)

// itemStyle returns the style for a backlog item status
func itemStyle(s model.ItemStatus) lipgloss.Style {
	switch s {
	case model.ItemStatusInProgress:
		return ItemInProgressStyle
	case model.ItemStatusCompleted:
		return ItemCompletedStyle
	case model.ItemStatusBlocked:
		return ItemBlockedStyle
	default:
		return ItemNotStartedStyle
	}
}

// priorityStyle colours a priority by band
func priorityStyle(priority int) lipgloss.Style {
	switch backlog.PriorityBand(priority) {
	case backlog.BandHigh:
		return lipgloss.NewStyle().Foreground(ColorRed)
	case backlog.BandMedium:
		return lipgloss.NewStyle().Foreground(ColorOrange)
	default:
		return lipgloss.NewStyle().Foreground(ColorFgSecondary)
	}
}
