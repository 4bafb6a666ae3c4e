package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/safesim/simdash/internal/sequencer"
)

// DebugPanel shows a rolling trace of snapshot applies, push traffic and
// reasoning session changes.
type DebugPanel struct {
	visible bool
	lines   []string
	buffer  int
	now     func() time.Time
}

// NewDebugPanel creates a debug panel. It records even while hidden so the
// trace is there when toggled on.
func NewDebugPanel(visible bool) DebugPanel {
	return DebugPanel{visible: visible, buffer: 200, now: time.Now}
}

// Visible reports whether the panel is shown
func (d *DebugPanel) Visible() bool { return d.visible }

// Toggle shows or hides the panel
func (d *DebugPanel) Toggle() { d.visible = !d.visible }

// AddEvent records one event, e.g. AddEvent("apply", "call start_pi v3")
func (d *DebugPanel) AddEvent(kind, details string) {
	line := d.now().Format("15:04:05.000") + " [" + kind + "]"
	if details != "" {
		line += " " + details
	}
	d.lines = append(d.lines, line)
	if len(d.lines) > d.buffer {
		d.lines = d.lines[len(d.lines)-d.buffer:]
	}
}

// AddChange records a reasoning session change
func (d *DebugPanel) AddChange(c sequencer.Change) {
	details := fmt.Sprintf("%s gen=%d %s", c.Slot, c.Session.Generation, c.Session.Status)
	if c.Index >= 0 {
		details += fmt.Sprintf(" step=%d/%d", c.Index+1, c.Session.Total)
	}
	d.AddEvent("session:"+string(c.Kind), details)
}

// Lines returns the recorded lines
func (d *DebugPanel) Lines() []string {
	return d.lines
}

// Render renders the most recent lines that fit
func (d *DebugPanel) Render(width, height int) string {
	if !d.visible {
		return ""
	}

	title := lipgloss.NewStyle().
		Foreground(ColorYellow).
		Bold(true).
		Render("DEBUG")

	contentHeight := max(height-4, 1)
	maxLen := max(width-4, 10)

	start := max(len(d.lines)-contentHeight, 0)
	var lines []string
	for _, line := range d.lines[start:] {
		if len(line) > maxLen {
			line = line[:maxLen-3] + "..."
		}
		lines = append(lines, line)
	}
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorYellow).
		Padding(0, 1).
		Render(title + "\n" + strings.Join(lines, "\n"))
}
