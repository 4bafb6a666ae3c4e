package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/gate"
	"github.com/safesim/simdash/internal/model"
)

// statusReport is the --json form of the status command
type statusReport struct {
	Initialized bool            `json:"initialized"`
	State       *model.Snapshot `json:"state,omitempty"`
	Controls    []gate.Action   `json:"enabled_controls"`
}

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the simulation state and the controls it enables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout)
			defer cancel()
			report, err := fetchStatus(ctx, a)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printStatus(out, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// fetchStatus reads the state through the channel so it is validated the
// same way the dashboard validates it.
func fetchStatus(ctx context.Context, a *app) (statusReport, error) {
	report := statusReport{Controls: []gate.Action{}}

	upd, err := a.channel.FetchState(ctx)
	if errors.Is(err, api.ErrBackendRejection) {
		a.logger.Info("backend has no simulation", "error", err)
		return report, nil
	}
	if err != nil {
		return report, errors.New(api.UserMessage(err))
	}
	if upd == nil {
		return report, errors.New("server returned no state")
	}
	if err := a.channel.Deliver(*upd); err != nil {
		return report, err
	}

	snap, _ := a.store.Current()
	report.Initialized = snap.Initialized
	report.State = &snap
	report.Controls = append(report.Controls, gate.DeriveControls(snap).EnabledActions()...)
	return report, nil
}

func printStatus(w io.Writer, r statusReport) {
	if !r.Initialized || r.State == nil {
		fmt.Fprintln(w, "No simulation running. Start simdash to set one up.")
		return
	}
	s := r.State

	row := func(label, value string) {
		fmt.Fprintf(w, "%-14s %s\n", label+":", value)
	}
	row("Project", s.ProjectName)
	row("Configuration", s.Configuration.Title())
	row("PI", model.PhaseLabel("PI", s.CurrentPI))
	row("Sprint", model.PhaseLabel("Sprint", s.CurrentSprint))
	row("Day", model.PhaseLabel("Day", s.CurrentDay))
	if pct, ok := model.Percent(s.PIProgress); ok {
		row("PI progress", strconv.Itoa(pct)+"%")
	}
	if pct, ok := model.Percent(s.SprintProgress); ok {
		row("Sprint progress", strconv.Itoa(pct)+"%")
	}
	row("Velocity", strconv.Itoa(s.Metrics.Velocity))
	row("Points", strconv.Itoa(s.Metrics.PointsCompleted))
	row("Impediments", strconv.Itoa(s.Metrics.Impediments))
	row("Backlog", fmt.Sprintf("%d full, %d in PI scope, %d in sprint",
		len(s.FullBacklog), len(s.PIScope), len(s.SprintBacklog)))

	names := make([]string, len(r.Controls))
	for i, a := range r.Controls {
		names[i] = string(a)
	}
	if len(names) == 0 {
		names = []string{"none"}
	}
	row("Controls", strings.Join(names, ", "))
}
