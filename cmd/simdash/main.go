package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/safesim/simdash/internal/tui"
)

// options are the flags shared by every command
type options struct {
	configPath string
	server     string
	logLevel   string
	noJournal  bool
	noPush     bool
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "simdash",
		Short:         "Terminal dashboard for the SAFe agile simulation",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(opts)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "config file (default ./.simdash/config.yaml, then ~/.simdash/config.yaml)")
	f.StringVar(&opts.server, "server", "", "simulation server URL")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.BoolVar(&opts.noJournal, "no-journal", false, "do not record history")

	cmd.Flags().BoolVar(&opts.noPush, "no-push", false, "do not subscribe to server push events")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "open the debug panel on start")

	cmd.AddCommand(
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newUploadImageCmd(opts),
		newInitCmd(opts),
	)
	return cmd
}

func runDashboard(opts *options) error {
	a, err := newApp(opts, true)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := tui.Deps{
		Config:  a.cfg,
		Channel: a.channel,
		Store:   a.store,
		Logger:  a.logger,
		Debug:   opts.debug,
		Push:    !opts.noPush,
	}
	if a.journal != nil {
		deps.Journal = a.journal
	}

	a.logger.Info("dashboard starting", "server", a.cfg.ServerURL, "config", a.cfg.Source)
	p := tea.NewProgram(tui.New(deps), tea.WithAltScreen())
	final, err := p.Run()
	if m, ok := final.(tui.Model); ok {
		m.Close()
	}
	if err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}
