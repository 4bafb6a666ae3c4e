package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/safesim/simdash/internal/journal"
	"github.com/safesim/simdash/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show what earlier dashboard sessions recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, closeFn, err := openReader(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			sessions, err := j.Sessions(limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded yet.")
				return nil
			}
			printSessions(cmd.OutOrStdout(), sessions)
			if session == "" {
				return nil
			}

			entries, err := j.Snapshots(session, limit)
			if err != nil {
				return err
			}
			printSnapshots(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "also list the snapshots of this session")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows per table")

	cmd.AddCommand(newHistoryEventsCmd(opts), newHistoryCommsCmd(opts))
	return cmd
}

func newHistoryEventsCmd(opts *options) *cobra.Command {
	var (
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded simulation events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, closeFn, err := openReader(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			events, err := j.Events(session, limit)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "limit to one session")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newHistoryCommsCmd(opts *options) *cobra.Command {
	var (
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:     "communications",
		Aliases: []string{"comms"},
		Short:   "Show recorded agent communications",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, closeFn, err := openReader(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			comms, err := j.Communications(session, limit)
			if err != nil {
				return err
			}
			printComms(cmd.OutOrStdout(), comms)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "limit to one session")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

// openReader opens the journal for queries. A journal that was never
// written is reported rather than created.
func openReader(opts *options) (*journal.Journal, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(cfg.JournalPath); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("no journal at %s", cfg.JournalPath)
	}
	db, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, nil, err
	}
	return journal.NewReader(db), func() { db.Close() }, nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func printSessions(w io.Writer, sessions []journal.Session) {
	t := newTable("Session", "Server", "Started", "Snapshots")
	for _, s := range sessions {
		t.Row(s.ID, s.ServerURL, s.StartedAt.Local().Format(timeLayout), strconv.Itoa(s.Snapshots))
	}
	fmt.Fprintln(w, t.Render())
}

func printSnapshots(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No snapshots recorded for that session.")
		return
	}
	t := newTable("Version", "Source", "Origin", "PI", "Sprint", "Day", "Applied")
	for _, e := range entries {
		t.Row(
			strconv.FormatUint(e.Version, 10),
			e.Source,
			e.Origin,
			strconv.Itoa(e.Snapshot.CurrentPI),
			strconv.Itoa(e.Snapshot.CurrentSprint),
			strconv.Itoa(e.Snapshot.CurrentDay),
			e.AppliedAt.Local().Format(timeLayout),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func printEvents(w io.Writer, events []model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}
	t := newTable("Time", "Type", "Description")
	for _, e := range events {
		t.Row(e.DateTime, e.Type, e.Description)
	}
	fmt.Fprintln(w, t.Render())
}

func printComms(w io.Writer, comms []model.Communication) {
	if len(comms) == 0 {
		fmt.Fprintln(w, "No communications recorded.")
		return
	}
	t := newTable("Time", "From", "To", "Message")
	for _, c := range comms {
		t.Row(c.DateTime, c.Sender, c.Recipient, c.Message)
	}
	fmt.Fprintln(w, t.Render())
}
