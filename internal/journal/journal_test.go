package journal

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/safesim/simdash/internal/model"
)

func setupTestJournal(t *testing.T) (*DB, *Journal) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatalf("failed to open journal db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	j, err := New(db, "http://localhost:5000", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	return db, j
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 2; i++ {
		db, err := Open(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		j, err := New(db, "http://localhost:5000", nil)
		if err != nil {
			t.Fatalf("new session #%d: %v", i+1, err)
		}
		if err := j.RecordSnapshot("push", "sprint_started", 1, model.Snapshot{Initialized: true}); err != nil {
			t.Fatalf("record #%d: %v", i+1, err)
		}
		entries, err := j.Snapshots(j.SessionID(), 0)
		if err != nil {
			t.Fatalf("snapshots #%d: %v", i+1, err)
		}
		if len(entries) != 1 || entries[0].Source != "push" || entries[0].Origin != "sprint_started" {
			t.Fatalf("open #%d: entries = %+v", i+1, entries)
		}
		db.Close()
	}
}

func TestSnapshots(t *testing.T) {
	_, j := setupTestJournal(t)

	first := model.Snapshot{Initialized: true, ProjectName: "Apollo", Configuration: model.ConfigEssential}
	second := first
	second.CurrentPI = 1
	second.PIScope = []model.BacklogItem{{Name: "Login", Priority: 1, Status: model.ItemStatusNotStarted}}

	if err := j.RecordSnapshot("call", "initialize", 1, first); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if err := j.RecordSnapshot("push", "pi_started", 2, second); err != nil {
		t.Fatalf("record second: %v", err)
	}

	t.Run("newest first", func(t *testing.T) {
		entries, err := j.Snapshots("", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		latest := entries[0]
		if latest.Origin != "pi_started" || latest.Source != "push" || latest.Version != 2 {
			t.Fatalf("unexpected latest entry: %+v", latest)
		}
		if latest.Snapshot.CurrentPI != 1 || len(latest.Snapshot.PIScope) != 1 {
			t.Fatalf("snapshot body not restored: %+v", latest.Snapshot)
		}
		if latest.SessionID != j.SessionID() {
			t.Fatalf("expected session %s, got %s", j.SessionID(), latest.SessionID)
		}
	})

	t.Run("limit", func(t *testing.T) {
		entries, err := j.Snapshots(j.SessionID(), 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 1 || entries[0].Version != 2 {
			t.Fatalf("expected only the latest entry, got %+v", entries)
		}
	})

	t.Run("other session filter", func(t *testing.T) {
		entries, err := j.Snapshots("missing", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected no entries, got %d", len(entries))
		}
	})
}

func TestRecordActivityDeduplicates(t *testing.T) {
	_, j := setupTestJournal(t)

	comms := []model.Communication{
		{DateTime: "2026-03-01 10:00:00", Sender: "User", Recipient: "SAFe Coach", Message: "What is ART?"},
		{DateTime: "2026-03-01 10:00:01", Sender: "SAFe Coach", Recipient: "User", Message: "An Agile Release Train."},
	}
	events := []model.Event{
		{DateTime: "2026-03-01 10:00:00", Type: "pi_start", Description: "PI 1 started"},
	}

	added, err := j.RecordActivity(comms, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 3 {
		t.Fatalf("expected 3 new rows, got %d", added)
	}

	// A refetch returns the same log plus one new entry.
	events = append(events, model.Event{DateTime: "2026-03-01 10:05:00", Type: "sprint_start", Description: "Sprint 1 started"})
	added, err = j.RecordActivity(comms, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 new row, got %d", added)
	}

	gotComms, err := j.Communications(j.SessionID(), 0)
	if err != nil {
		t.Fatalf("communications: %v", err)
	}
	if len(gotComms) != 2 || gotComms[0].Sender != "User" {
		t.Fatalf("unexpected communications: %+v", gotComms)
	}

	gotEvents, err := j.Events("", 1)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(gotEvents) != 1 || gotEvents[0].Type != "sprint_start" {
		t.Fatalf("expected the most recent event, got %+v", gotEvents)
	}
}

func TestSessions(t *testing.T) {
	db, first := setupTestJournal(t)
	if err := first.RecordSnapshot("call", "initialize", 1, model.Snapshot{Initialized: true}); err != nil {
		t.Fatalf("record: %v", err)
	}

	second, err := New(db, "http://sim.internal:5000", nil)
	if err != nil {
		t.Fatalf("second session: %v", err)
	}

	sessions, err := second.Sessions(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	counts := map[string]int{}
	for _, s := range sessions {
		counts[s.ID] = s.Snapshots
	}
	if counts[first.SessionID()] != 1 || counts[second.SessionID()] != 0 {
		t.Fatalf("unexpected snapshot counts: %v", counts)
	}
}

func TestReaderCannotRecord(t *testing.T) {
	db, _ := setupTestJournal(t)
	r := NewReader(db)

	if err := r.RecordSnapshot("call", "state", 1, model.Snapshot{}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("RecordSnapshot error = %v, want ErrReadOnly", err)
	}
	if _, err := r.RecordActivity(nil, nil); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("RecordActivity error = %v, want ErrReadOnly", err)
	}
	sessions, err := r.Sessions(0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want the one the writer started", len(sessions))
	}
}
