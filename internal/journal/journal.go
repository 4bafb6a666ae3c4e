// Package journal keeps a local SQLite history of the snapshots and
// activity a dashboard session has seen.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/safesim/simdash/internal/model"
)

// Session is one run of the dashboard against a backend
type Session struct {
	ID        string
	ServerURL string
	StartedAt time.Time
	Snapshots int
}

// Entry is one applied snapshot as recorded
type Entry struct {
	ID        int64
	SessionID string
	Version   uint64
	Source    string
	Origin    string
	AppliedAt time.Time
	Snapshot  model.Snapshot
}

// Journal records into a DB under a single session id
type Journal struct {
	db      *DB
	session string
	logger  *slog.Logger
	now     func() time.Time
}

// New starts a new session in db for the backend at serverURL.
func New(db *DB, serverURL string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, session: uuid.NewString(), logger: logger, now: time.Now}
	_, err := db.Exec(`INSERT INTO sessions (id, server_url, started_at) VALUES (?, ?, ?)`,
		j.session, serverURL, j.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return j, nil
}

// ErrReadOnly is returned when recording through a reader
var ErrReadOnly = errors.New("journal opened read-only")

// NewReader wraps db for queries only. Nothing can be recorded through it.
func NewReader(db *DB) *Journal {
	return &Journal{db: db, logger: slog.Default(), now: time.Now}
}

// SessionID returns the id rows are recorded under
func (j *Journal) SessionID() string { return j.session }

// Close closes the underlying database
func (j *Journal) Close() error { return j.db.Close() }

// RecordSnapshot stores one applied snapshot.
func (j *Journal) RecordSnapshot(source, origin string, version uint64, s model.Snapshot) error {
	if j.session == "" {
		return ErrReadOnly
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = j.db.Exec(`
		INSERT INTO snapshots (
			session_id, version, source, origin, project_name, configuration,
			pi, sprint, day, body, applied_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.session, version, source, origin, s.ProjectName, string(s.Configuration),
		s.CurrentPI, s.CurrentSprint, s.CurrentDay, string(body), j.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// RecordActivity stores log entries not already recorded for this session
// and returns how many were new.
func (j *Journal) RecordActivity(comms []model.Communication, events []model.Event) (int, error) {
	if j.session == "" {
		return 0, ErrReadOnly
	}
	tx, err := j.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin activity: %w", err)
	}
	defer tx.Rollback()

	now := j.now().UnixMilli()
	added := 0
	for _, c := range comms {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO communications (session_id, datetime, sender, recipient, message, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, j.session, c.DateTime, c.Sender, c.Recipient, c.Message, now)
		if err != nil {
			return 0, fmt.Errorf("insert communication: %w", err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	for _, e := range events {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO events (session_id, datetime, type, description, recorded_at)
			VALUES (?, ?, ?, ?, ?)
		`, j.session, e.DateTime, e.Type, e.Description, now)
		if err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit activity: %w", err)
	}
	if added > 0 {
		j.logger.Debug("activity recorded", "session", j.session, "added", added)
	}
	return added, nil
}

// Sessions lists sessions, newest first.
func (j *Journal) Sessions(limit int) ([]Session, error) {
	rows, err := j.db.Query(`
		SELECT s.id, s.server_url, s.started_at, COUNT(sn.id)
		FROM sessions s LEFT JOIN snapshots sn ON sn.session_id = s.id
		GROUP BY s.id ORDER BY s.started_at DESC, s.rowid DESC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started int64
		if err := rows.Scan(&s.ID, &s.ServerURL, &started, &s.Snapshots); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = time.UnixMilli(started)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Snapshots returns recorded snapshots, newest first. An empty sessionID
// spans all sessions.
func (j *Journal) Snapshots(sessionID string, limit int) ([]Entry, error) {
	where, args := sessionFilter(sessionID)
	args = append(args, sqlLimit(limit))
	rows, err := j.db.Query(fmt.Sprintf(`
		SELECT id, session_id, version, source, origin, body, applied_at
		FROM snapshots %s ORDER BY id DESC LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var body string
		var applied int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Version, &e.Source, &e.Origin, &body, &applied); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &e.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot %d: %w", e.ID, err)
		}
		e.AppliedAt = time.UnixMilli(applied)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Communications returns recorded communications in recording order.
func (j *Journal) Communications(sessionID string, limit int) ([]model.Communication, error) {
	where, args := sessionFilter(sessionID)
	args = append(args, sqlLimit(limit))
	rows, err := j.db.Query(fmt.Sprintf(`
		SELECT datetime, sender, recipient, message FROM (
			SELECT id, datetime, sender, recipient, message
			FROM communications %s ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list communications: %w", err)
	}
	defer rows.Close()

	var out []model.Communication
	for rows.Next() {
		var c model.Communication
		if err := rows.Scan(&c.DateTime, &c.Sender, &c.Recipient, &c.Message); err != nil {
			return nil, fmt.Errorf("scan communication: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Events returns recorded events in recording order.
func (j *Journal) Events(sessionID string, limit int) ([]model.Event, error) {
	where, args := sessionFilter(sessionID)
	args = append(args, sqlLimit(limit))
	rows, err := j.db.Query(fmt.Sprintf(`
		SELECT datetime, type, description FROM (
			SELECT id, datetime, type, description
			FROM events %s ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.DateTime, &e.Type, &e.Description); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func sessionFilter(sessionID string) (string, []any) {
	var conditions []string
	var args []any
	if sessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, sessionID)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
