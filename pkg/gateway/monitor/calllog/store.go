// Package calllog persists call metadata to a local SQLite database so
// operators can inspect call history across restarts. Only lifecycle
// metadata is stored; transcripts and responses never touch the database.
package calllog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dialhaus/switchboard/pkg/gateway/monitor"
)

// Store is a monitor.Sink backed by a calls table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("call log path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open call log %q: %w", path, err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate call log: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			call_sid TEXT PRIMARY KEY,
			stream_sid TEXT NOT NULL DEFAULT '',
			caller TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			events INTEGER NOT NULL DEFAULT 0,
			last_event TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls(started_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// CallStarted inserts the call row. A replayed start for the same SID
// resets the row rather than erroring.
func (s *Store) CallStarted(info monitor.CallInfo) {
	if info.CallSID == "" {
		return
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO calls(call_sid, stream_sid, caller, status, events, last_event, started_at, ended_at)
		 VALUES(?, ?, ?, 'active', 0, '', ?, NULL)`,
		info.CallSID, info.StreamSID, info.Caller, info.StartedAt.UnixMilli())
	if err != nil {
		s.logger.Warn("call log insert failed", "call_sid", info.CallSID, "error", err)
	}
}

// CallEvent bumps the event counter. The event name is retained for
// context; the detail is not, since it may carry transcript text.
func (s *Store) CallEvent(callSID, event, detail string) {
	if callSID == "" {
		return
	}
	_, err := s.db.Exec(
		`UPDATE calls SET events = events + 1, last_event = ? WHERE call_sid = ?`,
		event, callSID)
	if err != nil {
		s.logger.Warn("call log event update failed", "call_sid", callSID, "error", err)
	}
}

func (s *Store) CallCompleted(callSID, status string) {
	if callSID == "" {
		return
	}
	_, err := s.db.Exec(
		`UPDATE calls SET status = ?, ended_at = ? WHERE call_sid = ?`,
		status, time.Now().UnixMilli(), callSID)
	if err != nil {
		s.logger.Warn("call log completion update failed", "call_sid", callSID, "error", err)
	}
}

// Entry is one persisted call.
type Entry struct {
	CallSID   string
	StreamSID string
	Caller    string
	Status    string
	LastEvent string
	Events    int
	StartedAt time.Time
	EndedAt   time.Time
}

// Recent returns up to limit calls, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_sid, stream_sid, caller, status, events, last_event, started_at, ended_at
		 FROM calls ORDER BY started_at DESC, call_sid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&e.CallSID, &e.StreamSID, &e.Caller, &e.Status, &e.Events, &e.LastEvent, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan call log row: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			e.EndedAt = time.UnixMilli(ended.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
