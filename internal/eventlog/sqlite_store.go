package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// SQLiteStore is an alternate Store backend over the CGO-free
// modernc.org/sqlite driver. Journal rows are ordered by an
// auto-increment sequence column, giving the same ordering guarantee as
// the file backend's append-only journal.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline, matches journal semantics

	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	snapshot TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SaveSession(ctx context.Context, session *agentloop.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return &agentloop.StorageError{Kind: agentloop.StorageSnapshotSave, Op: "marshal", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, snapshot) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot`,
		session.ID, string(data))
	if err != nil {
		return &agentloop.StorageError{Kind: agentloop.StorageSnapshotSave, Op: "upsert", Err: err}
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*agentloop.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &agentloop.StorageError{Kind: agentloop.StorageSnapshotLoad, Op: "select", Err: err}
	}
	var session agentloop.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, &agentloop.StorageError{Kind: agentloop.StorageSnapshotLoad, Op: "unmarshal", Err: err}
	}
	return &session, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, sessionID string, event agentloop.AgentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "marshal", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO events(session_id, payload) VALUES(?, ?)`, sessionID, string(data))
	if err != nil {
		return &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "insert", Err: err}
	}
	return nil
}

func (s *SQLiteStore) LoadEvents(ctx context.Context, sessionID string) ([]agentloop.AgentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM events WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "select", Err: err}
	}
	defer rows.Close()

	var events []agentloop.AgentEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return events, &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "scan", Err: err}
		}
		var e agentloop.AgentEvent
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	res1, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "delete session", Err: err}
	}
	res2, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id)
	if err != nil {
		return false, &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "delete events", Err: err}
	}
	n1, _ := res1.RowsAffected()
	n2, _ := res2.RowsAffected()
	return n1 > 0 || n2 > 0, nil
}
