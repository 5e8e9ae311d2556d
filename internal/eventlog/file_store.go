package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// FileStore is the default Store backend: one JSON snapshot file and one
// JSONL journal file per session, in a shared directory:
//
//	<data_dir>/<session_id>.json
//	<data_dir>/<session_id>.jsonl
//
// Snapshot writes use a temp-file-plus-rename for atomicity; journal
// appends use O_APPEND with an explicit flush.
type FileStore struct {
	dir string

	// journalMu serializes journal appends per session so concurrent
	// AppendEvent calls for the same session don't interleave partial
	// writes; distinct sessions never block each other.
	journalMu sync.Map // map[string]*sync.Mutex

	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir, creating it if absent.
// A nil logger falls back to slog.Default().
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create data dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) snapshotPath(id string) string { return filepath.Join(s.dir, id+".json") }
func (s *FileStore) journalPath(id string) string  { return filepath.Join(s.dir, id+".jsonl") }

func (s *FileStore) lockFor(sessionID string) *sync.Mutex {
	mu, _ := s.journalMu.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SaveSession writes session as an atomic JSON snapshot.
func (s *FileStore) SaveSession(ctx context.Context, session *agentloop.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return &agentloop.StorageError{Kind: agentloop.StorageSnapshotSave, Op: "marshal", Err: err}
	}

	path := s.snapshotPath(session.ID)
	tmp, err := os.CreateTemp(s.dir, session.ID+".json.tmp-*")
	if err != nil {
		s.logger.Warn("snapshot save failed", "session", session.ID, "op", "create temp", "error", err)
		return &agentloop.StorageError{Kind: agentloop.StorageSnapshotSave, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.logger.Warn("snapshot save failed", "session", session.ID, "op", "write temp", "error", err)
		return &agentloop.StorageError{Kind: agentloop.StorageSnapshotSave, Op: "write temp", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		s.logger.Warn("snapshot save failed", "session", session.ID, "op", "close temp", "error", err)
		return &agentloop.StorageError{Kind: agentloop.StorageSnapshotSave, Op: "close temp", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		s.logger.Warn("snapshot save failed", "session", session.ID, "op", "rename", "error", err)
		return &agentloop.StorageError{Kind: agentloop.StorageSnapshotSave, Op: "rename", Err: err}
	}
	return nil
}

// LoadSession returns the snapshot for id, or (nil, nil) if absent.
func (s *FileStore) LoadSession(ctx context.Context, id string) (*agentloop.Session, error) {
	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.logger.Warn("snapshot load failed", "session", id, "op", "read", "error", err)
		return nil, &agentloop.StorageError{Kind: agentloop.StorageSnapshotLoad, Op: "read", Err: err}
	}
	var session agentloop.Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.Warn("snapshot load failed", "session", id, "op", "unmarshal", "error", err)
		return nil, &agentloop.StorageError{Kind: agentloop.StorageSnapshotLoad, Op: "unmarshal", Err: err}
	}
	return &session, nil
}

// AppendEvent appends one JSON line to the session's journal, flushing
// before returning so the append is durable at line granularity under
// POSIX O_APPEND semantics.
func (s *FileStore) AppendEvent(ctx context.Context, sessionID string, event agentloop.AgentEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "marshal", Err: err}
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(s.journalPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("journal append failed", "session", sessionID, "op", "open", "error", err)
		return &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "open", Err: err}
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Warn("journal append failed", "session", sessionID, "op", "write", "error", err)
		return &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		s.logger.Warn("journal append failed", "session", sessionID, "op", "sync", "error", err)
		return &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "sync", Err: err}
	}
	return nil
}

// LoadEvents reads the journal line by line, skipping any line that fails
// to parse.
func (s *FileStore) LoadEvents(ctx context.Context, sessionID string) ([]agentloop.AgentEvent, error) {
	f, err := os.Open(s.journalPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.logger.Warn("journal read failed", "session", sessionID, "op", "open for read", "error", err)
		return nil, &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "open for read", Err: err}
	}
	defer f.Close()

	var events []agentloop.AgentEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var e agentloop.AgentEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("journal read failed", "session", sessionID, "op", "scan", "error", err)
		return events, &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "scan", Err: err}
	}
	return events, nil
}

// DeleteSession removes the snapshot and journal files, returning true iff
// at least one existed.
func (s *FileStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	deletedAny := false
	for _, path := range []string{s.snapshotPath(id), s.journalPath(id)} {
		err := os.Remove(path)
		if err == nil {
			deletedAny = true
			continue
		}
		if !os.IsNotExist(err) {
			s.logger.Warn("session delete failed", "session", id, "op", "remove", "error", err)
			return deletedAny, &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "remove", Err: err}
		}
	}
	s.journalMu.Delete(id)
	return deletedAny, nil
}
