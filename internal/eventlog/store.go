// Package eventlog implements crash-consistent journaling of sessions
// and events: an append-only per-session event journal alongside a
// mutable session snapshot. The journal is authoritative for in-round
// progress; the snapshot for the final conversation.
package eventlog

import (
	"context"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// Store is the five-operation contract every backend must satisfy.
type Store interface {
	// SaveSession overwrites the single-file snapshot keyed by session.ID.
	SaveSession(ctx context.Context, session *agentloop.Session) error

	// LoadSession returns the snapshot if present, (nil, nil) if absent.
	LoadSession(ctx context.Context, id string) (*agentloop.Session, error)

	// AppendEvent appends one JSON-encoded event to the per-session
	// journal and flushes before returning.
	AppendEvent(ctx context.Context, sessionID string, event agentloop.AgentEvent) error

	// LoadEvents reads the journal in order, skipping lines that fail to
	// parse.
	LoadEvents(ctx context.Context, sessionID string) ([]agentloop.AgentEvent, error)

	// DeleteSession removes the snapshot and journal, returning true iff
	// at least one existed. Idempotent after the first success.
	DeleteSession(ctx context.Context, id string) (bool, error)
}
