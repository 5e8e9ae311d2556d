// Package sessions implements the process-wide session registry: an
// in-memory map of live session state, mutated only by the Scheduler
// task owning a session or by approval/deletion handlers that serialize
// against it through a per-session write lock.
package sessions

import (
	"sync"
	"time"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// Registry holds every live Session, keyed by id, guarded by a
// read/write lock. All reads and writes return or accept deep clones,
// so nothing a caller holds can mutate registry-internal state out from
// under a concurrently running Scheduler.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*agentloop.Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*agentloop.Session)}
}

// Get returns a deep clone of the session with id, or (nil, false).
func (r *Registry) Get(id string) (*agentloop.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// GetOrCreate returns the existing session for id, or creates and stores
// a new empty one with the given timestamp.
func (r *Registry) GetOrCreate(id string, now time.Time) *agentloop.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s.Clone()
	}
	s := &agentloop.Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]string{},
	}
	r.sessions[id] = s
	return s.Clone()
}

// Put stores a deep clone of session, overwriting any prior state. The
// caller (the Scheduler, or an approval/deletion handler holding the
// session's write lock) is responsible for bumping UpdatedAt before
// calling Put so UpdatedAt stays monotone.
func (r *Registry) Put(session *agentloop.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
}

// Delete removes a session from the registry, returning true iff it
// existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// List returns the ids of every live session, in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
