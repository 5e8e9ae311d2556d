// Package runtime wires every component into a single entry point: a
// thin facade over the Scheduler that also exposes the operations a
// transport layer needs alongside chat/stream — submitting an approval
// response, cancelling a turn, deleting a session.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopstack/agentloop/internal/approval"
	"github.com/loopstack/agentloop/internal/broadcast"
	"github.com/loopstack/agentloop/internal/cancel"
	"github.com/loopstack/agentloop/internal/eventlog"
	"github.com/loopstack/agentloop/internal/scheduler"
	"github.com/loopstack/agentloop/internal/sessions"
	"github.com/loopstack/agentloop/internal/tools"
	"github.com/loopstack/agentloop/pkg/agentloop"
)

// Config bundles the per-process tunables of every collaborator the
// Runtime owns.
type Config struct {
	Scheduler   scheduler.Config
	Dispatcher  tools.DispatcherConfig
	LockTimeout time.Duration
	BufferSize  int
}

// Runtime owns one instance of every collaborator component and
// exposes the operations a transport layer needs: starting a turn,
// submitting an approval response, cancelling an in-flight turn,
// deleting a session, and subscribing to the event stream. It is a
// composition root, not a new algorithm.
type Runtime struct {
	store        eventlog.Store
	registry     *sessions.Registry
	locker       *sessions.WriteLocker
	toolRegistry *tools.Registry
	dispatcher   *tools.Dispatcher
	gate         *approval.Gate
	broadcaster  *broadcast.Broadcaster
	cancels      *cancel.Coordinator
	scheduler    *scheduler.Scheduler
}

// New constructs a Runtime. provider is the injected model backend;
// store is the injected event log store. A nil logger falls back to
// slog.Default() and is threaded into every collaborator this Runtime
// constructs.
func New(store eventlog.Store, provider agentloop.Provider, cfg Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	registry := sessions.NewRegistry()
	locker := sessions.NewWriteLocker(cfg.LockTimeout)
	toolRegistry := tools.NewRegistry(logger)
	dispatcher := tools.NewDispatcher(toolRegistry, cfg.Dispatcher, logger)
	gate := approval.New(logger)
	broadcaster := broadcast.New(cfg.BufferSize, logger)
	cancels := cancel.NewCoordinator(logger)

	sched := scheduler.New(store, registry, locker, toolRegistry, dispatcher, gate, broadcaster, cancels, provider, cfg.Scheduler, logger)

	return &Runtime{
		store:        store,
		registry:     registry,
		locker:       locker,
		toolRegistry: toolRegistry,
		dispatcher:   dispatcher,
		gate:         gate,
		broadcaster:  broadcaster,
		cancels:      cancels,
		scheduler:    sched,
	}
}

// RegisterTool adds tool to the tool registry, returning a
// *agentloop.RegistryError on collision or an empty name.
func (r *Runtime) RegisterTool(tool agentloop.Tool) error {
	return r.toolRegistry.Register(tool)
}

// Subscribe opens a new event subscription on the Broadcaster. Callers
// (an SSE handler, a test) drain Events() until it closes.
func (r *Runtime) Subscribe() *broadcast.Subscription {
	return r.broadcaster.Subscribe()
}

// RunTurn drives one user turn to completion, suspension, or error —
// the chat entry point.
func (r *Runtime) RunTurn(ctx context.Context, sessionID, userContent string, opts scheduler.RunOptions) error {
	return r.scheduler.RunTurn(ctx, sessionID, userContent, opts)
}

// Cancel signals the cancellation token for sessionID's active turn,
// if any.
func (r *Runtime) Cancel(sessionID string) bool {
	return r.cancels.Cancel(sessionID)
}

// Session returns the live (registry) or persisted (store) state for
// id, preferring the registry since it reflects any in-flight turn.
func (r *Runtime) Session(ctx context.Context, id string) (*agentloop.Session, error) {
	if s, ok := r.registry.Get(id); ok {
		return s, nil
	}
	return r.store.LoadSession(ctx, id)
}

// SubmitResponse resolves a session's pending ask_user question. It
// serializes against the session's Scheduler turn (if any) via the same
// WriteLocker the Scheduler uses, so a response can never race a round
// in progress. On success the session is re-registered and
// re-snapshotted; the caller is responsible for starting a new turn to
// resume the loop.
func (r *Runtime) SubmitResponse(ctx context.Context, sessionID, response string) error {
	unlock, err := r.locker.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	session, ok := r.registry.Get(sessionID)
	if !ok {
		loaded, loadErr := r.store.LoadSession(ctx, sessionID)
		if loadErr != nil {
			return &agentloop.StorageError{Kind: agentloop.StorageSnapshotLoad, Op: "load_session", Err: loadErr}
		}
		if loaded == nil {
			return agentloop.ErrSessionNotFound
		}
		session = loaded
	}

	if err := r.gate.Resolve(session, response, time.Now()); err != nil {
		return err
	}

	r.registry.Put(session)
	return r.store.SaveSession(ctx, session)
}

// DeleteSession removes sessionID from the registry and storage,
// cancelling any in-flight turn first — deleting a session cancels it
// implicitly. Returns true iff the session existed in either the
// registry or storage.
func (r *Runtime) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	r.cancels.Cancel(sessionID)

	unlock, err := r.locker.Lock(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("runtime: delete session: %w", err)
	}
	defer unlock()

	inRegistry := r.registry.Delete(sessionID)
	existedInStore, err := r.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return inRegistry, err
	}
	return inRegistry || existedInStore, nil
}
