// Package cancel implements per-session cooperative cancellation: a
// handle registered in a process-wide map, polled by the Scheduler at
// round boundaries and before each tool dispatch.
package cancel

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Coordinator maps live session ids to their active turn's cancel
// function.
type Coordinator struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	logger  *slog.Logger
}

// NewCoordinator creates an empty Coordinator. A nil logger falls back
// to slog.Default().
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{cancels: make(map[string]context.CancelFunc), logger: logger}
}

// Begin derives a cancellable context for sessionID's new turn and
// registers its cancel function. Any cancel function previously
// registered for this session is discarded without being invoked — a
// new turn implicitly supersedes a prior (already-terminated) one.
func (c *Coordinator) Begin(parent context.Context, sessionID string) context.Context {
	ctx, cancel := context.WithCancel(parent)
	if strings.TrimSpace(sessionID) == "" {
		_ = cancel
		return ctx
	}
	c.mu.Lock()
	c.cancels[sessionID] = cancel
	c.mu.Unlock()
	c.logger.Debug("turn registered", "session", sessionID)
	return ctx
}

// Cancel signals the active turn's token for sessionID, if one is
// registered. Returns true iff a registration was found and signaled.
func (c *Coordinator) Cancel(sessionID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[sessionID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	c.logger.Info("turn cancelled", "session", sessionID)
	return true
}

// End unregisters sessionID's turn, releasing the cancel function. Must
// be called by the Scheduler when a turn terminates, whether normally,
// by error, or by cancellation, so the map does not grow unbounded.
func (c *Coordinator) End(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, sessionID)
	c.logger.Debug("turn unregistered", "session", sessionID)
}
