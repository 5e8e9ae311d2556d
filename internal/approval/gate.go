// Package approval implements the approval gate: suspending a session on
// an ask_user tool call and resuming it once a human response arrives.
// The single source of truth for "waiting on a human" is the
// Session.PendingQuestion field; the tool call is only the trigger.
package approval

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// Gate carries no mutable state of its own beyond a logger: it operates
// purely on the Session passed to it.
type Gate struct {
	logger *slog.Logger
}

// New creates a Gate. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger}
}

// Request marks session as suspended on call, recording question,
// options and whether a free-form answer is acceptable. The caller is
// responsible for emitting the corresponding AskUser event and for not
// advancing to another round while PendingQuestion is set.
func (g *Gate) Request(session *agentloop.Session, call agentloop.ToolCall, question string, options []string, allowCustom bool) {
	session.PendingQuestion = &agentloop.PendingQuestion{
		ToolCallID:  call.ID,
		Question:    question,
		Options:     options,
		AllowCustom: allowCustom,
	}
	g.logger.Info("turn suspended pending user response",
		"session", session.ID, "tool_call_id", call.ID, "tool", call.Name, "question", question)
}

// Resolve validates response against session's pending question. On
// success it rewrites the placeholder tool-result message matching the
// question's tool call id in place, appends a user-role message
// recording the human's choice, clears PendingQuestion, and bumps
// UpdatedAt. It returns ErrNoPendingQuestion if session has none, or
// ErrInvalidResponse if response matches neither an offered option nor
// AllowCustom — in which case session is left untouched, so a rejected
// submit can simply be retried. Without AllowCustom the response must
// be an exact member of Options; an empty option list therefore admits
// no response at all.
func (g *Gate) Resolve(session *agentloop.Session, response string, now time.Time) error {
	pq := session.PendingQuestion
	if pq == nil {
		g.logger.Warn("resolve rejected: no pending question", "session", session.ID)
		return agentloop.ErrNoPendingQuestion
	}

	if strings.TrimSpace(response) == "" {
		g.logger.Warn("resolve rejected: empty response", "session", session.ID, "tool_call_id", pq.ToolCallID)
		return agentloop.ErrInvalidResponse
	}
	if !pq.AllowCustom && !contains(pq.Options, response) {
		g.logger.Warn("resolve rejected: response not among options",
			"session", session.ID, "tool_call_id", pq.ToolCallID, "response", response)
		return agentloop.ErrInvalidResponse
	}

	found := false
	for i := range session.Messages {
		m := &session.Messages[i]
		if m.Role == agentloop.RoleTool && m.ToolCallID == pq.ToolCallID {
			m.Content = fmt.Sprintf("User selected: %s", response)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("approval: no placeholder tool message for call %s", pq.ToolCallID)
	}

	session.Messages = append(session.Messages, agentloop.Message{
		ID:        uuid.NewString(),
		Role:      agentloop.RoleUser,
		Content:   fmt.Sprintf("I chose '%s' in response to: %s", response, pq.Question),
		CreatedAt: now,
	})
	session.PendingQuestion = nil
	g.logger.Info("pending question resolved", "session", session.ID, "tool_call_id", pq.ToolCallID, "response", response)
	if now.After(session.UpdatedAt) {
		session.UpdatedAt = now
	} else {
		session.UpdatedAt = session.UpdatedAt.Add(time.Nanosecond)
	}
	return nil
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
