package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

func newSuspendedSession(t *testing.T, allowCustom bool, options []string) *agentloop.Session {
	t.Helper()
	now := time.Now()
	session := &agentloop.Session{
		ID:        "s1",
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []agentloop.Message{
			{ID: "m1", Role: agentloop.RoleAssistant, ToolCalls: []agentloop.ToolCall{{ID: "call1", Name: "ask_user"}}, CreatedAt: now},
			{ID: "m2", Role: agentloop.RoleTool, ToolCallID: "call1", Content: "", CreatedAt: now},
		},
	}
	g := New(nil)
	g.Request(session, agentloop.ToolCall{ID: "call1", Name: "ask_user"}, "Which way?", options, allowCustom)
	return session
}

func TestResolve_ValidOption(t *testing.T) {
	session := newSuspendedSession(t, false, []string{"left", "right"})
	g := New(nil)
	later := session.UpdatedAt.Add(time.Second)

	if err := g.Resolve(session, "left", later); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if session.PendingQuestion != nil {
		t.Fatalf("expected PendingQuestion cleared, got %+v", session.PendingQuestion)
	}
	if session.Messages[1].Content != "User selected: left" {
		t.Errorf("placeholder not rewritten: %q", session.Messages[1].Content)
	}
	if len(session.Messages) != 3 {
		t.Fatalf("expected appended user message, got %d messages", len(session.Messages))
	}
	last := session.Messages[2]
	if last.Role != agentloop.RoleUser || last.Content != "I chose 'left' in response to: Which way?" {
		t.Errorf("unexpected appended message: %+v", last)
	}
	if !session.UpdatedAt.Equal(later) {
		t.Errorf("expected UpdatedAt bumped to %v, got %v", later, session.UpdatedAt)
	}
}

func TestResolve_AllowCustomAcceptsAnything(t *testing.T) {
	session := newSuspendedSession(t, true, nil)
	g := New(nil)
	if err := g.Resolve(session, "something else entirely", time.Now()); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
}

func TestResolve_InvalidOptionLeavesSessionUntouched(t *testing.T) {
	session := newSuspendedSession(t, false, []string{"left", "right"})
	before := session.Clone()
	g := New(nil)

	err := g.Resolve(session, "up", time.Now())
	if !errors.Is(err, agentloop.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
	if session.PendingQuestion == nil {
		t.Fatal("expected PendingQuestion to survive a rejected response")
	}
	if len(session.Messages) != len(before.Messages) {
		t.Fatalf("expected no messages appended on invalid response, got %d vs %d", len(session.Messages), len(before.Messages))
	}
	if session.Messages[1].Content != "" {
		t.Errorf("expected placeholder untouched, got %q", session.Messages[1].Content)
	}
}

func TestResolve_EmptyOptionsWithoutAllowCustomRejectsEverything(t *testing.T) {
	session := newSuspendedSession(t, false, nil)
	g := New(nil)
	if err := g.Resolve(session, "anything", time.Now()); !errors.Is(err, agentloop.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse with no options and no AllowCustom, got %v", err)
	}
	if session.PendingQuestion == nil {
		t.Fatal("expected PendingQuestion to survive the rejected response")
	}
}

func TestResolve_EmptyResponseRejectedEvenWithAllowCustom(t *testing.T) {
	session := newSuspendedSession(t, true, nil)
	g := New(nil)
	if err := g.Resolve(session, "   ", time.Now()); !errors.Is(err, agentloop.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse for blank response, got %v", err)
	}
	if session.PendingQuestion == nil {
		t.Fatal("expected PendingQuestion to survive a blank response")
	}
}

func TestResolve_NoPendingQuestion(t *testing.T) {
	session := &agentloop.Session{ID: "s1"}
	g := New(nil)
	if err := g.Resolve(session, "left", time.Now()); !errors.Is(err, agentloop.ErrNoPendingQuestion) {
		t.Fatalf("expected ErrNoPendingQuestion, got %v", err)
	}
}

func TestResolve_MissingPlaceholderMessage(t *testing.T) {
	session := &agentloop.Session{
		ID: "s1",
		PendingQuestion: &agentloop.PendingQuestion{
			ToolCallID:  "call1",
			Question:    "Which way?",
			AllowCustom: true,
		},
	}
	g := New(nil)
	err := g.Resolve(session, "left", time.Now())
	if err == nil {
		t.Fatal("expected error when no placeholder tool message exists")
	}
	if session.PendingQuestion == nil {
		t.Error("expected PendingQuestion to remain set when resolution fails")
	}
}

func TestRequest_SetsPendingQuestion(t *testing.T) {
	session := &agentloop.Session{ID: "s1"}
	g := New(nil)
	g.Request(session, agentloop.ToolCall{ID: "call9"}, "Proceed?", []string{"yes", "no"}, false)

	pq := session.PendingQuestion
	if pq == nil {
		t.Fatal("expected PendingQuestion to be set")
	}
	if pq.ToolCallID != "call9" || pq.Question != "Proceed?" || pq.AllowCustom {
		t.Errorf("unexpected PendingQuestion: %+v", pq)
	}
}
