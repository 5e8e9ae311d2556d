package eventlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

func TestFileStore_SaveLoadSessionRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	session := &agentloop.Session{
		ID:        "s1",
		CreatedAt: time.Now().Truncate(time.Second),
		UpdatedAt: time.Now().Truncate(time.Second),
		Messages:  []agentloop.Message{{ID: "m1", Role: agentloop.RoleUser, Content: "hi"}},
	}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	loaded, err := store.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded == nil || loaded.ID != "s1" || len(loaded.Messages) != 1 {
		t.Fatalf("unexpected loaded session: %+v", loaded)
	}
	if loaded.Messages[0].Content != "hi" {
		t.Errorf("unexpected message content: %q", loaded.Messages[0].Content)
	}
}

func TestFileStore_LoadSessionAbsentReturnsNilNil(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session, err := store.LoadSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session for absent id, got %+v", session)
	}
}

func TestFileStore_AppendAndLoadEventsInOrder(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	events := []agentloop.AgentEvent{
		agentloop.NewToken("a"),
		agentloop.NewToken("b"),
		agentloop.NewComplete(agentloop.TokenUsage{TotalTokens: 3}),
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, "s1", e); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	loaded, err := store.LoadEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 events, got %d", len(loaded))
	}
	if loaded[0].Token.Content != "a" || loaded[1].Token.Content != "b" {
		t.Errorf("events out of order: %+v", loaded)
	}
	if loaded[2].Type != agentloop.EventComplete {
		t.Errorf("expected final Complete event, got %+v", loaded[2])
	}
}

func TestFileStore_LoadEventsSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if err := store.AppendEvent(ctx, "s1", agentloop.NewToken("good1")); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "s1.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := f.WriteString("{not valid json\n"); err != nil {
		t.Fatalf("write malformed line: %v", err)
	}
	f.Close()

	if err := store.AppendEvent(ctx, "s1", agentloop.NewToken("good2")); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := store.LoadEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events (malformed line skipped), got %d", len(events))
	}
	if events[0].Token.Content != "good1" || events[1].Token.Content != "good2" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestFileStore_LoadEventsAbsentJournal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events, err := store.LoadEvents(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events != nil {
		t.Fatalf("expected nil events for absent journal, got %+v", events)
	}
}

func TestFileStore_DeleteSessionIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	session := &agentloop.Session{ID: "s1"}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.AppendEvent(ctx, "s1", agentloop.NewToken("x")); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	deleted, err := store.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if !deleted {
		t.Fatal("expected deleted=true on first delete")
	}

	deleted, err = store.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("DeleteSession (second call): %v", err)
	}
	if deleted {
		t.Fatal("expected deleted=false on idempotent re-delete")
	}

	loaded, err := store.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected session gone after delete, got %+v", loaded)
	}
}
