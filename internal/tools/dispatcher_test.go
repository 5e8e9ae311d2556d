package tools

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loopstack/agentloop/internal/artifacts"
	"github.com/loopstack/agentloop/pkg/agentloop"
)

type scriptedTool struct {
	name    string
	execute func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error)
}

func (s scriptedTool) Name() string             { return s.name }
func (s scriptedTool) Description() string      { return "" }
func (s scriptedTool) ParametersSchema() []byte { return nil }
func (s scriptedTool) RequiresApproval() bool   { return false }
func (s scriptedTool) Execute(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
	return s.execute(ctx, arguments)
}

func newTestRegistry(t *testing.T, tools ...scriptedTool) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.name, err)
		}
	}
	return r
}

func TestDispatcher_ToolNotFound(t *testing.T) {
	d := NewDispatcher(NewRegistry(nil), DispatcherConfig{}, nil)
	result, err := d.Execute(context.Background(), agentloop.ToolCall{ID: "c1", Name: "missing", Arguments: "{}"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failed result for missing tool")
	}
	if !strings.Contains(result.Result, "not found") {
		t.Errorf("unexpected result message: %q", result.Result)
	}
}

func TestDispatcher_InvalidArguments(t *testing.T) {
	r := newTestRegistry(t, scriptedTool{name: "echo", execute: func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
		return agentloop.ToolResult{Success: true}, nil
	}})
	d := NewDispatcher(r, DispatcherConfig{}, nil)
	result, _ := d.Execute(context.Background(), agentloop.ToolCall{ID: "c1", Name: "echo", Arguments: "{not json"})
	if result.Success {
		t.Fatal("expected failed result for invalid arguments")
	}
	if !strings.Contains(result.Result, "invalid arguments") {
		t.Errorf("unexpected result message: %q", result.Result)
	}
}

func TestDispatcher_Success(t *testing.T) {
	r := newTestRegistry(t, scriptedTool{name: "echo", execute: func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
		return agentloop.ToolResult{Success: true, Result: string(arguments)}, nil
	}})
	d := NewDispatcher(r, DispatcherConfig{}, nil)
	result, err := d.Execute(context.Background(), agentloop.ToolCall{ID: "c1", Name: "echo", Arguments: `{"x":1}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Result != `{"x":1}` {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	r := newTestRegistry(t, scriptedTool{name: "boom", execute: func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
		panic("kaboom")
	}})
	d := NewDispatcher(r, DispatcherConfig{}, nil)
	result, err := d.Execute(context.Background(), agentloop.ToolCall{ID: "c1", Name: "boom", Arguments: "{}"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failed result after panic")
	}
	if !strings.Contains(result.Result, "kaboom") {
		t.Errorf("unexpected result message: %q", result.Result)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	r := newTestRegistry(t, scriptedTool{name: "slow", execute: func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return agentloop.ToolResult{Success: true}, nil
		case <-ctx.Done():
			return agentloop.ToolResult{}, ctx.Err()
		}
	}})
	d := NewDispatcher(r, DispatcherConfig{Timeout: 10 * time.Millisecond}, nil)
	result, err := d.Execute(context.Background(), agentloop.ToolCall{ID: "c1", Name: "slow", Arguments: "{}"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failed result on timeout")
	}
}

func TestDispatcher_CapsOutputViaArtifacts(t *testing.T) {
	dir := t.TempDir()
	store, err := artifacts.NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	big := strings.Repeat("word ", 2000)
	r := newTestRegistry(t, scriptedTool{name: "dump", execute: func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
		return agentloop.ToolResult{Success: true, Result: big}, nil
	}})
	d := NewDispatcher(r, DispatcherConfig{Artifacts: store, InlineBudgetTokens: 10}, nil)
	result, err := d.Execute(context.Background(), agentloop.ToolCall{ID: "c1", Name: "dump", Arguments: "{}"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Result) >= len(big) {
		t.Fatalf("expected capped result shorter than original, got len %d vs %d", len(result.Result), len(big))
	}
	if !strings.Contains(result.Result, "truncated") {
		t.Errorf("expected truncation marker, got %q", result.Result)
	}
}

func TestExecuteAll_PreservesOrder(t *testing.T) {
	r := newTestRegistry(t,
		scriptedTool{name: "a", execute: func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
			time.Sleep(20 * time.Millisecond)
			return agentloop.ToolResult{Success: true, Result: "a"}, nil
		}},
		scriptedTool{name: "b", execute: func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
			return agentloop.ToolResult{Success: true, Result: "b"}, nil
		}},
	)
	d := NewDispatcher(r, DispatcherConfig{}, nil)
	calls := []agentloop.ToolCall{
		{ID: "c1", Name: "a", Arguments: "{}"},
		{ID: "c2", Name: "b", Arguments: "{}"},
	}
	results := d.ExecuteAll(context.Background(), calls)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Call.ID != "c1" || results[0].Result.Result != "a" {
		t.Errorf("unexpected result[0]: %+v", results[0])
	}
	if results[1].Call.ID != "c2" || results[1].Result.Result != "b" {
		t.Errorf("unexpected result[1]: %+v", results[1])
	}
}

func TestExecuteAll_RespectsMaxConcurrency(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0

	r := NewRegistry(nil)
	for _, name := range []string{"a", "b", "c"} {
		if err := r.Register(scriptedTool{name: name, execute: func(ctx context.Context, arguments []byte) (agentloop.ToolResult, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return agentloop.ToolResult{Success: true}, nil
		}}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	d := NewDispatcher(r, DispatcherConfig{MaxConcurrency: 1}, nil)
	calls := []agentloop.ToolCall{
		{ID: "c1", Name: "a", Arguments: "{}"},
		{ID: "c2", Name: "b", Arguments: "{}"},
		{ID: "c3", Name: "c", Arguments: "{}"},
	}
	d.ExecuteAll(context.Background(), calls)

	mu.Lock()
	defer mu.Unlock()
	if maxActive > 1 {
		t.Errorf("expected at most 1 concurrent execution, observed %d", maxActive)
	}
}
