package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/loopstack/agentloop/internal/artifacts"
	"github.com/loopstack/agentloop/pkg/agentloop"
)

// DispatcherConfig bounds the Dispatcher's concurrency and per-call
// timeout.
type DispatcherConfig struct {
	// MaxConcurrency caps simultaneous tool executions within one
	// ExecuteAll call. Zero means unbounded.
	MaxConcurrency int

	// Timeout bounds a single tool's Execute call. Zero means no timeout.
	Timeout time.Duration

	// InlineBudgetTokens caps a single result's inline size before it is
	// spilled to an artifact file (see internal/artifacts). Zero uses
	// artifacts.DefaultInlineBudgetTokens.
	InlineBudgetTokens int

	// Artifacts stores capped tool output. Nil disables capping.
	Artifacts *artifacts.Store
}

// Dispatcher resolves tool calls against a Registry and executes them,
// normalizing every outcome into a ToolResult. Dispatch holds no
// cross-call locks: calls on distinct tools proceed in parallel.
type Dispatcher struct {
	registry *Registry
	cfg      DispatcherConfig
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over registry with the given
// config. A nil logger falls back to slog.Default().
func NewDispatcher(registry *Registry, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, cfg: cfg, logger: logger}
}

// Execute resolves and runs a single tool call, returning a normalized
// ToolResult. Dispatcher errors (not found, invalid arguments, panic,
// timeout) are themselves normalized into a failed ToolResult rather
// than returned as a Go error — the model observes the failure as
// ordinary tool-result content and may self-correct. The
// returned error is non-nil only for conditions the Scheduler itself
// must react to (currently: ctx cancellation before dispatch began).
func (d *Dispatcher) Execute(ctx context.Context, call agentloop.ToolCall) (agentloop.ToolResult, error) {
	select {
	case <-ctx.Done():
		return agentloop.ToolResult{}, ctx.Err()
	default:
	}

	result := d.dispatchOne(ctx, call)
	return result, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, call agentloop.ToolCall) agentloop.ToolResult {
	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	var parsed json.RawMessage
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		d.logger.Warn("tool dispatch rejected: invalid arguments", "tool", call.Name, "call_id", call.ID, "error", err)
		te := &agentloop.ToolError{Kind: agentloop.ToolInvalidArguments, Name: call.Name, Err: err}
		return te.AsToolResult()
	}

	tool, ok := d.registry.Get(call.Name)
	if !ok {
		d.logger.Warn("tool dispatch rejected: not found", "tool", call.Name, "call_id", call.ID)
		te := &agentloop.ToolError{Kind: agentloop.ToolNotFound, Name: call.Name}
		return te.AsToolResult()
	}

	d.logger.Debug("dispatching tool call", "tool", call.Name, "call_id", call.ID)
	result := d.invoke(ctx, tool, call, parsed)
	if !result.Success {
		d.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "result", result.Result)
	}
	return d.capResult(call.ID, result)
}

func (d *Dispatcher) invoke(ctx context.Context, tool agentloop.Tool, call agentloop.ToolCall, args json.RawMessage) agentloop.ToolResult {
	callCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	type outcome struct {
		result agentloop.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool panicked", "tool", call.Name, "call_id", call.ID, "panic", r)
				err := fmt.Errorf("tool panic: %v\n%s", r, debug.Stack())
				done <- outcome{err: err}
			}
		}()
		res, err := tool.Execute(callCtx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			te := &agentloop.ToolError{Kind: agentloop.ToolExecutionFailed, Name: call.Name, Err: o.err}
			return te.AsToolResult()
		}
		return o.result
	case <-callCtx.Done():
		select {
		case o := <-done:
			if o.err != nil {
				te := &agentloop.ToolError{Kind: agentloop.ToolExecutionFailed, Name: call.Name, Err: o.err}
				return te.AsToolResult()
			}
			return o.result
		default:
			te := &agentloop.ToolError{Kind: agentloop.ToolExecutionFailed, Name: call.Name, Err: callCtx.Err()}
			return te.AsToolResult()
		}
	}
}

func (d *Dispatcher) capResult(toolCallID string, result agentloop.ToolResult) agentloop.ToolResult {
	if d.cfg.Artifacts == nil || !result.Success {
		return result
	}
	capped, err := d.cfg.Artifacts.Cap(toolCallID, result.Result, d.cfg.InlineBudgetTokens)
	if err != nil {
		return result
	}
	result.Result = capped
	return result
}

// ExecutedResult pairs a tool call with its dispatch outcome, for
// ExecuteAll's order-preserving return.
type ExecutedResult struct {
	Call   agentloop.ToolCall
	Result agentloop.ToolResult
}

// ExecuteAll dispatches every call concurrently, bounded by
// MaxConcurrency, and returns results in the same order as calls —
// order of completion may differ, order of the returned slice does not.
func (d *Dispatcher) ExecuteAll(ctx context.Context, calls []agentloop.ToolCall) []ExecutedResult {
	results := make([]ExecutedResult, len(calls))

	var sem chan struct{}
	if d.cfg.MaxConcurrency > 0 {
		sem = make(chan struct{}, d.cfg.MaxConcurrency)
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call agentloop.ToolCall) {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[i] = ExecutedResult{Call: call, Result: agentloop.ToolResult{
						Success: false, Result: ctx.Err().Error(),
					}}
					return
				}
			}
			res := d.dispatchOne(ctx, call)
			results[i] = ExecutedResult{Call: call, Result: res}
		}(i, call)
	}
	wg.Wait()

	return results
}
