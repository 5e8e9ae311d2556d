// Package scheduler implements the agent loop: the round algorithm that
// drives a bounded sequence of provider calls and tool dispatches for a
// single user turn, tying together every other runtime component.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loopstack/agentloop/internal/approval"
	"github.com/loopstack/agentloop/internal/broadcast"
	"github.com/loopstack/agentloop/internal/cancel"
	"github.com/loopstack/agentloop/internal/eventlog"
	"github.com/loopstack/agentloop/internal/reassemble"
	"github.com/loopstack/agentloop/internal/sessions"
	"github.com/loopstack/agentloop/internal/tools"
	"github.com/loopstack/agentloop/pkg/agentloop"
)

// AskUserTool is the synthetic tool name that always routes through the
// approval gate rather than the dispatcher.
const AskUserTool = "ask_user"

// DefaultMaxRounds bounds how many rounds a single turn may run.
const DefaultMaxRounds = 50

// Config holds process-wide scheduler defaults.
type Config struct {
	DefaultModel string
	MaxRounds    int
}

// RunOptions are per-turn overrides.
type RunOptions struct {
	SystemPrompt           string
	AdditionalTools        []agentloop.ToolSchema
	SkipInitialUserMessage bool
	MaxRounds              int
}

// Scheduler owns the round loop. One Scheduler instance is shared by
// every session; per-session serialization comes from the WriteLocker,
// not from per-session Scheduler state.
type Scheduler struct {
	store        eventlog.Store
	registry     *sessions.Registry
	locker       *sessions.WriteLocker
	toolRegistry *tools.Registry
	dispatcher   *tools.Dispatcher
	gate         *approval.Gate
	broadcaster  *broadcast.Broadcaster
	cancels      *cancel.Coordinator
	provider     agentloop.Provider
	cfg          Config
	logger       *slog.Logger
}

// New constructs a Scheduler from its collaborators. A nil logger falls
// back to slog.Default().
func New(
	store eventlog.Store,
	registry *sessions.Registry,
	locker *sessions.WriteLocker,
	toolRegistry *tools.Registry,
	dispatcher *tools.Dispatcher,
	gate *approval.Gate,
	broadcaster *broadcast.Broadcaster,
	cancels *cancel.Coordinator,
	provider agentloop.Provider,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        store,
		registry:     registry,
		locker:       locker,
		toolRegistry: toolRegistry,
		dispatcher:   dispatcher,
		gate:         gate,
		broadcaster:  broadcaster,
		cancels:      cancels,
		provider:     provider,
		cfg:          cfg,
		logger:       logger,
	}
}

// RunTurn drives one user turn for sessionID to completion, suspension,
// or error. It holds the session's WriteLocker lock for the whole turn,
// so it serializes against any concurrent approval/deletion handler and
// against another RunTurn for the same session; a caller that cannot
// take the lock within the locker's timeout gets ErrLockTimeout. The
// turn's cancel function is registered with the Cancellation
// Coordinator while the turn runs and unregistered when it ends.
func (s *Scheduler) RunTurn(ctx context.Context, sessionID string, userContent string, opts RunOptions) error {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	now := time.Now()
	session, ok := s.registry.Get(sessionID)
	if !ok {
		loaded, loadErr := s.store.LoadSession(ctx, sessionID)
		if loadErr != nil {
			return &agentloop.StorageError{Kind: agentloop.StorageSnapshotLoad, Op: "load_session", Err: loadErr}
		}
		if loaded != nil {
			session = loaded
		} else {
			session = &agentloop.Session{ID: sessionID, CreatedAt: now, UpdatedAt: now, Metadata: map[string]string{}}
		}
	}

	s.logger.Info("turn started", "session", sessionID)
	turnCtx := s.cancels.Begin(ctx, sessionID)
	defer s.cancels.End(sessionID)

	if !opts.SkipInitialUserMessage && strings.TrimSpace(userContent) != "" {
		s.appendMessage(session, agentloop.Message{
			ID: uuid.NewString(), Role: agentloop.RoleUser, Content: userContent, CreatedAt: now,
		})
	}
	s.registry.Put(session)

	maxRounds := s.cfg.MaxRounds
	if opts.MaxRounds > 0 {
		maxRounds = opts.MaxRounds
	}
	if maxRounds == 0 {
		s.saveSnapshot(ctx, session)
		return s.emit(ctx, session.ID, agentloop.NewComplete(agentloop.TokenUsage{}))
	}

	var usage agentloop.TokenUsage
	for r := 0; r < maxRounds; r++ {
		if turnCtx.Err() != nil {
			s.logger.Info("turn cancelled", "session", sessionID, "round", r)
			return s.abort(ctx, session, agentloop.ErrCancelled.Error())
		}
		if session.PendingQuestion != nil {
			return nil
		}

		req := agentloop.CompletionRequest{
			Model:    s.modelFor(session),
			System:   opts.SystemPrompt,
			Messages: append([]agentloop.Message(nil), session.Messages...),
			Tools:    s.toolsFor(opts.AdditionalTools),
		}

		if err := s.emit(ctx, session.ID, agentloop.NewRoundStart(r)); err != nil {
			return s.abort(ctx, session, err.Error())
		}

		toolCalls, text, roundErr := s.streamRound(turnCtx, session, req, &usage)
		if roundErr != nil {
			s.logger.Error("round failed", "session", sessionID, "round", r, "error", roundErr)
			// A partially streamed reply is still part of the transcript;
			// only a cancelled round discards it.
			if text != "" && !errors.Is(roundErr, agentloop.ErrCancelled) {
				s.appendMessage(session, agentloop.Message{
					ID: uuid.NewString(), Role: agentloop.RoleAssistant, Content: text, CreatedAt: time.Now(),
				})
				s.registry.Put(session)
			}
			return s.abort(ctx, session, roundErr.Error())
		}

		if len(toolCalls) == 0 {
			s.appendMessage(session, agentloop.Message{
				ID: uuid.NewString(), Role: agentloop.RoleAssistant, Content: text, CreatedAt: time.Now(),
			})
			s.registry.Put(session)
			s.saveSnapshot(ctx, session)
			s.logger.Info("turn completed", "session", sessionID, "round", r)
			if err := s.emit(ctx, session.ID, agentloop.NewRoundEnd(r)); err != nil {
				return s.abort(ctx, session, err.Error())
			}
			return s.emit(ctx, session.ID, agentloop.NewComplete(usage))
		}

		s.appendMessage(session, agentloop.Message{
			ID: uuid.NewString(), Role: agentloop.RoleAssistant, Content: text, ToolCalls: toolCalls, CreatedAt: time.Now(),
		})
		s.registry.Put(session)

		suspended, err := s.runToolCalls(turnCtx, session, toolCalls)
		if err != nil {
			s.logger.Error("tool dispatch failed", "session", sessionID, "round", r, "error", err)
			return s.abort(ctx, session, err.Error())
		}

		// A suspended turn ends mid-round: no RoundEnd until the user
		// responds and a new turn picks the round loop back up.
		if suspended {
			s.saveSnapshot(ctx, session)
			return nil
		}

		if err := s.emit(ctx, session.ID, agentloop.NewRoundEnd(r)); err != nil {
			return s.abort(ctx, session, err.Error())
		}

		if r+1 == maxRounds {
			s.logger.Warn("max rounds reached", "session", sessionID, "max_rounds", maxRounds)
			s.appendMessage(session, agentloop.Message{
				ID: uuid.NewString(), Role: agentloop.RoleSystem, Content: "max rounds reached", CreatedAt: time.Now(),
			})
			s.registry.Put(session)
			s.saveSnapshot(ctx, session)
			return s.emit(ctx, session.ID, agentloop.NewComplete(usage))
		}
	}
	return nil
}

// streamRound opens the provider stream for one round, drives the
// Reassembler, forwards lifecycle events, and returns the round's
// completed tool calls and accumulated text.
func (s *Scheduler) streamRound(ctx context.Context, session *agentloop.Session, req agentloop.CompletionRequest, usage *agentloop.TokenUsage) ([]agentloop.ToolCall, string, error) {
	deltas, err := s.provider.ChatStream(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("provider: %w", err)
	}

	r := reassemble.New()
	var text strings.Builder

	for delta := range deltas {
		if ctx.Err() != nil {
			return nil, text.String(), agentloop.ErrCancelled
		}
		if delta.Err != nil {
			return nil, text.String(), fmt.Errorf("provider: %w", delta.Err)
		}
		if delta.Usage != nil {
			*usage = usage.Add(*delta.Usage)
		}
		text.WriteString(delta.Content)
		for _, ev := range r.Feed(delta) {
			if err := s.emit(ctx, session.ID, ev); err != nil {
				return nil, text.String(), err
			}
		}
	}

	for _, ev := range r.Finish() {
		if err := s.emit(ctx, session.ID, ev); err != nil {
			return nil, text.String(), err
		}
	}

	return r.ToolCalls(), text.String(), nil
}

// runToolCalls executes each call in order, routing ask_user and any
// tool whose RequiresApproval() reports true through the approval gate
// instead of the dispatcher. It returns suspended=true if a call parked
// the turn, in which case the caller must not schedule another round.
func (s *Scheduler) runToolCalls(ctx context.Context, session *agentloop.Session, calls []agentloop.ToolCall) (bool, error) {
	for _, call := range calls {
		if ctx.Err() != nil {
			return false, agentloop.ErrCancelled
		}

		if isAskUser(call.Name) {
			question, options, allowCustom, parseErr := parseAskUser(call.Arguments)
			if parseErr != nil {
				// A malformed ask_user call must not open an approval gate
				// for a question that doesn't exist; reject it like any
				// other bad tool call so the model can retry.
				s.logger.Warn("ask_user call rejected: invalid arguments",
					"session", session.ID, "call_id", call.ID, "error", parseErr)
				te := &agentloop.ToolError{Kind: agentloop.ToolInvalidArguments, Name: AskUserTool, Err: parseErr}
				if err := s.failToolCall(ctx, session, call, te.AsToolResult()); err != nil {
					return false, err
				}
				continue
			}
			return s.suspendForApproval(ctx, session, call, question, options, allowCustom)
		}

		if tool, ok := s.toolRegistry.Get(call.Name); ok && tool.RequiresApproval() {
			question, options, allowCustom := approvalQuestion(call)
			return s.suspendForApproval(ctx, session, call, question, options, allowCustom)
		}

		s.logger.Debug("dispatching tool call", "session", session.ID, "tool", call.Name, "call_id", call.ID)
		if err := s.emit(ctx, session.ID, agentloop.NewToolStart(call.ID, call.Name, call.Arguments)); err != nil {
			return false, err
		}
		result, err := s.dispatcher.Execute(ctx, call)
		if err != nil {
			return false, err
		}
		if err := s.emit(ctx, session.ID, agentloop.NewToolComplete(call.ID, result)); err != nil {
			return false, err
		}
		s.appendMessage(session, agentloop.Message{
			ID: uuid.NewString(), Role: agentloop.RoleTool, Content: result.Result,
			ToolCallID: call.ID, CreatedAt: time.Now(),
		})
		s.registry.Put(session)
	}
	return false, nil
}

// suspendForApproval parks the turn on the approval gate for call,
// appending the placeholder tool message and emitting AskUser. A
// RequiresApproval tool and a literal ask_user call suspend identically.
func (s *Scheduler) suspendForApproval(ctx context.Context, session *agentloop.Session, call agentloop.ToolCall, question string, options []string, allowCustom bool) (bool, error) {
	s.logger.Info("turn suspended for approval", "session", session.ID, "tool", call.Name, "call_id", call.ID)
	s.gate.Request(session, call, question, options, allowCustom)
	if err := s.emit(ctx, session.ID, agentloop.NewAskUser(*session.PendingQuestion)); err != nil {
		return false, err
	}
	s.appendMessage(session, agentloop.Message{
		ID: uuid.NewString(), Role: agentloop.RoleTool, Content: "Awaiting user response",
		ToolCallID: call.ID, CreatedAt: time.Now(),
	})
	s.registry.Put(session)
	return true, nil
}

// approvalQuestion synthesizes the PendingQuestion fields for a tool
// whose RequiresApproval() is true: the same shape ask_user arguments
// take, but generated rather than model-supplied, with a closed
// approve/deny choice.
func approvalQuestion(call agentloop.ToolCall) (question string, options []string, allowCustom bool) {
	return fmt.Sprintf("Approve tool call %q with arguments %s?", call.Name, call.Arguments),
		[]string{"approve", "deny"}, false
}

// failToolCall records a failed dispatch outcome for call: ToolStart and
// ToolComplete events plus the tool-role message carrying the failure
// text, so the model observes it on the next round.
func (s *Scheduler) failToolCall(ctx context.Context, session *agentloop.Session, call agentloop.ToolCall, result agentloop.ToolResult) error {
	if err := s.emit(ctx, session.ID, agentloop.NewToolStart(call.ID, call.Name, call.Arguments)); err != nil {
		return err
	}
	if err := s.emit(ctx, session.ID, agentloop.NewToolComplete(call.ID, result)); err != nil {
		return err
	}
	s.appendMessage(session, agentloop.Message{
		ID: uuid.NewString(), Role: agentloop.RoleTool, Content: result.Result,
		ToolCallID: call.ID, CreatedAt: time.Now(),
	})
	s.registry.Put(session)
	return nil
}

func isAskUser(name string) bool {
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		name = name[idx+2:]
	}
	return name == AskUserTool
}

func parseAskUser(arguments string) (question string, options []string, allowCustom bool, err error) {
	var args struct {
		Question    string   `json:"question"`
		Options     []string `json:"options"`
		AllowCustom bool     `json:"allow_custom"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", nil, false, err
	}
	return args.Question, args.Options, args.AllowCustom, nil
}

func (s *Scheduler) modelFor(session *agentloop.Session) string {
	if session.Model != "" {
		return session.Model
	}
	return s.cfg.DefaultModel
}

func (s *Scheduler) toolsFor(additional []agentloop.ToolSchema) []agentloop.ToolSchema {
	schemas := s.toolRegistry.ListTools()
	if len(additional) == 0 {
		return schemas
	}
	return append(schemas, additional...)
}

// appendMessage appends msg and bumps UpdatedAt, keeping UpdatedAt
// monotone even if the wall clock does not advance between two appends
// within the same round.
func (s *Scheduler) appendMessage(session *agentloop.Session, msg agentloop.Message) {
	session.Messages = append(session.Messages, msg)
	if msg.CreatedAt.After(session.UpdatedAt) {
		session.UpdatedAt = msg.CreatedAt
	} else {
		session.UpdatedAt = session.UpdatedAt.Add(time.Nanosecond)
	}
}

// emit journals event, then broadcasts it. Journaling precedes broadcast
// so the log order always matches what subscribers observed. A journal
// append failure is fatal to the round and returned for the caller to
// abort on.
func (s *Scheduler) emit(ctx context.Context, sessionID string, event agentloop.AgentEvent) error {
	if err := s.store.AppendEvent(ctx, sessionID, event); err != nil {
		var se *agentloop.StorageError
		if errors.As(err, &se) {
			return se
		}
		return &agentloop.StorageError{Kind: agentloop.StorageJournalAppend, Op: "append_event", Err: err}
	}
	s.broadcaster.Publish(ctx, event)
	return nil
}

// abort terminates the turn with an Error event and a best-effort
// snapshot, returning nil — the Error event itself carries the failure
// to subscribers and the journal. The event is broadcast even if the
// journal append fails, so subscribers always see the turn close.
func (s *Scheduler) abort(ctx context.Context, session *agentloop.Session, message string) error {
	event := agentloop.NewError(message)
	if err := s.store.AppendEvent(ctx, session.ID, event); err != nil {
		s.logger.Warn("journal append failed for error event", "session", session.ID, "error", err)
	}
	s.broadcaster.Publish(ctx, event)
	s.saveSnapshot(ctx, session)
	return nil
}

// saveSnapshot persists the session snapshot, logging but tolerating
// failure — the journal remains authoritative.
func (s *Scheduler) saveSnapshot(ctx context.Context, session *agentloop.Session) {
	if err := s.store.SaveSession(ctx, session); err != nil {
		s.logger.Warn("snapshot save failed", "session", session.ID, "error", err)
	}
}
