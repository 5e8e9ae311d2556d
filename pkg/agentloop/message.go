// Package agentloop defines the wire-level data model shared by every
// component of the agent loop runtime: sessions, messages, tool calls,
// events, and the error taxonomy that crosses package boundaries.
package agentloop

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a Session's conversation history.
//
// Exactly one of ToolCalls and ToolCallID is populated when either is
// non-empty: ToolCalls appears only on assistant messages requesting tool
// execution, ToolCallID only on tool-role messages reporting a result.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ToolCall is a single tool invocation requested by the model.
//
// Name may be namespaced with "::"; only the final segment is the
// registry lookup key (see internal/tools for normalization).
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema describes a registered tool for inclusion in provider requests.
type ToolSchema struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	ParametersSchema json.RawMessage `json:"parameters_schema"`
}

// ToolResult is the normalized outcome of executing a ToolCall.
type ToolResult struct {
	Success           bool   `json:"success"`
	Result            string `json:"result"`
	DisplayPreference string `json:"display_preference,omitempty"`
}

// TokenUsage accumulates provider-reported token counts across a turn.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage sample into u, returning the sum. Used to
// roll per-round usage into a single turn-level total for the Complete event.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// PendingQuestion records an in-flight ask_user suspension. Its presence on
// a Session is the sole signal that the loop is suspended awaiting a
// human response.
type PendingQuestion struct {
	ToolCallID  string   `json:"tool_call_id"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	AllowCustom bool     `json:"allow_custom"`
}

// TodoItemStatus is the lifecycle state of a single TodoItem.
type TodoItemStatus string

const (
	TodoPending    TodoItemStatus = "pending"
	TodoInProgress TodoItemStatus = "in_progress"
	TodoCompleted  TodoItemStatus = "completed"
	TodoSkipped    TodoItemStatus = "skipped"
	TodoFailed     TodoItemStatus = "failed"
)

// TodoItem is one entry of a Session's structured plan.
type TodoItem struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Status    TodoItemStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TodoList is an ordered plan optionally attached to a Session.
type TodoList struct {
	Title string     `json:"title"`
	Items []TodoItem `json:"items"`
}

// PercentComplete returns the fraction of items in a terminal state
// (completed, skipped, or failed) out of the total, or 0 for an empty list.
func (l *TodoList) PercentComplete() float64 {
	if l == nil || len(l.Items) == 0 {
		return 0
	}
	done := 0
	for _, it := range l.Items {
		switch it.Status {
		case TodoCompleted, TodoSkipped, TodoFailed:
			done++
		}
	}
	return float64(done) / float64(len(l.Items))
}

// CurrentItem returns the first item not yet in a terminal state, or nil
// if every item has been resolved.
func (l *TodoList) CurrentItem() *TodoItem {
	if l == nil {
		return nil
	}
	for i := range l.Items {
		switch l.Items[i].Status {
		case TodoCompleted, TodoSkipped, TodoFailed:
			continue
		default:
			return &l.Items[i]
		}
	}
	return nil
}

// SetItemStatus updates the status of the item with the given id and
// bumps its UpdatedAt. Returns false if no item matched.
func (l *TodoList) SetItemStatus(id string, status TodoItemStatus, now time.Time) bool {
	if l == nil {
		return false
	}
	for i := range l.Items {
		if l.Items[i].ID == id {
			l.Items[i].Status = status
			l.Items[i].UpdatedAt = now
			return true
		}
	}
	return false
}

// Session is the full mutable state of one stateful conversation.
type Session struct {
	ID              string            `json:"id"`
	Messages        []Message         `json:"messages"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	TodoList        *TodoList         `json:"todo_list,omitempty"`
	PendingQuestion *PendingQuestion  `json:"pending_question,omitempty"`
	Model           string            `json:"model,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of s so callers holding a reference from a
// Registry cannot mutate internal state out from under the Scheduler.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		mc := m
		if m.ToolCalls != nil {
			mc.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		out.Messages[i] = mc
	}
	if s.TodoList != nil {
		tl := *s.TodoList
		tl.Items = append([]TodoItem(nil), s.TodoList.Items...)
		out.TodoList = &tl
	}
	if s.PendingQuestion != nil {
		pq := *s.PendingQuestion
		pq.Options = append([]string(nil), s.PendingQuestion.Options...)
		out.PendingQuestion = &pq
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
