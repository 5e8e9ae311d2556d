package agentloop

import "time"

// AgentEventType discriminates the variant carried by an AgentEvent.
// String values are the wire discriminant.
type AgentEventType string

const (
	EventToken         AgentEventType = "Token"
	EventToolCallStart AgentEventType = "ToolCallStart"
	EventToolCallArgs  AgentEventType = "ToolCallArgs"
	EventToolCallEnd   AgentEventType = "ToolCallEnd"
	EventToolStart     AgentEventType = "ToolStart"
	EventToolComplete  AgentEventType = "ToolComplete"
	EventAskUser       AgentEventType = "AskUser"
	EventComplete      AgentEventType = "Complete"
	EventError         AgentEventType = "Error"
	EventRoundStart    AgentEventType = "RoundStart"
	EventRoundEnd      AgentEventType = "RoundEnd"
)

// AgentEvent is the single wire-level envelope emitted by the Scheduler,
// Reassembler, and Dispatcher, broadcast to subscribers, and journaled.
// Exactly one payload field is non-nil, selected by Type.
type AgentEvent struct {
	Type AgentEventType `json:"type"`
	Time time.Time      `json:"time"`

	Token         *TokenPayload         `json:"token,omitempty"`
	ToolCallStart *ToolCallStartPayload `json:"tool_call_start,omitempty"`
	ToolCallArgs  *ToolCallArgsPayload  `json:"tool_call_args,omitempty"`
	ToolCallEnd   *ToolCallEndPayload   `json:"tool_call_end,omitempty"`
	ToolStart     *ToolStartPayload     `json:"tool_start,omitempty"`
	ToolComplete  *ToolCompletePayload  `json:"tool_complete,omitempty"`
	AskUser       *AskUserPayload       `json:"ask_user,omitempty"`
	Complete      *CompletePayload      `json:"complete,omitempty"`
	Error         *ErrorPayload         `json:"error,omitempty"`
	RoundStart    *RoundPayload         `json:"round_start,omitempty"`
	RoundEnd      *RoundPayload         `json:"round_end,omitempty"`
}

type TokenPayload struct {
	Content string `json:"content"`
}

type ToolCallStartPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ToolCallArgsPayload struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

type ToolCallEndPayload struct {
	ID string `json:"id"`
}

type ToolStartPayload struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCompletePayload struct {
	CallID string     `json:"call_id"`
	Result ToolResult `json:"result"`
}

type AskUserPayload struct {
	ToolCallID  string   `json:"tool_call_id"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	AllowCustom bool     `json:"allow_custom"`
}

type CompletePayload struct {
	Usage TokenUsage `json:"usage"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type RoundPayload struct {
	Index int `json:"index"`
}

// NewToken builds a Token event.
func NewToken(content string) AgentEvent {
	return AgentEvent{Type: EventToken, Time: time.Now(), Token: &TokenPayload{Content: content}}
}

// NewToolCallStart builds a ToolCallStart event.
func NewToolCallStart(id, name string) AgentEvent {
	return AgentEvent{Type: EventToolCallStart, Time: time.Now(), ToolCallStart: &ToolCallStartPayload{ID: id, Name: name}}
}

// NewToolCallArgs builds a ToolCallArgs event.
func NewToolCallArgs(id, delta string) AgentEvent {
	return AgentEvent{Type: EventToolCallArgs, Time: time.Now(), ToolCallArgs: &ToolCallArgsPayload{ID: id, Delta: delta}}
}

// NewToolCallEnd builds a ToolCallEnd event.
func NewToolCallEnd(id string) AgentEvent {
	return AgentEvent{Type: EventToolCallEnd, Time: time.Now(), ToolCallEnd: &ToolCallEndPayload{ID: id}}
}

// NewToolStart builds a ToolStart event.
func NewToolStart(callID, name, arguments string) AgentEvent {
	return AgentEvent{Type: EventToolStart, Time: time.Now(), ToolStart: &ToolStartPayload{CallID: callID, Name: name, Arguments: arguments}}
}

// NewToolComplete builds a ToolComplete event.
func NewToolComplete(callID string, result ToolResult) AgentEvent {
	return AgentEvent{Type: EventToolComplete, Time: time.Now(), ToolComplete: &ToolCompletePayload{CallID: callID, Result: result}}
}

// NewAskUser builds an AskUser event.
func NewAskUser(q PendingQuestion) AgentEvent {
	return AgentEvent{Type: EventAskUser, Time: time.Now(), AskUser: &AskUserPayload{
		ToolCallID:  q.ToolCallID,
		Question:    q.Question,
		Options:     q.Options,
		AllowCustom: q.AllowCustom,
	}}
}

// NewComplete builds a Complete event.
func NewComplete(usage TokenUsage) AgentEvent {
	return AgentEvent{Type: EventComplete, Time: time.Now(), Complete: &CompletePayload{Usage: usage}}
}

// NewError builds an Error event.
func NewError(message string) AgentEvent {
	return AgentEvent{Type: EventError, Time: time.Now(), Error: &ErrorPayload{Message: message}}
}

// NewRoundStart builds a RoundStart event.
func NewRoundStart(index int) AgentEvent {
	return AgentEvent{Type: EventRoundStart, Time: time.Now(), RoundStart: &RoundPayload{Index: index}}
}

// NewRoundEnd builds a RoundEnd event.
func NewRoundEnd(index int) AgentEvent {
	return AgentEvent{Type: EventRoundEnd, Time: time.Now(), RoundEnd: &RoundPayload{Index: index}}
}

// IsTerminal reports whether this event type ends a subscriber's stream:
// the first Complete or Error after a turn begins closes each
// subscriber's channel after delivery.
func (e AgentEvent) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
