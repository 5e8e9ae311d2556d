// Package reassemble merges provider streaming deltas (text tokens and
// fragmented tool-call chunks) into a stable sequence of AgentEvents
// and well-formed tool calls.
package reassemble

import (
	"sort"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// accumulator holds one tool-call index's partially-assembled state.
// The first occurrence of id/type/name establishes identity; later
// fragments only extend arguments.
type accumulator struct {
	id        string
	typ       string
	name      string
	arguments string
}

func (a *accumulator) complete() bool { return a.id != "" && a.name != "" }

// Reassembler accumulates ProviderDelta fragments for a single round. It
// is not thread-safe and not restartable except by discarding it and
// constructing a new one — the Scheduler owns exactly one per round.
type Reassembler struct {
	order []int // first-seen order of indices, for ToolCallEnd emission
	acc   map[int]*accumulator
}

// New creates an empty Reassembler for one round.
func New() *Reassembler {
	return &Reassembler{acc: make(map[int]*accumulator)}
}

// Feed processes one ProviderDelta and returns the AgentEvents it
// produces, in emission order: a Token event if text content is
// present, then a ToolCallStart the first time an index's id and name
// are both known, then a ToolCallArgs for each non-empty arguments
// fragment appended.
func (r *Reassembler) Feed(delta agentloop.ProviderDelta) []agentloop.AgentEvent {
	var events []agentloop.AgentEvent

	if delta.Content != "" {
		events = append(events, agentloop.NewToken(delta.Content))
	}

	for _, frag := range delta.ToolCalls {
		a, seen := r.acc[frag.Index]
		if !seen {
			a = &accumulator{}
			r.acc[frag.Index] = a
			r.order = append(r.order, frag.Index)
		}

		wasComplete := a.complete()

		if frag.ID != "" && a.id == "" {
			a.id = frag.ID
		}
		if frag.Type != "" && a.typ == "" {
			a.typ = frag.Type
		}
		if frag.Name != "" && a.name == "" {
			a.name = frag.Name
		}

		if !wasComplete && a.complete() {
			events = append(events, agentloop.NewToolCallStart(a.id, a.name))
		}

		if frag.Arguments != "" {
			a.arguments += frag.Arguments
			events = append(events, agentloop.NewToolCallArgs(a.id, frag.Arguments))
		}
	}

	return events
}

// Finish is called when the provider terminates the stream (an explicit
// done marker or channel closure). It emits ToolCallEnd for every index
// whose accumulator has a non-empty id and name, in ascending index
// order, and drops incomplete indices.
func (r *Reassembler) Finish() []agentloop.AgentEvent {
	indices := append([]int(nil), r.order...)
	sort.Ints(indices)

	var events []agentloop.AgentEvent
	for _, idx := range indices {
		a := r.acc[idx]
		if a.complete() {
			events = append(events, agentloop.NewToolCallEnd(a.id))
		}
	}
	return events
}

// ToolCalls returns the completed tool calls accumulated so far, sorted
// by index, dropping any incomplete accumulator. Arguments strings may be
// syntactically malformed JSON if the provider misbehaved — the
// dispatcher surfaces that as an invalid-arguments failure on execution;
// it is not the Reassembler's job to validate or repair.
func (r *Reassembler) ToolCalls() []agentloop.ToolCall {
	indices := append([]int(nil), r.order...)
	sort.Ints(indices)

	var calls []agentloop.ToolCall
	for _, idx := range indices {
		a := r.acc[idx]
		if !a.complete() {
			continue
		}
		calls = append(calls, agentloop.ToolCall{
			ID:        a.id,
			Name:      a.name,
			Arguments: a.arguments,
		})
	}
	return calls
}
