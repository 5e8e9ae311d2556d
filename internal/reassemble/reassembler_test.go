package reassemble

import (
	"testing"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

func TestFeed_TokenEvent(t *testing.T) {
	r := New()
	events := r.Feed(agentloop.ProviderDelta{Content: "hello"})
	if len(events) != 1 || events[0].Type != agentloop.EventToken || events[0].Token.Content != "hello" {
		t.Fatalf("expected single Token event, got %+v", events)
	}
}

func TestFeed_EmptyContentNoEvent(t *testing.T) {
	r := New()
	if events := r.Feed(agentloop.ProviderDelta{}); len(events) != 0 {
		t.Fatalf("expected no events for empty delta, got %+v", events)
	}
}

// TestFragmentedToolCalls interleaves two tool calls whose id/name and
// arguments arrive on separate deltas; they must reassemble into
// well-formed calls, with ToolCallEnd emitted in ascending index order.
func TestFragmentedToolCalls(t *testing.T) {
	r := New()

	var allEvents []agentloop.AgentEvent
	allEvents = append(allEvents, r.Feed(agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{
		{Index: 0, ID: "c0", Type: "function", Name: "echo", Arguments: "{"},
	}})...)
	allEvents = append(allEvents, r.Feed(agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{
		{Index: 1, ID: "c1", Type: "function", Name: "echo", Arguments: "{"},
	}})...)
	allEvents = append(allEvents, r.Feed(agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{
		{Index: 0, Arguments: `"x":1}`},
	}})...)
	allEvents = append(allEvents, r.Feed(agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{
		{Index: 1, Arguments: `"y":2}`},
	}})...)
	allEvents = append(allEvents, r.Finish()...)

	calls := r.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 completed tool calls, got %d", len(calls))
	}
	if calls[0].ID != "c0" || calls[0].Arguments != `{"x":1}` {
		t.Errorf("index 0 mismatch: %+v", calls[0])
	}
	if calls[1].ID != "c1" || calls[1].Arguments != `{"y":2}` {
		t.Errorf("index 1 mismatch: %+v", calls[1])
	}

	var endOrder []string
	for _, ev := range allEvents {
		if ev.Type == agentloop.EventToolCallEnd {
			endOrder = append(endOrder, ev.ToolCallEnd.ID)
		}
	}
	if len(endOrder) != 2 || endOrder[0] != "c0" || endOrder[1] != "c1" {
		t.Fatalf("expected ToolCallEnd order [c0 c1], got %v", endOrder)
	}
}

func TestToolCallStart_EmittedOnceIDAndNameKnown(t *testing.T) {
	r := New()
	events := r.Feed(agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{{Index: 0, ID: "c0"}}})
	for _, ev := range events {
		if ev.Type == agentloop.EventToolCallStart {
			t.Fatalf("ToolCallStart emitted before name known")
		}
	}

	events = r.Feed(agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{{Index: 0, Name: "echo"}}})
	found := false
	for _, ev := range events {
		if ev.Type == agentloop.EventToolCallStart {
			found = true
			if ev.ToolCallStart.ID != "c0" || ev.ToolCallStart.Name != "echo" {
				t.Errorf("unexpected ToolCallStart payload: %+v", ev.ToolCallStart)
			}
		}
	}
	if !found {
		t.Fatal("expected ToolCallStart once id and name are both known")
	}
}

func TestFinish_DropsIncompleteIndices(t *testing.T) {
	r := New()
	r.Feed(agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{{Index: 0, ID: "c0"}}}) // name never arrives
	events := r.Finish()
	if len(events) != 0 {
		t.Fatalf("expected no ToolCallEnd for incomplete accumulator, got %+v", events)
	}
	if calls := r.ToolCalls(); len(calls) != 0 {
		t.Fatalf("expected no completed tool calls, got %+v", calls)
	}
}

func TestToolCallEnd_CarriesNoArguments(t *testing.T) {
	r := New()
	r.Feed(agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{{Index: 0, ID: "c0", Name: "echo", Arguments: "{}"}}})
	events := r.Finish()
	if len(events) != 1 {
		t.Fatalf("expected one ToolCallEnd, got %d", len(events))
	}
	if events[0].ToolCallEnd == nil || events[0].ToolCallEnd.ID != "c0" {
		t.Fatalf("unexpected ToolCallEnd payload: %+v", events[0])
	}
}
