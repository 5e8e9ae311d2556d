// Package memprovider implements a deterministic in-memory
// agentloop.Provider backed by a scripted sequence of rounds, used by
// Scheduler and runtime tests to drive turns without a network
// dependency.
package memprovider

import (
	"context"
	"fmt"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// Round is one scripted provider turn: a sequence of deltas to emit in
// order, replayed verbatim when ChatStream is called for the Nth time.
type Round struct {
	Deltas []agentloop.ProviderDelta
}

// Provider replays a fixed sequence of Rounds, one per ChatStream call,
// and records every request it was given so tests can assert on the
// messages/tools the Scheduler built.
type Provider struct {
	rounds   []Round
	calls    int
	Requests []agentloop.CompletionRequest
}

// New creates a Provider that replays rounds in order, one per call.
func New(rounds ...Round) *Provider {
	return &Provider{rounds: rounds}
}

// ChatStream returns the next scripted round's deltas on a buffered
// channel, already closed after the last send — callers observe it
// exactly like a real streaming backend. Calling ChatStream more times
// than there are scripted rounds is an error.
func (p *Provider) ChatStream(ctx context.Context, req agentloop.CompletionRequest) (<-chan agentloop.ProviderDelta, error) {
	p.Requests = append(p.Requests, req)

	if p.calls >= len(p.rounds) {
		return nil, fmt.Errorf("memprovider: no scripted round for call %d", p.calls)
	}
	round := p.rounds[p.calls]
	p.calls++

	ch := make(chan agentloop.ProviderDelta, len(round.Deltas))
	for _, d := range round.Deltas {
		select {
		case <-ctx.Done():
			close(ch)
			return ch, nil
		case ch <- d:
		}
	}
	close(ch)
	return ch, nil
}

// Text builds a single-delta round carrying content and no tool calls.
func Text(content string) Round {
	return Round{Deltas: []agentloop.ProviderDelta{{Content: content}}}
}
