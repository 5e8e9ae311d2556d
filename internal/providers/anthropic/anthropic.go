// Package anthropic adapts Anthropic's Claude streaming API to the
// agentloop.Provider interface, normalizing Anthropic's content-block
// event stream into agentloop.ProviderDelta values before the stream
// reassembler ever sees them.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loopstack/agentloop/internal/backoff"
	"github.com/loopstack/agentloop/pkg/agentloop"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	MaxTokens    int
}

// Provider implements agentloop.Provider against the Anthropic Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	backoff      backoff.Policy
	maxTokens    int
}

// New creates a Provider. APIKey is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	policy := backoff.DefaultPolicy()
	policy.InitialMs = float64(cfg.RetryDelay.Milliseconds())

	return &Provider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		backoff:      policy,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (p *Provider) model(req agentloop.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

// streamer is the subset of *ssestream.Stream[T] the pump loop needs;
// primedStream below implements it over an already-connected stream
// whose first event has been peeked at for retry classification.
type streamer interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

// primedStream replays a cached first event once, then delegates to
// the underlying stream — letting ChatStream peek at the first event
// for retry classification without losing it.
type primedStream struct {
	streamer
	cached    anthropic.MessageStreamEventUnion
	hasCached bool
}

func (p *primedStream) Next() bool {
	if p.hasCached {
		return true
	}
	return p.streamer.Next()
}

func (p *primedStream) Current() anthropic.MessageStreamEventUnion {
	if p.hasCached {
		p.hasCached = false
		return p.cached
	}
	return p.streamer.Current()
}

// ChatStream opens a retried, streaming Messages request and translates
// Anthropic's content-block events into ProviderDelta values. Retries
// cover only the initial connection: once the first event has been read
// successfully the stream is handed to pump and a mid-stream failure
// surfaces as a round error rather than a silent reconnect.
func (p *Provider) ChatStream(ctx context.Context, req agentloop.CompletionRequest) (<-chan agentloop.ProviderDelta, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	result, err := backoff.RetryWithBackoff(ctx, p.backoff, p.maxRetries, func(attempt int) (*primedStream, error) {
		raw := p.client.Messages.NewStreaming(ctx, params)
		if raw.Next() {
			return &primedStream{streamer: raw, cached: raw.Current(), hasCached: true}, nil
		}
		if serr := raw.Err(); serr != nil {
			if !isRetryable(serr) {
				return nil, backoff.Permanent(serr)
			}
			return nil, serr
		}
		return &primedStream{streamer: raw}, nil
	})

	out := make(chan agentloop.ProviderDelta)
	if err != nil {
		go func() {
			defer close(out)
			if errors.Is(err, backoff.ErrMaxAttemptsExhausted) {
				out <- agentloop.ProviderDelta{Err: fmt.Errorf("anthropic: max retries exceeded: %w", result.LastError)}
				return
			}
			out <- agentloop.ProviderDelta{Err: p.wrapRetryable(err)}
		}()
		return out, nil
	}

	go func() {
		defer close(out)
		p.pump(ctx, result.Value, out)
	}()
	return out, nil
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return true
}

func (p *Provider) pump(ctx context.Context, stream streamer, out chan<- agentloop.ProviderDelta) {
	var toolIndex int
	toolByBlock := map[int64]int{}

	for stream.Next() {
		if ctx.Err() != nil {
			return
		}
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				toolUse := start.ContentBlock.AsToolUse()
				idx := toolIndex
				toolByBlock[start.Index] = idx
				toolIndex++
				out <- agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{{
					Index: idx, ID: toolUse.ID, Type: "function", Name: toolUse.Name,
				}}}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text != "" {
					out <- agentloop.ProviderDelta{Content: delta.Delta.Text}
				}
			case "input_json_delta":
				if delta.Delta.PartialJSON != "" {
					if idx, ok := toolByBlock[delta.Index]; ok {
						out <- agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{{
							Index: idx, Arguments: delta.Delta.PartialJSON,
						}}}
					}
				}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				out <- agentloop.ProviderDelta{Usage: &agentloop.TokenUsage{
					CompletionTokens: int(md.Usage.OutputTokens),
					TotalTokens:      int(md.Usage.OutputTokens),
				}}
			}

		case "message_stop":
			out <- agentloop.ProviderDelta{Done: true}
			return

		case "error":
			out <- agentloop.ProviderDelta{Err: errors.New("anthropic: stream error")}
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- agentloop.ProviderDelta{Err: p.wrapRetryable(err)}
	}
}

func (p *Provider) wrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("anthropic: %w", err)
}

func (p *Provider) buildParams(req agentloop.CompletionRequest) (anthropic.MessageNewParams, error) {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case agentloop.RoleSystem:
			continue
		case agentloop.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]interface{}
				args := strings.TrimSpace(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				if err := json.Unmarshal([]byte(args), &input); err != nil {
					return anthropic.MessageNewParams{}, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		default: // user, tool
			var blocks []anthropic.ContentBlockParamUnion
			if m.Role == agentloop.RoleTool {
				blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			} else if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	return params, nil
}

func convertTools(schemas []agentloop.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, t := range schemas {
		var inputSchema anthropic.ToolInputSchemaParam
		if len(t.ParametersSchema) > 0 {
			if err := json.Unmarshal(t.ParametersSchema, &inputSchema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}
