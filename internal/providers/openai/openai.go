// Package openai adapts an OpenAI-compatible Chat Completions streaming
// API to the agentloop.Provider interface. Chunks are translated into
// raw ProviderDelta fragments and left for the stream reassembler to
// accumulate: the adapter normalizes, nothing more.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

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

// Provider implements agentloop.Provider against an OpenAI-compatible
// Chat Completions API.
type Provider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	backoff      backoff.Policy
	maxTokens    int
}

// New creates a Provider. APIKey is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	policy := backoff.DefaultPolicy()
	policy.InitialMs = float64(cfg.RetryDelay.Milliseconds())

	return &Provider{
		client:       openai.NewClientWithConfig(clientCfg),
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

// ChatStream opens a retried streaming Chat Completion and translates
// each received chunk into ProviderDelta values.
func (p *Provider) ChatStream(ctx context.Context, req agentloop.CompletionRequest) (<-chan agentloop.ProviderDelta, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	result, err := backoff.RetryWithBackoff(ctx, p.backoff, p.maxRetries, func(attempt int) (*openai.ChatCompletionStream, error) {
		s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	})
	if err != nil {
		if errors.Is(err, backoff.ErrMaxAttemptsExhausted) {
			return nil, fmt.Errorf("openai: max retries exceeded: %w", result.LastError)
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	stream := result.Value

	out := make(chan agentloop.ProviderDelta)
	go func() {
		defer close(out)
		defer stream.Close()
		p.pump(ctx, stream, out)
	}()
	return out, nil
}

func (p *Provider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- agentloop.ProviderDelta) {
	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				out <- agentloop.ProviderDelta{Done: true}
				return
			}
			out <- agentloop.ProviderDelta{Err: fmt.Errorf("openai: %w", err)}
			return
		}

		if chunk.Usage != nil {
			out <- agentloop.ProviderDelta{Usage: &agentloop.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}}
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			out <- agentloop.ProviderDelta{Content: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			out <- agentloop.ProviderDelta{ToolCalls: []agentloop.ToolCallDelta{{
				Index:     index,
				ID:        tc.ID,
				Type:      string(tc.Type),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}}}
		}
	}
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return true
}

func (p *Provider) buildRequest(req agentloop.CompletionRequest) (openai.ChatCompletionRequest, error) {
	messages, err := toOpenAIMessages(req)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if p.maxTokens > 0 {
		chatReq.MaxTokens = p.maxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}
	return chatReq, nil
}

func toOpenAIMessages(req agentloop.CompletionRequest) ([]openai.ChatCompletionMessage, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args := strings.TrimSpace(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func toOpenAITools(schemas []agentloop.ToolSchema) []openai.Tool {
	emptyParams := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]openai.Tool, len(schemas))
	for i, t := range schemas {
		params := t.ParametersSchema
		if len(params) == 0 {
			params = emptyParams
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return result
}
