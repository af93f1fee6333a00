package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/repair"
	"github.com/haasonsaas/conduit/internal/tools"
	"github.com/haasonsaas/conduit/pkg/models"
)

// OpenAIConfig configures the OpenAI-compatible provider. BaseURL is
// optional and allows pointing at any compatible endpoint.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIProvider streams chat completions from an OpenAI-compatible API.
// It also implements repair.ArgumentRegenerator for the repair loop's
// schema-guided fallback.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewOpenAI creates the provider. An empty API key is rejected up front so
// misconfiguration fails at startup rather than on the first request.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provider: OpenAI API key required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With("component", "provider", "model", cfg.Model),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Stream starts a streaming completion. Tool calls arrive fragmented across
// chunks and are assembled before emission.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:         p.model,
		Messages:      convertMessages(req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("create completion stream: %w", lastErr)
		}
		p.logger.Warn("stream creation failed, retrying", "attempt", attempt+1, "error", lastErr)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("create completion stream after %d attempts: %w", p.maxRetries, lastErr)
	}

	chunks := make(chan Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	// Tool calls arrive fragmented; the delta index keys parallel calls.
	pending := make(map[int]*ToolCall)
	var usage *models.Usage

	emitPending := func() {
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			tc := pending[i]
			if tc.ID != "" && tc.Name != "" {
				chunks <- Chunk{ToolCall: tc}
			}
		}
		pending = make(map[int]*ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				emitPending()
				if usage != nil {
					chunks <- Chunk{Usage: usage}
				}
				chunks <- Chunk{Done: true}
				return
			}
			chunks <- Chunk{Err: err, Done: true}
			return
		}

		// The usage frame has no choices and would be skipped below.
		if response.Usage != nil {
			usage = &models.Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- Chunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &ToolCall{}
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[index].Arguments = append(pending[index].Arguments, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			emitPending()
		}
	}
}

// RegenerateArguments asks the model for a corrected argument payload. Used
// by the repair loop as its schema-guided fallback; always a small
// non-streaming call.
func (p *OpenAIProvider) RegenerateArguments(ctx context.Context, toolName string, schema, originalArgs json.RawMessage, validationErr string) (json.RawMessage, error) {
	prompt := repair.Describe(toolName, schema, originalArgs, errors.New(validationErr))
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You fix malformed tool-call arguments. Respond with a single JSON object that satisfies the schema. No prose.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate arguments for %s: %w", toolName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("regenerate arguments for %s: empty response", toolName)
	}
	return json.RawMessage(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
}

func convertMessages(messages []*models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			var results []openai.ChatCompletionMessage
			for _, inv := range m.ToolInvocations() {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   inv.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      inv.ToolName,
						Arguments: string(inv.Arguments),
					},
				})
				if inv.State == models.ToolStateResult || inv.State == models.ToolStateError {
					results = append(results, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						ToolCallID: inv.ToolCallID,
						Content:    string(inv.Result),
					})
				}
			}
			out = append(out, msg)
			out = append(out, results...)
		}
	}
	return out
}

func convertTools(defs []tools.Definition) []openai.Tool {
	out := make([]openai.Tool, len(defs))
	for i, d := range defs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		}
	}
	return out
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	// Transport-level failures (connection resets, timeouts) are retryable.
	return true
}
