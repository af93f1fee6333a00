// Package orchestrator drives the bounded model/tool loop for one chat
// request: load history, budget it, stream the model, execute and repair
// tool calls, and persist the full pruned history once the turn completes.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/internal/budget"
	"github.com/haasonsaas/conduit/internal/convstore"
	"github.com/haasonsaas/conduit/internal/dispatch"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/provider"
	"github.com/haasonsaas/conduit/internal/repair"
	"github.com/haasonsaas/conduit/internal/tools"
	"github.com/haasonsaas/conduit/pkg/models"
)

// DefaultMaxSteps bounds model/tool round trips within one turn.
const DefaultMaxSteps = 8

// ChunkType discriminates streamed orchestrator output.
type ChunkType string

const (
	ChunkText  ChunkType = "text"
	ChunkTool  ChunkType = "tool"
	ChunkDone  ChunkType = "done"
	ChunkError ChunkType = "error"
)

// Chunk is one unit of orchestrator output, fanned out to the transport.
type Chunk struct {
	Type       ChunkType              `json:"type"`
	Text       string                 `json:"text,omitempty"`
	Invocation *models.ToolInvocation `json:"toolInvocation,omitempty"`
	Stats      *RunStats              `json:"stats,omitempty"`
	Err        error                  `json:"-"`
}

// RunStats summarizes one completed turn.
type RunStats struct {
	Steps         int           `json:"steps"`
	ToolCalls     int           `json:"toolCalls"`
	RepairedCalls int           `json:"repairedCalls"`
	Usage         models.Usage  `json:"usage"`
	Duration      time.Duration `json:"duration"`
	Persisted     bool          `json:"persisted"`
}

// Request is one inbound chat turn.
type Request struct {
	ConversationID string
	UserMessage    string
}

// Options tunes orchestrator behavior.
type Options struct {
	// MaxSteps caps model round trips per turn. Zero means DefaultMaxSteps.
	MaxSteps int

	// SystemPrompt seeds new conversations when non-empty.
	SystemPrompt string
}

// Orchestrator runs chat turns. One instance serves all conversations;
// each Stream call gets its own turn state.
type Orchestrator struct {
	provider provider.Provider
	tools    *tools.Registry
	dispatch *dispatch.Registry
	repairer *repair.Repairer
	store    *convstore.Conversations
	budgeter *budget.Budgeter
	metrics  *observability.Metrics
	logger   *slog.Logger

	maxSteps     int
	systemPrompt string
}

// New wires an orchestrator. provider, tools, dispatch, repairer, store and
// budgeter are required; metrics may be nil.
func New(
	p provider.Provider,
	toolReg *tools.Registry,
	dispatchReg *dispatch.Registry,
	repairer *repair.Repairer,
	store *convstore.Conversations,
	budgeter *budget.Budgeter,
	metrics *observability.Metrics,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Orchestrator{
		provider:     p,
		tools:        toolReg,
		dispatch:     dispatchReg,
		repairer:     repairer,
		store:        store,
		budgeter:     budgeter,
		metrics:      metrics,
		logger:       logger.With("component", "orchestrator"),
		maxSteps:     maxSteps,
		systemPrompt: opts.SystemPrompt,
	}
}

// Stream runs one turn and streams its output. The channel is closed when
// the turn ends; a canceled context ends the turn without persisting.
func (o *Orchestrator) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.ConversationID == "" {
		return nil, errors.New("orchestrator: conversation id required")
	}
	if req.UserMessage == "" {
		return nil, errors.New("orchestrator: empty user message")
	}

	conv, err := o.loadOrCreate(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	repairTranscript(conv)

	conv.Messages = append(conv.Messages, &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   req.UserMessage,
		CreatedAt: time.Now(),
	})

	out := make(chan Chunk)
	go o.run(ctx, conv, out)
	return out, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := o.store.Load(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, convstore.ErrNotFound) {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}

	conv = &models.Conversation{ID: id}
	if o.systemPrompt != "" {
		conv.Messages = append(conv.Messages, &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleSystem,
			Content:   o.systemPrompt,
			CreatedAt: time.Now(),
		})
	}
	return conv, nil
}

func (o *Orchestrator) run(ctx context.Context, conv *models.Conversation, out chan<- Chunk) {
	defer close(out)

	start := time.Now()
	stats := &RunStats{}
	deduper := dispatch.NewTurnDeduper()
	logger := o.logger.With("conversation_id", conv.ID)

	for stats.Steps < o.maxSteps {
		stats.Steps++

		window := o.budgeter.Select(conv.Messages)
		stream, err := o.provider.Stream(ctx, &provider.Request{
			Messages: window,
			Tools:    o.tools.Definitions(),
		})
		if err != nil {
			o.fail(ctx, out, logger, stats, fmt.Errorf("model stream: %w", err))
			return
		}

		assistant := &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			CreatedAt: time.Now(),
		}
		var calls []*provider.ToolCall

		for chunk := range stream {
			switch {
			case chunk.Err != nil:
				o.fail(ctx, out, logger, stats, chunk.Err)
				return
			case chunk.Text != "":
				assistant.Content += chunk.Text
				out <- Chunk{Type: ChunkText, Text: chunk.Text}
			case chunk.ToolCall != nil:
				calls = append(calls, chunk.ToolCall)
			case chunk.Usage != nil:
				stats.Usage.Add(*chunk.Usage)
				o.recordUsage(*chunk.Usage)
			}
		}
		if ctx.Err() != nil {
			o.fail(ctx, out, logger, stats, ctx.Err())
			return
		}

		if assistant.Content != "" {
			assistant.Parts = append(assistant.Parts, models.Part{Type: models.PartText, Text: assistant.Content})
		}
		conv.Messages = append(conv.Messages, assistant)

		if len(calls) == 0 {
			break
		}

		for _, call := range calls {
			stats.ToolCalls++
			inv := o.execute(ctx, conv.ID, deduper, call, out, stats, logger)
			assistant.Parts = append(assistant.Parts, models.Part{
				Type:           models.PartToolInvocation,
				ToolInvocation: inv,
			})
		}
	}

	// Persistence failures degrade silently for the user: the turn still
	// completes with its answer, the loss is observable in logs and stats.
	if err := o.store.Save(ctx, conv); err != nil {
		logger.Warn("failed to persist conversation", "error", err)
	} else {
		stats.Persisted = true
	}
	stats.Duration = time.Since(start)
	o.recordTurn("ok", stats.Duration)
	logger.Info("turn complete",
		"steps", stats.Steps,
		"tool_calls", stats.ToolCalls,
		"repaired", stats.RepairedCalls,
		"input_tokens", stats.Usage.InputTokens,
		"output_tokens", stats.Usage.OutputTokens,
	)
	out <- Chunk{Type: ChunkDone, Stats: stats}
}

// execute runs one tool call end to end: dispatch the call event, validate
// and execute, repair a validation failure once, then dispatch the terminal
// event. The returned invocation is in state result or error.
func (o *Orchestrator) execute(
	ctx context.Context,
	convID string,
	deduper *dispatch.TurnDeduper,
	call *provider.ToolCall,
	out chan<- Chunk,
	stats *RunStats,
	logger *slog.Logger,
) *models.ToolInvocation {
	inv := &models.ToolInvocation{
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Arguments:  call.Arguments,
		State:      models.ToolStateCall,
	}
	o.notify(ctx, convID, deduper, inv, out)

	result, err := o.tools.Execute(ctx, inv.ToolName, inv.Arguments)

	var verr *tools.ValidationError
	if errors.As(err, &verr) {
		outcome := "invalid"
		schema, _ := o.tools.SchemaFor(inv.ToolName)
		repaired, rerr := o.repairer.Repair(ctx, inv.ToolName, inv.Arguments, schema, verr)
		if rerr == nil {
			inv.Arguments = repaired
			result, err = o.tools.Execute(ctx, inv.ToolName, repaired)
			if err == nil {
				stats.RepairedCalls++
				outcome = "repaired"
			}
		}
		o.recordRepair(outcome)
	}

	switch {
	case err == nil:
		inv.State = models.ToolStateResult
		inv.Result = result
		o.recordTool(inv.ToolName, "ok")
	case errors.Is(err, tools.ErrUnknownTool):
		// Unrecoverable: reported straight back to the model, never
		// offered to the repair loop.
		inv.State = models.ToolStateError
		inv.Result = errorPayload(err)
		o.recordTool(inv.ToolName, "unknown")
		logger.Warn("model requested unknown tool", "tool", inv.ToolName)
	default:
		inv.State = models.ToolStateError
		inv.Result = errorPayload(err)
		o.recordTool(inv.ToolName, "error")
		logger.Warn("tool execution failed", "tool", inv.ToolName, "error", err)
	}

	o.notify(ctx, convID, deduper, inv, out)
	return inv
}

// notify dispatches the invocation event (deduplicated within the turn) and
// forwards it to the output stream.
func (o *Orchestrator) notify(ctx context.Context, convID string, deduper *dispatch.TurnDeduper, inv *models.ToolInvocation, out chan<- Chunk) {
	if !deduper.Seen(*inv) {
		_ = o.dispatch.Dispatch(ctx, dispatch.Event{ConversationID: convID, Invocation: *inv})
	}
	snapshot := *inv
	out <- Chunk{Type: ChunkTool, Invocation: &snapshot}
}

// fail ends the turn without persisting.
func (o *Orchestrator) fail(ctx context.Context, out chan<- Chunk, logger *slog.Logger, stats *RunStats, err error) {
	outcome := "error"
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		outcome = "canceled"
	}
	o.recordTurn(outcome, 0)
	logger.Warn("turn aborted", "error", err, "steps", stats.Steps)
	out <- Chunk{Type: ChunkError, Err: err}
}

func errorPayload(err error) json.RawMessage {
	payload, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return json.RawMessage(`{"error":"tool failed"}`)
	}
	return payload
}

func (o *Orchestrator) recordUsage(u models.Usage) {
	if o.metrics == nil {
		return
	}
	o.metrics.ModelTokens.WithLabelValues("input").Add(float64(u.InputTokens))
	o.metrics.ModelTokens.WithLabelValues("output").Add(float64(u.OutputTokens))
}

func (o *Orchestrator) recordTool(tool, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.ToolExecutions.WithLabelValues(tool, outcome).Inc()
}

func (o *Orchestrator) recordRepair(outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RepairAttempts.WithLabelValues(outcome).Inc()
}

func (o *Orchestrator) recordTurn(outcome string, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.TurnCounter.WithLabelValues(outcome).Inc()
	if d > 0 {
		o.metrics.TurnDuration.Observe(d.Seconds())
	}
}
