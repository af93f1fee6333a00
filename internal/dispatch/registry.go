// Package dispatch routes "tool produced a result" events to interested
// listeners. Matchers are exact tool names or prefixes; wildcard handlers
// fire for every event. Duplicate events within one conversation turn are
// suppressed by TurnDeduper.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/conduit/pkg/models"
)

// Event is one tool-invocation lifecycle notification.
type Event struct {
	ConversationID string
	Invocation     models.ToolInvocation
}

// Handler reacts to an event. Handlers are called synchronously in
// registration order; a failing handler never affects its siblings or the
// dispatcher.
type Handler func(ctx context.Context, evt Event) error

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	registry *Registry
	matcher  string
	wildcard bool
	seq      uint64
}

type registration struct {
	seq     uint64
	handler Handler
}

// Registry is the handler multimap. It is constructed once at startup and
// handed to the orchestrator explicitly; registration is expected to be rare
// relative to dispatch.
type Registry struct {
	mu       sync.RWMutex
	matchers []string                  // registration order of first use
	handlers map[string][]registration // matcher -> ordered handlers
	wildcard []registration
	nextSeq  uint64

	logger *slog.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string][]registration),
		logger:   logger.With("component", "dispatch"),
	}
}

// Register adds a handler for an exact tool name or name prefix. The
// returned subscription removes exactly this handler.
func (r *Registry) Register(matcher string, h Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[matcher]; !ok {
		r.matchers = append(r.matchers, matcher)
	}
	r.nextSeq++
	r.handlers[matcher] = append(r.handlers[matcher], registration{seq: r.nextSeq, handler: h})
	return &Subscription{registry: r, matcher: matcher, seq: r.nextSeq}
}

// RegisterWildcard adds a handler that fires for every event, after all
// matcher handlers.
func (r *Registry) RegisterWildcard(h Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	r.wildcard = append(r.wildcard, registration{seq: r.nextSeq, handler: h})
	return &Subscription{registry: r, wildcard: true, seq: r.nextSeq}
}

// Unregister removes the subscribed handler. Removing an already-removed
// subscription is a no-op.
func (s *Subscription) Unregister() {
	if s == nil || s.registry == nil {
		return
	}
	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.wildcard {
		r.wildcard = removeSeq(r.wildcard, s.seq)
		return
	}
	r.handlers[s.matcher] = removeSeq(r.handlers[s.matcher], s.seq)
	if len(r.handlers[s.matcher]) == 0 {
		delete(r.handlers, s.matcher)
		for i, m := range r.matchers {
			if m == s.matcher {
				r.matchers = append(r.matchers[:i], r.matchers[i+1:]...)
				break
			}
		}
	}
}

func removeSeq(regs []registration, seq uint64) []registration {
	for i, reg := range regs {
		if reg.seq == seq {
			return append(regs[:i], regs[i+1:]...)
		}
	}
	return regs
}

// Dispatch fires every handler whose matcher is the event's tool name or a
// prefix of it, in registration order, then every wildcard handler. Handlers
// run synchronously; errors and panics are logged and isolated, so Dispatch
// itself only fails if the context is already done.
func (r *Registry) Dispatch(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := evt.Invocation.ToolName

	r.mu.RLock()
	var fired []registration
	for _, matcher := range r.matchers {
		if name == matcher || strings.HasPrefix(name, matcher) {
			fired = append(fired, r.handlers[matcher]...)
		}
	}
	fired = append(fired, r.wildcard...)
	r.mu.RUnlock()

	for _, reg := range fired {
		r.run(ctx, reg, evt)
	}
	return nil
}

func (r *Registry) run(ctx context.Context, reg registration, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				"panic", fmt.Sprint(rec),
				"tool", evt.Invocation.ToolName,
				"state", string(evt.Invocation.State),
			)
		}
	}()
	if err := reg.handler(ctx, evt); err != nil {
		r.logger.Warn("tool handler failed",
			"error", err,
			"tool", evt.Invocation.ToolName,
			"state", string(evt.Invocation.State),
		)
	}
}
