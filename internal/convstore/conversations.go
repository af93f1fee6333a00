package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/haasonsaas/conduit/internal/budget"
	"github.com/haasonsaas/conduit/pkg/models"
)

const (
	conversationKeyPrefix = "chat:conversation:"
	indexKey              = "chat:index"
)

// DefaultTTL is how long a conversation survives without activity.
const DefaultTTL = 7 * 24 * time.Hour

// Options configures the conversation layer.
type Options struct {
	// TTL applied to every save; the clock restarts on each write.
	// Default: DefaultTTL.
	TTL time.Duration

	// MaxMessages is the non-system message cap applied by Save via the
	// destructive prune. Default: 100.
	MaxMessages int

	Logger *slog.Logger
}

// Conversations loads, saves, and enumerates conversation records in a KV
// store. Saves are all-or-nothing: the pruned history is marshalled once and
// written with a single Set.
type Conversations struct {
	kv          KV
	ttl         time.Duration
	maxMessages int
	logger      *slog.Logger
}

// NewConversations creates the conversation layer over the given KV store.
func NewConversations(kv KV, opts Options) *Conversations {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversations{
		kv:          kv,
		ttl:         opts.TTL,
		maxMessages: opts.MaxMessages,
		logger:      logger.With("component", "convstore"),
	}
}

func conversationKey(id string) string {
	return conversationKeyPrefix + id
}

// Load returns the stored conversation, or ErrNotFound.
func (c *Conversations) Load(ctx context.Context, id string) (*models.Conversation, error) {
	data, err := c.kv.Get(ctx, conversationKey(id))
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Save prunes the conversation's history to the configured message cap,
// stamps UpdatedAt, and writes the record with a fresh TTL. The write is a
// single marshalled value, so concurrent readers of the same id see either
// the previous record or the new one, never a partial state.
func (c *Conversations) Save(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	conv.Messages = budget.Prune(conv.Messages, c.maxMessages)
	conv.UpdatedAt = time.Now()

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", conv.ID, err)
	}
	if err := c.kv.Set(ctx, conversationKey(conv.ID), data, c.ttl); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}

	// The index is best effort: losing it degrades enumeration, not chat.
	if err := c.addToIndex(ctx, conv.ID); err != nil {
		c.logger.Warn("failed to update conversation index", "error", err, "conversation_id", conv.ID)
	}
	return nil
}

// Delete removes a conversation and its index entry.
func (c *Conversations) Delete(ctx context.Context, id string) error {
	if err := c.kv.Delete(ctx, conversationKey(id)); err != nil {
		return err
	}
	if err := c.removeFromIndex(ctx, id); err != nil {
		c.logger.Warn("failed to update conversation index", "error", err, "conversation_id", id)
	}
	return nil
}

// List returns the known conversation ids from the secondary index record.
func (c *Conversations) List(ctx context.Context) ([]string, error) {
	ids, err := c.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Conversations) readIndex(ctx context.Context) ([]string, error) {
	data, err := c.kv.Get(ctx, indexKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode conversation index: %w", err)
	}
	return ids, nil
}

func (c *Conversations) writeIndex(ctx context.Context, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, indexKey, data, c.ttl)
}

func (c *Conversations) addToIndex(ctx context.Context, id string) error {
	ids, err := c.readIndex(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, id) {
		return c.writeIndex(ctx, ids) // refresh the index TTL
	}
	return c.writeIndex(ctx, append(ids, id))
}

func (c *Conversations) removeFromIndex(ctx context.Context, id string) error {
	ids, err := c.readIndex(ctx)
	if err != nil {
		return err
	}
	idx := slices.Index(ids, id)
	if idx < 0 {
		return nil
	}
	return c.writeIndex(ctx, slices.Delete(ids, idx, idx+1))
}
