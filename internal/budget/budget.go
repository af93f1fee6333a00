// Package budget selects which prior messages fit a token budget before each
// model call, and destructively prunes history before persistence.
package budget

import (
	"github.com/haasonsaas/conduit/internal/tokenizer"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Config is process-wide, read-only budgeting configuration.
type Config struct {
	// MaxTokens is the total token budget for one model call.
	// Default: 8000.
	MaxTokens int `yaml:"max_tokens"`

	// MaxMessages caps persisted non-system history (used by Prune).
	// Default: 100.
	MaxMessages int `yaml:"max_messages"`

	// AlwaysIncludeLastN non-system messages are kept regardless of budget.
	// Default: 4.
	AlwaysIncludeLastN int `yaml:"always_include_last_n"`

	// ReservedPromptTokens is subtracted from the budget for instructions
	// that are appended outside the history. Default: 500.
	ReservedPromptTokens int `yaml:"reserved_prompt_tokens"`

	// MessageOverheadTokens models per-message role/formatting cost.
	// Default: 4.
	MessageOverheadTokens int `yaml:"message_overhead_tokens"`

	// SummarizeThreshold enables summarization of dropped history when the
	// selected set falls below this fraction of the input. Feature flag:
	// accepted in config but not acted on by Select.
	SummarizeThreshold float64 `yaml:"summarize_threshold"`
}

// DefaultConfig returns sensible budgeting defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:             8000,
		MaxMessages:           100,
		AlwaysIncludeLastN:    4,
		ReservedPromptTokens:  500,
		MessageOverheadTokens: 4,
	}
}

func sanitize(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaults.MaxMessages
	}
	if cfg.AlwaysIncludeLastN < 0 {
		cfg.AlwaysIncludeLastN = 0
	}
	if cfg.ReservedPromptTokens < 0 {
		cfg.ReservedPromptTokens = 0
	}
	if cfg.MessageOverheadTokens <= 0 {
		cfg.MessageOverheadTokens = defaults.MessageOverheadTokens
	}
	return cfg
}

// Budgeter selects message subsets that fit a token budget.
type Budgeter struct {
	tok tokenizer.Tokenizer
	cfg Config
}

// New creates a Budgeter with the given tokenizer and config.
// A nil tokenizer falls back to the heuristic estimator.
func New(tok tokenizer.Tokenizer, cfg Config) *Budgeter {
	if tok == nil {
		tok = tokenizer.NewHeuristic()
	}
	return &Budgeter{tok: tok, cfg: sanitize(cfg)}
}

// MessageCost returns the token cost of a single message: tokenized content
// plus a fixed per-message overhead.
func (b *Budgeter) MessageCost(m *models.Message) int {
	if m == nil {
		return 0
	}
	return b.tok.Count(m.Content) + b.cfg.MessageOverheadTokens
}

// Select returns the subset of history to send to the model.
//
// System messages are always kept and their cost, together with
// ReservedPromptTokens, is subtracted from MaxTokens to get the available
// budget. The most recent AlwaysIncludeLastN non-system messages are kept
// unconditionally, even when their cost alone exceeds the budget; that soft
// overrun is the documented contract, not a bug. Older messages are then
// walked newest to oldest and included greedily until the first one that
// would overflow, so the kept older messages always form a contiguous run.
//
// The result preserves chronological order: system messages, kept older
// messages, then the last-N window. Select never mutates its input.
func (b *Budgeter) Select(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return []*models.Message{}
	}

	var system []*models.Message
	var rest []*models.Message
	for _, m := range history {
		if m == nil {
			continue
		}
		if m.Role == models.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	systemCost := 0
	for _, m := range system {
		systemCost += b.MessageCost(m)
	}
	available := b.cfg.MaxTokens - systemCost - b.cfg.ReservedPromptTokens

	// Unconditional last-N window, newest first.
	lastN := b.cfg.AlwaysIncludeLastN
	if lastN > len(rest) {
		lastN = len(rest)
	}
	window := rest[len(rest)-lastN:]
	older := rest[:len(rest)-lastN]

	running := 0
	for _, m := range window {
		running += b.MessageCost(m)
	}

	// Greedy contiguous walk over older messages, newest to oldest.
	// Stop at the first overflow; no skipping ahead.
	var keptOlder []*models.Message
	for i := len(older) - 1; i >= 0; i-- {
		cost := b.MessageCost(older[i])
		if running+cost > available {
			break
		}
		running += cost
		keptOlder = append(keptOlder, older[i])
	}

	out := make([]*models.Message, 0, len(system)+len(keptOlder)+len(window))
	out = append(out, system...)
	// keptOlder was collected newest-to-oldest; restore chronological order.
	for i := len(keptOlder) - 1; i >= 0; i-- {
		out = append(out, keptOlder[i])
	}
	out = append(out, window...)
	return out
}

// Prune destructively trims history for persistence: all system messages are
// kept, plus the most recent maxMessages non-system messages. Unlike Select
// this is one-way; dropped messages are gone from the stored record.
// Prune is idempotent.
func Prune(history []*models.Message, maxMessages int) []*models.Message {
	if maxMessages <= 0 || len(history) == 0 {
		return history
	}

	nonSystem := 0
	for _, m := range history {
		if m != nil && m.Role != models.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem <= maxMessages {
		return history
	}

	drop := nonSystem - maxMessages
	out := make([]*models.Message, 0, len(history)-drop)
	for _, m := range history {
		if m == nil {
			continue
		}
		if m.Role != models.RoleSystem && drop > 0 {
			drop--
			continue
		}
		out = append(out, m)
	}
	return out
}
