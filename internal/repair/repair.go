// Package repair attempts to fix a tool call that failed argument
// validation: a deterministic domain heuristic first, then one
// schema-guided regeneration by the model. One attempt per failed call.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoRepair means neither the heuristic nor regeneration produced usable
// arguments; the original validation failure stands.
var ErrNoRepair = errors.New("repair: no repair possible")

// ArgumentRegenerator asks the model for a corrected argument payload given
// the tool's schema and the validation failure. Implemented by the model
// provider.
type ArgumentRegenerator interface {
	RegenerateArguments(ctx context.Context, toolName string, schema, originalArgs json.RawMessage, validationErr string) (json.RawMessage, error)
}

// Repairer fixes failed tool calls. A nil regenerator disables the model
// fallback; the heuristic still runs.
type Repairer struct {
	regen  ArgumentRegenerator
	logger *slog.Logger
}

func New(regen ArgumentRegenerator, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{regen: regen, logger: logger.With("component", "repair")}
}

// Repair returns corrected arguments for a call whose validation failed
// with valErr, or ErrNoRepair. Callers invoke this at most once per failed
// call; "unknown tool" failures must never reach it.
func (r *Repairer) Repair(ctx context.Context, toolName string, args, schema json.RawMessage, valErr error) (json.RawMessage, error) {
	if repaired, ok := repairMissingOption(args, valErr); ok {
		r.logger.Info("repaired tool call heuristically", "tool", toolName)
		return repaired, nil
	}

	if r.regen == nil {
		return nil, ErrNoRepair
	}
	regenerated, err := r.regen.RegenerateArguments(ctx, toolName, schema, args, valErr.Error())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("argument regeneration failed", "tool", toolName, "error", err)
		return nil, ErrNoRepair
	}
	if !json.Valid(regenerated) {
		r.logger.Warn("regenerated arguments are not valid JSON", "tool", toolName)
		return nil, ErrNoRepair
	}
	r.logger.Info("repaired tool call via regeneration", "tool", toolName)
	return regenerated, nil
}

var missingOptionPattern = regexp.MustCompile(`missing option value for "([^"]+)" on variant (\d+)`)

// repairMissingOption handles the "variant missing option value" failure
// shape: the missing value is recoverable from the variant title, whose
// segments follow the product's option order ("Small / Red" for
// [Size, Color]).
func repairMissingOption(args json.RawMessage, valErr error) (json.RawMessage, bool) {
	m := missingOptionPattern.FindStringSubmatch(valErr.Error())
	if m == nil {
		return nil, false
	}
	option := m[1]
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}

	var payload map[string]any
	if err := json.Unmarshal(args, &payload); err != nil {
		return nil, false
	}
	variants, ok := payload["variants"].([]any)
	if !ok || index >= len(variants) {
		return nil, false
	}
	variant, ok := variants[index].(map[string]any)
	if !ok {
		return nil, false
	}

	position, ok := optionPosition(payload, option)
	if !ok {
		return nil, false
	}
	title, _ := variant["title"].(string)
	segments := strings.Split(title, " / ")
	if position >= len(segments) {
		return nil, false
	}
	value := strings.TrimSpace(segments[position])
	if value == "" {
		return nil, false
	}

	options, ok := variant["options"].(map[string]any)
	if !ok {
		options = make(map[string]any)
		variant["options"] = options
	}
	options[option] = value

	repaired, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	return repaired, true
}

func optionPosition(payload map[string]any, option string) (int, bool) {
	declared, ok := payload["options"].([]any)
	if !ok {
		return 0, false
	}
	for i, o := range declared {
		if name, ok := o.(string); ok && name == option {
			return i, true
		}
	}
	return 0, false
}

// Describe renders the failure context passed to the regeneration prompt.
func Describe(toolName string, schema, args json.RawMessage, valErr error) string {
	return fmt.Sprintf(
		"Tool %q rejected its arguments.\nSchema:\n%s\nArguments:\n%s\nError: %v",
		toolName, schema, args, valErr,
	)
}
