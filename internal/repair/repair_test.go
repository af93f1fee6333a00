package repair

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/conduit/internal/tools"
	"github.com/haasonsaas/conduit/internal/tools/commerce"
)

type fakeRegen struct {
	calls int
	out   json.RawMessage
	err   error
}

func (f *fakeRegen) RegenerateArguments(ctx context.Context, toolName string, schema, originalArgs json.RawMessage, validationErr string) (json.RawMessage, error) {
	f.calls++
	return f.out, f.err
}

func missingSizeArgs() json.RawMessage {
	return json.RawMessage(`{
		"productId": "prod_1",
		"options": ["Size", "Color"],
		"variants": [
			{"title": "Small / Red", "options": {"Color": "Red"}}
		]
	}`)
}

func TestRepairHeuristic(t *testing.T) {
	ctx := context.Background()

	t.Run("synthesizes missing option from variant title", func(t *testing.T) {
		regen := &fakeRegen{}
		r := New(regen, nil)
		valErr := &tools.ValidationError{
			Tool: "update-single-product",
			Err:  &commerce.MissingOptionError{Option: "Size", VariantIndex: 0, VariantTitle: "Small / Red"},
		}

		repaired, err := r.Repair(ctx, "update-single-product", missingSizeArgs(), nil, valErr)
		if err != nil {
			t.Fatalf("repair: %v", err)
		}
		if regen.calls != 0 {
			t.Error("heuristic success must not trigger a model call")
		}

		var payload struct {
			Variants []struct {
				Options map[string]string `json:"options"`
			} `json:"variants"`
		}
		if err := json.Unmarshal(repaired, &payload); err != nil {
			t.Fatalf("unmarshal repaired args: %v", err)
		}
		if payload.Variants[0].Options["Size"] != "Small" {
			t.Errorf("expected Size=Small, got %v", payload.Variants[0].Options)
		}
		if payload.Variants[0].Options["Color"] != "Red" {
			t.Errorf("existing option lost: %v", payload.Variants[0].Options)
		}
	})

	t.Run("second option position maps to second title segment", func(t *testing.T) {
		r := New(nil, nil)
		args := json.RawMessage(`{
			"options": ["Size", "Color"],
			"variants": [{"title": "Large / Blue", "options": {"Size": "Large"}}]
		}`)
		valErr := &commerce.MissingOptionError{Option: "Color", VariantIndex: 0, VariantTitle: "Large / Blue"}

		repaired, err := r.Repair(context.Background(), "update-single-product", args, nil, valErr)
		if err != nil {
			t.Fatalf("repair: %v", err)
		}
		var payload map[string]any
		_ = json.Unmarshal(repaired, &payload)
		variant := payload["variants"].([]any)[0].(map[string]any)
		if variant["options"].(map[string]any)["Color"] != "Blue" {
			t.Errorf("expected Color=Blue, got %v", variant["options"])
		}
	})

	t.Run("title with too few segments falls through", func(t *testing.T) {
		r := New(nil, nil)
		args := json.RawMessage(`{
			"options": ["Size", "Color"],
			"variants": [{"title": "Small", "options": {}}]
		}`)
		valErr := &commerce.MissingOptionError{Option: "Color", VariantIndex: 0, VariantTitle: "Small"}

		if _, err := r.Repair(ctx, "update-single-product", args, nil, valErr); !errors.Is(err, ErrNoRepair) {
			t.Fatalf("expected ErrNoRepair, got %v", err)
		}
	})
}

func TestRepairRegeneration(t *testing.T) {
	ctx := context.Background()
	schema := json.RawMessage(`{"type":"object"}`)
	valErr := errors.New("value must be an integer")

	t.Run("falls back to regeneration when heuristic misses", func(t *testing.T) {
		regen := &fakeRegen{out: json.RawMessage(`{"delta": 1}`)}
		r := New(regen, nil)

		repaired, err := r.Repair(ctx, "adjust-inventory", json.RawMessage(`{"delta":"one"}`), schema, valErr)
		if err != nil {
			t.Fatalf("repair: %v", err)
		}
		if regen.calls != 1 {
			t.Fatalf("expected exactly one regeneration call, got %d", regen.calls)
		}
		if string(repaired) != `{"delta": 1}` {
			t.Errorf("unexpected repaired args %s", repaired)
		}
	})

	t.Run("regeneration failure yields ErrNoRepair", func(t *testing.T) {
		r := New(&fakeRegen{err: errors.New("model unavailable")}, nil)
		if _, err := r.Repair(ctx, "adjust-inventory", json.RawMessage(`{}`), schema, valErr); !errors.Is(err, ErrNoRepair) {
			t.Fatalf("expected ErrNoRepair, got %v", err)
		}
	})

	t.Run("invalid regenerated JSON yields ErrNoRepair", func(t *testing.T) {
		r := New(&fakeRegen{out: json.RawMessage(`{"delta":`)}, nil)
		if _, err := r.Repair(ctx, "adjust-inventory", json.RawMessage(`{}`), schema, valErr); !errors.Is(err, ErrNoRepair) {
			t.Fatalf("expected ErrNoRepair, got %v", err)
		}
	})

	t.Run("nil regenerator disables the fallback", func(t *testing.T) {
		r := New(nil, nil)
		if _, err := r.Repair(ctx, "adjust-inventory", json.RawMessage(`{}`), schema, valErr); !errors.Is(err, ErrNoRepair) {
			t.Fatalf("expected ErrNoRepair, got %v", err)
		}
	})
}
