package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/conduit/internal/tools"
)

func seededCatalog(t *testing.T) *MemoryCatalog {
	t.Helper()
	catalog := NewMemoryCatalog()
	err := catalog.UpdateProduct(context.Background(), &Product{
		ID:      "prod_1",
		Title:   "Basic Tee",
		Options: []string{"Size", "Color"},
		Variants: []Variant{
			{Title: "Small / Red", Options: map[string]string{"Size": "Small", "Color": "Red"}, InventoryQuantity: 10},
			{Title: "Large / Blue", Options: map[string]string{"Size": "Large", "Color": "Blue"}, InventoryQuantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return catalog
}

func TestUpdateSingleProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces variants and title", func(t *testing.T) {
		catalog := seededCatalog(t)
		tool := NewUpdateSingleProductTool(catalog)

		args, _ := json.Marshal(UpdateSingleProductArgs{
			ProductID: "prod_1",
			Title:     "Premium Tee",
			Options:   []string{"Size"},
			Variants: []VariantInput{
				{Title: "Small", Options: map[string]string{"Size": "Small"}, Price: "19.99"},
			},
		})
		if _, err := tool.Execute(ctx, args); err != nil {
			t.Fatalf("execute: %v", err)
		}

		got, err := catalog.GetProduct(ctx, "prod_1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != "Premium Tee" || len(got.Variants) != 1 {
			t.Errorf("update not applied: %+v", got)
		}
	})

	t.Run("variant missing an option value is a validation error", func(t *testing.T) {
		catalog := seededCatalog(t)
		tool := NewUpdateSingleProductTool(catalog)

		args, _ := json.Marshal(UpdateSingleProductArgs{
			ProductID: "prod_1",
			Options:   []string{"Size", "Color"},
			Variants: []VariantInput{
				{Title: "Small / Red", Options: map[string]string{"Color": "Red"}},
			},
		})
		_, err := tool.Execute(ctx, args)

		var verr *tools.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected *tools.ValidationError, got %T: %v", err, err)
		}
		var merr *MissingOptionError
		if !errors.As(err, &merr) {
			t.Fatalf("expected *MissingOptionError, got %v", err)
		}
		if merr.Option != "Size" || merr.VariantIndex != 0 {
			t.Errorf("wrong error detail: %+v", merr)
		}
	})

	t.Run("unknown product propagates as execution error", func(t *testing.T) {
		tool := NewUpdateSingleProductTool(seededCatalog(t))
		args, _ := json.Marshal(UpdateSingleProductArgs{ProductID: "prod_missing"})
		_, err := tool.Execute(ctx, args)
		if !errors.Is(err, ErrProductNotFound) {
			t.Fatalf("expected ErrProductNotFound, got %v", err)
		}
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			t.Error("catalog miss must not look repairable")
		}
	})
}

func TestAdjustInventory(t *testing.T) {
	ctx := context.Background()
	catalog := seededCatalog(t)
	tool := NewAdjustInventoryTool(catalog)

	args, _ := json.Marshal(AdjustInventoryArgs{ProductID: "prod_1", VariantTitle: "Small / Red", Delta: -4})
	out, err := tool.Execute(ctx, args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var result struct {
		InventoryQuantity int `json:"inventoryQuantity"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.InventoryQuantity != 6 {
		t.Errorf("expected 6, got %d", result.InventoryQuantity)
	}

	if _, err := tool.Execute(ctx, json.RawMessage(`{"productId":"prod_1","variantTitle":"nope","delta":1}`)); err == nil {
		t.Error("expected error for unknown variant")
	}
}

func TestRegisterAll(t *testing.T) {
	reg := tools.NewRegistry()
	if err := RegisterAll(reg, seededCatalog(t)); err != nil {
		t.Fatalf("register all: %v", err)
	}
	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(defs))
	}
	for _, name := range []string{"get-product", "update-single-product", "adjust-inventory"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("missing tool %s", name)
		}
	}
}
