package commerce

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/conduit/internal/tools"
)

// UpdateSingleProductArgs are the arguments for the update-single-product
// tool. Options lists the product's option names in display order.
type UpdateSingleProductArgs struct {
	ProductID string         `json:"productId" jsonschema:"title=Product ID,description=ID of the product to update"`
	Title     string         `json:"title,omitempty" jsonschema:"description=New product title"`
	Options   []string       `json:"options,omitempty" jsonschema:"description=Option names in display order"`
	Variants  []VariantInput `json:"variants,omitempty" jsonschema:"description=Full replacement variant list"`
}

// VariantInput is one variant in an update request.
type VariantInput struct {
	Title             string            `json:"title" jsonschema:"description=Variant title joined from option values"`
	Price             string            `json:"price,omitempty"`
	Options           map[string]string `json:"options,omitempty" jsonschema:"description=Option name to value for this variant"`
	InventoryQuantity int               `json:"inventoryQuantity,omitempty"`
}

// UpdateSingleProductTool replaces a product's title, options and variants.
type UpdateSingleProductTool struct {
	catalog Catalog
}

func NewUpdateSingleProductTool(catalog Catalog) *UpdateSingleProductTool {
	return &UpdateSingleProductTool{catalog: catalog}
}

func (t *UpdateSingleProductTool) Name() string { return "update-single-product" }

func (t *UpdateSingleProductTool) Description() string {
	return "Update a product's title, options and variants. Every variant must supply a value for each declared option."
}

func (t *UpdateSingleProductTool) Schema() json.RawMessage {
	return tools.SchemaOf(&UpdateSingleProductArgs{})
}

func (t *UpdateSingleProductTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args UpdateSingleProductArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &tools.ValidationError{Tool: t.Name(), Err: err}
	}
	if args.ProductID == "" {
		return nil, &tools.ValidationError{Tool: t.Name(), Err: fmt.Errorf("productId is required")}
	}

	product, err := t.catalog.GetProduct(ctx, args.ProductID)
	if err != nil {
		return nil, err
	}

	options := product.Options
	if len(args.Options) > 0 {
		options = args.Options
	}
	// Every variant must carry every option; a miss is an argument defect
	// the repair loop may be able to fix, not an execution failure.
	for i, v := range args.Variants {
		for _, opt := range options {
			if _, ok := v.Options[opt]; !ok {
				return nil, &tools.ValidationError{
					Tool: t.Name(),
					Err:  &MissingOptionError{Option: opt, VariantIndex: i, VariantTitle: v.Title},
				}
			}
		}
	}

	if args.Title != "" {
		product.Title = args.Title
	}
	if len(args.Options) > 0 {
		product.Options = args.Options
	}
	if args.Variants != nil {
		product.Variants = product.Variants[:0]
		for _, v := range args.Variants {
			product.Variants = append(product.Variants, Variant{
				Title:             v.Title,
				Price:             v.Price,
				Options:           v.Options,
				InventoryQuantity: v.InventoryQuantity,
			})
		}
	}
	if err := t.catalog.UpdateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("update product %s: %w", args.ProductID, err)
	}
	return json.Marshal(product)
}

// AdjustInventoryArgs are the arguments for the adjust-inventory tool.
type AdjustInventoryArgs struct {
	ProductID    string `json:"productId" jsonschema:"description=ID of the product"`
	VariantTitle string `json:"variantTitle" jsonschema:"description=Title of the variant to adjust"`
	Delta        int    `json:"delta" jsonschema:"description=Signed quantity change"`
}

// AdjustInventoryTool applies a signed delta to a variant's stock level.
type AdjustInventoryTool struct {
	catalog Catalog
}

func NewAdjustInventoryTool(catalog Catalog) *AdjustInventoryTool {
	return &AdjustInventoryTool{catalog: catalog}
}

func (t *AdjustInventoryTool) Name() string { return "adjust-inventory" }

func (t *AdjustInventoryTool) Description() string {
	return "Adjust the inventory quantity of a product variant by a signed delta."
}

func (t *AdjustInventoryTool) Schema() json.RawMessage {
	return tools.SchemaOf(&AdjustInventoryArgs{})
}

func (t *AdjustInventoryTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args AdjustInventoryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &tools.ValidationError{Tool: t.Name(), Err: err}
	}
	quantity, err := t.catalog.AdjustInventory(ctx, args.ProductID, args.VariantTitle, args.Delta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"productId":         args.ProductID,
		"variantTitle":      args.VariantTitle,
		"inventoryQuantity": quantity,
	})
}

// GetProductArgs are the arguments for the get-product tool.
type GetProductArgs struct {
	ProductID string `json:"productId" jsonschema:"description=ID of the product to fetch"`
}

// GetProductTool fetches a single product by ID.
type GetProductTool struct {
	catalog Catalog
}

func NewGetProductTool(catalog Catalog) *GetProductTool {
	return &GetProductTool{catalog: catalog}
}

func (t *GetProductTool) Name() string { return "get-product" }

func (t *GetProductTool) Description() string {
	return "Fetch a product with its options and variants."
}

func (t *GetProductTool) Schema() json.RawMessage {
	return tools.SchemaOf(&GetProductArgs{})
}

func (t *GetProductTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args GetProductArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &tools.ValidationError{Tool: t.Name(), Err: err}
	}
	product, err := t.catalog.GetProduct(ctx, args.ProductID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(product)
}

// RegisterAll wires the full commerce tool set into a registry.
func RegisterAll(reg *tools.Registry, catalog Catalog) error {
	for _, t := range []tools.Tool{
		NewGetProductTool(catalog),
		NewUpdateSingleProductTool(catalog),
		NewAdjustInventoryTool(catalog),
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
