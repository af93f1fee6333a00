// Package commerce provides the storefront tool set: product updates and
// inventory adjustments against a Catalog backend.
package commerce

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrProductNotFound is returned by catalog lookups for unknown product IDs.
var ErrProductNotFound = errors.New("commerce: product not found")

// MissingOptionError reports a variant that does not carry a value for one
// of the product's declared options. The message shape is stable; the
// repair heuristic pattern-matches it.
type MissingOptionError struct {
	Option       string
	VariantIndex int
	VariantTitle string
}

func (e *MissingOptionError) Error() string {
	return fmt.Sprintf("missing option value for %q on variant %d (%s)", e.Option, e.VariantIndex, e.VariantTitle)
}

// Variant is one purchasable configuration of a product. Options maps
// option name to the variant's value, e.g. "Size" -> "Small".
type Variant struct {
	Title             string            `json:"title"`
	Price             string            `json:"price,omitempty"`
	Options           map[string]string `json:"options,omitempty"`
	InventoryQuantity int               `json:"inventoryQuantity"`
}

// Product is a catalog entry. Options lists option names in display order;
// every variant must carry a value for each.
type Product struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Options  []string  `json:"options,omitempty"`
	Variants []Variant `json:"variants,omitempty"`
}

// Catalog is the product backend the tools execute against.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	AdjustInventory(ctx context.Context, productID, variantTitle string, delta int) (int, error)
	ListProducts(ctx context.Context) ([]*Product, error)
}

// MemoryCatalog is an in-process Catalog, used for local development and
// tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]*Product
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[string]*Product)}
}

func cloneProduct(p *Product) *Product {
	out := &Product{ID: p.ID, Title: p.Title}
	out.Options = append([]string(nil), p.Options...)
	for _, v := range p.Variants {
		cv := v
		if v.Options != nil {
			cv.Options = make(map[string]string, len(v.Options))
			for k, val := range v.Options {
				cv.Options[k] = val
			}
		}
		out.Variants = append(out.Variants, cv)
	}
	return out
}

func (c *MemoryCatalog) GetProduct(ctx context.Context, id string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return cloneProduct(p), nil
}

func (c *MemoryCatalog) UpdateProduct(ctx context.Context, p *Product) error {
	if p.ID == "" {
		return errors.New("commerce: product id required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = cloneProduct(p)
	return nil
}

func (c *MemoryCatalog) AdjustInventory(ctx context.Context, productID, variantTitle string, delta int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	for i := range p.Variants {
		if p.Variants[i].Title == variantTitle {
			p.Variants[i].InventoryQuantity += delta
			return p.Variants[i].InventoryQuantity, nil
		}
	}
	return 0, fmt.Errorf("commerce: no variant %q on product %s", variantTitle, productID)
}

func (c *MemoryCatalog) ListProducts(ctx context.Context) ([]*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
