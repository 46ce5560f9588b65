package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"localsim/backend/internal/domain"
)

// Catalog resolves cart SKUs to a price and, for SIM products, the plan the
// sale consumes from inventory.
type Catalog interface {
	Lookup(ctx context.Context, sku string) (domain.CatalogItem, error)
	List(ctx context.Context) ([]domain.CatalogItem, error)
}

// Static is an in-process catalog, seeded for development and tests.
type Static struct {
	mu    sync.RWMutex
	items map[string]domain.CatalogItem
}

func NewStatic(items ...domain.CatalogItem) *Static {
	c := &Static{items: make(map[string]domain.CatalogItem, len(items))}
	for _, item := range items {
		c.Put(item)
	}
	return c
}

// NewSeeded returns a catalog with one SIM product per known plan plus an
// airtime top-up that maps to no plan.
func NewSeeded() *Static {
	return NewStatic(
		domain.CatalogItem{SKU: "SIM-5D", Name: "SIM 5 dias", Plan: domain.Plan5Day, UnitPrice: decimal.NewFromInt(15000)},
		domain.CatalogItem{SKU: "SIM-7D", Name: "SIM 7 dias", Plan: domain.Plan7Day, UnitPrice: decimal.NewFromInt(20000)},
		domain.CatalogItem{SKU: "SIM-15D", Name: "SIM 15 dias", Plan: domain.Plan15Day, UnitPrice: decimal.NewFromInt(35000)},
		domain.CatalogItem{SKU: "SIM-30D", Name: "SIM 30 dias", Plan: domain.Plan30Day, UnitPrice: decimal.NewFromInt(60000)},
		domain.CatalogItem{SKU: "TOPUP-10K", Name: "Recarga 10.000", UnitPrice: decimal.NewFromInt(10000)},
	)
}

func (c *Static) Put(item domain.CatalogItem) {
	item.SKU = normalizeSKU(item.SKU)
	if item.Plan != "" {
		item.Plan = domain.ParsePlanCode(string(item.Plan))
	}
	c.mu.Lock()
	c.items[item.SKU] = item
	c.mu.Unlock()
}

func (c *Static) Lookup(ctx context.Context, sku string) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[normalizeSKU(sku)]
	if !ok {
		return domain.CatalogItem{}, &domain.NotFoundError{Entity: "catalog item", ID: sku}
	}
	return item, nil
}

func (c *Static) List(ctx context.Context) ([]domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	items := make([]domain.CatalogItem, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	c.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })
	return items, nil
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
