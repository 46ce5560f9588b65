package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localsim/backend/internal/domain"
)

func TestSeededCatalogLookup(t *testing.T) {
	c := NewSeeded()
	ctx := context.Background()

	item, err := c.Lookup(ctx, " sim-7d ")
	require.NoError(t, err)
	assert.Equal(t, domain.Plan7Day, item.Plan)
	assert.True(t, item.UnitPrice.Equal(decimal.NewFromInt(20000)))

	topup, err := c.Lookup(ctx, "TOPUP-10K")
	require.NoError(t, err)
	assert.Empty(t, topup.Plan)

	_, err = c.Lookup(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPutNormalizesPlanCode(t *testing.T) {
	c := NewStatic()
	c.Put(domain.CatalogItem{SKU: "sim-7", Plan: "7 dias", UnitPrice: decimal.NewFromInt(1)})

	item, err := c.Lookup(context.Background(), "SIM-7")
	require.NoError(t, err)
	assert.Equal(t, domain.Plan7Day, item.Plan)

	items, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
