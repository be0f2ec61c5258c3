package main

import (
	"context"
	"testing"

	"storefront/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed_SkipsExisting(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, seed(ctx, store.Products()))
	require.NoError(t, seed(ctx, store.Products()))

	for _, p := range seedProducts {
		assert.Equal(t, p.Stock, store.StockOf(p.ID))
	}
	assert.Equal(t, len(seedProducts), store.Writes())
}
