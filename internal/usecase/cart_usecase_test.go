package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"storefront/internal/infra/kv"
	"storefront/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCartUsecase(t *testing.T) (*CartUsecase, *memory.Store, *kv.Memory) {
	t.Helper()
	store := memory.NewStore()
	store.SeedProduct(laptop(5))
	store.SeedProduct(mouse(10))
	kvs := kv.NewMemory()
	return NewCartUsecase(kvs, store.Products(), time.Hour), store, kvs
}

func TestCart_AddMergesAndTotals(t *testing.T) {
	uc, _, _ := newCartUsecase(t)
	ctx := context.Background()

	_, err := uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-laptop", Quantity: 1})
	require.NoError(t, err)
	_, err = uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-mouse", Quantity: 2})
	require.NoError(t, err)
	res, err := uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-laptop", Quantity: 1})
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "p-laptop", res.Items[0].ProductID)
	assert.Equal(t, int64(2), res.Items[0].Quantity)
	assert.Equal(t, "999.99", res.Items[0].PriceFormatted)
	assert.Equal(t, 1, res.Items[1].Index)
	assert.Equal(t, int64(99999*2+1999*2), res.Total)
	assert.Equal(t, "2039.96", res.TotalFormatted)

	// 別セッションは独立
	other, err := uc.GetCart(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other.Items)
}

func TestCart_AddBeyondStockKeepsCart(t *testing.T) {
	uc, _, _ := newCartUsecase(t)
	ctx := context.Background()

	_, err := uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-laptop", Quantity: 4})
	require.NoError(t, err)

	_, err = uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-laptop", Quantity: 2})
	assert.ErrorIs(t, err, ErrStockExceeded)
	assertStatus(t, err, http.StatusConflict)

	res, err := uc.GetCart(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(4), res.Items[0].Quantity)
}

func TestCart_AddValidation(t *testing.T) {
	uc, _, _ := newCartUsecase(t)
	ctx := context.Background()

	_, err := uc.AddItem(ctx, "s1", AddCartInput{ProductID: "nope", Quantity: 1})
	assertStatus(t, err, http.StatusNotFound)

	_, err = uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-laptop", Quantity: 0})
	assertStatus(t, err, http.StatusBadRequest)

	_, err = uc.AddItem(ctx, "", AddCartInput{ProductID: "p-laptop", Quantity: 1})
	assertStatus(t, err, http.StatusBadRequest)
}

func TestCart_UpdateUsesFreshStock(t *testing.T) {
	uc, store, _ := newCartUsecase(t)
	ctx := context.Background()

	_, err := uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-laptop", Quantity: 1})
	require.NoError(t, err)

	res, err := uc.UpdateItem(ctx, "s1", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Items[0].Quantity)

	store.SeedProduct(laptop(2))
	_, err = uc.UpdateItem(ctx, "s1", 0, 3)
	assert.ErrorIs(t, err, ErrStockExceeded)

	_, err = uc.UpdateItem(ctx, "s1", 7, 1)
	assertStatus(t, err, http.StatusNotFound)
}

func TestCart_RemoveOutOfRangeIsNoop(t *testing.T) {
	uc, _, _ := newCartUsecase(t)
	ctx := context.Background()

	_, err := uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-laptop", Quantity: 1})
	require.NoError(t, err)

	res, err := uc.RemoveItem(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)

	res, err = uc.RemoveItem(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, "0.00", res.TotalFormatted)
}

func TestCart_Clear(t *testing.T) {
	uc, _, _ := newCartUsecase(t)
	ctx := context.Background()

	_, err := uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-mouse", Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, uc.Clear(ctx, "s1"))

	res, err := uc.GetCart(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestCart_CorruptedValueReadsAsEmpty(t *testing.T) {
	uc, _, kvs := newCartUsecase(t)
	ctx := context.Background()
	require.NoError(t, kvs.Save(ctx, "cart:s1", []byte("{{garbage"), time.Hour))

	res, err := uc.GetCart(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	// 壊れたカートにも追加できる（上書きされる）
	res, err = uc.AddItem(ctx, "s1", AddCartInput{ProductID: "p-mouse", Quantity: 1})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

type brokenCartStore struct{}

var errCartStoreDown = errors.New("redis down")

func (brokenCartStore) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, errCartStoreDown
}
func (brokenCartStore) Save(context.Context, string, []byte, time.Duration) error {
	return errCartStoreDown
}
func (brokenCartStore) Delete(context.Context, string) error { return errCartStoreDown }

func TestCart_StoreFailureIs500(t *testing.T) {
	store := memory.NewStore()
	uc := NewCartUsecase(brokenCartStore{}, store.Products(), time.Hour)

	_, err := uc.GetCart(context.Background(), "s1")
	assertStatus(t, err, http.StatusInternalServerError)
	assert.ErrorIs(t, err, errCartStoreDown)
}
