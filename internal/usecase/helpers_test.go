package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/identity"
	"storefront/internal/infra/kv"
	"storefront/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return fixedNow }

// 連番のID（uuid と同じ長さにそろえる）
type seqIDGen struct{ n atomic.Int64 }

func (g *seqIDGen) NewID() string {
	return fmt.Sprintf("%08d-0000-4000-8000-000000000000", g.n.Add(1))
}

// 固定のサインイン状態
type staticGate struct {
	mu sync.Mutex
	id *identity.Identity
}

func (g *staticGate) Current(ctx context.Context) (identity.Identity, bool) {
	if id, ok := identity.FromContext(ctx); ok {
		return id, true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.id == nil {
		return identity.Identity{}, false
	}
	return *g.id, true
}

func signedIn(id, email string) *staticGate {
	return &staticGate{id: &identity.Identity{ID: id, Email: email}}
}

type fixture struct {
	store    *memory.Store
	kv       *kv.Memory
	carts    *CartUsecase
	checkout *CheckoutUsecase
	gate     *staticGate
}

func newFixture(t *testing.T, mode CommitMode, gate *staticGate) *fixture {
	t.Helper()
	store := memory.NewStore()
	kvs := kv.NewMemory()
	carts := NewCartUsecase(kvs, store.Products(), time.Hour)
	checkout := NewCheckoutUsecase(CheckoutDeps{
		Tx:      store,
		Repos:   store,
		Carts:   carts,
		Gate:    gate,
		Catalog: kvs,
		IDGen:   &seqIDGen{},
		Clock:   fixedClock{},
		Mode:    mode,
	})
	return &fixture{store: store, kv: kvs, carts: carts, checkout: checkout, gate: gate}
}

func (f *fixture) add(t *testing.T, session, productID string, qty int64) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), session, AddCartInput{ProductID: productID, Quantity: qty})
	require.NoError(t, err)
}

func laptop(stock int64) model.Product {
	return model.Product{ID: "p-laptop", Name: "Laptop", Price: 99999, Stock: stock}
}

func mouse(stock int64) model.Product {
	return model.Product{ID: "p-mouse", Name: "Mouse", Price: 1999, Stock: stock}
}

// エラーメッセージの一部で確認する
func assertErrContains(t *testing.T, err error, substr string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), substr), "error %q does not contain %q", err.Error(), substr)
	}
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	he, ok := AsHTTPError(err)
	if assert.True(t, ok, "expected HTTPError, got %v", err) {
		assert.Equal(t, status, he.Status)
	}
}
