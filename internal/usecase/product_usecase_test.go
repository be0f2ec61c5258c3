package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/domain/money"
	"storefront/internal/infra/kv"
	"storefront/internal/infra/memory"
	repo "storefront/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type ObjectStorageMock struct{ mock.Mock }

func (m *ObjectStorageMock) Upload(ctx context.Context, path string, r io.Reader, contentType string) error {
	args := m.Called(ctx, path, r, contentType)
	return args.Error(0)
}

func (m *ObjectStorageMock) PublicURL(path string) string {
	args := m.Called(path)
	return args.String(0)
}

func newProductUsecase(t *testing.T, storage *ObjectStorageMock) (*ProductUsecase, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	var s *ProductUsecase
	if storage != nil {
		s = NewProductUsecase(store, store.Products(), kv.NewMemory(), storage, &seqIDGen{}, fixedClock{}, time.Minute)
	} else {
		s = NewProductUsecase(store, store.Products(), kv.NewMemory(), nil, &seqIDGen{}, fixedClock{}, time.Minute)
	}
	return s, store
}

func TestProducts_CreateParsesDecimalPrice(t *testing.T) {
	uc, store := newProductUsecase(t, nil)

	out, err := uc.AdminCreateProduct(context.Background(), "admin-1", AdminProductInput{
		Name: " Laptop ", Price: "999.99", Stock: 5, Category: "pc",
	})
	require.NoError(t, err)

	assert.Equal(t, "Laptop", out.Name)
	assert.Equal(t, int64(99999), out.Price)
	assert.Equal(t, "999.99", out.PriceFormatted)
	assert.Equal(t, int64(5), store.StockOf(out.ID))
	assert.Equal(t, 1, store.AuditCount())
}

func TestProducts_CreateValidation(t *testing.T) {
	uc, store := newProductUsecase(t, nil)
	ctx := context.Background()

	_, err := uc.AdminCreateProduct(ctx, "admin-1", AdminProductInput{Name: "x", Price: "1.005"})
	assertStatus(t, err, http.StatusBadRequest)
	assert.ErrorIs(t, err, money.ErrTooPrecise)

	_, err = uc.AdminCreateProduct(ctx, "admin-1", AdminProductInput{Name: "", Price: "1"})
	assertStatus(t, err, http.StatusBadRequest)

	_, err = uc.AdminCreateProduct(ctx, "admin-1", AdminProductInput{Name: "x", Price: "1", Stock: -1})
	assertStatus(t, err, http.StatusBadRequest)

	_, err = uc.AdminCreateProduct(ctx, "", AdminProductInput{Name: "x", Price: "1"})
	assertStatus(t, err, http.StatusUnauthorized)

	assert.Equal(t, 0, store.Writes())
}

func TestProducts_ListIsCachedUntilInvalidated(t *testing.T) {
	uc, store := newProductUsecase(t, nil)
	ctx := context.Background()
	store.SeedProduct(laptop(5))

	in := ListProductsInput{Page: 1, Limit: 20}
	first, err := uc.ListProducts(ctx, in)
	require.NoError(t, err)
	require.Len(t, first.Items, 1)

	// 直接書き換えてもキャッシュが返る
	store.SeedProduct(mouse(3))
	cached, err := uc.ListProducts(ctx, in)
	require.NoError(t, err)
	assert.Len(t, cached.Items, 1)

	// 管理操作で無効化される
	_, err = uc.AdminUpdateProduct(ctx, "admin-1", "p-laptop", AdminProductInput{Name: "Laptop Pro", Price: "1299.00"})
	require.NoError(t, err)

	fresh, err := uc.ListProducts(ctx, in)
	require.NoError(t, err)
	assert.Len(t, fresh.Items, 2)
}

func TestProducts_ListValidation(t *testing.T) {
	uc, _ := newProductUsecase(t, nil)
	ctx := context.Background()

	_, err := uc.ListProducts(ctx, ListProductsInput{Page: 0, Limit: 20})
	assertStatus(t, err, http.StatusBadRequest)
	_, err = uc.ListProducts(ctx, ListProductsInput{Page: 1, Limit: 20, Sort: "random"})
	assertStatus(t, err, http.StatusBadRequest)
}

func TestProducts_UpdateKeepsStockAndImage(t *testing.T) {
	uc, store := newProductUsecase(t, nil)
	ctx := context.Background()
	p := laptop(5)
	p.ImageURL = "http://img/a.png"
	store.SeedProduct(p)

	out, err := uc.AdminUpdateProduct(ctx, "admin-1", "p-laptop", AdminProductInput{Name: "Laptop", Price: "10", Stock: 99})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), out.Price)
	assert.Equal(t, int64(5), out.Stock)
	assert.Equal(t, "http://img/a.png", out.ImageURL)

	_, err = uc.AdminUpdateProduct(ctx, "admin-1", "missing", AdminProductInput{Name: "x", Price: "1"})
	assertStatus(t, err, http.StatusNotFound)
}

func TestProducts_DeleteHidesProduct(t *testing.T) {
	uc, store := newProductUsecase(t, nil)
	ctx := context.Background()
	store.SeedProduct(laptop(5))

	require.NoError(t, uc.AdminDeleteProduct(ctx, "admin-1", "p-laptop"))

	_, err := uc.GetProduct(ctx, "p-laptop")
	assertStatus(t, err, http.StatusNotFound)

	err = uc.AdminDeleteProduct(ctx, "admin-1", "p-laptop")
	assertStatus(t, err, http.StatusNotFound)
}

func TestProducts_UpdateInventoryRecordsAdjustment(t *testing.T) {
	uc, store := newProductUsecase(t, nil)
	ctx := context.Background()
	store.SeedProduct(laptop(5))

	require.NoError(t, uc.AdminUpdateInventory(ctx, "admin-1", "p-laptop", 12, "restock"))
	assert.Equal(t, int64(12), store.StockOf("p-laptop"))
	assert.Equal(t, 1, store.AuditCount())

	err := uc.AdminUpdateInventory(ctx, "admin-1", "p-laptop", 3, " ")
	assertStatus(t, err, http.StatusBadRequest)
	err = uc.AdminUpdateInventory(ctx, "admin-1", "p-laptop", -1, "x")
	assertStatus(t, err, http.StatusBadRequest)
	err = uc.AdminUpdateInventory(ctx, "admin-1", "missing", 1, "x")
	assertStatus(t, err, http.StatusNotFound)
	assert.Equal(t, int64(12), store.StockOf("p-laptop"))
}

func TestProducts_Categories(t *testing.T) {
	uc, store := newProductUsecase(t, nil)
	a := laptop(1)
	a.Category = "pc"
	b := mouse(1)
	b.Category = "accessory"
	store.SeedProduct(a)
	store.SeedProduct(b)

	cats, err := uc.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"accessory", "pc"}, cats)
}

func TestProducts_UploadImage(t *testing.T) {
	storage := new(ObjectStorageMock)
	uc, store := newProductUsecase(t, storage)
	ctx := context.Background()
	store.SeedProduct(laptop(5))

	body := bytes.NewReader([]byte("png-bytes"))
	storage.On("Upload", ctx, mock.MatchedBy(func(p string) bool {
		return len(p) > len("products/") && p[len(p)-4:] == ".png"
	}), body, "image/png").Return(nil).Once()
	storage.On("PublicURL", mock.AnythingOfType("string")).Return("http://cdn/products/x.png").Once()

	out, err := uc.UploadImage(ctx, "admin-1", "p-laptop", "image/png", body)
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/products/x.png", out.ImageURL)

	p, err := store.Products().FindByID(ctx, "p-laptop")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/products/x.png", p.ImageURL)
	assert.Equal(t, 1, store.AuditCount())
	storage.AssertExpectations(t)
}

func TestProducts_UploadImageRejectsAndFails(t *testing.T) {
	storage := new(ObjectStorageMock)
	uc, store := newProductUsecase(t, storage)
	ctx := context.Background()
	store.SeedProduct(laptop(5))

	_, err := uc.UploadImage(ctx, "admin-1", "p-laptop", "application/pdf", bytes.NewReader(nil))
	assertStatus(t, err, http.StatusBadRequest)

	storage.On("Upload", ctx, mock.Anything, mock.Anything, "image/jpeg").Return(errors.New("s3 down")).Once()
	_, err = uc.UploadImage(ctx, "admin-1", "p-laptop", "image/jpeg", bytes.NewReader([]byte("x")))
	assertStatus(t, err, http.StatusBadGateway)

	p, err := store.Products().FindByID(ctx, "p-laptop")
	require.NoError(t, err)
	assert.Empty(t, p.ImageURL)
	storage.AssertNotCalled(t, "PublicURL", mock.Anything)
}

func TestProducts_UploadImageWithoutStorage(t *testing.T) {
	uc, store := newProductUsecase(t, nil)
	store.SeedProduct(model.Product{ID: "p1", Name: "x", Stock: 1})

	_, err := uc.UploadImage(context.Background(), "admin-1", "p1", "image/png", bytes.NewReader(nil))
	assertStatus(t, err, http.StatusServiceUnavailable)
}

// 一覧の DB 読み出し直後に何かを割り込ませる
type productsAfterList struct {
	repo.ProductRepository
	afterList func()
}

func (p productsAfterList) List(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	items, total, err := p.ProductRepository.List(ctx, q)
	if p.afterList != nil {
		p.afterList()
	}
	return items, total, err
}

func TestProducts_ListReadBeforeCheckoutIsNotCached(t *testing.T) {
	f := newFixture(t, CommitTx, signedIn("u1", "alice@example.com"))
	f.store.SeedProduct(laptop(5))
	f.add(t, "s1", "p-laptop", 2)
	ctx := context.Background()

	var once sync.Once
	products := productsAfterList{
		ProductRepository: f.store.Products(),
		afterList: func() {
			once.Do(func() {
				_, err := f.checkout.PlaceOrder(ctx, "s1")
				require.NoError(t, err)
			})
		},
	}
	uc := NewProductUsecase(f.store, products, f.kv, nil, &seqIDGen{}, fixedClock{}, time.Minute)

	in := ListProductsInput{Page: 1, Limit: 20}
	raced, err := uc.ListProducts(ctx, in)
	require.NoError(t, err)
	require.Len(t, raced.Items, 1)
	assert.Equal(t, int64(5), raced.Items[0].Stock)
	require.Equal(t, int64(3), f.store.StockOf("p-laptop"))

	after, err := uc.ListProducts(ctx, in)
	require.NoError(t, err)
	require.Len(t, after.Items, 1)
	assert.Equal(t, int64(3), after.Items[0].Stock)
}
