package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/handler"
	"storefront/internal/identity"
	"storefront/internal/infra/kv"
	"storefront/internal/infra/memory"
	"storefront/internal/infra/storage"
	"storefront/internal/usecase"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type admins []string

func (a admins) IsAdminEmail(email string) bool {
	for _, x := range a {
		if strings.EqualFold(x, email) {
			return true
		}
	}
	return false
}

type testEnv struct {
	srv   *httptest.Server
	store *memory.Store
	hub   *identity.Hub
}

func newTestEnv(t *testing.T, mode usecase.CommitMode) *testEnv {
	t.Helper()
	store := memory.NewStore()
	kvs := kv.NewMemory()
	hub := identity.NewHub()
	verifier := identity.NewVerifier(testSecret, kvs, hub)

	disk, err := storage.NewLocal(t.TempDir(), "http://localhost/storage")
	require.NoError(t, err)

	idGen := uuidGenerator{}
	clock := realClock{}
	carts := usecase.NewCartUsecase(kvs, store.Products(), time.Hour)
	checkout := usecase.NewCheckoutUsecase(usecase.CheckoutDeps{
		Tx: store, Repos: store, Carts: carts, Gate: identity.ContextGate{},
		Catalog: kvs, IDGen: idGen, Clock: clock, Mode: mode,
	})
	products := usecase.NewProductUsecase(store, store.Products(), kvs, disk, idGen, clock, time.Minute)
	policy := admins{"admin@example.com"}

	e := New(Options{
		Handlers: Handlers{
			Products:      handler.NewProductHandler(products),
			Cart:          handler.NewCartHandler(carts),
			Orders:        handler.NewOrderHandler(usecase.NewOrderUsecase(store, identity.ContextGate{}), checkout),
			Auth:          handler.NewAuthHandler(verifier, verifier, policy),
			AdminProducts: handler.NewAdminProductHandler(products),
			AdminOrders:   handler.NewAdminOrderHandler(usecase.NewAdminOrderUsecase(store, kvs, idGen, clock)),
			AdminAudit:    handler.NewAdminAuditHandler(usecase.NewAuditLogUsecase(store.AuditLogs())),
		},
		Verifier:   verifier,
		Admins:     policy,
		StaticRoot: disk.Root(),
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, hub: hub}
}

func token(t *testing.T, id, email string) string {
	t.Helper()
	raw, err := identity.Issue(testSecret, identity.Identity{ID: id, Email: email}, time.Hour, time.Now())
	require.NoError(t, err)
	return raw
}

type request struct {
	method  string
	path    string
	bearer  string
	session string
	body    any
}

func (env *testEnv) do(t *testing.T, r request) (*http.Response, []byte) {
	t.Helper()

	var reqBody io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(context.Background(), r.method, env.srv.URL+r.path, reqBody)
	require.NoError(t, err)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}
	if r.session != "" {
		req.Header.Set(handler.CartSessionHeader, r.session)
	}

	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func requireStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equal(t, want, resp.StatusCode, "body=%s", string(body))
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), "body=%s", string(body))
	return v
}

func TestCheckoutFlow(t *testing.T) {
	env := newTestEnv(t, usecase.CommitTx)
	env.store.SeedProduct(model.Product{ID: "p-laptop", Name: "Laptop", Price: 99999, Stock: 5})
	alice := token(t, "u1", "alice@example.com")

	resp, body := env.do(t, request{method: http.MethodPost, path: "/cart", session: "s1",
		body: handler.AddCartRequest{ProductID: "p-laptop", Quantity: 2}})
	requireStatus(t, resp, http.StatusOK, body)
	cart := decode[usecase.CartResponse](t, body)
	assert.Equal(t, "1999.98", cart.TotalFormatted)

	// 未サインインでは注文できず、カートは残る
	resp, body = env.do(t, request{method: http.MethodPost, path: "/checkout", session: "s1"})
	requireStatus(t, resp, http.StatusUnauthorized, body)
	assert.Equal(t, "please sign in to checkout", decode[handler.ErrorResponse](t, body).Error)

	resp, body = env.do(t, request{method: http.MethodPost, path: "/checkout", session: "s1", bearer: alice})
	requireStatus(t, resp, http.StatusCreated, body)
	order := decode[usecase.OrderOutput](t, body)
	assert.Equal(t, int64(199998), order.TotalPrice)
	assert.Len(t, order.ShortID, 8)
	assert.Equal(t, int64(3), env.store.StockOf("p-laptop"))

	resp, body = env.do(t, request{method: http.MethodGet, path: "/cart", session: "s1"})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Empty(t, decode[usecase.CartResponse](t, body).Items)

	// 履歴
	resp, body = env.do(t, request{method: http.MethodGet, path: "/orders", bearer: alice})
	requireStatus(t, resp, http.StatusOK, body)
	list := decode[usecase.OrderListOutput](t, body)
	require.Len(t, list.Items, 1)
	assert.Equal(t, order.ID, list.Items[0].ID)

	resp, body = env.do(t, request{method: http.MethodGet, path: "/orders/" + order.ID, bearer: token(t, "u2", "bob@example.com")})
	requireStatus(t, resp, http.StatusNotFound, body)

	// 空のカート
	resp, body = env.do(t, request{method: http.MethodPost, path: "/checkout", session: "s1", bearer: alice})
	requireStatus(t, resp, http.StatusBadRequest, body)
	assert.Equal(t, "cart is empty", decode[handler.ErrorResponse](t, body).Error)
}

func TestCheckout_InsufficientStockIs409(t *testing.T) {
	env := newTestEnv(t, usecase.CommitSaga)
	env.store.SeedProduct(model.Product{ID: "p-mouse", Name: "Mouse", Price: 1999, Stock: 3})

	resp, body := env.do(t, request{method: http.MethodPost, path: "/cart", session: "s1",
		body: handler.AddCartRequest{ProductID: "p-mouse", Quantity: 3}})
	requireStatus(t, resp, http.StatusOK, body)

	env.store.SeedProduct(model.Product{ID: "p-mouse", Name: "Mouse", Price: 1999, Stock: 1})

	resp, body = env.do(t, request{method: http.MethodPost, path: "/checkout", session: "s1", bearer: token(t, "u1", "a@example.com")})
	requireStatus(t, resp, http.StatusConflict, body)
	assert.Equal(t, "insufficient stock: Mouse", decode[handler.ErrorResponse](t, body).Error)
	assert.Empty(t, env.store.AllOrders())
}

func TestCart_RequiresSession(t *testing.T) {
	env := newTestEnv(t, usecase.CommitTx)

	resp, body := env.do(t, request{method: http.MethodGet, path: "/cart"})
	requireStatus(t, resp, http.StatusBadRequest, body)

	resp, body = env.do(t, request{method: http.MethodPatch, path: "/cart/items/x", session: "s1", body: handler.UpdateCartItemRequest{Quantity: 1}})
	requireStatus(t, resp, http.StatusBadRequest, body)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t, usecase.CommitTx)
	create := handler.ProductCreateRequest{Name: "Desk", Price: "149.50", Stock: 4, Category: "furniture"}

	resp, body := env.do(t, request{method: http.MethodPost, path: "/admin/products", body: create})
	requireStatus(t, resp, http.StatusUnauthorized, body)

	resp, body = env.do(t, request{method: http.MethodPost, path: "/admin/products", body: create, bearer: token(t, "u1", "alice@example.com")})
	requireStatus(t, resp, http.StatusForbidden, body)

	admin := token(t, "a1", "admin@example.com")
	resp, body = env.do(t, request{method: http.MethodPost, path: "/admin/products", body: create, bearer: admin})
	requireStatus(t, resp, http.StatusCreated, body)
	p := decode[usecase.ProductOutput](t, body)
	assert.Equal(t, int64(14950), p.Price)

	resp, body = env.do(t, request{method: http.MethodGet, path: "/products?category=furniture"})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Len(t, decode[usecase.ProductListOutput](t, body).Items, 1)

	resp, body = env.do(t, request{method: http.MethodPut, path: "/admin/inventory/" + p.ID, bearer: admin,
		body: handler.InventoryUpdateRequest{Stock: 9, Reason: "recount"}})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Equal(t, int64(9), env.store.StockOf(p.ID))
}

func TestAdminOrderStatus(t *testing.T) {
	env := newTestEnv(t, usecase.CommitTx)
	env.store.SeedProduct(model.Product{ID: "p1", Name: "Lamp", Price: 2500, Stock: 2})
	alice := token(t, "u1", "alice@example.com")
	admin := token(t, "a1", "admin@example.com")

	resp, body := env.do(t, request{method: http.MethodPost, path: "/cart", session: "s1", body: handler.AddCartRequest{ProductID: "p1", Quantity: 2}})
	requireStatus(t, resp, http.StatusOK, body)
	resp, body = env.do(t, request{method: http.MethodPost, path: "/checkout", session: "s1", bearer: alice})
	requireStatus(t, resp, http.StatusCreated, body)
	order := decode[usecase.OrderOutput](t, body)
	assert.Equal(t, int64(0), env.store.StockOf("p1"))

	resp, body = env.do(t, request{method: http.MethodGet, path: "/admin/orders?status=pending&from=bad", bearer: admin})
	requireStatus(t, resp, http.StatusBadRequest, body)

	resp, body = env.do(t, request{method: http.MethodGet, path: "/admin/orders?status=pending", bearer: admin})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Len(t, decode[usecase.OrderListOutput](t, body).Items, 1)

	resp, body = env.do(t, request{method: http.MethodPut, path: "/admin/orders/" + order.ID + "/status", bearer: admin,
		body: handler.OrderStatusUpdateRequest{Status: "cancelled"}})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Equal(t, int64(2), env.store.StockOf("p1"))

	// 監査ログ
	resp, body = env.do(t, request{method: http.MethodGet, path: "/admin/audit-logs?resource_type=order&actor_user_id=a1", bearer: admin})
	requireStatus(t, resp, http.StatusOK, body)
	logs := decode[usecase.AuditLogListOutput](t, body)
	require.Len(t, logs.Items, 1)
	assert.Equal(t, order.ID, logs.Items[0].ResourceID)
	assert.Equal(t, model.AuditActionUpdateOrderStatus, logs.Items[0].Action)
	assert.Contains(t, logs.Items[0].AfterJSON, "cancelled")

	resp, body = env.do(t, request{method: http.MethodGet, path: "/admin/audit-logs?action=nope", bearer: admin})
	requireStatus(t, resp, http.StatusBadRequest, body)

	resp, body = env.do(t, request{method: http.MethodGet, path: "/admin/audit-logs", bearer: alice})
	requireStatus(t, resp, http.StatusForbidden, body)
}

func TestSignOutRevokesToken(t *testing.T) {
	env := newTestEnv(t, usecase.CommitTx)
	events, cancel := env.hub.Subscribe(4)
	defer cancel()
	alice := token(t, "u1", "alice@example.com")

	resp, body := env.do(t, request{method: http.MethodGet, path: "/auth/me", bearer: alice})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Contains(t, string(body), `"email":"alice@example.com"`)

	resp, body = env.do(t, request{method: http.MethodPost, path: "/auth/signout", bearer: alice})
	requireStatus(t, resp, http.StatusNoContent, body)

	resp, body = env.do(t, request{method: http.MethodGet, path: "/auth/me", bearer: alice})
	requireStatus(t, resp, http.StatusUnauthorized, body)

	signedIn := <-events
	require.NotNil(t, signedIn.Identity)
	assert.Equal(t, "u1", signedIn.Identity.ID)
	signedOut := <-events
	assert.Nil(t, signedOut.Identity)
}

func TestUploadImageServesFromLocalDisk(t *testing.T) {
	env := newTestEnv(t, usecase.CommitTx)
	env.store.SeedProduct(model.Product{ID: "p1", Name: "Lamp", Price: 2500, Stock: 2})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="lamp.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/admin/products/p1/image", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, "a1", "admin@example.com"))
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	requireStatus(t, resp, http.StatusOK, body)

	p := decode[usecase.ProductOutput](t, body)
	require.True(t, strings.HasPrefix(p.ImageURL, "http://localhost/storage/products/"), p.ImageURL)

	// /storage 配下で配信される
	path := strings.TrimPrefix(p.ImageURL, "http://localhost")
	got, err := env.srv.Client().Get(env.srv.URL + path)
	require.NoError(t, err)
	defer got.Body.Close()
	data, _ := io.ReadAll(got.Body)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "\x89PNG fake", string(data))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, usecase.CommitTx)

	resp, body := env.do(t, request{method: http.MethodGet, path: "/healthz"})
	requireStatus(t, resp, http.StatusOK, body)

	resp, body = env.do(t, request{method: http.MethodGet, path: "/metrics"})
	requireStatus(t, resp, http.StatusOK, body)
	assert.Contains(t, string(body), "storefront_http_requests_total")
}
