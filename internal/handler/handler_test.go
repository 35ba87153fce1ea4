package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/session"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products []product.Product
	listErr  error
	getErr   error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return m.products, m.listErr
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, p := range m.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

type memBlobStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	deleteErr error
}

func (m *memBlobStore) Save(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = blob
	return nil
}

func (m *memBlobStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, auth.ErrNoBlob
	}
	return b, nil
}

func (m *memBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.blobs, key)
	return nil
}

// --- Helpers ---

func testProducts() []product.Product {
	return []product.Product{
		{
			ID:        "1",
			Title:     "Essence Mascara Lash Princess",
			Category:  "beauty",
			Brand:     "Essence",
			Price:     decimal.RequireFromString("9.99"),
			Rating:    4.94,
			Stock:     5,
			Thumbnail: "/products/1/thumbnail.png",
			Images:    []string{"https://cdn.example.com/1.png"},
		},
		{
			ID:       "2",
			Title:    "Eyeshadow Palette with Mirror",
			Category: "beauty",
			Price:    decimal.RequireFromString("19.99"),
			Stock:    1,
		},
		{
			ID:       "3",
			Title:    "Red Nail Polish",
			Category: "beauty",
			Price:    decimal.RequireFromString("8.99"),
			Stock:    0,
		},
	}
}

type testEnv struct {
	repo    *mockProductRepo
	blobs   *memBlobStore
	server  *httptest.Server
	session string
}

func newTestEnv(t *testing.T, cfg Config, wrap ...func(h *Handler) http.Handler) *testEnv {
	t.Helper()

	repo := &mockProductRepo{products: testProducts()}
	blobs := &memBlobStore{blobs: map[string][]byte{}}
	mgr, err := session.NewManager(session.Config{}, blobs, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = "https://img.example.com"
	}
	h, err := New(cfg, repo, mgr, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	var root http.Handler
	if len(wrap) > 0 {
		root = wrap[0](h)
	} else {
		root = h.Router()
	}
	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)

	return &testEnv{repo: repo, blobs: blobs, server: srv, session: uuid.NewString()}
}

type response struct {
	status int
	header http.Header
	body   map[string]any
	raw    string
}

func (e *testEnv) do(t *testing.T, method, path, body string) response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SessionHeader, e.session)

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))

	out := response{status: resp.StatusCode, header: resp.Header, raw: string(raw)}
	_ = json.Unmarshal(raw, &out.body)
	return out
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/auth/login", `{"email":"emily@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
}

func listItems(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	raw, ok := body["items"].([]any)
	require.True(t, ok, "items missing")
	out := make([]map[string]any, 0, len(raw))
	for _, it := range raw {
		out = append(out, it.(map[string]any))
	}
	return out
}

// --- Tests ---

func TestSession_EchoedBack(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodGet, "/api/wishlist", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, env.session, resp.header.Get(SessionHeader))

	var cookie *http.Cookie
	for _, c := range (&http.Response{Header: resp.header}).Cookies() {
		if c.Name == "sf_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, env.session, cookie.Value)
	assert.True(t, cookie.HttpOnly)
}

func TestRouter_RequestLogCarriesSession(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	env := newTestEnv(t, Config{}, func(h *Handler) http.Handler {
		return httpmiddleware.InjectLogger(zap.New(core))(
			h.Router(httpmiddleware.LogRequests(httpmiddleware.ChiRoute)),
		)
	})

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/products/1", "").status)

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, env.session, fields["session_id"])
	assert.Equal(t, "/api/products/{id}", fields["route"])
}

func TestSession_InvalidIDReplaced(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.session = "not-a-uuid"

	resp := env.do(t, http.MethodGet, "/api/auth/me", "")
	require.Equal(t, http.StatusOK, resp.status)

	_, err := uuid.Parse(resp.header.Get(SessionHeader))
	assert.NoError(t, err)
}

func TestListProducts(t *testing.T) {
	env := newTestEnv(t, Config{})

	t.Run("all", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/products", "")
		require.Equal(t, http.StatusOK, resp.status)

		var products []map[string]any
		require.NoError(t, json.Unmarshal([]byte(resp.raw), &products))
		require.Len(t, products, 3)

		first := products[0]
		assert.Equal(t, "1", first["id"])
		assert.Equal(t, 9.99, first["price"])
		assert.Equal(t, "Essence", first["brand"])
		assert.Equal(t, true, first["inStock"])
		assert.Equal(t, "https://img.example.com/products/1/thumbnail.png", first["thumbnail"])
		assert.Equal(t, []any{"https://cdn.example.com/1.png"}, first["images"])

		assert.NotContains(t, products[1], "brand")
		assert.NotContains(t, products[1], "rating")
		assert.Equal(t, false, products[2]["inStock"])
	})

	t.Run("search by title", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/products?q=PALETTE", "")
		require.Equal(t, http.StatusOK, resp.status)

		var products []map[string]any
		require.NoError(t, json.Unmarshal([]byte(resp.raw), &products))
		require.Len(t, products, 1)
		assert.Equal(t, "2", products[0]["id"])
	})

	t.Run("no match", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/products?q=laptop", "")
		require.Equal(t, http.StatusOK, resp.status)
		assert.JSONEq(t, `[]`, resp.raw)
	})
}

func TestListProducts_CatalogDown(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.repo.listErr = errors.New("connection refused")

	resp := env.do(t, http.MethodGet, "/api/products", "")
	assert.Equal(t, http.StatusBadGateway, resp.status)
	assert.Equal(t, "product catalog unavailable", resp.body["message"])
}

func TestGetProduct(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		login      bool
		id         string
		getErr     error
		wantStatus int
	}{
		{name: "found", id: "2", wantStatus: http.StatusOK},
		{name: "not found", id: "99", wantStatus: http.StatusNotFound},
		{name: "catalog failure", id: "1", getErr: errors.New("timeout"), wantStatus: http.StatusBadGateway},
		{name: "protected without login", cfg: Config{ProtectDetail: true}, id: "1", wantStatus: http.StatusUnauthorized},
		{name: "protected with login", cfg: Config{ProtectDetail: true}, login: true, id: "1", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.cfg)
			if tt.login {
				env.login(t)
			}
			env.repo.getErr = tt.getErr

			resp := env.do(t, http.MethodGet, "/api/products/"+tt.id, "")
			require.Equal(t, tt.wantStatus, resp.status, resp.raw)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.id, resp.body["id"])
			}
		})
	}
}

func TestCart_RequiresLogin(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/cart", ""},
		{http.MethodPost, "/api/cart/items", `{"productId":"1"}`},
		{http.MethodPut, "/api/cart/items/1", `{"quantity":2}`},
		{http.MethodDelete, "/api/cart/items/1", ""},
	} {
		resp := env.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusUnauthorized, resp.status, "%s %s", tc.method, tc.path)
		assert.Equal(t, "login required", resp.body["message"])
	}
}

func TestCart_Lifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.login(t)

	resp := env.do(t, http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"items":[],"total":0,"totalPrice":0.00}`, resp.raw)

	// Numeric ids are accepted as well as strings.
	resp = env.do(t, http.MethodPost, "/api/cart/items", `{"productId":1}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	resp = env.do(t, http.MethodPost, "/api/cart/items", `{"productId":"1"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)

	items := listItems(t, resp.body)
	require.Len(t, items, 1)
	assert.Equal(t, float64(2), items[0]["quantity"])
	assert.Equal(t, 19.98, items[0]["subtotal"])
	assert.Equal(t, float64(2), resp.body["total"])

	resp = env.do(t, http.MethodPost, "/api/cart/items", `{"productId":"2"}`)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, float64(3), resp.body["total"])
	assert.Equal(t, 39.97, resp.body["totalPrice"])

	resp = env.do(t, http.MethodPut, "/api/cart/items/1", `{"quantity":5}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	assert.Equal(t, float64(6), resp.body["total"])

	resp = env.do(t, http.MethodDelete, "/api/cart/items/1", "")
	require.Equal(t, http.StatusOK, resp.status)
	items = listItems(t, resp.body)
	require.Len(t, items, 1)
	assert.Equal(t, "2", items[0]["product"].(map[string]any)["id"])

	// Zero quantity removes the entry.
	resp = env.do(t, http.MethodPut, "/api/cart/items/2", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Empty(t, listItems(t, resp.body))
}

func TestCart_Errors(t *testing.T) {
	tests := []struct {
		name        string
		setup       []string
		method      string
		path        string
		body        string
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "add beyond stock",
			setup:       []string{`{"productId":"2"}`},
			method:      http.MethodPost,
			path:        "/api/cart/items",
			body:        `{"productId":"2"}`,
			wantStatus:  http.StatusConflict,
			wantMessage: "quantity exceeds available stock",
		},
		{
			name:        "add out of stock product",
			method:      http.MethodPost,
			path:        "/api/cart/items",
			body:        `{"productId":"3"}`,
			wantStatus:  http.StatusConflict,
			wantMessage: "quantity exceeds available stock",
		},
		{
			name:        "update beyond stock",
			setup:       []string{`{"productId":"1"}`},
			method:      http.MethodPut,
			path:        "/api/cart/items/1",
			body:        `{"quantity":6}`,
			wantStatus:  http.StatusConflict,
			wantMessage: "quantity exceeds available stock",
		},
		{
			name:        "update missing entry",
			method:      http.MethodPut,
			path:        "/api/cart/items/1",
			body:        `{"quantity":2}`,
			wantStatus:  http.StatusNotFound,
			wantMessage: "product not in cart",
		},
		{
			name:        "add unknown product",
			method:      http.MethodPost,
			path:        "/api/cart/items",
			body:        `{"productId":"42"}`,
			wantStatus:  http.StatusNotFound,
			wantMessage: "product not found",
		},
		{
			name:        "missing product id",
			method:      http.MethodPost,
			path:        "/api/cart/items",
			body:        `{"quantity":1}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "productId is required",
		},
		{
			name:        "malformed body",
			method:      http.MethodPost,
			path:        "/api/cart/items",
			body:        `{"productId":`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "malformed request body",
		},
		{
			name:        "empty body",
			method:      http.MethodPut,
			path:        "/api/cart/items/1",
			wantStatus:  http.StatusBadRequest,
			wantMessage: "request body is required",
		},
		{
			name:        "missing quantity",
			method:      http.MethodPut,
			path:        "/api/cart/items/1",
			body:        `{}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "quantity is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			env.login(t)
			for _, body := range tt.setup {
				require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/cart/items", body).status)
			}

			resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.status, resp.raw)
			assert.Equal(t, tt.wantMessage, resp.body["message"])
		})
	}
}

func TestCart_SurvivesLogoutLogin(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.login(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/cart/items", `{"productId":"1"}`).status)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/auth/logout", "").status)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/cart", "").status)

	env.login(t)
	resp := env.do(t, http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Len(t, listItems(t, resp.body), 1)
}

func TestWishlist(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodPost, "/api/wishlist", `{"productId":"1"}`)
	require.Equal(t, http.StatusCreated, resp.status, resp.raw)
	assert.Equal(t, float64(1), resp.body["count"])

	item := listItems(t, resp.body)[0]
	assert.Equal(t, "1", item["id"])
	assert.Equal(t, "Essence Mascara Lash Princess", item["title"])
	assert.Equal(t, 9.99, item["price"])
	assert.Equal(t, "https://img.example.com/products/1/thumbnail.png", item["image"])

	resp = env.do(t, http.MethodPost, "/api/wishlist", `{"productId":"1"}`)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, float64(1), resp.body["count"])

	resp = env.do(t, http.MethodPost, "/api/wishlist", `{"productId":"3"}`)
	require.Equal(t, http.StatusCreated, resp.status)
	assert.Equal(t, float64(2), resp.body["count"])

	resp = env.do(t, http.MethodDelete, "/api/wishlist/1", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, float64(1), resp.body["count"])

	// Removing an absent id changes nothing.
	resp = env.do(t, http.MethodDelete, "/api/wishlist/1", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, float64(1), resp.body["count"])

	resp = env.do(t, http.MethodDelete, "/api/wishlist", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"items":[],"count":0}`, resp.raw)
}

func TestWishlist_UnknownProduct(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodPost, "/api/wishlist", `{"productId":"404"}`)
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = env.do(t, http.MethodGet, "/api/wishlist", "")
	assert.Equal(t, float64(0), resp.body["count"])
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodGet, "/api/auth/me", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"authenticated":false,"user":null}`, resp.raw)

	resp = env.do(t, http.MethodPost, "/api/auth/register",
		`{"username":"emilys","email":"emily@example.com","password":"pw","confirmPassword":"pw","address":"1 Main St"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	assert.Equal(t, true, resp.body["authenticated"])
	user := resp.body["user"].(map[string]any)
	assert.Equal(t, "emilys", user["username"])
	assert.Equal(t, "emily@example.com", user["email"])

	resp = env.do(t, http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, true, resp.body["authenticated"])

	resp = env.do(t, http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"authenticated":false,"user":null}`, resp.raw)
}

func TestAuth_LogoutFailureKeepsSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.login(t)
	env.blobs.mu.Lock()
	env.blobs.deleteErr = errors.New("database unavailable")
	env.blobs.mu.Unlock()

	resp := env.do(t, http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusInternalServerError, resp.status)

	resp = env.do(t, http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, true, resp.body["authenticated"])
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/cart", "").status)
}

func TestAuth_LoginDerivesUsername(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodPost, "/api/auth/login", `{"email":" jane.doe@example.com ","password":"secret1"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	user := resp.body["user"].(map[string]any)
	assert.Equal(t, "jane.doe", user["username"])
}

func TestAuth_Validation(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantFields map[string]any
	}{
		{
			name: "login empty",
			path: "/api/auth/login",
			body: `{"email":"","password":""}`,
			wantFields: map[string]any{
				"email":    "Email is required",
				"password": "Password is required",
			},
		},
		{
			name: "login short password",
			path: "/api/auth/login",
			body: `{"email":"a@b.co","password":"12345"}`,
			wantFields: map[string]any{
				"password": "Password must be at least 6 characters",
			},
		},
		{
			name: "register mismatch",
			path: "/api/auth/register",
			body: `{"username":"u","email":"bad","password":"a","confirmPassword":"b"}`,
			wantFields: map[string]any{
				"email":           "Invalid email format",
				"confirmPassword": "Passwords do not match",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})

			resp := env.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, resp.status, resp.raw)
			assert.Equal(t, "validation failed", resp.body["message"])
			assert.Equal(t, tt.wantFields, resp.body["fields"])

			me := env.do(t, http.MethodGet, "/api/auth/me", "")
			assert.Equal(t, false, me.body["authenticated"])
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodGet, "/api/orders", "")
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "not found", resp.body["message"])

	resp = env.do(t, http.MethodPatch, "/api/wishlist", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.status)
}
