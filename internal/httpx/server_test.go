package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace/internal/inventory"
	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/ariefcatur/go-marketplace/internal/query"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/ariefcatur/go-marketplace/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	store := orders.NewMemoryRepo(orders.MemoryOptions{LockAttempts: 10, LockAttemptWait: 10 * time.Millisecond})
	kv := redisx.NewMemory()
	disk, err := storage.NewLocalDisk(t.TempDir(), "/uploads")
	require.NoError(t, err)

	h := &Handlers{
		Inventory: &inventory.Service{Store: store, KV: kv, Producer: kafkax.Discard{}, Images: disk, ServiceName: "test"},
		Query:     &query.Service{Store: store, KV: kv},
	}
	r := NewRouter("http://localhost:5173")
	h.Register(r)
	ServeUploads(r, "/uploads", disk.Root)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createProduct(t *testing.T, h http.Handler, seller string, qty int) orders.Product {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/products", map[string]any{
		"seller_id": seller, "name": "Widget", "price": 9.99, "quantity": qty, "description": "x",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[orders.Product](t, rec)
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodOptions, "/api/products", nil,
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Content-Type, Idempotency-Key")
	assert.Less(t, rec.Code, 300, rec.Body.String())
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "idempotency-key")

	rec = do(t, h, http.MethodGet, "/api/products", nil, "Origin", "http://localhost:5173")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/api/products", nil, "Origin", "http://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPanicCountedAs500(t *testing.T) {
	r := NewRouter()
	r.Get("/boom-handler", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := do(t, r, http.MethodGet, "/boom-handler", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `marketplace_http_requests_total{method="GET",route="/boom-handler",status="500"} 1`)
}

func TestCreateAndListProducts(t *testing.T) {
	h := newTestServer(t)
	p := createProduct(t, h, "1", 5)
	assert.Equal(t, "1", p.OwnerID)

	for _, path := range []string{"/products", "/api/products"} {
		rec := do(t, h, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"price":9.99`)
		list := decode[[]orders.Product](t, rec)
		require.Len(t, list, 1)
		assert.Equal(t, p.ID, list[0].ID)
	}

	rec := do(t, h, http.MethodGet, "/products/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/products/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateProductValidation(t *testing.T) {
	h := newTestServer(t)
	cases := []map[string]any{
		{"name": "A", "price": 1, "quantity": 1},
		{"seller_id": "1", "name": "A", "price": -1, "quantity": 1},
		{"seller_id": "1", "name": "A", "price": 0, "quantity": 1},
		{"seller_id": "1", "name": "   ", "price": 1, "quantity": 1},
		{"seller_id": "1", "name": "A", "price": 1, "quantity": -2},
		{"seller_id": "1", "name": "A", "price": 0.001, "quantity": 1},
		{"seller_id": "1", "name": "A", "price": "9.999", "quantity": 1},
	}
	for _, body := range cases {
		rec := do(t, h, http.MethodPost, "/products", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%v", body)
		assert.Equal(t, "validation_error", decode[errorBody](t, rec).Kind)
	}
	rec := do(t, h, http.MethodGet, "/products", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreateProductMultipart(t *testing.T) {
	h := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"seller_id": "7", "name": "Lamp", "price": "12.50", "quantity": "3", "description": "warm"} {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("image", "lamp.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("fake png"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/products", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	p := decode[orders.Product](t, rec)
	assert.Equal(t, "Lamp", p.Name)
	assert.Equal(t, 3, p.Quantity)
	require.NotNil(t, p.ImageRef)
	assert.True(t, strings.HasPrefix(*p.ImageRef, "/uploads/"))

	img := do(t, h, http.MethodGet, *p.ImageRef, nil)
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "fake png", img.Body.String())
}

func TestPlaceOrderStatusCodes(t *testing.T) {
	h := newTestServer(t)
	p := createProduct(t, h, "1", 3)

	rec := do(t, h, http.MethodPost, "/api/orders", map[string]any{
		"buyer_id": 2, "seller_id": 1, "product_id": p.ID, "quantity": 2, "price": 0.01,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode[orders.Order](t, rec)
	assert.Equal(t, "2", o.BuyerID)
	assert.Equal(t, "1", o.SellerID)
	assert.True(t, o.Price.Equal(p.Price), "client price is ignored")
	assert.Equal(t, orders.StatusPending, o.Status)

	cases := []struct {
		name string
		body map[string]any
		code int
		kind string
	}{
		{"insufficient", map[string]any{"buyer_id": "2", "product_id": p.ID, "quantity": 2}, http.StatusBadRequest, "insufficient_stock"},
		{"self trade", map[string]any{"buyer_id": "1", "product_id": p.ID, "quantity": 1}, http.StatusForbidden, "self_trade"},
		{"unknown product", map[string]any{"buyer_id": "2", "product_id": "nope", "quantity": 1}, http.StatusNotFound, "not_found"},
		{"zero quantity", map[string]any{"buyer_id": "2", "product_id": p.ID, "quantity": 0}, http.StatusBadRequest, "validation_error"},
		{"missing buyer", map[string]any{"product_id": p.ID, "quantity": 1}, http.StatusBadRequest, "validation_error"},
		{"missing quantity", map[string]any{"buyer_id": "2", "product_id": p.ID}, http.StatusBadRequest, "validation_error"},
		{"seller mismatch", map[string]any{"buyer_id": "2", "seller_id": "9", "product_id": p.ID, "quantity": 1}, http.StatusBadRequest, "validation_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/orders", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.kind, decode[errorBody](t, rec).Kind)
		})
	}

	got := decode[orders.Product](t, do(t, h, http.MethodGet, "/products/"+p.ID, nil))
	assert.Equal(t, 1, got.Quantity)
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	h := newTestServer(t)
	p := createProduct(t, h, "1", 3)
	body := map[string]any{"buyer_id": "2", "product_id": p.ID, "quantity": 1}

	first := do(t, h, http.MethodPost, "/orders", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	second := do(t, h, http.MethodPost, "/orders", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode[orders.Order](t, first).ID, decode[orders.Order](t, second).ID)

	got := decode[orders.Product](t, do(t, h, http.MethodGet, "/products/"+p.ID, nil))
	assert.Equal(t, 2, got.Quantity)
}

func TestListOrdersForUser(t *testing.T) {
	h := newTestServer(t)
	p := createProduct(t, h, "1", 5)
	q := createProduct(t, h, "3", 5)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", map[string]any{"buyer_id": "2", "product_id": p.ID, "quantity": 1}).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", map[string]any{"buyer_id": "2", "product_id": q.ID, "quantity": 2}).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", map[string]any{"buyer_id": "4", "product_id": q.ID, "quantity": 1}).Code)

	views := decode[[]query.OrderView](t, do(t, h, http.MethodGet, "/api/orders?userId=2", nil))
	require.Len(t, views, 2)
	assert.Equal(t, q.ID, views[0].ProductID, "newest first")
	require.NotNil(t, views[0].Product)
	assert.Equal(t, "Widget", views[0].Product.Name)

	assert.Len(t, decode[[]query.OrderView](t, do(t, h, http.MethodGet, "/orders?userId=3", nil)), 2)
	assert.Len(t, decode[[]query.OrderView](t, do(t, h, http.MethodGet, "/orders", nil)), 3)
	assert.Empty(t, decode[[]query.OrderView](t, do(t, h, http.MethodGet, "/orders?userId=99", nil)))
}

func TestOrderStatusAndRestock(t *testing.T) {
	h := newTestServer(t)
	p := createProduct(t, h, "1", 2)
	o := decode[orders.Order](t, do(t, h, http.MethodPost, "/orders", map[string]any{"buyer_id": "2", "product_id": p.ID, "quantity": 2}))

	rec := do(t, h, http.MethodPatch, "/orders/"+o.ID+"/status", map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusCancelled, decode[orders.Order](t, rec).Status)

	rec = do(t, h, http.MethodPatch, "/orders/"+o.ID+"/status", map[string]any{"status": "Completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPatch, "/orders/"+o.ID+"/status", map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPatch, "/orders/missing/status", map[string]any{"status": "Completed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/products/"+p.ID+"/restock", map[string]any{"delta": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[orders.Product](t, rec).Quantity)

	rec = do(t, h, http.MethodPost, "/products/"+p.ID+"/restock", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProduct(t *testing.T) {
	h := newTestServer(t)
	p := createProduct(t, h, "1", 2)

	rec := do(t, h, http.MethodPut, "/api/products/"+p.ID, map[string]any{"price": "4.20", "quantity": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[orders.Product](t, rec)
	assert.Equal(t, "Widget", got.Name)
	assert.Equal(t, 7, got.Quantity)
	assert.Equal(t, "4.2", got.Price.String())

	rec = do(t, h, http.MethodPut, "/products/"+p.ID, map[string]any{"quantity": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, "/products/nope", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		msg  string
	}{
		{orders.Errorf(orders.KindContention, "busy"), http.StatusServiceUnavailable, "busy"},
		{errors.New("dial tcp: refused"), http.StatusInternalServerError, "internal server error"},
		{orders.Errorf(orders.KindSelfTrade, "own product"), http.StatusForbidden, "own product"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.code, rec.Code)
		assert.Equal(t, tc.msg, decode[errorBody](t, rec).Error)
	}

	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), orders.Errorf(orders.KindContention, "busy"))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
