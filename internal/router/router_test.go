package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/megamart/internal/checkout"
	"julianmorley.ca/con-plar/megamart/internal/webhook"
	"julianmorley.ca/con-plar/megamart/pkg/cart"
	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/logger"
	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/payment"
	"julianmorley.ca/con-plar/megamart/pkg/redis"
	"julianmorley.ca/con-plar/megamart/pkg/store"
	"julianmorley.ca/con-plar/megamart/pkg/store/memstore"
)

const (
	adminToken = "test-admin-token"
	guest      = "guest-session-0001"
)

type nopPublisher struct{}

func (nopPublisher) Publish(models.OrderEvent) bool { return true }

// unreachableOrders fails every order read as a lost connection.
type unreachableOrders struct {
	store.Orders
}

func (unreachableOrders) GetOrder(context.Context, int64) (models.Order, []models.OrderLine, error) {
	return models.Order{}, nil, store.Transient("get order", errors.New("connection reset"))
}

type envelope struct {
	Success bool                     `json:"success"`
	Data    json.RawMessage          `json:"data"`
	Message string                   `json:"message"`
	Errors  []global.ValidationError `json:"errors"`
}

type testServer struct {
	engine *gin.Engine
	store  *memstore.Store
}

func newServer(t *testing.T, mutate func(cfg *global.Config, deps *Deps)) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.Nop()
	st := memstore.New(time.Second)
	carts := cart.NewService(st, redis.NewCarts(client, time.Hour), redis.NewSessions(client, time.Hour), log)

	cfg := global.DefaultConfig()
	cfg.Env = "production"
	cfg.AdminToken = adminToken
	cfg.WebhookAllowedCIDRs = []string{"192.0.2.0/24"}
	deps := Deps{
		Store:    st,
		Carts:    carts,
		Checkout: checkout.NewService(st, payment.Offline{ReturnURL: "https://shop.test/orders/{order_id}"}, nopPublisher{}, log, checkout.Config{MaxAttempts: 3}),
		Webhook:  webhook.NewHandler(st, nopPublisher{}, log),
		Logger:   log,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	engine, err := NewEngine(cfg, deps)
	require.NoError(t, err)
	return &testServer{engine: engine, store: st}
}

func (s *testServer) do(t *testing.T, method, path, session string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (s *testServer) createProduct(t *testing.T, sku, price string, stock int) models.Product {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/admin/products", "", map[string]interface{}{
		"sku": sku, "name": "Product " + sku, "price": price, "stock_quantity": stock,
	}, adminHeader, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var p models.Product
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestSessionHeaderRequired(t *testing.T) {
	s := newServer(t, nil)

	w, env := s.do(t, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "invalid_session", env.Errors[0].Code)

	w, _ = s.do(t, http.MethodGet, "/api/cart", "short", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newServer(t, nil)

	w, _ := s.do(t, http.MethodPost, "/api/admin/products", "", map[string]interface{}{"sku": "SKU-1", "name": "Kettle", "price": "10"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/admin/products", "", map[string]interface{}{"sku": "SKU-1", "name": "Kettle", "price": "10"},
		adminHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePromoValidatesValue(t *testing.T) {
	s := newServer(t, nil)

	w, env := s.do(t, http.MethodPost, "/api/admin/promos", "", map[string]interface{}{
		"code": "half", "discount_type": "percent", "value": "150", "max_uses": 10,
	}, adminHeader, adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "value", env.Errors[0].Field)

	w, _ = s.do(t, http.MethodPost, "/api/admin/promos", "", map[string]interface{}{
		"code": "half", "discount_type": "percent", "value": "50", "max_uses": 10,
	}, adminHeader, adminToken)
	assert.Equal(t, http.StatusCreated, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/admin/promos/HALF", "", nil, adminHeader, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	var promo models.PromoCode
	require.NoError(t, json.Unmarshal(env.Data, &promo))
	assert.Equal(t, "HALF", promo.Code)
	assert.True(t, promo.IsActive)
}

func TestGuestCheckoutThenWebhookMarksPaid(t *testing.T) {
	s := newServer(t, nil)
	p := s.createProduct(t, "SKU-1", "1000.00", 5)

	w, _ := s.do(t, http.MethodPost, "/api/cart/items", guest, map[string]interface{}{"product_id": p.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := s.do(t, http.MethodPost, "/api/checkout", guest, map[string]interface{}{"shipping_address": "1 Main St"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res checkoutResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, models.StatusPending, res.Order.Status)
	assert.Equal(t, paymentPending, res.PaymentStatus)
	assert.Equal(t, "https://shop.test/orders/"+strconv.FormatInt(res.Order.ID, 10), res.PaymentURL)
	assert.Equal(t, "2000", res.Order.FinalAmount.String())
	require.NotNil(t, res.Order.PaymentReference)

	product, err := s.store.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, product.StockQuantity)

	w, env = s.do(t, http.MethodGet, "/api/cart", guest, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.CartView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Empty(t, view.Items)

	hook := map[string]interface{}{
		"event": "payment.succeeded",
		"object": map[string]interface{}{
			"id":       *res.Order.PaymentReference,
			"metadata": map[string]interface{}{"order_id": strconv.FormatInt(res.Order.ID, 10)},
		},
	}
	for i := 0; i < 2; i++ {
		w, _ = s.do(t, http.MethodPost, "/api/payments/webhook", "", hook)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	}

	w, env = s.do(t, http.MethodGet, "/api/orders/"+strconv.FormatInt(res.Order.ID, 10), guest, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.OrderWithLines
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.StatusPaid, got.Order.Status)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 2, got.Lines[0].Quantity)

	w, _ = s.do(t, http.MethodPost, "/api/orders/"+strconv.FormatInt(res.Order.ID, 10)+"/pay", guest, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/orders/"+strconv.FormatInt(res.Order.ID, 10), "other-session-01", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutInsufficientStockIsConflict(t *testing.T) {
	s := newServer(t, nil)
	p := s.createProduct(t, "SKU-1", "10.00", 2)

	w, _ := s.do(t, http.MethodPost, "/api/cart/items", guest, map[string]interface{}{"product_id": p.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPut, "/api/admin/products/"+strconv.FormatInt(p.ID, 10)+"/stock", "",
		map[string]interface{}{"stock_quantity": 1}, adminHeader, adminToken)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(t, http.MethodPost, "/api/checkout", guest, map[string]interface{}{"shipping_address": "1 Main St"})
	assert.Equal(t, http.StatusConflict, w.Code)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "insufficient_stock", env.Errors[0].Code)

	product, err := s.store.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, product.StockQuantity)
}

func TestCheckoutValidation(t *testing.T) {
	s := newServer(t, nil)

	w, env := s.do(t, http.MethodPost, "/api/checkout", guest, map[string]interface{}{"shipping_address": "1 Main St"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "empty_cart", env.Errors[0].Code)

	w, env = s.do(t, http.MethodPost, "/api/checkout", guest, map[string]interface{}{"shipping_address": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "invalid_address", env.Errors[0].Code)
}

func TestLoginMergesSessionCart(t *testing.T) {
	s := newServer(t, nil)
	p := s.createProduct(t, "SKU-1", "10.00", 10)

	w, _ := s.do(t, http.MethodPost, "/api/auth/register", guest, map[string]interface{}{
		"email": "Ada@Example.com", "password": "correct-horse", "name": "Ada", "address": "2 Side St",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = s.do(t, http.MethodPost, "/api/auth/register", guest, map[string]interface{}{
		"email": "ada@example.com", "password": "another-pass", "name": "Ada",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/cart/items", guest, map[string]interface{}{"product_id": p.ID, "quantity": 3})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/auth/login", guest, map[string]interface{}{"email": "ada@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(t, http.MethodPost, "/api/auth/login", guest, map[string]interface{}{"email": "ada@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login loginResponse
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.Equal(t, 1, login.MergedLines)

	w, env = s.do(t, http.MethodGet, "/api/cart", guest, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.CartView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.AccountOwner(login.Account.ID).String(), view.Owner)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 3, view.Items[0].Quantity)

	// No address in the request falls back to the account's.
	w, env = s.do(t, http.MethodPost, "/api/checkout", guest, map[string]interface{}{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res checkoutResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "2 Side St", res.Order.ShippingAddress)

	w, _ = s.do(t, http.MethodPost, "/api/auth/logout", guest, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/orders/"+strconv.FormatInt(res.Order.ID, 10), guest, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookAcknowledgesUnlessTransient(t *testing.T) {
	s := newServer(t, nil)

	w, _ := s.do(t, http.MethodPost, "/api/payments/webhook", "", map[string]interface{}{"event": "payment.succeeded"})
	assert.Equal(t, http.StatusOK, w.Code)

	flaky := newServer(t, func(_ *global.Config, deps *Deps) {
		deps.Webhook = webhook.NewHandler(unreachableOrders{}, nopPublisher{}, deps.Logger)
	})
	w, _ = flaky.do(t, http.MethodPost, "/api/payments/webhook", "", map[string]interface{}{
		"event":  "payment.succeeded",
		"object": map[string]interface{}{"id": "pay_1", "metadata": map[string]interface{}{"order_id": 1}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"error"}`, w.Body.String())
}

func TestWebhookAllowList(t *testing.T) {
	s := newServer(t, func(cfg *global.Config, _ *Deps) {
		cfg.WebhookAllowedCIDRs = []string{"10.0.0.0/8"}
	})

	hook := map[string]interface{}{"event": "payment.succeeded"}

	// httptest requests come from 192.0.2.1.
	w, _ := s.do(t, http.MethodPost, "/api/payments/webhook", "", hook)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// A forged forwarding header from an untrusted peer is ignored.
	w, _ = s.do(t, http.MethodPost, "/api/payments/webhook", "", hook, "X-Forwarded-For", "10.1.2.3")
	assert.Equal(t, http.StatusForbidden, w.Code)

	behindProxy := newServer(t, func(cfg *global.Config, _ *Deps) {
		cfg.WebhookAllowedCIDRs = []string{"10.0.0.0/8"}
		cfg.TrustedProxies = []string{"192.0.2.1"}
	})
	w, _ = behindProxy.do(t, http.MethodPost, "/api/payments/webhook", "", hook, "X-Forwarded-For", "10.1.2.3")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = behindProxy.do(t, http.MethodPost, "/api/payments/webhook", "", hook)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err := NewEngine(global.Config{WebhookAllowedCIDRs: []string{"not-an-ip"}}, Deps{Logger: logger.Nop()})
	assert.Error(t, err)
	_, err = NewEngine(global.Config{TrustedProxies: []string{"not-an-ip"}}, Deps{Logger: logger.Nop()})
	assert.Error(t, err)
}

func TestProductionRequiresWebhookAllowList(t *testing.T) {
	cfg := global.DefaultConfig()
	cfg.Env = "production"
	_, err := NewEngine(cfg, Deps{Logger: logger.Nop()})
	assert.ErrorContains(t, err, "WEBHOOK_ALLOWED_CIDRS")

	cfg.Env = "development"
	_, err = NewEngine(cfg, Deps{Logger: logger.Nop()})
	assert.NoError(t, err)
}

func TestAuditEndpointsWithoutMongo(t *testing.T) {
	s := newServer(t, nil)

	w, _ := s.do(t, http.MethodGet, "/api/admin/orders/1/events", "", nil, adminHeader, adminToken)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHealthReportsFailingDependency(t *testing.T) {
	s := newServer(t, func(_ *global.Config, deps *Deps) {
		deps.Checks = []HealthCheck{{Name: "redis", Ping: func(context.Context) error { return errors.New("down") }}}
	})

	w, _ := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestParseCIDRs(t *testing.T) {
	nets, err := parseCIDRs([]string{"185.71.76.0/27", "77.75.156.11", "2a02:5180::/32"})
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.Equal(t, "77.75.156.11/32", nets[1].String())
}
