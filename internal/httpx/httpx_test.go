package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/ariefcatur/go-order-ledger/internal/auth"
	"github.com/ariefcatur/go-order-ledger/internal/boltdb"
	"github.com/ariefcatur/go-order-ledger/internal/checkout"
	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/metrics"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/ariefcatur/go-order-ledger/internal/payments"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
	"github.com/ariefcatur/go-order-ledger/internal/stripex"
)

const webhookSecret = "whsec_test"

type fakeProvider struct {
	mu  sync.Mutex
	seq int
}

func (f *fakeProvider) CreatePaymentIntent(context.Context, int64, string, map[string]string) (stripex.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return stripex.Intent{ID: fmt.Sprintf("pi_%d", f.seq), ClientSecret: "secret", Status: "requires_payment_method"}, nil
}

func (f *fakeProvider) RetrievePaymentIntent(_ context.Context, id string) (stripex.Intent, error) {
	return stripex.Intent{ID: id, Status: stripex.IntentSucceeded}, nil
}

func (f *fakeProvider) CreateRefund(_ context.Context, txID, _ string) (stripex.Refund, error) {
	return stripex.Refund{ID: "re_1", Status: stripex.RefundSucceeded, TransactionID: txID}, nil
}

type secret string

func (s secret) SigningSecret() string { return string(s) }

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprint(value)
	return nil
}

func (s *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

type env struct {
	t      *testing.T
	router http.Handler
	store  ledger.Store
	issuer *auth.Issuer
	events *countingEvents
}

type countingEvents struct {
	inner *payments.EventHandler
	calls int
	fail  error
}

func (c *countingEvents) HandleEvent(ctx context.Context, ev *stripe.Event) error {
	c.calls++
	if c.fail != nil {
		return c.fail
	}
	return c.inner.HandleEvent(ctx, ev)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := boltdb.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.UpsertProduct(ctx, &orders.Product{ID: "p1", Name: "Widget", Price: decimal.RequireFromString("20.00"), Stock: 10, IsActive: true})
	}))

	log := logger.Nop()
	reg := prometheus.NewRegistry()
	lm := metrics.NewLedger(reg)
	stock := inventory.New(store, log, inventory.Options{LowStockThreshold: 5, Metrics: lm})
	machine := lifecycle.New(store, stock, log, lm)
	rec := payments.NewReconciler(store, machine, log)
	redisStore := &memStore{data: map[string]string{}}
	svc, err := checkout.NewService(checkout.Params{
		Store:      store,
		Stock:      stock,
		Machine:    machine,
		Reconciler: rec,
		Provider:   &fakeProvider{},
		Pricing:    orders.DefaultPricing(),
		Logger:     log,
		Keys:       redisx.NewOrderKeys(redisStore, time.Hour),
		Cache:      redisx.NewStatusCache(redisStore, time.Minute),
	})
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(config.JWTConfig{Secret: "jwt-secret", Issuer: "order-ledger", TTL: time.Hour})
	require.NoError(t, err)
	guard, err := redisx.NewIdempotencyGuard(redisStore, time.Hour, "stripe")
	require.NoError(t, err)

	e := &env{t: t, store: store, issuer: issuer, events: &countingEvents{inner: payments.NewEventHandler(rec, log, lm)}}
	e.router = NewRouter(Deps{
		Logger:   log,
		Checkout: svc,
		Stock:    stock,
		Issuer:   issuer,
		Events:   e.events,
		Stripe:   secret(webhookSecret),
		Guard:    guard,
		Gatherer: reg,

		CORSOrigins: []string{"http://shop.test"},
	})
	return e
}

func (e *env) token(p auth.Principal) string {
	tok, err := e.issuer.Sign(p, 0)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	customer = auth.Principal{UserID: "alice"}
	admin    = auth.Principal{UserID: "root", Staff: true}
)

func orderBody(qty int) map[string]any {
	return map[string]any{"items": []map[string]any{{"product_id": "p1", "qty": qty}}}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	e.do(http.MethodPost, "/orders", e.token(customer), orderBody(1))
	rec = e.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stock_reservations_total")
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/orders", nil)
	req.Header.Set("Origin", "http://shop.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, "http://shop.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateOrderFlow(t *testing.T) {
	e := newEnv(t)
	tok := e.token(customer)

	rec := e.do(http.MethodPost, "/orders", "", orderBody(3))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody[ErrorEnvelope](t, rec).Error.Code)

	rec = e.do(http.MethodPost, "/orders", tok, orderBody(3), "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decodeBody[orders.Order](t, rec)
	assert.Equal(t, "72.00", o.Total.StringFixed(2))
	assert.Equal(t, orders.StatusPending, o.Status)

	rec = e.do(http.MethodPost, "/orders", tok, orderBody(3), "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, o.ID, decodeBody[orders.Order](t, rec).ID)

	p, err := e.store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)

	rec = e.do(http.MethodGet, "/orders/"+o.ID+"/status", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusPending, decodeBody[checkout.StatusView](t, rec).Status)

	rec = e.do(http.MethodGet, "/orders/"+o.ID, e.token(auth.Principal{UserID: "mallory"}), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodGet, "/orders", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]orders.Order](t, rec), 1)

	rec = e.do(http.MethodPost, "/orders/"+o.ID+"/cancel", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCancelled, decodeBody[orders.Order](t, rec).Status)

	rec = e.do(http.MethodPost, "/orders/"+o.ID+"/payment", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STATE_CONFLICT", decodeBody[ErrorEnvelope](t, rec).Error.Code)
}

func TestCreateOrderErrors(t *testing.T) {
	e := newEnv(t)
	tok := e.token(customer)

	rec := e.do(http.MethodPost, "/orders", tok, map[string]any{"items": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorEnvelope](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Contains(t, body.Error.Details, "items")

	rec = e.do(http.MethodPost, "/orders", tok, map[string]any{"items": []map[string]any{{"product_id": "p1", "qty": 0}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/orders", tok, map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/orders", tok, orderBody(11))
	require.Equal(t, http.StatusConflict, rec.Code)
	body = decodeBody[ErrorEnvelope](t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", body.Error.Code)
	assert.Contains(t, body.Error.Details, "shortages")

	rec = e.do(http.MethodGet, "/orders/nope", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/orders", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	e := newEnv(t)
	staffTok := e.token(admin)

	rec := e.do(http.MethodGet, "/admin/products/low-stock", e.token(customer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(http.MethodGet, "/admin/products/low-stock", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/admin/products/p1/stock", staffTok, map[string]any{"delta": -7, "reason": "damage", "note": "water"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mv := decodeBody[orders.StockMovement](t, rec)
	assert.Equal(t, 10, mv.PreviousStock)
	assert.Equal(t, 3, mv.NewStock)

	rec = e.do(http.MethodPost, "/admin/products/p1/stock", staffTok, map[string]any{"delta": -5, "reason": "loss"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(http.MethodPost, "/admin/products/p1/stock", staffTok, map[string]any{"delta": 5, "reason": "sale"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(http.MethodPost, "/admin/products/p1/stock", staffTok, map[string]any{"delta": 0, "reason": "purchase"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/admin/products/low-stock", staffTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[inventory.LowStockReport](t, rec)
	require.Len(t, report.Products, 1)
	assert.Equal(t, "p1", report.Products[0].ID)
	assert.Equal(t, "60.00", report.TotalValue.StringFixed(2))

	rec = e.do(http.MethodGet, "/admin/products/p1/movements", staffTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]orders.StockMovement](t, rec), 1)

	rec = e.do(http.MethodGet, "/admin/products/missing/movements", staffTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminTransitionAndRefund(t *testing.T) {
	e := newEnv(t)
	tok := e.token(customer)
	staffTok := e.token(admin)

	rec := e.do(http.MethodPost, "/orders", tok, orderBody(3))
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decodeBody[orders.Order](t, rec)

	rec = e.do(http.MethodPost, "/admin/orders/"+o.ID+"/transition", staffTok, map[string]any{"status": "shipped"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[ErrorEnvelope](t, rec)
	assert.Equal(t, "STATE_CONFLICT", body.Error.Code)

	rec = e.do(http.MethodPost, "/orders/"+o.ID+"/payment", tok, map[string]any{"payment_method": "card"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decodeBody[checkout.PaymentSession](t, rec)

	rec = e.do(http.MethodPost, "/orders/"+o.ID+"/payment/confirm", tok, map[string]any{"payment_intent_id": sess.TransactionID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusPaid, decodeBody[checkout.ConfirmResult](t, rec).Order.Status)

	rec = e.do(http.MethodPost, "/admin/orders/"+o.ID+"/transition", staffTok, map[string]any{"status": "shipped"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodPost, "/admin/payments/"+sess.PaymentID+"/refund", staffTok, map[string]any{"reason": "damaged"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[checkout.RefundResult](t, rec)
	assert.Equal(t, payments.Applied, res.Outcome)

	got, err := e.store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, got.Status)
	p, err := e.store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
}

func signedWebhook(t *testing.T, id string, typ stripe.EventType, obj map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        string(typ),
		"data":        map[string]any{"object": obj},
	})
	require.NoError(t, err)
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (e *env) webhook(payload []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook(t *testing.T) {
	e := newEnv(t)
	tok := e.token(customer)

	rec := e.do(http.MethodPost, "/orders", tok, orderBody(2))
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decodeBody[orders.Order](t, rec)
	rec = e.do(http.MethodPost, "/orders/"+o.ID+"/payment", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decodeBody[checkout.PaymentSession](t, rec)

	payload, sig := signedWebhook(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, map[string]any{"id": sess.TransactionID, "object": "payment_intent"})

	rec = e.webhook(payload, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.webhook(payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, e.events.calls)

	rec = e.webhook(payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeBody[webhookAck](t, rec).Duplicate)
	got, err := e.store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)

	rec = e.webhook(payload, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[webhookAck](t, rec).Duplicate)
	assert.Equal(t, 1, e.events.calls)

	// unknown payments are acknowledged
	payload, sig = signedWebhook(t, "evt_2", stripe.EventTypePaymentIntentSucceeded, map[string]any{"id": "pi_unknown", "object": "payment_intent"})
	rec = e.webhook(payload, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetOrderShowsPaymentError(t *testing.T) {
	e := newEnv(t)
	tok := e.token(customer)

	rec := e.do(http.MethodPost, "/orders", tok, orderBody(1))
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decodeBody[orders.Order](t, rec)
	rec = e.do(http.MethodPost, "/orders/"+o.ID+"/payment", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decodeBody[checkout.PaymentSession](t, rec)

	payload, sig := signedWebhook(t, "evt_fail", stripe.EventTypePaymentIntentPaymentFailed, map[string]any{
		"id":                 sess.TransactionID,
		"object":             "payment_intent",
		"last_payment_error": map[string]any{"message": "Your card was declined."},
	})
	rec = e.webhook(payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodGet, "/orders/"+o.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "transaction_id")
	assert.NotContains(t, rec.Body.String(), sess.TransactionID)
	v := decodeBody[checkout.OrderView](t, rec)
	assert.Equal(t, orders.StatusPaymentFailed, v.Status)
	require.Len(t, v.Payments, 1)
	assert.Equal(t, orders.PaymentFailed, v.Payments[0].Status)
	assert.Equal(t, "Your card was declined.", v.Payments[0].ErrorMessage)
}

func TestStripeWebhookRetriesAfterFailure(t *testing.T) {
	e := newEnv(t)
	e.events.fail = errors.New("database is locked")

	payload, sig := signedWebhook(t, "evt_9", stripe.EventTypePaymentIntentSucceeded, map[string]any{"id": "pi_x", "object": "payment_intent"})
	rec := e.webhook(payload, sig)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database is locked")

	e.events.fail = nil
	rec = e.webhook(payload, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, e.events.calls)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code Code
	}{
		{orders.ErrNotFound, CodeNotFound},
		{fmt.Errorf("wrap: %w", orders.ErrForbidden), CodeForbidden},
		{&orders.ProviderCommunicationError{Op: "x", Err: errors.New("timeout")}, CodeDependency},
		{redisx.ErrRequestInFlight, CodeConflict},
		{orders.ErrProductUnavailable, CodeValidation},
		{errors.New("boom"), CodeInternal},
	}
	for _, c := range cases {
		code, _ := classify(c.err)
		assert.Equal(t, c.code, code, c.err.Error())
	}
}
