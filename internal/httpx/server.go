package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/ariefcatur/go-order-ledger/internal/auth"
	"github.com/ariefcatur/go-order-ledger/internal/checkout"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
)

// EventHandler applies a verified provider event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *stripe.Event) error
}

// WebhookGuard deduplicates provider event ids.
type WebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type SigningSecret interface {
	SigningSecret() string
}

type Deps struct {
	Logger   *logger.Logger
	Checkout *checkout.Service
	Stock    *inventory.Service
	Issuer   *auth.Issuer

	Events EventHandler
	Stripe SigningSecret
	Guard  WebhookGuard

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
	// CORSOrigins enables CORS for the listed origins when not empty.
	CORSOrigins []string
}

func NewRouter(d Deps) *chi.Mux {
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	fail := func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(r.Context(), d.Logger, w, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(d.Logger), middleware.Recoverer)
	r.Use(middleware.Timeout(d.Timeout))
	if len(d.CORSOrigins) > 0 {
		r.Use(corsHandler(d.CORSOrigins))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	r.Post("/webhooks/stripe", StripeWebhook(d.Events, d.Stripe, d.Guard, d.Logger))

	oh := &OrdersHandler{Checkout: d.Checkout, Stock: d.Stock, Log: d.Logger}
	ah := &AdminHandler{Checkout: d.Checkout, Stock: d.Stock, Log: d.Logger}
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(d.Issuer, d.Logger, fail))
		oh.Register(r)
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireStaff(fail))
			ah.Register(r)
		})
	})
	return r
}

// requestLogger puts the request id on the logging context and logs one line
// per request.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := log.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))
			log.Info(log.WithFields(ctx, map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			}), "http request")
		})
	}
}
