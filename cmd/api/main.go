package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ariefcatur/go-order-ledger/internal/app"
	"github.com/ariefcatur/go-order-ledger/internal/auth"
	"github.com/ariefcatur/go-order-ledger/internal/checkout"
	"github.com/ariefcatur/go-order-ledger/internal/httpx"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/metrics"
	"github.com/ariefcatur/go-order-ledger/internal/notify"
	"github.com/ariefcatur/go-order-ledger/internal/payments"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
	"github.com/ariefcatur/go-order-ledger/internal/stripex"
)

func main() {
	cfg, log, err := app.Bootstrap("api")
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fatal := func(msg string, err error) {
		log.Error(ctx, msg, err)
		os.Exit(1)
	}

	// Store
	store, _, err := app.OpenStore(ctx, cfg.Store, cfg.Store.AutoMigrate, log)
	if err != nil {
		fatal("open store", err)
	}
	defer store.Close()

	// Redis
	rdb, err := redisx.New(ctx, cfg.Redis.Addr)
	if err != nil {
		fatal("redis connect", err)
	}
	defer rdb.Close()

	// Kafka producers: order events and notification requests
	eventsProd := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents, 1024, log)
	eventsProd.Start(ctx)
	notifyProd := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, 1024, log)
	notifyProd.Start(ctx)

	ledgerMetrics := metrics.NewLedger(prometheus.DefaultRegisterer)
	sink := notify.NewKafkaSink(notifyProd, cfg.App.ServiceName, log)
	statusHook := notify.StatusHook{Sink: sink}
	orderEvents := kafkax.NewOrderEvents(eventsProd, cfg.App.ServiceName, log)
	statusCache := redisx.NewStatusCache(rdb, redisx.TTLStatusCache)

	stock := inventory.New(store, log, inventory.Options{
		MaxStock:          cfg.Stock.MaxStock,
		LowStockThreshold: cfg.Stock.LowStockThreshold,
		Metrics:           ledgerMetrics,
		Alerts:            notify.StockAlerter{Sink: sink},
	})
	machine := lifecycle.New(store, stock, log, ledgerMetrics, statusHook, orderEvents, statusCache)
	reconciler := payments.NewReconciler(store, machine, log)

	stripeClient, err := stripex.NewClient(ctx, cfg.Stripe, log)
	if err != nil {
		fatal("stripe client", err)
	}
	guard, err := redisx.NewIdempotencyGuard(rdb, cfg.Redis.WebhookDedupTTL, "stripe")
	if err != nil {
		fatal("webhook guard", err)
	}
	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		fatal("jwt issuer", err)
	}

	svc, err := checkout.NewService(checkout.Params{
		Store:      store,
		Stock:      stock,
		Machine:    machine,
		Reconciler: reconciler,
		Provider:   stripeClient,
		Pricing:    cfg.Checkout.Pricing(),
		Logger:     log,
		Keys:       redisx.NewOrderKeys(rdb, redisx.TTLIdempotency),
		Cache:      statusCache,
		Created:    []checkout.CreatedHook{statusHook, orderEvents},
	})
	if err != nil {
		fatal("checkout service", err)
	}

	router := httpx.NewRouter(httpx.Deps{
		Logger:   log,
		Checkout: svc,
		Stock:    stock,
		Issuer:   issuer,
		Events:   payments.NewEventHandler(reconciler, log, ledgerMetrics),
		Stripe:   stripeClient,
		Guard:    guard,

		CORSOrigins: cfg.App.CORSOrigins,
	})

	// On bolt no worker can share the store, so the api runs the sweep.
	if app.APIRunsSweep(cfg.Store.Driver) {
		lock, err := redisx.NewLock(rdb, "reservation-sweep", cfg.Sweep.LockTTL)
		if err != nil {
			fatal("sweep lock", err)
		}
		sweep, err := app.NewReservationSweep(app.SweepParams{
			Store:   store,
			Machine: machine,
			Lock:    lock,
			Metrics: metrics.NewJobs(prometheus.DefaultRegisterer),
			Config:  cfg.Sweep,
			Logger:  log,
		})
		if err != nil {
			fatal("sweeper", err)
		}
		go func() {
			if err := sweep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "sweeper stopped", err)
			}
		}()
	}

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info(log.WithField(ctx, "addr", cfg.App.HTTPAddr), "http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("listen", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info(ctx, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "http shutdown", err)
	}
	// close inboxes first so buffered events are flushed, then stop the loops
	eventsProd.Close()
	notifyProd.Close()
	cancel()
	eventsProd.WaitClosed()
	notifyProd.WaitClosed()
}
