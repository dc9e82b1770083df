package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-ledger/internal/app"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/metrics"
	"github.com/ariefcatur/go-order-ledger/internal/notify"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
)

// worker runs the reservation-timeout sweep and stores notifications consumed
// from Kafka. It needs the postgres store; on bolt the api hosts the sweep.
func main() {
	cfg, log, err := app.Bootstrap("worker")
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fatal := func(msg string, err error) {
		log.Error(ctx, msg, err)
		os.Exit(1)
	}

	if app.APIRunsSweep(cfg.Store.Driver) {
		fatal("store driver", errors.New("worker requires the postgres store; with bolt the api process runs the reservation sweep"))
	}
	store, pool, err := app.OpenStore(ctx, cfg.Store, cfg.Store.AutoMigrate, log)
	if err != nil {
		fatal("open store", err)
	}
	defer store.Close()

	rdb, err := redisx.New(ctx, cfg.Redis.Addr)
	if err != nil {
		fatal("redis connect", err)
	}
	defer rdb.Close()

	// Cancellations made by the sweep still publish their events.
	eventsProd := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents, 1024, log)
	eventsProd.Start(ctx)
	notifyProd := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, 1024, log)
	notifyProd.Start(ctx)

	ledgerMetrics := metrics.NewLedger(prometheus.DefaultRegisterer)
	sink := notify.NewKafkaSink(notifyProd, cfg.App.ServiceName, log)
	stock := inventory.New(store, log, inventory.Options{
		MaxStock:          cfg.Stock.MaxStock,
		LowStockThreshold: cfg.Stock.LowStockThreshold,
		Metrics:           ledgerMetrics,
		Alerts:            notify.StockAlerter{Sink: sink},
	})
	machine := lifecycle.New(store, stock, log, ledgerMetrics,
		notify.StatusHook{Sink: sink},
		kafkax.NewOrderEvents(eventsProd, cfg.App.ServiceName, log),
		redisx.NewStatusCache(rdb, redisx.TTLStatusCache),
	)

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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweep.Run(gctx) })
	consumer := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.NotifyGroup, cfg.Kafka.TopicNotifications, cfg.Kafka.NotifyWorkers, log)
	handler := notify.NewConsumer(&notify.PGRepository{DB: pool}, log)
	g.Go(func() error { return consumer.Start(gctx, handler.Handle) })

	log.Info(ctx, "worker started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "worker stopped", err)
	}
	eventsProd.Close()
	notifyProd.Close()
	eventsProd.WaitClosed()
	notifyProd.WaitClosed()
	log.Info(context.Background(), "worker stopped")
}
