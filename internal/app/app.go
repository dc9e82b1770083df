// Package app holds the wiring shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-order-ledger/internal/boltdb"
	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/postgres"
)

// Bootstrap loads .env (when present) and the environment config and builds
// the process logger.
func Bootstrap(component string) (*config.Config, *logger.Logger, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Options{
		ServiceName: cfg.App.ServiceName + "-" + component,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, log, nil
}

// OpenStore opens the configured ledger backend. The pool is nil for bolt.
// With migrate set, pending postgres migrations are applied first.
func OpenStore(ctx context.Context, cfg config.StoreConfig, migrate bool, log *logger.Logger) (ledger.Store, *pgxpool.Pool, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		s, err := boltdb.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		log.Info(log.WithField(ctx, "path", cfg.BoltPath), "bolt store opened")
		return s, nil, nil
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if migrate {
			if err := postgres.Migrate(ctx, pool, "up"); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		log.Info(ctx, "postgres store connected")
		return postgres.NewStore(pool), pool, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
