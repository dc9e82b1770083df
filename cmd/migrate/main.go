package main

import (
	"context"
	"flag"
	"os"

	"github.com/ariefcatur/go-order-ledger/internal/app"
	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/postgres"
)

// migrate runs a goose command against the postgres store, e.g.
//
//	migrate up
//	migrate down
//	migrate status
func main() {
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, log, err := app.Bootstrap("migrate")
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx := log.WithField(context.Background(), "command", command)
	if cfg.Store.Driver != config.DriverPostgres {
		log.Warn(ctx, "nothing to migrate for store driver "+cfg.Store.Driver)
		return
	}

	pool, err := postgres.Connect(ctx, cfg.Store.PostgresDSN, postgres.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Error(ctx, "connect postgres", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, command, flag.Args()[min(1, flag.NArg()):]...); err != nil {
		log.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	log.Info(ctx, "migration finished")
}
