package app

import (
	"fmt"

	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/metrics"
	"github.com/ariefcatur/go-order-ledger/internal/sweeper"
)

// APIRunsSweep reports whether the api process hosts the reservation sweep.
// Bolt holds an exclusive file lock, so a separate worker cannot open the
// same store while the api is running.
func APIRunsSweep(driver string) bool {
	return driver == config.DriverBolt
}

type SweepParams struct {
	Store   ledger.Store
	Machine *lifecycle.Machine
	Lock    sweeper.Lock
	Metrics *metrics.Jobs
	Config  config.SweepConfig
	Logger  *logger.Logger
}

// NewReservationSweep builds the sweeper service running the reservation
// timeout job.
func NewReservationSweep(p SweepParams) (*sweeper.Service, error) {
	if p.Machine == nil {
		return nil, fmt.Errorf("reservation sweep: machine required")
	}
	job, err := sweeper.NewReservationTimeoutJob(p.Store, p.Machine, p.Config.ReservationTTL, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("reservation job: %w", err)
	}
	return sweeper.NewService(sweeper.ServiceParams{
		Logger:   p.Logger,
		Registry: sweeper.NewRegistry(job),
		Lock:     p.Lock,
		Metrics:  p.Metrics,
		Interval: p.Config.Interval,
	})
}
