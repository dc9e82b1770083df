package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

const ReservationTimeoutJobName = "reservation-timeout"

type staleOrderFinder interface {
	FindStaleOrders(ctx context.Context, statuses []orders.Status, cutoff time.Time) ([]orders.Order, error)
}

type canceller interface {
	Transition(ctx context.Context, orderID string, to orders.Status, actor orders.Actor) (*lifecycle.Change, error)
}

// ReservationTimeoutJob cancels orders that have held stock without reaching
// paid for longer than ttl. Cancelling releases the stock.
type ReservationTimeoutJob struct {
	store   staleOrderFinder
	machine canceller
	ttl     time.Duration
	log     *logger.Logger
	now     func() time.Time
}

func NewReservationTimeoutJob(store staleOrderFinder, machine canceller, ttl time.Duration, log *logger.Logger) (*ReservationTimeoutJob, error) {
	if store == nil {
		return nil, errors.New("order store required")
	}
	if machine == nil {
		return nil, errors.New("state machine required")
	}
	if ttl <= 0 {
		return nil, errors.New("reservation ttl must be positive")
	}
	return &ReservationTimeoutJob{store: store, machine: machine, ttl: ttl, log: log, now: time.Now}, nil
}

func (j *ReservationTimeoutJob) Name() string { return ReservationTimeoutJobName }

func (j *ReservationTimeoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	stale, err := j.store.FindStaleOrders(ctx, orders.Expirable, cutoff)
	if err != nil {
		return fmt.Errorf("find stale orders: %w", err)
	}

	var errs error
	cancelled := 0
	for _, o := range stale {
		octx := j.log.WithOrderID(ctx, o.ID)
		ch, err := j.machine.Transition(octx, o.ID, orders.StatusCancelled, orders.SystemActor)
		var invalid *orders.InvalidTransitionError
		switch {
		case errors.As(err, &invalid):
			// a payment moved the order on since the scan
			j.log.Debug(octx, "stale order no longer cancellable")
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("cancel order %s: %w", o.ID, err))
		case !ch.NoOp:
			cancelled++
		}
	}
	j.log.Info(j.log.WithFields(ctx, map[string]any{
		"scanned":   len(stale),
		"cancelled": cancelled,
	}), "reservation timeout sweep complete")
	return errs
}
