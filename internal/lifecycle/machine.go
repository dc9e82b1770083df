// Package lifecycle owns order status changes. Every path that moves an order
// (customer cancel, staff action, payment webhook, timeout sweep) goes through
// Machine so the transition table and the stock release rules live in one place.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/metrics"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// Change describes one applied (or skipped) transition.
type Change struct {
	Order orders.Order
	From  orders.Status
	To    orders.Status
	Actor orders.Actor
	// NoOp is set when a cancel or refund hit an order already in that state.
	NoOp bool
	// StockReleased is set when this change gave the order's items back.
	StockReleased bool
	At            time.Time
}

// Hook observes committed changes. Errors are logged by the Machine.
type Hook interface {
	OnTransition(ctx context.Context, c Change) error
}

type HookFunc func(ctx context.Context, c Change) error

func (f HookFunc) OnTransition(ctx context.Context, c Change) error { return f(ctx, c) }

type Machine struct {
	store   ledger.Store
	stock   *inventory.Service
	log     *logger.Logger
	metrics *metrics.Ledger
	hooks   []Hook
	now     func() time.Time
}

func New(store ledger.Store, stock *inventory.Service, log *logger.Logger, m *metrics.Ledger, hooks ...Hook) *Machine {
	return &Machine{store: store, stock: stock, log: log, metrics: m, hooks: hooks, now: time.Now}
}

// AddHook registers h for changes committed after the call.
func (m *Machine) AddHook(h Hook) { m.hooks = append(m.hooks, h) }

// Transition moves one order in its own transaction and runs the hooks after
// commit.
func (m *Machine) Transition(ctx context.Context, orderID string, to orders.Status, actor orders.Actor) (*Change, error) {
	var ch *Change
	err := m.store.WithTx(ctx, func(tx ledger.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		ch, err = m.TransitionTx(ctx, tx, o, to, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.Committed(ctx, ch)
	return ch, nil
}

// TransitionTx applies a transition to an order already locked by tx. The
// caller commits and then passes the change to Committed.
func (m *Machine) TransitionTx(ctx context.Context, tx ledger.Tx, o *orders.Order, to orders.Status, actor orders.Actor) (*Change, error) {
	from := o.Status
	ch := &Change{From: from, To: to, Actor: actor, At: m.now().UTC()}

	if from == to && orders.ReleasesStock(to) {
		ch.NoOp = true
		ch.Order = *o
		return ch, nil
	}
	if !orders.CanTransition(from, to) {
		err := &orders.InvalidTransitionError{From: from, To: to}
		lctx := m.log.WithOrderID(ctx, o.ID)
		lctx = m.log.WithField(lctx, "actor", actor.String())
		m.log.Error(lctx, "rejected order transition", err)
		return nil, err
	}

	if orders.ReleasesStock(to) && o.HoldsStock() {
		if err := m.stock.ReleaseTx(ctx, tx, o.ID, o.ItemQuantities(), actor); err != nil {
			return nil, err
		}
		o.StockReleased = true
		ch.StockReleased = true
	}

	o.Status = to
	o.UpdatedAt = ch.At
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	ch.Order = *o
	return ch, nil
}

// RevertRefundTx undoes an optimistic refund after the provider reported the
// refund failed: refunded goes back to paid. This is the one move that is not
// in the transition table. Stock given back by the refund is reserved again
// when still available; if not, the order stays paid without held stock and a
// warning is logged.
func (m *Machine) RevertRefundTx(ctx context.Context, tx ledger.Tx, o *orders.Order, actor orders.Actor) (*Change, error) {
	if o.Status != orders.StatusRefunded {
		return nil, &orders.InvalidTransitionError{From: o.Status, To: orders.StatusPaid}
	}
	ch := &Change{From: o.Status, To: orders.StatusPaid, Actor: actor, At: m.now().UTC()}

	if o.StockReserved && o.StockReleased {
		_, err := m.stock.ReserveTx(ctx, tx, o.ID, o.ItemQuantities(), actor)
		var ise *orders.InsufficientStockError
		switch {
		case err == nil:
			o.StockReleased = false
		case errors.As(err, &ise), errors.Is(err, orders.ErrProductUnavailable):
			lctx := m.log.WithOrderID(ctx, o.ID)
			lctx = m.log.WithField(lctx, "reason", err.Error())
			m.log.Warn(lctx, "refund reverted but stock could not be reserved again")
		default:
			return nil, err
		}
	}

	o.Status = orders.StatusPaid
	o.UpdatedAt = ch.At
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	ch.Order = *o
	return ch, nil
}

// Committed records metrics and runs hooks for a change whose transaction has
// committed. No-op changes are skipped.
func (m *Machine) Committed(ctx context.Context, ch *Change) {
	if ch == nil || ch.NoOp {
		return
	}
	m.metrics.Transition(string(ch.From), string(ch.To))

	lctx := m.log.WithOrderID(ctx, ch.Order.ID)
	lctx = m.log.WithFields(lctx, map[string]any{
		"from":           ch.From,
		"to":             ch.To,
		"actor":          ch.Actor.String(),
		"stock_released": ch.StockReleased,
	})
	m.log.Info(lctx, "order transitioned")

	for _, h := range m.hooks {
		if err := h.OnTransition(ctx, *ch); err != nil {
			m.log.Error(lctx, "transition hook failed", err)
		}
	}
}
