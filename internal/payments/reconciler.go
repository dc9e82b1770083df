// Package payments applies payment provider outcomes to the ledger. Every
// entry point locks the payment row first and then its order, so redelivered
// or concurrent events for the same transaction id run one after another and
// the second one sees the first one's result.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

type Outcome string

const (
	Applied        Outcome = "applied"
	Duplicate      Outcome = "duplicate"
	UnknownPayment Outcome = "unknown_payment"
	Ignored        Outcome = "ignored"
)

// ProviderActor is recorded on changes caused by provider events.
var ProviderActor = orders.Actor{ID: "payment-provider", Role: orders.RoleSystem}

type Reconciler struct {
	store   ledger.Store
	machine *lifecycle.Machine
	log     *logger.Logger
	now     func() time.Time
}

func NewReconciler(store ledger.Store, machine *lifecycle.Machine, log *logger.Logger) *Reconciler {
	return &Reconciler{store: store, machine: machine, log: log, now: time.Now}
}

type step func(ctx context.Context, tx ledger.Tx, p *orders.Payment, o *orders.Order) (Outcome, []*lifecycle.Change, error)

func (r *Reconciler) run(ctx context.Context, transactionID string, fn step) (Outcome, error) {
	ctx = r.log.WithTransactionID(ctx, transactionID)

	var (
		outcome Outcome
		changes []*lifecycle.Change
	)
	err := r.store.WithTx(ctx, func(tx ledger.Tx) error {
		changes = nil
		p, err := tx.LockPaymentByTransaction(ctx, transactionID)
		if errors.Is(err, orders.ErrNotFound) {
			outcome = UnknownPayment
			return nil
		}
		if err != nil {
			return err
		}
		o, err := tx.LockOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		outcome, changes, err = fn(ctx, tx, p, o)
		return err
	})
	if err != nil {
		return "", err
	}

	if outcome == UnknownPayment {
		r.log.Warn(ctx, "no payment for transaction id")
		return outcome, nil
	}
	for _, ch := range changes {
		r.machine.Committed(ctx, ch)
	}
	return outcome, nil
}

// walk applies a chain of transitions, collecting the changes.
func (r *Reconciler) walk(ctx context.Context, tx ledger.Tx, o *orders.Order, path ...orders.Status) ([]*lifecycle.Change, error) {
	var out []*lifecycle.Change
	for _, to := range path {
		ch, err := r.machine.TransitionTx(ctx, tx, o, to, ProviderActor)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func (r *Reconciler) savePayment(ctx context.Context, tx ledger.Tx, p *orders.Payment, status orders.PaymentStatus) error {
	p.Status = status
	p.UpdatedAt = r.now().UTC()
	return tx.UpdatePayment(ctx, p)
}

// OnPaymentSucceeded marks the payment completed and moves the order to paid.
func (r *Reconciler) OnPaymentSucceeded(ctx context.Context, transactionID string) (Outcome, error) {
	return r.run(ctx, transactionID, func(ctx context.Context, tx ledger.Tx, p *orders.Payment, o *orders.Order) (Outcome, []*lifecycle.Change, error) {
		switch p.Status {
		case orders.PaymentCompleted:
			return Duplicate, nil, nil
		case orders.PaymentRefunded:
			return Ignored, nil, nil
		}
		p.ErrorMessage = ""
		if err := r.savePayment(ctx, tx, p, orders.PaymentCompleted); err != nil {
			return "", nil, err
		}

		var path []orders.Status
		switch o.Status {
		case orders.StatusPending, orders.StatusPaymentFailed:
			path = []orders.Status{orders.StatusProcessing, orders.StatusPaid}
		case orders.StatusProcessing:
			path = []orders.Status{orders.StatusPaid}
		case orders.StatusCancelled, orders.StatusRefunded:
			lctx := r.log.WithOrderID(ctx, o.ID)
			lctx = r.log.WithField(lctx, "order_status", o.Status)
			r.log.Warn(lctx, "payment succeeded for an order that is no longer payable")
			return Ignored, nil, nil
		default:
			return Applied, nil, nil
		}
		changes, err := r.walk(ctx, tx, o, path...)
		if err != nil {
			return "", nil, err
		}
		return Applied, changes, nil
	})
}

// OnPaymentFailed marks a pending payment failed and moves the order to
// payment_failed so the customer can retry.
func (r *Reconciler) OnPaymentFailed(ctx context.Context, transactionID, message string) (Outcome, error) {
	return r.run(ctx, transactionID, func(ctx context.Context, tx ledger.Tx, p *orders.Payment, o *orders.Order) (Outcome, []*lifecycle.Change, error) {
		switch p.Status {
		case orders.PaymentFailed:
			return Duplicate, nil, nil
		case orders.PaymentCompleted, orders.PaymentRefunded:
			return Ignored, nil, nil
		}
		p.ErrorMessage = message
		if err := r.savePayment(ctx, tx, p, orders.PaymentFailed); err != nil {
			return "", nil, err
		}

		var path []orders.Status
		switch o.Status {
		case orders.StatusPending:
			path = []orders.Status{orders.StatusProcessing, orders.StatusPaymentFailed}
		case orders.StatusProcessing:
			path = []orders.Status{orders.StatusPaymentFailed}
		default:
			return Applied, nil, nil
		}
		changes, err := r.walk(ctx, tx, o, path...)
		if err != nil {
			return "", nil, err
		}
		return Applied, changes, nil
	})
}

// OnRefundSucceeded marks the payment refunded and the order refunded, which
// releases its stock once.
func (r *Reconciler) OnRefundSucceeded(ctx context.Context, transactionID string) (Outcome, error) {
	return r.run(ctx, transactionID, func(ctx context.Context, tx ledger.Tx, p *orders.Payment, o *orders.Order) (Outcome, []*lifecycle.Change, error) {
		return r.refundTx(ctx, tx, p, o, ProviderActor)
	})
}

func (r *Reconciler) refundTx(ctx context.Context, tx ledger.Tx, p *orders.Payment, o *orders.Order, actor orders.Actor) (Outcome, []*lifecycle.Change, error) {
	if p.Status == orders.PaymentRefunded && o.Status == orders.StatusRefunded {
		return Duplicate, nil, nil
	}
	ch, err := r.machine.TransitionTx(ctx, tx, o, orders.StatusRefunded, actor)
	if err != nil {
		return "", nil, err
	}
	if p.Status != orders.PaymentRefunded {
		if err := r.savePayment(ctx, tx, p, orders.PaymentRefunded); err != nil {
			return "", nil, err
		}
	}
	return Applied, []*lifecycle.Change{ch}, nil
}

// OnRefundFailed undoes an optimistic refund: the payment goes back to
// completed and the order back to paid.
func (r *Reconciler) OnRefundFailed(ctx context.Context, transactionID string) (Outcome, error) {
	return r.run(ctx, transactionID, func(ctx context.Context, tx ledger.Tx, p *orders.Payment, o *orders.Order) (Outcome, []*lifecycle.Change, error) {
		if p.Status != orders.PaymentRefunded {
			if p.Status == orders.PaymentCompleted && o.Status != orders.StatusRefunded {
				return Duplicate, nil, nil
			}
			return Ignored, nil, nil
		}
		if err := r.savePayment(ctx, tx, p, orders.PaymentCompleted); err != nil {
			return "", nil, err
		}
		if o.Status != orders.StatusRefunded {
			return Applied, nil, nil
		}
		ch, err := r.machine.RevertRefundTx(ctx, tx, o, ProviderActor)
		if err != nil {
			return "", nil, err
		}
		return Applied, []*lifecycle.Change{ch}, nil
	})
}

// MarkRefunded applies a refund the provider already confirmed synchronously.
// It is the same step as OnRefundSucceeded, attributed to actor.
func (r *Reconciler) MarkRefunded(ctx context.Context, transactionID, reason string, actor orders.Actor) (Outcome, error) {
	return r.run(ctx, transactionID, func(ctx context.Context, tx ledger.Tx, p *orders.Payment, o *orders.Order) (Outcome, []*lifecycle.Change, error) {
		if reason != "" {
			p.RefundReason = reason
		}
		return r.refundTx(ctx, tx, p, o, actor)
	})
}
