package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/metrics"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// EventHandler turns verified Stripe events into reconciler calls.
type EventHandler struct {
	rec     *Reconciler
	log     *logger.Logger
	metrics *metrics.Ledger
}

func NewEventHandler(rec *Reconciler, log *logger.Logger, m *metrics.Ledger) *EventHandler {
	return &EventHandler{rec: rec, log: log, metrics: m}
}

// HandleEvent returns an error only when retrying the delivery could succeed
// (storage or dependency failures). Unknown payments, duplicates, malformed
// objects and rejected transitions are logged and acknowledged.
func (h *EventHandler) HandleEvent(ctx context.Context, ev *stripe.Event) error {
	ctx = h.log.WithFields(ctx, map[string]any{"event_id": ev.ID, "event_type": string(ev.Type)})

	outcome, err := h.dispatch(ctx, ev)

	var ite *orders.InvalidTransitionError
	switch {
	case err == nil:
	case errors.As(err, &ite):
		h.log.Error(ctx, "provider event rejected by order state machine", err)
		outcome, err = Ignored, nil
	case errors.Is(err, errMalformed):
		h.log.Error(ctx, "malformed provider event", err)
		outcome, err = Ignored, nil
	default:
		h.metrics.WebhookEvent(string(ev.Type), "error")
		return err
	}

	h.metrics.WebhookEvent(string(ev.Type), string(outcome))
	h.log.Info(h.log.WithField(ctx, "outcome", outcome), "provider event handled")
	return nil
}

var errMalformed = errors.New("malformed event object")

func (h *EventHandler) dispatch(ctx context.Context, ev *stripe.Event) (Outcome, error) {
	switch ev.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := decode(ev, &pi); err != nil {
			return "", err
		}
		return h.rec.OnPaymentSucceeded(ctx, pi.ID)

	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := decode(ev, &pi); err != nil {
			return "", err
		}
		msg := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			msg = pi.LastPaymentError.Msg
		}
		return h.rec.OnPaymentFailed(ctx, pi.ID, msg)

	case stripe.EventTypeChargeRefunded:
		var ch stripe.Charge
		if err := decode(ev, &ch); err != nil {
			return "", err
		}
		if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
			return "", fmt.Errorf("%w: charge %s has no payment intent", errMalformed, ch.ID)
		}
		return h.rec.OnRefundSucceeded(ctx, ch.PaymentIntent.ID)

	case stripe.EventTypeChargeRefundUpdated:
		var rf stripe.Refund
		if err := decode(ev, &rf); err != nil {
			return "", err
		}
		if rf.PaymentIntent == nil || rf.PaymentIntent.ID == "" {
			return "", fmt.Errorf("%w: refund %s has no payment intent", errMalformed, rf.ID)
		}
		switch rf.Status {
		case stripe.RefundStatusFailed:
			return h.rec.OnRefundFailed(ctx, rf.PaymentIntent.ID)
		case stripe.RefundStatusSucceeded:
			return h.rec.OnRefundSucceeded(ctx, rf.PaymentIntent.ID)
		}
		return Ignored, nil
	}
	return Ignored, nil
}

func decode(ev *stripe.Event, out any) error {
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return fmt.Errorf("%w: empty data", errMalformed)
	}
	if err := json.Unmarshal(ev.Data.Raw, out); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}
