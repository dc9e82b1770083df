package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-ledger/internal/auth"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/ariefcatur/go-order-ledger/internal/payments"
	"github.com/ariefcatur/go-order-ledger/internal/stripex"
)

type PaymentSession struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	ClientSecret  string `json:"client_secret"`
}

func payable(s orders.Status) bool {
	return s == orders.StatusPending || s == orders.StatusPaymentFailed
}

// StartPayment opens a payment intent for the order total and records a
// pending Payment while moving the order to processing. The provider is
// called before anything is written, so a provider failure leaves no trace.
// Confirmation arrives later through the webhook or ConfirmPayment.
func (s *Service) StartPayment(ctx context.Context, p auth.Principal, orderID string, method orders.PaymentMethod) (*PaymentSession, error) {
	o, err := s.GetOrder(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	if !payable(o.Status) {
		return nil, &orders.InvalidTransitionError{From: o.Status, To: orders.StatusProcessing}
	}
	if method == "" {
		method = o.PaymentMethod
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: payment method %q", orders.ErrInvalidInput, method)
	}
	ctx = s.log.WithOrderID(ctx, o.ID)

	intent, err := s.provider.CreatePaymentIntent(ctx, orders.MinorUnits(o.Total), s.pricing.Currency, map[string]string{
		"order_id": o.ID,
		"user_id":  o.UserID,
	})
	if err != nil {
		return nil, providerError("create payment intent", err)
	}
	ctx = s.log.WithTransactionID(ctx, intent.ID)

	pay := &orders.Payment{
		ID:            uuid.NewString(),
		OrderID:       o.ID,
		Currency:      s.pricing.Currency,
		PaymentMethod: method,
		Status:        orders.PaymentPending,
		TransactionID: intent.ID,
		Details:       map[string]string{"client_secret": intent.ClientSecret},
	}
	var ch *lifecycle.Change
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		locked, err := tx.LockOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if !payable(locked.Status) {
			return &orders.InvalidTransitionError{From: locked.Status, To: orders.StatusProcessing}
		}
		now := s.now().UTC()
		pay.Amount = locked.Total
		pay.CreatedAt, pay.UpdatedAt = now, now
		if err := tx.InsertPayment(ctx, pay); err != nil {
			return err
		}
		ch, err = s.machine.TransitionTx(ctx, tx, locked, orders.StatusProcessing, p.Actor())
		return err
	})
	if err != nil {
		s.log.Warn(s.log.WithField(ctx, "reason", err.Error()), "payment intent created but not recorded")
		return nil, err
	}
	s.machine.Committed(ctx, ch)
	s.log.Info(ctx, "payment started")
	return &PaymentSession{PaymentID: pay.ID, TransactionID: pay.TransactionID, ClientSecret: intent.ClientSecret}, nil
}

type ConfirmResult struct {
	IntentStatus string           `json:"intent_status"`
	Outcome      payments.Outcome `json:"outcome,omitempty"`
	Order        *orders.Order    `json:"order"`
	Payment      *PaymentSummary  `json:"payment"`
}

// PaymentSummary is the customer-facing view of a payment attempt. Provider
// identifiers and raw details stay out of it.
type PaymentSummary struct {
	ID           string               `json:"id"`
	Amount       decimal.Decimal      `json:"amount"`
	Currency     string               `json:"currency"`
	Method       orders.PaymentMethod `json:"payment_method"`
	Status       orders.PaymentStatus `json:"status"`
	ErrorMessage string               `json:"error_message,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func summarize(p *orders.Payment) *PaymentSummary {
	return &PaymentSummary{
		ID:           p.ID,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Method:       p.PaymentMethod,
		Status:       p.Status,
		ErrorMessage: p.ErrorMessage,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// ConfirmPayment asks the provider for the intent's state and applies it the
// same way the webhook would. Intents still in flight change nothing.
func (s *Service) ConfirmPayment(ctx context.Context, p auth.Principal, orderID, transactionID string) (*ConfirmResult, error) {
	o, err := s.GetOrder(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	pay, err := s.ownsTransaction(ctx, o.ID, transactionID)
	if err != nil {
		return nil, err
	}

	intent, err := s.provider.RetrievePaymentIntent(ctx, transactionID)
	if err != nil {
		return nil, providerError("retrieve payment intent", err)
	}
	res := &ConfirmResult{IntentStatus: intent.Status}
	switch intent.Status {
	case stripex.IntentSucceeded:
		res.Outcome, err = s.rec.OnPaymentSucceeded(ctx, transactionID)
	case stripex.IntentCanceled, stripex.IntentRequiresPaymentMethod:
		msg := intent.FailureMessage
		if msg == "" {
			msg = "payment " + intent.Status
		}
		res.Outcome, err = s.rec.OnPaymentFailed(ctx, transactionID, msg)
	}
	if err != nil {
		return nil, err
	}
	if res.Order, err = s.store.GetOrder(ctx, o.ID); err != nil {
		return nil, err
	}
	if pay, err = s.store.GetPayment(ctx, pay.ID); err != nil {
		return nil, err
	}
	res.Payment = summarize(pay)
	return res, nil
}

func (s *Service) ownsTransaction(ctx context.Context, orderID, transactionID string) (*orders.Payment, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", orders.ErrInvalidInput)
	}
	pays, err := s.store.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range pays {
		if pays[i].TransactionID == transactionID {
			return &pays[i], nil
		}
	}
	return nil, fmt.Errorf("%w: payment %s for order %s", orders.ErrNotFound, transactionID, orderID)
}

// OrderView is an order together with the summaries of its payment attempts.
type OrderView struct {
	*orders.Order
	Payments []PaymentSummary `json:"payments"`
}

// OrderDetails returns the order with its payment attempts so a customer can
// see why a payment failed.
func (s *Service) OrderDetails(ctx context.Context, p auth.Principal, orderID string) (*OrderView, error) {
	o, err := s.GetOrder(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	pays, err := s.store.ListPaymentsByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	v := &OrderView{Order: o, Payments: make([]PaymentSummary, 0, len(pays))}
	for i := range pays {
		v.Payments = append(v.Payments, *summarize(&pays[i]))
	}
	return v, nil
}

type RefundResult struct {
	RefundID     string           `json:"refund_id"`
	RefundStatus string           `json:"refund_status"`
	Outcome      payments.Outcome `json:"outcome,omitempty"`
	Payment      *orders.Payment  `json:"payment"`
}

// RequestRefund asks the provider to refund a completed payment. A refund the
// provider reports as succeeded is applied right away; a pending one only
// records the reason and waits for the refund webhook.
func (s *Service) RequestRefund(ctx context.Context, p auth.Principal, paymentID, reason string) (*RefundResult, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	pay, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	o, err := s.store.GetOrder(ctx, pay.OrderID)
	if err != nil {
		return nil, err
	}
	if pay.Status != orders.PaymentCompleted || !orders.CanTransition(o.Status, orders.StatusRefunded) {
		return nil, &orders.InvalidTransitionError{From: o.Status, To: orders.StatusRefunded}
	}
	ctx = s.log.WithOrderID(s.log.WithTransactionID(ctx, pay.TransactionID), o.ID)

	refund, err := s.provider.CreateRefund(ctx, pay.TransactionID, reason)
	if err != nil {
		return nil, providerError("create refund", err)
	}
	res := &RefundResult{RefundID: refund.ID, RefundStatus: refund.Status}
	switch refund.Status {
	case stripex.RefundSucceeded:
		res.Outcome, err = s.rec.MarkRefunded(ctx, pay.TransactionID, reason, p.Actor())
	case stripex.RefundFailed:
		s.log.Warn(ctx, "provider rejected refund")
	default:
		err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
			locked, err := tx.LockPayment(ctx, pay.ID)
			if err != nil {
				return err
			}
			locked.RefundReason = reason
			locked.UpdatedAt = s.now().UTC()
			return tx.UpdatePayment(ctx, locked)
		})
	}
	if err != nil {
		return nil, err
	}
	if res.Payment, err = s.store.GetPayment(ctx, pay.ID); err != nil {
		return nil, err
	}
	s.log.Info(s.log.WithField(ctx, "refund_status", refund.Status), "refund requested")
	return res, nil
}

func providerError(op string, err error) error {
	var pce *orders.ProviderCommunicationError
	if errors.As(err, &pce) {
		return err
	}
	return &orders.ProviderCommunicationError{Op: op, Err: err}
}
