// Package notify delivers user-facing notifications. Producers hand a
// Notification to a Sink and move on; delivery never blocks or fails the
// operation that caused it.
package notify

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

type Type string

const (
	TypeOrderCreated Type = "order_created"
	TypeOrderStatus  Type = "order_status"
	TypePayment      Type = "payment"
	TypeStockAlert   Type = "stock_alert"
)

// StaffAudience addresses every staff member instead of a single user.
const StaffAudience = "staff"

type Notification struct {
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	OrderID   string    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Sink interface {
	Notify(ctx context.Context, n Notification)
}

type NopSink struct{}

func (NopSink) Notify(context.Context, Notification) {}

// publisher is satisfied by *kafka.Producer.
type publisher interface {
	TryPublish(key, value []byte, headers ...kafkago.Header) error
}

// KafkaSink publishes NotificationRequested envelopes. A full buffer drops the
// notification with a warning.
type KafkaSink struct {
	pub      publisher
	producer string
	log      *logger.Logger
}

func NewKafkaSink(pub publisher, producer string, log *logger.Logger) *KafkaSink {
	return &KafkaSink{pub: pub, producer: producer, log: log}
}

func (s *KafkaSink) Notify(ctx context.Context, n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	lctx := s.log.WithFields(ctx, map[string]any{"notification_type": n.Type, "notify_user": n.UserID})

	env, err := orders.NewEnvelope(orders.EventNotificationRequested, s.producer, n.OrderID, n)
	if err != nil {
		s.log.Error(lctx, "encode notification", err)
		return
	}
	value, headers, err := kafka.EnvelopeMessage(env)
	if err != nil {
		s.log.Error(lctx, "encode notification", err)
		return
	}
	key := []byte(n.UserID)
	if n.OrderID != "" {
		key = orders.PartitionKey(n.OrderID)
	}
	if err := s.pub.TryPublish(key, value, headers...); err != nil {
		s.log.Warn(s.log.WithField(lctx, "reason", err.Error()), "notification dropped")
	}
}

// NewOrder is sent to the customer right after checkout commits.
func NewOrder(o *orders.Order) Notification {
	return Notification{
		UserID:  o.UserID,
		Title:   "New order",
		Message: fmt.Sprintf("Your order #%s was created. Total: %s", o.ID, o.Total.StringFixed(2)),
		Type:    TypeOrderCreated,
		OrderID: o.ID,
	}
}

// StatusChanged tells the customer where their order is now.
func StatusChanged(orderID, userID string, to orders.Status) Notification {
	n := Notification{
		UserID:  userID,
		Title:   "Order status updated",
		Message: fmt.Sprintf("Your order #%s is now: %s", orderID, to),
		Type:    TypeOrderStatus,
		OrderID: orderID,
	}
	switch to {
	case orders.StatusPaid:
		n.Title, n.Type = "Payment received", TypePayment
	case orders.StatusPaymentFailed:
		n.Title, n.Type = "Payment failed", TypePayment
	case orders.StatusRefunded:
		n.Title, n.Type = "Order refunded", TypePayment
	}
	return n
}

// LowStock warns staff about a product running out.
func LowStock(p orders.Product, threshold int) Notification {
	return Notification{
		UserID:  StaffAudience,
		Title:   "Low stock",
		Message: fmt.Sprintf("%s (%s) has %d left, below the threshold of %d", p.Name, p.ID, p.Stock, threshold),
		Type:    TypeStockAlert,
	}
}
