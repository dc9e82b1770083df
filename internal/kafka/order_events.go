package kafka

import (
	"context"

	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// OrderEvents publishes OrderCreated and OrderStatusChanged envelopes keyed
// by order id, so every event of one order lands on the same partition.
type OrderEvents struct {
	p        *Producer
	producer string
	log      *logger.Logger
}

func NewOrderEvents(p *Producer, producer string, log *logger.Logger) *OrderEvents {
	return &OrderEvents{p: p, producer: producer, log: log}
}

func (e *OrderEvents) OrderCreated(ctx context.Context, o *orders.Order) {
	e.publish(ctx, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayloadFor(o))
}

// OnTransition implements lifecycle.Hook.
func (e *OrderEvents) OnTransition(ctx context.Context, c lifecycle.Change) error {
	e.publish(ctx, orders.EventOrderStatusChanged, c.Order.ID, orders.OrderStatusChangedPayload{
		OrderID:       c.Order.ID,
		UserID:        c.Order.UserID,
		From:          c.From,
		To:            c.To,
		Actor:         c.Actor.String(),
		StockReleased: c.StockReleased,
	})
	return nil
}

func (e *OrderEvents) publish(ctx context.Context, eventType, orderID string, payload any) {
	ctx = e.log.WithFields(ctx, map[string]any{"order_id": orderID, "event_type": eventType})
	env, err := orders.NewEnvelope(eventType, e.producer, orderID, payload)
	if err != nil {
		e.log.Error(ctx, "encode order event", err)
		return
	}
	value, headers, err := EnvelopeMessage(env)
	if err != nil {
		e.log.Error(ctx, "encode order event", err)
		return
	}
	if err := e.p.TryPublish(orders.PartitionKey(orderID), value, headers...); err != nil {
		e.log.Warn(e.log.WithField(ctx, "reason", err.Error()), "order event dropped")
	}
}
