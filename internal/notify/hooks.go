package notify

import (
	"context"

	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// StatusHook sends the customer a notification for every committed change.
type StatusHook struct{ Sink Sink }

func (h StatusHook) OnTransition(ctx context.Context, c lifecycle.Change) error {
	h.Sink.Notify(ctx, StatusChanged(c.Order.ID, c.Order.UserID, c.To))
	return nil
}

// OrderCreated implements checkout.CreatedHook.
func (h StatusHook) OrderCreated(ctx context.Context, o *orders.Order) {
	h.Sink.Notify(ctx, NewOrder(o))
}

// StockAlerter adapts a Sink to inventory.Alerter.
type StockAlerter struct{ Sink Sink }

func (a StockAlerter) LowStock(ctx context.Context, p orders.Product, threshold int) {
	a.Sink.Notify(ctx, LowStock(p, threshold))
}
