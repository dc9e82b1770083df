// Package ledger defines the storage contract for products, orders, order
// items, payments and stock movements. Implementations live in
// internal/postgres and internal/boltdb.
package ledger

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// Store is the durable ledger. Reads outside WithTx see committed state only.
type Store interface {
	// WithTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetProduct(ctx context.Context, id string) (*orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
	ListLowStock(ctx context.Context, threshold int) ([]orders.Product, error)
	ListMovements(ctx context.Context, productID string) ([]orders.StockMovement, error)

	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	ListOrders(ctx context.Context, filter orders.OrderFilter) ([]orders.Order, error)
	// FindStaleOrders returns orders in one of statuses whose last update is
	// older than cutoff.
	FindStaleOrders(ctx context.Context, statuses []orders.Status, cutoff time.Time) ([]orders.Order, error)

	GetPayment(ctx context.Context, id string) (*orders.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]orders.Payment, error)

	Close() error
}

// Tx is the write surface. Lock* methods take a row lock held until the
// transaction ends ("select for update"); callers lock products in ascending
// id order.
type Tx interface {
	// LockProducts locks ids in the given order and returns them keyed by id.
	// A missing id yields orders.ErrNotFound.
	LockProducts(ctx context.Context, ids []string) (map[string]*orders.Product, error)
	SetStock(ctx context.Context, productID string, stock int) error
	AppendMovement(ctx context.Context, m *orders.StockMovement) error
	UpsertProduct(ctx context.Context, p *orders.Product) error

	InsertOrder(ctx context.Context, o *orders.Order) error
	LockOrder(ctx context.Context, id string) (*orders.Order, error)
	// UpdateOrder persists status, stock flags and updated_at.
	UpdateOrder(ctx context.Context, o *orders.Order) error

	InsertPayment(ctx context.Context, p *orders.Payment) error
	LockPayment(ctx context.Context, id string) (*orders.Payment, error)
	LockPaymentByTransaction(ctx context.Context, transactionID string) (*orders.Payment, error)
	UpdatePayment(ctx context.Context, p *orders.Payment) error
}
