package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

var _ ledger.Store = (*Store)(nil)

// Store is the pgx implementation of ledger.Store. Row locks come from
// SELECT ... FOR UPDATE inside WithTx.
type Store struct{ DB *pgxpool.Pool }

func NewStore(pool *pgxpool.Pool) *Store { return &Store{DB: pool} }

func (s *Store) Close() error {
	s.DB.Close()
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier is the subset shared by the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const productColumns = `id, name, price, stock, is_active, created_at, updated_at`

const orderColumns = `id, user_id, status, payment_method, subtotal, tax, shipping_cost, total,
	shipping_address, billing_address, stock_reserved, stock_released, created_at, updated_at`

const paymentColumns = `id, order_id, amount, currency, payment_method, status, transaction_id,
	payment_details, error_message, refund_reason, created_at, updated_at`

func scanProduct(row pgx.Row) (*orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentMethod, &o.Subtotal, &o.Tax, &o.ShippingCost, &o.Total,
		&o.ShippingAddress, &o.BillingAddress, &o.StockReserved, &o.StockReleased, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func scanPayment(row pgx.Row) (*orders.Payment, error) {
	var p orders.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.PaymentMethod, &p.Status, &p.TransactionID,
		&p.Details, &p.ErrorMessage, &p.RefundReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ErrNotFound
	}
	return err
}

func loadItems(ctx context.Context, q querier, o *orders.Order) error {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, total_price
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Items = o.Items[:0]
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	return scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]orders.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products
		WHERE is_active AND stock < $1 ORDER BY stock, id`, threshold)
}

func (s *Store) queryProducts(ctx context.Context, sql string, args ...any) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) ListMovements(ctx context.Context, productID string) ([]orders.StockMovement, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, product_id, quantity_changed, reason, previous_stock, new_stock,
		actor_id, order_id, note, created_at
		FROM stock_movements WHERE product_id=$1 ORDER BY created_at, id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.StockMovement{}
	for rows.Next() {
		var m orders.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.QuantityChanged, &m.Reason, &m.PreviousStock, &m.NewStock,
			&m.ActorID, &m.OrderID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, s.DB, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, filter orders.OrderFilter) ([]orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`
	args := []any{filter.UserID, string(filter.Status)}
	if filter.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryOrders(ctx, sql, args...)
}

func (s *Store) FindStaleOrders(ctx context.Context, statuses []orders.Status, cutoff time.Time) ([]orders.Order, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1) AND updated_at < $2 ORDER BY updated_at`, names, cutoff)
}

func (s *Store) queryOrders(ctx context.Context, sql string, args ...any) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadItems(ctx, s.DB, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*orders.Payment, error) {
	return scanPayment(s.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]orders.Payment, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
