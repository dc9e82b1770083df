package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

const uniqueViolation = "23505"

type pgTx struct{ tx pgx.Tx }

// LockProducts locks each product row with FOR UPDATE, one statement per id in
// the order given, so two batches sharing products always queue on the same
// first row instead of deadlocking.
func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]*orders.Product, error) {
	out := make(map[string]*orders.Product, len(ids))
	for _, id := range ids {
		p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}

func (t *pgTx) SetStock(ctx context.Context, productID string, stock int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=now() WHERE id=$1`, productID, stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product %s: %w", productID, orders.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendMovement(ctx context.Context, m *orders.StockMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements(id, product_id, quantity_changed, reason, previous_stock, new_stock, actor_id, order_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.ID, m.ProductID, m.QuantityChanged, string(m.Reason), m.PreviousStock, m.NewStock, m.ActorID, m.OrderID, m.Note, m.CreatedAt)
	return err
}

func (t *pgTx) UpsertProduct(ctx context.Context, p *orders.Product) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO products(id, name, price, stock, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, price=EXCLUDED.price, stock=EXCLUDED.stock,
			is_active=EXCLUDED.is_active, updated_at=EXCLUDED.updated_at`,
		p.ID, p.Name, p.Price, p.Stock, p.IsActive, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, payment_method, subtotal, tax, shipping_cost, total,
			shipping_address, billing_address, stock_reserved, stock_released, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.UserID, string(o.Status), string(o.PaymentMethod), o.Subtotal, o.Tax, o.ShippingCost, o.Total,
		o.ShippingAddress, o.BillingAddress, o.StockReserved, o.StockReleased, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return duplicate(err, "order "+o.ID)
	}

	for _, it := range o.Items {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.TotalPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, t.tx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, stock_reserved=$3, stock_released=$4, updated_at=$5 WHERE id=$1`,
		o.ID, string(o.Status), o.StockReserved, o.StockReleased, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", o.ID, orders.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *orders.Payment) error {
	details := p.Details
	if details == nil {
		details = map[string]string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, amount, currency, payment_method, status, transaction_id,
			payment_details, error_message, refund_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.OrderID, p.Amount, p.Currency, string(p.PaymentMethod), string(p.Status), p.TransactionID,
		details, p.ErrorMessage, p.RefundReason, p.CreatedAt, p.UpdatedAt)
	return duplicate(err, "transaction "+p.TransactionID)
}

func (t *pgTx) LockPayment(ctx context.Context, id string) (*orders.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) LockPaymentByTransaction(ctx context.Context, transactionID string) (*orders.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id=$1 FOR UPDATE`, transactionID))
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *orders.Payment) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE payments SET status=$2, error_message=$3, refund_reason=$4, payment_details=$5, updated_at=$6
		WHERE id=$1`,
		p.ID, string(p.Status), p.ErrorMessage, p.RefundReason, p.Details, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("payment %s: %w", p.ID, orders.ErrNotFound)
	}
	return nil
}

func duplicate(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", what, orders.ErrDuplicate)
	}
	return err
}
