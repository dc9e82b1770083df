package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// tx adapts a bolt transaction to ledger.Tx. The bolt writer lock already
// excludes every other writer, so the Lock* methods are plain reads.
type tx struct {
	b *bolt.Tx
}

func (t *tx) get(bucket []byte, key string, out any) error {
	v := t.b.Bucket(bucket).Get([]byte(key))
	if v == nil {
		return orders.ErrNotFound
	}
	return json.Unmarshal(v, out)
}

func (t *tx) put(bucket []byte, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.b.Bucket(bucket).Put([]byte(key), raw)
}

func (t *tx) product(id string) (*orders.Product, error) {
	var p orders.Product
	if err := t.get(bucketProducts, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) order(id string) (*orders.Order, error) {
	var o orders.Order
	if err := t.get(bucketOrders, id, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *tx) payment(id string) (*orders.Payment, error) {
	var p orders.Payment
	if err := t.get(bucketPayments, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) LockProducts(ctx context.Context, ids []string) (map[string]*orders.Product, error) {
	out := make(map[string]*orders.Product, len(ids))
	for _, id := range ids {
		p, err := t.product(id)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}

func (t *tx) SetStock(ctx context.Context, productID string, stock int) error {
	p, err := t.product(productID)
	if err != nil {
		return err
	}
	p.Stock = stock
	p.UpdatedAt = time.Now().UTC()
	return t.put(bucketProducts, p.ID, p)
}

func (t *tx) AppendMovement(ctx context.Context, m *orders.StockMovement) error {
	seq, err := t.b.Bucket(bucketMovements).NextSequence()
	if err != nil {
		return err
	}
	return t.put(bucketMovements, fmt.Sprintf("%s/%020d", m.ProductID, seq), m)
}

func (t *tx) UpsertProduct(ctx context.Context, p *orders.Product) error {
	return t.put(bucketProducts, p.ID, p)
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	if t.b.Bucket(bucketOrders).Get([]byte(o.ID)) != nil {
		return fmt.Errorf("order %s: %w", o.ID, orders.ErrDuplicate)
	}
	return t.put(bucketOrders, o.ID, o)
}

func (t *tx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return t.order(id)
}

func (t *tx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	current, err := t.order(o.ID)
	if err != nil {
		return err
	}
	current.Status = o.Status
	current.StockReserved = o.StockReserved
	current.StockReleased = o.StockReleased
	current.UpdatedAt = o.UpdatedAt
	return t.put(bucketOrders, current.ID, current)
}

func (t *tx) InsertPayment(ctx context.Context, p *orders.Payment) error {
	byTx := t.b.Bucket(bucketPaymentsByTx)
	if p.TransactionID != "" && byTx.Get([]byte(p.TransactionID)) != nil {
		return fmt.Errorf("transaction %s: %w", p.TransactionID, orders.ErrDuplicate)
	}
	if err := t.put(bucketPayments, p.ID, p); err != nil {
		return err
	}
	if p.TransactionID == "" {
		return nil
	}
	return byTx.Put([]byte(p.TransactionID), []byte(p.ID))
}

func (t *tx) LockPayment(ctx context.Context, id string) (*orders.Payment, error) {
	return t.payment(id)
}

func (t *tx) LockPaymentByTransaction(ctx context.Context, transactionID string) (*orders.Payment, error) {
	id := t.b.Bucket(bucketPaymentsByTx).Get([]byte(transactionID))
	if id == nil {
		return nil, orders.ErrNotFound
	}
	return t.payment(string(id))
}

func (t *tx) UpdatePayment(ctx context.Context, p *orders.Payment) error {
	if _, err := t.payment(p.ID); err != nil {
		return err
	}
	return t.put(bucketPayments, p.ID, p)
}
