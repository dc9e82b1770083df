// Package boltdb provides an embedded BoltDB implementation of ledger.Store.
//
// All data lives in a single file, so no database process is required. Bolt
// allows one writer at a time: every WithTx call runs inside db.Update, which
// gives the same all-or-nothing and no-lost-update guarantees the Postgres
// store gets from row locks, at the cost of serializing writers.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

var (
	bucketProducts     = []byte("products")
	bucketOrders       = []byte("orders")
	bucketPayments     = []byte("payments")
	bucketPaymentsByTx = []byte("payments_by_tx")
	bucketMovements    = []byte("stock_movements")

	allBuckets = [][]byte{bucketProducts, bucketOrders, bucketPayments, bucketPaymentsByTx, bucketMovements}
)

var _ ledger.Store = (*Store)(nil)

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&tx{b: btx})
	})
}

func (s *Store) view(fn func(t *tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&tx{b: btx})
	})
}

func (s *Store) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	var p *orders.Product
	err := s.view(func(t *tx) error {
		var err error
		p, err = t.product(id)
		return err
	})
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return s.scanProducts(func(orders.Product) bool { return true })
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]orders.Product, error) {
	out, err := s.scanProducts(func(p orders.Product) bool { return p.IsActive && p.Stock < threshold })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stock < out[j].Stock })
	return out, nil
}

func (s *Store) scanProducts(keep func(orders.Product) bool) ([]orders.Product, error) {
	out := []orders.Product{}
	err := s.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketProducts).ForEach(func(k, v []byte) error {
			var p orders.Product
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if keep(p) {
				out = append(out, p)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) ListMovements(ctx context.Context, productID string) ([]orders.StockMovement, error) {
	out := []orders.StockMovement{}
	prefix := []byte(productID + "/")
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketMovements).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var m orders.StockMovement
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			// product ids may contain '/', so the key prefix alone is not enough
			if m.ProductID != productID {
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	var o *orders.Order
	err := s.view(func(t *tx) error {
		var err error
		o, err = t.order(id)
		return err
	})
	return o, err
}

func (s *Store) ListOrders(ctx context.Context, filter orders.OrderFilter) ([]orders.Order, error) {
	out, err := s.scanOrders(func(o orders.Order) bool {
		if filter.UserID != "" && o.UserID != filter.UserID {
			return false
		}
		return filter.Status == "" || o.Status == filter.Status
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) FindStaleOrders(ctx context.Context, statuses []orders.Status, cutoff time.Time) ([]orders.Order, error) {
	wanted := make(map[orders.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	out, err := s.scanOrders(func(o orders.Order) bool {
		return wanted[o.Status] && o.UpdatedAt.Before(cutoff)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) scanOrders(keep func(orders.Order) bool) ([]orders.Order, error) {
	out := []orders.Order{}
	err := s.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketOrders).ForEach(func(k, v []byte) error {
			var o orders.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if keep(o) {
				out = append(out, o)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) GetPayment(ctx context.Context, id string) (*orders.Payment, error) {
	var p *orders.Payment
	err := s.view(func(t *tx) error {
		var err error
		p, err = t.payment(id)
		return err
	})
	return p, err
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]orders.Payment, error) {
	out := []orders.Payment{}
	err := s.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketPayments).ForEach(func(k, v []byte) error {
			var p orders.Payment
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.OrderID == orderID {
				out = append(out, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}
