// Package inventory is the stock reservation engine. Every stock mutation
// locks the touched product rows in ascending product id order and records a
// StockMovement next to the new stock value.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/metrics"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// Alerter is told about products that dropped under the low-stock threshold.
type Alerter interface {
	LowStock(ctx context.Context, p orders.Product, threshold int)
}

type Options struct {
	// MaxStock above which a release is reported as suspicious. 0 disables.
	MaxStock          int
	LowStockThreshold int
	Metrics           *metrics.Ledger
	Alerts            Alerter
}

type Service struct {
	store ledger.Store
	log   *logger.Logger
	opts  Options
	now   func() time.Time
}

func New(store ledger.Store, log *logger.Logger, opts Options) *Service {
	return &Service{store: store, log: log, opts: opts, now: time.Now}
}

// Reservation is the outcome of a successful reserve.
type Reservation struct {
	Items []orders.ItemQty
	// Products holds the locked rows after the decrement, keyed by id.
	Products map[string]*orders.Product
	// Low lists products that ended below the low-stock threshold.
	Low []orders.Product
}

// Reserve takes items out of stock in its own transaction. Either every line
// is reserved or nothing changes.
func (s *Service) Reserve(ctx context.Context, orderID string, items []orders.ItemQty, actor orders.Actor) (*Reservation, error) {
	var res *Reservation
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		res, err = s.ReserveTx(ctx, tx, orderID, items, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.AlertLow(ctx, res.Low)
	return res, nil
}

// ReserveTx reserves inside the caller's transaction. All lines are checked
// before the first write so a shortage never leaves a partial decrement
// behind, even if the caller ignores the error and commits.
func (s *Service) ReserveTx(ctx context.Context, tx ledger.Tx, orderID string, items []orders.ItemQty, actor orders.Actor) (*Reservation, error) {
	items, err := orders.NormalizeItems(items)
	if err != nil {
		return nil, err
	}

	products, err := tx.LockProducts(ctx, orders.ProductIDs(items))
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			s.opts.Metrics.Reservation("unavailable")
			return nil, fmt.Errorf("%w: %v", orders.ErrProductUnavailable, err)
		}
		return nil, err
	}

	var shortages []orders.Shortage
	for _, it := range items {
		p := products[it.ProductID]
		if !p.IsActive {
			s.opts.Metrics.Reservation("unavailable")
			return nil, fmt.Errorf("%w: product %s is not active", orders.ErrProductUnavailable, p.ID)
		}
		if p.Stock < it.Qty {
			shortages = append(shortages, orders.Shortage{ProductID: p.ID, Requested: it.Qty, Available: p.Stock})
		}
	}
	if len(shortages) > 0 {
		s.opts.Metrics.Reservation("insufficient_stock")
		return nil, orders.NewInsufficientStock(shortages)
	}

	res := &Reservation{Items: items, Products: products}
	for _, it := range items {
		p := products[it.ProductID]
		if _, err := s.movement(ctx, tx, p, -it.Qty, orders.ReasonSale, orderID, "", actor); err != nil {
			return nil, err
		}
		if s.opts.LowStockThreshold > 0 && p.Stock < s.opts.LowStockThreshold {
			res.Low = append(res.Low, *p)
		}
	}
	s.opts.Metrics.Reservation("ok")
	return res, nil
}

// Release returns items to stock in its own transaction.
func (s *Service) Release(ctx context.Context, orderID string, items []orders.ItemQty, actor orders.Actor) error {
	return s.store.WithTx(ctx, func(tx ledger.Tx) error {
		return s.ReleaseTx(ctx, tx, orderID, items, actor)
	})
}

// ReleaseTx adds items back to stock inside the caller's transaction. It does
// not know whether the items were ever reserved; the order's stock flags are
// what make a release happen once.
func (s *Service) ReleaseTx(ctx context.Context, tx ledger.Tx, orderID string, items []orders.ItemQty, actor orders.Actor) error {
	items, err := orders.NormalizeItems(items)
	if err != nil {
		return err
	}
	products, err := tx.LockProducts(ctx, orders.ProductIDs(items))
	if err != nil {
		return err
	}

	units := 0
	for _, it := range items {
		p := products[it.ProductID]
		if _, err := s.movement(ctx, tx, p, it.Qty, orders.ReasonReturn, orderID, "", actor); err != nil {
			return err
		}
		units += it.Qty
		if s.opts.MaxStock > 0 && p.Stock > s.opts.MaxStock {
			s.opts.Metrics.OverRelease(p.ID)
			wctx := s.log.WithFields(ctx, map[string]any{
				"product_id": p.ID,
				"order_id":   orderID,
				"stock":      p.Stock,
				"max_stock":  s.opts.MaxStock,
			})
			s.log.Warn(wctx, "release pushed stock above configured maximum")
		}
	}
	s.opts.Metrics.Released(units)
	return nil
}

// Adjust records a manual stock movement (purchase, adjustment, damage, loss).
// The result may not go below zero.
func (s *Service) Adjust(ctx context.Context, productID string, delta int, reason orders.MovementReason, note string, actor orders.Actor) (*orders.StockMovement, error) {
	if !reason.Manual() {
		return nil, fmt.Errorf("%w: reason %q cannot be recorded manually", orders.ErrInvalidInput, reason)
	}
	if delta == 0 {
		return nil, fmt.Errorf("%w: quantity must not be zero", orders.ErrInvalidInput)
	}

	var (
		mv  *orders.StockMovement
		low *orders.Product
	)
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		products, err := tx.LockProducts(ctx, []string{productID})
		if err != nil {
			return err
		}
		p := products[productID]
		if p.Stock+delta < 0 {
			return orders.NewInsufficientStock([]orders.Shortage{{ProductID: p.ID, Requested: -delta, Available: p.Stock}})
		}
		mv, err = s.movement(ctx, tx, p, delta, reason, "", note, actor)
		if err != nil {
			return err
		}
		if s.opts.LowStockThreshold > 0 && p.IsActive && p.Stock < s.opts.LowStockThreshold {
			low = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if low != nil {
		s.AlertLow(ctx, []orders.Product{*low})
	}
	return mv, nil
}

// movement writes the new stock and its audit row, and updates p in place.
func (s *Service) movement(ctx context.Context, tx ledger.Tx, p *orders.Product, delta int, reason orders.MovementReason, orderID, note string, actor orders.Actor) (*orders.StockMovement, error) {
	now := s.now().UTC()
	mv := &orders.StockMovement{
		ID:              uuid.NewString(),
		ProductID:       p.ID,
		QuantityChanged: delta,
		Reason:          reason,
		PreviousStock:   p.Stock,
		NewStock:        p.Stock + delta,
		ActorID:         actor.String(),
		OrderID:         orderID,
		Note:            note,
		CreatedAt:       now,
	}
	if !mv.Valid() {
		return nil, fmt.Errorf("stock for %s would become %d", p.ID, mv.NewStock)
	}
	if err := tx.SetStock(ctx, p.ID, mv.NewStock); err != nil {
		return nil, err
	}
	if err := tx.AppendMovement(ctx, mv); err != nil {
		return nil, err
	}
	p.Stock = mv.NewStock
	p.UpdatedAt = now
	return mv, nil
}

// AlertLow hands products to the configured Alerter. Call it after commit.
func (s *Service) AlertLow(ctx context.Context, low []orders.Product) {
	if s.opts.Alerts == nil {
		return
	}
	for _, p := range low {
		s.opts.Alerts.LowStock(ctx, p, s.opts.LowStockThreshold)
	}
}

type LowStockReport struct {
	Threshold  int              `json:"threshold"`
	Products   []orders.Product `json:"products"`
	TotalValue decimal.Decimal  `json:"total_value"`
}

// LowStock lists active products under threshold together with the value of
// all stock on hand. A threshold <= 0 uses the configured one.
func (s *Service) LowStock(ctx context.Context, threshold int) (*LowStockReport, error) {
	if threshold <= 0 {
		threshold = s.opts.LowStockThreshold
	}
	low, err := s.store.ListLowStock(ctx, threshold)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, p := range all {
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Stock))))
	}
	return &LowStockReport{Threshold: threshold, Products: low, TotalValue: total.Round(2)}, nil
}

func (s *Service) Movements(ctx context.Context, productID string) ([]orders.StockMovement, error) {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.store.ListMovements(ctx, productID)
}

func (s *Service) Products(ctx context.Context) ([]orders.Product, error) {
	return s.store.ListProducts(ctx)
}
