// Package checkout is the customer and staff facing order workflow: placing
// orders, paying for them, cancelling them and refunding them. It composes
// the reservation engine, the state machine and payment reconciliation; it
// never changes stock or status on its own.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-ledger/internal/auth"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/ariefcatur/go-order-ledger/internal/payments"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
	"github.com/ariefcatur/go-order-ledger/internal/stripex"
)

// PaymentProvider is the part of the payment gateway checkout needs.
type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (stripex.Intent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (stripex.Intent, error)
	CreateRefund(ctx context.Context, transactionID, reason string) (stripex.Refund, error)
}

// CreatedHook is told about every committed new order.
type CreatedHook interface {
	OrderCreated(ctx context.Context, o *orders.Order)
}

// IdempotencyKeys remembers which order a client request key produced.
type IdempotencyKeys interface {
	Claim(ctx context.Context, userID, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, userID, key, orderID string) error
	Abandon(ctx context.Context, userID, key string) error
}

// StatusCache is a read-through cache of order status.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Fill(ctx context.Context, o *orders.Order) error
}

type Params struct {
	Store      ledger.Store
	Stock      *inventory.Service
	Machine    *lifecycle.Machine
	Reconciler *payments.Reconciler
	Provider   PaymentProvider
	Pricing    orders.Pricing
	Logger     *logger.Logger
	Keys       IdempotencyKeys
	Cache      StatusCache
	Created    []CreatedHook
}

type Service struct {
	store    ledger.Store
	stock    *inventory.Service
	machine  *lifecycle.Machine
	rec      *payments.Reconciler
	provider PaymentProvider
	pricing  orders.Pricing
	log      *logger.Logger
	keys     IdempotencyKeys
	cache    StatusCache
	created  []CreatedHook
	now      func() time.Time
}

func NewService(p Params) (*Service, error) {
	switch {
	case p.Store == nil:
		return nil, errors.New("store required")
	case p.Stock == nil:
		return nil, errors.New("stock service required")
	case p.Machine == nil:
		return nil, errors.New("state machine required")
	case p.Reconciler == nil:
		return nil, errors.New("reconciler required")
	case p.Provider == nil:
		return nil, errors.New("payment provider required")
	case p.Logger == nil:
		return nil, errors.New("logger required")
	}
	if p.Pricing.Currency == "" {
		p.Pricing = orders.DefaultPricing()
	}
	return &Service{
		store:    p.Store,
		stock:    p.Stock,
		machine:  p.Machine,
		rec:      p.Reconciler,
		provider: p.Provider,
		pricing:  p.Pricing,
		log:      p.Logger,
		keys:     p.Keys,
		cache:    p.Cache,
		created:  p.Created,
		now:      time.Now,
	}, nil
}

type CreateOrderInput struct {
	Items           []orders.ItemQty     `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   orders.PaymentMethod `json:"payment_method" validate:"omitempty,oneof=card paypal transfer"`
	ShippingAddress string               `json:"shipping_address" validate:"max=500"`
	BillingAddress  string               `json:"billing_address" validate:"max=500"`
	// IdempotencyKey makes retries of the same request return the first order.
	IdempotencyKey string `json:"-"`
}

// CreateOrder reserves stock and stores the order with frozen unit prices in
// one transaction. replayed is true when the idempotency key had already
// produced an order, which is returned unchanged.
func (s *Service) CreateOrder(ctx context.Context, p auth.Principal, in CreateOrderInput) (o *orders.Order, replayed bool, err error) {
	if !p.Authenticated {
		return nil, false, orders.ErrUnauthenticated
	}
	items, err := orders.NormalizeItems(in.Items)
	if err != nil {
		return nil, false, err
	}
	method := in.PaymentMethod
	if method == "" {
		method = orders.MethodCard
	}
	if !method.Valid() {
		return nil, false, fmt.Errorf("%w: payment method %q", orders.ErrInvalidInput, method)
	}
	ctx = s.log.WithUserID(ctx, p.UserID)

	if in.IdempotencyKey != "" && s.keys != nil {
		existing, claimed, err := s.keys.Claim(ctx, p.UserID, in.IdempotencyKey)
		if err != nil {
			if errors.Is(err, orders.ErrConflict) {
				return nil, false, err
			}
			return nil, false, fmt.Errorf("%w: %v", orders.ErrDependencyUnavailable, err)
		}
		if !claimed {
			o, err := s.store.GetOrder(ctx, existing)
			return o, true, err
		}
		defer func() {
			if err != nil {
				if aerr := s.keys.Abandon(ctx, p.UserID, in.IdempotencyKey); aerr != nil {
					s.log.Error(ctx, "release idempotency key", aerr)
				}
				return
			}
			if cerr := s.keys.Complete(ctx, p.UserID, in.IdempotencyKey, o.ID); cerr != nil {
				s.log.Error(ctx, "store idempotency key", cerr)
			}
		}()
	}

	orderID := uuid.NewString()
	ctx = s.log.WithOrderID(ctx, orderID)
	var res *inventory.Reservation
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		res, err = s.stock.ReserveTx(ctx, tx, orderID, items, p.Actor())
		if err != nil {
			return err
		}
		now := s.now().UTC()
		o = &orders.Order{
			ID:              orderID,
			UserID:          p.UserID,
			Status:          orders.StatusPending,
			PaymentMethod:   method,
			ShippingAddress: in.ShippingAddress,
			BillingAddress:  in.BillingAddress,
			StockReserved:   true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		subtotal := decimal.Zero
		for i, it := range res.Items {
			unit := res.Products[it.ProductID].Price
			line := orders.LineTotal(unit, it.Qty)
			subtotal = subtotal.Add(line)
			o.Items = append(o.Items, orders.OrderItem{
				ID:         fmt.Sprintf("%s-%d", orderID, i+1),
				OrderID:    orderID,
				ProductID:  it.ProductID,
				Quantity:   it.Qty,
				UnitPrice:  unit,
				TotalPrice: line,
			})
		}
		t := s.pricing.Quote(subtotal)
		o.Subtotal, o.Tax, o.ShippingCost, o.Total = t.Subtotal, t.Tax, t.ShippingCost, t.Total
		return tx.InsertOrder(ctx, o)
	})
	if err != nil {
		return nil, false, err
	}

	s.log.Info(s.log.WithField(ctx, "total", o.Total.StringFixed(2)), "order created")
	s.stock.AlertLow(ctx, res.Low)
	for _, h := range s.created {
		h.OrderCreated(ctx, o)
	}
	return o, false, nil
}

// GetOrder returns the order when p owns it or is staff.
func (s *Service) GetOrder(ctx context.Context, p auth.Principal, orderID string) (*orders.Order, error) {
	if !p.Authenticated {
		return nil, orders.ErrUnauthenticated
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(o.UserID) {
		return nil, orders.ErrForbidden
	}
	return o, nil
}

// ListOrders returns p's own orders, or every order for staff.
func (s *Service) ListOrders(ctx context.Context, p auth.Principal, status orders.Status, limit int) ([]orders.Order, error) {
	if !p.Authenticated {
		return nil, orders.ErrUnauthenticated
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidInput, status)
	}
	f := orders.OrderFilter{Status: status, Limit: limit}
	if !p.Staff {
		f.UserID = p.UserID
	}
	return s.store.ListOrders(ctx, f)
}

type StatusView struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
	Cached    bool          `json:"cached"`
}

// OrderStatus serves the status from the cache when present. Cache failures
// fall back to the store.
func (s *Service) OrderStatus(ctx context.Context, p auth.Principal, orderID string) (*StatusView, error) {
	if !p.Authenticated {
		return nil, orders.ErrUnauthenticated
	}
	if s.cache != nil {
		cs, ok, err := s.cache.Get(ctx, orderID)
		if err != nil {
			s.log.Warn(s.log.WithField(ctx, "reason", err.Error()), "status cache unavailable")
		}
		if ok {
			if !p.CanAccess(cs.UserID) {
				return nil, orders.ErrForbidden
			}
			return &StatusView{OrderID: orderID, Status: cs.Status, UpdatedAt: cs.UpdatedAt, Cached: true}, nil
		}
	}
	o, err := s.GetOrder(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Fill(ctx, o); err != nil {
			s.log.Warn(s.log.WithField(ctx, "reason", err.Error()), "status cache write failed")
		}
	}
	return &StatusView{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt}, nil
}

// CancelOrder cancels on behalf of the owner or staff. Cancelling an already
// cancelled order is a no-op.
func (s *Service) CancelOrder(ctx context.Context, p auth.Principal, orderID string) (*orders.Order, error) {
	if _, err := s.GetOrder(ctx, p, orderID); err != nil {
		return nil, err
	}
	ch, err := s.machine.Transition(ctx, orderID, orders.StatusCancelled, p.Actor())
	if err != nil {
		return nil, err
	}
	return &ch.Order, nil
}

// TransitionOrder is the staff override for moves such as shipping and
// delivery. It goes through the same table as every other caller.
func (s *Service) TransitionOrder(ctx context.Context, p auth.Principal, orderID string, to orders.Status) (*orders.Order, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidInput, to)
	}
	ch, err := s.machine.Transition(ctx, orderID, to, p.Actor())
	if err != nil {
		return nil, err
	}
	return &ch.Order, nil
}

func requireStaff(p auth.Principal) error {
	if !p.Authenticated {
		return orders.ErrUnauthenticated
	}
	if !p.Staff {
		return orders.ErrForbidden
	}
	return nil
}
