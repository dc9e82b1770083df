package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Status          Status          `json:"status"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress string          `json:"shipping_address"`
	BillingAddress  string          `json:"billing_address"`
	// StockReserved is set when the order's items were taken out of stock;
	// StockReleased once they were given back. Both together make release
	// happen at most once per order.
	StockReserved bool        `json:"stock_reserved"`
	StockReleased bool        `json:"stock_released"`
	Items         []OrderItem `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ItemQuantities returns the order lines as reservation input.
func (o *Order) ItemQuantities() []ItemQty {
	out := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}

// HoldsStock reports whether the order currently keeps stock out of inventory.
func (o *Order) HoldsStock() bool {
	return o.StockReserved && !o.StockReleased
}

type OrderItem struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type Payment struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"order_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod PaymentMethod     `json:"payment_method"`
	Status        PaymentStatus     `json:"status"`
	TransactionID string            `json:"transaction_id"`
	Details       map[string]string `json:"payment_details,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	RefundReason  string            `json:"refund_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type StockMovement struct {
	ID              string         `json:"id"`
	ProductID       string         `json:"product_id"`
	QuantityChanged int            `json:"quantity_changed"`
	Reason          MovementReason `json:"reason"`
	PreviousStock   int            `json:"previous_stock"`
	NewStock        int            `json:"new_stock"`
	ActorID         string         `json:"actor_id"`
	OrderID         string         `json:"order_id,omitempty"`
	Note            string         `json:"note,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Valid reports whether previous + delta == new and new stock is not negative.
func (m StockMovement) Valid() bool {
	return m.PreviousStock+m.QuantityChanged == m.NewStock && m.NewStock >= 0
}

// OrderFilter narrows order listings. Empty fields match everything.
type OrderFilter struct {
	UserID string
	Status Status
	Limit  int
}
