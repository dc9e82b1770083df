package orders

type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusPaymentFailed Status = "payment_failed"
	StatusPaid          Status = "paid"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
	StatusRefunded      Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:       {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:    {StatusPaid: true, StatusCancelled: true, StatusPaymentFailed: true},
	StatusPaymentFailed: {StatusProcessing: true, StatusCancelled: true},
	StatusPaid:          {StatusShipped: true, StatusRefunded: true},
	StatusShipped:       {StatusDelivered: true, StatusRefunded: true},
	StatusDelivered:     {StatusRefunded: true},
	StatusCancelled:     {},
	StatusRefunded:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// IsTerminal reports statuses that accept no further regular transitions.
// Delivered still allows a refund, which the transition table covers.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCancelled, StatusRefunded, StatusDelivered:
		return true
	}
	return false
}

// ReleasesStock reports whether entering s gives reserved stock back.
func ReleasesStock(s Status) bool {
	return s == StatusCancelled || s == StatusRefunded
}

// Expirable lists the statuses an abandoned checkout can sit in while still
// holding reserved stock.
var Expirable = []Status{StatusPending, StatusProcessing, StatusPaymentFailed}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCard     PaymentMethod = "card"
	MethodPayPal   PaymentMethod = "paypal"
	MethodTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodPayPal, MethodTransfer:
		return true
	}
	return false
}

type MovementReason string

const (
	ReasonPurchase   MovementReason = "purchase"
	ReasonSale       MovementReason = "sale"
	ReasonReturn     MovementReason = "return"
	ReasonAdjustment MovementReason = "adjustment"
	ReasonDamage     MovementReason = "damage"
	ReasonLoss       MovementReason = "loss"
)

// Manual reports reasons an operator may record directly. Sale and return
// movements are written only by reservations and releases.
func (r MovementReason) Manual() bool {
	switch r {
	case ReasonPurchase, ReasonAdjustment, ReasonDamage, ReasonLoss:
		return true
	}
	return false
}
