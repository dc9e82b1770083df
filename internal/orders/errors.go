package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrInvalidItems       = errors.New("invalid order items")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicate          = errors.New("duplicate record")
	// ErrConflict reports a request that clashes with one still in progress.
	ErrConflict = errors.New("conflicting request in progress")
	// ErrDependencyUnavailable wraps failures of cache or broker backends.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// Shortage describes one line that could not be served from stock.
type Shortage struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError is returned before any stock or order row changes.
// ProductID/Requested/Available describe the first shortage in lock order;
// Shortages lists all of them so a client can fix the whole cart at once.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
	Shortages []Shortage
}

func NewInsufficientStock(shortages []Shortage) *InsufficientStockError {
	first := shortages[0]
	return &InsufficientStockError{
		ProductID: first.ProductID,
		Requested: first.Requested,
		Available: first.Available,
		Shortages: shortages,
	}
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", e.ProductID, e.Requested, e.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// ProviderCommunicationError wraps failures talking to the payment provider.
// No local state has been changed when it is returned, so callers may retry.
type ProviderCommunicationError struct {
	Op  string
	Err error
}

func (e *ProviderCommunicationError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderCommunicationError) Unwrap() error { return e.Err }
