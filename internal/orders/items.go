package orders

import (
	"fmt"
	"sort"
	"strings"
)

type ItemQty struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0"`
}

// NormalizeItems merges duplicate product lines, rejects non-positive
// quantities and returns the lines sorted by product id. The sort order is the
// global lock order used by every stock mutation.
func NormalizeItems(items []ItemQty) ([]ItemQty, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidItems)
	}
	merged := make(map[string]int, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: missing product id", ErrInvalidItems)
		}
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: invalid qty for product %s", ErrInvalidItems, id)
		}
		merged[id] += it.Qty
	}
	out := make([]ItemQty, 0, len(merged))
	for id, qty := range merged {
		out = append(out, ItemQty{ProductID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ProductIDs returns the product ids of already normalized items.
func ProductIDs(items []ItemQty) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
