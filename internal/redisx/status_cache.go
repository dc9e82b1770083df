package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

type CachedStatus struct {
	OrderID   string        `json:"order_id"`
	UserID    string        `json:"user_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps a short-lived copy of each order's status. It is filled
// on read misses and overwritten by every committed transition.
type StatusCache struct {
	store Store
	ttl   time.Duration
}

func NewStatusCache(store Store, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	return &StatusCache{store: store, ttl: ttl}
}

// Get returns the cached status; ok is false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	var cs CachedStatus
	raw, err := c.store.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID))
	if IsMiss(err) {
		return cs, false, nil
	}
	if err != nil {
		return cs, false, err
	}
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		// unreadable entries read as a miss until the next transition overwrites them
		return cs, false, nil
	}
	return cs, true, nil
}

// Put overwrites the entry. Only committed transitions write through Put.
func (c *StatusCache) Put(ctx context.Context, o *orders.Order) error {
	b, err := encodeStatus(o)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, fmt.Sprintf(KeyOrderStatus, o.ID), b, c.ttl)
}

// Fill stores a status read from the ledger after a miss. It never replaces
// an existing entry, so a transition that committed after the read wins.
func (c *StatusCache) Fill(ctx context.Context, o *orders.Order) error {
	b, err := encodeStatus(o)
	if err != nil {
		return err
	}
	_, err = c.store.SetNX(ctx, fmt.Sprintf(KeyOrderStatus, o.ID), b, c.ttl)
	return err
}

func encodeStatus(o *orders.Order) ([]byte, error) {
	return json.Marshal(CachedStatus{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    o.Status,
		UpdatedAt: o.UpdatedAt,
	})
}

// OnTransition implements lifecycle.Hook.
func (c *StatusCache) OnTransition(ctx context.Context, ch lifecycle.Change) error {
	if ch.NoOp {
		return nil
	}
	return c.Put(ctx, &ch.Order)
}
