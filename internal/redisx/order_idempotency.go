package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// ErrRequestInFlight is returned when another request holding the same
// idempotency key has not finished yet.
var ErrRequestInFlight = fmt.Errorf("%w: idempotency key in use", orders.ErrConflict)

const inFlight = "-"

// OrderKeys maps a client's Idempotency-Key to the order it created.
type OrderKeys struct {
	store Store
	ttl   time.Duration
}

func NewOrderKeys(store Store, ttl time.Duration) *OrderKeys {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &OrderKeys{store: store, ttl: ttl}
}

// Claim reserves key for userID. When the key already completed, the order id
// it produced is returned with claimed=false.
func (k *OrderKeys) Claim(ctx context.Context, userID, key string) (orderID string, claimed bool, err error) {
	redisKey := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	ok, err := k.store.SetNX(ctx, redisKey, inFlight, k.ttl)
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}
	v, err := k.store.Get(ctx, redisKey)
	if IsMiss(err) {
		// expired between the two calls
		return k.Claim(ctx, userID, key)
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	if v == inFlight {
		return "", false, ErrRequestInFlight
	}
	return v, false, nil
}

func (k *OrderKeys) Complete(ctx context.Context, userID, key, orderID string) error {
	return k.store.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, k.ttl)
}

// Abandon frees a claimed key after the request failed.
func (k *OrderKeys) Abandon(ctx context.Context, userID, key string) error {
	return k.store.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key))
}
