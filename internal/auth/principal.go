// Package auth identifies the caller of a request. Tokens are HS256 JWTs
// issued by Issuer; requests without a token run as the anonymous principal.
package auth

import (
	"context"

	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

type Principal struct {
	Authenticated bool   `json:"authenticated"`
	Staff         bool   `json:"staff"`
	UserID        string `json:"user_id"`
	Email         string `json:"email,omitempty"`
}

func Anonymous() Principal { return Principal{} }

// Actor converts p for audit records.
func (p Principal) Actor() orders.Actor {
	if p.Staff {
		return orders.Actor{ID: p.UserID, Role: orders.RoleStaff}
	}
	return orders.Actor{ID: p.UserID, Role: orders.RoleCustomer}
}

// CanAccess reports whether p may read or act on a resource owned by userID.
func (p Principal) CanAccess(userID string) bool {
	return p.Staff || (p.Authenticated && p.UserID == userID)
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the request principal, anonymous when none was set.
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(ctxKey{}).(Principal); ok {
		return p
	}
	return Anonymous()
}
