package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// ErrorWriter renders an authentication or authorization failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware attaches the bearer token's principal to the request context.
// Requests without an Authorization header continue as anonymous; a header
// with an invalid token is rejected.
func Middleware(issuer *Issuer, log *logger.Logger, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Anonymous())))
				return
			}
			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			p, err := issuer.Parse(token)
			if err != nil {
				fail(w, r, fmt.Errorf("%w: %v", orders.ErrUnauthenticated, err))
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			ctx = log.WithFields(ctx, map[string]any{"user_id": p.UserID, "staff": p.Staff})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStaff rejects anonymous callers with ErrUnauthenticated and
// non-staff callers with ErrForbidden.
func RequireStaff(fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := FromContext(r.Context())
			switch {
			case !p.Authenticated:
				fail(w, r, orders.ErrUnauthenticated)
			case !p.Staff:
				fail(w, r, orders.ErrForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
