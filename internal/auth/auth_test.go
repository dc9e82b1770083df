package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

func newIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(config.JWTConfig{Secret: "secret", Issuer: "order-ledger", TTL: time.Hour})
	require.NoError(t, err)
	return i
}

func TestSignAndParse(t *testing.T) {
	i := newIssuer(t)
	token, err := i.Sign(Principal{UserID: "u1", Staff: true, Email: "a@b.c"}, 0)
	require.NoError(t, err)

	p, err := i.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{Authenticated: true, Staff: true, UserID: "u1", Email: "a@b.c"}, p)
	assert.Equal(t, orders.Actor{ID: "u1", Role: orders.RoleStaff}, p.Actor())
}

func TestParseRejects(t *testing.T) {
	i := newIssuer(t)

	expired, err := i.Sign(Principal{UserID: "u1"}, time.Minute)
	require.NoError(t, err)
	i.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = i.Parse(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	i.now = time.Now

	other, err := NewIssuer(config.JWTConfig{Secret: "other", Issuer: "order-ledger"})
	require.NoError(t, err)
	forged, err := other.Sign(Principal{UserID: "u1", Staff: true}, 0)
	require.NoError(t, err)
	_, err = i.Parse(forged)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "iss": "order-ledger"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = i.Parse(unsigned)
	assert.Error(t, err)

	_, err = i.Sign(Principal{}, 0)
	assert.Error(t, err)
}

func TestNewIssuerValidates(t *testing.T) {
	_, err := NewIssuer(config.JWTConfig{Issuer: "x"})
	assert.Error(t, err)
	_, err = NewIssuer(config.JWTConfig{Secret: "x"})
	assert.Error(t, err)
}

func TestCanAccess(t *testing.T) {
	assert.True(t, Principal{Authenticated: true, UserID: "u1"}.CanAccess("u1"))
	assert.False(t, Principal{Authenticated: true, UserID: "u1"}.CanAccess("u2"))
	assert.True(t, Principal{Authenticated: true, Staff: true, UserID: "s"}.CanAccess("u2"))
	assert.False(t, Anonymous().CanAccess(""))
}

type failure struct{ err error }

func (f *failure) write(w http.ResponseWriter, _ *http.Request, err error) {
	f.err = err
	w.WriteHeader(http.StatusUnauthorized)
}

func TestMiddleware(t *testing.T) {
	i := newIssuer(t)
	f := &failure{}
	var got Principal
	h := Middleware(i, logger.Nop(), f.write)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, got.Authenticated)

	token, err := i.Sign(Principal{UserID: "u1"}, 0)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.Authenticated)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, errors.Is(f.err, orders.ErrUnauthenticated))
}

func TestRequireStaff(t *testing.T) {
	f := &failure{}
	called := false
	h := RequireStaff(f.write)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	serve := func(p Principal) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithPrincipal(context.Background(), p))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	serve(Anonymous())
	assert.ErrorIs(t, f.err, orders.ErrUnauthenticated)
	serve(Principal{Authenticated: true, UserID: "u1"})
	assert.ErrorIs(t, f.err, orders.ErrForbidden)
	assert.False(t, called)
	serve(Principal{Authenticated: true, Staff: true, UserID: "s1"})
	assert.True(t, called)
}
