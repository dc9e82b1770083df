package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPaid, false},
		{StatusProcessing, StatusPaid, true},
		{StatusProcessing, StatusPaymentFailed, true},
		{StatusPaymentFailed, StatusProcessing, true},
		{StatusPaymentFailed, StatusPaid, false},
		{StatusPaid, StatusShipped, true},
		{StatusPaid, StatusCancelled, false},
		{StatusShipped, StatusDelivered, true},
		{StatusDelivered, StatusRefunded, true},
		{StatusDelivered, StatusProcessing, false},
		{StatusCancelled, StatusPending, false},
		{StatusRefunded, StatusPaid, false},
		{Status("bogus"), StatusPaid, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, IsTerminal(StatusCancelled))
	assert.True(t, IsTerminal(StatusRefunded))
	assert.True(t, IsTerminal(StatusDelivered))
	assert.False(t, IsTerminal(StatusPaid))

	for _, s := range []Status{StatusCancelled, StatusRefunded} {
		for to := range validNext {
			assert.Falsef(t, CanTransition(s, to), "%s must be terminal", s)
		}
	}
}

func TestMovementReasonManual(t *testing.T) {
	assert.True(t, ReasonDamage.Manual())
	assert.False(t, ReasonSale.Manual())
	assert.False(t, ReasonReturn.Manual())
}
