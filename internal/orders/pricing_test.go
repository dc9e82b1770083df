package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuoteAboveFreeShippingThreshold(t *testing.T) {
	totals := DefaultPricing().Quote(dec("60.00"))

	assert.True(t, totals.Subtotal.Equal(dec("60.00")))
	assert.True(t, totals.Tax.Equal(dec("12.00")))
	assert.True(t, totals.ShippingCost.IsZero())
	assert.True(t, totals.Total.Equal(dec("72.00")))
}

func TestQuoteBelowThresholdChargesShipping(t *testing.T) {
	p := DefaultPricing()
	p.FreeShippingThreshold = dec("100.00")
	totals := p.Quote(dec("60.00"))

	assert.True(t, totals.ShippingCost.Equal(dec("5.99")))
	assert.Equal(t, "77.99", totals.Total.StringFixed(2))
}

func TestQuoteTotalIsExactSum(t *testing.T) {
	p := DefaultPricing()
	for _, raw := range []string{"0.01", "19.99", "33.33", "49.99", "1234.57"} {
		totals := p.Quote(dec(raw))
		sum := totals.Subtotal.Add(totals.Tax).Add(totals.ShippingCost)
		assert.Truef(t, totals.Total.Equal(sum), "subtotal %s", raw)
		assert.Equal(t, int32(-2), totals.Tax.Exponent(), "tax kept in cents")
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(7799), MinorUnits(dec("77.99")))
	assert.Equal(t, int64(1000), MinorUnits(dec("10")))
}
