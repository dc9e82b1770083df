package orders

import "github.com/shopspring/decimal"

// Pricing holds the configurable tax and shipping rules applied at checkout.
type Pricing struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	ShippingFlatRate      decimal.Decimal
	Currency              string
}

// DefaultPricing is 20% tax with free shipping from 50.00, otherwise 5.99.
func DefaultPricing() Pricing {
	return Pricing{
		TaxRate:               decimal.RequireFromString("0.20"),
		FreeShippingThreshold: decimal.RequireFromString("50.00"),
		ShippingFlatRate:      decimal.RequireFromString("5.99"),
		Currency:              "eur",
	}
}

type Totals struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
}

// Quote computes order totals from a subtotal. All amounts are rounded to
// cents before summing so Total is exactly Subtotal+Tax+ShippingCost.
func (p Pricing) Quote(subtotal decimal.Decimal) Totals {
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(p.TaxRate).Round(2)
	shipping := p.ShippingFlatRate.Round(2)
	if subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	return Totals{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shipping,
		Total:        subtotal.Add(tax).Add(shipping),
	}
}

// LineTotal returns quantity x unit price.
func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// MinorUnits converts an amount to the smallest currency unit (cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
