package pricing_test

import (
	"testing"

	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSplitPrice_TaxInclusive(t *testing.T) {
	tests := []struct {
		name     string
		display  string
		rate     string
		wantBase string
		wantTax  string
	}{
		{"menu drink", "35.00", "0.16", "30.17", "4.83"},
		{"burger with modifier", "86.50", "0.16", "74.57", "11.93"},
		{"zero price", "0.00", "0.16", "0.00", "0.00"},
		{"zero rate", "35.00", "0", "35.00", "0.00"},
		{"one cent", "0.01", "0.16", "0.01", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pricing.SplitPrice(d(tt.display), d(tt.rate), pricing.TaxInclusive)
			require.NoError(t, err)
			assert.True(t, got.Base.Equal(d(tt.wantBase)), "base = %s, want %s", got.Base, tt.wantBase)
			assert.True(t, got.Tax.Equal(d(tt.wantTax)), "tax = %s, want %s", got.Tax, tt.wantTax)
			// The inclusive split conserves the display price to the cent.
			assert.True(t, got.Base.Add(got.Tax).Equal(d(tt.display)))
		})
	}
}

func TestSplitPrice_TaxExclusive(t *testing.T) {
	got, err := pricing.SplitPrice(d("100.00"), d("0.16"), pricing.TaxExclusive)
	require.NoError(t, err)
	assert.True(t, got.Base.Equal(d("100.00")))
	assert.True(t, got.Tax.Equal(d("16.00")))
}

func TestSplitPrice_Invalid(t *testing.T) {
	_, err := pricing.SplitPrice(d("-1.00"), d("0.16"), pricing.TaxInclusive)
	assert.ErrorIs(t, err, pricing.ErrInvalidAmount)

	_, err = pricing.SplitPrice(d("10.00"), d("1.00"), pricing.TaxInclusive)
	assert.ErrorIs(t, err, pricing.ErrInvalidAmount)

	_, err = pricing.SplitPrice(d("10.00"), d("-0.01"), pricing.TaxInclusive)
	assert.ErrorIs(t, err, pricing.ErrInvalidAmount)
}

func TestLineTotal_Modifiers(t *testing.T) {
	line, err := pricing.LineTotal(pricing.LineInput{
		Quantity:  1,
		UnitPrice: d("85.00"),
		Modifiers: []pricing.ModifierInput{{Quantity: 1, UnitAdjustment: d("1.50")}},
	}, d("0.16"), pricing.TaxInclusive)
	require.NoError(t, err)
	assert.True(t, line.Display.Equal(d("86.50")))
	assert.True(t, line.Base.Equal(d("74.57")))
	assert.True(t, line.Tax.Equal(d("11.93")))
}

func TestLineTotal_ZeroPricedModifier(t *testing.T) {
	with, err := pricing.LineTotal(pricing.LineInput{
		Quantity:  2,
		UnitPrice: d("35.00"),
		Modifiers: []pricing.ModifierInput{{Quantity: 1, UnitAdjustment: d("0.00")}},
	}, d("0.16"), pricing.TaxInclusive)
	require.NoError(t, err)

	without, err := pricing.LineTotal(pricing.LineInput{
		Quantity:  2,
		UnitPrice: d("35.00"),
	}, d("0.16"), pricing.TaxInclusive)
	require.NoError(t, err)

	// A zero-priced modifier contributes exactly nothing.
	assert.True(t, with.Base.Equal(without.Base))
	assert.True(t, with.Tax.Equal(without.Tax))
}

func TestLineTotal_Invalid(t *testing.T) {
	_, err := pricing.LineTotal(pricing.LineInput{Quantity: 0, UnitPrice: d("10.00")}, d("0.16"), pricing.TaxInclusive)
	assert.ErrorIs(t, err, pricing.ErrInvalidAmount)

	_, err = pricing.LineTotal(pricing.LineInput{
		Quantity:  1,
		UnitPrice: d("10.00"),
		Modifiers: []pricing.ModifierInput{{Quantity: 1, UnitAdjustment: d("-0.50")}},
	}, d("0.16"), pricing.TaxInclusive)
	assert.ErrorIs(t, err, pricing.ErrInvalidAmount)
}

func TestOrderTotals(t *testing.T) {
	burger, err := pricing.LineTotal(pricing.LineInput{
		Quantity:  1,
		UnitPrice: d("85.00"),
		Modifiers: []pricing.ModifierInput{{Quantity: 1, UnitAdjustment: d("1.50")}},
	}, d("0.16"), pricing.TaxInclusive)
	require.NoError(t, err)
	lemonade, err := pricing.LineTotal(pricing.LineInput{Quantity: 1, UnitPrice: d("35.00")}, d("0.16"), pricing.TaxInclusive)
	require.NoError(t, err)

	totals, err := pricing.OrderTotals([]pricing.LineBreakdown{burger, lemonade}, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, totals.Subtotal.Equal(d("104.74")), "subtotal = %s", totals.Subtotal)
	assert.True(t, totals.Tax.Equal(d("16.76")), "tax = %s", totals.Tax)
	assert.True(t, totals.Total.Equal(d("121.50")), "total = %s", totals.Total)

	// total == subtotal + tax + tip for any tip.
	withTip, err := pricing.OrderTotals([]pricing.LineBreakdown{burger, lemonade}, d("12.15"))
	require.NoError(t, err)
	assert.True(t, withTip.Total.Equal(withTip.Subtotal.Add(withTip.Tax).Add(withTip.Tip)))
}

func TestOrderTotals_NegativeTip(t *testing.T) {
	_, err := pricing.OrderTotals(nil, d("-1.00"))
	assert.ErrorIs(t, err, pricing.ErrInvalidAmount)
}

func TestParseMode(t *testing.T) {
	m, err := pricing.ParseMode("tax_inclusive")
	require.NoError(t, err)
	assert.Equal(t, pricing.TaxInclusive, m)

	_, err = pricing.ParseMode("vat")
	assert.Error(t, err)
}
