// Package pricing is the single authority for splitting display prices into
// base and tax. It is pure: no I/O, no clock, no configuration reads.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("pricing: invalid amount")

// Mode selects how display prices relate to tax.
type Mode string

const (
	// TaxInclusive means display prices already contain tax; the base is
	// derived by division so that base + tax always equals the display
	// price to the cent.
	TaxInclusive Mode = "tax_inclusive"
	// TaxExclusive means tax is computed on top of the display price.
	TaxExclusive Mode = "tax_exclusive"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case TaxInclusive, TaxExclusive:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown price mode %q", s)
}

var one = decimal.NewFromInt(1)

// Split is the result of dividing a display price into base and tax.
type Split struct {
	Base    decimal.Decimal
	Tax     decimal.Decimal
	Display decimal.Decimal
}

// SplitPrice divides a display price into base and tax according to mode.
// Amounts are rounded half-up to two fractional digits.
func SplitPrice(display, taxRate decimal.Decimal, mode Mode) (Split, error) {
	if display.IsNegative() {
		return Split{}, fmt.Errorf("%w: display price %s is negative", ErrInvalidAmount, display)
	}
	if err := validateRate(taxRate); err != nil {
		return Split{}, err
	}

	switch mode {
	case TaxInclusive:
		base := display.Div(one.Add(taxRate)).Round(2)
		return Split{Base: base, Tax: display.Sub(base), Display: display}, nil
	case TaxExclusive:
		tax := display.Mul(taxRate).Round(2)
		return Split{Base: display, Tax: tax, Display: display}, nil
	}
	return Split{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidAmount, mode)
}

// ModifierInput is one selected modifier on a line.
type ModifierInput struct {
	Quantity       int
	UnitAdjustment decimal.Decimal
}

// LineInput describes one order line before pricing.
type LineInput struct {
	Quantity  int
	UnitPrice decimal.Decimal
	Modifiers []ModifierInput
}

// LineBreakdown is the priced form of a line. Base and Tax are split once per
// line; callers sum them without re-rounding.
type LineBreakdown struct {
	Base    decimal.Decimal
	Tax     decimal.Decimal
	Display decimal.Decimal
}

// LineTotal prices one line. Each modifier contributes its quantity times its
// unit adjustment to the effective unit price, which then scales by the line
// quantity. The split happens once on the line display amount.
func LineTotal(in LineInput, taxRate decimal.Decimal, mode Mode) (LineBreakdown, error) {
	if in.Quantity <= 0 {
		return LineBreakdown{}, fmt.Errorf("%w: quantity %d must be positive", ErrInvalidAmount, in.Quantity)
	}
	if in.UnitPrice.IsNegative() {
		return LineBreakdown{}, fmt.Errorf("%w: unit price %s is negative", ErrInvalidAmount, in.UnitPrice)
	}

	unit := in.UnitPrice
	for _, m := range in.Modifiers {
		if m.Quantity < 0 {
			return LineBreakdown{}, fmt.Errorf("%w: modifier quantity %d is negative", ErrInvalidAmount, m.Quantity)
		}
		if m.UnitAdjustment.IsNegative() {
			return LineBreakdown{}, fmt.Errorf("%w: modifier adjustment %s is negative", ErrInvalidAmount, m.UnitAdjustment)
		}
		unit = unit.Add(m.UnitAdjustment.Mul(decimal.NewFromInt(int64(m.Quantity))))
	}

	display := unit.Mul(decimal.NewFromInt(int64(in.Quantity)))
	split, err := SplitPrice(display, taxRate, mode)
	if err != nil {
		return LineBreakdown{}, err
	}
	return LineBreakdown{Base: split.Base, Tax: split.Tax, Display: split.Display}, nil
}

// Totals are the cached monetary fields of an order or session.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Tip      decimal.Decimal
	Total    decimal.Decimal
}

// OrderTotals sums priced lines and adds the tip. Line amounts were already
// rounded; the sums are exact and are not rounded again.
func OrderTotals(lines []LineBreakdown, tip decimal.Decimal) (Totals, error) {
	if tip.IsNegative() {
		return Totals{}, fmt.Errorf("%w: tip %s is negative", ErrInvalidAmount, tip)
	}
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Base)
		tax = tax.Add(l.Tax)
	}
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Tip:      tip,
		Total:    subtotal.Add(tax).Add(tip),
	}, nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: tax rate %s outside [0, 1)", ErrInvalidAmount, rate)
	}
	return nil
}
