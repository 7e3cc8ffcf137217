/*
Package money provides exact decimal arithmetic for invoice lines and totals.

PURPOSE:
  Every monetary figure in the ledger core is computed here. Floating point
  never touches a money value: inputs, intermediates and outputs are all
  decimal.Decimal.

ROUNDING POLICY:
  Item-level figures keep full precision (1.5 x 100 x 0.15 = 22.5, and
  0.001 x 0.01 = 0.00001 stays 0.00001). Only the three invoice aggregates
  are rounded, each to 2 places, independently:

    Subtotal    = round2(sum(amount))
    TaxTotal    = round2(sum(tax_amount))
    TotalAmount = round2(sum(amount) + sum(tax_amount))

  TotalAmount is rounded from the UNROUNDED sums. Rounding each line first and
  summing afterwards can differ by a cent, so don't.

SEE ALSO:
  - invoice/service.go: recomputes invoice totals from persisted items
*/
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places invoice aggregates are rounded to.
const Places int32 = 2

// ErrInvalidAmount is returned for unparseable or out-of-range money values.
var ErrInvalidAmount = errors.New("invalid amount")

// =============================================================================
// LINE ITEMS
// =============================================================================

// ItemInput is the raw calculation input for one invoice line.
// A TaxRate that is not Valid is treated as zero.
type ItemInput struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.NullDecimal
}

// ItemAmounts holds the derived figures for one invoice line, unrounded.
type ItemAmounts struct {
	Amount        decimal.Decimal
	TaxAmount     decimal.Decimal
	LineTotal     decimal.Decimal
	RateInclusive decimal.Decimal
}

// CalculateItemAmounts derives amount, tax, line total and the tax-inclusive
// unit rate. Negative quantities (refund lines) flow through linearly.
// RateInclusive depends only on unit price and tax rate, never on quantity.
func CalculateItemAmounts(quantity, unitPrice decimal.Decimal, taxRate decimal.NullDecimal) ItemAmounts {
	rate := decimal.Zero
	if taxRate.Valid {
		rate = taxRate.Decimal
	}

	amount := quantity.Mul(unitPrice)
	tax := amount.Mul(rate)

	return ItemAmounts{
		Amount:        amount,
		TaxAmount:     tax,
		LineTotal:     amount.Add(tax),
		RateInclusive: unitPrice.Mul(decimal.NewFromInt(1).Add(rate)),
	}
}

// Calculate is a convenience wrapper over CalculateItemAmounts.
func (in ItemInput) Calculate() ItemAmounts {
	return CalculateItemAmounts(in.Quantity, in.UnitPrice, in.TaxRate)
}

// =============================================================================
// INVOICE TOTALS
// =============================================================================

// Totals are the rounded invoice aggregates.
type Totals struct {
	Subtotal    decimal.Decimal
	TaxTotal    decimal.Decimal
	TotalAmount decimal.Decimal
}

// CalculateInvoiceTotals sums every line at full precision and rounds the
// three aggregates independently. An empty slice yields all zeros.
func CalculateInvoiceTotals(items []ItemAmounts) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Amount)
		tax = tax.Add(it.TaxAmount)
	}

	return Totals{
		Subtotal:    Round(subtotal),
		TaxTotal:    Round(tax),
		TotalAmount: Round(subtotal.Add(tax)),
	}
}

// IsZero reports whether every aggregate is zero.
func (t Totals) IsZero() bool {
	return t.Subtotal.IsZero() && t.TaxTotal.IsZero() && t.TotalAmount.IsZero()
}

// =============================================================================
// HELPERS
// =============================================================================

// Round rounds to Places decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// ParseAmount parses a decimal string. Empty input is an error.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ParseOptional parses s into a NullDecimal; empty input is not Valid.
func ParseOptional(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// MustParse parses s and panics on failure. Meant for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
