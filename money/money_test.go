package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callumsoutar/flight-service-pro-sub000/money"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

func rate(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

// =============================================================================
// ITEM AMOUNTS
// =============================================================================

func TestCalculateItemAmounts_KeepsFullPrecision(t *testing.T) {
	got := money.CalculateItemAmounts(d("1.5"), d("100"), rate("0.15"))

	assertDecimal(t, "150", got.Amount)
	assertDecimal(t, "22.5", got.TaxAmount)
	assertDecimal(t, "172.5", got.LineTotal)
	assertDecimal(t, "115", got.RateInclusive)
}

func TestCalculateItemAmounts_TinyValuesNotRounded(t *testing.T) {
	got := money.CalculateItemAmounts(d("0.001"), d("0.01"), decimal.NullDecimal{})

	assertDecimal(t, "0.00001", got.Amount)
	assertDecimal(t, "0", got.TaxAmount)
	assertDecimal(t, "0.00001", got.LineTotal)
}

func TestCalculateItemAmounts_MissingTaxRateIsZero(t *testing.T) {
	got := money.CalculateItemAmounts(d("3"), d("45.50"), decimal.NullDecimal{})

	assertDecimal(t, "136.5", got.Amount)
	assertDecimal(t, "0", got.TaxAmount)
	assertDecimal(t, "45.50", got.RateInclusive)
}

func TestCalculateItemAmounts_ZeroQuantityStillHasRate(t *testing.T) {
	got := money.CalculateItemAmounts(decimal.Zero, d("200"), rate("0.15"))

	assertDecimal(t, "0", got.Amount)
	assertDecimal(t, "0", got.TaxAmount)
	assertDecimal(t, "0", got.LineTotal)
	assertDecimal(t, "230", got.RateInclusive)
}

func TestCalculateItemAmounts_NegativeQuantityIsLinear(t *testing.T) {
	pos := money.CalculateItemAmounts(d("2"), d("100"), rate("0.15"))
	neg := money.CalculateItemAmounts(d("-2"), d("100"), rate("0.15"))

	assertDecimal(t, pos.Amount.Neg().String(), neg.Amount)
	assertDecimal(t, pos.TaxAmount.Neg().String(), neg.TaxAmount)
	assertDecimal(t, pos.LineTotal.Neg().String(), neg.LineTotal)
	assertDecimal(t, pos.RateInclusive.String(), neg.RateInclusive)
}

func TestCalculateItemAmounts_Invariants(t *testing.T) {
	cases := []struct{ q, p, r string }{
		{"1", "1", "0"},
		{"2.5", "180", "0.15"},
		{"0.333", "99.99", "0.125"},
		{"12", "0.07", "0.2"},
		{"7", "1234.5678", "0.0825"},
	}
	for _, c := range cases {
		got := money.CalculateItemAmounts(d(c.q), d(c.p), rate(c.r))

		assert.True(t, got.Amount.Equal(d(c.q).Mul(d(c.p))), "amount for %+v", c)
		assert.True(t, got.LineTotal.Equal(got.Amount.Add(got.TaxAmount)), "line total for %+v", c)
		assert.True(t, got.RateInclusive.Equal(d(c.p).Mul(d("1").Add(d(c.r)))), "rate inclusive for %+v", c)
	}
}

// =============================================================================
// INVOICE TOTALS
// =============================================================================

func TestCalculateInvoiceTotals_Empty(t *testing.T) {
	got := money.CalculateInvoiceTotals(nil)

	assert.True(t, got.IsZero())
}

func TestCalculateInvoiceTotals_RoundsAggregates(t *testing.T) {
	got := money.CalculateInvoiceTotals([]money.ItemAmounts{
		{Amount: d("99.99"), TaxAmount: d("14.9985")},
		{Amount: d("50.01"), TaxAmount: d("7.5015")},
	})

	assertDecimal(t, "150", got.Subtotal)
	assertDecimal(t, "22.5", got.TaxTotal)
	assertDecimal(t, "172.5", got.TotalAmount)
}

func TestCalculateInvoiceTotals_TotalFromUnroundedSums(t *testing.T) {
	// 10.004 and 0.004 each round down; their sum 10.008 rounds up.
	got := money.CalculateInvoiceTotals([]money.ItemAmounts{
		{Amount: d("10.004"), TaxAmount: d("0.004")},
	})

	assertDecimal(t, "10", got.Subtotal)
	assertDecimal(t, "0", got.TaxTotal)
	assertDecimal(t, "10.01", got.TotalAmount)
}

func TestCalculateInvoiceTotals_SingleFlightLesson(t *testing.T) {
	item := money.ItemInput{Quantity: d("2"), UnitPrice: d("100"), TaxRate: rate("0.15")}.Calculate()
	got := money.CalculateInvoiceTotals([]money.ItemAmounts{item})

	assertDecimal(t, "200", got.Subtotal)
	assertDecimal(t, "30", got.TaxTotal)
	assertDecimal(t, "230", got.TotalAmount)
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseAmount(t *testing.T) {
	v, err := money.ParseAmount("12.345")
	require.NoError(t, err)
	assertDecimal(t, "12.345", v)

	_, err = money.ParseAmount("")
	assert.ErrorIs(t, err, money.ErrInvalidAmount)

	_, err = money.ParseAmount("twelve")
	assert.ErrorIs(t, err, money.ErrInvalidAmount)
}

func TestParseOptional(t *testing.T) {
	v, err := money.ParseOptional("")
	require.NoError(t, err)
	assert.False(t, v.Valid)

	v, err = money.ParseOptional("0.15")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assertDecimal(t, "0.15", v.Decimal)
}
