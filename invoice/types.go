/*
Package invoice manages the invoice lifecycle and keeps the ledger in step
with it.

PURPOSE:
  An invoice moves draft -> pending/overdue -> paid, or into cancelled.
  Its totals are derived from line items, its status from payments and the
  clock, and certain status transitions append ledger entries:

    draft/cancelled -> pending/overdue/paid   debit the invoice total
    pending/overdue/paid -> cancelled         reverse that debit

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice: header with derived totals and status
  - Item: one priced line, amounts kept at full precision
  - Payment: money received against an invoice
  - Status: the five lifecycle states, and which of them are billable

DERIVED FIELDS:
  total_amount = round(subtotal + tax_total) (see money.CalculateInvoiceTotals)
  balance_due  = total_amount - total_paid

SEE ALSO:
  - status.go: status function
  - service.go: lifecycle operations and ledger side effects
  - numbering.go: invoice number generation
  - store.go: persistence interfaces
*/
package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
	"github.com/callumsoutar/flight-service-pro-sub000/money"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusOverdue   Status = "overdue"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusOverdue, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Billable reports whether an invoice in state s carries a ledger debit.
func (s Status) Billable() bool {
	return s == StatusPending || s == StatusOverdue || s == StatusPaid
}

// =============================================================================
// INVOICE
// =============================================================================

type Invoice struct {
	ID            string
	InvoiceNumber string
	UserID        string
	Status        Status

	Subtotal    decimal.Decimal
	TaxTotal    decimal.Decimal
	TotalAmount decimal.Decimal
	TotalPaid   decimal.Decimal
	BalanceDue  decimal.Decimal

	DueDate  *time.Time
	PaidDate *time.Time
	Notes    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// applyTotals copies t onto the invoice and recomputes the balance due.
func (inv *Invoice) applyTotals(t money.Totals) {
	inv.Subtotal = t.Subtotal
	inv.TaxTotal = t.TaxTotal
	inv.TotalAmount = t.TotalAmount
	inv.BalanceDue = t.TotalAmount.Sub(inv.TotalPaid)
}

// =============================================================================
// LINE ITEMS
// =============================================================================

type Item struct {
	ID          string
	InvoiceID   string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal

	// Derived by money.CalculateItemAmounts; never rounded.
	Amount        decimal.Decimal
	TaxAmount     decimal.Decimal
	LineTotal     decimal.Decimal
	RateInclusive decimal.Decimal

	CreatedAt time.Time
}

// Amounts returns the item's derived amounts.
func (it Item) Amounts() money.ItemAmounts {
	return money.ItemAmounts{
		Amount:        it.Amount,
		TaxAmount:     it.TaxAmount,
		LineTotal:     it.LineTotal,
		RateInclusive: it.RateInclusive,
	}
}

// NewItem is a line item as entered. A missing TaxRate is resolved from settings.
type NewItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.NullDecimal
}

// =============================================================================
// PAYMENTS
// =============================================================================

type Payment struct {
	ID            string
	InvoiceID     string
	UserID        string
	Amount        decimal.Decimal
	Method        string
	Reference     string
	TransactionID ledger.TransactionID
	PaidAt        time.Time
}

type PaymentInput struct {
	InvoiceID string
	Amount    decimal.Decimal
	Method    string
	Reference string
}

// =============================================================================
// INPUTS & QUERIES
// =============================================================================

type NewInvoice struct {
	UserID  string
	DueDate *time.Time
	Notes   string
	Items   []NewItem
}

// Filter narrows ListInvoices. Zero fields match everything.
type Filter struct {
	UserID string
	Status Status
	Limit  int
}

// TotalsResult reports what UpdateInvoiceTotals did.
type TotalsResult struct {
	Subtotal           decimal.Decimal
	TaxTotal           decimal.Decimal
	TotalAmount        decimal.Decimal
	TransactionCreated bool
	TransactionID      ledger.TransactionID
}
