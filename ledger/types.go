/*
Package ledger records money movement for members as an append-only trail
of debits and credits.

PURPOSE:
  Invoices and payments never change a balance directly. They append
  transactions here, and the balance is always derived from the trail.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: one ledger entry, always a positive magnitude
  - Type: debit (member owes more) / credit (member owes less) / refund / adjustment
  - Metadata: open key-value map tying an entry to its business document

DESIGN PRINCIPLES:
  1. Append-only: entries are corrected by reversal, not by edit. The single
     exception is UpdateTransactionAmount for invoice amount corrections.
  2. Precision: decimal.Decimal throughout.
  3. Idempotency: every system-created entry carries a unique idempotency key.

SIGN CONVENTION:
  balance(user) = sum(completed debits) - sum(completed credits)
  Positive means the member owes the school money.

SEE ALSO:
  - ledger.go: debit/credit/reversal creation
  - balance.go: balance aggregation and history
  - store.go: persistence interface
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS & ENUMS
// =============================================================================

type TransactionID string

// Short returns the first 8 characters of the id.
func (id TransactionID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

type Type string

const (
	TypeDebit      Type = "debit"
	TypeCredit     Type = "credit"
	TypeRefund     Type = "refund"
	TypeAdjustment Type = "adjustment"
)

// Opposite returns the type a reversal of t is recorded as. Only debits and
// credits move the balance, so only they can be offset.
func (t Type) Opposite() (Type, bool) {
	switch t {
	case TypeDebit:
		return TypeCredit, true
	case TypeCredit:
		return TypeDebit, true
	}
	return "", false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Kind is the metadata "transaction_type" tag set by the system.
type Kind string

const (
	KindInvoiceDebit  Kind = "invoice_debit"
	KindPaymentCredit Kind = "payment_credit"
	KindReversal      Kind = "reversal"
)

// Metadata keys.
const (
	MetaInvoiceID       = "invoice_id"
	MetaInvoiceNumber   = "invoice_number"
	MetaPaymentID       = "payment_id"
	MetaTransactionType = "transaction_type"
	MetaReversalOf      = "reversal_of"
	MetaReversalReason  = "reversal_reason"
)

// Metadata is the open key-value map attached to each transaction.
type Metadata map[string]string

// Clone returns a shallow copy; nil stays nil-safe.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Kind returns the transaction_type tag.
func (m Metadata) Kind() Kind { return Kind(m[MetaTransactionType]) }

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID              TransactionID
	UserID          string
	Type            Type
	Amount          decimal.Decimal // always a positive magnitude
	Description     string
	Metadata        Metadata
	ReferenceNumber string
	Status          Status
	IdempotencyKey  string

	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InvoiceID returns the invoice the transaction belongs to, if any.
func (tx Transaction) InvoiceID() string { return tx.Metadata[MetaInvoiceID] }

// ReversalOf returns the id of the transaction this one reverses, if any.
func (tx Transaction) ReversalOf() TransactionID {
	return TransactionID(tx.Metadata[MetaReversalOf])
}

// Effect is the signed contribution of tx to the balance.
// Only completed debits and credits move the balance.
func (tx Transaction) Effect() decimal.Decimal {
	if tx.Status != StatusCompleted {
		return decimal.Zero
	}
	switch tx.Type {
	case TypeDebit:
		return tx.Amount
	case TypeCredit:
		return tx.Amount.Neg()
	default:
		return decimal.Zero
	}
}
