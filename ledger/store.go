package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists ledger transactions.
//
// Lookups that find nothing return (nil, nil), never an error.
// Insert must reject a repeated IdempotencyKey with ErrDuplicateIdempotencyKey;
// a UNIQUE constraint is what closes the lookup-then-insert race.
type Store interface {
	// Insert appends a transaction.
	Insert(ctx context.Context, tx Transaction) error

	// Transaction returns one transaction by id.
	Transaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// ByIdempotencyKey returns the transaction holding key.
	ByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// InvoiceDebits returns every invoice_debit debit for an invoice, oldest first.
	InvoiceDebits(ctx context.Context, invoiceID string) ([]Transaction, error)

	// ReversalOf returns the transaction reversing id.
	ReversalOf(ctx context.Context, id TransactionID) (*Transaction, error)

	// UpdateAmount is the only in-place edit: an amount correction.
	UpdateAmount(ctx context.Context, id TransactionID, amount decimal.Decimal, at time.Time) error

	// AccountBalance is the server-side aggregate: completed debits minus
	// completed credits. Not Valid when the user has no transactions.
	AccountBalance(ctx context.Context, userID string) (decimal.NullDecimal, error)

	// UserTransactions returns a user's transactions created at or after
	// since, newest first. A zero since returns everything.
	UserTransactions(ctx context.Context, userID string, since time.Time) ([]Transaction, error)

	// UserIDs returns every distinct user with at least one transaction.
	UserIDs(ctx context.Context) ([]string, error)
}
