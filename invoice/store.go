package invoice

import (
	"context"

	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

// Repository persists invoices, their items and payments.
//
// Lookups that find nothing return (nil, nil). Updates and deletes of
// missing rows return ErrInvoiceNotFound or ErrItemNotFound.
type Repository interface {
	CreateInvoice(ctx context.Context, inv Invoice) error
	Invoice(ctx context.Context, id string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	// ListInvoices returns matching invoices, newest first.
	ListInvoices(ctx context.Context, f Filter) ([]Invoice, error)

	AddItem(ctx context.Context, item Item) error
	// Items returns an invoice's items in insertion order.
	Items(ctx context.Context, invoiceID string) ([]Item, error)
	DeleteItem(ctx context.Context, invoiceID, itemID string) error

	CreatePayment(ctx context.Context, p Payment) error
	Payments(ctx context.Context, invoiceID string) ([]Payment, error)

	// NextInvoiceSequence returns the next counter value for prefix, starting
	// at 1. Allocation must be serialized per prefix.
	NextInvoiceSequence(ctx context.Context, prefix string) (int64, error)
}

// Store is a Repository and a ledger.Store that can run a unit of work
// spanning both.
type Store interface {
	Repository

	// Ledger returns the non-transactional ledger view.
	Ledger() ledger.Store

	// WithTx runs fn atomically. If fn returns an error, nothing it wrote
	// through repo or ls is kept.
	WithTx(ctx context.Context, fn func(repo Repository, ls ledger.Store) error) error
}
