package invoice

import (
	"errors"
	"fmt"

	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
	"github.com/callumsoutar/flight-service-pro-sub000/money"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrItemNotFound    = errors.New("invoice item not found")

	// ErrInvoiceCancelled is returned for payments or edits on a cancelled invoice.
	ErrInvoiceCancelled = errors.New("invoice is cancelled")

	ErrInvalidStatus = errors.New("invalid invoice status")
	ErrUserRequired  = errors.New("invoice user is required")

	// ErrInvalidTaxRate is returned for a negative item tax rate.
	ErrInvalidTaxRate = errors.New("tax rate must not be negative")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// LedgerError reports a ledger side effect that failed during a status change.
// The invoice change it belonged to was rolled back.
type LedgerError struct {
	InvoiceID string
	From, To  Status
	Err       error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger update for invoice %s (%s -> %s): %v", e.InvoiceID, e.From, e.To, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err refers to a missing invoice, item or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		ledger.IsNotFound(err)
}

// IsClientError reports whether err was caused by invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrInvalidTaxRate) ||
		errors.Is(err, money.ErrInvalidAmount) ||
		ledger.IsClientError(err)
}

// IsConflict reports whether err conflicts with the invoice's current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvoiceCancelled)
}
