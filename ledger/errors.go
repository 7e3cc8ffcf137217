package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIdempotencyKey is returned by a Store when the key already
	// exists. The ledger treats it as "someone else won the race".
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrTransactionNotFound is returned when an operation needs an existing
	// transaction, e.g. reversing one.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidAmount is returned when a ledger amount is zero or negative.
	ErrInvalidAmount = errors.New("ledger amount must be positive")

	// ErrNotReversible is returned when reversing an entry that has no
	// balance-moving counterpart, e.g. a refund or adjustment.
	ErrNotReversible = errors.New("transaction type cannot be reversed")

	// ErrUserRequired is returned when a transaction has no owner.
	ErrUserRequired = errors.New("transaction user is required")
)

// OpError wraps a data-layer failure with the operation that hit it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// IsNotFound reports whether err means a referenced transaction is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound)
}

// IsClientError reports whether err was caused by invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrNotReversible)
}
