/*
ledger.go - Debit, credit and reversal creation

PURPOSE:
  Turns business events (an invoice becoming billable, a payment arriving,
  an invoice being cancelled) into ledger entries.

IDEMPOTENCY:
  CreateInvoiceDebit and ReverseTransaction are safe to call repeatedly for
  the same event. Both look up an existing entry first and, failing that,
  insert with a deterministic idempotency key:

    invoice_debit:{invoice_id}:{generation}   one active debit per invoice
    reversal:{transaction_id}                 one reversal per transaction

  The store enforces the key as UNIQUE, so two concurrent callers cannot
  both insert. The loser gets ErrDuplicateIdempotencyKey and re-reads the
  winner's row.

  The generation counts earlier debits for the invoice. A cancelled invoice
  keeps its reversed debit; reinstating it appends a fresh debit under the
  next generation.

CORRECTIONS:
  Entries are never deleted. A mistake is undone with a reversal of the
  opposite type and equal amount. Both stay in the trail.

ERRORS:
  Every store failure is wrapped with the operation name and returned.
  "Not found" lookups are reported as absence, not as errors.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
	now   func() time.Time
	newID func() TransactionID
	log   zerolog.Logger
}

type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithIDGenerator overrides uuid-based transaction ids.
func WithIDGenerator(fn func() TransactionID) Option {
	return func(l *Ledger) { l.newID = fn }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   time.Now,
		newID: func() TransactionID { return TransactionID(uuid.NewString()) },
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store.
func (l *Ledger) Store() Store { return l.store }

// =============================================================================
// INVOICE DEBITS
// =============================================================================

// InvoiceDebit describes the debit raised when an invoice becomes billable.
type InvoiceDebit struct {
	InvoiceID     string
	InvoiceNumber string
	TotalAmount   decimal.Decimal
	UserID        string
}

// CreateInvoiceDebit returns the invoice's active debit, creating it if none exists.
func (l *Ledger) CreateInvoiceDebit(ctx context.Context, in InvoiceDebit) (TransactionID, error) {
	const op = "create invoice debit transaction"

	if in.UserID == "" {
		return "", wrap(op, ErrUserRequired)
	}
	if !in.TotalAmount.IsPositive() {
		return "", wrap(op, fmt.Errorf("%w: %s", ErrInvalidAmount, in.TotalAmount))
	}

	debits, err := l.store.InvoiceDebits(ctx, in.InvoiceID)
	if err != nil {
		return "", wrap(op, err)
	}
	active, err := l.activeDebit(ctx, debits)
	if err != nil {
		return "", wrap(op, err)
	}
	if active != nil {
		return active.ID, nil
	}

	now := l.now().UTC()
	tx := Transaction{
		ID:          l.newID(),
		UserID:      in.UserID,
		Type:        TypeDebit,
		Amount:      in.TotalAmount,
		Description: "Invoice: " + in.InvoiceNumber,
		Metadata: Metadata{
			MetaInvoiceID:       in.InvoiceID,
			MetaInvoiceNumber:   in.InvoiceNumber,
			MetaTransactionType: string(KindInvoiceDebit),
		},
		ReferenceNumber: in.InvoiceNumber,
		Status:          StatusCompleted,
		IdempotencyKey:  fmt.Sprintf("invoice_debit:%s:%d", in.InvoiceID, len(debits)),
		CompletedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	id, err := l.insertOnce(ctx, tx)
	if err != nil {
		return "", wrap(op, err)
	}
	l.log.Debug().
		Str("transaction_id", string(id)).
		Str("invoice_id", in.InvoiceID).
		Str("amount", in.TotalAmount.String()).
		Msg("invoice debit recorded")
	return id, nil
}

// FindInvoiceDebitTransaction returns the invoice's active (unreversed) debit.
// ok is false when there is none.
func (l *Ledger) FindInvoiceDebitTransaction(ctx context.Context, invoiceID string) (id TransactionID, ok bool, err error) {
	debits, err := l.store.InvoiceDebits(ctx, invoiceID)
	if err != nil {
		return "", false, wrap("find invoice debit transaction", err)
	}
	active, err := l.activeDebit(ctx, debits)
	if err != nil {
		return "", false, wrap("find invoice debit transaction", err)
	}
	if active == nil {
		return "", false, nil
	}
	return active.ID, true, nil
}

// activeDebit returns the newest debit that has not been reversed.
func (l *Ledger) activeDebit(ctx context.Context, debits []Transaction) (*Transaction, error) {
	for i := len(debits) - 1; i >= 0; i-- {
		rev, err := l.store.ReversalOf(ctx, debits[i].ID)
		if err != nil {
			return nil, err
		}
		if rev == nil {
			return &debits[i], nil
		}
	}
	return nil, nil
}

// =============================================================================
// PAYMENT CREDITS
// =============================================================================

// PaymentCredit describes a payment received against an invoice.
type PaymentCredit struct {
	UserID        string
	Amount        decimal.Decimal
	InvoiceID     string
	InvoiceNumber string
	PaymentID     string
}

// CreatePaymentCredit always appends a new credit. Callers own payment uniqueness.
func (l *Ledger) CreatePaymentCredit(ctx context.Context, in PaymentCredit) (TransactionID, error) {
	const op = "create payment credit transaction"

	if in.UserID == "" {
		return "", wrap(op, ErrUserRequired)
	}
	if !in.Amount.IsPositive() {
		return "", wrap(op, fmt.Errorf("%w: %s", ErrInvalidAmount, in.Amount))
	}

	now := l.now().UTC()
	tx := Transaction{
		ID:          l.newID(),
		UserID:      in.UserID,
		Type:        TypeCredit,
		Amount:      in.Amount,
		Description: "Payment for invoice: " + in.InvoiceNumber,
		Metadata: Metadata{
			MetaInvoiceID:       in.InvoiceID,
			MetaPaymentID:       in.PaymentID,
			MetaInvoiceNumber:   in.InvoiceNumber,
			MetaTransactionType: string(KindPaymentCredit),
		},
		ReferenceNumber: in.InvoiceNumber,
		Status:          StatusCompleted,
		CompletedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.store.Insert(ctx, tx); err != nil {
		return "", wrap(op, err)
	}
	return tx.ID, nil
}

// =============================================================================
// REVERSALS
// =============================================================================

// ReverseTransaction offsets id with an entry of the opposite type and equal
// amount. Calling it again returns the existing reversal.
func (l *Ledger) ReverseTransaction(ctx context.Context, id TransactionID, reason string) (TransactionID, error) {
	const op = "reverse transaction"

	orig, err := l.store.Transaction(ctx, id)
	if err != nil {
		return "", wrap(op, err)
	}
	if orig == nil {
		return "", wrap(op, fmt.Errorf("%w: %s", ErrTransactionNotFound, id))
	}
	revType, ok := orig.Type.Opposite()
	if !ok {
		return "", wrap(op, fmt.Errorf("%w: %s is a %s", ErrNotReversible, id, orig.Type))
	}

	existing, err := l.store.ReversalOf(ctx, id)
	if err != nil {
		return "", wrap(op, err)
	}
	if existing != nil {
		return existing.ID, nil
	}

	ref := orig.ReferenceNumber
	if ref == "" {
		ref = orig.ID.Short()
	}

	meta := orig.Metadata.Clone()
	meta[MetaReversalOf] = string(orig.ID)
	meta[MetaReversalReason] = reason
	meta[MetaTransactionType] = string(KindReversal)

	// The reversal shares the original's status so their effects cancel.
	now := l.now().UTC()
	var completedAt *time.Time
	if orig.Status == StatusCompleted {
		completedAt = &now
	}
	tx := Transaction{
		ID:              l.newID(),
		UserID:          orig.UserID,
		Type:            revType,
		Amount:          orig.Amount,
		Description:     fmt.Sprintf("Reversal: %s (%s)", orig.Description, reason),
		Metadata:        meta,
		ReferenceNumber: "REV-" + ref,
		Status:          orig.Status,
		IdempotencyKey:  "reversal:" + string(orig.ID),
		CompletedAt:     completedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	revID, err := l.insertOnce(ctx, tx)
	if err != nil {
		return "", wrap(op, err)
	}
	l.log.Debug().
		Str("transaction_id", string(id)).
		Str("reversal_id", string(revID)).
		Str("reason", reason).
		Msg("transaction reversed")
	return revID, nil
}

// =============================================================================
// CORRECTIONS & QUERIES
// =============================================================================

// UpdateTransactionAmount corrects an entry's amount in place. Linked invoice
// state is not recomputed.
func (l *Ledger) UpdateTransactionAmount(ctx context.Context, id TransactionID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return wrap("update transaction amount", fmt.Errorf("%w: %s", ErrInvalidAmount, amount))
	}
	return wrap("update transaction amount", l.store.UpdateAmount(ctx, id, amount, l.now().UTC()))
}

// GetUserAccountBalance returns the member's balance; no history means zero.
func (l *Ledger) GetUserAccountBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := l.store.AccountBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, wrap("get account balance", err)
	}
	if !bal.Valid {
		return decimal.Zero, nil
	}
	return bal.Decimal, nil
}

// Transaction returns one transaction, or nil when it doesn't exist.
func (l *Ledger) Transaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	tx, err := l.store.Transaction(ctx, id)
	return tx, wrap("load transaction", err)
}

// insertOnce inserts tx; on a key collision it returns the row that got there first.
func (l *Ledger) insertOnce(ctx context.Context, tx Transaction) (TransactionID, error) {
	err := l.store.Insert(ctx, tx)
	if err == nil {
		return tx.ID, nil
	}
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		return "", err
	}
	existing, lerr := l.store.ByIdempotencyKey(ctx, tx.IdempotencyKey)
	if lerr != nil {
		return "", lerr
	}
	if existing == nil {
		return "", err
	}
	return existing.ID, nil
}
