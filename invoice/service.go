/*
service.go - Invoice lifecycle operations

PURPOSE:
  Every mutating operation runs as one unit of work (Store.WithTx). The
  invoice row and any ledger entry it triggers commit together or not at
  all, so invoice status and ledger state never diverge.

STATUS SIDE EFFECTS (HandleStatusChangeTransactions):
  not billable -> billable   create (or reuse) the invoice debit
  billable -> cancelled      reverse the active debit ("invoice cancelled")
  billable -> draft          reverse the active debit ("invoice returned to draft")

  Billable means pending, overdue or paid. A cancellation that finds no
  debit logs a warning and still cancels.

TOTALS:
  Totals are recomputed from items on every item change. For a billable
  invoice the active debit follows the new total: created if missing,
  corrected in place if the amount changed, reversed if the total drops
  to zero.

PAYMENTS:
  ProcessPayment adjusts paid amounts and status only. RecordPayment also
  stores the payment and appends the matching ledger credit.

SEE ALSO:
  - status.go: CalculateStatus
  - ../ledger: the entries created here
*/
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
	"github.com/callumsoutar/flight-service-pro-sub000/money"
)

const (
	ReasonCancelled     = "invoice cancelled"
	ReasonDraft         = "invoice returned to draft"
	ReasonTotalCleared  = "invoice total cleared"
	defaultPaymentLabel = "payment"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store    Store
	settings Settings
	ledger   *ledger.Ledger
	now      func() time.Time
	newID    func() string
	log      zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithIDGenerator overrides uuid-based invoice, item and payment ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func NewService(store Store, settings Settings, opts ...Option) *Service {
	s := &Service{
		store:    store,
		settings: settings,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = s.ledgerFor(store.Ledger())
	return s
}

// Ledger returns a ledger over the service's store, sharing its clock and logger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Balances returns a balance aggregator over the service's ledger.
func (s *Service) Balances() *ledger.Aggregator { return ledger.NewAggregator(s.ledger) }

func (s *Service) ledgerFor(ls ledger.Store) *ledger.Ledger {
	return ledger.New(ls, ledger.WithClock(s.now), ledger.WithLogger(s.log))
}

// inTx runs fn in one unit of work with a ledger bound to it.
func (s *Service) inTx(ctx context.Context, fn func(repo Repository, l *ledger.Ledger) error) error {
	return s.store.WithTx(ctx, func(repo Repository, ls ledger.Store) error {
		return fn(repo, s.ledgerFor(ls))
	})
}

// =============================================================================
// INVOICES
// =============================================================================

// CreateInvoice creates a draft invoice with a freshly allocated number.
func (s *Service) CreateInvoice(ctx context.Context, in NewInvoice) (*Invoice, error) {
	if in.UserID == "" {
		return nil, ErrUserRequired
	}
	prefix, err := s.invoicePrefix(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(in.Items))
	for _, ni := range in.Items {
		it, err := s.buildItem(ctx, in.UserID, ni)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	now := s.now().UTC()
	inv := Invoice{
		ID:        s.newID(),
		UserID:    in.UserID,
		Status:    StatusDraft,
		DueDate:   utcPtr(in.DueDate),
		Notes:     in.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.inTx(ctx, func(repo Repository, l *ledger.Ledger) error {
		num, err := s.nextNumber(ctx, repo, prefix)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = num
		if err := repo.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		for _, it := range items {
			it.InvoiceID = inv.ID
			if err := repo.AddItem(ctx, it); err != nil {
				return fmt.Errorf("failed to add invoice item: %w", err)
			}
		}
		_, err = s.updateTotals(ctx, repo, l, &inv)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", inv.ID).
		Str("invoice_number", inv.InvoiceNumber).
		Str("user_id", inv.UserID).
		Msg("invoice created")
	return &inv, nil
}

// GetInvoice returns an invoice or ErrInvoiceNotFound.
func (s *Service) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	return loadInvoice(ctx, s.store, id)
}

func (s *Service) ListInvoices(ctx context.Context, f Filter) ([]Invoice, error) {
	invs, err := s.store.ListInvoices(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invs, nil
}

// Items returns an invoice's line items.
func (s *Service) Items(ctx context.Context, invoiceID string) ([]Item, error) {
	if _, err := loadInvoice(ctx, s.store, invoiceID); err != nil {
		return nil, err
	}
	items, err := s.store.Items(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice items: %w", err)
	}
	return items, nil
}

// Payments returns the payments recorded against an invoice.
func (s *Service) Payments(ctx context.Context, invoiceID string) ([]Payment, error) {
	if _, err := loadInvoice(ctx, s.store, invoiceID); err != nil {
		return nil, err
	}
	ps, err := s.store.Payments(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	return ps, nil
}

// =============================================================================
// ITEMS & TOTALS
// =============================================================================

// AddItem appends a line item and recomputes the invoice totals.
func (s *Service) AddItem(ctx context.Context, invoiceID string, in NewItem) (*Item, error) {
	// Settings may share the store's connection, so the tax rate is resolved
	// before the unit of work opens.
	owner, err := loadInvoice(ctx, s.store, invoiceID)
	if err != nil {
		return nil, err
	}
	added, err := s.buildItem(ctx, owner.UserID, in)
	if err != nil {
		return nil, err
	}
	added.InvoiceID = owner.ID

	err = s.inTx(ctx, func(repo Repository, l *ledger.Ledger) error {
		inv, err := loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return ErrInvoiceCancelled
		}
		if err := repo.AddItem(ctx, added); err != nil {
			return fmt.Errorf("failed to add invoice item: %w", err)
		}
		_, err = s.updateTotals(ctx, repo, l, inv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// RemoveItem deletes a line item and recomputes the invoice totals.
func (s *Service) RemoveItem(ctx context.Context, invoiceID, itemID string) error {
	return s.inTx(ctx, func(repo Repository, l *ledger.Ledger) error {
		inv, err := loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return ErrInvoiceCancelled
		}
		if err := repo.DeleteItem(ctx, invoiceID, itemID); err != nil {
			return err
		}
		_, err = s.updateTotals(ctx, repo, l, inv)
		return err
	})
}

// UpdateInvoiceTotals recomputes totals from the current items and keeps the
// invoice's debit in step with them.
func (s *Service) UpdateInvoiceTotals(ctx context.Context, invoiceID string) (TotalsResult, error) {
	var res TotalsResult
	err := s.inTx(ctx, func(repo Repository, l *ledger.Ledger) error {
		inv, err := loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		res, err = s.updateTotals(ctx, repo, l, inv)
		return err
	})
	return res, err
}

func (s *Service) updateTotals(ctx context.Context, repo Repository, l *ledger.Ledger, inv *Invoice) (TotalsResult, error) {
	items, err := repo.Items(ctx, inv.ID)
	if err != nil {
		return TotalsResult{}, fmt.Errorf("failed to load invoice items: %w", err)
	}
	amounts := make([]money.ItemAmounts, len(items))
	for i, it := range items {
		amounts[i] = it.Amounts()
	}
	inv.applyTotals(money.CalculateInvoiceTotals(amounts))
	if len(items) == 0 {
		inv.BalanceDue = decimal.Zero
	}

	now := s.now().UTC()
	next := inv.Status
	if inv.Status.Billable() {
		next = CalculateStatus(inv.TotalAmount, inv.TotalPaid, inv.DueDate, inv.PaidDate, now)
	}
	if err := s.transition(ctx, repo, l, inv, next, now); err != nil {
		return TotalsResult{}, err
	}

	res := TotalsResult{
		Subtotal:    inv.Subtotal,
		TaxTotal:    inv.TaxTotal,
		TotalAmount: inv.TotalAmount,
	}
	if inv.Status.Billable() {
		res.TransactionID, res.TransactionCreated, err = s.syncDebit(ctx, l, *inv)
		if err != nil {
			return TotalsResult{}, &LedgerError{InvoiceID: inv.ID, From: inv.Status, To: inv.Status, Err: err}
		}
	}
	return res, nil
}

// syncDebit makes the active debit match the invoice total.
func (s *Service) syncDebit(ctx context.Context, l *ledger.Ledger, inv Invoice) (ledger.TransactionID, bool, error) {
	id, ok, err := l.FindInvoiceDebitTransaction(ctx, inv.ID)
	if err != nil {
		return "", false, err
	}

	if !ok {
		if !inv.TotalAmount.IsPositive() {
			return "", false, nil
		}
		id, err = l.CreateInvoiceDebit(ctx, debitFor(inv))
		return id, err == nil, err
	}

	if !inv.TotalAmount.IsPositive() {
		_, err := l.ReverseTransaction(ctx, id, ReasonTotalCleared)
		return "", false, err
	}

	tx, err := l.Transaction(ctx, id)
	if err != nil {
		return "", false, err
	}
	if tx != nil && !tx.Amount.Equal(inv.TotalAmount) {
		if err := l.UpdateTransactionAmount(ctx, id, inv.TotalAmount); err != nil {
			return "", false, err
		}
		s.log.Info().
			Str("invoice_id", inv.ID).
			Str("transaction_id", string(id)).
			Str("from", tx.Amount.String()).
			Str("to", inv.TotalAmount.String()).
			Msg("invoice debit amount corrected")
	}
	return id, false, nil
}

func (s *Service) buildItem(ctx context.Context, userID string, in NewItem) (Item, error) {
	if in.TaxRate.Valid && in.TaxRate.Decimal.IsNegative() {
		return Item{}, fmt.Errorf("%w: %s", ErrInvalidTaxRate, in.TaxRate.Decimal)
	}
	rate, err := ResolveTaxRate(ctx, s.settings, userID, in.TaxRate)
	if err != nil {
		return Item{}, err
	}

	a := money.CalculateItemAmounts(in.Quantity, in.UnitPrice, decimal.NewNullDecimal(rate))
	return Item{
		ID:            s.newID(),
		Description:   in.Description,
		Quantity:      in.Quantity,
		UnitPrice:     in.UnitPrice,
		TaxRate:       rate,
		Amount:        a.Amount,
		TaxAmount:     a.TaxAmount,
		LineTotal:     a.LineTotal,
		RateInclusive: a.RateInclusive,
		CreatedAt:     s.now().UTC(),
	}, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ProcessPayment adds amount to the invoice's paid total and re-derives its
// status. The paid date is set on the transition into paid and never moved.
func (s *Service) ProcessPayment(ctx context.Context, invoiceID string, amount decimal.Decimal) (*Invoice, error) {
	var out *Invoice
	err := s.inTx(ctx, func(repo Repository, l *ledger.Ledger) error {
		inv, err := loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		if err := s.applyPayment(ctx, repo, l, inv, amount); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordPayment processes a payment, stores it and credits the member's
// account, all in one unit of work.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	var p Payment
	err := s.inTx(ctx, func(repo Repository, l *ledger.Ledger) error {
		inv, err := loadInvoice(ctx, repo, in.InvoiceID)
		if err != nil {
			return err
		}
		if err := s.applyPayment(ctx, repo, l, inv, in.Amount); err != nil {
			return err
		}

		method := in.Method
		if method == "" {
			method = defaultPaymentLabel
		}
		p = Payment{
			ID:        s.newID(),
			InvoiceID: inv.ID,
			UserID:    inv.UserID,
			Amount:    in.Amount,
			Method:    method,
			Reference: in.Reference,
			PaidAt:    s.now().UTC(),
		}
		p.TransactionID, err = l.CreatePaymentCredit(ctx, ledger.PaymentCredit{
			UserID:        inv.UserID,
			Amount:        in.Amount,
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			PaymentID:     p.ID,
		})
		if err != nil {
			return err
		}
		if err := repo.CreatePayment(ctx, p); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", p.InvoiceID).
		Str("payment_id", p.ID).
		Str("amount", p.Amount.String()).
		Msg("payment recorded")
	return &p, nil
}

func (s *Service) applyPayment(ctx context.Context, repo Repository, l *ledger.Ledger, inv *Invoice, amount decimal.Decimal) error {
	if inv.Status == StatusCancelled {
		return fmt.Errorf("%w: %s", ErrInvoiceCancelled, inv.InvoiceNumber)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: payment must be positive, got %s", money.ErrInvalidAmount, amount)
	}

	now := s.now().UTC()
	inv.TotalPaid = inv.TotalPaid.Add(amount)
	inv.BalanceDue = inv.TotalAmount.Sub(inv.TotalPaid)

	next := CalculateStatus(inv.TotalAmount, inv.TotalPaid, inv.DueDate, inv.PaidDate, now)
	return s.transition(ctx, repo, l, inv, next, now)
}

// =============================================================================
// STATUS
// =============================================================================

// UpdateInvoiceStatus sets an invoice's status explicitly and applies the
// ledger side effects of the transition.
func (s *Service) UpdateInvoiceStatus(ctx context.Context, invoiceID string, status Status) (*Invoice, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var out *Invoice
	err := s.inTx(ctx, func(repo Repository, l *ledger.Ledger) error {
		inv, err := loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		out = inv
		if inv.Status == status {
			return nil
		}
		if status != StatusPaid && status != StatusCancelled {
			inv.PaidDate = nil
		}
		return s.transition(ctx, repo, l, inv, status, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RefreshStatus re-derives a live invoice's status against the clock. Draft
// and cancelled invoices are left alone.
func (s *Service) RefreshStatus(ctx context.Context, invoiceID string) (*Invoice, bool, error) {
	var (
		out     *Invoice
		changed bool
	)
	err := s.inTx(ctx, func(repo Repository, l *ledger.Ledger) error {
		inv, err := loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		out = inv
		if !inv.Status.Billable() {
			return nil
		}
		now := s.now().UTC()
		next := CalculateStatus(inv.TotalAmount, inv.TotalPaid, inv.DueDate, inv.PaidDate, now)
		if next == inv.Status {
			return nil
		}
		changed = true
		return s.transition(ctx, repo, l, inv, next, now)
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// RefreshOverdue moves pending invoices past their due date to overdue and
// returns how many changed. One invoice's failure is logged and skipped.
func (s *Service) RefreshOverdue(ctx context.Context) (int, error) {
	pending, err := s.ListInvoices(ctx, Filter{Status: StatusPending})
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	n := 0
	for _, inv := range pending {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if inv.DueDate == nil || !inv.DueDate.Before(now) {
			continue
		}
		_, changed, err := s.RefreshStatus(ctx, inv.ID)
		if err != nil {
			s.log.Error().Err(err).Str("invoice_id", inv.ID).Msg("failed to refresh invoice status")
			continue
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// transition persists inv with status next and applies the ledger side
// effects of the change, if any.
func (s *Service) transition(ctx context.Context, repo Repository, l *ledger.Ledger, inv *Invoice, next Status, now time.Time) error {
	prev := inv.Status
	if next == StatusPaid && inv.PaidDate == nil {
		inv.PaidDate = &now
	}
	inv.Status = next
	inv.UpdatedAt = now

	if err := repo.UpdateInvoice(ctx, *inv); err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	if prev == next {
		return nil
	}
	if err := s.HandleStatusChangeTransactions(ctx, l, *inv, prev, next); err != nil {
		return &LedgerError{InvoiceID: inv.ID, From: prev, To: next, Err: err}
	}

	s.log.Info().
		Str("invoice_id", inv.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("invoice status changed")
	return nil
}

// HandleStatusChangeTransactions applies the ledger side effect of moving
// inv from one status to another. l must belong to the same unit of work as
// the invoice update.
func (s *Service) HandleStatusChangeTransactions(ctx context.Context, l *ledger.Ledger, inv Invoice, from, to Status) error {
	switch {
	case to.Billable() && !from.Billable():
		if !inv.TotalAmount.IsPositive() {
			s.log.Warn().
				Str("invoice_id", inv.ID).
				Str("total", inv.TotalAmount.String()).
				Msg("invoice has no positive total, no debit created")
			return nil
		}
		_, err := l.CreateInvoiceDebit(ctx, debitFor(inv))
		return err

	case from.Billable() && !to.Billable():
		id, ok, err := l.FindInvoiceDebitTransaction(ctx, inv.ID)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Warn().
				Str("invoice_id", inv.ID).
				Str("invoice_number", inv.InvoiceNumber).
				Str("to", string(to)).
				Msg("no debit transaction found for invoice, nothing to reverse")
			return nil
		}
		reason := ReasonCancelled
		if to == StatusDraft {
			reason = ReasonDraft
		}
		_, err = l.ReverseTransaction(ctx, id, reason)
		return err
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func loadInvoice(ctx context.Context, repo Repository, id string) (*Invoice, error) {
	inv, err := repo.Invoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, id)
	}
	return inv, nil
}

func debitFor(inv Invoice) ledger.InvoiceDebit {
	return ledger.InvoiceDebit{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		TotalAmount:   inv.TotalAmount,
		UserID:        inv.UserID,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
