package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

// =============================================================================
// STORE - locking entry points
// =============================================================================

func (s *Store) CreateInvoice(_ context.Context, inv invoice.Invoice) error {
	return s.locked(func(st *state) error { return st.createInvoice(inv) })
}

func (s *Store) Invoice(_ context.Context, id string) (out *invoice.Invoice, err error) {
	err = s.locked(func(st *state) error {
		out, err = st.invoice(id)
		return err
	})
	return out, err
}

func (s *Store) UpdateInvoice(_ context.Context, inv invoice.Invoice) error {
	return s.locked(func(st *state) error { return st.updateInvoice(inv) })
}

func (s *Store) ListInvoices(_ context.Context, f invoice.Filter) (out []invoice.Invoice, err error) {
	err = s.locked(func(st *state) error {
		out, err = st.listInvoices(f)
		return err
	})
	return out, err
}

func (s *Store) AddItem(_ context.Context, it invoice.Item) error {
	return s.locked(func(st *state) error { return st.addItem(it) })
}

func (s *Store) Items(_ context.Context, invoiceID string) (out []invoice.Item, err error) {
	err = s.locked(func(st *state) error {
		out = append([]invoice.Item(nil), st.items[invoiceID]...)
		return nil
	})
	return out, err
}

func (s *Store) DeleteItem(_ context.Context, invoiceID, itemID string) error {
	return s.locked(func(st *state) error { return st.deleteItem(invoiceID, itemID) })
}

func (s *Store) CreatePayment(_ context.Context, p invoice.Payment) error {
	return s.locked(func(st *state) error {
		st.payments[p.InvoiceID] = append(st.payments[p.InvoiceID], p)
		return nil
	})
}

func (s *Store) Payments(_ context.Context, invoiceID string) (out []invoice.Payment, err error) {
	err = s.locked(func(st *state) error {
		out = append([]invoice.Payment(nil), st.payments[invoiceID]...)
		return nil
	})
	return out, err
}

func (s *Store) NextInvoiceSequence(_ context.Context, prefix string) (n int64, err error) {
	err = s.locked(func(st *state) error {
		n = st.nextSequence(prefix)
		return nil
	})
	return n, err
}

func (s *Store) Insert(_ context.Context, tx ledger.Transaction) error {
	return s.locked(func(st *state) error { return st.insert(tx) })
}

func (s *Store) Transaction(_ context.Context, id ledger.TransactionID) (out *ledger.Transaction, err error) {
	err = s.locked(func(st *state) error {
		out = st.transaction(id)
		return nil
	})
	return out, err
}

func (s *Store) ByIdempotencyKey(_ context.Context, key string) (out *ledger.Transaction, err error) {
	err = s.locked(func(st *state) error {
		out = st.byIdempotencyKey(key)
		return nil
	})
	return out, err
}

func (s *Store) InvoiceDebits(_ context.Context, invoiceID string) (out []ledger.Transaction, err error) {
	err = s.locked(func(st *state) error {
		out = st.invoiceDebits(invoiceID)
		return nil
	})
	return out, err
}

func (s *Store) ReversalOf(_ context.Context, id ledger.TransactionID) (out *ledger.Transaction, err error) {
	err = s.locked(func(st *state) error {
		out = st.reversalOf(id)
		return nil
	})
	return out, err
}

func (s *Store) UpdateAmount(_ context.Context, id ledger.TransactionID, amount decimal.Decimal, at time.Time) error {
	return s.locked(func(st *state) error { return st.updateAmount(id, amount, at) })
}

func (s *Store) AccountBalance(_ context.Context, userID string) (out decimal.NullDecimal, err error) {
	err = s.locked(func(st *state) error {
		out = st.accountBalance(userID)
		return nil
	})
	return out, err
}

func (s *Store) UserTransactions(_ context.Context, userID string, since time.Time) (out []ledger.Transaction, err error) {
	err = s.locked(func(st *state) error {
		out = st.userTransactions(userID, since)
		return nil
	})
	return out, err
}

func (s *Store) UserIDs(_ context.Context) (out []string, err error) {
	err = s.locked(func(st *state) error {
		out = st.userIDs()
		return nil
	})
	return out, err
}

// =============================================================================
// TX VIEW - runs with the store lock already held
// =============================================================================

type txView struct {
	st *state
}

func (v *txView) CreateInvoice(_ context.Context, inv invoice.Invoice) error {
	return v.st.createInvoice(inv)
}

func (v *txView) Invoice(_ context.Context, id string) (*invoice.Invoice, error) {
	return v.st.invoice(id)
}

func (v *txView) UpdateInvoice(_ context.Context, inv invoice.Invoice) error {
	return v.st.updateInvoice(inv)
}

func (v *txView) ListInvoices(_ context.Context, f invoice.Filter) ([]invoice.Invoice, error) {
	return v.st.listInvoices(f)
}

func (v *txView) AddItem(_ context.Context, it invoice.Item) error {
	return v.st.addItem(it)
}

func (v *txView) Items(_ context.Context, invoiceID string) ([]invoice.Item, error) {
	return append([]invoice.Item(nil), v.st.items[invoiceID]...), nil
}

func (v *txView) DeleteItem(_ context.Context, invoiceID, itemID string) error {
	return v.st.deleteItem(invoiceID, itemID)
}

func (v *txView) CreatePayment(_ context.Context, p invoice.Payment) error {
	v.st.payments[p.InvoiceID] = append(v.st.payments[p.InvoiceID], p)
	return nil
}

func (v *txView) Payments(_ context.Context, invoiceID string) ([]invoice.Payment, error) {
	return append([]invoice.Payment(nil), v.st.payments[invoiceID]...), nil
}

func (v *txView) NextInvoiceSequence(_ context.Context, prefix string) (int64, error) {
	return v.st.nextSequence(prefix), nil
}

func (v *txView) Insert(_ context.Context, tx ledger.Transaction) error {
	return v.st.insert(tx)
}

func (v *txView) Transaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return v.st.transaction(id), nil
}

func (v *txView) ByIdempotencyKey(_ context.Context, key string) (*ledger.Transaction, error) {
	return v.st.byIdempotencyKey(key), nil
}

func (v *txView) InvoiceDebits(_ context.Context, invoiceID string) ([]ledger.Transaction, error) {
	return v.st.invoiceDebits(invoiceID), nil
}

func (v *txView) ReversalOf(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return v.st.reversalOf(id), nil
}

func (v *txView) UpdateAmount(_ context.Context, id ledger.TransactionID, amount decimal.Decimal, at time.Time) error {
	return v.st.updateAmount(id, amount, at)
}

func (v *txView) AccountBalance(_ context.Context, userID string) (decimal.NullDecimal, error) {
	return v.st.accountBalance(userID), nil
}

func (v *txView) UserTransactions(_ context.Context, userID string, since time.Time) ([]ledger.Transaction, error) {
	return v.st.userTransactions(userID, since), nil
}

func (v *txView) UserIDs(_ context.Context) ([]string, error) {
	return v.st.userIDs(), nil
}
