// Package memory provides an in-memory invoice.Store (for tests and dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store implements invoice.Store and ledger.Store.
type Store struct {
	mu   sync.Mutex
	data *state
}

var (
	_ invoice.Store = (*Store)(nil)
	_ ledger.Store  = (*Store)(nil)
)

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) Ledger() ledger.Store { return s }

// WithTx runs fn under the store lock. It is simulated with a snapshot and a
// rollback on error.
func (s *Store) WithTx(_ context.Context, fn func(invoice.Repository, ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	view := &txView{st: s.data}
	if err := fn(view, view); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) locked(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// =============================================================================
// STATE
// =============================================================================

type state struct {
	invoices map[string]invoice.Invoice
	order    []string // invoice ids in creation order
	items    map[string][]invoice.Item
	payments map[string][]invoice.Payment
	seq      map[string]int64

	txs  []ledger.Transaction // insertion order
	byID map[ledger.TransactionID]int
	idem map[string]int
}

func newState() *state {
	return &state{
		invoices: make(map[string]invoice.Invoice),
		items:    make(map[string][]invoice.Item),
		payments: make(map[string][]invoice.Payment),
		seq:      make(map[string]int64),
		byID:     make(map[ledger.TransactionID]int),
		idem:     make(map[string]int),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.invoices {
		c.invoices[k] = v
	}
	c.order = append([]string(nil), st.order...)
	for k, v := range st.items {
		c.items[k] = append([]invoice.Item(nil), v...)
	}
	for k, v := range st.payments {
		c.payments[k] = append([]invoice.Payment(nil), v...)
	}
	for k, v := range st.seq {
		c.seq[k] = v
	}
	c.txs = make([]ledger.Transaction, len(st.txs))
	for i, tx := range st.txs {
		c.txs[i] = copyTx(tx)
	}
	for k, v := range st.byID {
		c.byID[k] = v
	}
	for k, v := range st.idem {
		c.idem[k] = v
	}
	return c
}

func copyTx(tx ledger.Transaction) ledger.Transaction {
	tx.Metadata = tx.Metadata.Clone()
	return tx
}

// =============================================================================
// INVOICES (state)
// =============================================================================

func (st *state) createInvoice(inv invoice.Invoice) error {
	st.invoices[inv.ID] = inv
	st.order = append(st.order, inv.ID)
	return nil
}

func (st *state) invoice(id string) (*invoice.Invoice, error) {
	inv, ok := st.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (st *state) updateInvoice(inv invoice.Invoice) error {
	if _, ok := st.invoices[inv.ID]; !ok {
		return invoice.ErrInvoiceNotFound
	}
	st.invoices[inv.ID] = inv
	return nil
}

func (st *state) listInvoices(f invoice.Filter) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	for i := len(st.order) - 1; i >= 0; i-- {
		inv := st.invoices[st.order[i]]
		if f.UserID != "" && inv.UserID != f.UserID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (st *state) addItem(it invoice.Item) error {
	if _, ok := st.invoices[it.InvoiceID]; !ok {
		return invoice.ErrInvoiceNotFound
	}
	st.items[it.InvoiceID] = append(st.items[it.InvoiceID], it)
	return nil
}

func (st *state) deleteItem(invoiceID, itemID string) error {
	items := st.items[invoiceID]
	for i, it := range items {
		if it.ID == itemID {
			st.items[invoiceID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return invoice.ErrItemNotFound
}

func (st *state) nextSequence(prefix string) int64 {
	st.seq[prefix]++
	return st.seq[prefix]
}

// =============================================================================
// TRANSACTIONS (state)
// =============================================================================

func (st *state) insert(tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" {
		if _, ok := st.idem[tx.IdempotencyKey]; ok {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	st.txs = append(st.txs, copyTx(tx))
	i := len(st.txs) - 1
	st.byID[tx.ID] = i
	if tx.IdempotencyKey != "" {
		st.idem[tx.IdempotencyKey] = i
	}
	return nil
}

func (st *state) transaction(id ledger.TransactionID) *ledger.Transaction {
	i, ok := st.byID[id]
	if !ok {
		return nil
	}
	tx := copyTx(st.txs[i])
	return &tx
}

func (st *state) byIdempotencyKey(key string) *ledger.Transaction {
	i, ok := st.idem[key]
	if !ok {
		return nil
	}
	tx := copyTx(st.txs[i])
	return &tx
}

func (st *state) invoiceDebits(invoiceID string) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range st.txs {
		if tx.Type == ledger.TypeDebit && tx.InvoiceID() == invoiceID && tx.Metadata.Kind() == ledger.KindInvoiceDebit {
			out = append(out, copyTx(tx))
		}
	}
	return out
}

func (st *state) reversalOf(id ledger.TransactionID) *ledger.Transaction {
	for _, tx := range st.txs {
		if tx.ReversalOf() == id {
			c := copyTx(tx)
			return &c
		}
	}
	return nil
}

func (st *state) updateAmount(id ledger.TransactionID, amount decimal.Decimal, at time.Time) error {
	i, ok := st.byID[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	st.txs[i].Amount = amount
	st.txs[i].UpdatedAt = at
	return nil
}

func (st *state) accountBalance(userID string) decimal.NullDecimal {
	var (
		bal   decimal.Decimal
		found bool
	)
	for _, tx := range st.txs {
		if tx.UserID != userID {
			continue
		}
		found = true
		bal = bal.Add(tx.Effect())
	}
	if !found {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(bal)
}

func (st *state) userTransactions(userID string, since time.Time) []ledger.Transaction {
	var out []ledger.Transaction
	for i := len(st.txs) - 1; i >= 0; i-- {
		tx := st.txs[i]
		if tx.UserID != userID || tx.CreatedAt.Before(since) {
			continue
		}
		out = append(out, copyTx(tx))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (st *state) userIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, tx := range st.txs {
		if !seen[tx.UserID] {
			seen[tx.UserID] = true
			out = append(out, tx.UserID)
		}
	}
	sort.Strings(out)
	return out
}
