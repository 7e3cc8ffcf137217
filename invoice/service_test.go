package invoice_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
	"github.com/callumsoutar/flight-service-pro-sub000/money"
	"github.com/callumsoutar/flight-service-pro-sub000/store/memory"
	"github.com/callumsoutar/flight-service-pro-sub000/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc   *invoice.Service
	store invoice.Store
	clock *clock
	logs  *bytes.Buffer
}

func newFixture(t *testing.T, store invoice.Store, settings invoice.Settings) *fixture {
	t.Helper()
	f := &fixture{
		store: store,
		clock: &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		logs:  &bytes.Buffer{},
	}
	f.svc = invoice.NewService(store, settings,
		invoice.WithClock(f.clock.now),
		invoice.WithLogger(zerolog.New(f.logs)),
	)
	return f
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, memory.New(), invoice.StaticSettings{Prefix: "INV", TaxRate: dec("0.15")})
}

// backends runs a test against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newMemoryFixture(t))
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		defaults := invoice.StaticSettings{Prefix: "INV", TaxRate: dec("0.15")}
		fn(t, newFixture(t, store, store.Settings(defaults)))
	})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rate(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func lesson() invoice.NewItem {
	return invoice.NewItem{
		Description: "Dual instruction (hours)",
		Quantity:    dec("2"),
		UnitPrice:   dec("100"),
		TaxRate:     rate("0.15"),
	}
}

func (f *fixture) dueIn(days int) *time.Time {
	d := f.clock.t.AddDate(0, 0, days)
	return &d
}

func (f *fixture) createInvoice(t *testing.T, items ...invoice.NewItem) *invoice.Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), invoice.NewInvoice{
		UserID:  "member-1",
		DueDate: f.dueIn(14),
		Items:   items,
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) setStatus(t *testing.T, id string, s invoice.Status) *invoice.Invoice {
	t.Helper()
	inv, err := f.svc.UpdateInvoiceStatus(context.Background(), id, s)
	require.NoError(t, err)
	require.Equal(t, s, inv.Status)
	return inv
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	bal, err := f.svc.Balances().GetBalance(context.Background(), "member-1")
	require.NoError(t, err)
	return bal
}

func (f *fixture) transactions(t *testing.T) []ledger.Transaction {
	t.Helper()
	txs, err := f.store.Ledger().UserTransactions(context.Background(), "member-1", time.Time{})
	require.NoError(t, err)
	return txs
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// =============================================================================
// END TO END
// =============================================================================

func TestInvoiceLifecycle_EndToEnd(t *testing.T) {
	// GIVEN: an invoice for two hours of dual instruction at 100 + 15% tax
	// WHEN: it is issued and then cancelled
	// THEN: one debit of 230 and one offsetting reversal exist, balance is 0

	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		inv := f.createInvoice(t, lesson())
		assert.Equal(t, invoice.StatusDraft, inv.Status)
		assert.Equal(t, "INV-000001", inv.InvoiceNumber)
		assertDecimal(t, "200", inv.Subtotal)
		assertDecimal(t, "30", inv.TaxTotal)
		assertDecimal(t, "230", inv.TotalAmount)
		assertDecimal(t, "230", inv.BalanceDue)
		assert.Empty(t, f.transactions(t), "drafts are not billed")

		f.setStatus(t, inv.ID, invoice.StatusPending)

		txs := f.transactions(t)
		require.Len(t, txs, 1)
		debit := txs[0]
		assert.Equal(t, ledger.TypeDebit, debit.Type)
		assertDecimal(t, "230", debit.Amount)
		assert.Equal(t, inv.ID, debit.InvoiceID())
		assertDecimal(t, "230", f.balance(t))

		f.setStatus(t, inv.ID, invoice.StatusCancelled)

		txs = f.transactions(t)
		require.Len(t, txs, 2)
		reversal := txs[0]
		assert.Equal(t, ledger.TypeCredit, reversal.Type)
		assertDecimal(t, "230", reversal.Amount)
		assert.Equal(t, debit.ID, reversal.ReversalOf())
		assert.Equal(t, invoice.ReasonCancelled, reversal.Metadata[ledger.MetaReversalReason])
		assert.True(t, f.balance(t).IsZero())

		got, err := f.svc.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusCancelled, got.Status)
	})
}

// =============================================================================
// CREATION & NUMBERING
// =============================================================================

func TestCreateInvoice_SequentialNumbers(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		a := f.createInvoice(t)
		b := f.createInvoice(t)
		assert.Equal(t, "INV-000001", a.InvoiceNumber)
		assert.Equal(t, "INV-000002", b.InvoiceNumber)

		n, err := f.svc.GenerateInvoiceNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "INV-000003", n)
	})
}

func TestCreateInvoice_PrefixFromSettings(t *testing.T) {
	f := newFixture(t, memory.New(), invoice.StaticSettings{Prefix: "AERO"})
	assert.Equal(t, "AERO-000001", f.createInvoice(t).InvoiceNumber)

	bad := newFixture(t, memory.New(), invoice.StaticSettings{Prefix: "aero club"})
	assert.Equal(t, "INV-000001", bad.createInvoice(t).InvoiceNumber)
	assert.Contains(t, bad.logs.String(), "invalid invoice prefix")
}

func TestCreateInvoice_RequiresUser(t *testing.T) {
	f := newMemoryFixture(t)

	_, err := f.svc.CreateInvoice(context.Background(), invoice.NewInvoice{})
	assert.ErrorIs(t, err, invoice.ErrUserRequired)
	assert.True(t, invoice.IsClientError(err))
}

func TestCreateInvoice_RejectsNegativeTaxRate(t *testing.T) {
	f := newMemoryFixture(t)

	item := lesson()
	item.TaxRate = rate("-0.1")
	_, err := f.svc.CreateInvoice(context.Background(), invoice.NewInvoice{UserID: "member-1", Items: []invoice.NewItem{item}})
	assert.ErrorIs(t, err, invoice.ErrInvalidTaxRate)
}

// =============================================================================
// ITEMS & TOTALS
// =============================================================================

func TestAddItem_ResolvesTaxRate(t *testing.T) {
	ctx := context.Background()
	settings := invoice.StaticSettings{
		Prefix:   "INV",
		TaxRate:  dec("0.15"),
		UserRate: map[string]decimal.Decimal{"member-2": decimal.Zero},
	}
	f := newFixture(t, memory.New(), settings)

	noRate := invoice.NewItem{Description: "Landing fee", Quantity: dec("1"), UnitPrice: dec("20")}

	inv := f.createInvoice(t)
	item, err := f.svc.AddItem(ctx, inv.ID, noRate)
	require.NoError(t, err)
	assertDecimal(t, "0.15", item.TaxRate)
	assertDecimal(t, "3", item.TaxAmount)
	assertDecimal(t, "23", item.RateInclusive)

	exempt, err := f.svc.CreateInvoice(ctx, invoice.NewInvoice{UserID: "member-2", Items: []invoice.NewItem{noRate}})
	require.NoError(t, err)
	assertDecimal(t, "0", exempt.TaxTotal)
	assertDecimal(t, "20", exempt.TotalAmount)
}

func TestRemoveItem_RecomputesTotals(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		inv := f.createInvoice(t, lesson())

		items, err := f.svc.Items(ctx, inv.ID)
		require.NoError(t, err)
		require.Len(t, items, 1)

		require.NoError(t, f.svc.RemoveItem(ctx, inv.ID, items[0].ID))

		got, err := f.svc.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, got.TotalAmount.IsZero())
		assert.True(t, got.BalanceDue.IsZero())

		err = f.svc.RemoveItem(ctx, inv.ID, items[0].ID)
		assert.True(t, invoice.IsNotFound(err))
	})
}

func TestUpdateInvoiceTotals_CorrectsActiveDebit(t *testing.T) {
	// GIVEN: a pending invoice already debited at 230
	// WHEN: another line is added
	// THEN: the same debit now carries the new total

	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		inv := f.createInvoice(t, lesson())
		f.setStatus(t, inv.ID, invoice.StatusPending)

		_, err := f.svc.AddItem(ctx, inv.ID, invoice.NewItem{
			Description: "Landing fee", Quantity: dec("1"), UnitPrice: dec("20"), TaxRate: rate("0.15"),
		})
		require.NoError(t, err)

		txs := f.transactions(t)
		require.Len(t, txs, 1)
		assertDecimal(t, "253", txs[0].Amount)
		assertDecimal(t, "253", f.balance(t))

		res, err := f.svc.UpdateInvoiceTotals(ctx, inv.ID)
		require.NoError(t, err)
		assert.False(t, res.TransactionCreated)
		assert.Equal(t, txs[0].ID, res.TransactionID)
		assertDecimal(t, "253", res.TotalAmount)
	})
}

func TestUpdateInvoiceTotals_CreatesMissingDebit(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		// Issued while empty, so nothing was billed.
		inv := f.createInvoice(t)
		f.setStatus(t, inv.ID, invoice.StatusPending)
		assert.Empty(t, f.transactions(t))
		assert.Contains(t, f.logs.String(), "no debit created")

		// Item lands without going through the service.
		a := money.CalculateItemAmounts(dec("1"), dec("50"), rate("0"))
		require.NoError(t, f.store.AddItem(ctx, invoice.Item{
			ID: "it-direct", InvoiceID: inv.ID, Quantity: dec("1"), UnitPrice: dec("50"),
			TaxRate: decimal.Zero, Amount: a.Amount, TaxAmount: a.TaxAmount,
			LineTotal: a.LineTotal, RateInclusive: a.RateInclusive, CreatedAt: f.clock.now(),
		}))

		res, err := f.svc.UpdateInvoiceTotals(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, res.TransactionCreated)
		assert.NotEmpty(t, res.TransactionID)
		assertDecimal(t, "50", res.TotalAmount)
		assertDecimal(t, "50", f.balance(t))
	})
}

func TestUpdateInvoiceTotals_DraftIsNotBilled(t *testing.T) {
	f := newMemoryFixture(t)
	inv := f.createInvoice(t, lesson())

	res, err := f.svc.UpdateInvoiceTotals(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.False(t, res.TransactionCreated)
	assert.Empty(t, res.TransactionID)
	assert.Empty(t, f.transactions(t))
}

func TestEditsOnCancelledInvoiceRejected(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	inv := f.createInvoice(t, lesson())
	f.setStatus(t, inv.ID, invoice.StatusCancelled)

	_, err := f.svc.AddItem(ctx, inv.ID, lesson())
	assert.ErrorIs(t, err, invoice.ErrInvoiceCancelled)
	assert.True(t, invoice.IsConflict(err))
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestProcessPayment_PartialThenFull(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		inv := f.createInvoice(t, lesson())
		f.setStatus(t, inv.ID, invoice.StatusPending)

		got, err := f.svc.ProcessPayment(ctx, inv.ID, dec("100"))
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPending, got.Status)
		assertDecimal(t, "130", got.BalanceDue)
		assert.Nil(t, got.PaidDate)

		f.clock.advance(time.Hour)
		paidAt := f.clock.now()
		got, err = f.svc.ProcessPayment(ctx, inv.ID, dec("130"))
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, got.Status)
		assert.True(t, got.BalanceDue.IsZero())
		require.NotNil(t, got.PaidDate)
		assert.True(t, got.PaidDate.Equal(paidAt))

		// An overpayment later does not move the paid date.
		f.clock.advance(24 * time.Hour)
		got, err = f.svc.ProcessPayment(ctx, inv.ID, dec("5"))
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, got.Status)
		assertDecimal(t, "-5", got.BalanceDue)
		assert.True(t, got.PaidDate.Equal(paidAt))

		// ProcessPayment only moves invoice state; the debit is untouched.
		txs := f.transactions(t)
		require.Len(t, txs, 1)
		assertDecimal(t, "230", f.balance(t))
	})
}

func TestProcessPayment_PartialPastDueIsOverdue(t *testing.T) {
	f := newMemoryFixture(t)
	inv := f.createInvoice(t, lesson())
	f.setStatus(t, inv.ID, invoice.StatusPending)

	f.clock.advance(30 * 24 * time.Hour)
	got, err := f.svc.ProcessPayment(context.Background(), inv.ID, dec("50"))
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusOverdue, got.Status)
	assert.Len(t, f.transactions(t), 1, "pending and overdue share one debit")
}

func TestProcessPayment_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	inv := f.createInvoice(t, lesson())

	_, err := f.svc.ProcessPayment(ctx, inv.ID, decimal.Zero)
	assert.ErrorIs(t, err, money.ErrInvalidAmount)

	_, err = f.svc.ProcessPayment(ctx, "missing", dec("10"))
	assert.ErrorIs(t, err, invoice.ErrInvoiceNotFound)

	f.setStatus(t, inv.ID, invoice.StatusCancelled)
	_, err = f.svc.ProcessPayment(ctx, inv.ID, dec("10"))
	assert.ErrorIs(t, err, invoice.ErrInvoiceCancelled)
}

func TestRecordPayment_CreditsLedger(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		inv := f.createInvoice(t, lesson())
		f.setStatus(t, inv.ID, invoice.StatusPending)

		p, err := f.svc.RecordPayment(ctx, invoice.PaymentInput{
			InvoiceID: inv.ID, Amount: dec("230"), Method: "card", Reference: "ch_123",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, p.TransactionID)
		assert.Equal(t, "member-1", p.UserID)

		got, err := f.svc.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, got.Status)
		assert.True(t, f.balance(t).IsZero())

		payments, err := f.svc.Payments(ctx, inv.ID)
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, p.TransactionID, payments[0].TransactionID)

		credit := f.transactions(t)[0]
		assert.Equal(t, ledger.TypeCredit, credit.Type)
		assert.Equal(t, p.ID, credit.Metadata[ledger.MetaPaymentID])
	})
}

func TestRecordPayment_OnDraftBillsFirst(t *testing.T) {
	// GIVEN: a draft invoice that was never issued
	// WHEN: it is paid in full
	// THEN: it is billed and credited in the same unit of work

	f := newMemoryFixture(t)
	inv := f.createInvoice(t, lesson())

	_, err := f.svc.RecordPayment(context.Background(), invoice.PaymentInput{InvoiceID: inv.ID, Amount: dec("230")})
	require.NoError(t, err)

	txs := f.transactions(t)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TypeCredit, txs[0].Type)
	assert.Equal(t, ledger.TypeDebit, txs[1].Type)
	assert.True(t, f.balance(t).IsZero())
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestUpdateInvoiceStatus_Idempotent(t *testing.T) {
	f := newMemoryFixture(t)
	inv := f.createInvoice(t, lesson())

	f.setStatus(t, inv.ID, invoice.StatusPending)
	f.setStatus(t, inv.ID, invoice.StatusPending)
	f.setStatus(t, inv.ID, invoice.StatusOverdue)

	assert.Len(t, f.transactions(t), 1)
}

func TestUpdateInvoiceStatus_InvalidStatus(t *testing.T) {
	f := newMemoryFixture(t)
	inv := f.createInvoice(t)

	_, err := f.svc.UpdateInvoiceStatus(context.Background(), inv.ID, "void")
	assert.ErrorIs(t, err, invoice.ErrInvalidStatus)
}

func TestCancel_WithoutDebitWarnsAndProceeds(t *testing.T) {
	f := newMemoryFixture(t)
	inv := f.createInvoice(t)
	f.setStatus(t, inv.ID, invoice.StatusPending)

	f.setStatus(t, inv.ID, invoice.StatusCancelled)

	assert.Empty(t, f.transactions(t))
	assert.Contains(t, f.logs.String(), "no debit transaction found")
}

func TestReinstateCancelledInvoice_BillsAgain(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		inv := f.createInvoice(t, lesson())
		f.setStatus(t, inv.ID, invoice.StatusPending)
		f.setStatus(t, inv.ID, invoice.StatusCancelled)
		f.setStatus(t, inv.ID, invoice.StatusPending)

		txs := f.transactions(t)
		require.Len(t, txs, 3)
		assert.Equal(t, ledger.TypeDebit, txs[0].Type)
		assert.Empty(t, txs[0].ReversalOf())
		assertDecimal(t, "230", f.balance(t))

		f.setStatus(t, inv.ID, invoice.StatusCancelled)
		assert.Len(t, f.transactions(t), 4)
		assert.True(t, f.balance(t).IsZero())
	})
}

func TestReturnToDraft_ReversesDebit(t *testing.T) {
	f := newMemoryFixture(t)
	inv := f.createInvoice(t, lesson())
	f.setStatus(t, inv.ID, invoice.StatusPending)

	f.setStatus(t, inv.ID, invoice.StatusDraft)

	txs := f.transactions(t)
	require.Len(t, txs, 2)
	assert.Equal(t, invoice.ReasonDraft, txs[0].Metadata[ledger.MetaReversalReason])
	assert.True(t, f.balance(t).IsZero())
}

// failingLedger hands out a ledger store whose inserts fail.
type failingLedger struct {
	invoice.Store
}

type insertFails struct {
	ledger.Store
}

var errDiskFull = errors.New("disk full")

func (insertFails) Insert(context.Context, ledger.Transaction) error { return errDiskFull }

func (f failingLedger) WithTx(ctx context.Context, fn func(invoice.Repository, ledger.Store) error) error {
	return f.Store.WithTx(ctx, func(repo invoice.Repository, ls ledger.Store) error {
		return fn(repo, insertFails{Store: ls})
	})
}

func TestStatusChange_RolledBackWhenLedgerFails(t *testing.T) {
	// GIVEN: a ledger that cannot write
	// WHEN: a draft invoice is issued
	// THEN: the status change is rolled back with the failed debit

	backing := memory.New()
	f := newFixture(t, failingLedger{Store: backing}, invoice.StaticSettings{})
	inv := f.createInvoice(t, lesson())

	_, err := f.svc.UpdateInvoiceStatus(context.Background(), inv.ID, invoice.StatusPending)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	var lerr *invoice.LedgerError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, invoice.StatusDraft, lerr.From)
	assert.Contains(t, err.Error(), "failed to create invoice debit transaction")

	got, err := f.svc.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusDraft, got.Status)
}

// =============================================================================
// CLOCK-DRIVEN STATUS
// =============================================================================

func TestRefreshOverdue(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		soon := f.createInvoice(t, lesson())
		f.setStatus(t, soon.ID, invoice.StatusPending)

		later, err := f.svc.CreateInvoice(ctx, invoice.NewInvoice{
			UserID: "member-1", DueDate: f.dueIn(60), Items: []invoice.NewItem{lesson()},
		})
		require.NoError(t, err)
		f.setStatus(t, later.ID, invoice.StatusPending)

		f.clock.advance(30 * 24 * time.Hour)
		n, err := f.svc.RefreshOverdue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := f.svc.GetInvoice(ctx, soon.ID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusOverdue, got.Status)

		got, err = f.svc.GetInvoice(ctx, later.ID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPending, got.Status)

		assert.Len(t, f.transactions(t), 2, "overdue keeps the existing debit")

		// Paying the overdue invoice clears it.
		got, err = f.svc.ProcessPayment(ctx, soon.ID, dec("230"))
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, got.Status)
	})
}

func TestRefreshStatus_LeavesDraftAlone(t *testing.T) {
	f := newMemoryFixture(t)
	inv := f.createInvoice(t, lesson())
	f.clock.advance(90 * 24 * time.Hour)

	got, changed, err := f.svc.RefreshStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, invoice.StatusDraft, got.Status)
}

func TestListInvoices(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	a := f.createInvoice(t, lesson())
	f.clock.advance(time.Minute)
	b := f.createInvoice(t)
	f.setStatus(t, a.ID, invoice.StatusPending)

	all, err := f.svc.ListInvoices(ctx, invoice.Filter{UserID: "member-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	pending, err := f.svc.ListInvoices(ctx, invoice.Filter{Status: invoice.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}
