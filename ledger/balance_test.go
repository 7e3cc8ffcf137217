package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

func credit(userID, amount string) ledger.PaymentCredit {
	return ledger.PaymentCredit{
		UserID:        userID,
		Amount:        dec(amount),
		InvoiceID:     "inv-1",
		InvoiceNumber: "INV-000001",
		PaymentID:     "pay-1",
	}
}

func TestGetBalanceHistory_RunningBalanceWalksBackwards(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)
	agg := ledger.NewAggregator(l)

	debit, err := l.CreateInvoiceDebit(ctx, debitFor("inv-1", "100"))
	require.NoError(t, err)
	cred, err := l.CreatePaymentCredit(ctx, credit("member-1", "50"))
	require.NoError(t, err)

	hist, err := agg.GetBalanceHistory(ctx, "member-1", 30)
	require.NoError(t, err)
	require.Len(t, hist, 2)

	// Newest first: the credit carries the current balance.
	assert.Equal(t, cred, hist[0].ID)
	assert.True(t, hist[0].RunningBalance.Equal(dec("50")), "credit running %s", hist[0].RunningBalance)
	assert.Equal(t, debit, hist[1].ID)
	assert.True(t, hist[1].RunningBalance.Equal(dec("100")), "debit running %s", hist[1].RunningBalance)

	current, err := agg.GetBalance(ctx, "member-1")
	require.NoError(t, err)
	assert.True(t, current.Equal(hist[0].RunningBalance))
}

func TestGetBalanceHistory_Window(t *testing.T) {
	ctx := context.Background()
	l, _, clock := newLedger(t)
	agg := ledger.NewAggregator(l)

	_, err := l.CreateInvoiceDebit(ctx, debitFor("inv-old", "100"))
	require.NoError(t, err)
	clock.jump(45 * 24 * time.Hour)
	_, err = l.CreateInvoiceDebit(ctx, debitFor("inv-new", "40"))
	require.NoError(t, err)

	// Non-positive days falls back to the 30 day default.
	hist, err := agg.GetBalanceHistory(ctx, "member-1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "inv-new", hist[0].InvoiceID())
	assert.True(t, hist[0].RunningBalance.Equal(dec("140")), "older entries still count toward the balance")

	hist, err = agg.GetBalanceHistory(ctx, "member-1", 60)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestGetBalanceHistory_PendingEntriesDoNotMoveBalance(t *testing.T) {
	ctx := context.Background()
	l, st, clock := newLedger(t)
	agg := ledger.NewAggregator(l)

	_, err := l.CreateInvoiceDebit(ctx, debitFor("inv-1", "100"))
	require.NoError(t, err)
	require.NoError(t, st.Insert(ctx, ledger.Transaction{
		ID: "pending-1", UserID: "member-1", Type: ledger.TypeCredit,
		Amount: dec("30"), Status: ledger.StatusPending, CreatedAt: clock.now(),
	}))

	hist, err := agg.GetBalanceHistory(ctx, "member-1", 30)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].RunningBalance.Equal(dec("100")))
	assert.True(t, hist[1].RunningBalance.Equal(dec("100")))
}

func TestGetBalanceSummary(t *testing.T) {
	ctx := context.Background()
	l, st, clock := newLedger(t)
	agg := ledger.NewAggregator(l)

	_, err := l.CreateInvoiceDebit(ctx, debitFor("inv-1", "230"))
	require.NoError(t, err)
	_, err = l.CreatePaymentCredit(ctx, credit("member-1", "100"))
	require.NoError(t, err)
	last := clock.now()
	require.NoError(t, st.Insert(ctx, ledger.Transaction{
		ID: "pending-1", UserID: "member-1", Type: ledger.TypeDebit,
		Amount: dec("12.5"), Status: ledger.StatusPending, CreatedAt: last,
	}))

	sum, err := agg.GetBalanceSummary(ctx, "member-1")
	require.NoError(t, err)

	assert.True(t, sum.TotalDebits.Equal(dec("230")))
	assert.True(t, sum.TotalCredits.Equal(dec("100")))
	assert.True(t, sum.PendingAmount.Equal(dec("12.5")))
	assert.True(t, sum.CurrentBalance.Equal(dec("130")))
	assert.Equal(t, 3, sum.TransactionCount)
	require.NotNil(t, sum.LastTransactionAt)
	assert.True(t, sum.LastTransactionAt.Equal(last))
}

func TestGetBalanceSummary_Empty(t *testing.T) {
	l, _, _ := newLedger(t)

	sum, err := ledger.NewAggregator(l).GetBalanceSummary(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, sum.CurrentBalance.IsZero())
	assert.Nil(t, sum.LastTransactionAt)
}

// flakyBalances fails the balance lookup for one user.
type flakyBalances struct {
	ledger.Store
	failFor string
}

func (f flakyBalances) AccountBalance(ctx context.Context, userID string) (decimal.NullDecimal, error) {
	if userID == f.failFor {
		return decimal.NullDecimal{}, errors.New("connection reset")
	}
	return f.Store.AccountBalance(ctx, userID)
}

func TestGetUsersWithOutstandingBalances(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newLedger(t)

	seed := func(userID, invoiceID, amount string) {
		in := debitFor(invoiceID, amount)
		in.UserID = userID
		_, err := l.CreateInvoiceDebit(ctx, in)
		require.NoError(t, err)
	}
	seed("alice", "inv-a", "50")
	seed("bob", "inv-b", "300")
	seed("carol", "inv-c", "120")
	seed("dave", "inv-d", "80")
	seed("erin", "inv-e", "25")

	// dave is settled, erin is in credit.
	_, err := l.CreatePaymentCredit(ctx, credit("dave", "80"))
	require.NoError(t, err)
	_, err = l.CreatePaymentCredit(ctx, credit("erin", "40"))
	require.NoError(t, err)

	agg := ledger.NewAggregator(ledger.New(flakyBalances{Store: st, failFor: "carol"}))

	got, err := agg.GetUsersWithOutstandingBalances(ctx, 0)
	require.NoError(t, err)

	var users []string
	for _, ub := range got {
		users = append(users, ub.UserID)
	}
	assert.Equal(t, []string{"bob", "alice", "erin"}, users)
	assert.True(t, got[2].Balance.Equal(dec("-15")))

	top, err := agg.GetUsersWithOutstandingBalances(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "bob", top[0].UserID)
}
