/*
balance.go - Read-only balance views over the ledger

PURPOSE:
  Derives point-in-time and historical balances from the transaction trail.
  Nothing here writes.

HISTORY WALK:
  Transactions come back newest first. The newest entry is stamped with the
  current balance; each older entry gets the balance as it stood right after
  that entry was applied, found by undoing the newer entry's effect:

    running[0]   = current balance
    running[i+1] = running[i] - effect(tx[i])

  Example, debit 100 then credit 50:
    credit 50   running = 50   (current balance)
    debit 100   running = 100  (50 - (-50))

OUTSTANDING BALANCES:
  A scan over every member. One member's failure is logged and skipped so
  the rest of the scan still completes.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultHistoryDays is used when GetBalanceHistory is given a non-positive window.
const DefaultHistoryDays = 30

type Aggregator struct {
	ledger *Ledger
	log    zerolog.Logger
}

func NewAggregator(l *Ledger) *Aggregator {
	return &Aggregator{ledger: l, log: l.log}
}

// HistoryEntry is a transaction with the balance right after it was applied.
type HistoryEntry struct {
	Transaction
	RunningBalance decimal.Decimal
}

// Summary is an overview of a member's account.
type Summary struct {
	UserID            string
	CurrentBalance    decimal.Decimal
	TotalDebits       decimal.Decimal
	TotalCredits      decimal.Decimal
	PendingAmount     decimal.Decimal
	TransactionCount  int
	LastTransactionAt *time.Time
}

type UserBalance struct {
	UserID  string
	Balance decimal.Decimal
}

// GetBalance returns the member's current balance.
func (a *Aggregator) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return a.ledger.GetUserAccountBalance(ctx, userID)
}

// GetBalanceHistory returns the member's transactions from the last days days,
// newest first, each with its running balance.
func (a *Aggregator) GetBalanceHistory(ctx context.Context, userID string, days int) ([]HistoryEntry, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	since := a.ledger.now().UTC().AddDate(0, 0, -days)

	txs, err := a.ledger.store.UserTransactions(ctx, userID, since)
	if err != nil {
		return nil, wrap("load balance history", err)
	}
	current, err := a.ledger.GetUserAccountBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, len(txs))
	running := current
	for i, tx := range txs {
		entries[i] = HistoryEntry{Transaction: tx, RunningBalance: running}
		running = running.Sub(tx.Effect())
	}
	return entries, nil
}

// GetBalanceSummary totals the member's whole trail.
func (a *Aggregator) GetBalanceSummary(ctx context.Context, userID string) (Summary, error) {
	s := Summary{
		UserID:        userID,
		TotalDebits:   decimal.Zero,
		TotalCredits:  decimal.Zero,
		PendingAmount: decimal.Zero,
	}

	txs, err := a.ledger.store.UserTransactions(ctx, userID, time.Time{})
	if err != nil {
		return s, wrap("load balance summary", err)
	}

	for _, tx := range txs {
		switch {
		case tx.Status == StatusPending:
			s.PendingAmount = s.PendingAmount.Add(tx.Amount)
		case tx.Status == StatusCompleted && tx.Type == TypeDebit:
			s.TotalDebits = s.TotalDebits.Add(tx.Amount)
		case tx.Status == StatusCompleted && tx.Type == TypeCredit:
			s.TotalCredits = s.TotalCredits.Add(tx.Amount)
		}
	}
	s.TransactionCount = len(txs)
	if len(txs) > 0 {
		last := txs[0].CreatedAt
		s.LastTransactionAt = &last
	}

	s.CurrentBalance, err = a.ledger.GetUserAccountBalance(ctx, userID)
	if err != nil {
		return s, err
	}
	return s, nil
}

// GetUsersWithOutstandingBalances lists members with a non-zero balance, most
// owed first, at most limit of them. limit <= 0 means no limit.
func (a *Aggregator) GetUsersWithOutstandingBalances(ctx context.Context, limit int) ([]UserBalance, error) {
	users, err := a.ledger.store.UserIDs(ctx)
	if err != nil {
		return nil, wrap("list ledger users", err)
	}

	var out []UserBalance
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bal, err := a.ledger.GetUserAccountBalance(ctx, userID)
		if err != nil {
			a.log.Warn().Err(err).Str("user_id", userID).Msg("skipping user: balance lookup failed")
			continue
		}
		if bal.IsZero() {
			continue
		}
		out = append(out, UserBalance{UserID: userID, Balance: bal})
	}

	// Positive means owed to the school, so descending lists the largest debtor first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Balance.GreaterThan(out[j].Balance)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
