package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

const transactionColumns = `id, user_id, type, amount, description, metadata_json, reference_number,
	status, idempotency_key, completed_at, created_at, updated_at`

// Insert appends a transaction to the ledger.
func (c conn) Insert(ctx context.Context, tx ledger.Transaction) error {
	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	created := tx.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := tx.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	query := `
		INSERT INTO transactions
		(id, user_id, type, amount, description, metadata_json, reference_number,
		 status, idempotency_key, invoice_id, transaction_kind, reversal_of,
		 completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = c.q.ExecContext(ctx, query,
		string(tx.ID),
		tx.UserID,
		string(tx.Type),
		tx.Amount.String(),
		tx.Description,
		string(metadataJSON),
		nullString(tx.ReferenceNumber),
		string(tx.Status),
		nullString(tx.IdempotencyKey),
		nullString(tx.InvoiceID()),
		nullString(string(tx.Metadata.Kind())),
		nullString(string(tx.ReversalOf())),
		formatTimePtr(tx.CompletedAt),
		formatTime(created),
		formatTime(updated),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// Transaction returns one transaction, or nil if it doesn't exist.
func (c conn) Transaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return c.queryOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, string(id))
}

func (c conn) ByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return c.queryOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = ?`, key)
}

// InvoiceDebits returns an invoice's invoice_debit debits, oldest first.
func (c conn) InvoiceDebits(ctx context.Context, invoiceID string) ([]ledger.Transaction, error) {
	return c.queryMany(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE invoice_id = ? AND type = ? AND transaction_kind = ?
		ORDER BY created_at ASC, rowid ASC`,
		invoiceID, string(ledger.TypeDebit), string(ledger.KindInvoiceDebit))
}

func (c conn) ReversalOf(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return c.queryOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reversal_of = ? LIMIT 1`, string(id))
}

// UpdateAmount corrects a transaction's amount.
func (c conn) UpdateAmount(ctx context.Context, id ledger.TransactionID, amount decimal.Decimal, at time.Time) error {
	res, err := c.q.ExecContext(ctx,
		`UPDATE transactions SET amount = ?, updated_at = ? WHERE id = ?`,
		amount.String(), formatTime(at), string(id))
	if err != nil {
		return fmt.Errorf("failed to update transaction amount: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, id)
	}
	return nil
}

// AccountBalance sums completed debits minus completed credits for userID.
func (c conn) AccountBalance(ctx context.Context, userID string) (decimal.NullDecimal, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT type, status, amount FROM transactions WHERE user_id = ?`, userID)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to query balance: %w", err)
	}
	defer rows.Close()

	var (
		bal   decimal.Decimal
		found bool
	)
	for rows.Next() {
		var typ, status, amount string
		if err := rows.Scan(&typ, &status, &amount); err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("failed to scan balance row: %w", err)
		}
		found = true
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		tx := ledger.Transaction{Type: ledger.Type(typ), Status: ledger.Status(status), Amount: amt}
		bal = bal.Add(tx.Effect())
	}
	if err := rows.Err(); err != nil {
		return decimal.NullDecimal{}, err
	}
	if !found {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(bal), nil
}

// UserTransactions returns a user's transactions since the given time, newest first.
func (c conn) UserTransactions(ctx context.Context, userID string, since time.Time) ([]ledger.Transaction, error) {
	return c.queryMany(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC, rowid DESC`,
		userID, formatTime(since))
}

func (c conn) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT DISTINCT user_id FROM transactions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (c conn) queryOne(ctx context.Context, query string, args ...any) (*ledger.Transaction, error) {
	tx, err := scanTransaction(c.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c conn) queryMany(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(sc scanner) (ledger.Transaction, error) {
	var (
		tx                          ledger.Transaction
		id, typ, amount, status     string
		metadataJSON, reference     sql.NullString
		idempotencyKey, completedAt sql.NullString
		createdAt, updatedAt        string
	)

	err := sc.Scan(
		&id, &tx.UserID, &typ, &amount, &tx.Description, &metadataJSON, &reference,
		&status, &idempotencyKey, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.ID = ledger.TransactionID(id)
	tx.Type = ledger.Type(typ)
	tx.Status = ledger.Status(status)
	tx.ReferenceNumber = reference.String
	tx.IdempotencyKey = idempotencyKey.String

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	if tx.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return tx, err
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return tx, err
	}
	if tx.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return tx, err
	}
	return tx, nil
}
