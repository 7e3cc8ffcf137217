package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

// =============================================================================
// INVOICE STORE (invoice.Repository interface)
// =============================================================================

const invoiceColumns = `id, invoice_number, user_id, status, subtotal, tax_total, total_amount,
	total_paid, balance_due, due_date, paid_date, notes, created_at, updated_at`

// CreateInvoice inserts a new invoice row.
func (c conn) CreateInvoice(ctx context.Context, inv invoice.Invoice) error {
	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.q.ExecContext(ctx, query,
		inv.ID,
		inv.InvoiceNumber,
		inv.UserID,
		string(inv.Status),
		inv.Subtotal.String(),
		inv.TaxTotal.String(),
		inv.TotalAmount.String(),
		inv.TotalPaid.String(),
		inv.BalanceDue.String(),
		formatTimePtr(inv.DueDate),
		formatTimePtr(inv.PaidDate),
		inv.Notes,
		formatTime(inv.CreatedAt),
		formatTime(inv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

// Invoice returns an invoice by id, or nil if it doesn't exist.
func (c conn) Invoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// UpdateInvoice overwrites the mutable invoice fields.
func (c conn) UpdateInvoice(ctx context.Context, inv invoice.Invoice) error {
	query := `
		UPDATE invoices SET
			status = ?, subtotal = ?, tax_total = ?, total_amount = ?,
			total_paid = ?, balance_due = ?, due_date = ?, paid_date = ?,
			notes = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := c.q.ExecContext(ctx, query,
		string(inv.Status),
		inv.Subtotal.String(),
		inv.TaxTotal.String(),
		inv.TotalAmount.String(),
		inv.TotalPaid.String(),
		inv.BalanceDue.String(),
		formatTimePtr(inv.DueDate),
		formatTimePtr(inv.PaidDate),
		inv.Notes,
		formatTime(inv.UpdatedAt),
		inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return invoice.ErrInvoiceNotFound
	}
	return nil
}

// ListInvoices returns invoices matching f, newest first.
func (c conn) ListInvoices(ctx context.Context, f invoice.Filter) ([]invoice.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanInvoice(sc scanner) (invoice.Invoice, error) {
	var (
		inv                                   invoice.Invoice
		status                                string
		subtotal, taxTotal, total, paid, owed string
		dueDate, paidDate                     sql.NullString
		createdAt, updatedAt                  string
	)

	err := sc.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.UserID, &status,
		&subtotal, &taxTotal, &total, &paid, &owed,
		&dueDate, &paidDate, &inv.Notes, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inv, err
		}
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.Status = invoice.Status(status)
	if inv.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return inv, err
	}
	if inv.TaxTotal, err = decimal.NewFromString(taxTotal); err != nil {
		return inv, err
	}
	if inv.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return inv, err
	}
	if inv.TotalPaid, err = decimal.NewFromString(paid); err != nil {
		return inv, err
	}
	if inv.BalanceDue, err = decimal.NewFromString(owed); err != nil {
		return inv, err
	}
	if inv.DueDate, err = parseTimePtr(dueDate); err != nil {
		return inv, err
	}
	if inv.PaidDate, err = parseTimePtr(paidDate); err != nil {
		return inv, err
	}
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return inv, err
	}
	if inv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return inv, err
	}
	return inv, nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

const itemColumns = `id, invoice_id, description, quantity, unit_price, tax_rate,
	amount, tax_amount, line_total, rate_inclusive, created_at`

func (c conn) AddItem(ctx context.Context, it invoice.Item) error {
	query := `INSERT INTO invoice_items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.q.ExecContext(ctx, query,
		it.ID,
		it.InvoiceID,
		it.Description,
		it.Quantity.String(),
		it.UnitPrice.String(),
		it.TaxRate.String(),
		it.Amount.String(),
		it.TaxAmount.String(),
		it.LineTotal.String(),
		it.RateInclusive.String(),
		formatTime(it.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", invoice.ErrInvoiceNotFound, it.InvoiceID)
		}
		return fmt.Errorf("failed to insert invoice item: %w", err)
	}
	return nil
}

// Items returns an invoice's items in insertion order.
func (c conn) Items(ctx context.Context, invoiceID string) ([]invoice.Item, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = ? ORDER BY created_at ASC, rowid ASC`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	var out []invoice.Item
	for rows.Next() {
		var (
			it                                        invoice.Item
			qty, price, rate, amt, tax, line, incl, at string
		)
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description,
			&qty, &price, &rate, &amt, &tax, &line, &incl, &at); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		fields := []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&it.Quantity, qty}, {&it.UnitPrice, price}, {&it.TaxRate, rate},
			{&it.Amount, amt}, {&it.TaxAmount, tax}, {&it.LineTotal, line},
			{&it.RateInclusive, incl},
		}
		for _, f := range fields {
			if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
				return nil, fmt.Errorf("failed to parse item %s amount: %w", it.ID, err)
			}
		}
		if it.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (c conn) DeleteItem(ctx context.Context, invoiceID, itemID string) error {
	res, err := c.q.ExecContext(ctx,
		`DELETE FROM invoice_items WHERE id = ? AND invoice_id = ?`, itemID, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to delete invoice item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", invoice.ErrItemNotFound, itemID)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (c conn) CreatePayment(ctx context.Context, p invoice.Payment) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, user_id, amount, method, reference, transaction_id, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.InvoiceID,
		p.UserID,
		p.Amount.String(),
		p.Method,
		p.Reference,
		nullString(string(p.TransactionID)),
		formatTime(p.PaidAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", invoice.ErrInvoiceNotFound, p.InvoiceID)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (c conn) Payments(ctx context.Context, invoiceID string) ([]invoice.Payment, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, invoice_id, user_id, amount, method, reference, transaction_id, paid_at
		FROM payments WHERE invoice_id = ?
		ORDER BY paid_at ASC, rowid ASC`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []invoice.Payment
	for rows.Next() {
		var (
			p          invoice.Payment
			amount, at string
			txID       sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.UserID, &amount, &p.Method, &p.Reference, &txID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if p.PaidAt, err = parseTime(at); err != nil {
			return nil, err
		}
		p.TransactionID = ledger.TransactionID(txID.String)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// NUMBERING
// =============================================================================

// NextInvoiceSequence bumps and returns the counter for prefix.
func (c conn) NextInvoiceSequence(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := c.q.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (prefix, last_value) VALUES (?, 1)
		ON CONFLICT(prefix) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value`, prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate invoice sequence: %w", err)
	}
	return n, nil
}
