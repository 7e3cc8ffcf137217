/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements invoice.Store (and with it ledger.Store) plus invoice.Settings
  on a single SQLite database. In production the same patterns apply to
  PostgreSQL with minor dialect differences.

INTERFACES IMPLEMENTED:
  invoice.Repository: invoices, items, payments, number sequences
  ledger.Store:       transaction persistence and balance aggregation
  invoice.Store:      both of the above inside one database transaction
  invoice.Settings:   prefix and tax rates (see settings.go)

APPEND-ONLY ENFORCEMENT:
  transactions has no DELETE path. The only UPDATE is UpdateAmount, the
  ledger's explicit amount correction.

IDEMPOTENCY:
  transactions.idempotency_key is UNIQUE, and so is reversal_of. A
  violation surfaces as ledger.ErrDuplicateIdempotencyKey so the ledger can
  re-read the winning row.

KEY TABLES:
  invoices, invoice_items, payments
  transactions:       append-only ledger, metadata as JSON plus
                      denormalized invoice_id / transaction_kind / reversal_of
  invoice_sequences:  per-prefix counters
  settings, user_tax_rates

CONCURRENCY:
  The pool is capped at one connection, so every statement and every
  WithTx runs serialized. That single connection is also what makes
  ":memory:" behave as one database. Invoice numbering relies on it:
  the UPSERT ... RETURNING in NextInvoiceSequence cannot interleave.

AMOUNTS:
  Decimals are stored as TEXT and summed in Go. SQLite's SUM() would go
  through floating point.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := invoice.NewService(store, store.Settings(defaults))

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements invoice.Store and ledger.Store using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var (
	_ invoice.Store = (*Store)(nil)
	_ ledger.Store  = (*Store)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs the store's queries against either the pool or an open transaction.
type conn struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Ledger returns the non-transactional ledger view.
func (s *Store) Ledger() ledger.Store { return s.conn }

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(invoice.Repository, ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tc := conn{q: sqlTx}
	if err := fn(tc, tc); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		tax_total TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		balance_due TEXT NOT NULL,
		due_date TEXT,
		paid_date TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_user
		ON invoices(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_invoices_status_due
		ON invoices(status, due_date);

	-- Line items
	CREATE TABLE IF NOT EXISTS invoice_items (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		description TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		tax_rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		line_total TEXT NOT NULL,
		rate_inclusive TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice
		ON invoice_items(invoice_id);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		transaction_id TEXT,
		paid_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payments(invoice_id);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		metadata_json TEXT,
		reference_number TEXT,
		status TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		invoice_id TEXT,
		transaction_kind TEXT,
		reversal_of TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Balance and history (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_user_created
		ON transactions(user_id, created_at DESC);

	-- Invoice debit lookup
	CREATE INDEX IF NOT EXISTS idx_transactions_invoice_kind
		ON transactions(invoice_id, transaction_kind) WHERE invoice_id IS NOT NULL;

	-- At most one reversal per transaction
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_reversal_of
		ON transactions(reversal_of) WHERE reversal_of IS NOT NULL;

	-- Invoice number counters
	CREATE TABLE IF NOT EXISTS invoice_sequences (
		prefix TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL
	);

	-- Organization settings
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_tax_rates (
		user_id TEXT PRIMARY KEY,
		tax_rate TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func sqliteCode(err error) (sqlite3.ErrNoExtended, bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.ExtendedCode, true
}

func isUniqueConstraintError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.ErrConstraintUnique || code == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.ErrConstraintForeignKey
}
