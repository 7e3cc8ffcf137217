package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
)

// Settings keys.
const (
	SettingInvoicePrefix = "invoice_prefix"
	SettingTaxRate       = "default_tax_rate"
)

// Settings implements invoice.Settings over the settings tables, falling back
// to static defaults for anything not stored.
type Settings struct {
	q        querier
	defaults invoice.StaticSettings
}

var _ invoice.Settings = (*Settings)(nil)

// Settings returns the store's settings view layered over defaults.
func (s *Store) Settings(defaults invoice.StaticSettings) *Settings {
	return &Settings{q: s.db, defaults: defaults}
}

func (st *Settings) InvoicePrefix(ctx context.Context) (string, error) {
	v, ok, err := st.get(ctx, SettingInvoicePrefix)
	if err != nil || !ok {
		return st.defaults.Prefix, err
	}
	return v, nil
}

func (st *Settings) OrganizationTaxRate(ctx context.Context) (decimal.Decimal, error) {
	v, ok, err := st.get(ctx, SettingTaxRate)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return st.defaults.TaxRate, nil
	}
	rate, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s setting %q: %w", SettingTaxRate, v, err)
	}
	return rate, nil
}

func (st *Settings) UserTaxRate(ctx context.Context, userID string) (decimal.NullDecimal, error) {
	var raw string
	err := st.q.QueryRowContext(ctx, `SELECT tax_rate FROM user_tax_rates WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return st.defaults.UserTaxRate(ctx, userID)
	}
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to query user tax rate: %w", err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid tax rate %q for user %s: %w", raw, userID, err)
	}
	return decimal.NewNullDecimal(rate), nil
}

// Set stores an organization setting.
func (st *Settings) Set(ctx context.Context, key, value string) error {
	_, err := st.q.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// SetUserTaxRate stores a per-member tax rate override.
func (st *Settings) SetUserTaxRate(ctx context.Context, userID string, rate decimal.Decimal) error {
	_, err := st.q.ExecContext(ctx, `
		INSERT INTO user_tax_rates (user_id, tax_rate, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tax_rate = excluded.tax_rate, updated_at = excluded.updated_at`,
		userID, rate.String(), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save user tax rate: %w", err)
	}
	return nil
}

func (st *Settings) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := st.q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return v, true, nil
}
