package invoice

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Settings supplies the organization's invoicing configuration.
type Settings interface {
	// InvoicePrefix returns the configured invoice number prefix. An empty
	// or malformed value falls back to DefaultPrefix.
	InvoicePrefix(ctx context.Context) (string, error)

	// OrganizationTaxRate returns the default tax rate as a fraction (0.15 = 15%).
	OrganizationTaxRate(ctx context.Context) (decimal.Decimal, error)

	// UserTaxRate returns a per-member override, if one is set.
	UserTaxRate(ctx context.Context, userID string) (decimal.NullDecimal, error)
}

// StaticSettings is a fixed configuration.
type StaticSettings struct {
	Prefix   string
	TaxRate  decimal.Decimal
	UserRate map[string]decimal.Decimal
}

func (s StaticSettings) InvoicePrefix(context.Context) (string, error) {
	return s.Prefix, nil
}

func (s StaticSettings) OrganizationTaxRate(context.Context) (decimal.Decimal, error) {
	return s.TaxRate, nil
}

func (s StaticSettings) UserTaxRate(_ context.Context, userID string) (decimal.NullDecimal, error) {
	if r, ok := s.UserRate[userID]; ok {
		return decimal.NewNullDecimal(r), nil
	}
	return decimal.NullDecimal{}, nil
}

// ResolveTaxRate picks the rate for a new item: the item's own rate, else the
// member's override, else the organization default.
func ResolveTaxRate(ctx context.Context, s Settings, userID string, itemRate decimal.NullDecimal) (decimal.Decimal, error) {
	if itemRate.Valid {
		return itemRate.Decimal, nil
	}
	if s == nil {
		return decimal.Zero, nil
	}

	userRate, err := s.UserTaxRate(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load user tax rate: %w", err)
	}
	if userRate.Valid {
		return userRate.Decimal, nil
	}

	orgRate, err := s.OrganizationTaxRate(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load organization tax rate: %w", err)
	}
	return orgRate, nil
}
