package invoice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrefix is used when no valid prefix is configured.
const DefaultPrefix = "INV"

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

// NormalizePrefix returns p trimmed, or DefaultPrefix when p is not 1-10
// uppercase letters or digits.
func NormalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if !prefixPattern.MatchString(p) {
		return DefaultPrefix
	}
	return p
}

// FormatNumber renders an invoice number, e.g. INV-000042.
func FormatNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}

// GenerateInvoiceNumber allocates the next number for the configured prefix.
func (s *Service) GenerateInvoiceNumber(ctx context.Context) (string, error) {
	prefix, err := s.invoicePrefix(ctx)
	if err != nil {
		return "", err
	}
	return s.nextNumber(ctx, s.store, prefix)
}

func (s *Service) invoicePrefix(ctx context.Context) (string, error) {
	if s.settings == nil {
		return DefaultPrefix, nil
	}
	raw, err := s.settings.InvoicePrefix(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load invoice prefix: %w", err)
	}
	prefix := NormalizePrefix(raw)
	if raw != "" && prefix != strings.TrimSpace(raw) {
		s.log.Warn().Str("prefix", raw).Str("fallback", prefix).Msg("invalid invoice prefix, using default")
	}
	return prefix, nil
}

func (s *Service) nextNumber(ctx context.Context, repo Repository, prefix string) (string, error) {
	seq, err := repo.NextInvoiceSequence(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to generate invoice number: %w", err)
	}
	return FormatNumber(prefix, seq), nil
}
