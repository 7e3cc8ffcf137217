package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/store/sqlite"
)

// seed writes one issued invoice of 115 for member-1 into a fresh database.
func seed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	svc := invoice.NewService(store, invoice.StaticSettings{TaxRate: decimal.RequireFromString("0.15")})
	inv, err := svc.CreateInvoice(ctx, invoice.NewInvoice{
		UserID: "member-1",
		Items: []invoice.NewItem{{
			Description: "Dual instruction", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100),
		}},
	})
	require.NoError(t, err)
	_, err = svc.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusPending)
	require.NoError(t, err)
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE_PATH", filepath.Join(t.TempDir(), "cli.log"))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestBalanceCommand(t *testing.T) {
	db := seed(t)

	out := run(t, "balance", "member-1", "--db", db)
	assert.Contains(t, out, "balance:       115.00")
	assert.Contains(t, out, "transactions:  1")
}

func TestOutstandingCommand(t *testing.T) {
	db := seed(t)

	out := run(t, "outstanding", "--db", db)
	assert.Contains(t, out, "member-1")
	assert.Contains(t, out, "115.00")
}

func TestRefreshOverdueCommand(t *testing.T) {
	db := seed(t)

	out := run(t, "refresh-overdue", "--db", db)
	assert.Contains(t, out, "0 invoice(s) marked overdue")
}

func TestBalanceCommand_RequiresUser(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"balance"})
	assert.Error(t, cmd.Execute())
}
