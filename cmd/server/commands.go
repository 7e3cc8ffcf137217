package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/callumsoutar/flight-service-pro-sub000/api"
	"github.com/callumsoutar/flight-service-pro-sub000/config"
	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/store/sqlite"
)

// options are the flags shared by every command.
type options struct {
	envFile string
	dbPath  string
	port    int
}

// app is everything a command needs, opened from options.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	store *sqlite.Store
	svc   *invoice.Service

	logCloser io.Closer
}

func (o *options) open() (*app, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.DatabasePath = o.dbPath
	}
	if o.port != 0 {
		cfg.Port = o.port
	}

	log, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	svc := invoice.NewService(store, store.Settings(cfg.InvoiceDefaults()), invoice.WithLogger(log))
	return &app{cfg: cfg, log: log, store: store, svc: svc, logCloser: logCloser}, nil
}

func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.logCloser.Close())
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "server",
		Short: "Flight school financial ledger",
		Long: `Runs the invoice and member ledger API for a flight school, or one of
its maintenance commands against the same database.

With no command, serve is run.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error { return serve(cmd.Context(), a) })
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before the environment")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path, overrides DATABASE_PATH")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error { return serve(cmd.Context(), a) })
		},
	}
	serveCmd.Flags().IntVar(&opts.port, "port", 0, "HTTP port, overrides PORT")

	balanceCmd := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Print a member's balance summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				s, err := a.svc.Balances().GetBalanceSummary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "user:          %s\n", s.UserID)
				fmt.Fprintf(out, "balance:       %s\n", s.CurrentBalance.StringFixed(2))
				fmt.Fprintf(out, "total debits:  %s\n", s.TotalDebits.StringFixed(2))
				fmt.Fprintf(out, "total credits: %s\n", s.TotalCredits.StringFixed(2))
				fmt.Fprintf(out, "pending:       %s\n", s.PendingAmount.StringFixed(2))
				fmt.Fprintf(out, "transactions:  %d\n", s.TransactionCount)
				return nil
			})
		},
	}

	var limit int
	outstandingCmd := &cobra.Command{
		Use:   "outstanding",
		Short: "List members with a non-zero balance, most owed first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				users, err := a.svc.Balances().GetUsersWithOutstandingBalances(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, u := range users {
					fmt.Fprintf(out, "%-36s %12s\n", u.UserID, u.Balance.StringFixed(2))
				}
				return nil
			})
		},
	}
	outstandingCmd.Flags().IntVar(&limit, "limit", 0, "maximum members to list, 0 for all")

	refreshCmd := &cobra.Command{
		Use:   "refresh-overdue",
		Short: "Move pending invoices past their due date to overdue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				n, err := a.svc.RefreshOverdue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d invoice(s) marked overdue\n", n)
				return nil
			})
		},
	}

	root.AddCommand(serveCmd, balanceCmd, outstandingCmd, refreshCmd)
	return root
}

func withApp(opts *options, fn func(*app) error) error {
	a, err := opts.open()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func serve(ctx context.Context, a *app) error {
	handler := api.NewHandler(a.svc, a.log)
	handler.Health = a.store
	router := api.NewRouter(handler, a.cfg.CORSOrigins)

	scheduler := api.NewOverdueScheduler(a.svc, a.log)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	failed := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", server.Addr).Str("database", a.cfg.DatabasePath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-failed:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.log.Info().Msg("server stopped")
	return nil
}
