/*
scheduler.go - Periodic overdue sweep

PURPOSE:
  Invoice status depends on the clock, but nothing changes an invoice's
  stored status when its due date simply passes. The scheduler periodically
  runs invoice.Service.RefreshOverdue so pending invoices past due are
  stored as overdue.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - Overdue keeps the invoice's existing debit, so a sweep never writes
    to the ledger

USAGE:
  scheduler := NewOverdueScheduler(svc, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - invoice/service.go: RefreshOverdue, RefreshStatus
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
)

// OverdueScheduler moves past-due invoices to overdue on a timer.
type OverdueScheduler struct {
	Service       *invoice.Service
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueScheduler creates a scheduler with an hourly interval.
func NewOverdueScheduler(svc *invoice.Service, log zerolog.Logger) *OverdueScheduler {
	return &OverdueScheduler{
		Service:       svc,
		CheckInterval: time.Hour,
		Enabled:       true,
		log:           log.With().Str("component", "overdue-scheduler").Logger(),
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a no-op.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.Info().Dur("interval", s.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info().Msg("stopped")
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow sweeps once and returns how many invoices became overdue.
func (s *OverdueScheduler) RunNow(ctx context.Context) int {
	n, err := s.Service.RefreshOverdue(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("updated", n).Msg("overdue sweep failed")
		return n
	}
	if n > 0 {
		s.log.Info().Int("updated", n).Msg("invoices marked overdue")
	}
	return n
}
