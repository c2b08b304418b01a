/*
scheduler.go - Automated monthly accrual trigger

PURPOSE:
  Periodically runs accrueMonthly for the current period of every
  configured org. The ledger guarantees at most one credit per
  (employee, code, period), so ticks after the first one in a month are
  reported as "already credited" and change nothing.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - The current period comes from the ledger's clock
  - Accrual runs are recorded by the ledger for audit and UI display

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - OrgIDs: Orgs to accrue for

USAGE:
  scheduler := NewAccrualScheduler(ledger, []generic.OrgID{"acme"}, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAccrual endpoint (manual trigger)
  - generic/accrual.go: AccrueMonthly
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/observability"
)

// AccrualScheduler handles automated monthly accrual.
type AccrualScheduler struct {
	Ledger        *generic.CreditLedger
	OrgIDs        []generic.OrgID
	CheckInterval time.Duration
	Enabled       bool
	Logger        *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(ledger *generic.CreditLedger, orgIDs []generic.OrgID, logger *zap.Logger) *AccrualScheduler {
	return &AccrualScheduler{
		Ledger:        ledger,
		OrgIDs:        orgIDs,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        observability.OrNop(logger).Named("scheduler"),
	}
}

// Start begins the scheduler.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("started",
		zap.Duration("check_interval", s.CheckInterval),
		zap.Int("orgs", len(s.OrgIDs)),
	)
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("stopped")
	}
}

func (s *AccrualScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow accrues the current period for every org and returns the results
// of the runs that succeeded.
func (s *AccrualScheduler) RunNow(parent context.Context) []generic.AccrualResult {
	period := s.Ledger.CurrentPeriod()
	results := make([]generic.AccrualResult, 0, len(s.OrgIDs))

	for _, org := range s.OrgIDs {
		ctx, cancel := generic.AccrualContext(parent)
		result, err := s.Ledger.AccrueMonthly(ctx, org, period)
		cancel()
		if err != nil {
			s.Logger.Error("accrual failed",
				zap.String("org_id", string(org)),
				zap.String("period", period.String()),
				zap.Error(err),
			)
			continue
		}
		results = append(results, result)
	}
	return results
}
