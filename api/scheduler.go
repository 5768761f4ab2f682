/*
scheduler.go - Automated discrepancy scan

PURPOSE:
  Periodically runs FindDiscrepancies for every product held by an active
  tank and raises discrepancy notifications for what it finds. Operators
  still record closing readings by hand; the scheduler only compares.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Scans as of "now", so each run covers today's readings so far
  - One product failing does not stop the others; failures are logged

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: FindDiscrepancies endpoint (on demand)
  - fuel/reconciliation.go: the comparison itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fuelstock/fuel"
)

// ScanResult summarizes one scheduler pass.
type ScanResult struct {
	Products      int
	Discrepancies int
	Alerts        int
	Failed        int
}

// ReconciliationScheduler runs the discrepancy scan on a ticker.
type ReconciliationScheduler struct {
	Engine        *fuel.Engine
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	Clock         func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(engine *fuel.Engine, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Engine:        engine,
		Logger:        logger.Named("scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
		Clock:         time.Now,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for a running scan to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rs.Scan(ctx)

	for {
		select {
		case <-ticker.C:
			rs.Scan(ctx)
		case <-stop:
			return
		}
	}
}

// Scan checks every product held by an active tank once.
func (rs *ReconciliationScheduler) Scan(ctx context.Context) ScanResult {
	var res ScanResult
	asOf := rs.Clock().UTC()

	tanks, err := rs.Engine.Tanks.ListTanks(ctx, fuel.TankFilter{ActiveOnly: true})
	if err != nil {
		rs.Logger.Error("list tanks failed", zap.Error(err))
		res.Failed++
		return res
	}

	seen := make(map[fuel.FuelType]bool)
	for _, t := range tanks {
		if seen[t.Product] {
			continue
		}
		seen[t.Product] = true
		res.Products++

		report, err := rs.Engine.Reconciliation.FindDiscrepancies(ctx, t.Product, asOf)
		if err != nil {
			rs.Logger.Error("discrepancy scan failed", zap.String("product", string(t.Product)), zap.Error(err))
			res.Failed++
			continue
		}
		res.Discrepancies += len(report.Discrepancies)
		res.Alerts += rs.Engine.Reconciliation.RaiseDiscrepancyAlerts(ctx, report)
	}

	if res.Discrepancies > 0 || res.Failed > 0 {
		rs.Logger.Info("scan completed",
			zap.Time("as_of", asOf),
			zap.Int("products", res.Products),
			zap.Int("discrepancies", res.Discrepancies),
			zap.Int("alerts", res.Alerts),
			zap.Int("failed", res.Failed))
	}
	return res
}
