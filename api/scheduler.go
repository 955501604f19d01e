/*
scheduler.go - Automated overdue marking

PURPOSE:
  Periodically flips pending and partial invoices whose due date (term end)
  has passed to "overdue". Recalculation keeps that status until the invoice
  is fully paid, so a sweep only has to run once per invoice.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on start
  - Each sweep is a single store update; re-running is harmless
  - Keeps the last few runs in memory for the admin endpoint

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled: Whether the ticker runs at all (default: true)

USAGE:
  s := NewOverdueScheduler(store, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: TriggerOverdueSweep endpoint (manual sweep)
  - billing/recalculate.go: Status preservation rules
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/fee-engine/billing"
	"go.uber.org/zap"
)

const maxRunHistory = 20

// OverdueScheduler marks past-due invoices as overdue on a ticker.
type OverdueScheduler struct {
	Marker   billing.OverdueMarker
	Log      *zap.Logger
	Interval time.Duration
	Enabled  bool
	Now      billing.Clock

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []OverdueRunDTO
}

// NewOverdueScheduler creates a new scheduler.
func NewOverdueScheduler(marker billing.OverdueMarker, log *zap.Logger) *OverdueScheduler {
	return &OverdueScheduler{
		Marker:   marker,
		Log:      log,
		Interval: time.Hour,
		Enabled:  true,
		Now:      time.Now,
	}
}

// Start begins the scheduler.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("overdue scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Log.Info("overdue scheduler started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for an in-flight sweep.
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
	s.Log.Info("overdue scheduler stopped")
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunOnce(ctx, "startup")
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx, "scheduled")
		case <-stop:
			return
		}
	}
}

// RunOnce sweeps now and records the run.
func (s *OverdueScheduler) RunOnce(ctx context.Context, trigger string) OverdueRunDTO {
	now := s.Now()
	asOf := billing.DateOf(now)

	run := OverdueRunDTO{
		RanAt:   formatTimestamp(now),
		AsOf:    asOf.Format(billing.DateLayout),
		Trigger: trigger,
	}

	marked, err := s.Marker.MarkOverdue(ctx, asOf)
	if err != nil {
		run.Error = err.Error()
		s.Log.Error("overdue sweep failed", zap.String("trigger", trigger), zap.Error(err))
	} else {
		run.Marked = marked
		if marked > 0 {
			s.Log.Info("invoices marked overdue",
				zap.Int("marked", marked),
				zap.String("as_of", run.AsOf),
				zap.String("trigger", trigger))
		}
	}

	s.runsMu.Lock()
	s.runs = append(s.runs, run)
	if len(s.runs) > maxRunHistory {
		s.runs = s.runs[len(s.runs)-maxRunHistory:]
	}
	s.runsMu.Unlock()

	return run
}

// Runs returns recorded sweeps, newest first.
func (s *OverdueScheduler) Runs() []OverdueRunDTO {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	out := make([]OverdueRunDTO, len(s.runs))
	for i, run := range s.runs {
		out[len(s.runs)-1-i] = run
	}
	return out
}
