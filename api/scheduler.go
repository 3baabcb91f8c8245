/*
scheduler.go - Background interest settlement

PURPOSE:
  Periodically runs interest settlement across all accounts, replacing
  an external cron trigger. Safe to run as often as desired: the
  settled-month scan makes every run idempotent, and concurrent runs
  are serialized per account by the engine.

CONFIGURATION:
  - CheckInterval: how often to run (default: 1 hour)
  - Enabled: whether the scheduler is active

USAGE:
  scheduler := NewInterestScheduler(settler, logger)
  scheduler.Start()
  ...
  scheduler.Stop()
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sprout/allowance-ledger/interest"
)

// InterestScheduler drives periodic settlement runs.
type InterestScheduler struct {
	Settler       *interest.Settler
	CheckInterval time.Duration
	Enabled       bool

	log    *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewInterestScheduler(settler *interest.Settler, log *slog.Logger) *InterestScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &InterestScheduler{
		Settler:       settler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler goroutine.
func (s *InterestScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("interest scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	s.log.Info("interest scheduler started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *InterestScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info("interest scheduler stopped")
	}
}

func (s *InterestScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start: any months missed while the server was
	// down settle without waiting a full interval.
	s.settle()

	for {
		select {
		case <-s.ticker.C:
			s.settle()
		case <-s.stop:
			return
		}
	}
}

func (s *InterestScheduler) settle() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	settled, err := s.Settler.SettleAll(ctx, time.Now())
	if err != nil {
		s.log.Error("interest settlement run failed", "err", err)
		return
	}
	if settled > 0 {
		s.log.Info("interest settlement run complete", "settled", settled)
	}
}
