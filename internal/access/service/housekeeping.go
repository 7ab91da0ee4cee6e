// Package service holds the access layer's background workers.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/audit"
	"github.com/masatokaneko/ledgerlink/internal/access/cache"
)

// HousekeepingService periodically sweeps expired cache entries and, once the
// UTC day rolls over, materializes the previous day's audit summaries.
type HousekeepingService struct {
	Cache    *cache.Service
	Audit    *audit.Service
	Logger   *slog.Logger
	Interval time.Duration

	// Now is the clock, overridable in tests.
	Now func() time.Time

	// lastRolledDay is the most recent UTC day already rolled up.
	lastRolledDay string

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping worker with the given tick
// interval. If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(cacheSvc *cache.Service, auditSvc *audit.Service, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Cache:    cacheSvc,
		Audit:    auditSvc,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker. Blocks until any
// in-progress pass has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run a pass immediately on startup
	s.runOnce()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stopCh:
			return
		}
	}
}

// runOnce performs one housekeeping pass. The sweep and the rollup are
// independent; a failure in one never blocks the other.
func (s *HousekeepingService) runOnce() {
	ctx := context.Background()

	if n, err := s.Cache.SweepExpired(ctx); err != nil {
		s.Logger.Error("cache sweep failed", "error", err)
	} else if n > 0 {
		s.Logger.Info("swept expired cache entries", "deleted", n)
	}

	s.rollupIfDayChanged(ctx)
}

// rollupIfDayChanged rolls up yesterday's audit summaries exactly once per
// UTC day. The upsert makes a repeated rollup after restart harmless.
func (s *HousekeepingService) rollupIfDayChanged(ctx context.Context) {
	yesterday := s.now().UTC().AddDate(0, 0, -1)
	day := yesterday.Format("2006-01-02")
	if day == s.lastRolledDay {
		return
	}

	if err := s.Audit.RollupDaily(ctx, yesterday); err != nil {
		s.Logger.Error("audit rollup failed", "day", day, "error", err)
		return
	}
	s.lastRolledDay = day
	s.Logger.Info("audit summaries rolled up", "day", day)
}

func (s *HousekeepingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
