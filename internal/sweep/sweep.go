package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/config"
)

const defaultInterval = 1 * time.Hour

// StatsStore is the interface the sweep package needs from the config store.
type StatsStore interface {
	APIKeyStats(ctx context.Context, now time.Time) (config.KeyStats, error)
}

// Sweeper periodically counts keys by lifecycle state and logs the result.
// It never mutates anything: expiry and revocation are evaluated per request
// at validation time, so the sweep is purely observational.
type Sweeper struct {
	store    StatsStore
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Sweeper. A non-positive interval selects the default of one
// hour.
func New(store StatsStore, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the background sweep loop. It sweeps once immediately and then
// repeats every interval. Non-blocking.
func (s *Sweeper) Start() {
	if s == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the background loop and waits for any in-flight sweep.
func (s *Sweeper) Shutdown() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) sweep(ctx context.Context) {
	stats, err := s.store.APIKeyStats(ctx, time.Now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("key sweep failed", "error", err)
		}
		return
	}

	s.logger.Info("key sweep",
		"total", stats.Total,
		"active", stats.Active,
		"expired", stats.Expired,
		"revoked", stats.Revoked,
	)
}
