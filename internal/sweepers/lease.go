// Package sweepers holds periodic maintenance loops that run alongside the
// workers.
package sweepers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Whamp/pi-brain/internal/queue"
)

// LeaseSweeper periodically releases jobs whose worker lease expired,
// returning them to the pending pool without consuming retry budget.
type LeaseSweeper struct {
	queue    *queue.Manager
	logger   *zerolog.Logger
	interval time.Duration
	stopChan chan struct{}
}

// NewLeaseSweeper creates a sweeper for lease recovery
func NewLeaseSweeper(q *queue.Manager, logger *zerolog.Logger, interval time.Duration) *LeaseSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &LeaseSweeper{
		queue:    q,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic recovery sweep
func (s *LeaseSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Starting lease sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Lease sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Lease sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to release stale leases")
			}
		}
	}
}

// Stop signals the sweeper to stop
func (s *LeaseSweeper) Stop() {
	close(s.stopChan)
}

// Sweep runs one recovery pass.
func (s *LeaseSweeper) Sweep(ctx context.Context) error {
	s.logger.Debug().Msg("Running lease recovery")

	released, err := s.queue.ReleaseStale(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		s.logger.Info().
			Int("released", released).
			Msg("Released stale job leases")
	}
	return nil
}
