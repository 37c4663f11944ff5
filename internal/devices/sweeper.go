package devices

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"procodus.dev/barn-monitor/pkg/logger"
)

const (
	// DefaultHeartbeatTimeout is how long an online device may stay silent.
	DefaultHeartbeatTimeout = 5 * time.Minute
	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = time.Minute
)

// Sweeper runs the stale sweep on a ticker.
type Sweeper struct {
	tracker  *Tracker
	logger   *slog.Logger
	timeout  time.Duration
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper creates a sweeper. Non-positive durations fall back to the defaults.
func NewSweeper(tracker *Tracker, l *slog.Logger, timeout, interval time.Duration) (*Sweeper, error) {
	if tracker == nil {
		return nil, errors.New("tracker cannot be nil")
	}
	if l == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		tracker:  tracker,
		logger:   logger.Component(l, "device-sweeper"),
		timeout:  timeout,
		interval: interval,
		done:     make(chan struct{}),
	}, nil
}

// Timeout returns the heartbeat timeout applied by each sweep.
func (s *Sweeper) Timeout() time.Duration {
	return s.timeout
}

// Start runs the sweep loop in the background until ctx is canceled or Stop
// is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("stale device sweeper started", "timeout", s.timeout, "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs a single sweep and logs its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	swept, err := s.tracker.SweepStale(ctx, s.timeout)
	if err != nil {
		s.logger.Error("stale device sweep failed", "error", err)
	}
	if len(swept) > 0 {
		s.logger.Info("stale devices marked offline", "count", len(swept))
	}
	return len(swept)
}

// Stop ends the loop and waits for an in-progress sweep.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}
