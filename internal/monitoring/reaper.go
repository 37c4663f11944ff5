package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"procodus.dev/barn-monitor/pkg/logger"
)

// DefaultReapInterval is how often expired readings are purged.
const DefaultReapInterval = time.Hour

// Reaper purges readings past their retention on a ticker. Reads already
// hide expired rows; the reaper only reclaims space.
type Reaper struct {
	handler  *Handler
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReaper creates a reaper. A non-positive interval falls back to the default.
func NewReaper(handler *Handler, l *slog.Logger, interval time.Duration) (*Reaper, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if l == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}

	return &Reaper{
		handler:  handler,
		logger:   logger.Component(l, "reading-reaper"),
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the purge loop until ctx is canceled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("reading reaper started", "interval", r.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce purges once and returns the number of deleted readings.
func (r *Reaper) RunOnce(ctx context.Context) int64 {
	n, err := r.handler.PurgeExpired(ctx, r.now())
	if err != nil {
		r.logger.Error("reading purge failed", "error", err)
		return 0
	}
	if n > 0 {
		r.logger.Info("expired readings purged", "count", n)
	}
	return n
}

// Stop ends the loop and waits for an in-progress purge.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}
