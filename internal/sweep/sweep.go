// Package sweep runs the periodic maintenance of the credential store and
// the rate limiter: identities whose deletion grace period has ended are
// purged, and limiter windows with no live requests are dropped.
package sweep

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is used when a non-positive interval is configured.
const DefaultInterval = time.Hour

// Purger removes expired soft-deleted identities.
type Purger interface {
	PurgeExpired(ctx context.Context) ([]string, error)
}

// Compactor drops empty limiter windows.
type Compactor interface {
	Compact() int
}

// Sweeper calls Purger and Compactor on a fixed interval.
type Sweeper struct {
	purger    Purger
	compactor Compactor
	interval  time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Sweeper. Either collaborator may be nil.
func New(purger Purger, compactor Compactor, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		purger:    purger,
		compactor: compactor,
		interval:  interval,
		logger:    logger,
	}
}

// Interval returns the time between sweeps.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start begins the background loop. It sweeps once immediately and then
// every interval. Non-blocking.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the loop and waits for a running sweep to finish.
func (s *Sweeper) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Result summarises one sweep.
type Result struct {
	Purged    []string
	Compacted int
}

// RunOnce performs a single sweep. A purge failure is logged and does not
// prevent compaction.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	var res Result
	if s.purger != nil {
		names, err := s.purger.PurgeExpired(ctx)
		if err != nil {
			s.logger.Error("purge of expired identities failed", "error", err)
		}
		res.Purged = names
	}
	if s.compactor != nil {
		res.Compacted = s.compactor.Compact()
	}
	if len(res.Purged) > 0 || res.Compacted > 0 {
		s.logger.Info("sweep completed", "purged", len(res.Purged), "windows_dropped", res.Compacted)
	}
	return res
}
