package app

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes refresh records that are both revoked and expired.
// session.Authority satisfies it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper runs housekeeping on a fixed interval until its context ends.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(purger Purger, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{purger: purger, interval: interval, log: log}
}

// Run sweeps once immediately, then every interval. It returns when ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("sweeper.purge.fail", "err", err)
		}
		return
	}
	s.log.Info("sweeper.purge", "deleted", n, "duration_ms", time.Since(start).Milliseconds())
}
