package otp

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically purges expired challenges. Reads always check expiry
// themselves; the sweep only reclaims storage.
type Sweeper struct {
	m        *Manager
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewSweeper returns a Sweeper running every interval.
func NewSweeper(m *Manager, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{m: m, interval: interval, now: time.Now, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.m.Sweep(ctx, s.now().UTC())
	if err != nil {
		s.log.Error("otp.sweep.fail", "err", err)
		return
	}
	if n > 0 {
		s.log.Debug("otp.sweep.ok", "purged", n)
	}
}
