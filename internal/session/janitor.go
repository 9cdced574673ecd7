package session

import (
	"context"
	"log/slog"
	"time"

	"rmcloud/internal/logging"
)

// MaxSweepInterval caps how long expired sessions may linger.
const MaxSweepInterval = time.Minute

// Janitor periodically evicts idle sessions.
type Janitor struct {
	store   *Store
	maxIdle time.Duration
	logger  *slog.Logger
	// OnSweep, when set, observes each pass (removed and remaining counts).
	OnSweep func(removed, remaining int)
}

// NewJanitor binds a sweeper to store.
func NewJanitor(store *Store, maxIdle time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:   store,
		maxIdle: maxIdle,
		logger:  logging.NewComponentLogger(logger, "session"),
	}
}

// Interval returns min(MaxSweepInterval, maxIdle).
func (j *Janitor) Interval() time.Duration {
	if j.maxIdle <= 0 || j.maxIdle > MaxSweepInterval {
		return MaxSweepInterval
	}
	return j.maxIdle
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j == nil || j.store == nil {
		return
	}
	ticker := time.NewTicker(j.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.SweepOnce()
		}
	}
}

// SweepOnce runs a single eviction pass.
func (j *Janitor) SweepOnce() int {
	removed := j.store.Sweep(j.store.Now(), j.maxIdle)
	remaining := j.store.Len()
	if removed > 0 {
		j.logger.Debug("expired idle sessions",
			logging.Int("removed", removed),
			logging.Int("remaining", remaining),
		)
	}
	if j.OnSweep != nil {
		j.OnSweep(removed, remaining)
	}
	return removed
}
