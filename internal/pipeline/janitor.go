package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/metrics"
)

// Purger removes expired entries from the shared store.
type Purger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Janitor periodically purges expired quota counters and cached results.
type Janitor struct {
	store    Purger
	interval time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewJanitor(store Purger, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Janitor{store: store, interval: interval, metrics: m, log: log.Named("janitor")}
}

// PurgeOnce runs a single sweep.
func (j *Janitor) PurgeOnce(ctx context.Context) (int64, error) {
	n, err := j.store.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	j.metrics.Purged(n)
	if n > 0 {
		j.log.Debug("purged expired entries", zap.Int64("count", n))
	}
	return n, nil
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
				j.log.Warn("failed to purge expired entries", zap.Error(err))
			}
		}
	}
}
