package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franckalain/glowscan/internal/metrics"
)

// Task is a named piece of post-response work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Background runs detached tasks whose failures are logged and never
// surfaced. Drain waits for everything started so far.
type Background struct {
	wg      sync.WaitGroup
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewBackground returns a runner that bounds each batch by timeout.
func NewBackground(timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Background {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Background{timeout: timeout, metrics: m, log: log.Named("background")}
}

// Go starts tasks concurrently. They keep running after parent is
// cancelled, up to the runner's timeout.
func (b *Background) Go(parent context.Context, fields []zap.Field, tasks ...Task) {
	if len(tasks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), b.timeout)

	log := b.log.With(fields...)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		var g errgroup.Group
		for _, t := range tasks {
			g.Go(func() error {
				if err := t.Run(ctx); err != nil {
					b.metrics.BackgroundFailure(t.Name)
					log.Warn("background task failed", zap.String("task", t.Name), zap.Error(err))
					return fmt.Errorf("%s: %w", t.Name, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Drain blocks until all started tasks finish or ctx is done.
func (b *Background) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background drain: %w", ctx.Err())
	}
}
