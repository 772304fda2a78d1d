// Package quota enforces the per-requester daily scan allowance.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Counter is the part of the shared store the arbiter needs.
type Counter interface {
	Count(ctx context.Context, key string) (int64, error)
	IncrementBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool  `json:"allowed"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// Arbiter decides whether a requester may run a paid scan today.
type Arbiter struct {
	counter Counter
	limit   int64
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewArbiter returns an arbiter allowing limit scans per UTC day. Counters
// expire ttl after their first increment.
func NewArbiter(counter Counter, limit int64, ttl time.Duration, now func() time.Time, log *zap.Logger) *Arbiter {
	if now == nil {
		now = time.Now
	}
	return &Arbiter{counter: counter, limit: limit, ttl: ttl, now: now, log: log.Named("quota")}
}

// Key is the counter key for user on the UTC day containing t.
func Key(user string, t time.Time) string {
	return fmt.Sprintf("quota:%s:%s", user, t.UTC().Format("2006-01-02"))
}

// Limit is the configured daily allowance.
func (a *Arbiter) Limit() int64 {
	return a.limit
}

// Precheck reports the current standing without consuming anything.
func (a *Arbiter) Precheck(ctx context.Context, user string) (Decision, error) {
	used, err := a.counter.Count(ctx, Key(user, a.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read quota: %w", err)
	}
	return a.decision(used, used < a.limit), nil
}

// Consume atomically takes one scan from today's allowance. A denied
// decision leaves the counter untouched.
func (a *Arbiter) Consume(ctx context.Context, user string) (Decision, error) {
	key := Key(user, a.now())
	used, ok, err := a.counter.IncrementBelow(ctx, key, a.limit, a.ttl)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to consume quota: %w", err)
	}
	if !ok {
		a.log.Info("daily quota exhausted", zap.String("user_id", user), zap.Int64("used", used))
	}
	return a.decision(used, ok), nil
}

func (a *Arbiter) decision(used int64, allowed bool) Decision {
	return Decision{Allowed: allowed, Used: used, Remaining: max(0, a.limit-used)}
}
