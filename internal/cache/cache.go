// Package cache stores finished analyses per requester and image fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/models"
)

// KV is the part of the shared store the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ResultCache maps (requester, fingerprint) to an AnalysisResult.
type ResultCache struct {
	kv  KV
	ttl time.Duration
	log *zap.Logger
}

// NewResultCache returns a cache whose entries live for ttl.
func NewResultCache(kv KV, ttl time.Duration, log *zap.Logger) *ResultCache {
	return &ResultCache{kv: kv, ttl: ttl, log: log.Named("cache")}
}

// Key is scoped by requester so one user's image never serves another's result.
func Key(user, fingerprint string) string {
	return fmt.Sprintf("analysis:%s:%s", user, fingerprint)
}

// Get returns the cached result, or false on a miss. An undecodable entry
// is logged and treated as a miss.
func (c *ResultCache) Get(ctx context.Context, user, fingerprint string) (*models.AnalysisResult, bool, error) {
	raw, err := c.kv.Get(ctx, Key(user, fingerprint))
	if errors.Is(err, models.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.log.Warn("discarding corrupt cache entry", zap.String("user_id", user), zap.Error(err))
		return nil, false, nil
	}
	return &result, true, nil
}

// Put stores result. The stored copy never carries the cache-hit flag.
func (c *ResultCache) Put(ctx context.Context, user, fingerprint string, result models.AnalysisResult) error {
	result.CacheHit = false
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := c.kv.Put(ctx, Key(user, fingerprint), raw, c.ttl); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}
