package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache: key not found")

// Cache is the surface the platform needs from a cache backend. Values are
// JSON-encoded by the implementations so reports and job snapshots can be
// stored directly.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// 统一的键命名，便于运维排查
const (
	keyPrefixReport   = "aquant:report:"   // + run id
	keyPrefixSweep    = "aquant:sweep:"    // + sweep id
	keyPrefixRateLim  = "aquant:ratelimit:" // + client key
	keyPrefixBarsMeta = "aquant:bars:"     // + symbol
)

// ReportKey returns the cache key for a run's performance report.
func ReportKey(runID string) string {
	return keyPrefixReport + runID
}

// SweepKey returns the cache key for a sweep job snapshot.
func SweepKey(sweepID string) string {
	return keyPrefixSweep + sweepID
}

// RateLimitKey returns the counter key for one API client.
func RateLimitKey(client string) string {
	return keyPrefixRateLim + client
}

// BarsMetaKey returns the key for a symbol's bar-coverage metadata.
func BarsMetaKey(symbol string) string {
	return keyPrefixBarsMeta + symbol
}
