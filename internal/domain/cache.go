package domain

import (
	"context"
	"time"
)

// Cache stores regenerated plot sets and other derived data keyed by
// session. Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, sessionID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, sessionID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, sessionID string, key string) error

	// GetPlotSet retrieves a cached plot set by filter fingerprint.
	GetPlotSet(ctx context.Context, sessionID string, fingerprint string) (*PlotSet, error)

	// SetPlotSet caches a regenerated plot set under its filter fingerprint.
	SetPlotSet(ctx context.Context, sessionID string, fingerprint string, ps *PlotSet, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used to track regeneration calls per session within a time window.
	IncrementCounter(ctx context.Context, sessionID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
