package domain

import (
	"context"
	"time"
)

// DecisionCache keeps recent decisions keyed by transaction id so that a
// retried Decide returns the verdict it already reached.
// Supports two-phase caching: local LRU + Redis.
type DecisionCache interface {
	// Get retrieves a raw value. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a raw value with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// GetDecision returns nil, nil when no decision is cached.
	GetDecision(ctx context.Context, txID string) (*Decision, error)

	// SetDecision caches a decision.
	SetDecision(ctx context.Context, txID string, d *Decision, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// DecisionTTL bounds how long a decision stays replayable.
	DecisionTTL time.Duration `mapstructure:"decision_ttl"`

	// Redis settings
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis
}
