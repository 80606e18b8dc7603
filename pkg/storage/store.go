package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidKey is returned for an empty key
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrInvalidConfig is returned when a backend is configured incorrectly
	ErrInvalidConfig = errors.New("invalid storage config")
)

// Tier names the lifetime class of a Store
type Tier string

const (
	TierLocal   Tier = "local"
	TierSession Tier = "session"
)

// Store is a string key/value store scoped to a single origin
type Store interface {
	// Get returns the value for key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys; missing keys are ignored
	Delete(ctx context.Context, keys ...string) error
	// Keys lists every key starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// CookieStore exposes the cookies visible to an origin
type CookieStore interface {
	Names(ctx context.Context) ([]string, error)
	// Expire removes the named cookie
	Expire(ctx context.Context, name string) error
}

// HealthChecker is implemented by backends with a remote dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config for storage backends
type Config struct {
	Backend string `yaml:"backend"` // "memory" or "redis"

	// Redis config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	// RedisTTL bounds the lifetime of Local tier keys; zero keeps them forever
	RedisTTL time.Duration `yaml:"redis_ttl"`

	// Session tier config
	SessionTTL  time.Duration `yaml:"session_ttl"`
	SessionSize int           `yaml:"session_size"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Backend:         "memory",
		RedisURL:        "redis://localhost:6379/0",
		RedisDB:         -1,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		SessionTTL:      10 * time.Minute,
		SessionSize:     1024,
	}
}
