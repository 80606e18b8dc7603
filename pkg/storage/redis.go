package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient creates a Redis client from cfg and verifies the connection
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis URL: %v", ErrInvalidConfig, err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// Namespace builds the Redis key namespace for one origin, browser and tier:
// ssosync:{origin}:{browserID}:{tier}
func Namespace(origin, browserID string, tier Tier) string {
	return fmt.Sprintf("ssosync:%s:%s:%s", origin, browserID, tier)
}

// RedisStore is a Store backed by Redis. All keys live under a namespace so
// two origins sharing one Redis never see each other's entries.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisStore creates a store under namespace. A zero ttl keeps keys until deleted.
func NewRedisStore(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisStore) key(k string) string {
	return s.namespace + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Keys scans the namespace for keys starting with prefix
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(s.namespace+":"+prefix) + "*"
	strip := len(s.namespace) + 1

	var keys []string
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[strip:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return keys, nil
}

// HealthCheck pings Redis
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
