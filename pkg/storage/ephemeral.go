package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// EphemeralStore is a bounded in-memory Store whose entries expire after a TTL.
// It backs the Session tier.
type EphemeralStore struct {
	cache *expirable.LRU[string, string]
}

// NewEphemeralStore creates a store holding at most size entries for ttl each
func NewEphemeralStore(size int, ttl time.Duration) *EphemeralStore {
	if size <= 0 {
		size = 1024
	}
	return &EphemeralStore{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (s *EphemeralStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, ok := s.cache.Get(key)
	return v, ok, nil
}

func (s *EphemeralStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Add(key, value)
	return nil
}

func (s *EphemeralStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		s.cache.Remove(k)
	}
	return nil
}

func (s *EphemeralStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
