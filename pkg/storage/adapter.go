package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix is the key prefix shared by every identity client entry
const DefaultPrefix = "oidc."

// Adapter groups the storage tiers of one origin
type Adapter struct {
	Local   Store
	Session Store
	// Cookies may be nil when the host has no cookie access
	Cookies CookieStore
	// Prefix scopes ClearAll
	Prefix string
}

// NewMemoryAdapter returns an Adapter with in-memory tiers and no cookies
func NewMemoryAdapter(prefix string) *Adapter {
	return &Adapter{
		Local:   NewMemoryStore(),
		Session: NewMemoryStore(),
		Prefix:  prefix,
	}
}

// Validate checks that both tiers are set
func (a *Adapter) Validate() error {
	if a == nil || a.Local == nil || a.Session == nil {
		return fmt.Errorf("%w: adapter needs local and session tiers", ErrInvalidConfig)
	}
	if a.Prefix == "" {
		return fmt.Errorf("%w: adapter prefix is empty", ErrInvalidConfig)
	}
	return nil
}

// Tier returns the store for t
func (a *Adapter) Tier(t Tier) Store {
	if t == TierSession {
		return a.Session
	}
	return a.Local
}

// Key joins the adapter prefix and name
func (a *Adapter) Key(name string) string {
	return a.Prefix + name
}

// GetJSON decodes the prefixed entry name into v. It reports false when absent.
func (a *Adapter) GetJSON(ctx context.Context, t Tier, name string, v interface{}) (bool, error) {
	raw, ok, err := a.Tier(t).Get(ctx, a.Key(name))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		// corrupt entries are dropped
		_ = a.Tier(t).Delete(ctx, a.Key(name))
		return false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return true, nil
}

// SetJSON encodes v under the prefixed entry name
func (a *Adapter) SetJSON(ctx context.Context, t Tier, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return a.Tier(t).Set(ctx, a.Key(name), string(data))
}

// Remove deletes prefixed entries from tier t
func (a *Adapter) Remove(ctx context.Context, t Tier, names ...string) error {
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = a.Key(n)
	}
	return a.Tier(t).Delete(ctx, keys...)
}

// ClearAll removes every prefixed entry from both tiers and every prefixed
// cookie, returning how many entries were removed. All three are attempted
// even when one fails.
func (a *Adapter) ClearAll(ctx context.Context) (int, error) {
	var (
		removed int
		errs    []error
	)

	for _, store := range []Store{a.Local, a.Session} {
		keys, err := store.Keys(ctx, a.Prefix)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if err := store.Delete(ctx, keys...); err != nil {
			errs = append(errs, err)
			continue
		}
		removed += len(keys)
	}

	if a.Cookies != nil {
		names, err := a.Cookies.Names(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		for _, name := range names {
			if !strings.HasPrefix(name, a.Prefix) {
				continue
			}
			if err := a.Cookies.Expire(ctx, name); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("clear storage: %w", errors.Join(errs...))
	}
	return removed, nil
}
