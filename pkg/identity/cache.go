package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/platinummonkey/ssosync/pkg/storage"
)

// Entry names under the storage adapter prefix
const (
	entryAccount = "account"
	entryToken   = "token"
	entryPending = "pending"
)

// CachedToken is the persisted form of a token set
type CachedToken struct {
	AccountID    string    `json:"account_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Valid reports whether the access token is still usable at now, leaving skew
func (t *CachedToken) Valid(now time.Time, skew time.Duration) bool {
	return t != nil && t.AccessToken != "" && now.Add(skew).Before(t.Expiry)
}

// PendingLogin is the short-lived state of a login redirect in flight
type PendingLogin struct {
	State    string `json:"state"`
	Nonce    string `json:"nonce,omitempty"`
	Verifier string `json:"verifier,omitempty"`
	Prompt   Prompt `json:"prompt,omitempty"`
	ReturnTo string `json:"return_to,omitempty"`
}

// Cache reads and writes a client's credential entries
type Cache struct {
	store *storage.Adapter
}

// NewCache wraps store
func NewCache(store *storage.Adapter) *Cache {
	return &Cache{store: store}
}

func (c *Cache) Account(ctx context.Context) (*Account, error) {
	var a Account
	ok, err := c.store.GetJSON(ctx, storage.TierLocal, entryAccount, &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

func (c *Cache) SaveAccount(ctx context.Context, a Account) error {
	return c.store.SetJSON(ctx, storage.TierLocal, entryAccount, a)
}

func (c *Cache) Token(ctx context.Context) (*CachedToken, error) {
	var t CachedToken
	ok, err := c.store.GetJSON(ctx, storage.TierLocal, entryToken, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (c *Cache) SaveToken(ctx context.Context, t CachedToken) error {
	return c.store.SetJSON(ctx, storage.TierLocal, entryToken, t)
}

// SavePending records an outgoing login redirect
func (c *Cache) SavePending(ctx context.Context, p PendingLogin) error {
	return c.store.SetJSON(ctx, storage.TierSession, entryPending, p)
}

// TakePending returns and removes the pending login
func (c *Cache) TakePending(ctx context.Context) (*PendingLogin, error) {
	var p PendingLogin
	ok, err := c.store.GetJSON(ctx, storage.TierSession, entryPending, &p)
	if err != nil || !ok {
		return nil, err
	}
	if err := c.store.Remove(ctx, storage.TierSession, entryPending); err != nil {
		return nil, err
	}
	return &p, nil
}

// Forget drops the account and its tokens
func (c *Cache) Forget(ctx context.Context) error {
	return c.store.Remove(ctx, storage.TierLocal, entryAccount, entryToken)
}

// RedirectReturn holds the parameters the provider appended to the redirect URI
type RedirectReturn struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseRedirectReturn extracts a redirect return from u. It reports false
// when u carries no authorization response.
func ParseRedirectReturn(u *url.URL) (*RedirectReturn, bool) {
	if u == nil {
		return nil, false
	}
	q := u.Query()
	rr := &RedirectReturn{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if rr.State == "" || (rr.Code == "" && rr.Error == "") {
		return nil, false
	}
	return rr, true
}

// StripRedirectParams returns u without the authorization response parameters
func StripRedirectParams(u *url.URL) string {
	out := *u
	q := out.Query()
	for _, k := range []string{"code", "state", "error", "error_description", "session_state", "client_info"} {
		q.Del(k)
	}
	out.RawQuery = q.Encode()
	return out.String()
}

// Resolve checks rr against the pending login and classifies provider errors.
func (rr *RedirectReturn) Resolve(op string, pending *PendingLogin) error {
	if pending == nil || pending.State != rr.State {
		return NewError(KindUnknown, op, "", ErrStateMismatch)
	}
	if rr.Error != "" {
		return classifyRedirectError(op, rr.Error, rr.ErrorDescription)
	}
	return nil
}

func emit(events chan Event, ev Event) {
	select {
	case events <- ev:
	default:
	}
}

func newEvents() chan Event {
	return make(chan Event, 16)
}

func errNoTokens(op string) error {
	return NewError(KindInteractionRequired, op, "no_tokens_found", errors.New("no cached tokens for account"))
}

func wrapStorage(op string, err error) error {
	return NewError(KindUnknown, op, "", fmt.Errorf("credential cache: %w", err))
}
