// Package memidp is an in-memory identity provider. One Provider models the
// external provider with a single global session shared by every origin;
// each app instance gets its own Client bound to its origin's storage and
// navigator.
package memidp

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/ssosync/pkg/identity"
)

// Op names a Client operation for call counting and fault injection
type Op string

const (
	OpLogin          Op = "login"
	OpLogout         Op = "logout"
	OpAcquireToken   Op = "acquire_token_silent"
	OpProbeSession   Op = "probe_session"
	OpRedirectReturn Op = "handle_redirect"
	OpActiveAccount  Op = "active_account"
)

// ErrUnknownCode is returned when a redirect carries a code the provider never issued
var ErrUnknownCode = errors.New("unknown authorization code")

// Provider is the shared in-memory provider
type Provider struct {
	mu sync.Mutex

	// user is who signs in when a login is interactive
	user identity.Account
	// session is the provider-side session; nil when signed out
	session    *identity.Account
	generation int
	codes      map[string]grant
	calls      map[Op]int
	failures   map[Op]error

	tokenTTL time.Duration
	now      func() time.Time
}

type grant struct {
	account    identity.Account
	generation int
}

// Option customizes a Provider
type Option func(*Provider)

// WithTokenTTL sets the lifetime of issued access tokens
func WithTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.tokenTTL = ttl }
}

// WithClock overrides the provider's time source
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a provider. user is the account an interactive login
// signs in as.
func NewProvider(user identity.Account, opts ...Option) *Provider {
	p := &Provider{
		user:     user,
		codes:    make(map[string]grant),
		calls:    make(map[Op]int),
		failures: make(map[Op]error),
		tokenTTL: time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignIn establishes the provider session for the configured user, as an
// interactive credential entry would
func (p *Provider) SignIn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signInLocked()
}

func (p *Provider) signInLocked() {
	u := p.user
	p.session = &u
}

// EndSession terminates the provider session, as an expiry, an admin
// revocation or a logout from another app would
func (p *Provider) EndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	p.generation++
}

// HasSession reports whether the provider session is active
func (p *Provider) HasSession() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// Fail makes every call to op return err until cleared with a nil err
func (p *Provider) Fail(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// Calls returns how many times op was invoked across all clients
func (p *Provider) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// TotalCalls returns the number of calls across all ops
func (p *Provider) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

// enter counts a call and returns the injected failure for op, if any
func (p *Provider) enter(op Op) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	return p.failures[op]
}

// authorize issues a code for a login request, or the provider error the
// redirect should carry
func (p *Provider) authorize(prompt identity.Prompt, loginHint string) (code, errCode, errDesc string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case prompt == identity.PromptLogin || prompt == identity.PromptSelectAccount:
		p.signInLocked()
	case p.session == nil && prompt == identity.PromptNone:
		return "", "login_required", "AADSTS50058: A silent sign-in request was sent but no user is signed in."
	case p.session == nil:
		p.signInLocked()
	}
	if loginHint != "" && p.session.Username != loginHint {
		if prompt == identity.PromptNone {
			return "", "interaction_required", "AADSTS16000: login_hint does not match the signed in user."
		}
		p.signInLocked()
	}

	code = uuid.NewString()
	p.codes[code] = grant{account: *p.session, generation: p.generation}
	return code, "", ""
}

func (p *Provider) redeem(code string) (grant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.codes[code]
	if !ok {
		return grant{}, ErrUnknownCode
	}
	delete(p.codes, code)
	return g, nil
}

// sessionFor reports whether refreshToken was minted under the current
// provider session. Ending the session revokes every earlier token.
func (p *Provider) sessionFor(refreshToken string) bool {
	generation, err := strconv.Atoi(strings.TrimPrefix(refreshToken, "gen-"))
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && p.generation == generation
}

func (p *Provider) clock() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now()
}

// mintFor issues the first token set for a redeemed code
func (p *Provider) mintFor(g grant) identity.CachedToken {
	return p.mint(g.account, "gen-"+strconv.Itoa(g.generation))
}

// mint issues a fresh access token bound to refreshToken
func (p *Provider) mint(account identity.Account, refreshToken string) identity.CachedToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return identity.CachedToken{
		AccountID:    account.ID,
		AccessToken:  "mem-" + uuid.NewString(),
		RefreshToken: refreshToken,
		Expiry:       p.now().Add(p.tokenTTL),
	}
}

func newState() string {
	return uuid.NewString()
}
