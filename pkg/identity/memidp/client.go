package memidp

import (
	"context"
	"errors"
	"net/url"

	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

// Client is the identity.Client of one app instance
type Client struct {
	provider    *Provider
	redirectURL string
	cache       *identity.Cache
	nav         navigation.Navigator
	events      chan identity.Event
}

var _ identity.Client = (*Client)(nil)

// NewClient binds the provider to an app instance. Logins redirect back to
// redirectURL.
func (p *Provider) NewClient(redirectURL string, store *storage.Adapter, nav navigation.Navigator) *Client {
	return &Client{
		provider:    p,
		redirectURL: redirectURL,
		cache:       identity.NewCache(store),
		nav:         nav,
		events:      make(chan identity.Event, 16),
	}
}

// Login answers the authorization request immediately by navigating to the
// redirect URL with either a code or a provider error
func (c *Client) Login(ctx context.Context, opts identity.LoginOptions) error {
	const op = "login"
	if err := c.provider.enter(OpLogin); err != nil {
		return identity.Classify(op, err)
	}

	pending := identity.PendingLogin{
		State:    newState(),
		Prompt:   opts.Prompt,
		ReturnTo: opts.ReturnTo,
	}
	if err := c.cache.SavePending(ctx, pending); err != nil {
		return identity.Classify(op, err)
	}

	u, err := url.Parse(c.redirectURL)
	if err != nil {
		return identity.ConfigurationError(op, err)
	}
	q := u.Query()
	q.Set("state", pending.State)
	code, errCode, errDesc := c.provider.authorize(opts.Prompt, opts.LoginHint)
	if errCode != "" {
		q.Set("error", errCode)
		q.Set("error_description", errDesc)
	} else {
		q.Set("code", code)
	}
	u.RawQuery = q.Encode()

	return c.nav.Assign(ctx, u.String())
}

// Logout ends the provider session and lands on postLogoutURL
func (c *Client) Logout(ctx context.Context, postLogoutURL string) error {
	const op = "logout"
	if err := c.provider.enter(OpLogout); err != nil {
		return identity.Classify(op, err)
	}
	account, _ := c.cache.Account(ctx)
	if err := c.cache.Forget(ctx); err != nil {
		return identity.Classify(op, err)
	}
	c.provider.EndSession()
	c.emit(identity.Event{Type: identity.EventLogoutSucceeded, Account: account})
	if postLogoutURL == "" {
		return nil
	}
	return c.nav.Assign(ctx, postLogoutURL)
}

func (c *Client) AcquireTokenSilent(ctx context.Context, account identity.Account, forceRefresh bool) (*identity.Token, error) {
	const op = "acquire_token_silent"
	if err := c.provider.enter(OpAcquireToken); err != nil {
		return nil, identity.Classify(op, err)
	}
	cached, err := c.cache.Token(ctx)
	if err != nil {
		return nil, identity.Classify(op, err)
	}
	if cached == nil || cached.AccountID != account.ID {
		return nil, identity.InteractionRequired(op, "no_tokens_found")
	}
	if !forceRefresh && cached.Valid(c.provider.clock(), 0) {
		return &identity.Token{AccessToken: cached.AccessToken, ExpiresAt: cached.Expiry}, nil
	}
	if !c.provider.sessionFor(cached.RefreshToken) {
		return nil, identity.InteractionRequired(op, "AADSTS160021")
	}

	next := c.provider.mint(account, cached.RefreshToken)
	if err := c.cache.SaveToken(ctx, next); err != nil {
		return nil, identity.Classify(op, err)
	}
	return &identity.Token{AccessToken: next.AccessToken, ExpiresAt: next.Expiry}, nil
}

func (c *Client) ProbeSession(ctx context.Context, loginHint string) error {
	const op = "probe_session"
	if err := c.provider.enter(OpProbeSession); err != nil {
		return identity.Classify(op, err)
	}
	account, err := c.cache.Account(ctx)
	if err != nil {
		return identity.Classify(op, err)
	}
	if account == nil {
		return identity.InteractionRequired(op, "login_required")
	}
	if loginHint != "" && account.Username != loginHint {
		return identity.InteractionRequired(op, "login_required")
	}
	cached, err := c.cache.Token(ctx)
	if err != nil {
		return identity.Classify(op, err)
	}
	if cached == nil || !c.provider.sessionFor(cached.RefreshToken) {
		return identity.InteractionRequired(op, "AADSTS50058")
	}
	return nil
}

func (c *Client) HandleRedirectReturn(ctx context.Context) (*identity.Account, error) {
	const op = "handle_redirect"
	if err := c.provider.enter(OpRedirectReturn); err != nil {
		return nil, identity.Classify(op, err)
	}
	loc := c.nav.Location()
	rr, ok := identity.ParseRedirectReturn(loc)
	if !ok {
		return nil, nil
	}
	pending, err := c.cache.TakePending(ctx)
	if err != nil {
		return nil, identity.Classify(op, err)
	}
	if err := rr.Resolve(op, pending); err != nil {
		return nil, err
	}

	g, err := c.provider.redeem(rr.Code)
	if err != nil {
		return nil, identity.NewError(identity.KindUnknown, op, "invalid_grant", err)
	}
	account := g.account
	if err := c.cache.SaveToken(ctx, c.provider.mintFor(g)); err != nil {
		return nil, identity.Classify(op, err)
	}
	if err := c.cache.SaveAccount(ctx, account); err != nil {
		return nil, identity.Classify(op, err)
	}
	c.emit(identity.Event{Type: identity.EventLoginSucceeded, Account: &account})

	target := pending.ReturnTo
	if target == "" {
		target = identity.StripRedirectParams(loc)
	}
	if err := c.nav.Replace(ctx, target); err != nil {
		return nil, identity.Classify(op, err)
	}
	return &account, nil
}

func (c *Client) ActiveAccount(ctx context.Context) (*identity.Account, error) {
	if err := c.provider.enter(OpActiveAccount); err != nil {
		return nil, identity.Classify("active_account", err)
	}
	return c.cache.Account(ctx)
}

func (c *Client) Events() <-chan identity.Event {
	return c.events
}

func (c *Client) emit(ev identity.Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// ErrInjected is a convenience error for fault injection
var ErrInjected = errors.New("injected failure")
