package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

// tokenSkew is how long before expiry a cached access token is refreshed
const tokenSkew = time.Minute

// OIDCProvider holds the discovered provider metadata shared by every app
// instance of one origin
type OIDCProvider struct {
	config       *OIDCConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	endSession   string
	httpClient   *http.Client
	now          func() time.Time
}

// ProviderOption customizes an OIDCProvider
type ProviderOption func(*OIDCProvider)

// WithHTTPClient sets the client used for every provider request
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *OIDCProvider) { p.httpClient = c }
}

// WithClock overrides the time source used for token expiry and ID token checks
func WithClock(now func() time.Time) ProviderOption {
	return func(p *OIDCProvider) { p.now = now }
}

// NewOIDCProvider runs discovery against config.IssuerURL
func NewOIDCProvider(ctx context.Context, config *OIDCConfig, opts ...ProviderOption) (*OIDCProvider, error) {
	const op = "discover"
	if config == nil {
		return nil, ConfigurationError(op, errors.New("OIDC config is required"))
	}
	if err := config.Validate(); err != nil {
		return nil, ConfigurationError(op, err)
	}

	p := &OIDCProvider{config: config, httpClient: http.DefaultClient, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}

	discoverCtx := p.context(ctx)
	if config.SkipIssuerCheck {
		discoverCtx = oidc.InsecureIssuerURLContext(discoverCtx, config.IssuerURL)
	}
	provider, err := oidc.NewProvider(discoverCtx, config.IssuerURL)
	if err != nil {
		if KindOf(Classify(op, err)) == KindTransientNetwork {
			return nil, Classify(op, err)
		}
		return nil, ConfigurationError(op, fmt.Errorf("failed to discover OIDC provider: %w", err))
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, ConfigurationError(op, fmt.Errorf("failed to parse discovery document: %w", err))
	}

	p.provider = provider
	p.endSession = extra.EndSessionEndpoint
	p.verifier = provider.Verifier(&oidc.Config{
		ClientID:        config.ClientID,
		SkipIssuerCheck: config.SkipIssuerCheck,
		Now:             p.now,
	})
	p.oauth2Config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       config.requestScopes(),
	}
	return p, nil
}

// Ping fetches the discovery document. It backs the readiness check.
func (p *OIDCProvider) Ping(ctx context.Context) error {
	wellKnown := strings.TrimSuffix(p.config.IssuerURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discovery returned %s", resp.Status)
	}
	return nil
}

func (p *OIDCProvider) context(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.httpClient)
}

// NewClient binds the provider to one app instance's storage and navigator
func (p *OIDCProvider) NewClient(store *storage.Adapter, nav navigation.Navigator) *OIDCClient {
	return &OIDCClient{
		provider: p,
		cache:    NewCache(store),
		nav:      nav,
		events:   newEvents(),
	}
}

// OIDCClient is a Client for one app instance backed by an OIDC provider
type OIDCClient struct {
	provider *OIDCProvider
	cache    *Cache
	nav      navigation.Navigator
	events   chan Event
}

var _ Client = (*OIDCClient)(nil)

// Login redirects to the authorization endpoint using authorization code + PKCE
func (c *OIDCClient) Login(ctx context.Context, opts LoginOptions) error {
	const op = "login"
	pending := PendingLogin{
		State:    uuid.NewString(),
		Nonce:    uuid.NewString(),
		Verifier: oauth2.GenerateVerifier(),
		Prompt:   opts.Prompt,
		ReturnTo: opts.ReturnTo,
	}
	if err := c.cache.SavePending(ctx, pending); err != nil {
		return wrapStorage(op, err)
	}

	authOpts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(pending.Verifier),
		oidc.Nonce(pending.Nonce),
	}
	if opts.Prompt != PromptDefault {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", string(opts.Prompt)))
	}
	if opts.LoginHint != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}

	authURL := c.provider.oauth2Config.AuthCodeURL(pending.State, authOpts...)
	if err := c.nav.Assign(ctx, authURL); err != nil {
		return Classify(op, err)
	}
	return nil
}

// Logout drops the cached account and performs RP-initiated logout when the
// provider advertises an end_session_endpoint
func (c *OIDCClient) Logout(ctx context.Context, postLogoutURL string) error {
	const op = "logout"
	account, _ := c.cache.Account(ctx)
	tok, _ := c.cache.Token(ctx)
	if err := c.cache.Forget(ctx); err != nil {
		return wrapStorage(op, err)
	}
	emit(c.events, Event{Type: EventLogoutSucceeded, Account: account})

	target := postLogoutURL
	if c.provider.endSession != "" {
		u, err := url.Parse(c.provider.endSession)
		if err != nil {
			return ConfigurationError(op, err)
		}
		q := u.Query()
		q.Set("client_id", c.provider.config.ClientID)
		if postLogoutURL != "" {
			q.Set("post_logout_redirect_uri", postLogoutURL)
		}
		if tok != nil && tok.IDToken != "" {
			q.Set("id_token_hint", tok.IDToken)
		}
		if account != nil && account.Username != "" {
			q.Set("logout_hint", account.Username)
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}
	if target == "" {
		return nil
	}
	if err := c.nav.Assign(ctx, target); err != nil {
		return Classify(op, err)
	}
	return nil
}

// AcquireTokenSilent returns the cached access token, refreshing it through
// the refresh-token grant when expired or when forceRefresh is set
func (c *OIDCClient) AcquireTokenSilent(ctx context.Context, account Account, forceRefresh bool) (*Token, error) {
	const op = "acquire_token_silent"
	cached, err := c.cache.Token(ctx)
	if err != nil {
		return nil, wrapStorage(op, err)
	}
	if cached == nil || cached.AccountID != account.ID {
		return nil, errNoTokens(op)
	}
	if !forceRefresh && cached.Valid(c.provider.now(), tokenSkew) {
		return &Token{AccessToken: cached.AccessToken, ExpiresAt: cached.Expiry, Scopes: cached.Scopes}, nil
	}

	refreshed, err := c.refresh(ctx, op, cached)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: refreshed.AccessToken, ExpiresAt: refreshed.Expiry, Scopes: refreshed.Scopes}, nil
}

// ProbeSession redeems the refresh token. A provider that has ended the
// session rejects it with invalid_grant or an interaction marker.
func (c *OIDCClient) ProbeSession(ctx context.Context, loginHint string) error {
	const op = "probe_session"
	account, err := c.cache.Account(ctx)
	if err != nil {
		return wrapStorage(op, err)
	}
	if account == nil {
		return InteractionRequired(op, "login_required")
	}
	if loginHint != "" && account.Username != "" && account.Username != loginHint {
		return InteractionRequired(op, "login_required")
	}
	cached, err := c.cache.Token(ctx)
	if err != nil {
		return wrapStorage(op, err)
	}
	if cached == nil || cached.AccountID != account.ID {
		return errNoTokens(op)
	}
	_, err = c.refresh(ctx, op, cached)
	return err
}

func (c *OIDCClient) refresh(ctx context.Context, op string, cached *CachedToken) (*CachedToken, error) {
	if cached.RefreshToken == "" {
		return nil, errNoTokens(op)
	}
	src := c.provider.oauth2Config.TokenSource(c.provider.context(ctx), &oauth2.Token{RefreshToken: cached.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, Classify(op, err)
	}

	next := *cached
	next.AccessToken = tok.AccessToken
	next.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		next.IDToken = raw
	}
	if err := c.cache.SaveToken(ctx, next); err != nil {
		return nil, wrapStorage(op, err)
	}
	return &next, nil
}

// HandleRedirectReturn exchanges the authorization code on the current
// location, verifies the ID token and caches the resulting account
func (c *OIDCClient) HandleRedirectReturn(ctx context.Context) (*Account, error) {
	const op = "handle_redirect"
	loc := c.nav.Location()
	rr, ok := ParseRedirectReturn(loc)
	if !ok {
		return nil, nil
	}
	pending, err := c.cache.TakePending(ctx)
	if err != nil {
		return nil, wrapStorage(op, err)
	}
	if err := rr.Resolve(op, pending); err != nil {
		return nil, err
	}

	pctx := c.provider.context(ctx)
	tok, err := c.provider.oauth2Config.Exchange(pctx, rr.Code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		return nil, Classify(op, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, NewError(KindUnknown, op, "", errors.New("missing id_token in response"))
	}
	idToken, err := c.provider.verifier.Verify(pctx, rawIDToken)
	if err != nil {
		return nil, NewError(KindUnknown, op, "", fmt.Errorf("failed to verify ID token: %w", err))
	}
	if idToken.Nonce != pending.Nonce {
		return nil, NewError(KindUnknown, op, "", errors.New("ID token nonce mismatch"))
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, NewError(KindUnknown, op, "", fmt.Errorf("failed to parse claims: %w", err))
	}
	account := c.provider.config.Claims.account(idToken.Subject, claims)
	if account.ID == "" {
		return nil, NewError(KindUnknown, op, "", errors.New("missing user ID in OIDC token"))
	}

	cached := CachedToken{
		AccountID:    account.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       tok.Expiry,
		Scopes:       c.provider.oauth2Config.Scopes,
	}
	if err := c.cache.SaveToken(ctx, cached); err != nil {
		return nil, wrapStorage(op, err)
	}
	if err := c.cache.SaveAccount(ctx, account); err != nil {
		return nil, wrapStorage(op, err)
	}
	emit(c.events, Event{Type: EventLoginSucceeded, Account: &account})

	target := pending.ReturnTo
	if target == "" {
		target = StripRedirectParams(loc)
	}
	if err := c.nav.Replace(ctx, target); err != nil {
		return nil, Classify(op, err)
	}
	return &account, nil
}

func (c *OIDCClient) ActiveAccount(ctx context.Context) (*Account, error) {
	a, err := c.cache.Account(ctx)
	if err != nil {
		return nil, wrapStorage("active_account", err)
	}
	return a, nil
}

func (c *OIDCClient) Events() <-chan Event {
	return c.events
}
