package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

const testClientID = "leaf-client"

// fakeIssuer is a minimal OIDC provider: discovery, JWKS and token endpoint
type fakeIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey

	mu           sync.Mutex
	nonce        string
	revoked      bool
	unavailable  bool
	tokenCalls   atomic.Int32
	lastVerifier string
	refreshSeq   int
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.discovery)
	mux.HandleFunc("/keys", f.jwks)
	mux.HandleFunc("/token", f.token)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIssuer) discovery(w http.ResponseWriter, r *http.Request) {
	base := f.server.URL
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                base,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/keys",
		"end_session_endpoint":                  base + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIssuer) jwks(w http.ResponseWriter, r *http.Request) {
	pub := f.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeIssuer) token(w http.ResponseWriter, r *http.Request) {
	f.tokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.lastVerifier = r.PostForm.Get("code_verifier")
		if r.PostForm.Get("code") != "good-code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-1",
			"token_type":    "Bearer",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"id_token":      f.idToken(),
		})
	case "refresh_token":
		if f.revoked {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "AADSTS50173: The provided grant has expired due to it being revoked.",
			})
			return
		}
		f.refreshSeq++
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "access-refreshed-" + strconv.Itoa(f.refreshSeq),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (f *fakeIssuer) idToken() string {
	header, _ := json.Marshal(map[string]string{"alg": "RS256", "kid": "k1", "typ": "JWT"})
	claims, _ := json.Marshal(map[string]interface{}{
		"iss":                f.server.URL,
		"aud":                testClientID,
		"sub":                "subject-1",
		"oid":                "user-1",
		"tid":                "tenant-1",
		"name":               "Ada Lovelace",
		"preferred_username": "ada@example.com",
		"nonce":              f.nonce,
		"iat":                time.Now().Unix(),
		"exp":                time.Now().Add(time.Hour).Unix(),
	})
	signing := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(claims)
	sum := sha256.Sum256([]byte(signing))
	sig, _ := rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA256, sum[:])
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testOIDCConfig(issuer string) *OIDCConfig {
	cfg, _ := PresetConfig(ProviderAzureAD)
	cfg.IssuerURL = issuer
	cfg.ClientID = testClientID
	cfg.RedirectURL = "http://localhost:3001/auth/callback"
	cfg.APIScopes = []string{DefaultAPIScope(testClientID)}
	return cfg
}

func setupOIDCClient(t *testing.T) (*fakeIssuer, *OIDCClient, *navigation.Tab, *storage.Adapter) {
	t.Helper()
	f := newFakeIssuer(t)
	p, err := NewOIDCProvider(context.Background(), testOIDCConfig(f.server.URL))
	require.NoError(t, err)

	tab := navigation.MustTab("http://localhost:3001/")
	store := storage.NewMemoryAdapter(storage.DefaultPrefix)
	return f, p.NewClient(store, tab), tab, store
}

// completeLogin drives Login and the provider's redirect back to the app
func completeLogin(t *testing.T, f *fakeIssuer, c *OIDCClient, tab *navigation.Tab) *Account {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, LoginOptions{Prompt: PromptNone, LoginHint: "ada@example.com"}))

	q := tab.Location().Query()
	f.mu.Lock()
	f.nonce = q.Get("nonce")
	f.mu.Unlock()

	require.NoError(t, tab.Assign(ctx, "http://localhost:3001/auth/callback?code=good-code&state="+url.QueryEscape(q.Get("state"))))
	account, err := c.HandleRedirectReturn(ctx)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account
}

func TestNewOIDCProvider_InvalidConfig(t *testing.T) {
	_, err := NewOIDCProvider(context.Background(), nil)
	assert.Equal(t, KindConfiguration, KindOf(err))

	_, err = NewOIDCProvider(context.Background(), &OIDCConfig{IssuerURL: "http://x"})
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestNewOIDCProvider_DiscoveryFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewOIDCProvider(context.Background(), testOIDCConfig(server.URL))
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestOIDCClient_LoginBuildsAuthorizeURL(t *testing.T) {
	_, c, tab, store := setupOIDCClient(t)

	require.NoError(t, c.Login(context.Background(), LoginOptions{Prompt: PromptNone, LoginHint: "ada@example.com"}))

	loc := tab.Location()
	assert.Equal(t, "/authorize", loc.Path)
	q := loc.Query()
	assert.Equal(t, "none", q.Get("prompt"))
	assert.Equal(t, "ada@example.com", q.Get("login_hint"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("nonce"))
	assert.Contains(t, q.Get("scope"), "api://leaf-client/access_as_user")

	keys, err := store.Session.Keys(context.Background(), storage.DefaultPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"oidc.pending"}, keys)
}

func TestOIDCClient_LoginDefaultPromptOmitsParam(t *testing.T) {
	_, c, tab, _ := setupOIDCClient(t)
	require.NoError(t, c.Login(context.Background(), LoginOptions{}))
	_, present := tab.Location().Query()["prompt"]
	assert.False(t, present)
}

func TestOIDCClient_RedirectReturn(t *testing.T) {
	f, c, tab, store := setupOIDCClient(t)
	ctx := context.Background()

	account := completeLogin(t, f, c, tab)
	assert.Equal(t, Account{ID: "user-1", DisplayName: "Ada Lovelace", Username: "ada@example.com", TenantID: "tenant-1"}, *account)
	assert.NotEmpty(t, f.lastVerifier)

	// callback parameters are stripped by history replacement
	last, ok := tab.Last()
	require.True(t, ok)
	assert.Equal(t, navigation.KindReplace, last.Kind)
	assert.Equal(t, "http://localhost:3001/auth/callback", last.Target)

	active, err := c.ActiveAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, account, active)

	select {
	case ev := <-c.Events():
		assert.Equal(t, EventLoginSucceeded, ev.Type)
		assert.Equal(t, "user-1", ev.Account.ID)
	default:
		t.Fatal("expected a login event")
	}

	keys, err := store.Local.Keys(ctx, storage.DefaultPrefix)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"oidc.account", "oidc.token"}, keys)
}

func TestOIDCClient_RedirectReturnNotPresent(t *testing.T) {
	_, c, _, _ := setupOIDCClient(t)
	account, err := c.HandleRedirectReturn(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, account)
}

func TestOIDCClient_RedirectReturnStateMismatch(t *testing.T) {
	_, c, tab, _ := setupOIDCClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, LoginOptions{}))
	require.NoError(t, tab.Assign(ctx, "http://localhost:3001/auth/callback?code=good-code&state=forged"))

	_, err := c.HandleRedirectReturn(ctx)
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestOIDCClient_RedirectReturnLoginRequired(t *testing.T) {
	_, c, tab, _ := setupOIDCClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, LoginOptions{Prompt: PromptNone}))
	state := tab.Location().Query().Get("state")

	require.NoError(t, tab.Assign(ctx, "http://localhost:3001/auth/callback?error=login_required&error_description=AADSTS50058&state="+state))
	_, err := c.HandleRedirectReturn(ctx)
	assert.True(t, IsInteractionRequired(err))
}

func TestOIDCClient_AcquireTokenSilent(t *testing.T) {
	f, c, tab, _ := setupOIDCClient(t)
	ctx := context.Background()
	account := completeLogin(t, f, c, tab)
	calls := f.tokenCalls.Load()

	tok, err := c.AcquireTokenSilent(ctx, *account, false)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, calls, f.tokenCalls.Load(), "cached token must not hit the provider")

	tok, err = c.AcquireTokenSilent(ctx, *account, true)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed-1", tok.AccessToken)
	assert.Equal(t, calls+1, f.tokenCalls.Load())
}

func TestOIDCClient_AcquireTokenSilentUnknownAccount(t *testing.T) {
	_, c, _, _ := setupOIDCClient(t)
	_, err := c.AcquireTokenSilent(context.Background(), Account{ID: "nobody"}, false)
	assert.True(t, IsInteractionRequired(err))
}

func TestOIDCClient_ProbeSession(t *testing.T) {
	f, c, tab, _ := setupOIDCClient(t)
	ctx := context.Background()
	completeLogin(t, f, c, tab)

	require.NoError(t, c.ProbeSession(ctx, "ada@example.com"))
	assert.True(t, IsInteractionRequired(c.ProbeSession(ctx, "someone@else.com")))

	f.mu.Lock()
	f.unavailable = true
	f.mu.Unlock()
	assert.Equal(t, KindTransientNetwork, KindOf(c.ProbeSession(ctx, "")))

	f.mu.Lock()
	f.unavailable = false
	f.revoked = true
	f.mu.Unlock()
	err := c.ProbeSession(ctx, "")
	assert.True(t, IsInteractionRequired(err))
}

func TestOIDCClient_ProbeSessionWithoutAccount(t *testing.T) {
	f, c, _, _ := setupOIDCClient(t)
	assert.True(t, IsInteractionRequired(c.ProbeSession(context.Background(), "")))
	assert.Zero(t, f.tokenCalls.Load())
}

func TestOIDCClient_Logout(t *testing.T) {
	f, c, tab, store := setupOIDCClient(t)
	ctx := context.Background()
	completeLogin(t, f, c, tab)
	<-c.Events()

	require.NoError(t, c.Logout(ctx, "http://localhost:3000/?logout=true"))

	loc := tab.Location()
	assert.Equal(t, "/logout", loc.Path)
	assert.Equal(t, "http://localhost:3000/?logout=true", loc.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, testClientID, loc.Query().Get("client_id"))
	assert.NotEmpty(t, loc.Query().Get("id_token_hint"))

	keys, err := store.Local.Keys(ctx, storage.DefaultPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)

	ev := <-c.Events()
	assert.Equal(t, EventLogoutSucceeded, ev.Type)
}

func TestOIDCProvider_Ping(t *testing.T) {
	f := newFakeIssuer(t)
	p, err := NewOIDCProvider(context.Background(), testOIDCConfig(f.server.URL))
	require.NoError(t, err)

	assert.NoError(t, p.Ping(context.Background()))

	f.server.Close()
	assert.Error(t, p.Ping(context.Background()))
}
