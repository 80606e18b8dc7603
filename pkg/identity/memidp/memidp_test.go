package memidp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

var ada = identity.Account{ID: "user-1", DisplayName: "Ada", Username: "ada@example.com"}

func newApp(p *Provider, origin string) (*Client, *navigation.Tab, *storage.Adapter) {
	tab := navigation.MustTab(origin + "/")
	store := storage.NewMemoryAdapter(storage.DefaultPrefix)
	return p.NewClient(origin+"/", store, tab), tab, store
}

// login runs Login then a fresh client on the same tab handles the return
func login(t *testing.T, p *Provider, c *Client, tab *navigation.Tab, store *storage.Adapter, prompt identity.Prompt) (*identity.Account, error) {
	t.Helper()
	require.NoError(t, c.Login(context.Background(), identity.LoginOptions{Prompt: prompt}))
	next := p.NewClient("unused", store, tab)
	return next.HandleRedirectReturn(context.Background())
}

func TestInteractiveLoginEstablishesSharedSession(t *testing.T) {
	p := NewProvider(ada)
	hub, hubTab, hubStore := newApp(p, "http://localhost:3000")

	account, err := login(t, p, hub, hubTab, hubStore, identity.PromptDefault)
	require.NoError(t, err)
	assert.Equal(t, ada, *account)
	assert.True(t, p.HasSession())
	assert.Equal(t, "http://localhost:3000/", hubTab.Location().String())

	// a leaf on another origin signs in silently against the same session
	leaf, leafTab, leafStore := newApp(p, "http://localhost:3001")
	account, err = login(t, p, leaf, leafTab, leafStore, identity.PromptNone)
	require.NoError(t, err)
	assert.Equal(t, ada.ID, account.ID)

	// storage stays per origin
	hubKeys, _ := hubStore.Local.Keys(context.Background(), storage.DefaultPrefix)
	leafKeys, _ := leafStore.Local.Keys(context.Background(), storage.DefaultPrefix)
	assert.Len(t, hubKeys, 2)
	assert.Len(t, leafKeys, 2)
}

func TestSilentLoginWithoutSession(t *testing.T) {
	p := NewProvider(ada)
	leaf, tab, store := newApp(p, "http://localhost:3001")

	account, err := login(t, p, leaf, tab, store, identity.PromptNone)
	assert.Nil(t, account)
	assert.True(t, identity.IsInteractionRequired(err))
	assert.False(t, p.HasSession())
}

func TestEndSessionRevokesTokens(t *testing.T) {
	p := NewProvider(ada)
	p.SignIn()
	leaf, tab, store := newApp(p, "http://localhost:3001")
	account, err := login(t, p, leaf, tab, store, identity.PromptNone)
	require.NoError(t, err)

	ctx := context.Background()
	c := p.NewClient("unused", store, tab)
	require.NoError(t, c.ProbeSession(ctx, ada.Username))
	tok, err := c.AcquireTokenSilent(ctx, *account, false)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)

	p.EndSession()
	assert.True(t, identity.IsInteractionRequired(c.ProbeSession(ctx, "")))

	// cached access token is still served until a refresh is needed
	_, err = c.AcquireTokenSilent(ctx, *account, false)
	assert.NoError(t, err)
	_, err = c.AcquireTokenSilent(ctx, *account, true)
	assert.True(t, identity.IsInteractionRequired(err))

	// signing in again does not resurrect revoked tokens
	p.SignIn()
	assert.True(t, identity.IsInteractionRequired(c.ProbeSession(ctx, "")))
}

func TestExpiredTokenRefreshes(t *testing.T) {
	now := time.Now()
	p := NewProvider(ada, WithTokenTTL(time.Minute), WithClock(func() time.Time { return now }))
	p.SignIn()
	leaf, tab, store := newApp(p, "http://localhost:3001")
	account, err := login(t, p, leaf, tab, store, identity.PromptNone)
	require.NoError(t, err)

	c := p.NewClient("unused", store, tab)
	first, err := c.AcquireTokenSilent(context.Background(), *account, false)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	second, err := c.AcquireTokenSilent(context.Background(), *account, false)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
}

func TestNoCachedAccount(t *testing.T) {
	p := NewProvider(ada)
	p.SignIn()
	c, _, _ := newApp(p, "http://localhost:3001")
	ctx := context.Background()

	_, err := c.AcquireTokenSilent(ctx, ada, false)
	assert.True(t, identity.IsInteractionRequired(err))
	assert.True(t, identity.IsInteractionRequired(c.ProbeSession(ctx, "")))

	account, err := c.ActiveAccount(ctx)
	assert.NoError(t, err)
	assert.Nil(t, account)
}

func TestLogoutEndsSessionEverywhere(t *testing.T) {
	p := NewProvider(ada)
	p.SignIn()
	c, tab, store := newApp(p, "http://localhost:3001")
	_, err := login(t, p, c, tab, store, identity.PromptNone)
	require.NoError(t, err)

	c = p.NewClient("unused", store, tab)
	require.NoError(t, c.Logout(context.Background(), "http://localhost:3000/?logout=true"))
	assert.False(t, p.HasSession())
	assert.Equal(t, "http://localhost:3000/?logout=true", tab.Location().String())

	ev := <-c.Events()
	assert.Equal(t, identity.EventLogoutSucceeded, ev.Type)
	assert.Equal(t, ada.ID, ev.Account.ID)
}

func TestFaultInjectionAndCounters(t *testing.T) {
	p := NewProvider(ada)
	c, _, _ := newApp(p, "http://localhost:3001")
	ctx := context.Background()

	p.Fail(OpProbeSession, identity.NewError(identity.KindTransientNetwork, "probe", "", ErrInjected))
	err := c.ProbeSession(ctx, "")
	assert.Equal(t, identity.KindTransientNetwork, identity.KindOf(err))
	assert.ErrorIs(t, err, ErrInjected)

	p.Fail(OpProbeSession, nil)
	assert.True(t, identity.IsInteractionRequired(c.ProbeSession(ctx, "")))
	assert.Equal(t, 2, p.Calls(OpProbeSession))
	assert.Equal(t, 2, p.TotalCalls())
}

func TestRedirectReturnWithoutParams(t *testing.T) {
	p := NewProvider(ada)
	c, _, _ := newApp(p, "http://localhost:3001")
	account, err := c.HandleRedirectReturn(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, account)
}

func TestRedirectReturnStateMismatch(t *testing.T) {
	p := NewProvider(ada)
	c, tab, _ := newApp(p, "http://localhost:3001")
	require.NoError(t, tab.Assign(context.Background(), "/?code=x&state=forged"))
	_, err := c.HandleRedirectReturn(context.Background())
	assert.ErrorIs(t, err, identity.ErrStateMismatch)
}
