package crossapp

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ssosync/pkg/audit"
	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/identity/memidp"
	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/redirect"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

const hubURL = "http://hub.local/"

var alice = identity.Account{ID: "alice-oid", Username: "alice@example.com", DisplayName: "Alice"}

type fixture struct {
	sync     *Synchronizer
	tab      *navigation.Tab
	store    *storage.Adapter
	coord    *redirect.Coordinator
	provider *memidp.Provider
	metrics  *observability.Metrics
	audit    *audit.MemoryLogger
}

func newFixture(t *testing.T, role Role, location string) *fixture {
	t.Helper()
	f := &fixture{
		tab:      navigation.MustTab(location),
		store:    storage.NewMemoryAdapter(storage.DefaultPrefix),
		provider: memidp.NewProvider(alice),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		audit:    audit.NewMemoryLogger(),
	}
	app := "leaf-a"
	if role == RoleHub {
		app = "hub"
	}
	f.coord = redirect.New(func() { f.metrics.RedirectSuppressed(app) })

	origin := navigation.Origin(f.tab.Location())
	client := f.provider.NewClient(origin+"/auth/callback", f.store, f.tab)

	s, err := New(Config{App: app, Role: role, HubURL: hubURL}, client, f.store, f.tab, f.coord,
		WithMetrics(f.metrics), WithAudit(f.audit))
	require.NoError(t, err)
	f.sync = s
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Local.Set(ctx, "oidc.account", `{"id":"alice-oid"}`))
	require.NoError(t, f.store.Session.Set(ctx, "oidc.pending", `{}`))
	require.NoError(t, f.store.Local.Set(ctx, "theme", "dark"))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Hub ")
	require.NoError(t, err)
	assert.Equal(t, RoleHub, r)

	r, err = ParseRole("leaf")
	require.NoError(t, err)
	assert.Equal(t, RoleLeaf, r)

	_, err = ParseRole("edge")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Role: RoleLeaf}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHubURL, cfg.HubURL)
	assert.Equal(t, DefaultLogoutParam, cfg.LogoutParam)
	assert.Equal(t, "leaf", cfg.App)

	cfg = Config{Role: "other"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidRole)

	cfg = Config{Role: RoleHub, HubURL: "/relative"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidHubURL)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	tab := navigation.MustTab(hubURL)
	store := storage.NewMemoryAdapter(storage.DefaultPrefix)
	_, err := New(Config{Role: RoleHub}, nil, store, tab, redirect.New(nil))
	assert.Error(t, err)

	client := memidp.NewProvider(alice).NewClient(hubURL, store, tab)
	_, err = New(Config{Role: RoleHub}, client, nil, tab, redirect.New(nil))
	assert.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestSignalURL_KeepsHubQuery(t *testing.T) {
	store := storage.NewMemoryAdapter(storage.DefaultPrefix)
	tab := navigation.MustTab("http://leaf.local/")
	client := memidp.NewProvider(alice).NewClient("http://leaf.local/auth/callback", store, tab)
	s, err := New(Config{Role: RoleLeaf, HubURL: "http://hub.local/catalogue?view=grid"}, client, store, tab, redirect.New(nil))
	require.NoError(t, err)

	u, err := url.Parse(s.SignalURL())
	require.NoError(t, err)
	assert.Equal(t, "/catalogue", u.Path)
	assert.Equal(t, "grid", u.Query().Get("view"))
	assert.Equal(t, "true", u.Query().Get("logout"))
}

func TestHandleLogoutSignal_Hub(t *testing.T) {
	f := newFixture(t, RoleHub, "http://hub.local/?logout=true&view=grid")
	f.seed(t)
	ctx := context.Background()

	handled, err := f.sync.HandleLogoutSignal(ctx)
	require.NoError(t, err)
	assert.True(t, handled)

	// prefixed entries gone in both tiers, other keys kept
	keys, err := f.store.Local.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"theme"}, keys)
	keys, err = f.store.Session.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	history := f.tab.History()
	require.Len(t, history, 2)
	assert.Equal(t, navigation.KindReplace, history[0].Kind)
	assert.Equal(t, "http://hub.local/?view=grid", history[0].Target)
	assert.Equal(t, navigation.KindReload, history[1].Kind)
	assert.False(t, f.sync.HasSignal())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LogoutSignalsTotal.WithLabelValues("hub", SignalHandled)))
	assert.Len(t, f.audit.OfType(audit.EventTypeSessionSignalHandled), 1)
}

func TestHandleLogoutSignal_Idempotent(t *testing.T) {
	f := newFixture(t, RoleHub, "http://hub.local/?logout=true")
	ctx := context.Background()

	var wg sync.WaitGroup
	var handled atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.sync.HandleLogoutSignal(ctx)
			assert.NoError(t, err)
			if ok {
				handled.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), handled.Load())
	assert.Equal(t, 1, f.tab.NavigationsAway())
	assert.Len(t, f.audit.OfType(audit.EventTypeSessionSignalHandled), 1)
}

func TestHandleLogoutSignal_IgnoredWithoutSignalOrOnLeaf(t *testing.T) {
	ctx := context.Background()

	hub := newFixture(t, RoleHub, "http://hub.local/?logout=false")
	handled, err := hub.sync.HandleLogoutSignal(ctx)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, hub.tab.History())

	leaf := newFixture(t, RoleLeaf, "http://leaf.local/?logout=true")
	leaf.seed(t)
	handled, err = leaf.sync.HandleLogoutSignal(ctx)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, leaf.tab.History())
	_, ok, err := leaf.store.Local.Get(ctx, "oidc.account")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandleLogoutSignal_ReloadSuppressedWhenRedirectInFlight(t *testing.T) {
	f := newFixture(t, RoleHub, "http://hub.local/?logout=true")
	require.True(t, f.coord.Begin())

	handled, err := f.sync.HandleLogoutSignal(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 0, f.tab.NavigationsAway())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LogoutSignalsTotal.WithLabelValues("hub", SignalSuppressed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RedirectsSuppressed.WithLabelValues("hub")))
}

func TestSilentSignIn_WithProviderSession(t *testing.T) {
	f := newFixture(t, RoleLeaf, "http://leaf.local/reports")
	f.provider.SignIn()
	ctx := context.Background()

	navigated, err := f.sync.SilentSignIn(ctx, alice.Username)
	require.NoError(t, err)
	assert.True(t, navigated)

	last, ok := f.tab.Last()
	require.True(t, ok)
	assert.Equal(t, navigation.KindAssign, last.Kind)
	u, err := url.Parse(last.Target)
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", u.Path)
	assert.NotEmpty(t, u.Query().Get("code"))
	assert.True(t, f.coord.InFlight())

	// once per instance
	navigated, err = f.sync.SilentSignIn(ctx, alice.Username)
	require.NoError(t, err)
	assert.False(t, navigated)
	assert.Equal(t, 1, f.provider.Calls(memidp.OpLogin))
}

func TestSilentSignIn_NoProviderSessionReturnsLoginRequired(t *testing.T) {
	f := newFixture(t, RoleLeaf, "http://leaf.local/")

	navigated, err := f.sync.SilentSignIn(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, navigated)

	last, _ := f.tab.Last()
	u, err := url.Parse(last.Target)
	require.NoError(t, err)
	assert.Equal(t, "login_required", u.Query().Get("error"))
	assert.False(t, f.provider.HasSession())
}

func TestSilentSignIn_SkippedWhenRedirectInFlight(t *testing.T) {
	f := newFixture(t, RoleLeaf, "http://leaf.local/")
	f.provider.SignIn()
	require.True(t, f.coord.Begin())

	navigated, err := f.sync.SilentSignIn(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, navigated)
	assert.Zero(t, f.provider.Calls(memidp.OpLogin))
	assert.Empty(t, f.tab.History())
}

func TestSilentSignIn_HubNeverSignsInSilently(t *testing.T) {
	f := newFixture(t, RoleHub, hubURL)
	f.provider.SignIn()

	navigated, err := f.sync.SilentSignIn(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, navigated)
	assert.Zero(t, f.provider.Calls(memidp.OpLogin))
}

func TestSilentSignIn_FallsBackToHub(t *testing.T) {
	f := newFixture(t, RoleLeaf, "http://leaf.local/")
	f.provider.Fail(memidp.OpLogin, identity.ConfigurationError("login", memidp.ErrInjected))

	navigated, err := f.sync.SilentSignIn(context.Background(), "")
	require.Error(t, err)
	assert.True(t, navigated)
	assert.Equal(t, identity.KindConfiguration, identity.KindOf(err))
	assert.ErrorIs(t, err, memidp.ErrInjected)

	last, ok := f.tab.Last()
	require.True(t, ok)
	assert.Equal(t, navigation.Navigation{Kind: navigation.KindAssign, Target: hubURL}, last)
	assert.Equal(t, 1, f.tab.NavigationsAway())
}

func TestSilentSignIn_FallbackKeepsErrorKind(t *testing.T) {
	f := newFixture(t, RoleLeaf, "http://leaf.local/")
	f.provider.Fail(memidp.OpLogin, context.DeadlineExceeded)

	navigated, err := f.sync.SilentSignIn(context.Background(), "")
	require.Error(t, err)
	assert.True(t, navigated)
	assert.Equal(t, identity.KindTransientNetwork, identity.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	last, _ := f.tab.Last()
	assert.Equal(t, hubURL, last.Target)
}

func TestForceLogout_OwedToFailedNavigation(t *testing.T) {
	f := newFixture(t, RoleLeaf, "http://leaf.local/")
	f.seed(t)
	ctx := context.Background()

	// an interactive login holds the tab
	require.True(t, f.coord.Begin())

	navigated, err := f.sync.ForceLogout(ctx, "token_interaction_required")
	require.NoError(t, err)
	assert.False(t, navigated)
	assert.Zero(t, f.tab.NavigationsAway())
	assert.Empty(t, f.audit.OfType(audit.EventTypeSessionCascade))

	// the login fails without navigating
	ran, err := f.coord.Release()
	require.NoError(t, err)
	assert.True(t, ran)

	last, ok := f.tab.Last()
	require.True(t, ok)
	assert.Equal(t, navigation.Navigation{Kind: navigation.KindAssign, Target: "http://hub.local/?logout=true"}, last)
	assert.Equal(t, 1, f.tab.NavigationsAway())
	assert.Len(t, f.audit.OfType(audit.EventTypeSessionCascade), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CascadesTotal.WithLabelValues("leaf-a", "leaf", "token_interaction_required")))
	assert.True(t, f.coord.InFlight())
}

func TestForceLogout_Leaf(t *testing.T) {
	f := newFixture(t, RoleLeaf, "http://leaf.local/")
	f.seed(t)
	ctx := context.Background()

	navigated, err := f.sync.ForceLogout(ctx, "probe_interaction_required")
	require.NoError(t, err)
	assert.True(t, navigated)

	last, _ := f.tab.Last()
	assert.Equal(t, navigation.Navigation{Kind: navigation.KindAssign, Target: "http://hub.local/?logout=true"}, last)

	_, ok, err := f.store.Local.Get(ctx, "oidc.account")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CascadesTotal.WithLabelValues("leaf-a", "leaf", "probe_interaction_required")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.StorageEntriesCleared.WithLabelValues("leaf-a")))
	events := f.audit.OfType(audit.EventTypeSessionCascade)
	require.Len(t, events, 1)
	assert.Equal(t, "http://leaf.local", events[0].Origin)
}

func TestForceLogout_HubReloadsInPlace(t *testing.T) {
	f := newFixture(t, RoleHub, hubURL)

	navigated, err := f.sync.ForceLogout(context.Background(), "token_interaction_required")
	require.NoError(t, err)
	assert.True(t, navigated)

	last, _ := f.tab.Last()
	assert.Equal(t, navigation.KindReload, last.Kind)
	assert.Equal(t, hubURL, last.Target)
}

func TestForceLogout_ConcurrentCallersNavigateOnce(t *testing.T) {
	f := newFixture(t, RoleLeaf, "http://leaf.local/")
	ctx := context.Background()

	var wg sync.WaitGroup
	var navigated atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.sync.ForceLogout(ctx, "token_interaction_required")
			assert.NoError(t, err)
			if ok {
				navigated.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), navigated.Load())
	assert.Equal(t, 1, f.tab.NavigationsAway())
	assert.Len(t, f.audit.OfType(audit.EventTypeSessionCascade), 1)
	assert.Equal(t, 15.0, testutil.ToFloat64(f.metrics.RedirectsSuppressed.WithLabelValues("leaf-a")))
}
