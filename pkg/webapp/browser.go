package webapp

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

// maxBrowsers bounds the in-memory backend
const maxBrowsers = 10000

// browserIDMiddleware makes sure every request carries a browser id cookie
func (s *Server) browserIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(s.cfg.App.CookieName); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     s.cfg.App.CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.cfg.App.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(observability.WithBrowserID(r.Context(), id)))
	})
}

// requestCookies is the cookie surface of one request. Expired cookies are
// written to the response.
type requestCookies struct {
	r      *http.Request
	w      http.ResponseWriter
	secure bool

	mu      sync.Mutex
	expired map[string]bool
}

var _ storage.CookieStore = (*requestCookies)(nil)

func newRequestCookies(w http.ResponseWriter, r *http.Request, secure bool) *requestCookies {
	return &requestCookies{r: r, w: w, secure: secure, expired: make(map[string]bool)}
}

func (c *requestCookies) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool)
	var names []string
	for _, ck := range c.r.Cookies() {
		if c.expired[ck.Name] || seen[ck.Name] {
			continue
		}
		seen[ck.Name] = true
		names = append(names, ck.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *requestCookies) Expire(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired[name] {
		return nil
	}
	c.expired[name] = true
	http.SetCookie(c.w, &http.Cookie{
		Name:    name,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
		Secure:  c.secure,
	})
	return nil
}

// browserTiers are the in-memory tiers of one browser
type browserTiers struct {
	local   *storage.MemoryStore
	session *storage.EphemeralStore
}

// memoryBackend keeps per-browser tiers in process memory
type memoryBackend struct {
	mu       sync.Mutex
	browsers *expirable.LRU[string, *browserTiers]
	cfg      storage.Config
}

func newMemoryBackend(cfg storage.Config) *memoryBackend {
	return &memoryBackend{
		browsers: expirable.NewLRU[string, *browserTiers](maxBrowsers, nil, 0),
		cfg:      cfg,
	}
}

func (m *memoryBackend) tiers(browserID string) *browserTiers {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.browsers.Get(browserID); ok {
		return t
	}
	t := &browserTiers{
		local:   storage.NewMemoryStore(),
		session: storage.NewEphemeralStore(m.cfg.SessionSize, m.cfg.SessionTTL),
	}
	m.browsers.Add(browserID, t)
	return t
}

// adapter builds the storage adapter of one request
func (s *Server) adapter(w http.ResponseWriter, r *http.Request) *storage.Adapter {
	browserID := observability.GetBrowserID(r.Context())
	a := &storage.Adapter{
		Cookies: newRequestCookies(w, r, s.cfg.App.CookieSecure),
		Prefix:  s.cfg.App.StoragePrefix,
	}
	if s.redis != nil {
		a.Local = storage.NewRedisStore(s.redis, storage.Namespace(s.origin, browserID, storage.TierLocal), s.cfg.Storage.RedisTTL)
		a.Session = storage.NewRedisStore(s.redis, storage.Namespace(s.origin, browserID, storage.TierSession), s.cfg.Storage.SessionTTL)
		return a
	}
	t := s.memory.tiers(browserID)
	a.Local, a.Session = t.local, t.session
	return a
}
