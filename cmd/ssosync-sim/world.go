package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/platinummonkey/ssosync/pkg/audit"
	"github.com/platinummonkey/ssosync/pkg/crossapp"
	"github.com/platinummonkey/ssosync/pkg/identity/memidp"
	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/redirect"
	"github.com/platinummonkey/ssosync/pkg/session"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

// maxHops bounds how many page loads one visit may chain
const maxHops = 10

// world is one browser: per-origin storage that survives page loads and a
// single provider shared by every origin
type world struct {
	hubURL   string
	provider *memidp.Provider
	metrics  observability.SessionRecorder
	audit    *audit.MemoryLogger
	logger   *observability.Logger

	mu     sync.Mutex
	stores map[string]*storage.Adapter
}

// page is one mounted app instance
type page struct {
	machine *session.Machine
	tab     *navigation.Tab
}

func (w *world) store(origin string) *storage.Adapter {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.stores[origin]; ok {
		return s
	}
	s := storage.NewMemoryAdapter(storage.DefaultPrefix)
	w.stores[origin] = s
	return s
}

// appName names an origin after its host's first label and its port
func appName(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return origin
	}
	name := strings.SplitN(u.Hostname(), ".", 2)[0]
	if port := u.Port(); port != "" {
		name += "-" + port
	}
	return name
}

// open loads rawURL in a fresh page and mounts it
func (w *world) open(ctx context.Context, rawURL string) (*page, error) {
	tab, err := navigation.NewTab(rawURL)
	if err != nil {
		return nil, err
	}
	origin := navigation.Origin(tab.Location())
	hub, err := url.Parse(w.hubURL)
	if err != nil {
		return nil, err
	}
	role := crossapp.RoleLeaf
	if origin == navigation.Origin(hub) {
		role = crossapp.RoleHub
	}
	app := appName(origin)

	store := w.store(origin)
	coord := redirect.New(func() { w.metrics.RedirectSuppressed(app) })
	client := w.provider.NewClient(origin+"/auth/callback", store, tab)
	logger := w.logger.WithField("page", rawURL)

	synchronizer, err := crossapp.New(crossapp.Config{App: app, Role: role, HubURL: w.hubURL},
		client, store, tab, coord,
		crossapp.WithLogger(logger),
		crossapp.WithMetrics(w.metrics),
		crossapp.WithAudit(w.audit),
	)
	if err != nil {
		return nil, err
	}
	m, err := session.New(session.Options{
		Identity:     client,
		Storage:      store,
		Navigator:    tab,
		Coordinator:  coord,
		Synchronizer: synchronizer,
		Logger:       logger,
		Metrics:      w.metrics,
		Audit:        w.audit,
	})
	if err != nil {
		return nil, err
	}
	if err := m.Mount(ctx); err != nil {
		logger.WithError(err).Warn("mount finished with errors")
	}
	return &page{machine: m, tab: tab}, nil
}

// settle follows p's navigations until a page stays put. History
// replacement is not a page load.
func (w *world) settle(ctx context.Context, p *page) (*page, []string, error) {
	var hops []string
	for i := 0; i < maxHops; i++ {
		last, ok := p.tab.Last()
		if !ok || last.Kind == navigation.KindReplace {
			return p, hops, nil
		}
		p.machine.Close()
		hops = append(hops, last.Target)
		next, err := w.open(ctx, last.Target)
		if err != nil {
			return nil, hops, err
		}
		p = next
	}
	return nil, hops, fmt.Errorf("no stable page after %d hops: %v", maxHops, hops)
}

// visit opens rawURL and settles it
func (w *world) visit(ctx context.Context, rawURL string) (*page, []string, error) {
	p, err := w.open(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	return w.settle(ctx, p)
}
