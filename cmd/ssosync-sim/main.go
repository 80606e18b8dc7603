package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ssosync/pkg/async"
	"github.com/platinummonkey/ssosync/pkg/audit"
	"github.com/platinummonkey/ssosync/pkg/crossapp"
	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/identity/memidp"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

// Config holds the simulator configuration
type Config struct {
	HubURL   string
	Leaves   int
	Workers  int
	Timeout  time.Duration
	LogLevel string
	Verbose  bool
}

// Summary is what one simulated browser session produced
type Summary struct {
	LeavesSignedIn int
	Cascades       int
	SignalsHandled int
	HubSignedOut   bool
	ProviderCalls  int
}

// Simulates one browser across a hub and several leaves against an
// in-memory provider: sign in on the hub, let the leaves sign in silently,
// end the provider session and follow the cascade back to the hub.
func main() {
	config := parseFlags()
	logger := setupLogger(config.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	summary, err := run(ctx, config, logger)
	if err != nil {
		logger.Fatalf("Simulation failed: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"leaves_signed_in": summary.LeavesSignedIn,
		"cascades":         summary.Cascades,
		"signals_handled":  summary.SignalsHandled,
		"hub_signed_out":   summary.HubSignedOut,
		"provider_calls":   summary.ProviderCalls,
	}).Info("Simulation complete")
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.HubURL, "hub", "http://localhost:3000/", "Hub URL")
	flag.IntVar(&config.Leaves, "leaves", 3, "Number of leaf apps")
	flag.IntVar(&config.Workers, "workers", 4, "Leaves loaded concurrently")
	flag.DurationVar(&config.Timeout, "timeout", 10*time.Second, "Timeout per page load")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&config.Verbose, "v", false, "Also print session logs")

	flag.Parse()

	return config
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// leafOrigins returns n leaf origins on localhost ports after the hub's
func leafOrigins(n int) []string {
	origins := make([]string, n)
	for i := range origins {
		origins[i] = fmt.Sprintf("http://localhost:%d/", 3001+i)
	}
	return origins
}

func run(ctx context.Context, config *Config, logger *logrus.Logger) (*Summary, error) {
	var sessionLogs io.Writer = io.Discard
	if config.Verbose {
		sessionLogs = os.Stderr
	}
	w := &world{
		hubURL:   config.HubURL,
		provider: memidp.NewProvider(identity.Account{ID: "sim-user", Username: "sim@example.com", DisplayName: "Sim User"}),
		metrics:  observability.NopRecorder{},
		audit:    audit.NewMemoryLogger(),
		logger:   observability.NewLogger(observability.ParseLogLevel(config.LogLevel), sessionLogs),
		stores:   make(map[string]*storage.Adapter),
	}

	// Interactive sign-in on the hub
	hub, err := w.open(ctx, config.HubURL)
	if err != nil {
		return nil, err
	}
	if err := hub.machine.Login(ctx); err != nil {
		return nil, fmt.Errorf("hub login: %w", err)
	}
	hub, hops, err := w.settle(ctx, hub)
	if err != nil {
		return nil, err
	}
	if !hub.machine.State().Authenticated() {
		return nil, fmt.Errorf("hub did not sign in: %s", hub.machine.State().Status)
	}
	hub.machine.Close()
	logger.WithField("hops", hops).Info("Hub signed in")

	// Leaves sign in silently against the provider session
	origins := leafOrigins(config.Leaves)
	var (
		mu     sync.Mutex
		leaves = make(map[string]*page)
	)
	errs := async.Batch(ctx, origins, config.Workers, "leaf sign-in", config.Timeout, func(ctx context.Context, origin string) error {
		p, hops, err := w.visit(ctx, origin)
		if err != nil {
			return err
		}
		if st := p.machine.State(); !st.Authenticated() {
			return fmt.Errorf("%s did not sign in: %s", origin, st.Status)
		}
		logger.WithFields(logrus.Fields{"leaf": origin, "hops": len(hops)}).Debug("Leaf signed in")
		mu.Lock()
		leaves[origin] = p
		mu.Unlock()
		return nil
	})
	if len(errs) > 0 {
		return nil, fmt.Errorf("leaf sign-in: %w", errors.Join(errs...))
	}
	logger.Infof("%d leaves signed in silently", len(leaves))

	// The provider session ends; every leaf asks for a fresh token
	w.provider.EndSession()
	errs = async.Batch(ctx, origins, config.Workers, "token refresh", config.Timeout, func(ctx context.Context, origin string) error {
		p := leaves[origin]
		token, err := p.machine.AccessToken(ctx, true)
		if err != nil {
			return err
		}
		if token != "" || !p.machine.Terminated() {
			return fmt.Errorf("%s kept its session after the provider ended it", origin)
		}
		return nil
	})
	if len(errs) > 0 {
		return nil, fmt.Errorf("token refresh: %w", errors.Join(errs...))
	}

	// The browser follows the first leaf's navigation back to the hub
	sort.Strings(origins)
	landed, hops, err := w.settle(ctx, leaves[origins[0]])
	if err != nil {
		return nil, err
	}
	defer landed.machine.Close()
	for _, origin := range origins[1:] {
		leaves[origin].machine.Close()
	}
	logger.WithField("hops", hops).Info("Cascade reached the hub")

	return &Summary{
		LeavesSignedIn: len(leaves),
		Cascades:       len(w.audit.OfType(audit.EventTypeSessionCascade)),
		SignalsHandled: len(w.audit.OfType(audit.EventTypeSessionSignalHandled)),
		HubSignedOut:   landed.machine.Role() == crossapp.RoleHub && !landed.machine.State().Authenticated(),
		ProviderCalls:  w.provider.TotalCalls(),
	}, nil
}
