package webapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ssosync/pkg/audit"
	"github.com/platinummonkey/ssosync/pkg/config"
	"github.com/platinummonkey/ssosync/pkg/crossapp"
	"github.com/platinummonkey/ssosync/pkg/httputil"
	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

const defaultShutdownTimeout = 30 * time.Second

// ClientFactory binds an identity client to the storage and navigator of
// one request
type ClientFactory func(store *storage.Adapter, nav navigation.Navigator) identity.Client

// Options configures a Server
type Options struct {
	Config   *config.Config
	Identity ClientFactory

	// Redis selects the Redis backend when set; otherwise credentials are
	// kept in process memory
	Redis redis.UniversalClient

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	// Recorder receives session metrics; defaults to Metrics
	Recorder observability.SessionRecorder
	Audit    audit.Logger
	Health   *observability.HealthChecker
}

// Server hosts one app
type Server struct {
	cfg      *config.Config
	topology crossapp.Config
	origin   string
	public   *url.URL
	identity ClientFactory
	redis    redis.UniversalClient
	memory   *memoryBackend

	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry
	recorder observability.SessionRecorder
	auditor  audit.Logger
	health   *observability.HealthChecker

	router       *mux.Router
	healthRouter *mux.Router
	httpServer   *http.Server
	healthServer *http.Server
}

// NewServer creates a Server and its routes
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Identity == nil {
		return nil, errors.New("identity client factory is required")
	}
	syncCfg, err := opts.Config.Crossapp()
	if err != nil {
		return nil, err
	}
	if err := syncCfg.Validate(); err != nil {
		return nil, err
	}
	public, err := url.Parse(strings.TrimSuffix(opts.Config.App.PublicURL, "/"))
	if err != nil || public.Scheme == "" || public.Host == "" {
		return nil, fmt.Errorf("invalid public url: %q", opts.Config.App.PublicURL)
	}

	s := &Server{
		cfg:          opts.Config,
		topology:     syncCfg,
		origin:       navigation.Origin(public),
		public:       public,
		identity:     opts.Identity,
		redis:        opts.Redis,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		registry:     opts.Registry,
		recorder:     opts.Recorder,
		auditor:      opts.Audit,
		health:       opts.Health,
		router:       mux.NewRouter(),
		healthRouter: mux.NewRouter(),
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	if s.recorder == nil {
		if s.metrics != nil {
			s.recorder = s.metrics
		} else {
			s.recorder = observability.NopRecorder{}
		}
	}
	if s.auditor == nil {
		s.auditor = audit.NoOpLogger{}
	}
	if s.health == nil {
		s.health = observability.NewHealthChecker(opts.Config.Observability.OTelServiceVersion, s.redis)
	}
	if s.redis == nil {
		s.memory = newMemoryBackend(opts.Config.Storage)
	}
	s.logger = s.logger.WithFields(map[string]interface{}{
		"app":  syncCfg.App,
		"role": string(syncCfg.Role),
	})

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(opts.Config.Server.Host, opts.Config.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  opts.Config.Server.ReadTimeout,
		WriteTimeout: opts.Config.Server.WriteTimeout,
		IdleTimeout:  opts.Config.Server.IdleTimeout,
	}
	s.healthServer = &http.Server{
		Addr:         net.JoinHostPort(opts.Config.Server.Host, opts.Config.Server.HealthPort),
		Handler:      s.healthRouter,
		ReadTimeout:  opts.Config.Server.ReadTimeout,
		WriteTimeout: opts.Config.Server.WriteTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	// Page routes
	s.router.HandleFunc("/", s.home).Methods(http.MethodGet)
	s.router.HandleFunc("/auth/callback", s.home).Methods(http.MethodGet)
	s.router.HandleFunc("/login", s.login).Methods(http.MethodGet)
	s.router.HandleFunc("/logout", s.logout).Methods(http.MethodGet, http.MethodPost)

	// API routes
	s.router.HandleFunc("/api/token", s.token).Methods(http.MethodGet)
	s.router.HandleFunc("/api/session/validate", s.validate).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/api/session/check", s.check).Methods(http.MethodGet)

	// Health and metrics
	observability.RegisterHealthRoutes(s.healthRouter, s.health)
	if s.registry != nil {
		s.healthRouter.Handle("/metrics", observability.MetricsHandler(s.registry)).Methods(http.MethodGet)
	}
}

// Handler returns the app handler with the request middleware applied
func (s *Server) Handler() http.Handler {
	return httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		s.browserIDMiddleware,
	)(s.router)
}

// HealthHandler serves /healthz, /readyz and /metrics
func (s *Server) HealthHandler() http.Handler {
	return s.healthRouter
}

// Servers returns the app and health servers
func (s *Server) Servers() []*http.Server {
	return []*http.Server{s.httpServer, s.healthServer}
}

// Run serves the app and health ports until ctx is done or one of them
// fails, then shuts both down
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range s.Servers() {
		srv := srv
		g.Go(func() error {
			s.logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		var errs []error
		for _, srv := range s.Servers() {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
