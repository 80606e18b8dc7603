package main

import (
	"context"
	"flag"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ssosync/pkg/audit"
	"github.com/platinummonkey/ssosync/pkg/config"
	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/storage"
	"github.com/platinummonkey/ssosync/pkg/webapp"
)

// Hosts one hub or leaf app. Configuration comes from SSOSYNC_* variables
// and the optional file named by SSOSYNC_CONFIG_FILE.
func main() {
	configFile := flag.String("config", "", "YAML config file (overrides "+config.ConfigFileEnv+")")
	flag.Parse()

	boot := setupLogger()
	if *configFile != "" {
		os.Setenv(config.ConfigFileEnv, *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		boot.SetLevel(level)
	}
	boot.WithFields(logrus.Fields{
		"app":     cfg.App.Name,
		"role":    cfg.App.Role,
		"storage": cfg.Storage.Backend,
	}).Info("Starting ssosync app")

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithFields(map[string]interface{}{
		"service": cfg.Observability.OTelServiceName,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		boot.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	recorder := observability.MultiRecorder{metrics}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			boot.Fatalf("Failed to create OpenTelemetry metrics: %v", err)
		}
		recorder = append(recorder, otelMetrics)
	}

	var redisClient redis.UniversalClient
	if cfg.Storage.Backend == "redis" {
		client, err := storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			boot.Fatalf("Failed to connect to redis: %v", err)
		}
		redisClient = client
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return client.Close()
		})
		boot.Infof("Storing credentials in redis at %s", cfg.Storage.RedisURL)
	}

	var auditLogger audit.Logger = audit.NoOpLogger{}
	if cfg.Audit.Enabled {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.Audit.Path
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			boot.Fatalf("Failed to open audit log: %v", err)
		}
		sinks := []audit.Logger{fileLogger, audit.NewLogLogger(logger.WithField("component", "audit"))}
		multi := audit.NewMultiLogger(sinks, audit.WithErrorLogger(logger))
		auditLogger = multi
		shutdown.RegisterShutdownFunc("audit", func(context.Context) error {
			return multi.Close()
		})
	}

	provider, err := identity.NewOIDCProvider(ctx, &cfg.Identity)
	if err != nil {
		boot.Fatalf("Failed to initialize identity provider: %v", err)
	}

	health := observability.NewHealthChecker(cfg.Observability.OTelServiceVersion, redisClient)
	health.AddCheck("oidc_discovery", false, provider.Ping)

	server, err := webapp.NewServer(webapp.Options{
		Config: cfg,
		Identity: func(store *storage.Adapter, nav navigation.Navigator) identity.Client {
			return provider.NewClient(store, nav)
		},
		Redis:    redisClient,
		Logger:   logger,
		Metrics:  metrics,
		Registry: registry,
		Recorder: recorder,
		Audit:    auditLogger,
		Health:   health,
	})
	if err != nil {
		boot.Fatalf("Failed to create server: %v", err)
	}
	for _, srv := range server.Servers() {
		shutdown.RegisterServer(srv)
	}

	go func() {
		if err := server.Run(ctx); err != nil {
			boot.Errorf("Server stopped: %v", err)
		}
		cancel()
	}()

	boot.Infof("Serving %s on :%s (health on :%s)", cfg.App.PublicURL, cfg.Server.Port, cfg.Server.HealthPort)
	if err := shutdown.WaitForShutdown(ctx); err != nil {
		boot.Errorf("Shutdown finished with errors: %v", err)
		os.Exit(1)
	}
	boot.Info("Stopped")
}

func setupLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}
