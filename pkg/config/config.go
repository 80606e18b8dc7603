package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ssosync/pkg/crossapp"
	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

// ConfigFileEnv names the optional YAML file applied before environment overrides
const ConfigFileEnv = "SSOSYNC_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	App           AppConfig           `yaml:"app"`
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Identity      identity.OIDCConfig `yaml:"identity"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
}

// AppConfig places this app in the hub/leaf topology
type AppConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	// HubURL is where leaves send the logout signal
	HubURL string `yaml:"hub_url"`
	// PublicURL is this app's own externally visible base URL
	PublicURL     string `yaml:"public_url"`
	LogoutParam   string `yaml:"logout_param"`
	StoragePrefix string `yaml:"storage_prefix"`
	LoginHint     string `yaml:"login_hint"`
	CookieName    string `yaml:"cookie_name"`
	CookieSecure  bool   `yaml:"cookie_secure"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// AuditConfig controls the JSON-lines audit trail
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// ParsedRole returns the app role
func (a AppConfig) ParsedRole() (crossapp.Role, error) {
	return crossapp.ParseRole(a.Role)
}

// Crossapp returns the synchronizer configuration
func (c *Config) Crossapp() (crossapp.Config, error) {
	role, err := c.App.ParsedRole()
	if err != nil {
		return crossapp.Config{}, err
	}
	return crossapp.Config{
		App:         c.App.Name,
		Role:        role,
		HubURL:      c.App.HubURL,
		LogoutParam: c.App.LogoutParam,
	}, nil
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:          "hub",
			Role:          string(crossapp.RoleHub),
			HubURL:        crossapp.DefaultHubURL,
			PublicURL:     crossapp.DefaultHubURL,
			LogoutParam:   crossapp.DefaultLogoutParam,
			StoragePrefix: storage.DefaultPrefix,
			CookieName:    "ssosync_bid",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "3000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Identity: identity.OIDCConfig{
			Provider: identity.ProviderAzureAD,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "ssosync",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
		Audit: AuditConfig{
			Path: "/var/log/ssosync/audit",
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by SSOSYNC_CONFIG_FILE and SSOSYNC_* environment variables, in that
// order, then validates it
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	loadAppConfig(&cfg.App)
	loadServerConfig(&cfg.Server)
	loadStorageConfig(&cfg.Storage)
	loadIdentityConfig(&cfg.Identity)
	loadObservabilityConfig(&cfg.Observability)
	loadAuditConfig(&cfg.Audit)

	if err := cfg.applyIdentityDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto c
func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadAppConfig(cfg *AppConfig) {
	cfg.Name = getEnv("SSOSYNC_APP_NAME", cfg.Name)
	cfg.Role = getEnv("SSOSYNC_ROLE", cfg.Role)
	cfg.HubURL = getEnv("SSOSYNC_HUB_URL", cfg.HubURL)
	cfg.PublicURL = getEnv("SSOSYNC_PUBLIC_URL", cfg.PublicURL)
	cfg.LogoutParam = getEnv("SSOSYNC_LOGOUT_PARAM", cfg.LogoutParam)
	cfg.StoragePrefix = getEnv("SSOSYNC_STORAGE_PREFIX", cfg.StoragePrefix)
	cfg.LoginHint = getEnv("SSOSYNC_LOGIN_HINT", cfg.LoginHint)
	cfg.CookieName = getEnv("SSOSYNC_COOKIE_NAME", cfg.CookieName)
	cfg.CookieSecure = getEnvBool("SSOSYNC_COOKIE_SECURE", cfg.CookieSecure)
}

func loadServerConfig(cfg *ServerConfig) {
	cfg.Host = getEnv("SSOSYNC_HOST", cfg.Host)
	cfg.Port = getEnv("SSOSYNC_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("SSOSYNC_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("SSOSYNC_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("SSOSYNC_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration("SSOSYNC_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.HealthPort = getEnv("SSOSYNC_HEALTH_PORT", cfg.HealthPort)
}

func loadStorageConfig(cfg *storage.Config) {
	cfg.Backend = getEnv("SSOSYNC_STORAGE_BACKEND", cfg.Backend)

	cfg.RedisURL = getEnv("SSOSYNC_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("SSOSYNC_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("SSOSYNC_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("SSOSYNC_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("SSOSYNC_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.RedisTTL = getEnvDuration("SSOSYNC_REDIS_TTL", cfg.RedisTTL)

	cfg.SessionTTL = getEnvDuration("SSOSYNC_SESSION_TTL", cfg.SessionTTL)
	if size := getEnvInt("SSOSYNC_SESSION_SIZE", 0); size > 0 {
		cfg.SessionSize = size
	}
}

func loadIdentityConfig(cfg *identity.OIDCConfig) {
	cfg.Provider = identity.ProviderName(getEnv("SSOSYNC_OIDC_PROVIDER", string(cfg.Provider)))
	cfg.IssuerURL = getEnv("SSOSYNC_OIDC_ISSUER_URL", cfg.IssuerURL)
	cfg.ClientID = getEnv("SSOSYNC_OIDC_CLIENT_ID", cfg.ClientID)
	cfg.ClientSecret = getEnv("SSOSYNC_OIDC_CLIENT_SECRET", cfg.ClientSecret)
	cfg.RedirectURL = getEnv("SSOSYNC_OIDC_REDIRECT_URL", cfg.RedirectURL)
	cfg.Scopes = getEnvList("SSOSYNC_OIDC_SCOPES", cfg.Scopes)
	cfg.APIScopes = getEnvList("SSOSYNC_OIDC_API_SCOPES", cfg.APIScopes)
	cfg.SkipIssuerCheck = getEnvBool("SSOSYNC_OIDC_SKIP_ISSUER_CHECK", cfg.SkipIssuerCheck)
}

func loadObservabilityConfig(cfg *ObservabilityConfig) {
	cfg.LogLevel = getEnv("SSOSYNC_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsEnabled = getEnvBool("SSOSYNC_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTelEnabled = getEnvBool("SSOSYNC_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("SSOSYNC_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("SSOSYNC_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv("SSOSYNC_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelInsecure = getEnvBool("SSOSYNC_OTEL_INSECURE", cfg.OTelInsecure)
}

func loadAuditConfig(cfg *AuditConfig) {
	cfg.Enabled = getEnvBool("SSOSYNC_AUDIT_ENABLED", cfg.Enabled)
	cfg.Path = getEnv("SSOSYNC_AUDIT_PATH", cfg.Path)
}

// applyIdentityDefaults fills blanks from the provider preset and derives
// the redirect URL and API scope from the app settings
func (c *Config) applyIdentityDefaults() error {
	preset, err := identity.PresetConfig(c.Identity.Provider)
	if err != nil {
		return err
	}
	id := &c.Identity
	if id.IssuerURL == "" {
		id.IssuerURL = preset.IssuerURL
	}
	if len(id.Scopes) == 0 {
		id.Scopes = preset.Scopes
	}
	if id.Claims == (identity.ClaimMapping{}) {
		id.Claims = preset.Claims
	}
	if preset.SkipIssuerCheck {
		id.SkipIssuerCheck = true
	}
	if id.RedirectURL == "" && c.App.PublicURL != "" {
		id.RedirectURL = strings.TrimSuffix(c.App.PublicURL, "/") + "/auth/callback"
	}
	if len(id.APIScopes) == 0 && id.Provider == identity.ProviderAzureAD && id.ClientID != "" {
		id.APIScopes = []string{identity.DefaultAPIScope(id.ClientID)}
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if _, err := c.App.ParsedRole(); err != nil {
		return err
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	for name, raw := range map[string]string{"hub url": c.App.HubURL, "public url": c.App.PublicURL} {
		if err := requireAbsolute(name, raw); err != nil {
			return err
		}
	}
	if c.App.StoragePrefix == "" {
		return fmt.Errorf("storage prefix is required")
	}
	if c.App.CookieName == "" {
		return fmt.Errorf("cookie name is required")
	}

	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or redis)", c.Storage.Backend)
	}

	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit path is required when audit is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func requireAbsolute(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be absolute: %s", name, raw)
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a space or comma separated variable, or returns the default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
}
