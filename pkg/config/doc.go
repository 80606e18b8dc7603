// Package config loads application configuration from defaults, an optional
// YAML file and environment variables.
//
// Environment variables win over the file, and the file wins over defaults.
//
// App settings:
//
//	SSOSYNC_APP_NAME="reports"
//	SSOSYNC_ROLE="leaf"                # hub or leaf
//	SSOSYNC_HUB_URL="http://localhost:3000"
//	SSOSYNC_PUBLIC_URL="http://localhost:3001"
//	SSOSYNC_STORAGE_PREFIX="oidc."
//
// Identity settings:
//
//	SSOSYNC_OIDC_PROVIDER="azuread"    # azuread, okta, google, generic
//	SSOSYNC_OIDC_CLIENT_ID="..."
//	SSOSYNC_OIDC_ISSUER_URL="https://login.microsoftonline.com/organizations/v2.0"
//	SSOSYNC_OIDC_SCOPES="openid profile email offline_access User.Read"
//
// Storage settings:
//
//	SSOSYNC_STORAGE_BACKEND="redis"    # memory or redis
//	SSOSYNC_REDIS_URL="redis://localhost:6379/0"
//	SSOSYNC_SESSION_TTL="10m"
//
// Observability settings:
//
//	SSOSYNC_LOG_LEVEL="info"
//	SSOSYNC_METRICS_ENABLED="true"
//	SSOSYNC_OTEL_ENABLED="true"
//	SSOSYNC_OTEL_ENDPOINT="otel-collector:4317"
//
// The same keys are accepted in YAML under app, server, storage, identity,
// observability and audit, with the file path in SSOSYNC_CONFIG_FILE.
package config
