package identity

import (
	"fmt"
	"strings"
)

// ProviderName identifies a provider preset
type ProviderName string

const (
	ProviderAzureAD ProviderName = "azuread"
	ProviderOkta    ProviderName = "okta"
	ProviderGoogle  ProviderName = "google"
	ProviderGeneric ProviderName = "generic"
)

// DefaultAuthority is the multi-tenant Entra ID authority
const DefaultAuthority = "https://login.microsoftonline.com/organizations/v2.0"

// ClaimMapping names the ID token claims that populate an Account
type ClaimMapping struct {
	UserID      string `yaml:"user_id"`
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	TenantID    string `yaml:"tenant_id"`
}

// OIDCConfig configures an OIDC provider
type OIDCConfig struct {
	Provider     ProviderName `yaml:"provider"`
	IssuerURL    string       `yaml:"issuer_url"`
	ClientID     string       `yaml:"client_id"`
	ClientSecret string       `yaml:"client_secret"`
	RedirectURL  string       `yaml:"redirect_url"`
	Scopes       []string     `yaml:"scopes"`
	// APIScopes are requested alongside Scopes so the access token is usable
	// against the app's backend
	APIScopes []string `yaml:"api_scopes"`
	// SkipIssuerCheck accepts tokens and discovery documents whose issuer
	// differs from IssuerURL, as multi-tenant authorities do
	SkipIssuerCheck bool         `yaml:"skip_issuer_check"`
	Claims          ClaimMapping `yaml:"claims"`
}

// PresetConfig returns the preset configuration for well-known providers
func PresetConfig(name ProviderName) (*OIDCConfig, error) {
	switch name {
	case ProviderAzureAD:
		return &OIDCConfig{
			Provider:        ProviderAzureAD,
			IssuerURL:       DefaultAuthority,
			Scopes:          []string{"openid", "profile", "email", "offline_access", "User.Read"},
			SkipIssuerCheck: true,
			Claims: ClaimMapping{
				UserID:      "oid",
				Username:    "preferred_username",
				DisplayName: "name",
				TenantID:    "tid",
			},
		}, nil

	case ProviderOkta:
		return &OIDCConfig{
			Provider: ProviderOkta,
			Scopes:   []string{"openid", "profile", "email", "offline_access"},
			Claims: ClaimMapping{
				UserID:      "sub",
				Username:    "preferred_username",
				DisplayName: "name",
			},
		}, nil

	case ProviderGoogle:
		return &OIDCConfig{
			Provider:  ProviderGoogle,
			IssuerURL: "https://accounts.google.com",
			Scopes:    []string{"openid", "profile", "email"},
			Claims: ClaimMapping{
				UserID:      "sub",
				Username:    "email",
				DisplayName: "name",
			},
		}, nil

	case ProviderGeneric, "":
		return &OIDCConfig{
			Provider: ProviderGeneric,
			Scopes:   []string{"openid", "profile", "email", "offline_access"},
			Claims: ClaimMapping{
				UserID:      "sub",
				Username:    "preferred_username",
				DisplayName: "name",
			},
		}, nil

	default:
		return nil, fmt.Errorf("no preset configuration for provider: %s", name)
	}
}

// DefaultAPIScope is the scope exposing an app registration's own API
func DefaultAPIScope(clientID string) string {
	return "api://" + clientID + "/access_as_user"
}

// Validate checks the configuration
func (c *OIDCConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}

	hasOpenID := false
	for _, scope := range c.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("'openid' scope is required for OIDC")
	}
	return nil
}

// requestScopes is Scopes followed by APIScopes, without duplicates
func (c *OIDCConfig) requestScopes() []string {
	seen := make(map[string]bool, len(c.Scopes)+len(c.APIScopes))
	var out []string
	for _, s := range append(append([]string{}, c.Scopes...), c.APIScopes...) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func claimString(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func (m ClaimMapping) account(subject string, claims map[string]interface{}) Account {
	a := Account{
		ID:          claimString(claims, m.UserID),
		Username:    claimString(claims, m.Username),
		DisplayName: claimString(claims, m.DisplayName),
		TenantID:    claimString(claims, m.TenantID),
	}
	if a.ID == "" {
		a.ID = subject
	}
	if a.Username == "" {
		a.Username = claimString(claims, "email")
	}
	if a.DisplayName == "" {
		a.DisplayName = a.Username
	}
	return a
}
