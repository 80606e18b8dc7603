package identity

import (
	"context"
	"time"
)

// Account holds the identity facts returned by the provider
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
	TenantID    string `json:"tenant_id,omitempty"`
}

// Token is the result of a silent token acquisition
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      []string  `json:"scopes,omitempty"`
}

// Prompt controls how much interaction a login may present
type Prompt string

const (
	// PromptDefault lets the provider decide
	PromptDefault Prompt = ""
	// PromptNone asks the provider to complete silently against an existing session
	PromptNone Prompt = "none"
	// PromptSelectAccount forces the account picker
	PromptSelectAccount Prompt = "select_account"
	// PromptLogin forces credential entry
	PromptLogin Prompt = "login"
)

// LoginOptions parameterizes a login redirect
type LoginOptions struct {
	Prompt    Prompt
	LoginHint string
	// ReturnTo is where the app should land after the redirect returns
	ReturnTo string
}

// EventType identifies an asynchronous provider notification
type EventType string

const (
	EventLoginSucceeded  EventType = "login_succeeded"
	EventLogoutSucceeded EventType = "logout_succeeded"
)

// Event is delivered on the Client's event stream
type Event struct {
	Type    EventType
	Account *Account
}

// Client is the identity provider boundary used by the session core.
//
// Login and Logout are expected to navigate away from the current app
// instance; a nil return means the navigation was issued.
type Client interface {
	// Login starts a login redirect.
	Login(ctx context.Context, opts LoginOptions) error

	// Logout starts a provider logout, landing on postLogoutURL afterwards.
	Logout(ctx context.Context, postLogoutURL string) error

	// AcquireTokenSilent returns an access token for account without interaction.
	AcquireTokenSilent(ctx context.Context, account Account, forceRefresh bool) (*Token, error)

	// ProbeSession succeeds iff the provider still recognizes an active session.
	ProbeSession(ctx context.Context, loginHint string) error

	// HandleRedirectReturn completes an in-flight redirect. It returns nil, nil
	// when the current location is not a redirect return.
	HandleRedirectReturn(ctx context.Context) (*Account, error)

	// ActiveAccount returns the cached account, or nil when none is cached.
	ActiveAccount(ctx context.Context) (*Account, error)

	// Events returns the provider's notification stream.
	Events() <-chan Event
}
