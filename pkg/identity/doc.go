// Package identity defines the boundary to the external identity provider.
//
// # Overview
//
// The session core never talks to an OAuth/OIDC endpoint directly. It drives a
// [Client], which exposes request/response style calls (login, logout, silent
// token acquisition, session probing, redirect-return handling) plus a single
// event stream for "login succeeded" notifications.
//
// Every failure a Client returns is classified into one of three kinds:
//
//	KindInteractionRequired  the provider has no usable session; cascade a logout
//	KindTransientNetwork     network or timeout; log and retry on next user action
//	KindConfiguration        malformed client setup; fatal for the app instance
//
// Use [KindOf] or [IsInteractionRequired] to inspect an error.
//
// # Implementations
//
// [OIDCClient] talks to a real OpenID Connect provider (Azure AD / Entra ID,
// Okta, Google or any discovery-capable issuer) using go-oidc and x/oauth2.
// Package memidp provides an in-memory provider for tests and simulations.
//
// # Credential entries
//
// A Client owns every key it writes into the per-origin storage adapter and
// prefixes them with its storage prefix. The session core only ever clears all
// of them at once.
package identity
