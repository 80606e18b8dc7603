package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Kind classifies provider failures
type Kind int

const (
	// KindUnknown is anything the classifier could not place
	KindUnknown Kind = iota
	// KindInteractionRequired means the provider has no valid session for the account
	KindInteractionRequired
	// KindTransientNetwork means a network or timeout error talking to the provider
	KindTransientNetwork
	// KindConfiguration means the client setup is malformed
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindInteractionRequired:
		return "interaction_required"
	case KindTransientNetwork:
		return "transient_network"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

var (
	// ErrNoAccount is returned when an operation needs a cached account and there is none
	ErrNoAccount = errors.New("no cached account")
	// ErrStateMismatch is returned when a redirect return carries an unexpected state
	ErrStateMismatch = errors.New("redirect state mismatch")
)

// Error is a classified provider failure
type Error struct {
	Kind Kind
	Op   string
	// Code is the provider's error code when one was returned (e.g. "login_required")
	Code string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error
func NewError(kind Kind, op, code string, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// InteractionRequired is shorthand for a KindInteractionRequired error
func InteractionRequired(op, code string) *Error {
	return NewError(KindInteractionRequired, op, code, nil)
}

// ConfigurationError is shorthand for a KindConfiguration error
func ConfigurationError(op string, err error) *Error {
	return NewError(KindConfiguration, op, "", err)
}

// KindOf returns the kind of a classified error, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsInteractionRequired reports whether err means the provider session is gone
func IsInteractionRequired(err error) bool {
	return KindOf(err) == KindInteractionRequired
}

// sessionGoneMarkers are provider error fragments meaning no session exists.
// AADSTS50058: no user signed in. AADSTS160021: user session does not exist.
var sessionGoneMarkers = []string{
	"interaction_required",
	"login_required",
	"consent_required",
	"AADSTS50058",
	"AADSTS160021",
}

var configurationCodes = map[string]bool{
	"invalid_client":            true,
	"unauthorized_client":       true,
	"invalid_request":           true,
	"invalid_scope":             true,
	"unsupported_grant_type":    true,
	"unsupported_response_type": true,
}

// Classify maps a raw error from an identity call into a classified *Error.
// Already classified errors are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return classifyRetrieveError(op, retrieveErr)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTransientNetwork, op, "", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(KindTransientNetwork, op, "", err)
	}

	if code := sessionGoneMarker(err.Error()); code != "" {
		return NewError(KindInteractionRequired, op, code, err)
	}

	return NewError(KindUnknown, op, "", err)
}

func classifyRetrieveError(op string, re *oauth2.RetrieveError) error {
	code := re.ErrorCode
	text := code + " " + re.ErrorDescription
	if code == "" {
		text += " " + string(re.Body)
	}

	if marker := sessionGoneMarker(text); marker != "" {
		if code == "" {
			code = marker
		}
		return NewError(KindInteractionRequired, op, code, re)
	}
	// A refresh token the provider no longer honours means its session is gone.
	if code == "invalid_grant" {
		return NewError(KindInteractionRequired, op, code, re)
	}
	if configurationCodes[code] {
		return NewError(KindConfiguration, op, code, re)
	}
	if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
		return NewError(KindTransientNetwork, op, code, re)
	}
	if re.Response != nil && re.Response.StatusCode == http.StatusTooManyRequests {
		return NewError(KindTransientNetwork, op, code, re)
	}
	return NewError(KindUnknown, op, code, re)
}

func sessionGoneMarker(text string) string {
	for _, marker := range sessionGoneMarkers {
		if strings.Contains(text, marker) {
			return marker
		}
	}
	return ""
}

// classifyRedirectError classifies an error returned on the redirect URI
// (error=...&error_description=...).
func classifyRedirectError(op, code, description string) error {
	text := code + " " + description
	if marker := sessionGoneMarker(text); marker != "" {
		return NewError(KindInteractionRequired, op, code, errors.New(description))
	}
	if configurationCodes[code] {
		return NewError(KindConfiguration, op, code, errors.New(description))
	}
	if code == "temporarily_unavailable" || code == "server_error" {
		return NewError(KindTransientNetwork, op, code, errors.New(description))
	}
	return NewError(KindUnknown, op, code, errors.New(description))
}
