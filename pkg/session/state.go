package session

import (
	"errors"
	"time"

	"github.com/platinummonkey/ssosync/pkg/identity"
)

// Status is the authentication status of one instance
type Status int

const (
	StatusUnauthenticated Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusValidating
	StatusInvalidated
)

var statusNames = map[Status]string{
	StatusUnauthenticated: "unauthenticated",
	StatusAuthenticating:  "authenticating",
	StatusAuthenticated:   "authenticated",
	StatusValidating:      "validating",
	StatusInvalidated:     "invalidated",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return errors.New("unknown session status: " + string(text))
}

// State is a snapshot of an instance's session
type State struct {
	Status          Status            `json:"status"`
	Account         *identity.Account `json:"account,omitempty"`
	LastValidatedAt *time.Time        `json:"last_validated_at,omitempty"`
}

// Authenticated reports whether the snapshot carries a usable account
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Account != nil
}

func (s State) clone() State {
	out := State{Status: s.Status}
	if s.Account != nil {
		a := *s.Account
		out.Account = &a
	}
	if s.LastValidatedAt != nil {
		t := *s.LastValidatedAt
		out.LastValidatedAt = &t
	}
	return out
}
