package crossapp

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Role selects hub or leaf behavior
type Role string

const (
	// RoleHub is the catalogue app that consumes logout signals
	RoleHub Role = "hub"
	// RoleLeaf is any other app; it signs in silently and signals the hub on logout
	RoleLeaf Role = "leaf"
)

// DefaultLogoutParam is the query parameter carrying the logout signal
const DefaultLogoutParam = "logout"

// DefaultHubURL is the hub location used when none is configured
const DefaultHubURL = "http://localhost:3000"

var (
	// ErrInvalidRole is returned for a role other than hub or leaf
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidHubURL is returned when the hub URL is not absolute
	ErrInvalidHubURL = errors.New("invalid hub url")
)

// ParseRole maps a config string to a Role
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleHub:
		return RoleHub, nil
	case RoleLeaf:
		return RoleLeaf, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Config describes one app's place in the topology
type Config struct {
	// App names the instance in logs, metrics and audit events
	App    string
	Role   Role
	HubURL string
	// LogoutParam defaults to DefaultLogoutParam
	LogoutParam string
}

// Validate checks the role and hub URL and fills defaults
func (c *Config) Validate() error {
	if c.Role != RoleHub && c.Role != RoleLeaf {
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	if c.HubURL == "" {
		c.HubURL = DefaultHubURL
	}
	u, err := url.Parse(c.HubURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHubURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidHubURL, c.HubURL)
	}
	if c.LogoutParam == "" {
		c.LogoutParam = DefaultLogoutParam
	}
	if c.App == "" {
		c.App = string(c.Role)
	}
	return nil
}
