package crossapp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/platinummonkey/ssosync/pkg/audit"
	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/redirect"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

// Signal outcomes recorded on the logout signal metric
const (
	SignalHandled    = "handled"
	SignalSuppressed = "suppressed"
	SignalFailed     = "failed"
)

// Synchronizer runs the cross-app half of one app instance. It holds the
// per-mount flags, so a fresh Synchronizer is needed for every page load.
type Synchronizer struct {
	config  Config
	idp     identity.Client
	store   *storage.Adapter
	nav     navigation.Navigator
	coord   *redirect.Coordinator
	logger  *observability.Logger
	metrics observability.SessionRecorder
	auditor audit.Logger

	handled        atomic.Bool
	loginTriggered atomic.Bool
}

// Option customizes a Synchronizer
type Option func(*Synchronizer)

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m observability.SessionRecorder) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithAudit sets the audit logger
func WithAudit(a audit.Logger) Option {
	return func(s *Synchronizer) { s.auditor = a }
}

// New creates a Synchronizer for one app instance
func New(cfg Config, idp identity.Client, store *storage.Adapter, nav navigation.Navigator, coord *redirect.Coordinator, opts ...Option) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if idp == nil || nav == nil || coord == nil {
		return nil, errors.New("crossapp: identity client, navigator and coordinator are required")
	}
	if err := store.Validate(); err != nil {
		return nil, err
	}

	s := &Synchronizer{
		config:  cfg,
		idp:     idp,
		store:   store,
		nav:     nav,
		coord:   coord,
		logger:  observability.NewNopLogger(),
		metrics: observability.NopRecorder{},
		auditor: audit.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(map[string]interface{}{
		"app":  cfg.App,
		"role": string(cfg.Role),
	})
	return s, nil
}

// Role returns the configured role
func (s *Synchronizer) Role() Role {
	return s.config.Role
}

// Config returns the validated configuration
func (s *Synchronizer) Config() Config {
	return s.config
}

// SignalURL is the hub URL carrying the logout signal. Existing query
// parameters on the hub URL are kept.
func (s *Synchronizer) SignalURL() string {
	u, err := navigation.WithParam(s.config.HubURL, s.config.LogoutParam, "true")
	if err != nil {
		// HubURL was parsed by Validate
		return s.config.HubURL
	}
	return u
}

// HasSignal reports whether the current location carries the logout signal
func (s *Synchronizer) HasSignal() bool {
	return navigation.HasParam(s.nav.Location(), s.config.LogoutParam, "true")
}

// HandleLogoutSignal consumes the logout signal on the hub. It clears
// storage, strips the parameter by replacing the history entry and reloads
// once. It reports whether the signal was consumed by this call; leaf apps,
// locations without the signal and repeat observations report false.
func (s *Synchronizer) HandleLogoutSignal(ctx context.Context) (bool, error) {
	if s.config.Role != RoleHub || !s.HasSignal() {
		return false, nil
	}
	if !s.handled.CompareAndSwap(false, true) {
		s.logger.Debug("logout signal already handled")
		return false, nil
	}

	s.logger.Info("logout signal received, clearing session")
	s.clear(ctx)

	stripped := navigation.WithoutParam(s.nav.Location(), s.config.LogoutParam).String()
	if err := s.nav.Replace(ctx, stripped); err != nil {
		s.metrics.LogoutSignal(s.config.App, SignalFailed)
		s.record(ctx, audit.EventTypeSessionSignalHandled, "strip logout signal", err)
		return true, fmt.Errorf("strip logout signal: %w", err)
	}

	reloaded, err := s.coord.Navigate(func() error {
		return s.nav.Reload(ctx)
	})
	switch {
	case err != nil:
		s.metrics.LogoutSignal(s.config.App, SignalFailed)
	case reloaded:
		s.metrics.LogoutSignal(s.config.App, SignalHandled)
	default:
		s.metrics.LogoutSignal(s.config.App, SignalSuppressed)
	}
	s.record(ctx, audit.EventTypeSessionSignalHandled, "logout signal consumed", err)
	if err != nil {
		return true, fmt.Errorf("reload after logout signal: %w", err)
	}
	return true, nil
}

// SilentSignIn asks the provider to sign the leaf in against an existing
// provider session without interaction. It runs at most once per instance
// and never while another navigation is in flight. It reports whether it
// navigated.
//
// When the login cannot even be started, the instance falls back to the hub
// (without the logout signal) and the login error is returned with its
// classification; unclassified failures are reported as configuration errors.
func (s *Synchronizer) SilentSignIn(ctx context.Context, loginHint string) (bool, error) {
	if s.config.Role != RoleLeaf {
		return false, nil
	}
	if s.coord.InFlight() {
		s.logger.Debug("redirect in flight, skipping silent sign-in")
		return false, nil
	}
	if !s.loginTriggered.CompareAndSwap(false, true) {
		return false, nil
	}

	opts := identity.LoginOptions{
		Prompt:    identity.PromptNone,
		LoginHint: loginHint,
		ReturnTo:  s.nav.Location().String(),
	}

	var loginErr error
	navigated, err := s.coord.Navigate(func() error {
		loginErr = s.idp.Login(ctx, opts)
		if loginErr == nil {
			return nil
		}
		s.logger.WithError(loginErr).Error("silent sign-in failed, returning to hub")
		return s.nav.Assign(ctx, s.config.HubURL)
	})
	if !navigated {
		return false, nil
	}
	if loginErr != nil {
		if identity.KindOf(loginErr) == identity.KindUnknown {
			loginErr = identity.ConfigurationError("silent_sign_in", loginErr)
		}
		return true, errors.Join(loginErr, err)
	}
	if err != nil {
		return true, err
	}
	s.logger.Debug("silent sign-in started")
	return true, nil
}

// ForceLogout clears this origin's credentials and propagates the logout:
// a leaf navigates to the hub with the logout signal, the hub reloads in
// place. Navigation goes through the coordinator, so concurrent callers
// issue one navigation between them. When another navigation holds the tab
// the cascade is left owed to it and runs if that holder releases without
// navigating. It reports whether this call navigated.
func (s *Synchronizer) ForceLogout(ctx context.Context, reason string) (bool, error) {
	s.clear(ctx)

	navigated, err := s.coord.NavigateOrOwe(func() error {
		return s.cascade(ctx, reason)
	})
	if !navigated {
		s.logger.WithField("trigger", reason).Debug("redirect in flight, cascade owed to its holder")
		return false, nil
	}
	return true, err
}

// cascade issues the forced-logout navigation
func (s *Synchronizer) cascade(ctx context.Context, reason string) error {
	var err error
	if s.config.Role == RoleHub {
		err = s.nav.Reload(ctx)
	} else {
		err = s.nav.Assign(ctx, s.SignalURL())
	}

	s.logger.WithField("trigger", reason).Info("cascading logout")
	s.metrics.Cascade(s.config.App, string(s.config.Role), reason)
	s.record(ctx, audit.EventTypeSessionCascade, reason, err)
	if err != nil {
		return fmt.Errorf("force logout: %w", err)
	}
	return nil
}

// clear removes every credential entry. Failures are logged; the logout
// continues regardless.
func (s *Synchronizer) clear(ctx context.Context) {
	n, err := s.store.ClearAll(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("failed to clear some credential entries")
	}
	s.metrics.StorageCleared(s.config.App, n)
}

func (s *Synchronizer) record(ctx context.Context, t audit.EventType, msg string, err error) {
	ev := audit.NewEvent(t, audit.EventStatusSuccess).
		WithApp(s.config.App, string(s.config.Role)).
		WithMessage(msg).
		WithError(err)
	ev.Origin = navigation.Origin(s.nav.Location())
	ev.RequestID = observability.GetRequestID(ctx)
	if logErr := s.auditor.Log(ctx, ev); logErr != nil {
		s.logger.WithError(logErr).Warn("failed to write audit event")
	}
}
