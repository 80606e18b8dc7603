package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/ssosync/pkg/async"
	"github.com/platinummonkey/ssosync/pkg/audit"
	"github.com/platinummonkey/ssosync/pkg/crossapp"
	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/navigation"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/redirect"
	"github.com/platinummonkey/ssosync/pkg/storage"
)

// Cascade triggers recorded on metrics and audit events
const (
	TriggerToken = "token_interaction_required"
	TriggerProbe = "probe_interaction_required"
)

// Options wires a Machine to its collaborators. Identity, Storage,
// Navigator, Coordinator and Synchronizer are required.
type Options struct {
	Identity     identity.Client
	Storage      *storage.Adapter
	Navigator    navigation.Navigator
	Coordinator  *redirect.Coordinator
	Synchronizer *crossapp.Synchronizer

	// LoginHint is passed to silent sign-in and probes when no account is cached
	LoginHint string

	Logger  *observability.Logger
	Metrics observability.SessionRecorder
	Audit   audit.Logger
	Tracer  trace.Tracer
	Clock   func() time.Time
}

// Machine is the session state of one app instance
type Machine struct {
	idp     identity.Client
	store   *storage.Adapter
	nav     navigation.Navigator
	coord   *redirect.Coordinator
	sync    *crossapp.Synchronizer
	hint    string
	app     string
	role    crossapp.Role
	logger  *observability.Logger
	metrics observability.SessionRecorder
	auditor audit.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu       sync.Mutex
	state    State
	terminal bool

	mounted   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	flights   singleflight.Group

	stopOnce sync.Once
	stop     context.CancelFunc
}

// New creates an unmounted Machine in StatusUnauthenticated
func New(opts Options) (*Machine, error) {
	var missing []string
	if opts.Identity == nil {
		missing = append(missing, "identity client")
	}
	if opts.Navigator == nil {
		missing = append(missing, "navigator")
	}
	if opts.Coordinator == nil {
		missing = append(missing, "redirect coordinator")
	}
	if opts.Synchronizer == nil {
		missing = append(missing, "synchronizer")
	}
	if len(missing) > 0 {
		return nil, identity.ConfigurationError("new_session", fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	if err := opts.Storage.Validate(); err != nil {
		return nil, identity.ConfigurationError("new_session", err)
	}

	cfg := opts.Synchronizer.Config()
	m := &Machine{
		idp:     opts.Identity,
		store:   opts.Storage,
		nav:     opts.Navigator,
		coord:   opts.Coordinator,
		sync:    opts.Synchronizer,
		hint:    opts.LoginHint,
		app:     cfg.App,
		role:    cfg.Role,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		auditor: opts.Audit,
		tracer:  opts.Tracer,
		now:     opts.Clock,
		state:   State{Status: StatusUnauthenticated},
		ready:   make(chan struct{}),
	}
	if m.logger == nil {
		m.logger = observability.NewNopLogger()
	}
	if m.metrics == nil {
		m.metrics = observability.NopRecorder{}
	}
	if m.auditor == nil {
		m.auditor = audit.NoOpLogger{}
	}
	if m.tracer == nil {
		m.tracer = observability.Tracer()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.logger = m.logger.WithFields(map[string]interface{}{
		"app":  m.app,
		"role": string(m.role),
	})
	return m, nil
}

// Role returns the instance's role
func (m *Machine) Role() crossapp.Role {
	return m.role
}

// State returns a copy of the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Terminated reports whether the instance has logged out or been invalidated
func (m *Machine) Terminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal
}

// Mount runs the startup sequence. It can run once per Machine.
//
// A failed redirect return is reported after the rest of the sequence has
// run; a transient validation failure leaves the cached account in place and
// is returned.
func (m *Machine) Mount(ctx context.Context) error {
	if !m.mounted.CompareAndSwap(false, true) {
		return ErrAlreadyMounted
	}
	ctx, span := m.tracer.Start(ctx, "session.Mount", m.spanAttrs())
	defer span.End()

	m.startEvents(ctx)

	returned, redirectErr := m.finishRedirect(ctx)
	m.readyOnce.Do(func() { close(m.ready) })

	if m.role == crossapp.RoleHub {
		handled, err := m.sync.HandleLogoutSignal(ctx)
		if handled {
			m.terminate(StatusUnauthenticated)
			return err
		}
	}

	if redirectErr != nil && identity.IsInteractionRequired(redirectErr) && m.role == crossapp.RoleLeaf {
		// the silent sign-in came back without a provider session
		m.logger.WithError(redirectErr).Info("silent sign-in rejected, returning to hub")
		if _, err := m.coord.Navigate(func() error {
			return m.nav.Assign(ctx, m.sync.Config().HubURL)
		}); err != nil {
			return errors.Join(redirectErr, err)
		}
		return nil
	}

	var validateErr error
	if !returned {
		validateErr = m.restore(ctx)
	}

	if redirectErr == nil && m.role == crossapp.RoleLeaf && m.State().Status == StatusUnauthenticated && !m.Terminated() {
		navigated, err := m.sync.SilentSignIn(ctx, m.hint)
		if navigated && err == nil {
			m.transition(StatusAuthenticating, nil)
		}
		if err != nil {
			return err
		}
	}

	return errors.Join(redirectErr, validateErr)
}

// finishRedirect completes a pending login redirect. It reports whether an
// account was obtained.
func (m *Machine) finishRedirect(ctx context.Context) (bool, error) {
	var account *identity.Account
	err := m.call(ctx, "handle_redirect", func(ctx context.Context) error {
		var err error
		account, err = m.idp.HandleRedirectReturn(ctx)
		return err
	})
	if err != nil {
		m.logger.WithError(err).Warn("redirect return failed")
		m.record(ctx, audit.EventTypeSessionLogin, nil, "redirect return", err)
		return false, err
	}
	if account == nil {
		return false, nil
	}

	now := m.now()
	m.apply(StatusAuthenticated, account, &now)
	m.record(ctx, audit.EventTypeSessionLogin, account, "redirect return", nil)
	return true, nil
}

// restore trusts a cached account only after the provider confirms the session
func (m *Machine) restore(ctx context.Context) error {
	var account *identity.Account
	err := m.call(ctx, "active_account", func(ctx context.Context) error {
		var err error
		account, err = m.idp.ActiveAccount(ctx)
		return err
	})
	if err != nil {
		m.logger.WithError(err).Warn("failed to read cached account")
		return err
	}
	if account == nil {
		return nil
	}
	m.apply(StatusAuthenticated, account, nil)
	_, err = m.validate(ctx)
	return err
}

// Login starts an interactive login redirect from StatusUnauthenticated.
// A signed-in instance gets ErrAlreadyAuthenticated.
//
// If the login fails without navigating and the instance was invalidated
// meanwhile, the forced logout that lost the tab to this login runs before
// Login returns.
func (m *Machine) Login(ctx context.Context) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if m.Terminated() {
		return ErrTerminated
	}
	switch m.State().Status {
	case StatusAuthenticated, StatusValidating:
		return ErrAlreadyAuthenticated
	}
	if !m.coord.Begin() {
		return ErrRedirectInProgress
	}

	m.transition(StatusAuthenticating, nil)
	err := m.call(ctx, "login", func(ctx context.Context) error {
		return m.idp.Login(ctx, identity.LoginOptions{
			LoginHint: m.hint,
			ReturnTo:  m.nav.Location().String(),
		})
	})
	if err == nil {
		return nil
	}

	m.logger.WithError(err).Error("login redirect failed")
	m.record(ctx, audit.EventTypeSessionLogin, nil, "login redirect", err)
	ran, navErr := m.coord.Release()
	if ran {
		m.logger.Info("login failed after the session was invalidated, cascade issued")
		return errors.Join(err, navErr)
	}
	m.transition(StatusUnauthenticated, nil)
	return err
}

// Logout clears this origin's credentials and starts a provider logout that
// lands on the hub with the logout signal
func (m *Machine) Logout(ctx context.Context) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if m.Terminated() {
		return ErrTerminated
	}
	if !m.coord.Begin() {
		return ErrRedirectInProgress
	}

	account := m.State().Account
	n, err := m.store.ClearAll(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("failed to clear some credential entries")
	}
	m.metrics.StorageCleared(m.app, n)
	m.terminate(StatusUnauthenticated)

	signal := m.sync.SignalURL()
	err = m.call(ctx, "logout", func(ctx context.Context) error {
		return m.idp.Logout(ctx, signal)
	})
	m.record(ctx, audit.EventTypeSessionLogout, account, "explicit logout", err)
	if err != nil {
		m.logger.WithError(err).Error("provider logout failed, signalling hub directly")
		if navErr := m.nav.Assign(ctx, signal); navErr != nil {
			return errors.Join(err, navErr)
		}
		return err
	}
	m.logger.Info("logged out")
	return nil
}

// AccessToken returns an access token for the current account. It returns
// an empty token and no error when there is no account, when the instance
// is terminated, or when the provider session is gone (in which case the
// cascade has been started).
func (m *Machine) AccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	terminal, account := m.terminal, m.state.Account
	m.mu.Unlock()
	if terminal || account == nil {
		return "", nil
	}

	key := "token:" + account.ID + ":" + strconv.FormatBool(forceRefresh)
	v, err := m.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		var token *identity.Token
		err := m.call(ctx, "acquire_token_silent", func(ctx context.Context) error {
			var err error
			token, err = m.idp.AcquireTokenSilent(ctx, *account, forceRefresh)
			return err
		})
		return token, err
	})
	if err != nil {
		if identity.IsInteractionRequired(err) {
			m.invalidate(ctx, TriggerToken, err)
			return "", nil
		}
		m.logger.WithError(err).Warn("silent token acquisition failed")
		return "", err
	}
	token, _ := v.(*identity.Token)
	if token == nil {
		return "", nil
	}
	return token.AccessToken, nil
}

// Validate probes the provider session for the current account. It
// reports false with no error when there is no account or the session is
// gone; other failures leave the state unchanged and are returned.
func (m *Machine) Validate(ctx context.Context) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	if m.Terminated() || m.State().Account == nil {
		return false, nil
	}
	return m.validate(ctx)
}

func (m *Machine) validate(ctx context.Context) (bool, error) {
	v, err := m.shared(ctx, "validate", func(ctx context.Context) (interface{}, error) {
		m.mu.Lock()
		if m.terminal || m.state.Account == nil {
			m.mu.Unlock()
			return false, nil
		}
		account := *m.state.Account
		m.mu.Unlock()

		m.transition(StatusValidating, &account)
		err := m.call(ctx, "probe_session", func(ctx context.Context) error {
			return m.idp.ProbeSession(ctx, account.Username)
		})
		switch {
		case err == nil:
			now := m.now()
			m.apply(StatusAuthenticated, &account, &now)
			return true, nil
		case identity.IsInteractionRequired(err):
			m.invalidate(ctx, TriggerProbe, err)
			return false, nil
		default:
			m.transition(StatusAuthenticated, &account)
			m.logger.WithError(err).Warn("session validation failed")
			return false, err
		}
	})
	ok, _ := v.(bool)
	return ok, err
}

// CheckSession reports whether the provider still has a session for the
// current account (or the login hint). It never changes state.
func (m *Machine) CheckSession(ctx context.Context) bool {
	if err := m.wait(ctx); err != nil {
		return false
	}
	hint := m.hint
	if account := m.State().Account; account != nil {
		hint = account.Username
	}
	err := m.call(ctx, "probe_session", func(ctx context.Context) error {
		return m.idp.ProbeSession(ctx, hint)
	})
	if err != nil {
		m.logger.WithError(err).Debug("session check failed")
		return false
	}
	return true
}

// Close stops the event loop
func (m *Machine) Close() {
	m.stopOnce.Do(func() {
		if m.stop != nil {
			m.stop()
		}
	})
}

// shared runs fn once for every concurrent caller with the same key. The
// call does not inherit any caller's cancellation; each caller stops waiting
// when its own ctx is done.
func (m *Machine) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, identity.Classify("wait", ctx.Err())
	}
}

// invalidate is the single exit for a vanished provider session. Only the
// caller that performs the transition starts the cascade.
func (m *Machine) invalidate(ctx context.Context, trigger string, cause error) {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	from, account := m.state.Status, m.state.Account
	m.state = State{Status: StatusInvalidated}
	m.terminal = true
	m.mu.Unlock()

	m.metrics.Transition(m.app, from.String(), StatusInvalidated.String())
	m.logger.WithField("trigger", trigger).WithError(cause).Info("provider session gone, invalidating")
	m.record(ctx, audit.EventTypeSessionInvalidated, account, trigger, nil)

	if _, err := m.sync.ForceLogout(ctx, trigger); err != nil {
		m.logger.WithError(err).Error("forced logout failed")
	}
}

// transition moves to status keeping LastValidatedAt. It is a no-op once
// the instance is terminal.
func (m *Machine) transition(status Status, account *identity.Account) {
	m.mu.Lock()
	validated := m.state.LastValidatedAt
	m.mu.Unlock()
	m.apply(status, account, validated)
}

func (m *Machine) apply(status Status, account *identity.Account, validatedAt *time.Time) {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	from := m.state.Status
	m.state = State{Status: status, Account: account, LastValidatedAt: validatedAt}
	m.mu.Unlock()

	if from != status {
		m.metrics.Transition(m.app, from.String(), status.String())
		m.logger.Debugf("session %s -> %s", from, status)
	}
}

// terminate moves to a terminal status
func (m *Machine) terminate(status Status) {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	from := m.state.Status
	m.state = State{Status: status}
	m.terminal = true
	m.mu.Unlock()

	if from != status {
		m.metrics.Transition(m.app, from.String(), status.String())
	}
	m.logger.Debugf("session %s -> %s (terminal)", from, status)
}

// wait blocks until the redirect return has been applied
func (m *Machine) wait(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startEvents subscribes to the identity client's notifications. The
// Machine is the only consumer of the stream.
func (m *Machine) startEvents(ctx context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.stop = cancel
	ctx = observability.WithLogger(ctx, m.logger)

	events := m.idp.Events()
	async.SafeGo(ctx, 0, "session events", func(ctx context.Context) error {
		if err := m.wait(ctx); err != nil {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				m.fold(ev)
			}
		}
	})
}

// fold applies a provider notification to the state
func (m *Machine) fold(ev identity.Event) {
	switch ev.Type {
	case identity.EventLoginSucceeded:
		if ev.Account == nil {
			return
		}
		status := m.State().Status
		if status == StatusUnauthenticated || status == StatusAuthenticating {
			now := m.now()
			m.apply(StatusAuthenticated, ev.Account, &now)
		}
	case identity.EventLogoutSucceeded:
		m.terminate(StatusUnauthenticated)
	}
}

// call runs one identity client operation inside a span and records its
// duration and outcome. The returned error is classified.
func (m *Machine) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, "identity."+op, m.spanAttrs())
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	outcome := "success"
	if err != nil {
		err = identity.Classify(op, err)
		outcome = identity.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	m.metrics.ProviderCall(m.app, op, outcome, time.Since(start))
	return err
}

func (m *Machine) spanAttrs() trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("ssosync.app", m.app),
		attribute.String("ssosync.role", string(m.role)),
	)
}

func (m *Machine) record(ctx context.Context, t audit.EventType, account *identity.Account, msg string, err error) {
	ev := audit.NewEvent(t, audit.EventStatusSuccess).
		WithApp(m.app, string(m.role)).
		WithMessage(msg).
		WithError(err)
	if account != nil {
		ev.WithAccount(account.ID, account.Username)
	}
	ev.Origin = navigation.Origin(m.nav.Location())
	ev.RequestID = observability.GetRequestID(ctx)
	if logErr := m.auditor.Log(ctx, ev); logErr != nil {
		m.logger.WithError(logErr).Warn("failed to write audit event")
	}
}
