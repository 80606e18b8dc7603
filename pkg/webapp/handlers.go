package webapp

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/platinummonkey/ssosync/pkg/crossapp"
	"github.com/platinummonkey/ssosync/pkg/httputil"
	"github.com/platinummonkey/ssosync/pkg/identity"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/redirect"
	"github.com/platinummonkey/ssosync/pkg/session"
)

// ReturnToParam names the page /login and /logout act on behalf of
const ReturnToParam = "return_to"

var errNotSignedIn = errors.New("not signed in")

// PageView is the body of a page that did not navigate
type PageView struct {
	App     string        `json:"app"`
	Role    crossapp.Role `json:"role"`
	Session session.State `json:"session"`
}

// TokenResponse is the body of /api/token
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// ValidateResponse is the body of /api/session/validate
type ValidateResponse struct {
	Valid   bool          `json:"valid"`
	Session session.State `json:"session"`
}

// CheckResponse is the body of /api/session/check
type CheckResponse struct {
	Active bool `json:"active"`
}

// pageLoad is one mounted app instance
type pageLoad struct {
	nav     *responseNavigator
	machine *session.Machine
	logger  *observability.Logger
}

// load mounts a fresh session for the request at location
func (s *Server) load(w http.ResponseWriter, r *http.Request, location *url.URL) (*pageLoad, error) {
	ctx := r.Context()
	logger := observability.UpdateLoggerWithTraceContext(ctx, observability.FromContext(ctx))

	nav := newResponseNavigator(location)
	store := s.adapter(w, r)
	coord := redirect.New(func() { s.recorder.RedirectSuppressed(s.topology.App) })
	idp := s.identity(store, nav)

	synchronizer, err := crossapp.New(s.topology, idp, store, nav, coord,
		crossapp.WithLogger(logger),
		crossapp.WithMetrics(s.recorder),
		crossapp.WithAudit(s.auditor),
	)
	if err != nil {
		return nil, err
	}
	machine, err := session.New(session.Options{
		Identity:     idp,
		Storage:      store,
		Navigator:    nav,
		Coordinator:  coord,
		Synchronizer: synchronizer,
		LoginHint:    s.cfg.App.LoginHint,
		Logger:       logger,
		Metrics:      s.recorder,
		Audit:        s.auditor,
	})
	if err != nil {
		return nil, err
	}

	if err := machine.Mount(ctx); err != nil {
		logger.WithError(err).Warn("mount finished with errors")
	}
	return &pageLoad{nav: nav, machine: machine, logger: logger}, nil
}

// requestURL is the public URL of the request
func (s *Server) requestURL(r *http.Request) *url.URL {
	u := *s.public
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	return &u
}

// returnTo is the same-origin page named by the return_to parameter, or
// the root page
func (s *Server) returnTo(r *http.Request) *url.URL {
	target := r.URL.Query().Get(ReturnToParam)
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		target = "/"
	}
	ref, err := url.Parse(target)
	if err != nil {
		ref = &url.URL{Path: "/"}
	}
	u := *s.public
	u.Path = ref.Path
	u.RawPath = ref.RawPath
	u.RawQuery = ref.RawQuery
	return &u
}

// home serves the root page and the redirect callback
func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, s.requestURL(r), nil)
}

// login handles GET /login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, s.returnTo(r), func(ctx context.Context, m *session.Machine) error {
		return m.Login(ctx)
	})
}

// logout handles GET and POST /logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, s.returnTo(r), func(ctx context.Context, m *session.Machine) error {
		return m.Logout(ctx)
	})
}

// servePage renders a navigation as a 302 and anything else as the page view
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, location *url.URL, action func(context.Context, *session.Machine) error) {
	pl, err := s.load(w, r, location)
	if err != nil {
		s.writeError(w, observability.FromContext(r.Context()), err)
		return
	}
	defer pl.machine.Close()

	if action != nil {
		if err := action(r.Context(), pl.machine); err != nil {
			_, moved := pl.nav.Redirect()
			switch {
			case moved, errors.Is(err, session.ErrRedirectInProgress):
				pl.logger.WithError(err).Debug("navigation already decided")
			case errors.Is(err, session.ErrTerminated), errors.Is(err, session.ErrAlreadyAuthenticated):
			default:
				s.writeError(w, pl.logger, err)
				return
			}
		}
	}

	if target, ok := pl.nav.Redirect(); ok {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	httputil.WriteSuccess(w, s.view(pl.machine))
}

// token handles GET /api/token
func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	force, err := httputil.ParseQueryBool(r, "force", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	s.serveAPI(w, r, func(ctx context.Context, m *session.Machine) (interface{}, error) {
		token, err := m.AccessToken(ctx, force)
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, errNotSignedIn
		}
		return TokenResponse{AccessToken: token}, nil
	})
}

// validate handles /api/session/validate
func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	s.serveAPI(w, r, func(ctx context.Context, m *session.Machine) (interface{}, error) {
		valid, err := m.Validate(ctx)
		if err != nil {
			return nil, err
		}
		return ValidateResponse{Valid: valid, Session: m.State()}, nil
	})
}

// check handles GET /api/session/check
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	s.serveAPI(w, r, func(ctx context.Context, m *session.Machine) (interface{}, error) {
		return CheckResponse{Active: m.CheckSession(ctx)}, nil
	})
}

// serveAPI renders a navigation as a 401 naming the target
func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request, fn func(context.Context, *session.Machine) (interface{}, error)) {
	pl, err := s.load(w, r, s.requestURL(r))
	if err != nil {
		s.writeError(w, observability.FromContext(r.Context()), err)
		return
	}
	defer pl.machine.Close()

	result, err := fn(r.Context(), pl.machine)
	if target, ok := pl.nav.Redirect(); ok {
		httputil.WriteUnauthorized(w, "navigation required", target)
		return
	}
	if err != nil {
		s.writeError(w, pl.logger, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (s *Server) view(m *session.Machine) PageView {
	return PageView{App: s.topology.App, Role: s.topology.Role, Session: m.State()}
}

func (s *Server) writeError(w http.ResponseWriter, logger *observability.Logger, err error) {
	switch {
	case errors.Is(err, errNotSignedIn):
		httputil.WriteUnauthorized(w, err.Error(), "")
		return
	case errors.Is(err, session.ErrTerminated):
		httputil.WriteUnauthorized(w, "session ended", "")
		return
	}

	switch identity.KindOf(err) {
	case identity.KindInteractionRequired:
		httputil.WriteUnauthorized(w, "interaction required", "")
	case identity.KindTransientNetwork:
		logger.WithError(err).Warn("identity provider unavailable")
		httputil.WriteServiceUnavailable(w, "identity provider unavailable")
	default:
		logger.WithError(err).Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}
