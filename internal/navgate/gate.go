// Package navgate decides whether a navigation to a route may proceed, based
// on the current session auth state and the watched company lifecycle. The
// gate never blocks; it answers with allow, a loading placeholder, or a
// redirect target, and the UI surface acts on the verdict.
package navgate

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/metrics"
)

// AuthState is the gate's view of the session.
type AuthState string

const (
	// AuthUnknown means no session observation has arrived yet.
	AuthUnknown AuthState = "unknown"
	// AuthChecking means a session fetch is in flight.
	AuthChecking AuthState = "checking"
	AuthAuthenticated   AuthState = "authenticated"
	AuthUnauthenticated AuthState = "unauthenticated"
)

// DecisionKind is the verdict type for one evaluation.
type DecisionKind string

const (
	DecisionAllow    DecisionKind = "allow"
	DecisionLoading  DecisionKind = "loading"
	DecisionRedirect DecisionKind = "redirect"
)

// Decision is the outcome of evaluating one navigation. For redirects to the
// login route, From carries the originally requested path for post-login
// return.
type Decision struct {
	Kind   DecisionKind `json:"kind"`
	Target string       `json:"target,omitempty"`
	From   string       `json:"from,omitempty"`
}

func allow() Decision   { return Decision{Kind: DecisionAllow} }
func loading() Decision { return Decision{Kind: DecisionLoading} }

func redirectTo(target, from string) Decision {
	return Decision{Kind: DecisionRedirect, Target: target, From: from}
}

// Policy is the static route policy the gate composes with session state.
type Policy struct {
	// LoginRoute receives unauthenticated users; the requested path rides
	// along for post-login return.
	LoginRoute string
	// HomeRoute receives authenticated users who hit a company route without
	// owning a company.
	HomeRoute string
	// DeactivatedRoute is the notice page shown instead of company routes
	// while the company is Inactive.
	DeactivatedRoute string
	// GracePeriod absorbs the transient unauthenticated flicker during
	// logout-driven navigation before the gate commits to a redirect.
	GracePeriod time.Duration
	// PublicRoutes need no session at all.
	PublicRoutes []string
	// CompanyRoutes additionally require an Active company.
	CompanyRoutes []string
}

// DefaultGracePeriod bounds how long the gate answers Loading for an
// unauthenticated navigation before redirecting to login.
const DefaultGracePeriod = 700 * time.Millisecond

// DefaultPolicy returns the portal's route policy.
func DefaultPolicy() Policy {
	return Policy{
		LoginRoute:       "/login",
		HomeRoute:        "/",
		DeactivatedRoute: "/empresa-desactivada",
		GracePeriod:      DefaultGracePeriod,
		PublicRoutes:     []string{"/", "/login", "/registro"},
		CompanyRoutes:    []string{"/mi-empresa"},
	}
}

// Gate evaluates navigations. All methods are safe for concurrent use.
type Gate struct {
	mu          sync.Mutex
	policy      Policy
	auth        AuthState
	unauthSince time.Time
	hasCompany  bool
	company     entity.CompanyState
	recorder    metrics.Recorder
	now         func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// New creates a Gate with the given policy. The gate starts in AuthUnknown.
func New(policy Policy, opts ...Option) *Gate {
	if policy.GracePeriod <= 0 {
		policy.GracePeriod = DefaultGracePeriod
	}
	g := &Gate{
		policy:   policy,
		auth:     AuthUnknown,
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetAuthState records a session observation. The unauthenticated grace
// window starts when the state first becomes AuthUnauthenticated and resets
// whenever it leaves it.
func (g *Gate) SetAuthState(state AuthState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state == AuthUnauthenticated && g.auth != AuthUnauthenticated {
		g.unauthSince = g.now()
	}
	g.auth = state
}

// AuthState returns the current session view.
func (g *Gate) AuthState() AuthState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.auth
}

// SetCompany records the company observation the gate consults for company
// routes.
func (g *Gate) SetCompany(hasCompany bool, state entity.CompanyState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasCompany = hasCompany
	g.company = state
}

// ResetCompany clears the company view while keeping the session auth state.
// Used between sessions: the next session's company must be re-observed, but
// a logged-out gate keeps redirecting to login instead of showing a spinner.
func (g *Gate) ResetCompany() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasCompany = false
	g.company = ""
}

// Reset returns the gate to its initial view, forgetting the auth state too.
// Used on full agent restarts, not on session swap.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auth = AuthUnknown
	g.unauthSince = time.Time{}
	g.hasCompany = false
	g.company = ""
}

// Evaluate answers whether a navigation to path may proceed right now.
func (g *Gate) Evaluate(path string) Decision {
	d := g.evaluate(cleanPath(path))
	switch d.Kind {
	case DecisionAllow:
		g.recorder.IncGateDecision(metrics.GateAllowed)
	case DecisionLoading:
		g.recorder.IncGateDecision(metrics.GateLoading)
	case DecisionRedirect:
		g.recorder.IncGateDecision(metrics.GateRedirected)
	}
	return d
}

func (g *Gate) evaluate(path string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if matchesAny(path, g.policy.PublicRoutes) {
		return allow()
	}

	switch g.auth {
	case AuthUnknown, AuthChecking:
		return loading()
	case AuthUnauthenticated:
		if matches(path, g.policy.LoginRoute) {
			return allow()
		}
		if g.now().Sub(g.unauthSince) < g.policy.GracePeriod {
			return loading()
		}
		return redirectTo(g.policy.LoginRoute, path)
	}

	if matchesAny(path, g.policy.CompanyRoutes) {
		if !g.hasCompany {
			return redirectTo(g.policy.HomeRoute, "")
		}
		if g.company != entity.CompanyActive {
			return redirectTo(g.policy.DeactivatedRoute, "")
		}
	}
	return allow()
}

func cleanPath(path string) string {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// matches reports whether path equals route or sits beneath it. The root
// route matches only exactly.
func matches(path, route string) bool {
	if route == "" {
		return false
	}
	if route == "/" {
		return path == "/"
	}
	return path == route || strings.HasPrefix(path, route+"/")
}

func matchesAny(path string, routes []string) bool {
	for _, route := range routes {
		if matches(path, route) {
			return true
		}
	}
	return false
}
