// Package guard decides whether the current session may see a view.
//
// A decision is one of Checking, DeniedUnauthenticated, DeniedUnauthorized or
// Granted. The reactive Guard re-evaluates on every credential store change
// and navigates when it enters a denied state.
package guard

import (
	"log/slog"
	"sync"

	"nawra-portal/internal/route"
	"nawra-portal/internal/session"
)

type State int

const (
	Checking State = iota
	DeniedUnauthenticated
	DeniedUnauthorized
	Granted
)

func (s State) String() string {
	switch s {
	case DeniedUnauthenticated:
		return "denied_unauthenticated"
	case DeniedUnauthorized:
		return "denied_unauthorized"
	case Granted:
		return "granted"
	default:
		return "checking"
	}
}

func (s State) Denied() bool { return s == DeniedUnauthenticated || s == DeniedUnauthorized }

// Decision is the outcome of one evaluation. Redirect is set for denied
// states: the login route, or the fallback an Access Denied panel links back to.
type Decision struct {
	State    State
	Redirect string
}

// Target carries the navigation inputs of an evaluation.
type Target struct {
	Locale route.Locale
	// Fallback is locale-relative; empty means route.Dashboard.
	Fallback string
}

func (t Target) login() string { return route.Path(t.Locale, route.Login) }

func (t Target) fallback() string {
	if t.Fallback == "" {
		return route.Path(t.Locale, route.Dashboard)
	}
	return route.Path(t.Locale, t.Fallback)
}

// Evaluate applies the access rules to a session snapshot. It is pure.
func Evaluate(st session.State, req Requirement, t Target) Decision {
	if !st.IsAuthenticated || st.User == nil {
		return Decision{State: DeniedUnauthenticated, Redirect: t.login()}
	}
	if req.SatisfiedBy(st.User.Permissions) {
		return Decision{State: Granted}
	}
	return Decision{State: DeniedUnauthorized, Redirect: t.fallback()}
}

// Source is the observable credential store.
type Source interface {
	State() session.State
	Subscribe(fn func(session.State)) (cancel func())
}

// DecisionObserver is told about every state the guard enters.
type DecisionObserver interface {
	ObserveDecision(s State)
}

type Options struct {
	Target
	Navigator route.Navigator
	Observer  DecisionObserver
	Logger    *slog.Logger
}

// Guard is a mounted gate over one view.
type Guard struct {
	src  Source
	opts Options

	mu       sync.Mutex
	req      Requirement
	decision Decision
	cancel   func()
	closed   bool
}

func New(src Source, req Requirement, opts Options) *Guard {
	if opts.Navigator == nil {
		opts.Navigator = route.NavigatorFunc(func(string) {})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{src: src, opts: opts, req: req.clone()}
}

// Start evaluates once and then follows the store. Calling it twice is a no-op.
func (g *Guard) Start() Decision {
	g.mu.Lock()
	if g.cancel != nil || g.closed {
		d := g.decision
		g.mu.Unlock()
		return d
	}
	g.cancel = func() {}
	g.mu.Unlock()

	cancel := g.src.Subscribe(func(session.State) { g.reevaluate() })

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		cancel()
		return g.Decision()
	}
	g.cancel = cancel
	g.mu.Unlock()

	return g.reevaluate()
}

func (g *Guard) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

// SetRequirement swaps the required capabilities and re-evaluates.
func (g *Guard) SetRequirement(req Requirement) Decision {
	g.mu.Lock()
	g.req = req.clone()
	started := g.cancel != nil
	g.mu.Unlock()
	if !started {
		return g.Decision()
	}
	return g.reevaluate()
}

// Close detaches from the store. The last decision stays readable.
func (g *Guard) Close() {
	g.mu.Lock()
	cancel := g.cancel
	g.closed = true
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// reevaluate reads the store fresh so that out-of-order notifications
// cannot leave a stale decision behind. The read happens under g.mu: the
// last evaluation to commit is then also the one that saw the newest state.
func (g *Guard) reevaluate() Decision {
	g.mu.Lock()
	if g.closed {
		d := g.decision
		g.mu.Unlock()
		return d
	}
	prev := g.decision
	req := g.req
	next := Evaluate(g.src.State(), req, g.opts.Target)
	g.decision = next
	g.mu.Unlock()

	if next == prev {
		return next
	}
	if g.opts.Observer != nil {
		g.opts.Observer.ObserveDecision(next.State)
	}
	if next.State.Denied() {
		g.opts.Logger.Debug("guard denied", "state", next.State.String(), "requirement", req.String(), "redirect", next.Redirect)
		g.opts.Navigator.Navigate(next.Redirect)
	}
	return next
}

// Check is a one-shot evaluation with the same side effects as a guard that
// is started and immediately closed.
func Check(src Source, req Requirement, opts Options) Decision {
	g := New(src, req, opts)
	d := g.Start()
	g.Close()
	return d
}
