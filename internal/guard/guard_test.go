package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nawra-portal/internal/route"
	"nawra-portal/internal/session"
)

func signedIn(t *testing.T, perms ...string) *session.Store {
	t.Helper()
	st := session.NewStore("sid", session.MemoryPersistence(), nil)
	require.NoError(t, st.SetUser(context.Background(), session.Identity{ID: "u-1", Permissions: perms}))
	return st
}

type stateCounter struct {
	mu   sync.Mutex
	seen []State
}

func (s *stateCounter) ObserveDecision(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, st)
}

func TestRequirement_AnyVersusAll(t *testing.T) {
	perms := []string{"books.read"}
	assert.True(t, Any("books.read", "books.write").SatisfiedBy(perms))
	assert.False(t, All("books.read", "books.write").SatisfiedBy(perms))
	assert.True(t, All("books.read").SatisfiedBy(perms))
	assert.False(t, Any("reports.read").SatisfiedBy(perms))
	assert.True(t, Requirement{}.SatisfiedBy(nil))
	assert.True(t, Requirement{Mode: ModeAll}.SatisfiedBy(nil))
}

func TestEvaluate_Transitions(t *testing.T) {
	target := Target{Locale: route.LocaleAR}
	anon := session.State{}
	user := session.State{IsAuthenticated: true, User: &session.Identity{ID: "u", Permissions: []string{"circulation.checkout"}}}

	d := Evaluate(anon, Requirement{}, target)
	assert.Equal(t, Decision{State: DeniedUnauthenticated, Redirect: "/ar/login"}, d)

	// Authenticated flag without an identity still counts as signed out.
	d = Evaluate(session.State{IsAuthenticated: true}, Requirement{}, target)
	assert.Equal(t, DeniedUnauthenticated, d.State)

	d = Evaluate(user, Requirement{}, target)
	assert.Equal(t, Granted, d.State)

	d = Evaluate(user, Any("circulation.checkout", "circulation.checkin"), target)
	assert.Equal(t, Granted, d.State)

	d = Evaluate(user, All("circulation.checkout", "circulation.checkin"), target)
	assert.Equal(t, Decision{State: DeniedUnauthorized, Redirect: "/ar/dashboard"}, d)

	d = Evaluate(user, All("circulation.checkin"), Target{Fallback: "/catalog"})
	assert.Equal(t, "/en/catalog", d.Redirect)
}

func TestGuard_StartsCheckingThenDecides(t *testing.T) {
	st := signedIn(t, "books.read")
	g := New(st, Any("books.read"), Options{})
	assert.Equal(t, Checking, g.Decision().State)

	d := g.Start()
	assert.Equal(t, Granted, d.State)
	g.Close()
}

func TestGuard_UnauthenticatedNavigatesToLogin(t *testing.T) {
	st := session.NewStore("sid", session.MemoryPersistence(), nil)
	nav := &route.Recorder{}
	d := Check(st, Any("books.read"), Options{Navigator: nav, Target: Target{Locale: route.LocaleAR}})

	assert.Equal(t, DeniedUnauthenticated, d.State)
	assert.Equal(t, []string{"/ar/login"}, nav.Paths())
}

func TestGuard_UnauthorizedSetsStateThenNavigatesOnce(t *testing.T) {
	st := signedIn(t, "circulation.checkout")
	var stateAtNavigation State
	var g *Guard
	nav := route.NavigatorFunc(func(path string) {
		stateAtNavigation = g.Decision().State
		assert.Equal(t, "/en/dashboard", path)
	})
	g = New(st, All("circulation.checkout", "circulation.checkin"), Options{Navigator: nav})
	defer g.Close()

	d := g.Start()
	assert.Equal(t, DeniedUnauthorized, d.State)
	assert.Equal(t, DeniedUnauthorized, stateAtNavigation)
}

func TestGuard_ReactsToLogoutAndPermissionChanges(t *testing.T) {
	ctx := context.Background()
	st := signedIn(t, "reports.read")
	nav := &route.Recorder{}
	obs := &stateCounter{}
	g := New(st, Any("reports.read"), Options{Navigator: nav, Observer: obs})
	defer g.Close()

	require.Equal(t, Granted, g.Start().State)

	// Permission revoked elsewhere re-gates the mounted view.
	require.NoError(t, st.SetUser(ctx, session.Identity{ID: "u-1", Permissions: []string{"books.read"}}))
	assert.Equal(t, DeniedUnauthorized, g.Decision().State)

	// Same outcome again does not navigate twice.
	require.NoError(t, st.SetTokens(ctx, "a", "r"))
	assert.Equal(t, []string{"/en/dashboard"}, nav.Paths())

	require.NoError(t, st.Logout(ctx))
	assert.Equal(t, DeniedUnauthenticated, g.Decision().State)
	assert.Equal(t, []string{"/en/dashboard", "/en/login"}, nav.Paths())
	assert.Equal(t, []State{Granted, DeniedUnauthorized, DeniedUnauthenticated}, obs.seen)
}

func TestGuard_SetRequirementReevaluates(t *testing.T) {
	st := signedIn(t, "books.read")
	g := New(st, Any("books.write"), Options{})
	defer g.Close()

	require.Equal(t, DeniedUnauthorized, g.Start().State)
	assert.Equal(t, Granted, g.SetRequirement(Any("books.read")).State)
}

func TestGuard_CloseStopsFollowing(t *testing.T) {
	ctx := context.Background()
	st := signedIn(t, "books.read")
	nav := &route.Recorder{}
	g := New(st, Any("books.read"), Options{Navigator: nav})
	require.Equal(t, Granted, g.Start().State)
	g.Close()

	require.NoError(t, st.Logout(ctx))
	assert.Equal(t, Granted, g.Decision().State)
	assert.Empty(t, nav.Paths())
}

func TestPermissionMap_ReadOnly(t *testing.T) {
	m := DefaultPermissionMap()
	req, ok := m.Lookup(ResourceCirculation)
	require.True(t, ok)
	req.Capabilities[0] = "tampered"

	again, _ := m.Lookup(ResourceCirculation)
	assert.Equal(t, "circulation.checkout", again.Capabilities[0])

	dash, ok := m.Lookup(ResourceDashboard)
	require.True(t, ok)
	assert.True(t, dash.Public())
	assert.Contains(t, m.Resources(), ResourceUsersManage)

	_, ok = m.Lookup("missing")
	assert.False(t, ok)
}

// gatedSource can hold one State read open after it has taken its snapshot,
// standing in for a goroutine preempted between reading and committing.
type gatedSource struct {
	mu      sync.Mutex
	state   session.State
	subs    []func(session.State)
	gate    chan struct{}
	entered chan struct{}
}

func (s *gatedSource) State() session.State {
	s.mu.Lock()
	st, gate, entered := s.state, s.gate, s.entered
	s.gate, s.entered = nil, nil
	s.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return st
}

func (s *gatedSource) Subscribe(fn func(session.State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
	return func() {}
}

func (s *gatedSource) set(st session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *gatedSource) hold() (entered, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate, s.entered = make(chan struct{}), make(chan struct{})
	return s.entered, s.gate
}

func (s *gatedSource) fire() {
	s.mu.Lock()
	subs, st := append([]func(session.State){}, s.subs...), s.state
	s.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func TestGuard_SlowEvaluationCannotOverwriteLogout(t *testing.T) {
	src := &gatedSource{state: session.State{IsAuthenticated: true, User: &session.Identity{ID: "u-1", Permissions: []string{"books.read"}}}}
	nav := &route.Recorder{}
	g := New(src, Any("books.read"), Options{Navigator: nav})
	defer g.Close()
	require.Equal(t, Granted, g.Start().State)

	entered, release := src.hold()
	slow := make(chan struct{})
	go func() {
		defer close(slow)
		src.fire()
	}()
	<-entered

	src.set(session.State{})
	logout := make(chan struct{})
	go func() {
		defer close(logout)
		src.fire()
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-slow
	<-logout

	assert.Equal(t, DeniedUnauthenticated, g.Decision().State)
	assert.Equal(t, []string{"/en/login"}, nav.Paths())
}

func TestGuard_ConcurrentNotificationsSettleOnLatestState(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		st := signedIn(t, "books.read")
		g := New(st, Any("books.read"), Options{})
		require.Equal(t, Granted, g.Start().State)

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < 10; n++ {
					_ = st.SetTokens(ctx, "a", "r")
				}
			}()
		}
		require.NoError(t, st.Logout(ctx))
		wg.Wait()

		assert.Equal(t, DeniedUnauthenticated, g.Decision().State)
		g.Close()
	}
}
