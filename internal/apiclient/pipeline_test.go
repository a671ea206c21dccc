package apiclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"nawra-portal/internal/mockbackend"
	"nawra-portal/internal/route"
	"nawra-portal/internal/session"
)

type countingObserver struct {
	mu   sync.Mutex
	seen map[RefreshOutcome]int
}

func (o *countingObserver) ObserveRefresh(out RefreshOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = map[RefreshOutcome]int{}
	}
	o.seen[out]++
}

func (o *countingObserver) count(out RefreshOutcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seen[out]
}

type fixture struct {
	backend  *mockbackend.Server
	client   *Client
	store    *session.Store
	nav      *route.Recorder
	pipeline *Pipeline
	observer *countingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend, err := mockbackend.New(mockbackend.Options{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	obs := &countingObserver{}
	client, err := New(Options{BaseURL: srv.URL, Observer: obs})
	require.NoError(t, err)

	store := session.NewStore("sid", session.MemoryPersistence(), nil)
	nav := &route.Recorder{}
	return &fixture{
		backend:  backend,
		client:   client,
		store:    store,
		nav:      nav,
		observer: obs,
		pipeline: client.Pipeline(store, PipelineOptions{Navigator: nav, Locale: route.LocaleAR}),
	}
}

func (f *fixture) login(t *testing.T, email, password string) {
	t.Helper()
	ctx := context.Background()
	res, err := f.client.Login(ctx, LoginRequest{Email: email, Password: password})
	require.NoError(t, err)
	require.NoError(t, f.store.SetTokens(ctx, res.Tokens.AccessToken, res.Tokens.RefreshToken))
	require.NoError(t, f.store.SetUser(ctx, res.User))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Login(context.Background(), LoginRequest{Email: "admin@nawra.test", Password: "wrong"})

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Invalid email or password", authErr.Message)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.False(t, f.store.State().IsAuthenticated)
}

func TestLogin_ValidationMessageExtracted(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Login(context.Background(), LoginRequest{Email: "not-an-email", Password: "x"})

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, http.StatusUnprocessableEntity, valErr.Status)
	assert.Equal(t, "value is not a valid email address", valErr.Fields["email"])
}

func TestPipeline_AttachesBearer(t *testing.T) {
	f := newFixture(t)
	f.login(t, "admin@nawra.test", "admin-pass")

	id, err := f.pipeline.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-admin", id.ID)
	assert.Equal(t, 0, f.backend.RefreshCalls())
}

func TestPipeline_RefreshesOnceAndResends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "librarian@nawra.test", "librarian-pass")
	before := f.store.State()

	f.backend.ExpireAccessTokens()
	id, err := f.pipeline.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-librarian", id.ID)
	assert.Equal(t, 1, f.backend.RefreshCalls())
	assert.Equal(t, 1, f.observer.count(RefreshSuccess))

	after := f.store.State()
	assert.False(t, after.AccessToken.Equal(before.AccessToken))
	assert.False(t, after.RefreshToken.Equal(before.RefreshToken))
	assert.Empty(t, f.nav.Paths())
}

func TestPipeline_SecondUnauthorizedIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "admin@nawra.test", "admin-pass")

	f.backend.FailNext(2)
	resp, err := f.pipeline.Do(ctx, Request{Method: http.MethodGet, Path: "/auth/me"})
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, f.backend.RefreshCalls())
	assert.True(t, f.store.State().IsAuthenticated)
}

func TestPipeline_RefreshFailureLogsOutAndNavigates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "admin@nawra.test", "admin-pass")

	f.backend.ExpireAccessTokens()
	f.backend.RejectRefresh(true)
	_, err := f.pipeline.Me(ctx)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	st := f.store.State()
	assert.Nil(t, st.User)
	assert.False(t, st.IsAuthenticated)
	assert.True(t, st.RefreshToken.IsZero())
	assert.Equal(t, []string{"/ar/login"}, f.nav.Paths())
	assert.Equal(t, 1, f.observer.count(RefreshFailure))
}

func TestPipeline_NoRefreshTokenPropagates401(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.pipeline.Do(ctx, Request{Method: http.MethodGet, Path: "/auth/me"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err = f.pipeline.Me(ctx)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.Equal(t, 0, f.backend.RefreshCalls())
	assert.Empty(t, f.nav.Paths())
}

func TestPipeline_HydratedSessionRecoversAccessToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := session.MemoryPersistence()
	first := session.NewStore("sid", p, nil)
	res, err := f.client.Login(ctx, LoginRequest{Email: "patron@nawra.test", Password: "patron-pass"})
	require.NoError(t, err)
	require.NoError(t, first.SetTokens(ctx, res.Tokens.AccessToken, res.Tokens.RefreshToken))
	require.NoError(t, first.SetUser(ctx, res.User))

	reloaded := session.NewStore("sid", p, nil)
	_, err = reloaded.Hydrate(ctx)
	require.NoError(t, err)

	id, err := f.client.Pipeline(reloaded, PipelineOptions{}).Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-patron", id.ID)
	assert.False(t, reloaded.State().AccessToken.IsZero())
}

func TestPipeline_ConcurrentRefreshesAreCoalesced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "admin@nawra.test", "admin-pass")

	f.backend.ExpireAccessTokens()
	f.backend.SetRefreshDelay(50 * time.Millisecond)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Me(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.backend.RefreshCalls())
	assert.True(t, f.store.State().IsAuthenticated)
	assert.Empty(t, f.nav.Paths())
}

func TestPipeline_OtherStatusesPassThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "patron@nawra.test", "patron-pass")

	req, err := JSONRequest(http.MethodPost, "/books", map[string]string{"title": "x"})
	require.NoError(t, err)
	resp, err := f.pipeline.Do(ctx, req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, f.backend.RefreshCalls())
}

func TestPipeline_TimeoutIsNetworkError(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	client, err := New(Options{BaseURL: slow.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	store := session.NewStore("sid", session.MemoryPersistence(), nil)

	_, err = client.Pipeline(store, PipelineOptions{}).Me(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestPipeline_LogoutIsBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "admin@nawra.test", "admin-pass")
	refresh := f.store.State().RefreshToken.Reveal()

	require.NoError(t, f.pipeline.Logout(ctx))
	assert.False(t, f.store.State().IsAuthenticated)

	_, err := f.client.Refresh(ctx, refresh)
	assert.Error(t, err, "backend should have revoked the refresh token")

	down, err := New(Options{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	require.NoError(t, f.store.SetTokens(ctx, "access", "refresh"))
	require.NoError(t, down.Pipeline(f.store, PipelineOptions{}).Logout(ctx))
	assert.True(t, f.store.State().RefreshToken.IsZero())
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.ErrorContains(t, err, "base url is required")
}

// twoInstances signs in once and returns the same session as seen by two
// processes sharing one persistence.
func twoInstances(t *testing.T, f *fixture, email, password string) (*session.Store, *session.Store) {
	t.Helper()
	ctx := context.Background()
	p := session.MemoryPersistence()
	a := session.NewStore("shared", p, nil)
	res, err := f.client.Login(ctx, LoginRequest{Email: email, Password: password})
	require.NoError(t, err)
	require.NoError(t, a.SetTokens(ctx, res.Tokens.AccessToken, res.Tokens.RefreshToken))
	require.NoError(t, a.SetUser(ctx, res.User))

	b := session.NewStore("shared", p, nil)
	found, err := b.Hydrate(ctx)
	require.NoError(t, err)
	require.True(t, found)
	return a, b
}

func TestPipeline_AdoptsRefreshRotatedByAnotherInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := twoInstances(t, f, "librarian@nawra.test", "librarian-pass")
	f.backend.ExpireAccessTokens()

	_, err := f.client.Pipeline(b, PipelineOptions{}).Me(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.backend.RefreshCalls())

	navA := &route.Recorder{}
	id, err := f.client.Pipeline(a, PipelineOptions{Navigator: navA}).Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-librarian", id.ID)
	assert.Equal(t, 2, f.backend.RefreshCalls())
	assert.Empty(t, navA.Paths())
	assert.True(t, a.State().IsAuthenticated)

	// b's refresh token was consumed by a's refresh; b in turn adopts a's.
	f.backend.ExpireAccessTokens()
	_, err = f.client.Pipeline(b, PipelineOptions{}).Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.backend.RefreshCalls())
}

func TestPipeline_LogoutOnAnotherInstanceEndsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := twoInstances(t, f, "patron@nawra.test", "patron-pass")

	require.NoError(t, f.client.Pipeline(b, PipelineOptions{}).Logout(ctx))
	f.backend.ExpireAccessTokens()

	navA := &route.Recorder{}
	_, err := f.client.Pipeline(a, PipelineOptions{Navigator: navA, Locale: route.LocaleAR}).Me(ctx)
	require.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.Equal(t, 0, f.backend.RefreshCalls())
	assert.Equal(t, []string{"/ar/login"}, navA.Paths())
	assert.False(t, a.State().IsAuthenticated)
}

func TestPipeline_CancelledWaiterDoesNotStopSharedRefresh(t *testing.T) {
	f := newFixture(t)
	f.login(t, "admin@nawra.test", "admin-pass")
	f.backend.ExpireAccessTokens()
	f.backend.SetRefreshDelay(500 * time.Millisecond)

	leader := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Me(context.Background())
		leader <- err
	}()
	require.Eventually(t, func() bool { return f.backend.RefreshCalls() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := f.pipeline.Me(ctx)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Less(t, elapsed, 400*time.Millisecond, "waiter should stop at its own deadline")
	assert.True(t, f.store.State().IsAuthenticated, "an abandoned wait must not end the session")

	require.NoError(t, <-leader)
	assert.Equal(t, 1, f.backend.RefreshCalls())
	assert.Empty(t, f.nav.Paths())
	assert.True(t, f.store.State().IsAuthenticated)
}
