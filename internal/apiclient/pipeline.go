package apiclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"nawra-portal/internal/route"
	"nawra-portal/internal/session"
)

// Credentials is the slice of the credential store the pipeline needs.
type Credentials interface {
	State() session.State
	SetTokens(ctx context.Context, accessToken, refreshToken string) error
	Logout(ctx context.Context) error
}

// Syncer is implemented by credentials whose persistence is shared with other
// processes. Sync adopts what they persisted and reports whether the session
// still exists.
type Syncer interface {
	Sync(ctx context.Context) (bool, error)
}

// ErrSessionEnded means the persisted session disappeared, typically through
// a logout handled by another process.
var ErrSessionEnded = errors.New("apiclient: session ended")

type PipelineOptions struct {
	// Navigator receives the login redirect when a refresh fails. Nil discards it.
	Navigator route.Navigator
	Locale    route.Locale
	Logger    *slog.Logger
}

// Attempt is the retry ledger for one logical request.
type Attempt struct {
	Request Request
	Retried bool
}

// Pipeline sends requests for one session.
type Pipeline struct {
	client *Client
	creds  Credentials
	nav    route.Navigator
	locale route.Locale
	log    *slog.Logger
}

func (c *Client) Pipeline(creds Credentials, opts PipelineOptions) *Pipeline {
	nav := opts.Navigator
	if nav == nil {
		nav = route.NavigatorFunc(func(string) {})
	}
	log := opts.Logger
	if log == nil {
		log = c.log
	}
	locale := opts.Locale
	if !locale.Valid() {
		locale = route.DefaultLocale
	}
	return &Pipeline{client: c, creds: creds, nav: nav, locale: locale, log: log}
}

// Do sends r with the current access token. Any status is returned as a
// response; only transport failures and failed refreshes are errors.
//
// A 401 on the first attempt triggers at most one refresh followed by one
// resend, whose result is returned as-is.
func (p *Pipeline) Do(ctx context.Context, r Request) (*http.Response, error) {
	return p.do(ctx, Attempt{Request: r})
}

func (p *Pipeline) do(ctx context.Context, a Attempt) (*http.Response, error) {
	sent := p.creds.State().AccessToken
	resp, err := p.client.send(ctx, a.Request, sent.Reveal())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || a.Retried {
		return resp, nil
	}

	next := Attempt{Request: a.Request, Retried: true}
	current := p.creds.State()

	if !current.AccessToken.IsZero() && !current.AccessToken.Equal(sent) {
		drain(resp)
		p.client.observe(RefreshSkipped)
		return p.do(ctx, next)
	}
	if current.RefreshToken.IsZero() {
		return resp, nil
	}
	drain(resp)

	// Another process may have rotated the pair since this one last saw it;
	// refreshing with the stale token would be rejected.
	current, err = p.sync(ctx, current)
	if err != nil {
		return nil, p.failRefresh(ctx, err)
	}

	if _, err := p.refreshShared(ctx, current.RefreshToken); err != nil {
		if ctx.Err() != nil {
			// Abandoned; the shared refresh still completes for everyone else.
			return nil, err
		}
		return nil, p.failRefresh(ctx, err)
	}
	return p.do(ctx, next)
}

func (p *Pipeline) sync(ctx context.Context, current session.State) (session.State, error) {
	s, ok := p.creds.(Syncer)
	if !ok {
		return current, nil
	}
	found, err := s.Sync(ctx)
	if err != nil {
		p.log.Warn("reload persisted credentials failed", "err", err)
		return current, nil
	}
	synced := p.creds.State()
	if !found || synced.RefreshToken.IsZero() {
		return synced, ErrSessionEnded
	}
	if !synced.RefreshToken.Equal(current.RefreshToken) {
		p.log.Debug("adopted refresh token rotated elsewhere")
	}
	return synced, nil
}

// refreshShared coalesces concurrent refreshes of the same refresh token into
// one backend call, keyed by the token. The new pair is stored before the
// shared call completes, so a waiter that arrives late either joins the call
// or sees the rotated pair. The call is detached from the caller's
// cancellation so an abandoned request cannot fail the others, and a
// cancelled caller stops waiting without affecting the call.
func (p *Pipeline) refreshShared(ctx context.Context, refresh session.DurableSecret) (TokenPair, error) {
	key := refresh.Reveal()
	detached := context.WithoutCancel(ctx)
	ch := p.client.refreshes.DoChan(key, func() (any, error) {
		if cur := p.creds.State(); !cur.AccessToken.IsZero() && !cur.RefreshToken.Equal(refresh) {
			p.client.observe(RefreshSkipped)
			return TokenPair{AccessToken: cur.AccessToken.Reveal(), RefreshToken: cur.RefreshToken.Reveal()}, nil
		}
		pair, err := p.client.Refresh(detached, key)
		if err != nil {
			p.client.observe(RefreshFailure)
			return nil, err
		}
		p.client.observe(RefreshSuccess)
		if err := p.creds.SetTokens(detached, pair.AccessToken, pair.RefreshToken); err != nil {
			// Memory already holds the new pair; only remember-me persistence degraded.
			p.log.Warn("persist refreshed tokens failed", "err", err)
		}
		return pair, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			p.log.Debug("refresh result shared with concurrent requests")
		}
		if res.Err != nil {
			return TokenPair{}, res.Err
		}
		return res.Val.(TokenPair), nil
	case <-ctx.Done():
		return TokenPair{}, &NetworkError{Op: "await token refresh", Timeout: isTimeout(ctx.Err()), Err: ctx.Err()}
	}
}

func (p *Pipeline) failRefresh(ctx context.Context, cause error) error {
	p.log.Info("token refresh failed; logging out", "kind", KindOf(cause), "err", cause)
	if err := p.creds.Logout(context.WithoutCancel(ctx)); err != nil {
		p.log.Warn("logout after failed refresh", "err", err)
	}
	p.nav.Navigate(route.Path(p.locale, route.Login))
	return &AuthenticationError{Status: http.StatusUnauthorized, Message: "session expired", Err: cause}
}

// DoJSON sends r through Do and decodes a 2xx body into out. Non-2xx
// statuses are classified into the error taxonomy.
func (p *Pipeline) DoJSON(ctx context.Context, r Request, out any) error {
	resp, err := p.Do(ctx, r)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// Me fetches the current identity from the backend.
func (p *Pipeline) Me(ctx context.Context) (session.Identity, error) {
	var id session.Identity
	if err := p.DoJSON(ctx, Request{Method: http.MethodGet, Path: "/auth/me"}, &id); err != nil {
		return session.Identity{}, err
	}
	return id, nil
}

// Logout revokes the session at the backend (best effort, never retried)
// and then clears the store. Only store errors are returned; the backend
// error is logged.
func (p *Pipeline) Logout(ctx context.Context) error {
	st := p.creds.State()
	if !st.AccessToken.IsZero() || !st.RefreshToken.IsZero() {
		if err := p.client.RevokeSession(ctx, st.AccessToken.Reveal(), st.RefreshToken.Reveal()); err != nil {
			p.log.Info("backend logout failed", "kind", KindOf(err), "err", err)
		}
	}
	return p.creds.Logout(ctx)
}
