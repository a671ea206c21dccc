package guard

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/auth"
	"nawra-portal/internal/route"
	"nawra-portal/internal/session"
	"nawra-portal/pkg/logger"
)

const ginDecisionKey = "guard.decision"

type MiddlewareOptions struct {
	Permissions PermissionMap
	// Fallback is the locale-relative route for unauthorized users. Default: dashboard root.
	Fallback      string
	DefaultLocale route.Locale
	Observer      DecisionObserver
	// OnDenied runs after a denial is decided and before the response is written.
	OnDenied func(c *gin.Context, resource string, d Decision)
}

// Require gates a route group behind a fixed resource of the permission map.
func Require(resource string, opts MiddlewareOptions) gin.HandlerFunc {
	return RequireFunc(func(*gin.Context) string { return resource }, opts)
}

// RequireFunc resolves the resource per request.
//
// API callers get 401 {"error":"unauthenticated","redirect":...} or
// 403 {"error":"access_denied","resource":...,"redirect":...}. Browser page
// loads (Accept: text/html) get a 303 to the same redirect target.
func RequireFunc(resolve func(*gin.Context) string, opts MiddlewareOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		resource := resolve(c)
		req, ok := opts.Permissions.Lookup(resource)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown resource", "resource": resource})
			return
		}

		nav := &route.Recorder{}
		d := Check(stateSource{c: c}, req, Options{
			Target: Target{
				Locale:   route.FromRequest(c.Request, opts.DefaultLocale),
				Fallback: opts.Fallback,
			},
			Navigator: nav,
			Observer:  opts.Observer,
			Logger:    logger.FromGin(c),
		})
		c.Set(ginDecisionKey, d)

		if d.State == Granted {
			c.Next()
			return
		}
		if opts.OnDenied != nil {
			opts.OnDenied(c, resource, d)
		}
		target, _ := nav.Last()
		if target == "" {
			target = d.Redirect
		}
		if wantsHTML(c.Request) {
			c.Redirect(http.StatusSeeOther, target)
			c.Abort()
			return
		}
		if d.State == DeniedUnauthenticated {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "redirect": target})
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access_denied", "resource": resource, "redirect": target})
	}
}

// DecisionFromGin returns the decision Require made for this request.
func DecisionFromGin(c *gin.Context) (Decision, bool) {
	v, ok := c.Get(ginDecisionKey)
	if !ok {
		return Decision{}, false
	}
	d, ok := v.(Decision)
	return d, ok
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// stateSource adapts the request's session to Source. Requests without a
// session evaluate as signed out and never notify.
type stateSource struct{ c *gin.Context }

func (s stateSource) State() session.State {
	return auth.StateFromGin(s.c)
}

func (s stateSource) Subscribe(fn func(session.State)) func() {
	if st, ok := auth.SessionFromGin(s.c); ok {
		return st.Subscribe(fn)
	}
	return func() {}
}
