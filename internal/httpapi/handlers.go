package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/apiclient"
	"nawra-portal/internal/audit"
	"nawra-portal/internal/auth"
	"nawra-portal/internal/guard"
	"nawra-portal/internal/route"
	"nawra-portal/internal/session"
	"nawra-portal/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	API         *apiclient.Client
	Sessions    *session.Registry
	Permissions guard.PermissionMap
	// Audit and Decisions are optional.
	Audit         *audit.Service
	Decisions     guard.DecisionObserver
	Cookie        auth.CookieConfig
	DefaultLocale route.Locale
}

// anonymousSession tags audit events that happen before a session exists.
const anonymousSession = "anonymous"

func (h Handlers) locale(c *gin.Context) route.Locale {
	return route.FromRequest(c.Request, h.DefaultLocale)
}

func (h Handlers) pipeline(c *gin.Context, st *session.Store, nav route.Navigator) *apiclient.Pipeline {
	return h.API.Pipeline(st, apiclient.PipelineOptions{
		Navigator: nav,
		Locale:    h.locale(c),
		Logger:    logger.FromGin(c),
	})
}

func (h Handlers) record(c *gin.Context, e audit.Event) {
	if e.SessionID == "" {
		e.SessionID = anonymousSession
	}
	e.IPAddress = c.ClientIP()
	h.Audit.Record(c.Request.Context(), e)
}

// --- Auth ---

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// Login exchanges credentials at the backend and opens a fresh session.
func (h Handlers) Login(c *gin.Context) {
	locale := h.locale(c)
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": message(locale, msgMissingFields)})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "validation", "message": message(locale, msgMissingFields)})
		return
	}

	ctx := c.Request.Context()
	log := logger.FromGin(c)
	res, err := h.API.Login(ctx, apiclient.LoginRequest{Email: req.Email, Password: req.Password, RememberMe: req.RememberMe})
	if err != nil {
		kind := apiclient.KindOf(err)
		log.Info("login failed", "kind", kind, "err", err)
		h.record(c, audit.Event{Type: audit.EventLoginFailed, Email: req.Email, Message: string(kind)})

		body := gin.H{"error": string(kind), "message": loginMessage(locale, kind)}
		var verr *apiclient.ValidationError
		if errors.As(err, &verr) && len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		c.AbortWithStatusJSON(loginStatus(kind), body)
		return
	}

	// Sign-in always rotates the session id.
	if prev, ok := auth.SessionFromGin(c); ok {
		if err := h.pipeline(c, prev, nil).Logout(ctx); err != nil {
			log.Warn("closing previous session failed", "session_id", prev.ID(), "err", err)
		}
		h.Sessions.Drop(prev.ID())
	}

	st := h.Sessions.Create()
	if err := st.SetTokens(ctx, res.Tokens.AccessToken, res.Tokens.RefreshToken); err != nil {
		log.Error("persist session tokens failed", "session_id", st.ID(), "err", err)
	}
	if err := st.SetUser(ctx, res.User); err != nil {
		log.Error("persist session identity failed", "session_id", st.ID(), "err", err)
	}
	auth.SetSessionCookie(c, h.Cookie, st.ID(), req.RememberMe)
	logger.Annotate(c, "session_id", st.ID())
	h.record(c, audit.Event{SessionID: st.ID(), Type: audit.EventLogin, UserID: res.User.ID})

	c.JSON(http.StatusOK, gin.H{
		"user":             res.User,
		"is_authenticated": true,
		"redirect":         route.Path(locale, route.Dashboard),
	})
}

func loginStatus(kind apiclient.Kind) int {
	switch kind {
	case apiclient.KindAuthentication:
		return http.StatusUnauthorized
	case apiclient.KindValidation:
		return http.StatusUnprocessableEntity
	case apiclient.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Logout is idempotent: without a session it only clears the cookie.
func (h Handlers) Logout(c *gin.Context) {
	locale := h.locale(c)
	if st, ok := auth.SessionFromGin(c); ok {
		userID := ""
		if u := st.State().User; u != nil {
			userID = u.ID
		}
		if err := h.pipeline(c, st, nil).Logout(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("logout persistence failed", "err", err)
		}
		h.Sessions.Drop(st.ID())
		h.record(c, audit.Event{SessionID: st.ID(), Type: audit.EventLogout, UserID: userID})
	}
	auth.ClearSessionCookie(c, h.Cookie)
	c.JSON(http.StatusOK, gin.H{"is_authenticated": false, "redirect": route.Path(locale, route.Login)})
}

// Me refreshes the identity from the backend and stores it.
func (h Handlers) Me(c *gin.Context) {
	st, ok := auth.SessionFromGin(c)
	if !ok {
		h.unauthenticated(c)
		return
	}
	nav := &route.Recorder{}
	id, err := h.pipeline(c, st, nav).Me(c.Request.Context())
	if err != nil {
		h.pipelineError(c, st, nav, err)
		return
	}
	if err := st.SetUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, session.ErrInvalidIdentity) {
			logger.FromGin(c).Warn("backend returned identity without id")
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "unknown", "message": message(h.locale(c), msgUnknown)})
			return
		}
		logger.FromGin(c).Error("persist session identity failed", "err", err)
	}
	c.JSON(http.StatusOK, id)
}

type sessionView struct {
	User            *session.Identity `json:"user"`
	IsAuthenticated bool              `json:"is_authenticated"`
	AccessExpiresAt *time.Time        `json:"access_expires_at,omitempty"`
	Locale          route.Locale      `json:"locale"`
	Dir             string            `json:"dir"`
}

// Session reports what the store knows. Tokens never leave the server.
func (h Handlers) Session(c *gin.Context) {
	locale := h.locale(c)
	st := auth.StateFromGin(c)
	out := sessionView{User: st.User, IsAuthenticated: st.IsAuthenticated, Locale: locale, Dir: locale.Dir()}
	if exp, ok := st.AccessExpiresAt(); ok {
		out.AccessExpiresAt = &exp
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) unauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    "unauthenticated",
		"redirect": route.Path(h.locale(c), route.Login),
	})
}

// pipelineError maps the pipeline's error taxonomy onto a response. A
// recorded navigation means the session was ended by a failed refresh.
func (h Handlers) pipelineError(c *gin.Context, st *session.Store, nav *route.Recorder, err error) {
	locale := h.locale(c)
	log := logger.FromGin(c)
	kind := apiclient.KindOf(err)

	if target, navigated := nav.Last(); navigated {
		h.Sessions.Drop(st.ID())
		auth.ClearSessionCookie(c, h.Cookie)
		h.record(c, audit.Event{SessionID: st.ID(), Type: audit.EventRefreshFailed, Message: err.Error()})
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":    "unauthenticated",
			"message":  message(locale, msgSessionExpired),
			"redirect": target,
		})
		return
	}

	switch kind {
	case apiclient.KindAuthentication:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":    "unauthenticated",
			"redirect": route.Path(locale, route.Login),
		})
	case apiclient.KindValidation:
		var verr *apiclient.ValidationError
		errors.As(err, &verr)
		body := gin.H{"error": "validation", "message": verr.Message}
		if len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		c.AbortWithStatusJSON(verr.Status, body)
	case apiclient.KindNetwork:
		log.Warn("backend unreachable", "err", err)
		status := http.StatusBadGateway
		var nerr *apiclient.NetworkError
		if errors.As(err, &nerr) && nerr.Timeout {
			status = http.StatusGatewayTimeout
		}
		c.AbortWithStatusJSON(status, gin.H{"error": "network", "message": message(locale, msgNetwork)})
	default:
		log.Error("backend call failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "unknown", "message": message(locale, msgUnknown)})
	}
}

// --- Access ---

func (h Handlers) guardTarget(c *gin.Context) guard.Target {
	return guard.Target{Locale: h.locale(c)}
}

// Access answers the guard decision for a view without gating the request.
func (h Handlers) Access(c *gin.Context) {
	resource := c.Param("resource")
	req, ok := h.Permissions.Lookup(resource)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown resource", "resource": resource})
		return
	}
	d := guard.Check(requestSource{c: c}, req, guard.Options{
		Target:   h.guardTarget(c),
		Observer: h.Decisions,
		Logger:   logger.FromGin(c),
	})
	if d.State == guard.DeniedUnauthorized {
		h.record(c, audit.Event{SessionID: sessionIDOf(c), Type: audit.EventAccessDenied, Resource: resource})
	}
	c.JSON(http.StatusOK, decisionBody(resource, d))
}

func decisionBody(resource string, d guard.Decision) gin.H {
	body := gin.H{"resource": resource, "state": d.State.String()}
	if d.Redirect != "" {
		body["redirect"] = d.Redirect
	}
	return body
}

func sessionIDOf(c *gin.Context) string {
	if st, ok := auth.SessionFromGin(c); ok {
		return st.ID()
	}
	return ""
}

// requestSource evaluates the request's session, if any.
type requestSource struct{ c *gin.Context }

func (s requestSource) State() session.State { return auth.StateFromGin(s.c) }

func (s requestSource) Subscribe(fn func(session.State)) func() {
	if st, ok := auth.SessionFromGin(s.c); ok {
		return st.Subscribe(fn)
	}
	return func() {}
}

// OnDenied records guard denials from the proxy middleware.
func (h Handlers) OnDenied(c *gin.Context, resource string, d guard.Decision) {
	if d.State != guard.DeniedUnauthorized {
		return
	}
	h.record(c, audit.Event{SessionID: sessionIDOf(c), Type: audit.EventAccessDenied, Resource: resource})
}
