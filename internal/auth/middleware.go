package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/session"
	"nawra-portal/pkg/logger"
)

// LoadSession resolves the session cookie to a live store and injects it into
// the request context. Requests without a usable session continue anonymously;
// access decisions belong to internal/guard.
func LoadSession(reg *session.Registry, cfg CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := sessionID(c, cfg)
		if sid == "" {
			c.Next()
			return
		}
		st, err := reg.Open(c.Request.Context(), sid)
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			ClearSessionCookie(c, cfg)
		case err != nil:
			logger.FromGin(c).Error("session load failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		default:
			attach(c, st)
			logger.Annotate(c, "session_id", st.ID())
		}
		c.Next()
	}
}

// RequireSession rejects requests that carry no session at all.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := SessionFromGin(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Next()
	}
}
