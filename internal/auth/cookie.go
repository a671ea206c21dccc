package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/session"
)

// CookieConfig controls the browser session cookie. The cookie only carries
// the opaque session id; tokens never reach the browser.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
	Path   string
}

func (c CookieConfig) withDefaults() CookieConfig {
	out := c
	if out.Name == "" {
		out.Name = "nawra_sid"
	}
	if out.MaxAge <= 0 {
		out.MaxAge = session.DefaultRefreshTTL
	}
	if out.Path == "" {
		out.Path = "/"
	}
	return out
}

func (c CookieConfig) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// SetSessionCookie issues the session cookie. A non-persistent cookie ends
// with the browser session ("remember me" unchecked).
func SetSessionCookie(c *gin.Context, cfg CookieConfig, sessionID string, persistent bool) {
	cfg = cfg.withDefaults()
	maxAge := 0
	if persistent {
		maxAge = int(cfg.MaxAge.Seconds())
	}
	http.SetCookie(c.Writer, cfg.cookie(sessionID, maxAge))
}

func ClearSessionCookie(c *gin.Context, cfg CookieConfig) {
	cfg = cfg.withDefaults()
	http.SetCookie(c.Writer, cfg.cookie("", -1))
}

func sessionID(c *gin.Context, cfg CookieConfig) string {
	v, err := c.Cookie(cfg.withDefaults().Name)
	if err != nil {
		return ""
	}
	return v
}
