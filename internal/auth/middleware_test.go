package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/session"
)

func newRouter(reg *session.Registry, cfg CookieConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(LoadSession(reg, cfg))
	r.GET("/who", func(c *gin.Context) {
		st := StateFromGin(c)
		if st.User == nil {
			c.JSON(http.StatusOK, gin.H{"user": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": st.User.ID})
	})
	r.GET("/strict", RequireSession(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestLoadSession_AttachesLiveStore(t *testing.T) {
	reg := session.NewRegistry(session.MemoryPersistence(), nil)
	st := reg.Create()
	if err := st.SetUser(context.Background(), session.Identity{ID: "u-1"}); err != nil {
		t.Fatalf("set user: %v", err)
	}
	r := newRouter(reg, CookieConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.AddCookie(&http.Cookie{Name: "nawra_sid", Value: st.ID()})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"u-1"`) {
		t.Fatalf("expected user u-1, got %d %s", w.Code, w.Body.String())
	}
}

func TestLoadSession_UnknownCookieIsCleared(t *testing.T) {
	reg := session.NewRegistry(session.MemoryPersistence(), nil)
	r := newRouter(reg, CookieConfig{Name: "sid"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "stale"})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected anonymous request to continue, got %d", w.Code)
	}
	set := w.Header().Get("Set-Cookie")
	if !strings.Contains(set, "sid=;") || !strings.Contains(set, "Max-Age=0") {
		t.Fatalf("expected cookie cleared, got %q", set)
	}
}

func TestRequireSession(t *testing.T) {
	reg := session.NewRegistry(session.MemoryPersistence(), nil)
	r := newRouter(reg, CookieConfig{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/strict", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSetSessionCookie_Attributes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	SetSessionCookie(c, CookieConfig{Secure: true}, "sid-1", true)

	set := w.Header().Get("Set-Cookie")
	for _, want := range []string{"nawra_sid=sid-1", "HttpOnly", "Secure", "SameSite=Strict", "Max-Age=604800"} {
		if !strings.Contains(set, want) {
			t.Fatalf("expected %q in %q", want, set)
		}
	}
}

func TestSetSessionCookie_TransientWithoutRememberMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	SetSessionCookie(c, CookieConfig{}, "sid-1", false)

	set := w.Header().Get("Set-Cookie")
	if strings.Contains(set, "Max-Age") {
		t.Fatalf("expected a browser-session cookie, got %q", set)
	}
}
