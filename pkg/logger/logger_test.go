package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_RequestIDAndAnnotate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "dev")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		Annotate(c, "session_id", "sid-1")
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", w.Header().Get("X-Request-Id"))
	}
	out := buf.String()
	if strings.Count(out, `"session_id":"sid-1"`) != 2 {
		t.Fatalf("expected session_id on both lines, got %s", out)
	}
	if !strings.Contains(out, `"request_id":"rid-1"`) {
		t.Fatalf("expected request_id, got %s", out)
	}
}

func TestNew_RedactsCredentialKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production")
	l.Info("login", "password", "hunter2", "refresh_token", "r-1", "email", "a@b")

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "r-1") {
		t.Fatalf("expected credentials redacted, got %s", out)
	}
	if !strings.Contains(out, "a@b") {
		t.Fatalf("expected non-secret attrs kept, got %s", out)
	}
}

func TestFromGin_DefaultsWhenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if FromGin(c) == nil {
		t.Fatalf("expected default logger")
	}
}
