package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/apiclient"
	"nawra-portal/internal/auth"
	"nawra-portal/internal/guard"
	"nawra-portal/internal/route"
	"nawra-portal/pkg/logger"
)

const maxProxyBody = 1 << 20

// relayedHeaders are copied from the backend response to the browser.
var relayedHeaders = []string{"Content-Type", "Content-Language", "Cache-Control", "Location"}

// ProxyResource names the view that gates a proxied backend path. Unknown
// paths resolve to "" and are rejected by the guard middleware.
func ProxyResource(c *gin.Context) string {
	return proxyResource(c.Request.Method, c.Param("path"))
}

func proxyResource(method, path string) string {
	seg := strings.Trim(path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	write := method != http.MethodGet && method != http.MethodHead && method != http.MethodOptions

	switch seg {
	case "books", "catalog":
		if write {
			return guard.ResourceCatalogEdit
		}
		return guard.ResourceCatalog
	case "circulation", "loans":
		return guard.ResourceCirculation
	case "reports":
		return guard.ResourceReports
	case "users":
		if write {
			return guard.ResourceUsersManage
		}
		return guard.ResourceUsers
	case "settings":
		return guard.ResourceSettings
	default:
		return ""
	}
}

// Proxy forwards the request to the backend with the session's credentials.
// Backend statuses are relayed verbatim; only pipeline errors are mapped.
func (h Handlers) Proxy(c *gin.Context) {
	st, ok := auth.SessionFromGin(c)
	if !ok {
		h.unauthenticated(c)
		return
	}

	var body []byte
	if c.Request.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if len(raw) > maxProxyBody {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		if len(raw) > 0 {
			body = raw
		}
	}

	query := c.Request.URL.Query()
	query.Del("locale")
	header := http.Header{}
	if ct := c.GetHeader("Content-Type"); ct != "" {
		header.Set("Content-Type", ct)
	}
	if al := c.GetHeader("Accept-Language"); al != "" {
		header.Set("Accept-Language", al)
	}

	nav := &route.Recorder{}
	resp, err := h.pipeline(c, st, nav).Do(c.Request.Context(), apiclient.Request{
		Method: c.Request.Method,
		Path:   c.Param("path"),
		Query:  query,
		Header: header,
		Body:   body,
	})
	if err != nil {
		h.pipelineError(c, st, nav, err)
		return
	}
	defer resp.Body.Close()

	for _, k := range relayedHeaders {
		if v := resp.Header.Get(k); v != "" {
			c.Header(k, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logger.FromGin(c).Warn("relay backend body failed", "status", resp.StatusCode, "err", err)
	}
}
