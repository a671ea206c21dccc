package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/audit"
	"nawra-portal/internal/auth"
	"nawra-portal/internal/guard"
	"nawra-portal/pkg/logger"
)

var watchHeartbeat = 15 * time.Second

type decisionFunc func(guard.State)

func (f decisionFunc) ObserveDecision(s guard.State) { f(s) }

// latest is a one-slot mailbox: a newer decision replaces an unread one.
type latest chan guard.Decision

func (l latest) put(d guard.Decision) {
	for {
		select {
		case l <- d:
			return
		default:
		}
		select {
		case <-l:
		default:
		}
	}
}

// WatchAccess mounts a guard for the request's session and streams every
// decision change as a server-sent "decision" event. The stream ends after
// a denial, whose redirect the page should follow.
func (h Handlers) WatchAccess(c *gin.Context) {
	resource := c.Param("resource")
	req, ok := h.Permissions.Lookup(resource)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown resource", "resource": resource})
		return
	}
	st, ok := auth.SessionFromGin(c)
	if !ok {
		h.unauthenticated(c)
		return
	}

	updates := make(latest, 1)
	var g *guard.Guard
	observe := decisionFunc(func(s guard.State) {
		if h.Decisions != nil {
			h.Decisions.ObserveDecision(s)
		}
		updates.put(g.Decision())
	})
	g = guard.New(st, req, guard.Options{
		Target:   h.guardTarget(c),
		Observer: observe,
		Logger:   logger.FromGin(c),
	})
	g.Start()
	defer g.Close()

	if g.Decision().State == guard.DeniedUnauthorized {
		h.record(c, audit.Event{SessionID: st.ID(), Type: audit.EventAccessDenied, Resource: resource})
	}

	heartbeat := time.NewTicker(watchHeartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		select {
		case d := <-updates:
			c.SSEvent("decision", decisionBody(resource, d))
			return !d.State.Denied()
		case <-heartbeat.C:
			// Picks up a logout or permission change made by another instance;
			// the store notifies the guard if anything changed.
			if _, err := st.Sync(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("session sync failed", "err", err)
			}
			c.SSEvent("ping", "")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
