package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"nawra-portal/internal/httpapi"
	"nawra-portal/pkg/utils"
)

type routeDeps struct {
	handlers httpapi.Handlers
	limiter  *httpapi.LoginLimiter
	gatherer prometheus.Gatherer
	// db and rdb are nil when the optional stores are disabled.
	db  *sql.DB
	rdb *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		checks := gin.H{}
		ready := true
		if d.db != nil {
			checks["postgres"] = "ok"
			if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
				checks["postgres"] = err.Error()
				ready = false
			}
		}
		if d.rdb != nil {
			checks["redis"] = "ok"
			if err := utils.PingRedis(c.Request.Context(), d.rdb, 2*time.Second); err != nil {
				checks["redis"] = err.Error()
				ready = false
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "checks": checks})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})))

	// session API and guarded backend proxy
	httpapi.Routes(r, d.handlers, d.limiter)
}
