package httpapi

import (
	"github.com/gin-gonic/gin"

	"nawra-portal/internal/auth"
	"nawra-portal/internal/guard"
)

// Routes mounts the session API under /api. Keep this free of business
// logic; handlers delegate to internal modules.
func Routes(r gin.IRouter, h Handlers, limiter *LoginLimiter) {
	api := r.Group("/api")
	api.Use(auth.LoadSession(h.Sessions, h.Cookie))

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", limiter.Middleware(h.DefaultLocale), h.Login)
		authGroup.POST("/logout", h.Logout)
		authGroup.GET("/me", auth.RequireSession(), h.Me)
	}

	api.GET("/session", h.Session)
	api.GET("/access/:resource", h.Access)
	api.GET("/access/:resource/watch", h.WatchAccess)

	backend := api.Group("/v1")
	backend.Use(guard.RequireFunc(ProxyResource, guard.MiddlewareOptions{
		Permissions:   h.Permissions,
		DefaultLocale: h.DefaultLocale,
		Observer:      h.Decisions,
		OnDenied:      h.OnDenied,
	}))
	backend.Any("/*path", h.Proxy)
}
