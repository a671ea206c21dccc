package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"nawra-portal/internal/apiclient"
	"nawra-portal/internal/audit"
	"nawra-portal/internal/auth"
	"nawra-portal/internal/config"
	"nawra-portal/internal/guard"
	"nawra-portal/internal/httpapi"
	"nawra-portal/internal/obs"
	"nawra-portal/internal/route"
	"nawra-portal/internal/session"
	"nawra-portal/internal/session/redisstore"
	"nawra-portal/pkg/logger"
	"nawra-portal/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, err := obs.NewHTTPMetrics(obs.Options{Registerer: reg})
	if err != nil {
		log.Error("metrics init failed", "err", err)
		os.Exit(1)
	}
	sessionMetrics, err := obs.NewSessionMetrics(obs.Options{Registerer: reg})
	if err != nil {
		log.Error("metrics init failed", "err", err)
		os.Exit(1)
	}

	var (
		db  *sql.DB
		rdb *redis.Client
	)

	persistence := session.MemoryPersistence()
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		persistence = redisstore.New(rdb, "").Persistence(cfg.Session.RefreshTTL)
	} else {
		persistence.TTL = cfg.Session.RefreshTTL
		log.Warn("REDIS_HOST not set; sessions do not survive a restart")
	}

	var auditRepo audit.Repository = audit.NewMemoryRepo()
	if cfg.DBEnabled() {
		db, err = utils.OpenPostgres(rootCtx, utils.PostgresDriver, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := audit.EnsureSchema(rootCtx, db); err != nil {
			log.Error("audit schema failed", "err", err)
			os.Exit(1)
		}
		auditRepo = audit.NewPostgresRepo(db)
	}

	client, err := apiclient.New(apiclient.Options{
		BaseURL:  cfg.Backend.BaseURL,
		Timeout:  cfg.Backend.Timeout,
		Logger:   log,
		Observer: sessionMetrics,
	})
	if err != nil {
		log.Error("backend client init failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.Handlers{
		API:         client,
		Sessions:    session.NewRegistry(persistence, log, session.WithIdleTimeout(cfg.Session.IdleTimeout)),
		Permissions: guard.DefaultPermissionMap(),
		Audit:       audit.NewService(auditRepo, log),
		Decisions:   sessionMetrics,
		Cookie: auth.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.IsProduction(),
			MaxAge: cfg.Session.RefreshTTL,
		},
		DefaultLocale: route.Locale(cfg.Session.DefaultLocale),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/readyz", "/metrics"))
	r.Use(httpMetrics.Handler())

	registerRoutes(r, routeDeps{
		handlers: h,
		limiter:  httpapi.NewLoginLimiter(cfg.Login.RatePerMinute, cfg.Login.Burst),
		gatherer: reg,
		db:       db,
		rdb:      rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "backend", cfg.Backend.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
