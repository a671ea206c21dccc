package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/config"
	"nawra-portal/internal/mockbackend"
	"nawra-portal/pkg/logger"
)

// basePath matches the default BACKEND_BASE_URL.
const basePath = "/api/v1"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		slog.Error("the mock backend refuses to run with APP_ENV=production")
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env).With("component", "mockapi")
	slog.SetDefault(log)

	backend, err := mockbackend.New(mockbackend.Options{
		Secret:     cfg.Mock.JWTSecret,
		AccessTTL:  cfg.Mock.AccessTTL,
		RefreshTTL: cfg.Session.RefreshTTL,
		Logger:     log,
	})
	if err != nil {
		log.Error("mock backend init failed", "err", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz"))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Any(basePath+"/*path", gin.WrapH(http.StripPrefix(basePath, backend.Handler())))

	srv := &http.Server{
		Addr:              cfg.MockAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("mock backend listening", "addr", srv.Addr, "base_path", basePath, "access_ttl", cfg.Mock.AccessTTL.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
