package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/api"
	"github.com/jmin1219/voku/internal/app"
	"github.com/jmin1219/voku/internal/buildconfig"
	"github.com/jmin1219/voku/internal/config"
)

func main() {
	if err := config.Load(); err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := config.NewLogger()
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	a, err := app.New(ctx, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	logger.Info("voku ready",
		zap.String("driver", config.LedgerDriver()),
		zap.Int("indexed", a.Index.Len()),
		zap.String("build", buildconfig.String()),
	)

	if err := a.StartWorkers(); err != nil {
		a.Close()
		logger.Fatal("failed to start background workers", zap.Error(err))
	}

	server := api.NewServer(a, api.RouterConfig{
		APIKey:         config.APIKey(),
		RateLimitRPS:   config.RateLimitRPS(),
		RateLimitBurst: config.RateLimitBurst(),
	}, logger)

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	a.StopWorkers()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	server.Close()
	a.Close()

	logger.Info("server stopped")
}
