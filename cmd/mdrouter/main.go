package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/api"
	"github.com/michael-ngx/crypto-router/internal/feed"
	"github.com/michael-ngx/crypto-router/internal/infrastructure/config"
	"github.com/michael-ngx/crypto-router/internal/router"
	"github.com/michael-ngx/crypto-router/internal/storage"
	"github.com/michael-ngx/crypto-router/internal/venues"
	"github.com/michael-ngx/crypto-router/pkg/logger"
	"github.com/michael-ngx/crypto-router/pkg/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	m := metrics.New()

	var store storage.Store
	if cfg.DatabaseURL != "" {
		store, err = storage.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to open order store", zap.Error(err))
		}
	} else {
		log.Warn("DATABASE_URL not set; order entry will be rejected")
	}

	mgr := feed.NewManager(
		venues.Runtimes(log, m),
		cfg.Pairs,
		feed.ManagerOptions{
			IdleTimeout:   cfg.Feed.IdleTimeout,
			SweepInterval: cfg.Feed.SweepInterval,
			HotPairs:      cfg.Feed.HotPairs,
			PrewarmAll:    cfg.Feed.PrewarmAll,
		},
		log,
	)
	mgr.StartHot()

	orders := router.NewService(mgr, store, log, m)
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: api.New(mgr, orders, m, log).Routes(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	mgr.Shutdown()
	log.Info("bye")
}
