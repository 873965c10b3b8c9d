// Command redlimitd runs the distributed rate-limiting service: it serves
// the HTTP surface in spec §6, runs the sync worker in the background, and
// shuts both down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ajiwo/redlimit/internal/backend"
	"github.com/ajiwo/redlimit/internal/config"
	"github.com/ajiwo/redlimit/internal/healthchecker"
	"github.com/ajiwo/redlimit/internal/httpapi"
	"github.com/ajiwo/redlimit/internal/limiter"
	"github.com/ajiwo/redlimit/internal/metrics"
	"github.com/ajiwo/redlimit/internal/rules"
	"github.com/ajiwo/redlimit/internal/syncworker"
)

const version = "v0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config-load errors are fatal at startup (spec §7).
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	be, err := backend.New(backend.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		PoolSize: cfg.Redis.MaxConnections,
	})
	if err != nil {
		logger.Fatal("redis connection pool error", zap.Error(err))
	}
	defer be.Close()

	ctx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	if err := be.LoadScripts(ctx); err != nil {
		cancelBoot()
		logger.Fatal("redis FUNCTION LOAD error", zap.Error(err))
	}
	cancelBoot()

	resolver := rules.NewResolver(cfg.Rules)
	m := metrics.New(prometheus.DefaultRegisterer)

	limiterSvc := &limiter.Service{
		Resolver:  resolver,
		Backend:   be,
		Namespace: cfg.Namespace,
		Logger:    logger,
		Metrics:   m,
	}

	worker := &syncworker.Worker{
		Backend:   be,
		Resolver:  resolver,
		Namespace: cfg.Namespace,
		Interval:  cfg.JobInterval(),
		Logger:    logger,
		Metrics:   m,
	}

	health := healthchecker.New(be, healthchecker.DefaultConfig(), func() {
		logger.Warn("backend recovered after a failed ping")
		m.BackendRecoveries.Inc()
		reloadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := be.LoadScripts(reloadCtx); err != nil {
			logger.Error("script reload after recovery failed", zap.Error(err))
		}
	})
	health.Start()
	defer health.Stop()

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting sync worker", zap.Duration("interval", cfg.JobInterval()))
		worker.Run(workerCtx)
		logger.Info("sync worker shut down gracefully")
	}()

	srv := &httpapi.Server{
		Limiter:   limiterSvc,
		Resolver:  resolver,
		Backend:   be,
		Info:      httpapi.AppInfo{Name: "redlimit", Version: version},
		Logger:    logger,
		Namespace: cfg.Namespace,
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("redlimit service starting", zap.Int("port", cfg.Server.Port))
		var err error
		if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			err = httpServer.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	cancelWorker()
	wg.Wait()
	logger.Info("redlimit service shutdown gracefully")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
