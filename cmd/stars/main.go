package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"stars/internal/backend"
	"stars/internal/cache"
	"stars/internal/cli"
	"stars/internal/core"
	"stars/internal/engine"
	apphttp "stars/internal/http"
	"stars/internal/log"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldOperation, log.OpValidate, log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(nil).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	loc, _ := cfg.Location() // validated by Bootstrap
	reportCache := cache.NewLRUCache[core.Report](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	caches := cache.NewManager()
	caches.Register(reportCache)

	eng := engine.New(res.Backend,
		engine.WithLocation(loc),
		engine.WithReportCache(reportCache))
	if err := eng.Start(ctx); err != nil {
		logger.Error("Failed to start engine", log.FieldError, err)
		os.Exit(1)
	}

	opts := []apphttp.Option{
		apphttp.WithRateLimit(cfg.RateLimitRPM),
		apphttp.WithLocation(loc),
	}
	if p, ok := res.Backend.(interface{ Ping(context.Context) error }); ok {
		opts = append(opts, apphttp.WithReadiness(p.Ping))
	}
	srv := apphttp.NewServer(":"+cfg.Port, eng, opts...)
	srv.ReadTimeout = 10 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting stars server", log.FieldOperation, log.OpStartup, "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return caches.Run(gctx, time.Minute)
	})
	if res.Relay != nil {
		g.Go(func() error {
			return res.Relay.Run(gctx)
		})
	} else {
		logger.Info("Ledger relay disabled - no AMQP broker configured")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully", log.FieldOperation, log.OpShutdown)
}
