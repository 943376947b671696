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

	"github.com/joho/godotenv"
	"github.com/juju/clock"

	"github.com/raiden-shogun/pwapi/internal/cache"
	"github.com/raiden-shogun/pwapi/internal/config"
	"github.com/raiden-shogun/pwapi/internal/dispatch"
	"github.com/raiden-shogun/pwapi/internal/health"
	"github.com/raiden-shogun/pwapi/internal/keypool"
	"github.com/raiden-shogun/pwapi/internal/metrics"
	"github.com/raiden-shogun/pwapi/internal/ratelimit"
	"github.com/raiden-shogun/pwapi/internal/service"
	"github.com/raiden-shogun/pwapi/internal/upstream"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(os.Getenv("PWAPI_CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	creds, err := cfg.Credentials()
	if err != nil {
		logger.Error("failed to expand credentials", "error", err)
		os.Exit(1)
	}

	clk := clock.WallClock
	m := metrics.New()

	limiter := ratelimit.NewWindowLimiter(
		ratelimit.WithLimit(cfg.Quota.LimitPerWindow),
		ratelimit.WithWindow(cfg.Quota.Window),
		ratelimit.WithClock(clk),
	)
	monitor := health.NewMonitor(logger,
		health.WithRecoveryPeriod(cfg.Health.RecoveryPeriod),
		health.WithClock(clk),
	)
	pool := keypool.NewPool(creds, limiter, monitor)

	transport := upstream.NewClient(upstream.WithBaseURL(cfg.Upstream.BaseURL))

	dispatcher := dispatch.New(pool, limiter, monitor, transport, logger,
		dispatch.WithClock(clk),
		dispatch.WithCallTimeout(cfg.Upstream.CallTimeout),
		dispatch.WithMetrics(m),
		dispatch.WithPacer(ratelimit.NewPacer(cfg.Quota.Pace)),
	)

	svc := service.New(service.Params{
		Dispatcher:  dispatcher,
		Pool:        pool,
		Logger:      logger,
		Clock:       clk,
		Metrics:     m,
		AllianceID:  cfg.AllianceID,
		BulkTTL:     cfg.Cache.BulkTTL,
		NationTTL:   cfg.Cache.NationTTL,
		AllianceTTL: cfg.Cache.AllianceTTL,
		SnapshotDir: cfg.Cache.SnapshotDir,
	})
	svc.WarmStart()

	sweeps := svc.Sweeps()
	tiers := make([]cache.Refreshable, len(sweeps))
	for i, s := range sweeps {
		tiers[i] = s
	}
	scheduler := cache.NewScheduler(logger, clk, tiers...)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: m.Handler(),
	}
	go func() {
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("pwapid started",
		"scopes", len(pool.Scopes()),
		"keys", len(creds),
		"alliance_id", cfg.AllianceID,
	)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-signalChan:
		logger.Info("received shutdown signal", "signal", s.String())
	case <-ctx.Done():
		logger.Info("context cancelled, initiating shutdown")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error stopping metrics server", "error", err)
	}
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not drain before deadline")
	}
	logger.Info("shutdown complete")
}
