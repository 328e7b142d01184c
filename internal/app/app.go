// Package app wires the service together: durable store, cache, gateway
// clients, fetch orchestrator, warmup refresher, and the HTTP API.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"histcache/config"
	"histcache/internal/cache"
	"histcache/internal/fetch"
	"histcache/internal/market"
	"histcache/internal/server"
	"histcache/internal/warmup"
	"histcache/pkg/ibgw"
	"histcache/pkg/storage/postgres"
)

// Run starts the service and blocks until SIGINT/SIGTERM, then shuts the
// HTTP server down gracefully.
func Run(cfg *config.Config, logger *zap.Logger) error {
	// Postgres is the source of truth and must be reachable at startup.
	pgClient, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pgClient.Close()

	// Redis is not: fall back to the in-process cache so the service keeps
	// serving, just without a shared cache tier.
	var barCache cache.BarCache
	redisCache, err := cache.NewRedis(cfg.Redis, cfg.Cache.KeyPrefix, logger)
	if err != nil {
		logger.Warn("redis unreachable, continuing with in-memory cache",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		barCache = cache.NewMemory(cfg.Cache.KeyPrefix)
	} else {
		barCache = redisCache
	}
	defer barCache.Close()

	restClient := ibgw.NewRESTClient(cfg.Gateway.REST.BaseURL, cfg.Gateway.REST.Timeout)

	orchestrator := fetch.New(barCache, pgClient, restClient, logger, fetch.Options{
		BarsTTL:       cfg.Cache.BarsTTL,
		Policy:        market.InvalidBarPolicy(cfg.Cache.InvalidBarPolicy),
		FlightTimeout: cfg.Fetch.FlightTimeout,
		Retry: fetch.RetryConfig{
			Attempts: cfg.Fetch.RetryAttempts,
			Delay:    cfg.Fetch.RetryDelay,
			MaxDelay: cfg.Fetch.RetryMaxDelay,
		},
	})

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Warmup.Enabled && len(cfg.Warmup.Watchlist) > 0 {
		refresher := warmup.NewRefresher(cfg.Warmup, restClient, pgClient, orchestrator, logger)
		refresher.Start(rootCtx)
	}

	if cfg.Gateway.WS.Enabled {
		startQuoteStream(cfg, barCache, logger)
	}

	healthy := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pgClient.IsHealthy(ctx)
	}

	srv := server.New(orchestrator, barCache, restClient, cfg.Cache.SymbolsTTL, healthy, logger, cfg.Server.Environment)
	httpSrv := srv.HTTPServer(cfg.Server.Addr)

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// startQuoteStream connects the gateway quote feed and routes quotes into
// the short-TTL cache class.
func startQuoteStream(cfg *config.Config, barCache cache.BarCache, logger *zap.Logger) {
	stream := ibgw.NewQuoteStream(cfg.Gateway.WS.URL, cfg.Warmup.Watchlist, logger)
	stream.SetQuoteHandler(func(q market.Quote) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		barCache.PutQuote(ctx, q, cfg.Cache.QuotesTTL)
	})

	go func() {
		for {
			if err := stream.Connect(); err != nil {
				logger.Warn("quote stream connect failed, retrying", zap.Error(err))
				time.Sleep(3 * time.Second)
				continue
			}
			stream.Listen()
			return
		}
	}()
}
