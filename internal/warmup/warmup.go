// Package warmup refreshes the configured watchlist once at startup and
// again at every UTC midnight: each symbol is re-resolved against the
// gateway and its recent bars are pre-fetched so the day's first request
// hits the cache.
package warmup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"histcache/config"
	"histcache/internal/fetch"
	"histcache/internal/market"
	"histcache/pkg/ibgw"
)

// InstrumentSink persists resolved instrument metadata.
type InstrumentSink interface {
	EnsureInstrument(ctx context.Context, inst market.Instrument) (uint, error)
}

// Refresher runs the daily watchlist pass.
type Refresher struct {
	cfg      config.WarmupConfig
	resolver ibgw.InstrumentResolver
	store    InstrumentSink
	fetcher  *fetch.Orchestrator
	logger   *zap.Logger
}

func NewRefresher(cfg config.WarmupConfig, resolver ibgw.InstrumentResolver, store InstrumentSink, fetcher *fetch.Orchestrator, logger *zap.Logger) *Refresher {
	return &Refresher{
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		fetcher:  fetcher,
		logger:   logger,
	}
}

// Start runs one pass immediately, then once every UTC midnight until ctx
// is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		r.runOnce(ctx)

		for {
			now := time.Now().UTC()
			nextMidnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)

			select {
			case <-time.After(time.Until(nextMidnight)):
				r.runOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// runOnce streams the watchlist through a channel so resolution and
// prefetch overlap instead of running strictly one symbol at a time.
func (r *Refresher) runOnce(ctx context.Context) {
	tf, err := market.ParseTimeframe(r.cfg.Timeframe)
	if err != nil {
		r.logger.Error("warmup misconfigured", zap.Error(err))
		return
	}

	symbolCh := make(chan string, len(r.cfg.Watchlist))
	go func() {
		defer close(symbolCh)
		for _, symbol := range r.cfg.Watchlist {
			select {
			case symbolCh <- symbol:
			case <-ctx.Done():
				return
			}
		}
	}()

	refreshed := 0
	for symbol := range symbolCh {
		if err := r.refreshSymbol(ctx, symbol, tf); err != nil {
			r.logger.Warn("watchlist refresh failed for symbol",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		refreshed++
	}
	r.logger.Info("watchlist refresh complete",
		zap.Int("refreshed", refreshed),
		zap.Int("watchlist", len(r.cfg.Watchlist)))
}

func (r *Refresher) refreshSymbol(ctx context.Context, symbol string, tf market.Timeframe) error {
	inst, err := market.NewInstrument(symbol, market.SecTypeStock, "SMART", "USD")
	if err != nil {
		return err
	}

	resolved, description, err := r.resolver.ResolveInstrument(ctx, inst)
	if err != nil {
		return err
	}
	if _, err := r.store.EnsureInstrument(ctx, resolved); err != nil {
		return err
	}
	r.logger.Debug("resolved instrument",
		zap.String("key", resolved.Key()),
		zap.String("description", description))

	lookback := r.cfg.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	end := time.Now().UTC()
	req, err := market.NewHistoryRequest(resolved, tf, end.Add(-lookback), end)
	if err != nil {
		return err
	}

	_, err = r.fetcher.Fetch(ctx, req)
	return err
}
