// Package fetch implements the read-through pipeline between the
// rate-limited gateway and the two downstream stores: cache lookup,
// coalesced upstream fetch, validation, durable upsert, and cache warm.
package fetch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"histcache/internal/cache"
	"histcache/internal/market"
	"histcache/pkg/ibgw"
)

// DurableStore is the persistence port. *postgres.Client satisfies it; the
// storetest memory store stands in for tests.
type DurableStore interface {
	EnsureInstrument(ctx context.Context, inst market.Instrument) (uint, error)
	UpsertBars(ctx context.Context, instrumentID uint, tf market.Timeframe, bars []market.Bar) (market.UpsertResult, error)
	QueryRange(ctx context.Context, instrumentID uint, tf market.Timeframe, start, end time.Time, limit int) ([]market.Bar, error)
	RecomputeQuality(ctx context.Context, instrumentID uint, tf market.Timeframe, day time.Time, invalid, duplicate int) (market.QualityRecord, error)
	GetQuality(ctx context.Context, instrumentID uint, tf market.Timeframe, day time.Time) (market.QualityRecord, bool, error)
}

// Options tunes the orchestrator. Zero values fall back to conservative
// defaults in New.
type Options struct {
	BarsTTL       time.Duration
	Policy        market.InvalidBarPolicy
	Retry         RetryConfig
	FlightTimeout time.Duration
}

// Result is a completed fetch: the valid bar set plus observability
// metadata. Coalesced callers share one Result; treat it as read-only.
type Result struct {
	Bars   []market.Bar `json:"bars"`
	Source string       `json:"source"` // "cache" or "upstream"

	InvalidBars int `json:"invalid_bars"`
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	RowErrors   int `json:"row_errors"`
}

// Orchestrator coordinates one fetch request through the pipeline. Safe
// for concurrent use; construct once and share.
type Orchestrator struct {
	cache    cache.BarCache
	store    DurableStore
	upstream ibgw.HistoricalClient
	logger   *zap.Logger
	opts     Options

	flights singleflight.Group
}

func New(c cache.BarCache, store DurableStore, upstream ibgw.HistoricalClient, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.BarsTTL <= 0 {
		opts.BarsTTL = 30 * time.Minute
	}
	if opts.Policy == "" {
		opts.Policy = market.PolicyReject
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = 5
	}
	if opts.Retry.Delay <= 0 {
		opts.Retry.Delay = time.Second
	}
	if opts.Retry.MaxDelay <= 0 {
		opts.Retry.MaxDelay = time.Minute
	}
	if opts.FlightTimeout <= 0 {
		opts.FlightTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		cache:    c,
		store:    store,
		upstream: upstream,
		logger:   logger,
		opts:     opts,
	}
}

// Fetch returns bars for the request, serving from cache when possible and
// otherwise fetching upstream, validating, persisting, and warming the
// cache. Concurrent calls for the same (instrument, timeframe) key share a
// single upstream fetch. An abandoning caller gets its context error back;
// the shared flight keeps running for the others.
func (o *Orchestrator) Fetch(ctx context.Context, req market.HistoryRequest) (*Result, error) {
	key := req.Instrument.Key()

	if bars, ok := o.cache.GetBars(ctx, key, req.Timeframe); ok {
		// Cached bars were validated at ingestion; return as-is.
		return &Result{Bars: bars, Source: "cache"}, nil
	}

	ch := o.flights.DoChan(req.Key(), func() (interface{}, error) {
		return o.fetchUpstream(req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		// Cancellation is caller-local: the flight continues for any
		// coalesced callers still waiting on it.
		return nil, ctx.Err()
	}
}

// fetchUpstream runs the miss path. It deliberately uses its own context:
// the flight's lifetime is bounded by FlightTimeout, not by whichever
// caller happened to start it.
func (o *Orchestrator) fetchUpstream(req market.HistoryRequest) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.FlightTimeout)
	defer cancel()

	key := req.Instrument.Key()

	var raw []market.Bar
	err := withRetry(ctx, o.opts.Retry, ibgw.Transient, func() error {
		var ferr error
		raw, ferr = o.upstream.FetchHistorical(ctx, req.Instrument, req.Timeframe, req.Start, req.End)
		if ferr != nil {
			o.logger.Warn("upstream fetch attempt failed",
				zap.String("key", key),
				zap.String("timeframe", string(req.Timeframe)),
				zap.Error(ferr))
		}
		return ferr
	})
	if err != nil {
		if ibgw.Permanent(err) {
			return nil, &Error{Class: ClassPermanent, Err: err}
		}
		return nil, &Error{Class: ClassRetryable, Err: err}
	}

	duplicates := countDuplicateTimestamps(raw)
	valid, rejected := market.Partition(raw, o.opts.Policy)
	if len(raw) > 0 && len(valid) == 0 {
		return nil, &Error{
			Class: ClassNoValidData,
			Err:   fmt.Errorf("all %d upstream bars failed validation", len(raw)),
		}
	}

	result := &Result{
		Bars:        valid,
		Source:      "upstream",
		InvalidBars: len(rejected),
	}

	o.persist(ctx, req, valid, rejected, duplicates, result)

	// Cache warm happens even when the durable write partially failed:
	// the cache reflects best-effort upstream data, the store is the
	// source of truth.
	o.cache.PutBars(ctx, key, req.Timeframe, valid, o.opts.BarsTTL)

	o.logger.Info("fetched bars from upstream",
		zap.String("key", key),
		zap.String("timeframe", string(req.Timeframe)),
		zap.Int("valid", len(valid)),
		zap.Int("invalid", result.InvalidBars),
		zap.Int("row_errors", result.RowErrors))

	return result, nil
}

// persist writes the valid set through to the durable store and refreshes
// quality records for every affected day. Per-row failures become result
// metadata; a wholesale store failure is logged and reported as row errors
// so the caller still gets the upstream data.
func (o *Orchestrator) persist(ctx context.Context, req market.HistoryRequest, valid []market.Bar, rejected []market.Rejection, duplicates int, result *Result) {
	if len(valid) == 0 && len(rejected) == 0 {
		return
	}

	instrumentID, err := o.store.EnsureInstrument(ctx, req.Instrument)
	if err != nil {
		o.logger.Error("failed to ensure instrument, skipping persist",
			zap.String("key", req.Instrument.Key()), zap.Error(err))
		result.RowErrors = len(valid)
		return
	}

	up, err := o.store.UpsertBars(ctx, instrumentID, req.Timeframe, valid)
	if err != nil {
		o.logger.Error("durable store write failed",
			zap.String("key", req.Instrument.Key()), zap.Error(err))
		result.RowErrors = len(valid)
		return
	}
	result.Inserted = up.Inserted
	result.Updated = up.Updated
	result.RowErrors = up.Errors

	for day, counts := range affectedDays(valid, rejected, duplicates) {
		if _, err := o.store.RecomputeQuality(ctx, instrumentID, req.Timeframe, day, counts.invalid, counts.duplicate); err != nil {
			o.logger.Warn("quality recompute failed",
				zap.String("key", req.Instrument.Key()),
				zap.Time("day", day),
				zap.Error(err))
		}
	}
}

// Quality returns the stored quality record for one day.
func (o *Orchestrator) Quality(ctx context.Context, inst market.Instrument, tf market.Timeframe, day time.Time) (market.QualityRecord, bool, error) {
	instrumentID, err := o.store.EnsureInstrument(ctx, inst)
	if err != nil {
		return market.QualityRecord{}, false, err
	}
	rec, ok, err := o.store.GetQuality(ctx, instrumentID, tf, day)
	if err != nil {
		return market.QualityRecord{}, false, err
	}
	rec.InstrumentKey = inst.Key()
	return rec, ok, nil
}

type dayCounts struct {
	invalid   int
	duplicate int
}

// affectedDays maps each UTC day touched by the batch to its ingest-time
// reject counts. Within-batch duplicate timestamps surface as
// non-monotonic rejections; they are attributed to the duplicate counter
// rather than the invalid one.
func affectedDays(valid []market.Bar, rejected []market.Rejection, duplicates int) map[time.Time]dayCounts {
	days := make(map[time.Time]dayCounts)

	for _, b := range valid {
		day := b.Timestamp.UTC().Truncate(24 * time.Hour)
		days[day] = days[day]
	}
	remainingDups := duplicates
	for _, r := range rejected {
		day := r.Bar.Timestamp.UTC().Truncate(24 * time.Hour)
		c := days[day]
		if r.Reason == market.ReasonNonMonotonicInBatch && remainingDups > 0 {
			c.duplicate++
			remainingDups--
		} else {
			c.invalid++
		}
		days[day] = c
	}
	return days
}

func countDuplicateTimestamps(bars []market.Bar) int {
	seen := make(map[time.Time]bool, len(bars))
	dups := 0
	for _, b := range bars {
		ts := b.Timestamp.UTC().Truncate(time.Second)
		if seen[ts] {
			dups++
			continue
		}
		seen[ts] = true
	}
	return dups
}
