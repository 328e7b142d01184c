package postgres_test

import (
	"context"
	"testing"
	"time"

	"histcache/internal/market"
	"histcache/pkg/storage/postgres"
)

func setupClient(t *testing.T) (*postgres.Client, uint) {
	t.Helper()

	cfg := testConfig()
	client, err := postgres.NewClient(cfg.DSN("dev"), cfg)
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	inst, _ := market.NewInstrument("MSFT", market.SecTypeStock, "SMART", "USD")
	id, err := client.EnsureInstrument(context.Background(), inst)
	if err != nil {
		t.Fatalf("ensure instrument: %v", err)
	}
	return client, id
}

func hourlyBars(start time.Time, n int) []market.Bar {
	bars := make([]market.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, market.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      400 + float64(i),
			High:      405 + float64(i),
			Low:       399 + float64(i),
			Close:     401 + float64(i),
			Volume:    int64(10000 + i),
		})
	}
	return bars
}

// go test -v --run TestUpsertBarsIdempotent
func TestUpsertBarsIdempotent(t *testing.T) {
	client, id := setupClient(t)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := hourlyBars(start, 4)

	first, err := client.UpsertBars(ctx, id, market.Timeframe1h, bars)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if first.Inserted != 4 || first.Errors != 0 {
		t.Errorf("first upsert = %+v, want 4 inserted", first)
	}

	second, err := client.UpsertBars(ctx, id, market.Timeframe1h, bars)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 4 {
		t.Errorf("second upsert = %+v, want 4 updated", second)
	}

	got, err := client.QueryRange(ctx, id, market.Timeframe1h, start, start.Add(4*time.Hour), 0)
	if err != nil {
		t.Fatalf("query range failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d rows after double upsert, want 4", len(got))
	}
	for i := range got {
		if !got[i].Equal(bars[i]) {
			t.Errorf("row %d differs: %+v vs %+v", i, got[i], bars[i])
		}
	}
}

// go test -v --run TestUpsertBarsReplacesFields
func TestUpsertBarsReplacesFields(t *testing.T) {
	client, id := setupClient(t)
	ctx := context.Background()

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	bars := hourlyBars(start, 1)

	if _, err := client.UpsertBars(ctx, id, market.Timeframe1h, bars); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	bars[0].Close = 999
	bars[0].Volume = 42
	res, err := client.UpsertBars(ctx, id, market.Timeframe1h, bars)
	if err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("result = %+v, want 1 updated", res)
	}

	got, err := client.QueryRange(ctx, id, market.Timeframe1h, start, start.Add(time.Hour), 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("query failed: err=%v len=%d", err, len(got))
	}
	if got[0].Close != 999 || got[0].Volume != 42 {
		t.Errorf("fields not replaced: %+v", got[0])
	}
}

// go test -v --run TestQueryRangeLimit
func TestQueryRangeLimit(t *testing.T) {
	client, id := setupClient(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := client.UpsertBars(ctx, id, market.Timeframe1h, hourlyBars(start, 6)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := client.QueryRange(ctx, id, market.Timeframe1h, start, start.Add(6*time.Hour), 3)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	// Most recent 3, returned chronologically.
	if !got[0].Timestamp.Equal(start.Add(3 * time.Hour)) {
		t.Errorf("first bar at %s, want %s", got[0].Timestamp, start.Add(3*time.Hour))
	}
	if !got[2].Timestamp.After(got[0].Timestamp) {
		t.Error("result is not in ascending order")
	}
}

// go test -v --run TestRecomputeQuality
func TestRecomputeQuality(t *testing.T) {
	client, id := setupClient(t)
	ctx := context.Background()

	day := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	// Empty day scores 0, not a division error.
	rec, err := client.RecomputeQuality(ctx, id, market.Timeframe1h, day, 0, 0)
	if err != nil {
		t.Fatalf("recompute on empty day failed: %v", err)
	}
	if rec.TotalBars != 0 || rec.Score != 0 {
		t.Errorf("empty day record = %+v, want 0 total / 0 score", rec)
	}

	// A contiguous run with no ingest errors scores 1.0.
	if _, err := client.UpsertBars(ctx, id, market.Timeframe1h, hourlyBars(day, 6)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	rec, err = client.RecomputeQuality(ctx, id, market.Timeframe1h, day, 0, 0)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if rec.TotalBars != 6 || rec.MissingBars != 0 || rec.Score != 1.0 {
		t.Errorf("full day record = %+v, want 6 total / score 1.0", rec)
	}

	// A gap shows up as missing bars.
	gapped := []market.Bar{
		{Timestamp: day.Add(8 * time.Hour), Open: 1, High: 2, Low: 1, Close: 2, Volume: 1},
		{Timestamp: day.Add(11 * time.Hour), Open: 1, High: 2, Low: 1, Close: 2, Volume: 1},
	}
	if _, err := client.UpsertBars(ctx, id, market.Timeframe1h, gapped); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	rec, err = client.RecomputeQuality(ctx, id, market.Timeframe1h, day, 1, 0)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if rec.MissingBars < 2 {
		t.Errorf("missing bars = %d, want >= 2 for a 3h gap", rec.MissingBars)
	}
	if rec.InvalidBars != 1 {
		t.Errorf("invalid bars = %d, want 1 (ingest count carried through)", rec.InvalidBars)
	}

	stored, ok, err := client.GetQuality(ctx, id, market.Timeframe1h, day)
	if err != nil || !ok {
		t.Fatalf("get quality failed: err=%v ok=%v", err, ok)
	}
	if stored.Score != rec.Score {
		t.Errorf("stored score %v != recomputed %v", stored.Score, rec.Score)
	}
}
