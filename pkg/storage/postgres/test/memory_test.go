package storetest

import (
	"context"
	"testing"
	"time"

	"histcache/internal/market"
)

// go test -v --run TestMemoryStoreUpsertSemantics
func TestMemoryStoreUpsertSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	inst, _ := market.NewInstrument("MSFT", market.SecTypeStock, "SMART", "USD")
	id, err := store.EnsureInstrument(ctx, inst)
	if err != nil {
		t.Fatalf("ensure instrument: %v", err)
	}

	again, _ := store.EnsureInstrument(ctx, inst)
	if again != id {
		t.Errorf("re-ensure returned a new ID: %d vs %d", again, id)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []market.Bar{
		{Timestamp: start, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1},
		{Timestamp: start.Add(time.Hour), Open: 2, High: 3, Low: 2, Close: 3, Volume: 2},
	}

	res, err := store.UpsertBars(ctx, id, market.Timeframe1h, bars)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 {
		t.Errorf("first upsert = %+v", res)
	}

	res, _ = store.UpsertBars(ctx, id, market.Timeframe1h, bars)
	if res.Inserted != 0 || res.Updated != 2 {
		t.Errorf("second upsert = %+v", res)
	}
	if store.BarCount() != 2 {
		t.Errorf("bar count = %d, want 2", store.BarCount())
	}
}

// go test -v --run TestMemoryStorePartialFailure
func TestMemoryStorePartialFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	inst, _ := market.NewInstrument("MSFT", market.SecTypeStock, "SMART", "USD")
	id, _ := store.EnsureInstrument(ctx, inst)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []market.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, market.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open: 1, High: 2, Low: 1, Close: 2, Volume: 1,
		})
	}
	store.FailTimestamps[bars[3].Timestamp] = true

	res, err := store.UpsertBars(ctx, id, market.Timeframe1h, bars)
	if err != nil {
		t.Fatalf("upsert raised for the whole batch: %v", err)
	}
	if res.Inserted != 9 || res.Errors != 1 {
		t.Errorf("result = %+v, want 9 inserted / 1 error", res)
	}
}
