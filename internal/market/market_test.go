package market

import (
	"testing"
	"time"
)

// go test -v --run TestParseTimeframe
func TestParseTimeframe(t *testing.T) {
	cases := map[string]Timeframe{
		"1m":    Timeframe1m,
		"5min":  Timeframe5m,
		"1h":    Timeframe1h,
		"1hour": Timeframe1h,
		"1day":  Timeframe1d,
		"tick":  TimeframeTick,
	}
	for in, want := range cases {
		got, err := ParseTimeframe(in)
		if err != nil {
			t.Errorf("ParseTimeframe(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTimeframe(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseTimeframe("2h"); err == nil {
		t.Error("expected error for unknown timeframe")
	}
}

// go test -v --run TestInstrumentKey
func TestInstrumentKey(t *testing.T) {
	stock, err := NewInstrument("msft ", SecTypeStock, "SMART", "usd")
	if err != nil {
		t.Fatalf("NewInstrument: %v", err)
	}
	if stock.Symbol != "MSFT" || stock.Currency != "USD" {
		t.Errorf("normalization failed: %+v", stock)
	}
	if stock.Key() != "MSFT.STK.SMART.USD" {
		t.Errorf("unexpected key %q", stock.Key())
	}

	opt := stock
	opt.SecType = SecTypeOption
	opt.Expiry = "20260320"
	opt.Strike = 400
	opt.Right = "C"
	if opt.Key() == stock.Key() {
		t.Error("option and stock keys must differ")
	}

	if _, err := NewInstrument("", SecTypeStock, "SMART", "USD"); err == nil {
		t.Error("expected error for empty symbol")
	}
	if _, err := NewInstrument("MSFT", SecType("EQUITY"), "SMART", "USD"); err == nil {
		t.Error("expected error for unknown sec type")
	}
}

// go test -v --run TestNewHistoryRequest
func TestNewHistoryRequest(t *testing.T) {
	inst, _ := NewInstrument("MSFT", SecTypeStock, "SMART", "USD")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)

	req, err := NewHistoryRequest(inst, Timeframe1h, start, end)
	if err != nil {
		t.Fatalf("NewHistoryRequest: %v", err)
	}
	if req.Key() != "MSFT.STK.SMART.USD:1h" {
		t.Errorf("unexpected request key %q", req.Key())
	}

	if _, err := NewHistoryRequest(inst, Timeframe1h, end, start); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := NewHistoryRequest(inst, Timeframe("2h"), start, end); err == nil {
		t.Error("expected error for invalid timeframe")
	}
}

// go test -v --run TestQualityScore
func TestQualityScore(t *testing.T) {
	q := QualityRecord{TotalBars: 0}
	q.ComputeScore()
	if q.Score != 0 {
		t.Errorf("empty day score = %v, want 0", q.Score)
	}

	q = QualityRecord{TotalBars: 24}
	q.ComputeScore()
	if q.Score != 1.0 {
		t.Errorf("perfect day score = %v, want 1.0", q.Score)
	}

	q = QualityRecord{TotalBars: 10, MissingBars: 1, DuplicateBars: 1, InvalidBars: 1}
	q.ComputeScore()
	if q.Score != 0.7 {
		t.Errorf("score = %v, want 0.7", q.Score)
	}

	q = QualityRecord{TotalBars: 2, MissingBars: 5}
	q.ComputeScore()
	if q.Score != 0 {
		t.Errorf("score clamped = %v, want 0", q.Score)
	}
}
