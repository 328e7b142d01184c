package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"histcache/internal/cache"
	"histcache/internal/fetch"
	"histcache/internal/market"
	"histcache/pkg/ibgw"
)

// fakeFetcher scripts the orchestrator boundary for handler tests.
type fakeFetcher struct {
	result  *fetch.Result
	err     error
	quality market.QualityRecord
	haveQ   bool

	lastReq market.HistoryRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req market.HistoryRequest) (*fetch.Result, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeFetcher) Quality(_ context.Context, _ market.Instrument, _ market.Timeframe, _ time.Time) (market.QualityRecord, bool, error) {
	return f.quality, f.haveQ, nil
}

// fakeResolver scripts contract resolution.
type fakeResolver struct {
	resolved    market.Instrument
	description string
	err         error
	calls       int
}

func (r *fakeResolver) ResolveInstrument(_ context.Context, _ market.Instrument) (market.Instrument, string, error) {
	r.calls++
	return r.resolved, r.description, r.err
}

func newTestServer(f *fakeFetcher, c cache.BarCache) *Server {
	return newTestServerWithResolver(f, c, &fakeResolver{})
}

func newTestServerWithResolver(f *fakeFetcher, c cache.BarCache, r *fakeResolver) *Server {
	if c == nil {
		c = cache.NewMemory("test")
	}
	return New(f, c, r, time.Minute, func() bool { return true }, zap.NewNop(), "dev")
}

func doRequest(s *Server, method, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

// go test -v --run TestHistoryEndpoint
func TestHistoryEndpoint(t *testing.T) {
	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	f := &fakeFetcher{result: &fetch.Result{
		Bars:   []market.Bar{{Timestamp: ts, Open: 100, High: 105, Low: 99, Close: 101, Volume: 10}},
		Source: "upstream",
	}}
	s := newTestServer(f, nil)

	w := doRequest(s, http.MethodGet,
		"/api/v1/history/msft?timeframe=1h&start=2024-03-04T10:00:00Z&end=2024-03-04T14:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Instrument string       `json:"instrument"`
		Source     string       `json:"source"`
		Bars       []market.Bar `json:"bars"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Instrument != "MSFT.STK.SMART.USD" {
		t.Errorf("instrument = %q", resp.Instrument)
	}
	if resp.Source != "upstream" || len(resp.Bars) != 1 {
		t.Errorf("source=%q bars=%d", resp.Source, len(resp.Bars))
	}
	if f.lastReq.Timeframe != market.Timeframe1h {
		t.Errorf("fetched timeframe = %q", f.lastReq.Timeframe)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

// go test -v --run TestHistoryEndpointRejectsBadInput
func TestHistoryEndpointRejectsBadInput(t *testing.T) {
	s := newTestServer(&fakeFetcher{}, nil)

	cases := []struct {
		name   string
		target string
	}{
		{"bad timeframe", "/api/v1/history/MSFT?timeframe=7m"},
		{"bad start", "/api/v1/history/MSFT?timeframe=1h&start=yesterday"},
		{"bad sec type", "/api/v1/history/MSFT?timeframe=1h&sec_type=EQUITY"},
		{"end before start", "/api/v1/history/MSFT?timeframe=1h&start=2024-03-04T10:00:00Z&end=2024-03-04T09:00:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := doRequest(s, http.MethodGet, tc.target, ""); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

// go test -v --run TestHistoryEndpointErrorMapping
func TestHistoryEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{
			"retryable",
			&fetch.Error{Class: fetch.ClassRetryable, Err: &ibgw.Error{Kind: ibgw.KindRateLimited}},
			http.StatusServiceUnavailable,
		},
		{
			"unknown instrument",
			&fetch.Error{Class: fetch.ClassPermanent, Err: &ibgw.Error{Kind: ibgw.KindInvalidInstrument}},
			http.StatusNotFound,
		},
		{
			"no subscription",
			&fetch.Error{Class: fetch.ClassPermanent, Err: &ibgw.Error{Kind: ibgw.KindNoSubscription}},
			http.StatusForbidden,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&fakeFetcher{err: tc.err}, nil)
			w := doRequest(s, http.MethodGet, "/api/v1/history/MSFT?timeframe=1h", "")
			if w.Code != tc.status {
				t.Errorf("status = %d, want %d", w.Code, tc.status)
			}
			if tc.status == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After header")
			}
		})
	}
}

// go test -v --run TestHistoryEndpointNoValidData
func TestHistoryEndpointNoValidData(t *testing.T) {
	s := newTestServer(&fakeFetcher{err: &fetch.Error{Class: fetch.ClassNoValidData}}, nil)

	w := doRequest(s, http.MethodGet, "/api/v1/history/MSFT?timeframe=1h", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Bars    []market.Bar `json:"bars"`
		Warning string       `json:"warning"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Bars) != 0 || resp.Warning == "" {
		t.Errorf("bars=%d warning=%q, want empty set with warning", len(resp.Bars), resp.Warning)
	}
}

// go test -v --run TestQuoteEndpoint
func TestQuoteEndpoint(t *testing.T) {
	c := cache.NewMemory("test")
	c.PutQuote(context.Background(), market.Quote{Symbol: "MSFT", Last: 420.5}, time.Minute)
	s := newTestServer(&fakeFetcher{}, c)

	w := doRequest(s, http.MethodGet, "/api/v1/quote/MSFT", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var q market.Quote
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if q.Last != 420.5 {
		t.Errorf("last = %v, want 420.5", q.Last)
	}

	if w := doRequest(s, http.MethodGet, "/api/v1/quote/AAPL", ""); w.Code != http.StatusNotFound {
		t.Errorf("uncached quote: status = %d, want 404", w.Code)
	}
}

// go test -v --run TestContractEndpoint
func TestContractEndpoint(t *testing.T) {
	resolved, err := market.NewInstrument("MSFT", market.SecTypeStock, "NASDAQ", "USD")
	if err != nil {
		t.Fatalf("NewInstrument: %v", err)
	}
	r := &fakeResolver{resolved: resolved, description: "MICROSOFT CORP"}
	s := newTestServerWithResolver(&fakeFetcher{}, nil, r)

	w := doRequest(s, http.MethodGet, "/api/v1/contract/MSFT", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Key    string `json:"key"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Key != "MSFT.STK.NASDAQ.USD" || resp.Source != "gateway" {
		t.Errorf("key=%q source=%q", resp.Key, resp.Source)
	}

	// Second lookup is served from the symbols cache class.
	w = doRequest(s, http.MethodGet, "/api/v1/contract/MSFT", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cached status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Source != "cache" {
		t.Errorf("source = %q, want cache", resp.Source)
	}
	if r.calls != 1 {
		t.Errorf("resolver called %d times, want 1", r.calls)
	}
}

// go test -v --run TestContractEndpointUnknownSymbol
func TestContractEndpointUnknownSymbol(t *testing.T) {
	r := &fakeResolver{err: &ibgw.Error{Kind: ibgw.KindInvalidInstrument}}
	s := newTestServerWithResolver(&fakeFetcher{}, nil, r)

	if w := doRequest(s, http.MethodGet, "/api/v1/contract/NOPE", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// go test -v --run TestQualityEndpoint
func TestQualityEndpoint(t *testing.T) {
	rec := market.QualityRecord{
		InstrumentKey: "MSFT.STK.SMART.USD",
		Timeframe:     market.Timeframe1h,
		Day:           time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		TotalBars:     7,
		Score:         1.0,
	}
	s := newTestServer(&fakeFetcher{quality: rec, haveQ: true}, nil)

	w := doRequest(s, http.MethodGet, "/api/v1/quality/MSFT?timeframe=1h&day=2024-03-04", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var got market.QualityRecord
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TotalBars != 7 || got.Score != 1.0 {
		t.Errorf("got %+v", got)
	}

	s2 := newTestServer(&fakeFetcher{}, nil)
	if w := doRequest(s2, http.MethodGet, "/api/v1/quality/MSFT?timeframe=1h&day=2024-03-04", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing record: status = %d, want 404", w.Code)
	}
}

// go test -v --run TestCacheStatsAndClear
func TestCacheStatsAndClear(t *testing.T) {
	c := cache.NewMemory("test")
	ctx := context.Background()
	c.PutBars(ctx, "MSFT.STK.SMART.USD", market.Timeframe1h, []market.Bar{{Open: 1, High: 1, Low: 1, Close: 1}}, time.Minute)
	c.GetBars(ctx, "MSFT.STK.SMART.USD", market.Timeframe1h) // hit
	c.GetBars(ctx, "AAPL.STK.SMART.USD", market.Timeframe1h) // miss
	s := newTestServer(&fakeFetcher{}, c)

	w := doRequest(s, http.MethodGet, "/api/v1/cache/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats map[cache.Class]cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats[cache.ClassBars].Hits != 1 || stats[cache.ClassBars].Misses != 1 {
		t.Errorf("bar stats = %+v", stats[cache.ClassBars])
	}

	w = doRequest(s, http.MethodPost, "/api/v1/cache/clear", `{"pattern":"bars:*"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Removed != 1 {
		t.Errorf("removed = %d, want 1", resp.Removed)
	}
}

// go test -v --run TestHealthEndpoint
func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeFetcher{}, nil)
	if w := doRequest(s, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	degraded := New(&fakeFetcher{}, cache.NewMemory("test"), &fakeResolver{}, time.Minute, func() bool { return false }, zap.NewNop(), "dev")
	if w := doRequest(degraded, http.MethodGet, "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want 503", w.Code)
	}
}
