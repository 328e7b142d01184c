package market

import "time"

// Bar is one OHLCV observation for an instrument over a fixed time bucket.
// Timestamp is UTC with second precision; identity within a store is
// (instrument, timeframe, timestamp).
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`

	// Optional fields, zero when the upstream does not report them.
	VWAP       float64 `json:"vwap,omitempty"`
	TradeCount int64   `json:"trade_count,omitempty"`
}

// Normalize truncates the timestamp to second precision in UTC.
func (b Bar) Normalize() Bar {
	b.Timestamp = b.Timestamp.UTC().Truncate(time.Second)
	return b
}

// Equal compares by value, ignoring sub-second timestamp precision.
func (b Bar) Equal(other Bar) bool {
	return b.Timestamp.UTC().Truncate(time.Second).Equal(other.Timestamp.UTC().Truncate(time.Second)) &&
		b.Open == other.Open && b.High == other.High &&
		b.Low == other.Low && b.Close == other.Close &&
		b.Volume == other.Volume
}

// Quote is a real-time snapshot for an instrument, cached under the short
// TTL class.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Last      float64   `json:"last,omitempty"`
	BidSize   int64     `json:"bid_size,omitempty"`
	AskSize   int64     `json:"ask_size,omitempty"`
	Volume    int64     `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UpsertResult reports the outcome of persisting one bar batch. A batch can
// partially succeed: malformed rows are counted in Errors and the remaining
// rows still land.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Errors   int `json:"errors"`
}

// QualityRecord aggregates data quality for one (instrument, timeframe, day).
// Score is in [0,1]: the fraction of the day's bars that are complete,
// unique, and valid. A day with no bars scores 0.
type QualityRecord struct {
	InstrumentKey string    `json:"instrument_key"`
	Timeframe     Timeframe `json:"timeframe"`
	Day           time.Time `json:"day"`

	TotalBars     int     `json:"total_bars"`
	MissingBars   int     `json:"missing_bars"`
	DuplicateBars int     `json:"duplicate_bars"`
	InvalidBars   int     `json:"invalid_bars"`
	Score         float64 `json:"score"`
}

// ComputeScore derives the quality score from the counts.
func (q *QualityRecord) ComputeScore() {
	if q.TotalBars <= 0 {
		q.Score = 0
		return
	}
	score := float64(q.TotalBars-q.MissingBars-q.DuplicateBars-q.InvalidBars) / float64(q.TotalBars)
	if score < 0 {
		score = 0
	}
	q.Score = score
}
