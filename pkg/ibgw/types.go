package ibgw

import (
	"time"

	"histcache/internal/market"
)

// RawBar is one candle as the gateway wrapper service reports it: epoch
// seconds plus OHLCV, with optional VWAP and trade count.
type RawBar struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     int64   `json:"volume"`
	VWAP       float64 `json:"vwap,omitempty"`
	TradeCount int64   `json:"trade_count,omitempty"`
}

// ToBar converts the wire form to the domain bar. No validation happens
// here; the fetch pipeline validates at ingestion.
func (r RawBar) ToBar() market.Bar {
	return market.Bar{
		Timestamp:  time.Unix(r.Time, 0).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		VWAP:       r.VWAP,
		TradeCount: r.TradeCount,
	}
}

// historyResponse is the gateway's historical-data payload.
type historyResponse struct {
	Symbol string   `json:"symbol"`
	Bars   []RawBar `json:"bars"`
	Count  int      `json:"count"`
	Source string   `json:"source"`
}

// errorResponse is the gateway's error payload.
type errorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// contractResponse describes a resolved contract.
type contractResponse struct {
	Symbol      string  `json:"symbol"`
	SecType     string  `json:"sec_type"`
	Exchange    string  `json:"exchange"`
	Currency    string  `json:"currency"`
	Expiry      string  `json:"expiry,omitempty"`
	Strike      float64 `json:"strike,omitempty"`
	Right       string  `json:"right,omitempty"`
	Description string  `json:"description,omitempty"`
}
