package market

import (
	"fmt"
	"time"
)

// Timeframe identifies the fixed time bucket a bar aggregates.
type Timeframe string

const (
	TimeframeTick Timeframe = "tick"
	Timeframe1m   Timeframe = "1m"
	Timeframe5m   Timeframe = "5m"
	Timeframe15m  Timeframe = "15m"
	Timeframe30m  Timeframe = "30m"
	Timeframe1h   Timeframe = "1h"
	Timeframe4h   Timeframe = "4h"
	Timeframe8h   Timeframe = "8h"
	Timeframe1d   Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe8h:  8 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// aliases accepted at the API boundary (the upstream gateway and the old
// frontend both use the long spellings).
var timeframeAliases = map[string]Timeframe{
	"tick":  TimeframeTick,
	"1m":    Timeframe1m,
	"1min":  Timeframe1m,
	"5m":    Timeframe5m,
	"5min":  Timeframe5m,
	"15m":   Timeframe15m,
	"15min": Timeframe15m,
	"30m":   Timeframe30m,
	"30min": Timeframe30m,
	"1h":    Timeframe1h,
	"1hour": Timeframe1h,
	"4h":    Timeframe4h,
	"4hour": Timeframe4h,
	"8h":    Timeframe8h,
	"8hour": Timeframe8h,
	"1d":    Timeframe1d,
	"1day":  Timeframe1d,
}

// ParseTimeframe normalizes a timeframe string to its canonical form.
func ParseTimeframe(s string) (Timeframe, error) {
	tf, ok := timeframeAliases[s]
	if !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the bucket width. Tick bars have no fixed width and
// report zero.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok || tf == TimeframeTick
}

func (tf Timeframe) String() string {
	return string(tf)
}
