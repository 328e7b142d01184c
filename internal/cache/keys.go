package cache

import "histcache/internal/market"

// Key layout: <prefix>:bars:<instrumentKey>:<timeframe>,
// <prefix>:quote:<symbol>, and <prefix>:symbol:<symbol>. Invalidate
// patterns are globs over the part after the prefix, e.g. "bars:MSFT.*"
// clears every timeframe for one instrument.

func barKey(prefix, key string, tf market.Timeframe) string {
	return prefix + ":bars:" + key + ":" + string(tf)
}

func quoteKey(prefix, symbol string) string {
	return prefix + ":quote:" + symbol
}

func symbolKey(prefix, symbol string) string {
	return prefix + ":symbol:" + symbol
}
