package market

import "time"

// InvalidReason classifies why a bar failed validation.
type InvalidReason string

const (
	ReasonNegativeOrZeroPrice  InvalidReason = "negative_or_zero_price"
	ReasonHighLessThanLow      InvalidReason = "high_less_than_low"
	ReasonOpenCloseOutOfRange  InvalidReason = "open_or_close_outside_high_low_range"
	ReasonNegativeVolume       InvalidReason = "negative_volume"
	ReasonNonMonotonicInBatch  InvalidReason = "non_monotonic_timestamp_in_batch"
)

// ValidationResult is the outcome of validating a single bar.
type ValidationResult struct {
	Valid  bool
	Reason InvalidReason
}

func valid() ValidationResult                  { return ValidationResult{Valid: true} }
func invalid(r InvalidReason) ValidationResult { return ValidationResult{Reason: r} }

// ValidateBar checks a bar's internal OHLCV consistency. prev is the
// timestamp of the previous bar in the same fetched batch; pass the zero
// time for the first bar. The function is pure and never panics on any
// input.
func ValidateBar(b Bar, prev time.Time) ValidationResult {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return invalid(ReasonNegativeOrZeroPrice)
	}
	if b.High < b.Low {
		return invalid(ReasonHighLessThanLow)
	}
	if b.Open < b.Low || b.Open > b.High || b.Close < b.Low || b.Close > b.High {
		return invalid(ReasonOpenCloseOutOfRange)
	}
	if b.Volume < 0 {
		return invalid(ReasonNegativeVolume)
	}
	if !prev.IsZero() && !b.Timestamp.After(prev) {
		return invalid(ReasonNonMonotonicInBatch)
	}
	return valid()
}

// InvalidBarPolicy controls what happens to bars that fail validation.
type InvalidBarPolicy string

const (
	// PolicyReject drops invalid bars and counts them. Default.
	PolicyReject InvalidBarPolicy = "reject"
	// PolicyCoerce repairs a broken high/low envelope in place and flags
	// the bar; bars with non-positive prices or negative volume are still
	// rejected since there is nothing sensible to coerce them to.
	PolicyCoerce InvalidBarPolicy = "coerce"
)

// Rejection is a bar that failed validation, kept with its reason so
// callers can attribute rejects to the right quality-record day.
type Rejection struct {
	Bar    Bar
	Reason InvalidReason
}

// Partition splits a fetched batch into valid and rejected bars under the
// given policy. Returned valid bars are normalized to UTC second precision.
func Partition(bars []Bar, policy InvalidBarPolicy) (valid []Bar, rejected []Rejection) {
	var prev time.Time

	for _, b := range bars {
		b = b.Normalize()
		res := ValidateBar(b, prev)

		if !res.Valid && policy == PolicyCoerce {
			if c, ok := coerce(b, res.Reason); ok {
				b = c
				res = ValidateBar(b, prev)
			}
		}
		if !res.Valid {
			rejected = append(rejected, Rejection{Bar: b, Reason: res.Reason})
			continue
		}
		valid = append(valid, b)
		prev = b.Timestamp
	}
	return valid, rejected
}

// CountReasons aggregates rejections by reason.
func CountReasons(rejected []Rejection) map[InvalidReason]int {
	counts := make(map[InvalidReason]int)
	for _, r := range rejected {
		counts[r.Reason]++
	}
	return counts
}

// coerce repairs the envelope for reasons that admit a repair.
func coerce(b Bar, reason InvalidReason) (Bar, bool) {
	switch reason {
	case ReasonHighLessThanLow, ReasonOpenCloseOutOfRange:
		b.High = max4(b.Open, b.High, b.Low, b.Close)
		b.Low = min4(b.Open, b.High, b.Low, b.Close)
		return b, true
	default:
		return b, false
	}
}

func max4(a, b, c, d float64) float64 {
	m := a
	for _, v := range []float64{b, c, d} {
		if v > m {
			m = v
		}
	}
	return m
}

func min4(a, b, c, d float64) float64 {
	m := a
	for _, v := range []float64{b, c, d} {
		if v < m {
			m = v
		}
	}
	return m
}
