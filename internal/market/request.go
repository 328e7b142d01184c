package market

import (
	"fmt"
	"time"
)

// HistoryRequest is a validated request for a bar range. Construct it with
// NewHistoryRequest so malformed input fails at the API boundary instead of
// deep inside the fetch path.
type HistoryRequest struct {
	Instrument Instrument
	Timeframe  Timeframe
	Start      time.Time
	End        time.Time
}

func NewHistoryRequest(inst Instrument, tf Timeframe, start, end time.Time) (HistoryRequest, error) {
	if err := inst.Validate(); err != nil {
		return HistoryRequest{}, err
	}
	if !tf.Valid() {
		return HistoryRequest{}, fmt.Errorf("unknown timeframe %q", tf)
	}
	if start.IsZero() || end.IsZero() {
		return HistoryRequest{}, fmt.Errorf("start and end are required")
	}
	if !end.After(start) {
		return HistoryRequest{}, fmt.Errorf("end %s is not after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return HistoryRequest{
		Instrument: inst,
		Timeframe:  tf,
		Start:      start.UTC().Truncate(time.Second),
		End:        end.UTC().Truncate(time.Second),
	}, nil
}

// Key identifies the request for cache lookups and fetch coalescing.
func (r HistoryRequest) Key() string {
	return r.Instrument.Key() + ":" + string(r.Timeframe)
}
