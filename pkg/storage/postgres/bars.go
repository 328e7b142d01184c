package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"histcache/internal/market"
)

// EnsureInstrument upserts the instrument's metadata and returns its row ID.
// Re-resolving an existing instrument refreshes last_updated only; the
// identity fields are immutable.
func (c *Client) EnsureInstrument(ctx context.Context, inst market.Instrument) (uint, error) {
	rec := InstrumentRecord{
		Symbol:   inst.Symbol,
		SecType:  string(inst.SecType),
		Exchange: inst.Exchange,
		Currency: inst.Currency,
		Expiry:   inst.Expiry,
		Strike:   inst.Strike,
		Right:    inst.Right,
	}

	tx := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"}, {Name: "sec_type"}, {Name: "exchange"},
			{Name: "currency"}, {Name: "expiry"}, {Name: "strike"}, {Name: "right"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_updated": time.Now().UTC(),
		}),
	}).Create(&rec)
	if tx.Error != nil {
		return 0, fmt.Errorf("ensure instrument %s: %w", inst.Key(), tx.Error)
	}

	if rec.ID != 0 {
		return rec.ID, nil
	}

	// Conflict path on some gorm versions leaves ID unset; look it up.
	var existing InstrumentRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND sec_type = ? AND exchange = ? AND currency = ? AND expiry = ? AND strike = ? AND \"right\" = ?",
			rec.Symbol, rec.SecType, rec.Exchange, rec.Currency, rec.Expiry, rec.Strike, rec.Right).
		First(&existing).Error
	if err != nil {
		return 0, fmt.Errorf("lookup instrument %s: %w", inst.Key(), err)
	}
	return existing.ID, nil
}

// FindInstrument returns the stored record for a composite identity, or
// gorm.ErrRecordNotFound.
func (c *Client) FindInstrument(ctx context.Context, inst market.Instrument) (*InstrumentRecord, error) {
	var rec InstrumentRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND sec_type = ? AND exchange = ? AND currency = ? AND expiry = ? AND strike = ? AND \"right\" = ?",
			inst.Symbol, string(inst.SecType), inst.Exchange, inst.Currency, inst.Expiry, inst.Strike, inst.Right).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertBars persists a batch keyed by (instrument, timeframe, timestamp).
// Existing rows have their OHLCV fields replaced. The batch runs in one
// transaction with a savepoint per row, so a malformed row is rolled back
// and counted without aborting the remaining rows. Only a transaction-level
// failure (connection loss, commit error) is returned as an error.
func (c *Client) UpsertBars(ctx context.Context, instrumentID uint, tf market.Timeframe, bars []market.Bar) (market.UpsertResult, error) {
	var result market.UpsertResult
	if len(bars) == 0 {
		return result, nil
	}

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, bar := range bars {
			sp := fmt.Sprintf("bar_%d", i)
			tx.SavePoint(sp)

			rec := BarRecord{
				InstrumentID: instrumentID,
				Timeframe:    string(tf),
				Timestamp:    bar.Timestamp.UTC(),
				Open:         bar.Open,
				High:         bar.High,
				Low:          bar.Low,
				Close:        bar.Close,
				Volume:       bar.Volume,
				VWAP:         bar.VWAP,
				TradeCount:   bar.TradeCount,
			}

			res := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "instrument_id"}, {Name: "timeframe"}, {Name: "timestamp"},
				},
				DoNothing: true,
			}).Create(&rec)
			if res.Error != nil {
				tx.RollbackTo(sp)
				result.Errors++
				continue
			}

			if res.RowsAffected > 0 {
				result.Inserted++
				continue
			}

			// Conflict: replace the OHLCV fields of the existing row.
			upd := tx.Model(&BarRecord{}).
				Where("instrument_id = ? AND timeframe = ? AND timestamp = ?",
					instrumentID, string(tf), bar.Timestamp.UTC()).
				Updates(map[string]interface{}{
					"open":        bar.Open,
					"high":        bar.High,
					"low":         bar.Low,
					"close":       bar.Close,
					"volume":      bar.Volume,
					"vwap":        bar.VWAP,
					"trade_count": bar.TradeCount,
				})
			if upd.Error != nil {
				tx.RollbackTo(sp)
				result.Errors++
				continue
			}
			result.Updated++
		}
		return nil
	})
	if err != nil {
		return market.UpsertResult{}, fmt.Errorf("upsert bars: %w", err)
	}
	return result, nil
}

// QueryRange returns bars in [start, end] ordered ascending by timestamp.
// A positive limit caps the result at the most recent N bars; the returned
// slice is still chronological.
func (c *Client) QueryRange(ctx context.Context, instrumentID uint, tf market.Timeframe, start, end time.Time, limit int) ([]market.Bar, error) {
	q := c.DB.WithContext(ctx).
		Where("instrument_id = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?",
			instrumentID, string(tf), start.UTC(), end.UTC())

	var recs []BarRecord
	if limit > 0 {
		if err := q.Order("timestamp DESC").Limit(limit).Find(&recs).Error; err != nil {
			return nil, fmt.Errorf("query bar range: %w", err)
		}
		// Most-recent-first truncation, chronological return order.
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	} else {
		if err := q.Order("timestamp ASC").Find(&recs).Error; err != nil {
			return nil, fmt.Errorf("query bar range: %w", err)
		}
	}

	bars := make([]market.Bar, 0, len(recs))
	for _, r := range recs {
		bars = append(bars, market.Bar{
			Timestamp:  r.Timestamp.UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			VWAP:       r.VWAP,
			TradeCount: r.TradeCount,
		})
	}
	return bars, nil
}

// RecomputeQuality scans one day's bars for an (instrument, timeframe) pair
// and upserts its quality record. Missing bars are derived from gaps between
// consecutive timestamps; invalid and duplicate counts come from ingestion
// (rejected bars are never persisted, so the scan alone cannot see them).
func (c *Client) RecomputeQuality(ctx context.Context, instrumentID uint, tf market.Timeframe, day time.Time, invalid, duplicate int) (market.QualityRecord, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24*time.Hour - time.Second)

	bars, err := c.QueryRange(ctx, instrumentID, tf, dayStart, dayEnd, 0)
	if err != nil {
		return market.QualityRecord{}, err
	}

	missing := 0
	if step := tf.Duration(); step > 0 {
		for i := 1; i < len(bars); i++ {
			gap := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
			if gap > step {
				missing += int(gap/step) - 1
			}
		}
	}

	quality := market.QualityRecord{
		Timeframe:     tf,
		Day:           dayStart,
		TotalBars:     len(bars),
		MissingBars:   missing,
		DuplicateBars: duplicate,
		InvalidBars:   invalid,
	}
	quality.ComputeScore()

	rec := DataQualityRecord{
		InstrumentID:  instrumentID,
		Timeframe:     string(tf),
		Day:           dayStart,
		TotalBars:     quality.TotalBars,
		MissingBars:   quality.MissingBars,
		DuplicateBars: quality.DuplicateBars,
		InvalidBars:   quality.InvalidBars,
		Score:         quality.Score,
	}

	tx := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "instrument_id"}, {Name: "timeframe"}, {Name: "day"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_bars", "missing_bars", "duplicate_bars", "invalid_bars", "score", "checked_at",
		}),
	}).Create(&rec)
	if tx.Error != nil {
		return market.QualityRecord{}, fmt.Errorf("upsert quality record: %w", tx.Error)
	}
	return quality, nil
}

// GetQuality returns the stored quality record for a day; ok is false when
// the day has never been scanned.
func (c *Client) GetQuality(ctx context.Context, instrumentID uint, tf market.Timeframe, day time.Time) (market.QualityRecord, bool, error) {
	var rec DataQualityRecord
	err := c.DB.WithContext(ctx).
		Where("instrument_id = ? AND timeframe = ? AND day = ?",
			instrumentID, string(tf), day.UTC().Truncate(24*time.Hour)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.QualityRecord{}, false, nil
	}
	if err != nil {
		return market.QualityRecord{}, false, err
	}
	return market.QualityRecord{
		Timeframe:     market.Timeframe(rec.Timeframe),
		Day:           rec.Day.UTC(),
		TotalBars:     rec.TotalBars,
		MissingBars:   rec.MissingBars,
		DuplicateBars: rec.DuplicateBars,
		InvalidBars:   rec.InvalidBars,
		Score:         rec.Score,
	}, true, nil
}
