package postgres

import "time"

// InstrumentRecord is a resolved tradable contract. Uniqueness is the full
// composite identity; rows are never hard-deleted so historical bars keep a
// valid reference.
type InstrumentRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol   string  `gorm:"type:varchar(32);not null;index:idx_instrument_identity,unique"`
	SecType  string  `gorm:"type:varchar(10);not null;index:idx_instrument_identity,unique"`
	Exchange string  `gorm:"type:varchar(32);index:idx_instrument_identity,unique"`
	Currency string  `gorm:"type:varchar(10);index:idx_instrument_identity,unique"`
	Expiry   string  `gorm:"type:varchar(16);default:'';index:idx_instrument_identity,unique"`
	Strike   float64 `gorm:"type:numeric;default:0;index:idx_instrument_identity,unique"`
	Right    string  `gorm:"type:varchar(1);default:'';index:idx_instrument_identity,unique"`

	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	LastUpdated time.Time `gorm:"autoUpdateTime"`
}

func (InstrumentRecord) TableName() string {
	return "instruments"
}

// BarRecord is one persisted OHLCV observation. Uniqueness on
// (instrument_id, timeframe, timestamp) makes repeated ingestion idempotent.
type BarRecord struct {
	ID uint `gorm:"primaryKey"`

	InstrumentID uint      `gorm:"not null;index:idx_bar_identity,unique"`
	Timeframe    string    `gorm:"type:varchar(10);not null;index:idx_bar_identity,unique"`
	Timestamp    time.Time `gorm:"not null;index:idx_bar_identity,unique;index:idx_bar_timestamp"`

	Open  float64 `gorm:"type:numeric;not null"`
	High  float64 `gorm:"type:numeric;not null"`
	Low   float64 `gorm:"type:numeric;not null"`
	Close float64 `gorm:"type:numeric;not null"`

	Volume     int64   `gorm:"not null"`
	VWAP       float64 `gorm:"type:numeric;default:0"`
	TradeCount int64   `gorm:"default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (BarRecord) TableName() string {
	return "historical_bars"
}

// DataQualityRecord aggregates per-day data quality for one
// (instrument, timeframe) pair. Recomputed on every persist touching the day.
type DataQualityRecord struct {
	ID uint `gorm:"primaryKey"`

	InstrumentID uint      `gorm:"not null;index:idx_quality_identity,unique"`
	Timeframe    string    `gorm:"type:varchar(10);not null;index:idx_quality_identity,unique"`
	Day          time.Time `gorm:"type:date;not null;index:idx_quality_identity,unique"`

	TotalBars     int     `gorm:"not null"`
	MissingBars   int     `gorm:"not null"`
	DuplicateBars int     `gorm:"not null"`
	InvalidBars   int     `gorm:"not null"`
	Score         float64 `gorm:"type:numeric;not null"`

	CheckedAt time.Time `gorm:"autoUpdateTime"`
}

func (DataQualityRecord) TableName() string {
	return "data_quality"
}
