package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/5TFG4/weaver/domain"
)

// barModel is the gorm-backed OHLCV row a backtest bar cache preloads
// from, grounded on internal/database/database.go's decimal-column
// model shape (e.g. Market.YesPrice's gorm:"type:decimal(...)" tag).
type barModel struct {
	Symbol    string          `gorm:"primaryKey"`
	Timeframe string          `gorm:"primaryKey"`
	Timestamp time.Time       `gorm:"primaryKey"`
	Open      decimal.Decimal `gorm:"type:decimal(24,8)"`
	High      decimal.Decimal `gorm:"type:decimal(24,8)"`
	Low       decimal.Decimal `gorm:"type:decimal(24,8)"`
	Close     decimal.Decimal `gorm:"type:decimal(24,8)"`
	Volume    decimal.Decimal `gorm:"type:decimal(24,8)"`
}

func (barModel) TableName() string { return "bars" }

// BarRepository is a gorm-backed implementation of
// execution/backtest.BarRepository, reading the historical OHLCV table
// every backtest run preloads its bar cache from.
type BarRepository struct {
	db *gorm.DB
}

func NewBarRepository(db *gorm.DB) *BarRepository {
	return &BarRepository{db: db}
}

// MigrateBars creates/updates the bars table; kept separate from
// AutoMigrate since not every deployment needs a bars table (a
// live-only deployment never runs a backtest).
func MigrateBars(db *gorm.DB) error {
	return db.AutoMigrate(&barModel{})
}

func (r *BarRepository) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Bar, error) {
	var models []barModel
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?", symbol, timeframe, start, end).
		Order("timestamp asc").
		Find(&models).Error
	if err != nil {
		return nil, &domain.StorageFailure{Op: "get bars", Err: err}
	}

	bars := make([]domain.Bar, len(models))
	for i, m := range models {
		bars[i] = domain.Bar{
			Symbol: m.Symbol, Timeframe: m.Timeframe, Timestamp: m.Timestamp,
			Open: m.Open, High: m.High, Low: m.Low, Close: m.Close, Volume: m.Volume,
		}
	}
	return bars, nil
}

// SaveBars upserts a batch of bars, the write side of the historical
// data ingest path a market-data fetcher would drive.
func (r *BarRepository) SaveBars(bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	models := make([]barModel, len(bars))
	for i, b := range bars {
		models[i] = barModel{
			Symbol: b.Symbol, Timeframe: b.Timeframe, Timestamp: b.Timestamp,
			Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		}
	}
	if err := r.db.Save(&models).Error; err != nil {
		return &domain.StorageFailure{Op: "save bars", Err: err}
	}
	return nil
}
