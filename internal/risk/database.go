package risk

import (
	"errors"
	"time"

	"github.com/ksred/screener-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetSettings returns the limits row for mode, creating conservative
// defaults on first use.
func (d *Database) GetSettings(mode types.TradingMode) (*RiskSettings, error) {
	var settings RiskSettings
	err := d.db.Where("trading_mode = ?", mode).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = RiskSettings{
			TradingMode:             mode,
			Enabled:                 true,
			MaxTradeAmount:          1000,
			DailySpendLimit:         5000,
			WeeklySpendLimit:        20000,
			MaxOpenPositions:        10,
			DefaultStopLossPct:      5,
			DefaultTakeProfitPct:    10,
			AllowDuplicatePositions: false,
		}
		if createErr := d.db.Create(&settings).Error; createErr != nil {
			return nil, createErr
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (d *Database) UpdateSettings(settings *RiskSettings) error {
	return d.db.Save(settings).Error
}

// SpendSince sums the notional of filled and partially filled buys in mode
// recorded at or after cutoff.
func (d *Database) SpendSince(mode types.TradingMode, cutoff time.Time) (float64, error) {
	var total float64
	err := d.db.Model(&types.TradeRecord{}).
		Select("COALESCE(SUM(filled_price * filled_qty), 0)").
		Where("trading_mode = ? AND side = ? AND status IN ? AND created_at >= ?",
			mode, types.SideBuy,
			[]types.TradeStatus{types.TradeFilled, types.TradePartialFill},
			cutoff).
		Scan(&total).Error
	return total, err
}

// OpenPositionCount counts open and closing positions in mode.
func (d *Database) OpenPositionCount(mode types.TradingMode) (int, error) {
	var count int64
	err := d.db.Model(&types.Position{}).
		Where("trading_mode = ?", mode).
		Count(&count).Error
	return int(count), err
}

// OpenPositionForSymbol returns the position for symbol in mode, or nil.
func (d *Database) OpenPositionForSymbol(mode types.TradingMode, symbol string) (*types.Position, error) {
	var pos types.Position
	err := d.db.Where("trading_mode = ? AND symbol = ?", mode, symbol).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}
