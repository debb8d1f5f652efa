package executor

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

func (d *Database) CreateTrade(trade *types.TradeRecord) error {
	return d.db.Create(trade).Error
}

func (d *Database) UpdateTrade(trade *types.TradeRecord) error {
	return d.db.Save(trade).Error
}

func (d *Database) GetTrade(tradeID string) (*types.TradeRecord, error) {
	var trade types.TradeRecord
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) ListTrades(mode types.TradingMode, limit int) ([]types.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var trades []types.TradeRecord
	err := d.db.Where("trading_mode = ?", mode).
		Order("created_at DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

func (d *Database) GetPosition(mode types.TradingMode, symbol string) (*types.Position, error) {
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

// ListOpenPositions returns positions still in the open state for mode;
// positions mid-close are excluded.
func (d *Database) ListOpenPositions(mode types.TradingMode) ([]types.Position, error) {
	var list []types.Position
	err := d.db.Where("trading_mode = ? AND state = ?", mode, types.PositionOpen).
		Order("symbol").
		Find(&list).Error
	return list, err
}

func (d *Database) ListPositions(mode types.TradingMode) ([]types.Position, error) {
	var list []types.Position
	err := d.db.Where("trading_mode = ?", mode).Order("symbol").Find(&list).Error
	return list, err
}

func (d *Database) ListClosedPositions(mode types.TradingMode, limit int) ([]types.ClosedPosition, error) {
	if limit <= 0 {
		limit = 100
	}
	var list []types.ClosedPosition
	err := d.db.Where("trading_mode = ?", mode).
		Order("closed_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// ClaimClosing transitions a position OPEN -> CLOSING. The guarded update
// makes the claim atomic: a second caller (or a second monitor tick) gets
// claimed=false and must not submit another close.
func (d *Database) ClaimClosing(positionID uint) (bool, error) {
	res := d.db.Model(&types.Position{}).
		Where("id = ? AND state = ?", positionID, types.PositionOpen).
		Update("state", types.PositionClosing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseClosing returns a claimed position to OPEN after a failed close so
// the next monitor tick can retry. Risk control is never silently dropped.
func (d *Database) ReleaseClosing(positionID uint) error {
	return d.db.Model(&types.Position{}).
		Where("id = ? AND state = ?", positionID, types.PositionClosing).
		Update("state", types.PositionOpen).Error
}

// UpdatePositionPrice refreshes the repricing bookkeeping fields.
func (d *Database) UpdatePositionPrice(positionID uint, price, plPct float64) error {
	return d.db.Model(&types.Position{}).
		Where("id = ?", positionID).
		Updates(map[string]interface{}{
			"last_price":        price,
			"unrealized_pl_pct": plPct,
		}).Error
}

// ApplyBuyFill creates a position or increases an existing one with a
// weighted average cost, in one transaction.
func (d *Database) ApplyBuyFill(mode types.TradingMode, symbol string, qty, price, slPct, tpPct float64) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var pos types.Position
		err := tx.Where("trading_mode = ? AND symbol = ?", mode, symbol).First(&pos).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			pos = types.Position{
				Symbol:        symbol,
				Quantity:      qty,
				AvgCost:       price,
				TradingMode:   mode,
				StopLossPct:   slPct,
				TakeProfitPct: tpPct,
				LastPrice:     price,
				State:         types.PositionOpen,
				OpenedAt:      time.Now(),
			}
			return tx.Create(&pos).Error
		}
		if err != nil {
			return err
		}

		totalCost := pos.AvgCost*pos.Quantity + price*qty
		pos.Quantity += qty
		pos.AvgCost = totalCost / pos.Quantity
		pos.LastPrice = price
		pos.UnrealizedPLPct = pos.UnrealizedPL(price)
		return tx.Save(&pos).Error
	})
}

// ApplySellFill reduces or closes the position for a filled sell, in one
// transaction. A full close moves the row to closed_positions with the given
// reason. Partial exits keep the average cost basis unchanged; lot-level
// tracking is an accepted simplification here.
func (d *Database) ApplySellFill(mode types.TradingMode, symbol string, qty, price float64, reason types.CloseReason) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var pos types.Position
		if err := tx.Where("trading_mode = ? AND symbol = ?", mode, symbol).First(&pos).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrPositionNotFound
			}
			return err
		}

		if qty >= pos.Quantity {
			closed := types.ClosedPosition{
				Symbol:      pos.Symbol,
				Quantity:    pos.Quantity,
				AvgCost:     pos.AvgCost,
				ClosePrice:  price,
				RealizedPL:  (price - pos.AvgCost) * pos.Quantity,
				CloseReason: reason,
				TradingMode: mode,
				OpenedAt:    pos.OpenedAt,
				ClosedAt:    time.Now(),
			}
			if err := tx.Create(&closed).Error; err != nil {
				return err
			}
			return tx.Unscoped().Delete(&pos).Error
		}

		pos.Quantity -= qty
		pos.LastPrice = price
		pos.UnrealizedPLPct = pos.UnrealizedPL(price)
		// A partially filled close leaves residual quantity; it goes back to
		// OPEN so the monitor keeps repricing and protecting it.
		pos.State = types.PositionOpen
		return tx.Save(&pos).Error
	})
}
