package risk

import (
	"time"

	"github.com/ksred/screener-api/internal/types"
	"gorm.io/gorm"
)

// RiskSettings is the singleton limits row, one per trading mode. Editable
// only through the settings endpoint.
type RiskSettings struct {
	gorm.Model  `json:"-"`
	TradingMode types.TradingMode `gorm:"uniqueIndex" json:"trading_mode"`
	// Enabled false is an explicit escape hatch: every trade is allowed.
	Enabled bool `json:"enabled"`
	// Zero caps mean that check is not applied.
	MaxTradeAmount          float64   `json:"max_trade_amount"`
	DailySpendLimit         float64   `json:"daily_spend_limit"`
	WeeklySpendLimit        float64   `json:"weekly_spend_limit"`
	MaxOpenPositions        int       `json:"max_open_positions"`
	DefaultStopLossPct      float64   `json:"default_stop_loss_pct"`
	DefaultTakeProfitPct    float64   `json:"default_take_profit_pct"`
	AllowDuplicatePositions bool      `json:"allow_duplicate_positions"`
	UpdatedAt               time.Time `json:"updated_at"`
}
