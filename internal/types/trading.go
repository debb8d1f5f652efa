package types

import (
	"time"

	"gorm.io/gorm"
)

// TradingMode partitions all trade and position state. Paper and live rows
// live in the same tables but are never read or written across modes.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

type TradeStatus string

const (
	TradePending     TradeStatus = "pending"
	TradeFilled      TradeStatus = "filled"
	TradePartialFill TradeStatus = "partial_fill"
	TradeRejected    TradeStatus = "rejected"
	TradeCancelled   TradeStatus = "cancelled"
)

// IsTerminal reports whether the status allows no further transitions.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeFilled || s == TradeRejected || s == TradeCancelled
}

type PositionState string

const (
	PositionOpen    PositionState = "open"
	PositionClosing PositionState = "closing"
)

type CloseReason string

const (
	CloseManual     CloseReason = "manual"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
)

// OrderIntent is a proposed trade before it has passed the risk gate.
type OrderIntent struct {
	Symbol         string      `json:"symbol" binding:"required"`
	Side           OrderSide   `json:"side" binding:"required"`
	Quantity       float64     `json:"quantity" binding:"required,gt=0"`
	OrderKind      OrderKind   `json:"order_kind"`
	LimitPrice     float64     `json:"limit_price"`
	EstimatedPrice float64     `json:"estimated_price"`
	TradingMode    TradingMode `json:"trading_mode"`
	// MaxOrderValue overrides the global per-trade cap when set (> 0);
	// carried from the profile that produced this intent.
	MaxOrderValue float64 `json:"max_order_value"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
}

// Value returns the notional value used for risk checks: limit price when
// set, otherwise the estimated market price.
func (i OrderIntent) Value() float64 {
	price := i.LimitPrice
	if i.OrderKind != OrderLimit || price <= 0 {
		price = i.EstimatedPrice
	}
	return price * i.Quantity
}

type TradeRecord struct {
	gorm.Model    `json:"-"`
	TradeID       string      `gorm:"uniqueIndex" json:"trade_id"`
	Symbol        string      `gorm:"index" json:"symbol"`
	Side          OrderSide   `json:"side"`
	Quantity      float64     `json:"quantity"`
	OrderKind     OrderKind   `json:"order_kind"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	FilledPrice   float64     `json:"filled_price,omitempty"`
	FilledQty     float64     `json:"filled_quantity,omitempty"`
	Status        TradeStatus `gorm:"index" json:"status"`
	RejectReason  string      `json:"reject_reason,omitempty"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	// CloseReason is set on sell orders so a fill reported after submission
	// still records why the position was closed.
	CloseReason   CloseReason `json:"close_reason,omitempty"`
	StopLossPct   float64     `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64     `json:"take_profit_pct,omitempty"`
	TradingMode   TradingMode `gorm:"index" json:"trading_mode"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type Position struct {
	gorm.Model      `json:"-"`
	Symbol          string        `gorm:"index:idx_position_mode_symbol" json:"symbol"`
	Quantity        float64       `json:"quantity"`
	AvgCost         float64       `json:"avg_cost"`
	TradingMode     TradingMode   `gorm:"index:idx_position_mode_symbol" json:"trading_mode"`
	StopLossPct     float64       `json:"stop_loss_pct"`
	TakeProfitPct   float64       `json:"take_profit_pct"`
	LastPrice       float64       `json:"last_price"`
	UnrealizedPLPct float64       `json:"unrealized_pl_pct"`
	State           PositionState `gorm:"index" json:"state"`
	OpenedAt        time.Time     `json:"opened_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// UnrealizedPL returns the percent gain or loss at the given price relative
// to average cost. Positive is a gain.
func (p *Position) UnrealizedPL(price float64) float64 {
	if p.AvgCost == 0 {
		return 0
	}
	return (price - p.AvgCost) / p.AvgCost * 100
}

type ClosedPosition struct {
	gorm.Model  `json:"-"`
	Symbol      string      `gorm:"index" json:"symbol"`
	Quantity    float64     `json:"quantity"`
	AvgCost     float64     `json:"avg_cost"`
	ClosePrice  float64     `json:"close_price"`
	RealizedPL  float64     `json:"realized_pl"`
	CloseReason CloseReason `json:"close_reason"`
	TradingMode TradingMode `gorm:"index" json:"trading_mode"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
}
