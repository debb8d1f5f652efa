// Package brokerage defines the brokerage collaborator interface and a
// simulated implementation. Credentials are strictly separated per trading
// mode; a broker instance serves exactly one mode.
package brokerage

import (
	"time"

	"github.com/ksred/screener-api/internal/types"
)

// OrderRequest is the order as handed to the brokerage.
type OrderRequest struct {
	Symbol     string
	Side       types.OrderSide
	Quantity   float64
	OrderKind  types.OrderKind
	LimitPrice float64
}

// OrderResult is the brokerage's report on a submitted order.
type OrderResult struct {
	BrokerOrderID string
	Status        types.TradeStatus
	FilledPrice   float64
	FilledQty     float64
	Reason        string
	SubmittedAt   time.Time
}

// AccountInfo is a snapshot of the brokerage account.
type AccountInfo struct {
	Cash        float64
	Equity      float64
	TradingMode types.TradingMode
}

// Broker is the brokerage collaborator boundary.
type Broker interface {
	// Name returns the provider identifier used for rate-limit accounting.
	Name() string

	// Mode returns the trading mode this broker's credentials belong to.
	Mode() types.TradingMode

	// SubmitOrder sends an order for execution.
	SubmitOrder(req OrderRequest) (*OrderResult, error)

	// GetOrderStatus returns the latest known state of a broker order.
	GetOrderStatus(brokerOrderID string) (*OrderResult, error)

	// GetAccount returns the account snapshot.
	GetAccount() (*AccountInfo, error)
}
