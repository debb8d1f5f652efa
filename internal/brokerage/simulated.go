package brokerage

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/screener-api/internal/marketdata"
	"github.com/ksred/screener-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SimulatedBroker fills orders against a supplied price source with a small
// variance, tracking cash locally. It stands in for the real brokerage in
// paper mode and in tests.
type SimulatedBroker struct {
	name string
	mode types.TradingMode

	// priceFor supplies the reference price per symbol; fills vary ±0.5%
	// around it.
	priceFor func(symbol string) float64

	// clock gates order acceptance to the trading session; nil accepts
	// around the clock.
	clock marketdata.Clock

	minLatency  int // in milliseconds
	maxLatency  int
	successRate float64

	mu     sync.Mutex
	cash   float64
	orders map[string]*OrderResult

	logger zerolog.Logger
}

func NewSimulatedBroker(mode types.TradingMode, cash float64, priceFor func(string) float64) *SimulatedBroker {
	return &SimulatedBroker{
		name:        "sim_broker",
		mode:        mode,
		priceFor:    priceFor,
		minLatency:  10,
		maxLatency:  60,
		successRate: 1.0,
		cash:        cash,
		orders:      make(map[string]*OrderResult),
		logger: log.With().
			Str("component", "brokerage").
			Str("mode", string(mode)).
			Logger(),
	}
}

// SetSuccessRate lowers the fill probability so rejection paths can be
// exercised.
func (b *SimulatedBroker) SetSuccessRate(rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successRate = rate
}

// SetSessionClock makes the broker refuse orders outside market hours.
func (b *SimulatedBroker) SetSessionClock(clock marketdata.Clock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

func (b *SimulatedBroker) Name() string            { return b.name }
func (b *SimulatedBroker) Mode() types.TradingMode { return b.mode }

func (b *SimulatedBroker) SubmitOrder(req OrderRequest) (*OrderResult, error) {
	latency := rand.Intn(b.maxLatency-b.minLatency+1) + b.minLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clock != nil && !b.clock.IsOpen() {
		return nil, types.ErrMarketClosed
	}

	result := &OrderResult{
		BrokerOrderID: uuid.New().String(),
		SubmittedAt:   time.Now(),
	}

	if rand.Float64() > b.successRate {
		result.Status = types.TradeRejected
		result.Reason = "order rejected by venue"
		b.orders[result.BrokerOrderID] = result
		b.logger.Warn().
			Str("symbol", req.Symbol).
			Str("broker_order_id", result.BrokerOrderID).
			Msg("order rejected")
		return result, nil
	}

	price := b.priceFor(req.Symbol)
	if price <= 0 {
		result.Status = types.TradeRejected
		result.Reason = fmt.Sprintf("no market for %s", req.Symbol)
		b.orders[result.BrokerOrderID] = result
		return result, nil
	}
	fillPrice := price * (1 + (rand.Float64()*0.01 - 0.005))

	if req.OrderKind == types.OrderLimit && req.LimitPrice > 0 {
		// Marketable check only; resting limit orders are out of scope for
		// the simulator.
		if (req.Side == types.SideBuy && fillPrice > req.LimitPrice) ||
			(req.Side == types.SideSell && fillPrice < req.LimitPrice) {
			result.Status = types.TradeRejected
			result.Reason = "limit price not marketable"
			b.orders[result.BrokerOrderID] = result
			return result, nil
		}
		fillPrice = req.LimitPrice
	}

	cost := fillPrice * req.Quantity
	if req.Side == types.SideBuy {
		if cost > b.cash {
			result.Status = types.TradeRejected
			result.Reason = "insufficient buying power"
			b.orders[result.BrokerOrderID] = result
			return result, nil
		}
		b.cash -= cost
	} else {
		b.cash += cost
	}

	result.Status = types.TradeFilled
	result.FilledPrice = fillPrice
	result.FilledQty = req.Quantity
	b.orders[result.BrokerOrderID] = result

	b.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Float64("filled_price", fillPrice).
		Str("broker_order_id", result.BrokerOrderID).
		Msg("order filled")

	return result, nil
}

func (b *SimulatedBroker) GetOrderStatus(brokerOrderID string) (*OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result, ok := b.orders[brokerOrderID]
	if !ok {
		return nil, fmt.Errorf("unknown broker order %s", brokerOrderID)
	}
	copied := *result
	return &copied, nil
}

func (b *SimulatedBroker) GetAccount() (*AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &AccountInfo{
		Cash:        b.cash,
		Equity:      b.cash,
		TradingMode: b.mode,
	}, nil
}
