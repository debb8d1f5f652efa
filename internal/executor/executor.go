// Package executor submits risk-checked orders to the brokerage through the
// request governor and records their lifecycle, keeping the local position
// view in step with fills.
package executor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/screener-api/internal/brokerage"
	"github.com/ksred/screener-api/internal/governor"
	"github.com/ksred/screener-api/internal/marketdata"
	"github.com/ksred/screener-api/internal/risk"
	"github.com/ksred/screener-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service is the trade executor.
type Service struct {
	db       *Database
	broker   brokerage.Broker
	market   marketdata.Provider
	governor *governor.Governor
	risk     *risk.Service
	mode     types.TradingMode
	logger   zerolog.Logger
}

func NewService(
	gormDB *gorm.DB,
	broker brokerage.Broker,
	market marketdata.Provider,
	gov *governor.Governor,
	riskService *risk.Service,
	mode types.TradingMode,
) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		broker:   broker,
		market:   market,
		governor: gov,
		risk:     riskService,
		mode:     mode,
		logger:   log.With().Str("component", "executor").Str("mode", string(mode)).Logger(),
	}
}

func (s *Service) Database() *Database { return s.db }

// Submit runs the intent through the risk gate and, when allowed, sends it
// to the brokerage. A gate rejection persists a rejected trade record and
// never reaches the brokerage. The returned record reflects the terminal (or
// pending) state; the error carries the taxonomy for the caller.
func (s *Service) Submit(intent types.OrderIntent) (*types.TradeRecord, error) {
	s.normalize(&intent)

	if intent.EstimatedPrice <= 0 {
		price, err := s.fetchPrice(intent.Symbol)
		if err != nil {
			return nil, fmt.Errorf("estimate price for %s: %w", intent.Symbol, err)
		}
		intent.EstimatedPrice = price
	}

	decision, err := s.risk.Check(intent)
	if err != nil {
		return nil, fmt.Errorf("risk check: %w", err)
	}
	if !decision.Allowed {
		record := s.newRecord(intent)
		record.Status = types.TradeRejected
		record.RejectReason = decision.Reason
		if err := s.db.CreateTrade(record); err != nil {
			return nil, err
		}
		s.logger.Warn().
			Str("symbol", intent.Symbol).
			Str("reason", decision.Reason).
			Msg("trade rejected by risk gate")
		return record, &types.RiskViolationError{Reason: decision.Reason}
	}

	return s.dispatch(intent, types.CloseManual)
}

// SubmitClose sends a full-quantity closing order for a position without a
// risk check; protective exits reduce exposure and must never be blocked by
// spend caps. The position must already be claimed CLOSING by the caller.
func (s *Service) SubmitClose(pos *types.Position, reason types.CloseReason) (*types.TradeRecord, error) {
	intent := types.OrderIntent{
		Symbol:         pos.Symbol,
		Side:           types.SideSell,
		Quantity:       pos.Quantity,
		OrderKind:      types.OrderMarket,
		EstimatedPrice: pos.LastPrice,
		TradingMode:    s.mode,
	}

	record, err := s.dispatch(intent, reason)
	if err != nil || record.Status == types.TradeRejected || record.Status == types.TradeCancelled {
		if relErr := s.db.ReleaseClosing(pos.ID); relErr != nil {
			s.logger.Error().Err(relErr).Uint("position_id", pos.ID).Msg("failed to release closing claim")
		}
	}
	return record, err
}

// dispatch sends the order to the brokerage through the governor and applies
// the fill to local trade and position state.
func (s *Service) dispatch(intent types.OrderIntent, closeReason types.CloseReason) (*types.TradeRecord, error) {
	record := s.newRecord(intent)
	record.Status = types.TradePending
	if intent.Side == types.SideSell {
		record.CloseReason = closeReason
	}
	if err := s.db.CreateTrade(record); err != nil {
		return nil, err
	}

	req := brokerage.OrderRequest{
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Quantity:   intent.Quantity,
		OrderKind:  intent.OrderKind,
		LimitPrice: intent.LimitPrice,
	}

	value, err := s.governor.Execute(s.broker.Name(), func() (interface{}, error) {
		return s.broker.SubmitOrder(req)
	}, governor.ExecuteOptions{Priority: governor.PriorityHigh})
	if err != nil {
		record.Status = types.TradeCancelled
		record.RejectReason = err.Error()
		if updErr := s.db.UpdateTrade(record); updErr != nil {
			s.logger.Error().Err(updErr).Str("trade_id", record.TradeID).Msg("failed to update trade")
		}
		return record, fmt.Errorf("submit order: %w", err)
	}
	result := value.(*brokerage.OrderResult)

	record.BrokerOrderID = result.BrokerOrderID
	record.Status = result.Status
	record.FilledPrice = result.FilledPrice
	record.FilledQty = result.FilledQty
	record.RejectReason = result.Reason
	if err := s.db.UpdateTrade(record); err != nil {
		return nil, err
	}

	switch result.Status {
	case types.TradeRejected:
		s.logger.Warn().
			Str("symbol", intent.Symbol).
			Str("reason", result.Reason).
			Msg("trade rejected by broker")
		return record, &types.BrokerRejectionError{Reason: result.Reason}
	case types.TradeFilled, types.TradePartialFill:
		if err := s.applyFill(intent, result, closeReason); err != nil {
			return record, fmt.Errorf("apply fill: %w", err)
		}
	}

	s.logger.Info().
		Str("trade_id", record.TradeID).
		Str("symbol", record.Symbol).
		Str("side", string(record.Side)).
		Str("status", string(record.Status)).
		Float64("filled_price", record.FilledPrice).
		Msg("trade recorded")
	return record, nil
}

func (s *Service) applyFill(intent types.OrderIntent, result *brokerage.OrderResult, closeReason types.CloseReason) error {
	if intent.Side == types.SideBuy {
		slPct, tpPct := s.protectionPcts(intent)
		return s.db.ApplyBuyFill(s.mode, intent.Symbol, result.FilledQty, result.FilledPrice, slPct, tpPct)
	}
	return s.db.ApplySellFill(s.mode, intent.Symbol, result.FilledQty, result.FilledPrice, closeReason)
}

// protectionPcts falls back to the mode's risk defaults when the intent does
// not carry profile-level thresholds.
func (s *Service) protectionPcts(intent types.OrderIntent) (float64, float64) {
	slPct, tpPct := intent.StopLossPct, intent.TakeProfitPct
	if slPct > 0 && tpPct > 0 {
		return slPct, tpPct
	}
	settings, err := s.risk.Settings()
	if err != nil {
		s.logger.Error().Err(err).Msg("load risk defaults, protection thresholds unset")
		return slPct, tpPct
	}
	if slPct <= 0 {
		slPct = settings.DefaultStopLossPct
	}
	if tpPct <= 0 {
		tpPct = settings.DefaultTakeProfitPct
	}
	return slPct, tpPct
}

func (s *Service) normalize(intent *types.OrderIntent) {
	if intent.OrderKind == "" {
		intent.OrderKind = types.OrderMarket
	}
	intent.TradingMode = s.mode
}

func (s *Service) newRecord(intent types.OrderIntent) *types.TradeRecord {
	return &types.TradeRecord{
		TradeID:       uuid.New().String(),
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Quantity:      intent.Quantity,
		OrderKind:     intent.OrderKind,
		LimitPrice:    intent.LimitPrice,
		StopLossPct:   intent.StopLossPct,
		TakeProfitPct: intent.TakeProfitPct,
		TradingMode:   s.mode,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

// GetTrade returns one trade record by its public id. A record that belongs
// to the other trading mode is never exposed across the partition.
func (s *Service) GetTrade(tradeID string) (*types.TradeRecord, error) {
	trade, err := s.db.GetTrade(tradeID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, nil
	}
	if trade.TradingMode != s.mode {
		return nil, types.ErrWrongTradingMode
	}
	return trade, nil
}

// fetchPrice gets a current quote through the governor at high priority.
func (s *Service) fetchPrice(symbol string) (float64, error) {
	value, err := s.governor.Execute(s.market.Name(), func() (interface{}, error) {
		return s.market.GetQuote(symbol)
	}, governor.ExecuteOptions{Priority: governor.PriorityHigh})
	if err != nil {
		return 0, err
	}
	quote := value.(*types.Quote)
	if quote.Price <= 0 {
		return 0, types.ErrUpstreamValidation
	}
	return quote.Price, nil
}

// RefreshPendingTrades polls the brokerage for trades still pending and
// applies any terminal transition, including the position side effects a
// late fill carries. Called opportunistically by the monitor loop.
func (s *Service) RefreshPendingTrades() error {
	trades, err := s.db.ListTrades(s.mode, 500)
	if err != nil {
		return err
	}
	for i := range trades {
		trade := &trades[i]
		if trade.Status != types.TradePending || trade.BrokerOrderID == "" {
			continue
		}
		value, err := s.governor.Execute(s.broker.Name(), func() (interface{}, error) {
			return s.broker.GetOrderStatus(trade.BrokerOrderID)
		}, governor.ExecuteOptions{})
		if err != nil {
			s.logger.Warn().Err(err).Str("trade_id", trade.TradeID).Msg("order status poll failed")
			continue
		}
		result := value.(*brokerage.OrderResult)
		if result.Status == trade.Status {
			continue
		}
		trade.Status = result.Status
		trade.FilledPrice = result.FilledPrice
		trade.FilledQty = result.FilledQty
		trade.RejectReason = result.Reason
		if err := s.db.UpdateTrade(trade); err != nil {
			return err
		}

		switch result.Status {
		case types.TradeFilled, types.TradePartialFill:
			if err := s.applyFill(s.intentFromRecord(trade), result, trade.CloseReason); err != nil {
				s.logger.Error().Err(err).Str("trade_id", trade.TradeID).Msg("failed to apply late fill")
			}
		case types.TradeRejected, types.TradeCancelled:
			// A failed protective close must hand the position back to the
			// monitor for retry.
			if trade.Side == types.SideSell {
				s.releaseClosingBySymbol(trade.Symbol)
			}
		}
	}
	return nil
}

// intentFromRecord reconstructs the order intent a persisted trade was
// submitted with, for fill side effects applied after the fact.
func (s *Service) intentFromRecord(trade *types.TradeRecord) types.OrderIntent {
	return types.OrderIntent{
		Symbol:        trade.Symbol,
		Side:          trade.Side,
		Quantity:      trade.Quantity,
		OrderKind:     trade.OrderKind,
		LimitPrice:    trade.LimitPrice,
		StopLossPct:   trade.StopLossPct,
		TakeProfitPct: trade.TakeProfitPct,
		TradingMode:   s.mode,
	}
}

func (s *Service) releaseClosingBySymbol(symbol string) {
	pos, err := s.db.GetPosition(s.mode, symbol)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to look up position for claim release")
		return
	}
	if pos == nil || pos.State != types.PositionClosing {
		return
	}
	if err := s.db.ReleaseClosing(pos.ID); err != nil {
		s.logger.Error().Err(err).Uint("position_id", pos.ID).Msg("failed to release closing claim")
	}
}
