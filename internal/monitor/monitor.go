// Package monitor watches open positions for stop-loss and take-profit
// breaches and closes them automatically. It runs on its own cadence,
// independent of the scan scheduler, and bypasses the risk gate: protective
// exits reduce exposure and must never be blocked.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/screener-api/internal/executor"
	"github.com/ksred/screener-api/internal/governor"
	"github.com/ksred/screener-api/internal/marketdata"
	"github.com/ksred/screener-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunStore appends monitor cycles to the job-run audit trail. The scheduler's
// job-run store satisfies it.
type RunStore interface {
	CreateJobRun(run *types.JobRun) error
	UpdateJobRun(run *types.JobRun) error
}

// Monitor is the position supervision loop.
type Monitor struct {
	executor *executor.Service
	market   marketdata.Provider
	governor *governor.Governor
	runs     RunStore
	mode     types.TradingMode
	interval time.Duration
	logger   zerolog.Logger
}

func New(
	executorService *executor.Service,
	market marketdata.Provider,
	gov *governor.Governor,
	runs RunStore,
	mode types.TradingMode,
	interval time.Duration,
) *Monitor {
	return &Monitor{
		executor: executorService,
		market:   market,
		governor: gov,
		runs:     runs,
		mode:     mode,
		interval: interval,
		logger:   log.With().Str("component", "position_monitor").Str("mode", string(mode)).Logger(),
	}
}

// Start begins the monitoring loop and blocks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Msg("starting position monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("shutting down position monitor")
			return
		case <-ticker.C:
			if err := m.Tick(); err != nil {
				m.logger.Error().Err(err).Msg("monitor tick failed")
			}
		}
	}
}

// Tick runs one monitor cycle and records it in the job-run audit trail
// alongside the scan rows.
func (m *Monitor) Tick() error {
	run := &types.JobRun{
		Kind:      types.JobMonitor,
		Trigger:   types.TriggerScheduled,
		Status:    types.JobStarted,
		StartedAt: time.Now(),
	}
	if err := m.runs.CreateJobRun(run); err != nil {
		m.logger.Error().Err(err).Msg("failed to record monitor run")
	}

	err := m.tick(run)

	run.FinishedAt = time.Now()
	run.DurationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	if err != nil {
		run.Status = types.JobFailed
		run.Error = err.Error()
	} else {
		run.Status = types.JobCompleted
	}
	if run.ID != 0 {
		if updErr := m.runs.UpdateJobRun(run); updErr != nil {
			m.logger.Error().Err(updErr).Msg("failed to update monitor run")
		}
	}
	return err
}

// tick reprices every open position in the current mode and closes any whose
// thresholds are breached. A failure for one symbol never aborts the rest.
func (m *Monitor) tick(run *types.JobRun) error {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("panic", fmt.Sprint(r)).Msg("panic in monitor tick")
		}
	}()

	positions, err := m.executor.Database().ListOpenPositions(m.mode)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	run.MatchCount = len(positions)

	for i := range positions {
		m.checkPosition(&positions[i])
	}

	// Opportunistic cleanup of trades the broker has since resolved.
	if err := m.executor.RefreshPendingTrades(); err != nil {
		m.logger.Warn().Err(err).Msg("pending trade refresh failed")
	}
	return nil
}

func (m *Monitor) checkPosition(pos *types.Position) {
	value, err := m.governor.Execute(m.market.Name(), func() (interface{}, error) {
		return m.market.GetQuote(pos.Symbol)
	}, governor.ExecuteOptions{})
	if err != nil {
		// Transient failure: skip this symbol for this tick only.
		m.logger.Warn().
			Err(err).
			Str("symbol", pos.Symbol).
			Msg("reprice failed, skipping position this tick")
		return
	}
	quote := value.(*types.Quote)
	if quote.Price <= 0 {
		m.logger.Warn().Str("symbol", pos.Symbol).Msg("invalid quote, skipping position this tick")
		return
	}

	plPct := pos.UnrealizedPL(quote.Price)
	if err := m.executor.Database().UpdatePositionPrice(pos.ID, quote.Price, plPct); err != nil {
		m.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to update position price")
	}
	pos.LastPrice = quote.Price

	reason, breached := breach(pos, plPct)
	if !breached {
		return
	}

	// Claim OPEN -> CLOSING atomically with the close submission path; a
	// concurrent or subsequent tick that loses the claim does nothing.
	claimed, err := m.executor.Database().ClaimClosing(pos.ID)
	if err != nil {
		m.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to claim position for close")
		return
	}
	if !claimed {
		return
	}

	m.logger.Info().
		Str("symbol", pos.Symbol).
		Float64("pl_pct", plPct).
		Str("reason", string(reason)).
		Msg("threshold breached, closing position")

	record, err := m.executor.SubmitClose(pos, reason)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("symbol", pos.Symbol).
			Msg("close submission failed, claim released for retry")
		return
	}
	m.logger.Info().
		Str("symbol", pos.Symbol).
		Str("trade_id", record.TradeID).
		Str("status", string(record.Status)).
		Msg("closing order submitted")
}

// breach reports whether the position's thresholds are crossed at the given
// unrealized P/L percent. A zero threshold disables that side.
func breach(pos *types.Position, plPct float64) (types.CloseReason, bool) {
	if pos.StopLossPct > 0 && plPct <= -pos.StopLossPct {
		return types.CloseStopLoss, true
	}
	if pos.TakeProfitPct > 0 && plPct >= pos.TakeProfitPct {
		return types.CloseTakeProfit, true
	}
	return "", false
}
