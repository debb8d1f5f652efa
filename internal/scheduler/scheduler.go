// Package scheduler owns the periodic triggers: one independent timer per
// scheduling-enabled profile, each with its own cancellation handle, feeding
// scans (and, for auto-execute profiles, risk-gated trades) while recording
// every run in the append-only audit trail.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ksred/screener-api/internal/database"
	"github.com/ksred/screener-api/internal/executor"
	"github.com/ksred/screener-api/internal/marketdata"
	"github.com/ksred/screener-api/internal/profiles"
	"github.com/ksred/screener-api/internal/screener"
	"github.com/ksred/screener-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const schedulerRunningKey = "scheduler_running"

// Service establishes and tears down the per-profile triggers.
type Service struct {
	db       *Database
	profiles *profiles.Database
	screener *screener.Service
	executor *executor.Service
	clock    marketdata.Clock
	settings *database.Settings

	mode            types.TradingMode
	defaultInterval time.Duration
	logger          zerolog.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	lastTick  time.Time
	cancels   map[uint]context.CancelFunc
}

func NewService(
	gormDB *gorm.DB,
	profilesDB *profiles.Database,
	screenerService *screener.Service,
	executorService *executor.Service,
	clock marketdata.Clock,
	settings *database.Settings,
	mode types.TradingMode,
	defaultInterval time.Duration,
) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		profiles:        profilesDB,
		screener:        screenerService,
		executor:        executorService,
		clock:           clock,
		settings:        settings,
		mode:            mode,
		defaultInterval: defaultInterval,
		logger:          log.With().Str("component", "scheduler").Logger(),
		cancels:         make(map[uint]context.CancelFunc),
	}
}

func (s *Service) Database() *Database { return s.db }

// Start reads all profiles with scheduling enabled and establishes one
// independent periodic trigger per profile.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return types.ErrSchedulerRunning
	}

	scheduled, err := s.profiles.ListScheduled()
	if err != nil {
		return fmt.Errorf("load scheduled profiles: %w", err)
	}

	for i := range scheduled {
		s.startTriggerLocked(&scheduled[i])
	}

	s.running = true
	s.startedAt = time.Now()
	if err := s.settings.SetBool(schedulerRunningKey, true); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist scheduler state")
	}

	s.logger.Info().Int("triggers", len(s.cancels)).Msg("scheduler started")
	return nil
}

func (s *Service) startTriggerLocked(profile *profiles.Profile) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[profile.ID] = cancel

	interval := profile.ScanInterval(s.defaultInterval)
	go s.runTrigger(ctx, profile.ID, interval)
}

// runTrigger is one profile's timer loop. Cancellation stops future ticks
// only; an in-flight scan is never forcibly interrupted.
func (s *Service) runTrigger(ctx context.Context, profileID uint, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Uint("profile_id", profileID).
		Dur("interval", interval).
		Msg("trigger established")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Uint("profile_id", profileID).Msg("trigger cancelled")
			return
		case <-ticker.C:
			s.tick(profileID)
		}
	}
}

// tick runs one scheduled cycle for a profile. Any failure is recorded on
// the job run; nothing here may take the trigger loop down.
func (s *Service) tick(profileID uint) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Uint("profile_id", profileID).
				Str("panic", fmt.Sprint(r)).
				Msg("panic in scheduled tick")
		}
	}()

	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()

	profile, err := s.profiles.Get(profileID)
	if err != nil || profile == nil {
		s.logger.Error().Err(err).Uint("profile_id", profileID).Msg("profile lookup failed on tick")
		return
	}

	// A closed market skips the tick entirely: no run row is logged.
	if profile.MarketHoursOnly && !s.clock.IsOpen() {
		s.logger.Debug().Uint("profile_id", profileID).Msg("market closed, tick skipped")
		return
	}

	// Per-profile serialization: an overlapping tick is recorded as skipped
	// so contention shows up in the audit trail.
	if s.screener.IsRunning(profileID) {
		skipped := &types.JobRun{
			ProfileID: profileID,
			Kind:      types.JobScan,
			Trigger:   types.TriggerScheduled,
			Status:    types.JobSkipped,
			Error:     "skipped — already running",
			StartedAt: time.Now(),
		}
		if err := s.db.CreateJobRun(skipped); err != nil {
			s.logger.Error().Err(err).Msg("failed to record skipped run")
		}
		return
	}

	s.runScan(profile, types.TriggerScheduled)
}

// runScan executes one scan with audit bookkeeping, shared by scheduled
// ticks and the manual trigger.
func (s *Service) runScan(profile *profiles.Profile, trigger types.JobTrigger) (*screener.ScanResult, error) {
	run := &types.JobRun{
		ProfileID: profile.ID,
		Kind:      types.JobScan,
		Trigger:   trigger,
		Status:    types.JobStarted,
		StartedAt: time.Now(),
	}
	if err := s.db.CreateJobRun(run); err != nil {
		return nil, fmt.Errorf("record job run: %w", err)
	}

	result, err := s.screener.RunScan(profile.ID)

	run.FinishedAt = time.Now()
	run.DurationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()

	if err != nil {
		if err == types.ErrScanAlreadyRunning {
			run.Status = types.JobSkipped
			run.Error = "skipped — already running"
		} else {
			run.Status = types.JobFailed
			run.Error = err.Error()
		}
		if updErr := s.db.UpdateJobRun(run); updErr != nil {
			s.logger.Error().Err(updErr).Msg("failed to update job run")
		}
		return nil, err
	}

	run.Status = types.JobCompleted
	run.MatchCount = len(result.Matches)

	// Auto-execute failures are visible on the run row, never fatal to the
	// trigger.
	if profile.AutoExecute && len(result.Matches) > 0 {
		if execErr := s.autoExecute(profile, result.Matches); execErr != "" {
			run.Error = execErr
		}
	}

	if err := s.db.UpdateJobRun(run); err != nil {
		s.logger.Error().Err(err).Msg("failed to update job run")
	}
	return result, nil
}

// autoExecute feeds matches through the risk gate and trade executor.
// Returns a summary of per-match failures for the audit row.
func (s *Service) autoExecute(profile *profiles.Profile, matches []screener.Match) string {
	var failures []string
	for i := range matches {
		match := &matches[i]
		intent, err := s.intentForMatch(profile, match)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", match.Symbol, err))
			continue
		}

		record, err := s.executor.Submit(*intent)
		if err != nil {
			// Risk and broker rejections are already persisted as rejected
			// trade records; the run row carries the summary.
			failures = append(failures, fmt.Sprintf("%s: %v", match.Symbol, err))
			continue
		}
		s.logger.Info().
			Uint("profile_id", profile.ID).
			Str("symbol", match.Symbol).
			Str("trade_id", record.TradeID).
			Str("status", string(record.Status)).
			Msg("auto-executed match")
	}
	return strings.Join(failures, "; ")
}

// intentForMatch sizes a buy order from the profile's per-order cap and the
// matched snapshot price.
func (s *Service) intentForMatch(profile *profiles.Profile, match *screener.Match) (*types.OrderIntent, error) {
	price := snapshotPrice(match)
	if price <= 0 {
		return nil, fmt.Errorf("no usable price in match snapshot")
	}

	quantity := 1.0
	if profile.MaxOrderValue > 0 {
		quantity = math.Floor(profile.MaxOrderValue / price)
		if quantity < 1 {
			return nil, fmt.Errorf("price %.2f exceeds max order value %.2f", price, profile.MaxOrderValue)
		}
	}

	return &types.OrderIntent{
		Symbol:         match.Symbol,
		Side:           types.SideBuy,
		Quantity:       quantity,
		OrderKind:      types.OrderMarket,
		EstimatedPrice: price,
		MaxOrderValue:  profile.MaxOrderValue,
		StopLossPct:    profile.StopLossPct,
		TakeProfitPct:  profile.TakeProfitPct,
	}, nil
}

func snapshotPrice(match *screener.Match) float64 {
	if quote, ok := match.Snapshot["quote"].(*types.Quote); ok {
		return quote.Price
	}
	if contract, ok := match.Snapshot["contract"].(*types.OptionContract); ok {
		return contract.LastPrice
	}
	return 0
}

// ManualScan triggers one synchronous scan outside the schedule. It is still
// audited and still serialized against scheduled runs for the same profile.
func (s *Service) ManualScan(profileID uint) (*screener.ScanResult, error) {
	profile, err := s.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, types.ErrProfileNotFound
	}
	return s.runScan(profile, types.TriggerManual)
}

// Reload re-syncs triggers against the current profile set without a full
// stop/start: profiles no longer scheduled lose their trigger, newly
// scheduled profiles gain one. Interval changes on an existing profile take
// effect by cancelling and re-establishing its trigger. No-op when stopped.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return types.ErrSchedulerNotRunning
	}

	scheduled, err := s.profiles.ListScheduled()
	if err != nil {
		return fmt.Errorf("load scheduled profiles: %w", err)
	}

	want := make(map[uint]*profiles.Profile, len(scheduled))
	for i := range scheduled {
		want[scheduled[i].ID] = &scheduled[i]
	}

	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	for _, profile := range want {
		s.startTriggerLocked(profile)
	}

	s.logger.Info().Int("triggers", len(s.cancels)).Msg("scheduler reloaded")
	return nil
}

// Stop cancels every trigger. Already-dispatched scans finish on their own.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return types.ErrSchedulerNotRunning
	}

	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.running = false
	if err := s.settings.SetBool(schedulerRunningKey, false); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist scheduler state")
	}

	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// Status reports running state and active trigger count.
func (s *Service) Status() types.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SchedulerStatus{
		Running:      s.running,
		ActiveJobs:   len(s.cancels),
		TradingMode:  string(s.mode),
		StartedAt:    s.startedAt,
		LastTickedAt: s.lastTick,
	}
}

// ResumeIfPersisted starts the scheduler when the last known persisted state
// was running. Called once at boot.
func (s *Service) ResumeIfPersisted() error {
	wasRunning, err := s.settings.GetBool(schedulerRunningKey, false)
	if err != nil {
		return err
	}
	if !wasRunning {
		return nil
	}
	return s.Start()
}
