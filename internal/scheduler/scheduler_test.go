package scheduler

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/screener-api/internal/brokerage"
	"github.com/ksred/screener-api/internal/config"
	"github.com/ksred/screener-api/internal/database"
	"github.com/ksred/screener-api/internal/executor"
	"github.com/ksred/screener-api/internal/governor"
	"github.com/ksred/screener-api/internal/profiles"
	"github.com/ksred/screener-api/internal/risk"
	"github.com/ksred/screener-api/internal/screener"
	"github.com/ksred/screener-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func f64(v float64) *float64 { return &v }

type fakeClock struct{ open bool }

func (c *fakeClock) IsOpen() bool { return c.open }

// fakeMarket serves a fixed price and can hold quote fetches open so tests
// can observe an in-flight scan.
type fakeMarket struct {
	price float64
	gate  chan struct{}
}

func (m *fakeMarket) Name() string { return "fake_market" }

func (m *fakeMarket) GetQuote(symbol string) (*types.Quote, error) {
	if m.gate != nil {
		<-m.gate
	}
	return &types.Quote{Symbol: symbol, Price: m.price, Timestamp: time.Now()}, nil
}

func (m *fakeMarket) GetBar(symbol string) (*types.Bar, error) {
	return &types.Bar{Symbol: symbol, Close: m.price, Timestamp: time.Now()}, nil
}

func (m *fakeMarket) GetFundamentals(symbol string) (*types.Fundamentals, error) {
	return &types.Fundamentals{Symbol: symbol}, nil
}

func (m *fakeMarket) GetOptionChain(underlying string) ([]types.OptionContract, error) {
	return nil, nil
}

type fakeBroker struct{ fillPrice float64 }

func (b *fakeBroker) Name() string            { return "fake_broker" }
func (b *fakeBroker) Mode() types.TradingMode { return types.ModePaper }

func (b *fakeBroker) SubmitOrder(req brokerage.OrderRequest) (*brokerage.OrderResult, error) {
	return &brokerage.OrderResult{
		BrokerOrderID: "ord-1",
		Status:        types.TradeFilled,
		FilledPrice:   b.fillPrice,
		FilledQty:     req.Quantity,
		SubmittedAt:   time.Now(),
	}, nil
}

func (b *fakeBroker) GetOrderStatus(id string) (*brokerage.OrderResult, error) {
	return &brokerage.OrderResult{BrokerOrderID: id, Status: types.TradeFilled}, nil
}

func (b *fakeBroker) GetAccount() (*brokerage.AccountInfo, error) {
	return &brokerage.AccountInfo{Cash: 100000, TradingMode: types.ModePaper}, nil
}

type testEnv struct {
	service  *Service
	profiles *profiles.Database
	screener *screener.Service
	executor *executor.Service
	market   *fakeMarket
	clock    *fakeClock
	settings *database.Settings
	db       *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&database.Setting{},
		&profiles.Profile{},
		&screener.Match{},
		&risk.RiskSettings{},
		&types.TradeRecord{},
		&types.Position{},
		&types.ClosedPosition{},
		&types.JobRun{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	market := &fakeMarket{price: 100}
	broker := &fakeBroker{fillPrice: 100}
	clock := &fakeClock{open: true}
	settings := database.NewSettings(db)
	gov := governor.New(map[string]config.ProviderConfig{
		"fake_market": {RateLimitPerMinute: 10000, PacingDelayMs: 1},
		"fake_broker": {RateLimitPerMinute: 10000, PacingDelayMs: 1},
	})

	profilesDB := profiles.NewDatabase(db)
	screenerService := screener.NewService(db, profilesDB, market, gov)
	riskService := risk.NewService(db, types.ModePaper)
	executorService := executor.NewService(db, broker, market, gov, riskService, types.ModePaper)

	service := NewService(db, profilesDB, screenerService, executorService, clock,
		settings, types.ModePaper, time.Minute)

	return &testEnv{
		service:  service,
		profiles: profilesDB,
		screener: screenerService,
		executor: executorService,
		market:   market,
		clock:    clock,
		settings: settings,
		db:       db,
	}
}

func (e *testEnv) createProfile(t *testing.T, mutate func(*profiles.Profile)) *profiles.Profile {
	t.Helper()
	p := &profiles.Profile{
		Name:            "scheduled",
		AssetKind:       profiles.KindStock,
		ScheduleEnabled: true,
	}
	if err := p.SetParams(&profiles.Params{
		Version: profiles.ParamsVersion,
		Stock:   &profiles.StockParams{Price: &profiles.RangeFilter{Min: f64(1)}},
	}); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	if err := p.SetSymbols([]string{"AAPL"}); err != nil {
		t.Fatalf("SetSymbols failed: %v", err)
	}
	if mutate != nil {
		mutate(p)
	}
	if err := e.profiles.Create(p); err != nil {
		t.Fatalf("Create profile failed: %v", err)
	}
	return p
}

func TestStartStopLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.createProfile(t, nil)

	if err := env.service.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := env.service.Status()
	if !status.Running || status.ActiveJobs != 1 {
		t.Errorf("expected running with 1 trigger, got %+v", status)
	}
	if persisted, _ := env.settings.GetBool("scheduler_running", false); !persisted {
		t.Error("running state should be persisted")
	}

	if err := env.service.Start(); !errors.Is(err, types.ErrSchedulerRunning) {
		t.Errorf("second Start should fail, got %v", err)
	}

	if err := env.service.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	status = env.service.Status()
	if status.Running || status.ActiveJobs != 0 {
		t.Errorf("expected stopped with 0 triggers, got %+v", status)
	}
	if persisted, _ := env.settings.GetBool("scheduler_running", true); persisted {
		t.Error("stopped state should be persisted")
	}

	if err := env.service.Stop(); !errors.Is(err, types.ErrSchedulerNotRunning) {
		t.Errorf("second Stop should fail, got %v", err)
	}
}

func TestResumeIfPersisted(t *testing.T) {
	env := newTestEnv(t)
	env.createProfile(t, nil)

	if err := env.service.ResumeIfPersisted(); err != nil {
		t.Fatalf("ResumeIfPersisted failed: %v", err)
	}
	if env.service.Status().Running {
		t.Error("scheduler should stay stopped without a persisted flag")
	}

	if err := env.settings.SetBool("scheduler_running", true); err != nil {
		t.Fatalf("SetBool failed: %v", err)
	}
	if err := env.service.ResumeIfPersisted(); err != nil {
		t.Fatalf("ResumeIfPersisted failed: %v", err)
	}
	if !env.service.Status().Running {
		t.Error("scheduler should resume from the persisted flag")
	}
	env.service.Stop()
}

func TestTickSkipsClosedMarketSilently(t *testing.T) {
	env := newTestEnv(t)
	profile := env.createProfile(t, func(p *profiles.Profile) {
		p.MarketHoursOnly = true
	})
	env.clock.open = false

	env.service.tick(profile.ID)

	runs, err := env.service.Database().ListJobRuns(10)
	if err != nil {
		t.Fatalf("ListJobRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("closed-market tick must not write an audit row, got %d", len(runs))
	}
}

func TestTickRunsWhenMarketHoursNotRequired(t *testing.T) {
	env := newTestEnv(t)
	profile := env.createProfile(t, nil)
	env.clock.open = false

	env.service.tick(profile.ID)

	runs, _ := env.service.Database().ListJobRunsForProfile(profile.ID, 10)
	if len(runs) != 1 || runs[0].Status != types.JobCompleted {
		t.Errorf("profile without market-hours restriction should scan, got %+v", runs)
	}
}

func TestTickRecordsSkipWhileScanRunning(t *testing.T) {
	env := newTestEnv(t)
	profile := env.createProfile(t, nil)

	// Hold a manual scan open on the quote fetch
	env.market.gate = make(chan struct{})
	scanDone := make(chan struct{})
	go func() {
		env.service.ManualScan(profile.ID)
		close(scanDone)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !env.screener.IsRunning(profile.ID) {
		if time.Now().After(deadline) {
			t.Fatal("manual scan never started")
		}
		time.Sleep(time.Millisecond)
	}

	env.service.tick(profile.ID)
	close(env.market.gate)
	<-scanDone

	runs, err := env.service.Database().ListJobRunsForProfile(profile.ID, 10)
	if err != nil {
		t.Fatalf("ListJobRuns failed: %v", err)
	}
	var skipped, completed int
	for _, run := range runs {
		switch run.Status {
		case types.JobSkipped:
			skipped++
			if run.Trigger != types.TriggerScheduled {
				t.Errorf("skip row should be scheduled, got %s", run.Trigger)
			}
			if run.Error == "" {
				t.Error("skip row should say why it was skipped")
			}
		case types.JobCompleted:
			completed++
		}
	}
	if skipped != 1 || completed != 1 {
		t.Errorf("expected 1 skipped and 1 completed run, got %d/%d", skipped, completed)
	}
}

func TestManualScanAudited(t *testing.T) {
	env := newTestEnv(t)
	profile := env.createProfile(t, nil)

	result, err := env.service.ManualScan(profile.ID)
	if err != nil {
		t.Fatalf("ManualScan failed: %v", err)
	}
	if len(result.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(result.Matches))
	}

	runs, _ := env.service.Database().ListJobRunsForProfile(profile.ID, 10)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run row, got %d", len(runs))
	}
	run := runs[0]
	if run.Trigger != types.TriggerManual || run.Status != types.JobCompleted {
		t.Errorf("unexpected run row: %+v", run)
	}
	if run.MatchCount != 1 {
		t.Errorf("expected match count 1, got %d", run.MatchCount)
	}
	if run.FinishedAt.IsZero() {
		t.Error("completed run should record a finish time")
	}
}

func TestManualScanUnknownProfile(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.service.ManualScan(12345); !errors.Is(err, types.ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestFailedScanRecordedOnRun(t *testing.T) {
	env := newTestEnv(t)
	profile := env.createProfile(t, nil)

	// Corrupt the stored params so the scan fails to decode them
	profile.ParamsJSON = "{"
	if err := env.profiles.Update(profile); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := env.service.ManualScan(profile.ID); err == nil {
		t.Fatal("expected scan failure")
	}

	runs, _ := env.service.Database().ListJobRunsForProfile(profile.ID, 10)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run row, got %d", len(runs))
	}
	if runs[0].Status != types.JobFailed || runs[0].Error == "" {
		t.Errorf("failed run should carry the error, got %+v", runs[0])
	}
}

func TestAutoExecuteSubmitsSizedOrders(t *testing.T) {
	env := newTestEnv(t)
	env.market.price = 100
	profile := env.createProfile(t, func(p *profiles.Profile) {
		p.AutoExecute = true
		p.MaxOrderValue = 550
		p.StopLossPct = 4
		p.TakeProfitPct = 8
	})

	if _, err := env.service.ManualScan(profile.ID); err != nil {
		t.Fatalf("ManualScan failed: %v", err)
	}

	trades, err := env.executor.Database().ListTrades(types.ModePaper, 10)
	if err != nil {
		t.Fatalf("ListTrades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 auto-executed trade, got %d", len(trades))
	}
	// floor(550 / 100) shares
	if trades[0].Quantity != 5 {
		t.Errorf("expected qty 5 from the order-value sizing, got %.2f", trades[0].Quantity)
	}
	if trades[0].Status != types.TradeFilled {
		t.Errorf("expected filled trade, got %s", trades[0].Status)
	}

	pos, _ := env.executor.Database().GetPosition(types.ModePaper, "AAPL")
	if pos == nil {
		t.Fatal("auto-executed fill should open a position")
	}
	if pos.StopLossPct != 4 || pos.TakeProfitPct != 8 {
		t.Errorf("position should carry the profile's protection, got %.1f/%.1f",
			pos.StopLossPct, pos.TakeProfitPct)
	}
}

func TestAutoExecuteFailureRecordedNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.market.price = 100
	profile := env.createProfile(t, func(p *profiles.Profile) {
		p.AutoExecute = true
		p.MaxOrderValue = 50 // below the share price, sizing fails
	})

	result, err := env.service.ManualScan(profile.ID)
	if err != nil {
		t.Fatalf("auto-execute failure must not fail the scan: %v", err)
	}
	if len(result.Matches) != 1 {
		t.Fatalf("expected the scan itself to match, got %d", len(result.Matches))
	}

	runs, _ := env.service.Database().ListJobRunsForProfile(profile.ID, 10)
	if len(runs) != 1 || runs[0].Status != types.JobCompleted {
		t.Fatalf("run should complete despite execution failure, got %+v", runs)
	}
	if runs[0].Error == "" {
		t.Error("execution failure should be visible on the run row")
	}

	trades, _ := env.executor.Database().ListTrades(types.ModePaper, 10)
	if len(trades) != 0 {
		t.Errorf("unsizable order should not reach the executor, got %d trades", len(trades))
	}
}

func TestReloadSyncsTriggers(t *testing.T) {
	env := newTestEnv(t)
	first := env.createProfile(t, nil)

	if err := env.service.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer env.service.Stop()

	if status := env.service.Status(); status.ActiveJobs != 1 {
		t.Fatalf("expected 1 trigger, got %d", status.ActiveJobs)
	}

	// A profile created after Start has no trigger until a reload.
	env.createProfile(t, func(p *profiles.Profile) { p.Name = "second" })
	if err := env.service.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if status := env.service.Status(); status.ActiveJobs != 2 {
		t.Fatalf("expected 2 triggers after reload, got %d", status.ActiveJobs)
	}

	// Disabling scheduling drops the trigger on the next reload.
	first.ScheduleEnabled = false
	if err := env.profiles.Update(first); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := env.service.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if status := env.service.Status(); status.ActiveJobs != 1 {
		t.Fatalf("expected 1 trigger after disabling, got %d", status.ActiveJobs)
	}
}

func TestReloadRequiresRunningScheduler(t *testing.T) {
	env := newTestEnv(t)
	if err := env.service.Reload(); err != types.ErrSchedulerNotRunning {
		t.Errorf("expected ErrSchedulerNotRunning, got %v", err)
	}
}
