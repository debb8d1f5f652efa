package executor

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/screener-api/internal/brokerage"
	"github.com/ksred/screener-api/internal/config"
	"github.com/ksred/screener-api/internal/governor"
	"github.com/ksred/screener-api/internal/risk"
	"github.com/ksred/screener-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeBroker struct {
	fillPrice    float64
	rejectReason string
	submitErr    error
	// submitPending makes SubmitOrder acknowledge without a fill; the later
	// status poll resolves from statuses.
	submitPending bool
	// partialQty caps the filled quantity below the requested one.
	partialQty float64
	statuses   map[string]*brokerage.OrderResult
	submitted  []brokerage.OrderRequest
}

func (b *fakeBroker) Name() string            { return "fake_broker" }
func (b *fakeBroker) Mode() types.TradingMode { return types.ModePaper }

func (b *fakeBroker) SubmitOrder(req brokerage.OrderRequest) (*brokerage.OrderResult, error) {
	b.submitted = append(b.submitted, req)
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	if b.rejectReason != "" {
		return &brokerage.OrderResult{
			BrokerOrderID: fmt.Sprintf("ord-%d", len(b.submitted)),
			Status:        types.TradeRejected,
			Reason:        b.rejectReason,
			SubmittedAt:   time.Now(),
		}, nil
	}
	id := fmt.Sprintf("ord-%d", len(b.submitted))
	if b.submitPending {
		return &brokerage.OrderResult{
			BrokerOrderID: id,
			Status:        types.TradePending,
			SubmittedAt:   time.Now(),
		}, nil
	}
	qty := req.Quantity
	status := types.TradeFilled
	if b.partialQty > 0 && b.partialQty < req.Quantity {
		qty = b.partialQty
		status = types.TradePartialFill
	}
	return &brokerage.OrderResult{
		BrokerOrderID: id,
		Status:        status,
		FilledPrice:   b.fillPrice,
		FilledQty:     qty,
		SubmittedAt:   time.Now(),
	}, nil
}

func (b *fakeBroker) GetOrderStatus(brokerOrderID string) (*brokerage.OrderResult, error) {
	if result, ok := b.statuses[brokerOrderID]; ok {
		return result, nil
	}
	return &brokerage.OrderResult{BrokerOrderID: brokerOrderID, Status: types.TradeFilled}, nil
}

func (b *fakeBroker) GetAccount() (*brokerage.AccountInfo, error) {
	return &brokerage.AccountInfo{Cash: 100000, Equity: 100000, TradingMode: types.ModePaper}, nil
}

type fakeMarket struct {
	price  float64
	quotes int
}

func (m *fakeMarket) Name() string { return "fake_market" }

func (m *fakeMarket) GetQuote(symbol string) (*types.Quote, error) {
	m.quotes++
	return &types.Quote{Symbol: symbol, Price: m.price, Timestamp: time.Now()}, nil
}

func (m *fakeMarket) GetBar(symbol string) (*types.Bar, error) {
	return &types.Bar{Symbol: symbol, Close: m.price}, nil
}

func (m *fakeMarket) GetFundamentals(symbol string) (*types.Fundamentals, error) {
	return &types.Fundamentals{Symbol: symbol}, nil
}

func (m *fakeMarket) GetOptionChain(underlying string) ([]types.OptionContract, error) {
	return nil, nil
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&risk.RiskSettings{},
		&types.TradeRecord{},
		&types.Position{},
		&types.ClosedPosition{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func testGovernor() *governor.Governor {
	return governor.New(map[string]config.ProviderConfig{
		"fake_broker": {RateLimitPerMinute: 1000, PacingDelayMs: 1},
		"fake_market": {RateLimitPerMinute: 1000, PacingDelayMs: 1},
	})
}

func newTestService(t *testing.T) (*Service, *fakeBroker, *fakeMarket, *gorm.DB) {
	t.Helper()
	db := testDB(t)
	broker := &fakeBroker{fillPrice: 100}
	market := &fakeMarket{price: 100}
	riskService := risk.NewService(db, types.ModePaper)
	service := NewService(db, broker, market, testGovernor(), riskService, types.ModePaper)
	return service, broker, market, db
}

func buyIntent(symbol string, qty, price float64) types.OrderIntent {
	return types.OrderIntent{
		Symbol:         symbol,
		Side:           types.SideBuy,
		Quantity:       qty,
		EstimatedPrice: price,
	}
}

func TestSubmitBuyCreatesPosition(t *testing.T) {
	service, _, _, _ := newTestService(t)

	record, err := service.Submit(buyIntent("AAPL", 2, 100))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if record.Status != types.TradeFilled {
		t.Fatalf("expected filled trade, got %s", record.Status)
	}
	if record.OrderKind != types.OrderMarket {
		t.Errorf("empty order kind should normalize to market, got %s", record.OrderKind)
	}

	pos, err := service.Database().GetPosition(types.ModePaper, "AAPL")
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos == nil {
		t.Fatal("expected a position after the fill")
	}
	if pos.Quantity != 2 || pos.AvgCost != 100 {
		t.Errorf("expected qty=2 avg=100, got qty=%.2f avg=%.2f", pos.Quantity, pos.AvgCost)
	}
	if pos.State != types.PositionOpen {
		t.Errorf("new position should be open, got %s", pos.State)
	}
	// Protection thresholds fall back to the risk defaults
	if pos.StopLossPct != 5 || pos.TakeProfitPct != 10 {
		t.Errorf("expected default protection 5/10, got %.1f/%.1f", pos.StopLossPct, pos.TakeProfitPct)
	}
}

func TestSubmitBuyIncreasesWithWeightedAverage(t *testing.T) {
	service, broker, _, db := newTestService(t)

	settings, _ := risk.NewDatabase(db).GetSettings(types.ModePaper)
	settings.AllowDuplicatePositions = true
	if err := risk.NewDatabase(db).UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	if _, err := service.Submit(buyIntent("AAPL", 2, 100)); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	broker.fillPrice = 110
	if _, err := service.Submit(buyIntent("AAPL", 2, 110)); err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if pos.Quantity != 4 {
		t.Errorf("expected qty 4, got %.2f", pos.Quantity)
	}
	if pos.AvgCost != 105 {
		t.Errorf("expected weighted average cost 105, got %.2f", pos.AvgCost)
	}
}

func TestPartialSellKeepsAverageCost(t *testing.T) {
	service, broker, _, _ := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 10, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	broker.fillPrice = 120
	sell := types.OrderIntent{
		Symbol: "AAPL", Side: types.SideSell, Quantity: 4, EstimatedPrice: 120,
	}
	if _, err := service.Submit(sell); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if pos == nil {
		t.Fatal("partial sell should leave the position open")
	}
	if pos.Quantity != 6 {
		t.Errorf("expected remaining qty 6, got %.2f", pos.Quantity)
	}
	if pos.AvgCost != 100 {
		t.Errorf("partial exit must not change average cost, got %.2f", pos.AvgCost)
	}
}

func TestFullSellClosesPosition(t *testing.T) {
	service, broker, _, _ := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 5, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	broker.fillPrice = 110
	sell := types.OrderIntent{
		Symbol: "AAPL", Side: types.SideSell, Quantity: 5, EstimatedPrice: 110,
	}
	if _, err := service.Submit(sell); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if pos != nil {
		t.Error("full sell should remove the open position")
	}

	closed, err := service.Database().ListClosedPositions(types.ModePaper, 10)
	if err != nil {
		t.Fatalf("ListClosedPositions failed: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	if closed[0].CloseReason != types.CloseManual {
		t.Errorf("expected close reason manual, got %s", closed[0].CloseReason)
	}
	if closed[0].RealizedPL != 50 {
		t.Errorf("expected realized PL 50, got %.2f", closed[0].RealizedPL)
	}
}

func TestRiskRejectionNeverReachesBroker(t *testing.T) {
	service, broker, _, _ := newTestService(t)

	// Default per-trade cap is 1000; this is 2000
	record, err := service.Submit(buyIntent("AAPL", 20, 100))
	if !types.IsRiskViolation(err) {
		t.Fatalf("expected a risk violation, got %v", err)
	}
	if record == nil || record.Status != types.TradeRejected {
		t.Fatal("rejected intent should still persist a rejected record")
	}
	if record.RejectReason == "" {
		t.Error("rejected record should carry the gate's reason")
	}
	if len(broker.submitted) != 0 {
		t.Error("risk-rejected order must never reach the brokerage")
	}

	// The rejected record is queryable afterwards
	stored, err := service.Database().GetTrade(record.TradeID)
	if err != nil || stored == nil {
		t.Fatalf("rejected trade not stored: %v", err)
	}
}

func TestBrokerRejection(t *testing.T) {
	service, broker, _, _ := newTestService(t)
	broker.rejectReason = "insufficient buying power"

	record, err := service.Submit(buyIntent("AAPL", 2, 100))
	if !types.IsBrokerRejection(err) {
		t.Fatalf("expected a broker rejection, got %v", err)
	}
	if record.Status != types.TradeRejected {
		t.Errorf("expected rejected status, got %s", record.Status)
	}

	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if pos != nil {
		t.Error("broker-rejected order must not create a position")
	}
}

func TestBrokerErrorCancelsTrade(t *testing.T) {
	service, broker, _, _ := newTestService(t)
	broker.submitErr = errors.New("connection reset")

	record, err := service.Submit(buyIntent("AAPL", 2, 100))
	if err == nil {
		t.Fatal("expected an error from the broker call")
	}
	if record.Status != types.TradeCancelled {
		t.Errorf("expected cancelled status, got %s", record.Status)
	}
}

func TestSubmitFetchesPriceWhenMissing(t *testing.T) {
	service, _, market, _ := newTestService(t)
	market.price = 50

	record, err := service.Submit(buyIntent("AAPL", 2, 0))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if market.quotes != 1 {
		t.Errorf("expected one quote fetch, got %d", market.quotes)
	}
	if record.Status != types.TradeFilled {
		t.Errorf("expected filled trade, got %s", record.Status)
	}
}

func TestSubmitCloseBypassesRiskGate(t *testing.T) {
	service, broker, _, db := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 5, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	// Make the gate hostile: a sell of this size would fail the per-trade cap
	settings, _ := risk.NewDatabase(db).GetSettings(types.ModePaper)
	settings.MaxTradeAmount = 1
	if err := risk.NewDatabase(db).UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	claimed, err := service.Database().ClaimClosing(pos.ID)
	if err != nil || !claimed {
		t.Fatalf("ClaimClosing failed: claimed=%v err=%v", claimed, err)
	}

	broker.fillPrice = 94
	record, err := service.SubmitClose(pos, types.CloseStopLoss)
	if err != nil {
		t.Fatalf("SubmitClose failed: %v", err)
	}
	if record.Status != types.TradeFilled {
		t.Fatalf("expected filled close, got %s", record.Status)
	}

	closed, _ := service.Database().ListClosedPositions(types.ModePaper, 10)
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	if closed[0].CloseReason != types.CloseStopLoss {
		t.Errorf("expected close reason stop_loss, got %s", closed[0].CloseReason)
	}
}

func TestSubmitCloseReleasesClaimOnFailure(t *testing.T) {
	service, broker, _, _ := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 5, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if claimed, _ := service.Database().ClaimClosing(pos.ID); !claimed {
		t.Fatal("claim failed")
	}

	broker.rejectReason = "market halted"
	if _, err := service.SubmitClose(pos, types.CloseStopLoss); !types.IsBrokerRejection(err) {
		t.Fatalf("expected broker rejection, got %v", err)
	}

	// Claim released so the next monitor tick can retry
	after, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if after.State != types.PositionOpen {
		t.Errorf("failed close should release the claim, state=%s", after.State)
	}
}

func TestClaimClosingIsSingleWinner(t *testing.T) {
	service, _, _, _ := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 5, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")

	first, err := service.Database().ClaimClosing(pos.ID)
	if err != nil || !first {
		t.Fatalf("first claim should win: claimed=%v err=%v", first, err)
	}
	second, err := service.Database().ClaimClosing(pos.ID)
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if second {
		t.Error("second claim on a closing position must lose")
	}
}

func TestTradesIsolatedPerMode(t *testing.T) {
	service, _, _, db := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 2, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	liveTrades, err := NewDatabase(db).ListTrades(types.ModeLive, 10)
	if err != nil {
		t.Fatalf("ListTrades failed: %v", err)
	}
	if len(liveTrades) != 0 {
		t.Error("paper trades must not be visible in live mode")
	}
	livePositions, _ := NewDatabase(db).ListPositions(types.ModeLive)
	if len(livePositions) != 0 {
		t.Error("paper positions must not be visible in live mode")
	}
}

func TestPendingBuyOpensPositionOnRefresh(t *testing.T) {
	service, broker, _, _ := newTestService(t)
	broker.submitPending = true

	record, err := service.Submit(buyIntent("AAPL", 2, 100))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if record.Status != types.TradePending {
		t.Fatalf("expected pending trade, got %s", record.Status)
	}
	if pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL"); pos != nil {
		t.Fatal("no position should exist before the fill")
	}

	broker.statuses = map[string]*brokerage.OrderResult{
		record.BrokerOrderID: {
			BrokerOrderID: record.BrokerOrderID,
			Status:        types.TradeFilled,
			FilledPrice:   100,
			FilledQty:     2,
		},
	}
	if err := service.RefreshPendingTrades(); err != nil {
		t.Fatalf("RefreshPendingTrades failed: %v", err)
	}

	refreshed, _ := service.Database().GetTrade(record.TradeID)
	if refreshed.Status != types.TradeFilled {
		t.Fatalf("expected filled after refresh, got %s", refreshed.Status)
	}
	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if pos == nil {
		t.Fatal("a late buy fill must still open the position")
	}
	if pos.Quantity != 2 || pos.AvgCost != 100 || pos.State != types.PositionOpen {
		t.Errorf("expected qty=2 avg=100 open, got qty=%.2f avg=%.2f state=%s",
			pos.Quantity, pos.AvgCost, pos.State)
	}
}

func TestPendingCloseResolvesPositionOnRefresh(t *testing.T) {
	service, broker, _, _ := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 10, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if claimed, _ := service.Database().ClaimClosing(pos.ID); !claimed {
		t.Fatal("claim failed")
	}

	broker.submitPending = true
	broker.fillPrice = 94
	record, err := service.SubmitClose(pos, types.CloseStopLoss)
	if err != nil {
		t.Fatalf("SubmitClose failed: %v", err)
	}
	if record.Status != types.TradePending {
		t.Fatalf("expected pending close, got %s", record.Status)
	}

	broker.statuses = map[string]*brokerage.OrderResult{
		record.BrokerOrderID: {
			BrokerOrderID: record.BrokerOrderID,
			Status:        types.TradeFilled,
			FilledPrice:   94,
			FilledQty:     10,
		},
	}
	if err := service.RefreshPendingTrades(); err != nil {
		t.Fatalf("RefreshPendingTrades failed: %v", err)
	}

	if pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL"); pos != nil {
		t.Errorf("position should be gone after the late close fill, got state=%s", pos.State)
	}
	closed, _ := service.Database().ListClosedPositions(types.ModePaper, 10)
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	if closed[0].CloseReason != types.CloseStopLoss {
		t.Errorf("late fill must keep the close reason, got %s", closed[0].CloseReason)
	}
}

func TestPendingCloseRejectionReleasesClaimOnRefresh(t *testing.T) {
	service, broker, _, _ := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 10, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if claimed, _ := service.Database().ClaimClosing(pos.ID); !claimed {
		t.Fatal("claim failed")
	}

	broker.submitPending = true
	record, err := service.SubmitClose(pos, types.CloseStopLoss)
	if err != nil {
		t.Fatalf("SubmitClose failed: %v", err)
	}

	broker.statuses = map[string]*brokerage.OrderResult{
		record.BrokerOrderID: {
			BrokerOrderID: record.BrokerOrderID,
			Status:        types.TradeRejected,
			Reason:        "order rejected by venue",
		},
	}
	if err := service.RefreshPendingTrades(); err != nil {
		t.Fatalf("RefreshPendingTrades failed: %v", err)
	}

	pos, _ = service.Database().GetPosition(types.ModePaper, "AAPL")
	if pos == nil || pos.State != types.PositionOpen {
		t.Fatal("a rejected late close must hand the position back for retry")
	}
}

func TestPartialCloseReturnsRemainderToMonitor(t *testing.T) {
	service, broker, _, _ := newTestService(t)

	if _, err := service.Submit(buyIntent("AAPL", 10, 100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	pos, _ := service.Database().GetPosition(types.ModePaper, "AAPL")
	if claimed, _ := service.Database().ClaimClosing(pos.ID); !claimed {
		t.Fatal("claim failed")
	}

	broker.partialQty = 5
	broker.fillPrice = 94
	record, err := service.SubmitClose(pos, types.CloseStopLoss)
	if err != nil {
		t.Fatalf("SubmitClose failed: %v", err)
	}
	if record.Status != types.TradePartialFill {
		t.Fatalf("expected partial fill, got %s", record.Status)
	}

	pos, _ = service.Database().GetPosition(types.ModePaper, "AAPL")
	if pos == nil {
		t.Fatal("residual position must survive a partial close")
	}
	if pos.Quantity != 5 {
		t.Errorf("expected residual qty 5, got %.2f", pos.Quantity)
	}
	if pos.State != types.PositionOpen {
		t.Errorf("residual quantity must return to open for continued protection, got %s", pos.State)
	}
	closed, _ := service.Database().ListClosedPositions(types.ModePaper, 10)
	if len(closed) != 0 {
		t.Errorf("no closed-position row for a partial close, got %d", len(closed))
	}
}

func TestGetTradeGuardsTradingMode(t *testing.T) {
	service, _, _, db := newTestService(t)

	record, err := service.Submit(buyIntent("AAPL", 1, 100))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	got, err := service.GetTrade(record.TradeID)
	if err != nil || got == nil || got.TradeID != record.TradeID {
		t.Fatalf("expected own-mode trade back, got %v / %v", got, err)
	}

	liveTrade := &types.TradeRecord{
		TradeID:     "live-1",
		Symbol:      "MSFT",
		Side:        types.SideBuy,
		Quantity:    1,
		Status:      types.TradeFilled,
		TradingMode: types.ModeLive,
	}
	if err := db.Create(liveTrade).Error; err != nil {
		t.Fatalf("seed live trade failed: %v", err)
	}
	if _, err := service.GetTrade("live-1"); !errors.Is(err, types.ErrWrongTradingMode) {
		t.Errorf("a live record must not cross into paper mode, got %v", err)
	}

	if got, err := service.GetTrade("missing"); err != nil || got != nil {
		t.Errorf("missing trade should be nil/nil, got %v / %v", got, err)
	}
}
