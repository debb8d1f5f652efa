package types

import (
	"errors"
	"fmt"
	"testing"
)

func f64(v float64) *float64 { return &v }

func TestOrderIntentValue(t *testing.T) {
	// Market orders use the estimated price
	intent := OrderIntent{
		Side: SideBuy, Quantity: 10, OrderKind: OrderMarket,
		EstimatedPrice: 100, LimitPrice: 90,
	}
	if v := intent.Value(); v != 1000 {
		t.Errorf("market order value = %.2f, want 1000", v)
	}

	// Limit orders use the limit price
	intent.OrderKind = OrderLimit
	if v := intent.Value(); v != 900 {
		t.Errorf("limit order value = %.2f, want 900", v)
	}

	// A limit kind with no limit price falls back to the estimate
	intent.LimitPrice = 0
	if v := intent.Value(); v != 1000 {
		t.Errorf("limit order without price = %.2f, want 1000", v)
	}
}

func TestTradeStatusIsTerminal(t *testing.T) {
	terminal := []TradeStatus{TradeFilled, TradeRejected, TradeCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TradeStatus{TradePending, TradePartialFill} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPositionUnrealizedPL(t *testing.T) {
	pos := &Position{AvgCost: 100}
	if pl := pos.UnrealizedPL(94); pl != -6 {
		t.Errorf("expected -6%%, got %.2f", pl)
	}
	if pl := pos.UnrealizedPL(110); pl != 10 {
		t.Errorf("expected +10%%, got %.2f", pl)
	}

	zero := &Position{}
	if pl := zero.UnrealizedPL(100); pl != 0 {
		t.Errorf("zero cost basis should report 0, got %.2f", pl)
	}
}

func TestMACDDirection(t *testing.T) {
	bar := &Bar{}
	if d := bar.MACDDirection(); d != "" {
		t.Errorf("no indicator history should derive no direction, got %q", d)
	}

	bar.MACD = f64(1.2)
	bar.MACDSignal = f64(0.8)
	if d := bar.MACDDirection(); d != "bullish" {
		t.Errorf("MACD above signal should be bullish, got %q", d)
	}

	bar.MACD = f64(-0.3)
	if d := bar.MACDDirection(); d != "bearish" {
		t.Errorf("MACD below signal should be bearish, got %q", d)
	}
}

func TestOptionMoneyness(t *testing.T) {
	call := &OptionContract{Type: OptionCall, Strike: 100}
	put := &OptionContract{Type: OptionPut, Strike: 100}

	cases := []struct {
		contract *OptionContract
		price    float64
		want     string
	}{
		{call, 110, "itm"},
		{call, 90, "otm"},
		{call, 100, "atm"},
		{call, 100.5, "atm"}, // within the 1% band
		{put, 90, "itm"},
		{put, 110, "otm"},
		{put, 99.5, "atm"},
		{call, 0, ""}, // no usable underlying price
	}
	for _, tc := range cases {
		if got := tc.contract.Moneyness(tc.price); got != tc.want {
			t.Errorf("Moneyness(%s strike=%.0f at %.1f) = %q, want %q",
				tc.contract.Type, tc.contract.Strike, tc.price, got, tc.want)
		}
	}
}

func TestErrorTaxonomyHelpers(t *testing.T) {
	riskErr := &RiskViolationError{Reason: "over the cap"}
	brokerErr := &BrokerRejectionError{Reason: "halted"}

	if !IsRiskViolation(riskErr) || IsRiskViolation(brokerErr) {
		t.Error("IsRiskViolation misclassifies")
	}
	if !IsBrokerRejection(brokerErr) || IsBrokerRejection(riskErr) {
		t.Error("IsBrokerRejection misclassifies")
	}

	// Wrapped errors still classify
	wrapped := fmt.Errorf("submit order: %w", brokerErr)
	if !IsBrokerRejection(wrapped) {
		t.Error("wrapped broker rejection should classify")
	}
	if IsRiskViolation(nil) || IsBrokerRejection(nil) {
		t.Error("nil should never classify")
	}
	if IsRiskViolation(errors.New("misc")) {
		t.Error("plain errors should never classify")
	}
}
