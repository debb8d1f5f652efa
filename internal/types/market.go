package types

import "time"

// Quote is a point-in-time price snapshot for a single symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	PrevClose float64   `json:"prev_close"`
	ChangePct float64   `json:"change_pct"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Bar is the latest daily OHLCV bar for a symbol, enriched with the MACD
// values the data provider computes server-side. Indicator fields are
// pointers because not every symbol has enough history to compute them.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	MACD       *float64  `json:"macd,omitempty"`
	MACDSignal *float64  `json:"macd_signal,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// MACDDirection derives the signal-line crossover direction: "bullish" when
// MACD is above its signal line, "bearish" when below. Empty when either
// value is absent.
func (b *Bar) MACDDirection() string {
	if b.MACD == nil || b.MACDSignal == nil {
		return ""
	}
	if *b.MACD >= *b.MACDSignal {
		return "bullish"
	}
	return "bearish"
}

// Fundamentals carries the slow-moving per-company fields used by stock
// screens. Optional fields are pointers; absent means the provider had no
// value for this symbol.
type Fundamentals struct {
	Symbol        string   `json:"symbol"`
	Sector        string   `json:"sector,omitempty"`
	MarketCap     *float64 `json:"market_cap,omitempty"`
	PERatio       *float64 `json:"pe_ratio,omitempty"`
	DividendYield *float64 `json:"dividend_yield,omitempty"`
	Beta          *float64 `json:"beta,omitempty"`
}

type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// OptionContract is one leg of an option chain, with provider-computed
// Greeks where available.
type OptionContract struct {
	Symbol       string     `json:"symbol"` // OCC-style contract symbol
	Underlying   string     `json:"underlying"`
	Type         OptionType `json:"type"`
	Strike       float64    `json:"strike"`
	Expiration   time.Time  `json:"expiration"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	LastPrice    float64    `json:"last_price"`
	OpenInterest int64      `json:"open_interest"`
	Volume       int64      `json:"volume"`
	Delta        *float64   `json:"delta,omitempty"`
	Gamma        *float64   `json:"gamma,omitempty"`
	Theta        *float64   `json:"theta,omitempty"`
	Vega         *float64   `json:"vega,omitempty"`
	IV           *float64   `json:"iv,omitempty"`
}

// Moneyness classifies the contract against the underlying price. Contracts
// within 1% of the strike count as at-the-money.
func (c *OptionContract) Moneyness(underlyingPrice float64) string {
	if underlyingPrice <= 0 || c.Strike <= 0 {
		return ""
	}
	ratio := underlyingPrice / c.Strike
	switch {
	case ratio > 0.99 && ratio < 1.01:
		return "atm"
	case (c.Type == OptionCall) == (ratio > 1):
		return "itm"
	default:
		return "otm"
	}
}
