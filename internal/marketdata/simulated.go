package marketdata

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/ksred/screener-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SimulatedProvider serves deterministic-ish market data without any network
// dependency. Each symbol gets a stable base price derived from its name,
// with a small random walk applied per request.
type SimulatedProvider struct {
	name       string
	minLatency int // in milliseconds
	maxLatency int
	failRate   float64 // 0-1, probability of a transient fetch failure
	logger     zerolog.Logger
}

// NewSimulatedProvider creates a simulated market-data provider. failRate
// lets tests and demos exercise the transient-failure paths.
func NewSimulatedProvider(name string, failRate float64) *SimulatedProvider {
	return &SimulatedProvider{
		name:       name,
		minLatency: 5,
		maxLatency: 40,
		failRate:   failRate,
		logger:     log.With().Str("component", "marketdata").Str("provider", name).Logger(),
	}
}

func (s *SimulatedProvider) Name() string { return s.name }

// basePrice derives a stable price in the 10-510 range from the symbol name
// so repeated runs see consistent data.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 10 + float64(h.Sum32()%50000)/100
}

func (s *SimulatedProvider) simulate(symbol string) error {
	latency := rand.Intn(s.maxLatency-s.minLatency+1) + s.minLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)

	if rand.Float64() < s.failRate {
		s.logger.Warn().Str("symbol", symbol).Msg("simulated transient failure")
		return fmt.Errorf("%w: %s", types.ErrTransientFetchFailed, symbol)
	}
	return nil
}

func (s *SimulatedProvider) GetQuote(symbol string) (*types.Quote, error) {
	if err := s.simulate(symbol); err != nil {
		return nil, err
	}

	base := basePrice(symbol)
	price := base * (1 + (rand.Float64()*0.06 - 0.03))
	prev := base * (1 + (rand.Float64()*0.04 - 0.02))

	return &types.Quote{
		Symbol:    symbol,
		Price:     price,
		PrevClose: prev,
		ChangePct: (price - prev) / prev * 100,
		Volume:    int64(rand.Intn(5_000_000) + 100_000),
		Timestamp: time.Now(),
	}, nil
}

func (s *SimulatedProvider) GetBar(symbol string) (*types.Bar, error) {
	if err := s.simulate(symbol); err != nil {
		return nil, err
	}

	base := basePrice(symbol)
	open := base * (1 + (rand.Float64()*0.02 - 0.01))
	closePx := base * (1 + (rand.Float64()*0.04 - 0.02))
	high := open
	if closePx > high {
		high = closePx
	}
	high *= 1 + rand.Float64()*0.01
	low := open
	if closePx < low {
		low = closePx
	}
	low *= 1 - rand.Float64()*0.01

	macd := (closePx - open) / base * 10
	signal := macd * (0.7 + rand.Float64()*0.6)

	return &types.Bar{
		Symbol:     symbol,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePx,
		Volume:     int64(rand.Intn(10_000_000) + 500_000),
		MACD:       &macd,
		MACDSignal: &signal,
		Timestamp:  time.Now(),
	}, nil
}

var sectors = []string{
	"Technology", "Healthcare", "Financials", "Energy",
	"Consumer Discretionary", "Industrials", "Utilities",
}

func (s *SimulatedProvider) GetFundamentals(symbol string) (*types.Fundamentals, error) {
	if err := s.simulate(symbol); err != nil {
		return nil, err
	}

	h := fnv.New32a()
	h.Write([]byte(symbol))
	seed := h.Sum32()

	marketCap := float64(seed%900+100) * 1e8
	pe := 5 + float64(seed%40)
	divYield := float64(seed%500) / 100
	beta := 0.5 + float64(seed%200)/100

	f := &types.Fundamentals{
		Symbol:    symbol,
		Sector:    sectors[seed%uint32(len(sectors))],
		MarketCap: &marketCap,
		PERatio:   &pe,
		Beta:      &beta,
	}
	// Roughly a third of companies pay no dividend.
	if seed%3 != 0 {
		f.DividendYield = &divYield
	}
	return f, nil
}

func (s *SimulatedProvider) GetOptionChain(underlying string) ([]types.OptionContract, error) {
	if err := s.simulate(underlying); err != nil {
		return nil, err
	}

	spot := basePrice(underlying)
	expiry := time.Now().AddDate(0, 0, 30)
	chain := make([]types.OptionContract, 0, 10)

	for i := -2; i <= 2; i++ {
		strike := spot * (1 + float64(i)*0.05)
		for _, optType := range []types.OptionType{types.OptionCall, types.OptionPut} {
			intrinsic := spot - strike
			if optType == types.OptionPut {
				intrinsic = strike - spot
			}
			if intrinsic < 0 {
				intrinsic = 0
			}
			premium := intrinsic + spot*0.02

			delta := 0.5 + float64(i)*0.15
			if optType == types.OptionPut {
				delta = delta - 1
			}
			iv := 0.2 + rand.Float64()*0.4
			theta := -premium * 0.01
			gamma := 0.05
			vega := spot * 0.001

			chain = append(chain, types.OptionContract{
				Symbol: fmt.Sprintf("%s%s%c%08.0f", underlying,
					expiry.Format("060102"), optType[0]-32, strike*1000),
				Underlying:   underlying,
				Type:         optType,
				Strike:       strike,
				Expiration:   expiry,
				Bid:          premium * 0.98,
				Ask:          premium * 1.02,
				LastPrice:    premium,
				OpenInterest: int64(rand.Intn(10_000)),
				Volume:       int64(rand.Intn(2_000)),
				Delta:        &delta,
				Gamma:        &gamma,
				Theta:        &theta,
				Vega:         &vega,
				IV:           &iv,
			})
		}
	}
	return chain, nil
}
