// Package screener evaluates a profile's filters against fetched instrument
// data, producing match records. Every external fetch goes through the
// request governor; large universes use its batch helper so sweeps stay
// paced.
package screener

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ksred/screener-api/internal/governor"
	"github.com/ksred/screener-api/internal/marketdata"
	"github.com/ksred/screener-api/internal/profiles"
	"github.com/ksred/screener-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service is the screening engine.
type Service struct {
	db       *Database
	profiles *profiles.Database
	market   marketdata.Provider
	governor *governor.Governor
	logger   zerolog.Logger

	batchSize  int
	batchDelay time.Duration

	mu      sync.Mutex
	running map[uint]bool
}

func NewService(
	gormDB *gorm.DB,
	profilesDB *profiles.Database,
	market marketdata.Provider,
	gov *governor.Governor,
) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		profiles:   profilesDB,
		market:     market,
		governor:   gov,
		logger:     log.With().Str("component", "screener").Logger(),
		batchSize:  20,
		batchDelay: 500 * time.Millisecond,
		running:    make(map[uint]bool),
	}
}

func (s *Service) Database() *Database { return s.db }

// IsRunning reports whether a scan for the profile is currently executing.
func (s *Service) IsRunning(profileID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[profileID]
}

// RunScan executes one scan for the profile. Scans for the same profile are
// serialized: a second call while one is executing returns
// ErrScanAlreadyRunning. Different profiles scan concurrently.
func (s *Service) RunScan(profileID uint) (*ScanResult, error) {
	s.mu.Lock()
	if s.running[profileID] {
		s.mu.Unlock()
		return nil, types.ErrScanAlreadyRunning
	}
	s.running[profileID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, profileID)
		s.mu.Unlock()
	}()

	profile, err := s.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, types.ErrProfileNotFound
	}

	params, err := profile.Params()
	if err != nil {
		return nil, err
	}
	symbols, err := profile.Symbols()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var matches []Match
	switch profile.AssetKind {
	case profiles.KindStock:
		matches, err = s.scanStocks(profile, params.Stock, symbols)
	case profiles.KindCallOption, profiles.KindPutOption:
		matches, err = s.scanOptions(profile, params.Option, symbols)
	default:
		err = fmt.Errorf("unknown asset kind %q", profile.AssetKind)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Symbol < matches[j].Symbol })

	if err := s.db.SaveMatches(matches); err != nil {
		return nil, fmt.Errorf("save matches: %w", err)
	}
	if err := s.profiles.TouchLastRun(profile.ID, time.Now()); err != nil {
		s.logger.Error().Err(err).Uint("profile_id", profile.ID).Msg("failed to touch last run")
	}

	duration := time.Since(started)
	s.logger.Info().
		Uint("profile_id", profile.ID).
		Int("symbols", len(symbols)).
		Int("matches", len(matches)).
		Dur("duration", duration).
		Msg("scan completed")

	return &ScanResult{ProfileID: profile.ID, Matches: matches, Duration: duration}, nil
}

// stockData is everything the stock fetch plan gathers for one symbol.
type stockData struct {
	quote        *types.Quote
	bar          *types.Bar
	fundamentals *types.Fundamentals
}

func (s *Service) scanStocks(profile *profiles.Profile, params *profiles.StockParams, symbols []string) ([]Match, error) {
	needFundamentals := params.UsesFundamentals()

	// Flat task list: quote and bar per symbol, fundamentals only when a
	// fundamental filter is configured.
	type fetch struct {
		symbol string
		field  string
	}
	var plan []fetch
	var tasks []governor.Task
	for _, sym := range symbols {
		sym := sym
		plan = append(plan, fetch{sym, "quote"})
		tasks = append(tasks, func() (interface{}, error) { return s.market.GetQuote(sym) })
		plan = append(plan, fetch{sym, "bar"})
		tasks = append(tasks, func() (interface{}, error) { return s.market.GetBar(sym) })
		if needFundamentals {
			plan = append(plan, fetch{sym, "fundamentals"})
			tasks = append(tasks, func() (interface{}, error) { return s.market.GetFundamentals(sym) })
		}
	}

	results := s.governor.ExecuteBatch(s.market.Name(), tasks, governor.BatchOptions{
		BatchSize:           s.batchSize,
		DelayBetweenBatches: s.batchDelay,
	})

	data := make(map[string]*stockData, len(symbols))
	failed := make(map[string]bool)
	for i, res := range results {
		f := plan[i]
		if res.Err != nil {
			// A failed fetch excludes the symbol entirely; a symbol is
			// never silently included on partial data.
			s.logger.Warn().
				Err(res.Err).
				Str("symbol", f.symbol).
				Str("field", f.field).
				Msg("fetch failed, symbol excluded from scan")
			failed[f.symbol] = true
			continue
		}
		d := data[f.symbol]
		if d == nil {
			d = &stockData{}
			data[f.symbol] = d
		}
		switch f.field {
		case "quote":
			d.quote = res.Value.(*types.Quote)
		case "bar":
			d.bar = res.Value.(*types.Bar)
		case "fundamentals":
			d.fundamentals = res.Value.(*types.Fundamentals)
		}
	}

	var matches []Match
	for _, sym := range symbols {
		d := data[sym]
		if failed[sym] || d == nil || d.quote == nil || d.bar == nil {
			continue
		}
		if !matchStock(params, d) {
			continue
		}

		m := Match{ProfileID: profile.ID, Symbol: sym, CreatedAt: time.Now()}
		snapshot := map[string]interface{}{
			"quote": d.quote,
			"bar":   d.bar,
		}
		if d.fundamentals != nil {
			snapshot["fundamentals"] = d.fundamentals
		}
		m.SetSnapshot(snapshot)
		matches = append(matches, m)
	}
	return matches, nil
}

// matchStock applies every configured stock filter. Range checks are
// inclusive; a filter whose source field is absent is skipped rather than
// failed.
func matchStock(p *profiles.StockParams, d *stockData) bool {
	if !p.Price.Matches(d.quote.Price) {
		return false
	}
	if !p.Volume.Matches(float64(d.quote.Volume)) {
		return false
	}
	if !p.ChangePct.Matches(d.quote.ChangePct) {
		return false
	}

	f := d.fundamentals
	if f != nil {
		if f.MarketCap != nil && !p.MarketCap.Matches(*f.MarketCap) {
			return false
		}
		if f.PERatio != nil && !p.PERatio.Matches(*f.PERatio) {
			return false
		}
		if f.DividendYield != nil && !p.DividendYield.Matches(*f.DividendYield) {
			return false
		}
		if f.Beta != nil && !p.Beta.Matches(*f.Beta) {
			return false
		}
		if p.Sector != "" && f.Sector != "" && f.Sector != p.Sector {
			return false
		}
	}

	if p.MACDSignal != "" {
		direction := d.bar.MACDDirection()
		if direction != "" && direction != p.MACDSignal {
			return false
		}
	}
	return true
}

func (s *Service) scanOptions(profile *profiles.Profile, params *profiles.OptionParams, underlyings []string) ([]Match, error) {
	optType := types.OptionCall
	if profile.AssetKind == profiles.KindPutOption {
		optType = types.OptionPut
	}

	// Option fetch plan is disjoint from stocks: one chain and one
	// underlying quote per symbol.
	type fetch struct {
		underlying string
		field      string
	}
	var plan []fetch
	var tasks []governor.Task
	for _, und := range underlyings {
		und := und
		plan = append(plan, fetch{und, "chain"})
		tasks = append(tasks, func() (interface{}, error) { return s.market.GetOptionChain(und) })
		plan = append(plan, fetch{und, "quote"})
		tasks = append(tasks, func() (interface{}, error) { return s.market.GetQuote(und) })
	}

	results := s.governor.ExecuteBatch(s.market.Name(), tasks, governor.BatchOptions{
		BatchSize:           s.batchSize,
		DelayBetweenBatches: s.batchDelay,
	})

	chains := make(map[string][]types.OptionContract)
	quotes := make(map[string]*types.Quote)
	failed := make(map[string]bool)
	for i, res := range results {
		f := plan[i]
		if res.Err != nil {
			s.logger.Warn().
				Err(res.Err).
				Str("underlying", f.underlying).
				Str("field", f.field).
				Msg("fetch failed, underlying excluded from scan")
			failed[f.underlying] = true
			continue
		}
		switch f.field {
		case "chain":
			chains[f.underlying] = res.Value.([]types.OptionContract)
		case "quote":
			quotes[f.underlying] = res.Value.(*types.Quote)
		}
	}

	now := time.Now()
	var matches []Match
	for _, und := range underlyings {
		if failed[und] || quotes[und] == nil {
			continue
		}
		for i := range chains[und] {
			contract := &chains[und][i]
			if contract.Type != optType {
				continue
			}
			if !matchOption(params, contract, quotes[und].Price, now) {
				continue
			}

			m := Match{ProfileID: profile.ID, Symbol: contract.Symbol, CreatedAt: time.Now()}
			m.SetSnapshot(map[string]interface{}{
				"contract":         contract,
				"underlying_quote": quotes[und],
			})
			matches = append(matches, m)
		}
	}
	return matches, nil
}

func matchOption(p *profiles.OptionParams, c *types.OptionContract, underlyingPrice float64, now time.Time) bool {
	if !p.Strike.Matches(c.Strike) {
		return false
	}
	if !p.Premium.Matches(c.LastPrice) {
		return false
	}
	if !p.OpenInterest.Matches(float64(c.OpenInterest)) {
		return false
	}
	if !p.Volume.Matches(float64(c.Volume)) {
		return false
	}
	if c.Delta != nil && !p.Delta.Matches(*c.Delta) {
		return false
	}
	if c.IV != nil && !p.IV.Matches(*c.IV) {
		return false
	}
	if p.DaysToExpiry.IsSet() {
		days := c.Expiration.Sub(now).Hours() / 24
		if !p.DaysToExpiry.Matches(days) {
			return false
		}
	}
	if p.Moneyness != "" {
		moneyness := c.Moneyness(underlyingPrice)
		if moneyness != "" && moneyness != p.Moneyness {
			return false
		}
	}
	return true
}
