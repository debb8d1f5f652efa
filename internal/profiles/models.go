package profiles

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type AssetKind string

const (
	KindStock      AssetKind = "stock"
	KindCallOption AssetKind = "call_option"
	KindPutOption  AssetKind = "put_option"
)

// ParamsVersion is bumped when the params schema changes shape.
const ParamsVersion = 1

// Profile is a named, persisted screening configuration. The core only ever
// writes LastRunAt; everything else belongs to the UI collaborator.
type Profile struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `json:"name"`
	AssetKind AssetKind      `json:"asset_kind"`
	// ParamsJSON holds the versioned tagged variant; use Params()/SetParams.
	ParamsJSON string `gorm:"column:params" json:"-"`
	// SymbolsJSON is the resolved instrument set as a JSON array.
	SymbolsJSON string `gorm:"column:symbols" json:"-"`

	ScheduleEnabled bool `json:"schedule_enabled"`
	// ScheduleIntervalSec of zero falls back to the service default.
	ScheduleIntervalSec int  `json:"schedule_interval_sec"`
	MarketHoursOnly     bool `json:"market_hours_only"`

	AutoExecute   bool    `json:"auto_execute"`
	MaxOrderValue float64 `json:"max_order_value"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RangeFilter is an inclusive numeric range; a nil bound is unbounded.
type RangeFilter struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Matches checks min <= value <= max. An unset filter always matches.
func (r *RangeFilter) Matches(value float64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && value < *r.Min {
		return false
	}
	if r.Max != nil && value > *r.Max {
		return false
	}
	return true
}

// IsSet reports whether either bound is configured.
func (r *RangeFilter) IsSet() bool {
	return r != nil && (r.Min != nil || r.Max != nil)
}

// StockParams are the filters available to stock profiles.
type StockParams struct {
	Price         *RangeFilter `json:"price,omitempty"`
	Volume        *RangeFilter `json:"volume,omitempty"`
	ChangePct     *RangeFilter `json:"change_pct,omitempty"`
	MarketCap     *RangeFilter `json:"market_cap,omitempty"`
	PERatio       *RangeFilter `json:"pe_ratio,omitempty"`
	DividendYield *RangeFilter `json:"dividend_yield,omitempty"`
	Beta          *RangeFilter `json:"beta,omitempty"`
	Sector        string       `json:"sector,omitempty"`
	// MACDSignal filters on signal-line crossover direction:
	// "bullish" or "bearish".
	MACDSignal string `json:"macd_signal,omitempty"`
}

// UsesFundamentals reports whether the fetch plan needs the fundamentals
// request for this profile.
func (p *StockParams) UsesFundamentals() bool {
	return p.MarketCap.IsSet() || p.PERatio.IsSet() ||
		p.DividendYield.IsSet() || p.Beta.IsSet() || p.Sector != ""
}

// OptionParams are the filters available to option profiles. The contract
// type (call/put) comes from the profile's asset kind, not from here.
type OptionParams struct {
	Strike       *RangeFilter `json:"strike,omitempty"`
	Premium      *RangeFilter `json:"premium,omitempty"`
	Delta        *RangeFilter `json:"delta,omitempty"`
	IV           *RangeFilter `json:"iv,omitempty"`
	OpenInterest *RangeFilter `json:"open_interest,omitempty"`
	Volume       *RangeFilter `json:"volume,omitempty"`
	DaysToExpiry *RangeFilter `json:"days_to_expiry,omitempty"`
	// Moneyness is "itm", "atm" or "otm".
	Moneyness string `json:"moneyness,omitempty"`
}

// Params is the versioned tagged variant stored in the params column.
// Exactly one of Stock/Option is set, matching the profile's asset kind.
type Params struct {
	Version int           `json:"version"`
	Stock   *StockParams  `json:"stock,omitempty"`
	Option  *OptionParams `json:"option,omitempty"`
}

// Validate enforces the variant invariants at the persistence boundary.
func (p *Params) Validate(kind AssetKind) error {
	if p.Version != ParamsVersion {
		return fmt.Errorf("unsupported params version %d", p.Version)
	}
	switch kind {
	case KindStock:
		if p.Stock == nil || p.Option != nil {
			return fmt.Errorf("stock profile requires stock params only")
		}
	case KindCallOption, KindPutOption:
		if p.Option == nil || p.Stock != nil {
			return fmt.Errorf("option profile requires option params only")
		}
	default:
		return fmt.Errorf("unknown asset kind %q", kind)
	}
	if p.Stock != nil && p.Stock.MACDSignal != "" &&
		p.Stock.MACDSignal != "bullish" && p.Stock.MACDSignal != "bearish" {
		return fmt.Errorf("invalid macd_signal %q", p.Stock.MACDSignal)
	}
	if p.Option != nil && p.Option.Moneyness != "" &&
		p.Option.Moneyness != "itm" && p.Option.Moneyness != "atm" && p.Option.Moneyness != "otm" {
		return fmt.Errorf("invalid moneyness %q", p.Option.Moneyness)
	}
	return nil
}

// Params decodes the stored variant.
func (p *Profile) Params() (*Params, error) {
	var params Params
	if p.ParamsJSON == "" {
		return nil, fmt.Errorf("profile %d has no params", p.ID)
	}
	if err := json.Unmarshal([]byte(p.ParamsJSON), &params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return &params, nil
}

// SetParams validates and stores the variant.
func (p *Profile) SetParams(params *Params) error {
	if err := params.Validate(p.AssetKind); err != nil {
		return err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	p.ParamsJSON = string(data)
	return nil
}

// Symbols decodes the resolved instrument set.
func (p *Profile) Symbols() ([]string, error) {
	if p.SymbolsJSON == "" {
		return nil, nil
	}
	var symbols []string
	if err := json.Unmarshal([]byte(p.SymbolsJSON), &symbols); err != nil {
		return nil, fmt.Errorf("decode symbols: %w", err)
	}
	return symbols, nil
}

func (p *Profile) SetSymbols(symbols []string) error {
	data, err := json.Marshal(symbols)
	if err != nil {
		return err
	}
	p.SymbolsJSON = string(data)
	return nil
}

// ScanInterval returns the configured cadence, or fallback when unset.
func (p *Profile) ScanInterval(fallback time.Duration) time.Duration {
	if p.ScheduleIntervalSec <= 0 {
		return fallback
	}
	return time.Duration(p.ScheduleIntervalSec) * time.Second
}
