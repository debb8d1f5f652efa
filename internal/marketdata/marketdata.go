// Package marketdata defines the market-data collaborator interface the core
// consumes, plus a simulated provider used for paper trading and demos. Real
// providers plug in behind the same interface; every method is one request
// consumable by the governor.
package marketdata

import "github.com/ksred/screener-api/internal/types"

// Provider is the market-data collaborator boundary.
type Provider interface {
	// Name returns the provider identifier used for rate-limit accounting.
	Name() string

	// GetQuote returns the current quote for a symbol.
	GetQuote(symbol string) (*types.Quote, error)

	// GetBar returns the latest daily bar, with indicator fields when the
	// provider has enough history.
	GetBar(symbol string) (*types.Bar, error)

	// GetFundamentals returns slow-moving company fields for stock screens.
	GetFundamentals(symbol string) (*types.Fundamentals, error)

	// GetOptionChain returns the near-dated option chain for an underlying.
	GetOptionChain(underlying string) ([]types.OptionContract, error)
}

// Clock is the market-hours collaborator.
type Clock interface {
	IsOpen() bool
}
