// Package market defines the market-context value objects the engine
// consumes and a guarded provider for fetching them from an external feed.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OpenPosition is the balance service's view of a live position, supplied
// to exit evaluations.
type OpenPosition struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	EntryPrice float64         `json:"entry_price"`
	Notional   decimal.Decimal `json:"notional_usd"`
	OpenedAt   time.Time       `json:"opened_at"`
	// PeakPnL tracks the best unrealized result seen while held.
	PeakPnL decimal.Decimal `json:"peak_pnl_usd"`
}

// Direction maps the position side onto the signed direction axis.
func (p OpenPosition) Direction() float64 {
	if p.Side == SideShort {
		return -1
	}
	return 1
}

// Context carries the externally supplied market state for one symbol.
// Evaluations accept a nil context; Neutral supplies the documented
// defaults in that case.
type Context struct {
	Symbol           string          `json:"symbol"`
	CurrentPrice     float64         `json:"current_price"`
	AvailableCapital decimal.Decimal `json:"available_capital_usd"`
	// Volatility is the expected near-term move dispersion, as a fraction.
	Volatility float64 `json:"volatility"`
	// TrendStrength grades trend persistence in [0,1].
	TrendStrength float64 `json:"trend_strength"`
	// Regime is the externally supplied regime signal in [-1,1]; positive
	// values mean conditions favor acting on signals.
	Regime    float64   `json:"regime"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Neutral returns the defaults used when no market context is supplied:
// moderate volatility, indifferent trend and regime, unknown capital.
func Neutral(symbol string) *Context {
	return &Context{
		Symbol:        symbol,
		Volatility:    0.02,
		TrendStrength: 0.5,
		Regime:        0,
		FetchedAt:     time.Now(),
	}
}
