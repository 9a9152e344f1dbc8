// Package indicator provides incremental technical indicators over candle data.
//
// All indicators implement the Indicator interface, receiving candles one at a
// time and producing float64 values in O(1) per update. Nothing keeps a price
// history beyond what the smoothing recurrence needs.
package indicator

import "github.com/davidalejandrochentes/backtesting-trading/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "ATR").
	Name() string

	// Update feeds a new candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
