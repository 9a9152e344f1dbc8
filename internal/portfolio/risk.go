package portfolio

import "github.com/davidalejandrochentes/backtesting-trading/internal/model"

// EquityStatus is the equity-curve summary of a run, in trade-amount units.
type EquityStatus struct {
	Equity               float64            `json:"equity"`
	PeakEquity           float64            `json:"peak_equity"`
	MaxDrawdown          float64            `json:"max_drawdown"`
	MaxConsecutiveLosses int                `json:"max_consecutive_losses"`
	DailyPnL             map[string]float64 `json:"daily_pnl"` // UTC settlement date → pnl
}

// EquityCurve tracks equity, peak and drawdown as trades settle.
// The curve starts at zero.
type EquityCurve struct {
	equity      float64
	peakEquity  float64
	maxDrawdown float64

	lossStreak    int
	maxLossStreak int

	daily map[string]float64
}

// NewEquityCurve creates a flat curve.
func NewEquityCurve() *EquityCurve {
	return &EquityCurve{daily: make(map[string]float64)}
}

// RecordTrade moves the curve by t.PnL.
func (e *EquityCurve) RecordTrade(t model.SettledTrade) {
	e.equity += t.PnL
	e.daily[t.SettledAt.UTC().Format("2006-01-02")] += t.PnL

	if e.equity > e.peakEquity {
		e.peakEquity = e.equity
	}
	if dd := e.peakEquity - e.equity; dd > e.maxDrawdown {
		e.maxDrawdown = dd
	}

	if t.Result == model.Loss {
		e.lossStreak++
		e.maxLossStreak = max(e.maxLossStreak, e.lossStreak)
	} else {
		e.lossStreak = 0
	}
}

// Status returns the current curve summary.
func (e *EquityCurve) Status() EquityStatus {
	daily := make(map[string]float64, len(e.daily))
	for k, v := range e.daily {
		daily[k] = v
	}
	return EquityStatus{
		Equity:               e.equity,
		PeakEquity:           e.peakEquity,
		MaxDrawdown:          e.maxDrawdown,
		MaxConsecutiveLosses: e.maxLossStreak,
		DailyPnL:             daily,
	}
}
