package model

import (
	"encoding/json"
	"math"
)

// RunMetrics summarises one simulation run.
// ProfitFactor is +Inf when a run has wins and no losses.
type RunMetrics struct {
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"` // percent, 0..100
	TotalPnL       float64 `json:"total_pnl"`
	AvgPnLPerTrade float64 `json:"avg_pnl_per_trade"`
	ProfitFactor   float64 `json:"profit_factor"`
	Unsettled      int     `json:"unsettled"` // trades still pending when the stream ended
}

// InfiniteProfitFactor reports whether the profit factor is the +Inf sentinel.
func (m RunMetrics) InfiniteProfitFactor() bool {
	return math.IsInf(m.ProfitFactor, 1)
}

// Score is the composite ranking metric: a weighted blend of win rate,
// P&L and profit factor, each clipped to a fixed range.
func (m RunMetrics) Score() float64 {
	wr := clip(m.WinRate/100, 0, 1)
	pnl := clip(m.TotalPnL/100, -1, 1)
	pf := clip(m.ProfitFactor/5, 0, 1)
	return 0.3*wr + 0.4*pnl + 0.3*pf
}

func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// MarshalJSON encodes the infinite profit factor as null plus a flag, since
// JSON has no representation for +Inf.
func (m RunMetrics) MarshalJSON() ([]byte, error) {
	type alias RunMetrics
	out := struct {
		alias
		ProfitFactor         *float64 `json:"profit_factor"`
		ProfitFactorInfinite bool     `json:"profit_factor_infinite,omitempty"`
	}{alias: alias(m)}
	if m.InfiniteProfitFactor() {
		out.ProfitFactorInfinite = true
	} else {
		pf := m.ProfitFactor
		out.ProfitFactor = &pf
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *RunMetrics) UnmarshalJSON(data []byte) error {
	type alias RunMetrics
	in := struct {
		*alias
		ProfitFactor         *float64 `json:"profit_factor"`
		ProfitFactorInfinite bool     `json:"profit_factor_infinite"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.ProfitFactorInfinite:
		m.ProfitFactor = math.Inf(1)
	case in.ProfitFactor != nil:
		m.ProfitFactor = *in.ProfitFactor
	default:
		m.ProfitFactor = 0
	}
	return nil
}
