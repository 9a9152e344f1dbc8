// Package portfolio folds settled binary-option trades into run metrics
// and tracks the equity curve of a simulation run.
package portfolio

import (
	"math"

	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

// PnLTracker accumulates settled trades into running totals.
// One tracker belongs to one run; it is not safe for concurrent use.
type PnLTracker struct {
	trades []model.SettledTrade

	wins      int
	losses    int
	totalPnL  float64
	grossWin  float64
	grossLoss float64 // sum of losing pnl, ≤ 0
}

// NewPnLTracker creates an empty tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{trades: make([]model.SettledTrade, 0, 64)}
}

// RecordTrade adds one settlement to the totals.
func (p *PnLTracker) RecordTrade(t model.SettledTrade) {
	p.trades = append(p.trades, t)
	p.totalPnL += t.PnL
	if t.Result == model.Win {
		p.wins++
		p.grossWin += t.PnL
	} else {
		p.losses++
		p.grossLoss += t.PnL
	}
}

// GetTrades returns a snapshot of all recorded trades in settlement order.
func (p *PnLTracker) GetTrades() []model.SettledTrade {
	cp := make([]model.SettledTrade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// Metrics derives the run metrics from the totals. unsettled is the number
// of trades still pending at stream end; they do not count toward any total.
//
// With no trades every ratio is 0. With wins and no losses the profit
// factor is +Inf.
func (p *PnLTracker) Metrics(unsettled int) model.RunMetrics {
	total := p.wins + p.losses
	m := model.RunMetrics{
		TotalTrades:   total,
		WinningTrades: p.wins,
		LosingTrades:  p.losses,
		TotalPnL:      p.totalPnL,
		Unsettled:     unsettled,
	}
	if total == 0 {
		return m
	}

	m.WinRate = 100 * float64(p.wins) / float64(total)
	m.AvgPnLPerTrade = p.totalPnL / float64(total)
	switch {
	case p.grossLoss < 0:
		m.ProfitFactor = p.grossWin / math.Abs(p.grossLoss)
	case p.grossWin > 0:
		m.ProfitFactor = math.Inf(1)
	}
	return m
}
