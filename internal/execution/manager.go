// Package execution manages simulated binary-option trades: opening them
// under frequency and scheduling gates, holding them until expiry, and
// settling them against the expiry candle's close.
package execution

import (
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/indicator"
	"github.com/davidalejandrochentes/backtesting-trading/internal/markethours"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
	"github.com/davidalejandrochentes/backtesting-trading/internal/strategy"
)

// Stats counts entry decisions over a run.
type Stats struct {
	Signals          int `json:"signals"`           // CALL/PUT decisions that reached the manager
	Opened           int `json:"opened"`            // trades actually opened
	ExpiryOutside    int `json:"expiry_outside"`    // discarded: expiry outside the trading window
	RejectedDailyCap int `json:"rejected_daily_cap"`
	RejectedGap      int `json:"rejected_gap"`
}

// Manager owns the pending trades of one run.
// Single-goroutine use only.
type Manager struct {
	eval   strategy.Evaluator
	window markethours.Window

	expiry     time.Duration
	minGap     time.Duration
	maxPerDay  int
	payoutRate float64
	amount     float64

	pending   []model.PendingTrade
	lastTrade time.Time
	hasLast   bool
	daily     map[string]int // entry date → trades opened
	stats     Stats
}

// NewManager creates a lifecycle manager for cfg, asking eval for decisions.
func NewManager(cfg config.Strategy, eval strategy.Evaluator) *Manager {
	return &Manager{
		eval:       eval,
		window:     strategy.WindowFrom(cfg),
		expiry:     time.Duration(cfg.ExpiryMinutes) * time.Minute,
		minGap:     time.Duration(cfg.MinGapMinutes) * time.Minute,
		maxPerDay:  cfg.MaxTradesPerDay,
		payoutRate: cfg.PayoutRate,
		amount:     cfg.TradeAmount,
		daily:      make(map[string]int),
	}
}

// OnCandle processes one candle: settle, gate, then maybe open.
// It returns the trades settled on this candle (nil if none) and the trade
// opened on it (nil if none). Expiring trades always settle before a new
// entry is considered, so both may use the same close.
func (m *Manager) OnCandle(c model.Candle, v indicator.Values) ([]model.SettledTrade, *model.PendingTrade) {
	settled := m.settle(c)

	if !m.window.Allows(c.TS) {
		return settled, nil
	}

	day := c.DateKey()
	if m.daily[day] >= m.maxPerDay {
		m.stats.RejectedDailyCap++
		return settled, nil
	}
	if m.hasLast && c.TS.Sub(m.lastTrade) < m.minGap {
		m.stats.RejectedGap++
		return settled, nil
	}

	sig := m.eval.Decide(c.TS, v)
	typ, ok := sig.Action.TradeType()
	if !ok {
		return settled, nil
	}
	m.stats.Signals++

	expiry := c.TS.Add(m.expiry)
	if m.window.Enabled && !m.window.Allows(expiry) {
		m.stats.ExpiryOutside++
		return settled, nil
	}

	opened := model.PendingTrade{
		Type:       typ,
		EntryTime:  c.TS,
		EntryPrice: c.Close,
		ExpiryTime: expiry,
		Amount:     m.amount,
		Session:    sig.Session,
	}
	m.pending = append(m.pending, opened)
	m.lastTrade = c.TS
	m.hasLast = true
	m.daily[day]++
	m.stats.Opened++

	return settled, &opened
}

// settle closes every pending trade with expiry ≤ c.TS at c.Close,
// preserving the order of the rest.
func (m *Manager) settle(c model.Candle) []model.SettledTrade {
	var settled []model.SettledTrade
	keep := m.pending[:0]
	for _, p := range m.pending {
		if p.ExpiryTime.After(c.TS) {
			keep = append(keep, p)
			continue
		}
		settled = append(settled, p.Settle(c.Close, m.payoutRate, c.TS))
	}
	m.pending = keep
	return settled
}

// Pending returns a copy of the open trades.
func (m *Manager) Pending() []model.PendingTrade {
	cp := make([]model.PendingTrade, len(m.pending))
	copy(cp, m.pending)
	return cp
}

// Stats returns the entry counters so far.
func (m *Manager) Stats() Stats { return m.stats }

// TradesOn returns the number of trades opened on the given "2006-01-02" date.
func (m *Manager) TradesOn(date string) int { return m.daily[date] }
