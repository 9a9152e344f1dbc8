package model

import "time"

// TradeType is the direction of a binary option.
type TradeType string

const (
	Call TradeType = "CALL"
	Put  TradeType = "PUT"
)

// Outcome is the settled result of a binary option.
type Outcome string

const (
	Win  Outcome = "WIN"
	Loss Outcome = "LOSS"
)

// PendingTrade is an open binary option waiting for its expiry candle.
type PendingTrade struct {
	Type       TradeType `json:"type"`
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice float64   `json:"entry_price"`
	ExpiryTime time.Time `json:"expiry_time"`
	Amount     float64   `json:"amount"`
	Session    string    `json:"session,omitempty"`
}

// SettledTrade is an immutable trade-log entry.
type SettledTrade struct {
	Type       TradeType `json:"type"`
	EntryTime  time.Time `json:"entry_time"`
	ExpiryTime time.Time `json:"expiry_time"`
	SettledAt  time.Time `json:"settled_at"` // timestamp of the candle that settled it
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Result     Outcome   `json:"result"`
	PnL        float64   `json:"pnl"`
	Session    string    `json:"session,omitempty"`
}

// Settle closes p at exitPrice. A CALL wins only when the exit is strictly
// above the entry and a PUT only when strictly below; equality is a loss.
func (p PendingTrade) Settle(exitPrice, payoutRate float64, at time.Time) SettledTrade {
	win := (p.Type == Call && exitPrice > p.EntryPrice) ||
		(p.Type == Put && exitPrice < p.EntryPrice)

	st := SettledTrade{
		Type:       p.Type,
		EntryTime:  p.EntryTime,
		ExpiryTime: p.ExpiryTime,
		SettledAt:  at,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Session:    p.Session,
	}
	if win {
		st.Result = Win
		st.PnL = p.Amount * payoutRate
	} else {
		st.Result = Loss
		st.PnL = -p.Amount
	}
	return st
}
