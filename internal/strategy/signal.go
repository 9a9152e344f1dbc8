// Package strategy turns indicator readouts into binary-option decisions.
//
// Rules.Decide is a pure function of the candle time, the indicator values
// and the configured thresholds: it never touches trade state.
package strategy

import (
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/indicator"
	"github.com/davidalejandrochentes/backtesting-trading/internal/markethours"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

// Action represents a trading decision.
type Action string

const (
	ActionNone Action = "NONE"
	ActionCall Action = "CALL"
	ActionPut  Action = "PUT"
)

// TradeType maps CALL/PUT to the trade direction. ok is false for NONE.
func (a Action) TradeType() (t model.TradeType, ok bool) {
	switch a {
	case ActionCall:
		return model.Call, true
	case ActionPut:
		return model.Put, true
	}
	return "", false
}

// Signal is one decision plus what produced it.
type Signal struct {
	Action  Action `json:"action"`
	Session string `json:"session,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

var none = Signal{Action: ActionNone}

// Evaluator decides on one candle. Rules is the production implementation.
type Evaluator interface {
	Decide(ts time.Time, v indicator.Values) Signal
}

// Rules holds the thresholds of the CALL/PUT conditions.
type Rules struct {
	DelayBars     int
	ADXThreshold  float64
	RSIOversold   float64
	RSIOverbought float64
	MinBars       int // extra warm-up on top of indicator readiness

	Window markethours.Window

	// SessionLoc enables the session profile when non-nil.
	SessionLoc *time.Location
}

// RulesFrom builds Rules from a validated strategy config.
func RulesFrom(cfg config.Strategy) Rules {
	r := Rules{
		DelayBars:     cfg.DelayBars,
		ADXThreshold:  cfg.ADXThreshold,
		RSIOversold:   cfg.RSIOversold,
		RSIOverbought: cfg.RSIOverbought,
		MinBars:       cfg.WarmupBars,
		Window:        WindowFrom(cfg),
	}
	if cfg.SessionProfile {
		r.SessionLoc = markethours.LoadLocation(cfg.SessionLocation)
	}
	return r
}

// WindowFrom extracts the trading-hours window of cfg.
func WindowFrom(cfg config.Strategy) markethours.Window {
	return markethours.Window{
		StartHour:   cfg.TradingStartHour,
		EndHour:     cfg.TradingEndHour,
		OffsetHours: cfg.TimezoneOffset,
		Enabled:     cfg.EnableTimeFilter,
	}
}

// Decide returns CALL, PUT or NONE for the candle at ts.
// CALL is checked first, so both can never fire on the same candle.
func (r Rules) Decide(ts time.Time, v indicator.Values) Signal {
	if !v.Ready || v.Bars < r.MinBars {
		return none
	}
	if !r.Window.Allows(ts) {
		return none
	}

	var session markethours.Session
	if r.SessionLoc != nil {
		if !markethours.SessionTradable(ts, r.SessionLoc) {
			return none
		}
		session = markethours.SessionAt(ts, r.SessionLoc)
	}

	if r.callConditions(v) && r.sessionAllows(session, v, ActionCall) {
		return Signal{Action: ActionCall, Session: string(session), Reason: "trend up above EMAs"}
	}
	if r.putConditions(v) && r.sessionAllows(session, v, ActionPut) {
		return Signal{Action: ActionPut, Session: string(session), Reason: "trend down below EMAs"}
	}
	return none
}

func (r Rules) callConditions(v indicator.Values) bool {
	for _, ema := range v.EMAs {
		if !(v.Close > ema) {
			return false
		}
	}
	return v.Trend.Trend == indicator.TrendUp &&
		v.Trend.SignalBars >= r.DelayBars &&
		v.ADX > r.ADXThreshold &&
		v.RSI < r.RSIOverbought
}

func (r Rules) putConditions(v indicator.Values) bool {
	for _, ema := range v.EMAs {
		if !(v.Close < ema) {
			return false
		}
	}
	return v.Trend.Trend == indicator.TrendDown &&
		v.Trend.SignalBars >= r.DelayBars &&
		v.ADX > r.ADXThreshold &&
		v.RSI > r.RSIOversold
}

// sessionAllows applies the session profile's extra requirements:
// the London/NY overlap wants ADX > 30, LONDON_OPEN and NY_ACTIVE take the
// base rules, anything else wants ADX > 35 and RSI on the trade's side of 50.
func (r Rules) sessionAllows(s markethours.Session, v indicator.Values, a Action) bool {
	switch s {
	case "", markethours.LondonOpen, markethours.NYActive:
		return true
	case markethours.LondonNYOverlap:
		return v.ADX > 30
	}
	if a == ActionCall {
		return v.ADX > 35 && v.RSI > 50
	}
	return v.ADX > 35 && v.RSI < 50
}
