package indicator

import (
	"math"

	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

// MaxSignalBars caps TrendState.SignalBars.
const MaxSignalBars = 999

// Trend is the SuperTrend direction.
type Trend int8

const (
	TrendUp   Trend = 1
	TrendDown Trend = -1
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	default:
		return "unknown"
	}
}

// TrendState is the whole memory SuperTrend carries between candles.
type TrendState struct {
	Trend      Trend   `json:"trend"`
	Band       float64 `json:"band"`
	SignalBars int     `json:"signal_bars"` // bars since the last flip
}

// Next advances the state by one candle given its close and ATR bands.
//
// An uptrend flips down when close <= lower and otherwise ratchets the band
// up to lower. A downtrend flips up when close >= upper and otherwise
// ratchets the band down to upper. A flip resets SignalBars to 1.
func (s TrendState) Next(close, upper, lower float64) TrendState {
	next := s
	switch s.Trend {
	case TrendUp:
		if close <= lower {
			return TrendState{Trend: TrendDown, Band: upper, SignalBars: 1}
		}
		next.Band = math.Max(lower, s.Band)
	case TrendDown:
		if close >= upper {
			return TrendState{Trend: TrendUp, Band: lower, SignalBars: 1}
		}
		next.Band = math.Min(upper, s.Band)
	}
	if next.SignalBars < MaxSignalBars {
		next.SignalBars++
	}
	return next
}

// SuperTrend is an ATR band trend follower.
// Not ready until its ATR is ready; the first ready candle starts an uptrend
// at the upper band with SignalBars = 0.
type SuperTrend struct {
	multiplier float64
	atr        *ATR
	state      TrendState
	started    bool
}

// NewSuperTrend creates a SuperTrend over ATR(period) with the given band multiplier.
func NewSuperTrend(period int, multiplier float64) *SuperTrend {
	return &SuperTrend{
		multiplier: multiplier,
		atr:        NewATR(period),
	}
}

func (s *SuperTrend) Name() string { return "SUPERTREND" }

func (s *SuperTrend) Update(candle model.Candle) {
	s.atr.Update(candle)
	if !s.atr.Ready() {
		return
	}

	mid := (candle.High + candle.Low) / 2
	offset := s.multiplier * s.atr.Value()
	upper, lower := mid+offset, mid-offset

	if !s.started {
		s.started = true
		s.state = TrendState{Trend: TrendUp, Band: upper}
		return
	}
	s.state = s.state.Next(candle.Close, upper, lower)
}

// Value returns the current band.
func (s *SuperTrend) Value() float64 { return s.state.Band }
func (s *SuperTrend) Ready() bool    { return s.started }

// State returns the current trend state. Zero until Ready.
func (s *SuperTrend) State() TrendState { return s.state }
