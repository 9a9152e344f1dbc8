package indicator

import (
	"math"

	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

// ADX calculates Wilder's Average Directional Index.
//
// Directional movement starts on the second candle. +DM, -DM and true range
// are Wilder-smoothed over period; DX feeds a second smoother of the same
// period, so the first value appears after 2*period candles.
type ADX struct {
	trs, plus, minus *SMMA
	dx               *SMMA

	prev    model.Candle
	seen    bool
	plusDI  float64
	minusDI float64
}

// NewADX creates a new ADX indicator with the given period (typically 14).
func NewADX(period int) *ADX {
	return &ADX{
		trs:   NewSMMA(period),
		plus:  NewSMMA(period),
		minus: NewSMMA(period),
		dx:    NewSMMA(period),
	}
}

func (a *ADX) Name() string { return "ADX" }

func (a *ADX) Update(candle model.Candle) {
	if !a.seen {
		a.seen = true
		a.prev = candle
		return
	}

	up := candle.High - a.prev.High
	down := a.prev.Low - candle.Low
	plusDM, minusDM := 0.0, 0.0
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}

	a.trs.Push(trueRange(candle, a.prev.Close))
	a.plus.Push(plusDM)
	a.minus.Push(minusDM)
	a.prev = candle

	if !a.trs.Ready() {
		return
	}

	a.plusDI, a.minusDI = 0, 0
	if tr := a.trs.Value(); tr > 0 {
		a.plusDI = 100 * a.plus.Value() / tr
		a.minusDI = 100 * a.minus.Value() / tr
	}

	dx := 0.0
	if sum := a.plusDI + a.minusDI; sum > 0 {
		dx = 100 * math.Abs(a.plusDI-a.minusDI) / sum
	}
	a.dx.Push(dx)
}

func (a *ADX) Value() float64 { return a.dx.Value() }
func (a *ADX) Ready() bool    { return a.dx.Ready() }

// DI returns the current +DI and -DI lines.
func (a *ADX) DI() (plus, minus float64) { return a.plusDI, a.minusDI }
