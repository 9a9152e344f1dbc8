package indicator

import (
	"math"

	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

// ATR calculates Average True Range with Wilder smoothing.
// The first candle has no previous close, so its true range is high-low;
// the value is ready after period candles.
type ATR struct {
	smma      *SMMA
	prevClose float64
	seen      bool
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) *ATR {
	return &ATR{smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "ATR" }

func (a *ATR) Update(candle model.Candle) {
	tr := candle.High - candle.Low
	if a.seen {
		tr = trueRange(candle, a.prevClose)
	}
	a.seen = true
	a.prevClose = candle.Close
	a.smma.Push(tr)
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }

func trueRange(c model.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}
