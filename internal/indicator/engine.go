package indicator

import "github.com/davidalejandrochentes/backtesting-trading/internal/model"

// SetConfig specifies the indicators one simulation run needs.
type SetConfig struct {
	EMAPeriods   []int
	STPeriod     int
	STMultiplier float64
	ADXPeriod    int
	RSIPeriod    int
}

// Values is the indicator readout after one candle.
// EMAs aliases an internal buffer and is only valid until the next Update.
type Values struct {
	Close float64
	EMAs  []float64
	Trend TrendState
	ADX   float64
	RSI   float64
	Ready bool // every indicator has warmed up
	Bars  int  // candles seen so far
}

// Set computes every indicator of one run in lockstep.
// Single-goroutine use only.
type Set struct {
	emas []*EMA
	st   *SuperTrend
	adx  *ADX
	rsi  *RSI

	bars   int
	emaBuf []float64
}

// NewSet creates fresh indicator instances for cfg.
func NewSet(cfg SetConfig) *Set {
	s := &Set{
		emas:   make([]*EMA, len(cfg.EMAPeriods)),
		st:     NewSuperTrend(cfg.STPeriod, cfg.STMultiplier),
		adx:    NewADX(cfg.ADXPeriod),
		rsi:    NewRSI(cfg.RSIPeriod),
		emaBuf: make([]float64, len(cfg.EMAPeriods)),
	}
	for i, p := range cfg.EMAPeriods {
		s.emas[i] = NewEMA(p)
	}
	return s
}

// Update feeds candle to every indicator (one pass) and returns the readout.
func (s *Set) Update(candle model.Candle) Values {
	s.bars++
	ready := true
	for i, e := range s.emas {
		e.Update(candle)
		s.emaBuf[i] = e.Value()
		ready = ready && e.Ready()
	}
	s.st.Update(candle)
	s.adx.Update(candle)
	s.rsi.Update(candle)

	return Values{
		Close: candle.Close,
		EMAs:  s.emaBuf,
		Trend: s.st.State(),
		ADX:   s.adx.Value(),
		RSI:   s.rsi.Value(),
		Ready: ready && s.st.Ready() && s.adx.Ready() && s.rsi.Ready(),
		Bars:  s.bars,
	}
}

// WarmupBars returns the number of candles after which every indicator is ready.
func WarmupBars(cfg SetConfig) int {
	n := cfg.STPeriod
	for _, p := range cfg.EMAPeriods {
		n = max(n, p)
	}
	n = max(n, 2*cfg.ADXPeriod)
	n = max(n, cfg.RSIPeriod+1)
	return n
}
