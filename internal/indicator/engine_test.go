package indicator

import "testing"

func TestSet_ReadyAtWarmup(t *testing.T) {
	cfg := SetConfig{
		EMAPeriods:   []int{3, 5},
		STPeriod:     4,
		STMultiplier: 2,
		ADXPeriod:    3,
		RSIPeriod:    5,
	}
	// EMA(5) at 5, SuperTrend at 4, ADX(3) at 6, RSI(5) at 6.
	warmup := WarmupBars(cfg)
	if warmup != 6 {
		t.Fatalf("WarmupBars = %d, want 6", warmup)
	}

	set := NewSet(cfg)
	for i := 1; i <= 10; i++ {
		v := set.Update(candle(100 + float64(i)))
		if v.Bars != i {
			t.Errorf("candle %d: Bars=%d", i, v.Bars)
		}
		if want := i >= warmup; v.Ready != want {
			t.Errorf("candle %d: Ready=%v, want %v", i, v.Ready, want)
		}
		if len(v.EMAs) != 2 {
			t.Fatalf("candle %d: expected 2 EMA values, got %d", i, len(v.EMAs))
		}
	}
}

func TestSet_MatchesStandaloneIndicators(t *testing.T) {
	cfg := SetConfig{EMAPeriods: []int{4}, STPeriod: 3, STMultiplier: 1.5, ADXPeriod: 3, RSIPeriod: 4}
	set := NewSet(cfg)
	ema, st, adx, rsi := NewEMA(4), NewSuperTrend(3, 1.5), NewADX(3), NewRSI(4)

	prices := []float64{100, 101, 103, 102, 104, 107, 106, 108, 105, 103, 101, 104}
	var v Values
	for _, p := range prices {
		c := candle(p)
		v = set.Update(c)
		ema.Update(c)
		st.Update(c)
		adx.Update(c)
		rsi.Update(c)
	}

	assertClose(t, "close", v.Close, 104, 0)
	assertClose(t, "EMA", v.EMAs[0], ema.Value(), 1e-12)
	assertClose(t, "ADX", v.ADX, adx.Value(), 1e-12)
	assertClose(t, "RSI", v.RSI, rsi.Value(), 1e-12)
	if v.Trend != st.State() {
		t.Errorf("trend %+v, want %+v", v.Trend, st.State())
	}
}

func TestSet_NoEMAs(t *testing.T) {
	set := NewSet(SetConfig{STPeriod: 2, STMultiplier: 1, ADXPeriod: 2, RSIPeriod: 2})
	var v Values
	for i := 0; i < 4; i++ {
		v = set.Update(candle(100 + float64(i)))
	}
	if !v.Ready {
		t.Error("expected Ready with no EMAs configured after 4 candles")
	}
}
