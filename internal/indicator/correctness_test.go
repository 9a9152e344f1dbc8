package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{Open: close, High: close + 0.5, Low: close - 0.5, Close: close}
}

func bar(high, low, close float64) model.Candle {
	return model.Candle{Open: close, High: high, Low: low, Close: close}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	//
	// Candle 3: initial EMA = 306/3 = 102.0 (SMA seed)
	// Candle 4: EMA = 103*0.5 + 102.0*0.5 = 102.5
	// Candle 5: EMA = 105*0.5 + 102.5*0.5 = 103.75

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(candle(p))
		if ema.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Correctness_Period5(t *testing.T) {
	// EMA(5): multiplier = 1/3
	// Seed = (44+44.25+44.50+43.75+44.50)/5 = 44.20
	mult := 2.0 / 6.0
	prices := []float64{44, 44.25, 44.50, 43.75, 44.50, 44.25, 44.00}
	seed := 44.20

	ema := NewEMA(5)
	for _, p := range prices[:5] {
		ema.Update(candle(p))
	}
	assertClose(t, "EMA(5) seed", ema.Value(), seed, 1e-9)

	ema.Update(candle(prices[5]))
	want6 := 44.25*mult + seed*(1-mult)
	assertClose(t, "EMA(5) candle 6", ema.Value(), want6, 1e-9)

	ema.Update(candle(prices[6]))
	want7 := 44.00*mult + want6*(1-mult)
	assertClose(t, "EMA(5) candle 7", ema.Value(), want7, 1e-9)
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness (Wilder's Smoothing)
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Seed = (100+102+104)/3 = 102.0
	// Candle 4: (102.0*2 + 103)/3 = 102.3333
	// Candle 5: (102.3333*2 + 105)/3 = 103.2222
	smma := NewSMMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.3333, 103.2222}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		smma.Update(candle(p))
		if smma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, smma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMMA(3)", smma.Value(), expected[i], 0.001)
		}
	}
}

func TestSMMA_PushMatchesUpdate(t *testing.T) {
	a, b := NewSMMA(4), NewSMMA(4)
	for _, p := range []float64{1, 5, 3, 8, 2, 9, 4} {
		a.Update(candle(p))
		b.Push(p)
	}
	assertClose(t, "Push vs Update", a.Value(), b.Value(), 1e-12)

	b.Reset()
	if b.Ready() || b.Value() != 0 {
		t.Errorf("Reset: Ready=%v Value=%.4f, want false/0", b.Ready(), b.Value())
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Deltas over candles 2-6: +0.34, -0.25, -0.48, +0.72, +0.50
	//   avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146
	//   RSI = 100 - 100/(1+2.136986) = 68.122
	// Candle 7 (+0.27): avgGain 0.3036, avgLoss 0.1168 → 72.217
	// Candle 8 (+0.32): avgGain 0.30688, avgLoss 0.09344 → 76.659
	// Candle 9 (+0.42): avgGain 0.329504, avgLoss 0.074752 → 81.509
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(candle(prices[i]))
		if want := i == 5; rsi.Ready() != want {
			t.Errorf("candle %d: Ready()=%v, want %v", i, rsi.Ready(), want)
		}
	}
	assertClose(t, "RSI(5) candle 6", rsi.Value(), 68.122, 0.01)

	rsi.Update(candle(prices[6]))
	assertClose(t, "RSI(5) candle 7", rsi.Value(), 72.217, 0.01)

	rsi.Update(candle(prices[7]))
	assertClose(t, "RSI(5) candle 8", rsi.Value(), 76.659, 0.01)

	rsi.Update(candle(prices[8]))
	assertClose(t, "RSI(5) candle 9", rsi.Value(), 81.509, 0.01)
}

func TestRSI_Extremes(t *testing.T) {
	tests := []struct {
		name string
		step float64
		want float64
	}{
		{"all up", 1, 100},
		{"all down", -1, 0},
		{"flat", 0, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi := NewRSI(5)
			for i := 0; i < 10; i++ {
				rsi.Update(candle(100 + float64(i)*tt.step))
			}
			assertClose(t, "RSI", rsi.Value(), tt.want, 1e-9)
		})
	}
}

// ────────────────────────────────────────────────────────────
// ATR Correctness
// ────────────────────────────────────────────────────────────

func TestATR_Correctness_Period3(t *testing.T) {
	// (H, L, C) → TR
	// 1: 10, 8, 9       → 2 (no previous close: high-low)
	// 2: 11, 9, 10.5    → max(2, |11-9|, |9-9|) = 2
	// 3: 12, 10, 11     → max(2, 1.5, 0.5) = 2        → seed ATR = 2
	// 4: 14, 11, 13     → max(3, 3, 0) = 3            → (2*2+3)/3 = 2.3333
	// 5: 13, 12, 12.5   → max(1, 0, 1) = 1            → (2.3333*2+1)/3 = 1.8889
	bars := []model.Candle{
		bar(10, 8, 9), bar(11, 9, 10.5), bar(12, 10, 11), bar(14, 11, 13), bar(13, 12, 12.5),
	}
	expected := []float64{0, 0, 2, 2.3333, 1.8889}

	atr := NewATR(3)
	for i, b := range bars {
		atr.Update(b)
		if want := i >= 2; atr.Ready() != want {
			t.Errorf("candle %d: Ready()=%v, want %v", i, atr.Ready(), want)
		}
		if atr.Ready() {
			assertClose(t, "ATR(3)", atr.Value(), expected[i], 0.001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// ADX
// ────────────────────────────────────────────────────────────

func TestADX_ReadyAfterTwicePeriod(t *testing.T) {
	adx := NewADX(3)
	for i := 0; i < 8; i++ {
		adx.Update(candle(100 + float64(i)))
		if want := i+1 >= 6; adx.Ready() != want {
			t.Errorf("candle %d: Ready()=%v, want %v", i+1, adx.Ready(), want)
		}
	}
}

func TestADX_PureTrend(t *testing.T) {
	// Every candle is one point higher: +DM = 1, -DM = 0, TR = 1.5.
	// +DI = 66.67, -DI = 0, DX = 100 on every bar → ADX = 100.
	adx := NewADX(4)
	for i := 0; i < 20; i++ {
		adx.Update(candle(100 + float64(i)))
	}
	assertClose(t, "ADX", adx.Value(), 100, 1e-9)
	plus, minus := adx.DI()
	assertClose(t, "+DI", plus, 100.0/1.5, 1e-9)
	assertClose(t, "-DI", minus, 0, 1e-9)
}

func TestADX_FlatIsZero(t *testing.T) {
	adx := NewADX(4)
	for i := 0; i < 20; i++ {
		adx.Update(candle(100))
	}
	if !adx.Ready() {
		t.Fatal("expected Ready after 20 candles")
	}
	assertClose(t, "ADX flat", adx.Value(), 0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// SuperTrend
// ────────────────────────────────────────────────────────────

func TestTrendState_Next(t *testing.T) {
	tests := []struct {
		name                string
		from                TrendState
		close, upper, lower float64
		want                TrendState
	}{
		{"up holds, band ratchets up", TrendState{TrendUp, 10, 4}, 12, 14, 11, TrendState{TrendUp, 11, 5}},
		{"up holds, band keeps previous", TrendState{TrendUp, 10, 4}, 12, 14, 9, TrendState{TrendUp, 10, 5}},
		{"up flips on close at lower", TrendState{TrendUp, 10, 7}, 9, 14, 9, TrendState{TrendDown, 14, 1}},
		{"down holds, band ratchets down", TrendState{TrendDown, 14, 2}, 12, 13, 9, TrendState{TrendDown, 13, 3}},
		{"down holds, band keeps previous", TrendState{TrendDown, 14, 2}, 12, 15, 9, TrendState{TrendDown, 14, 3}},
		{"down flips on close at upper", TrendState{TrendDown, 14, 30}, 15, 15, 11, TrendState{TrendUp, 11, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.from.Next(tt.close, tt.upper, tt.lower)
			if got != tt.want {
				t.Errorf("Next() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTrendState_SignalBarsSaturate(t *testing.T) {
	s := TrendState{Trend: TrendUp, Band: 1, SignalBars: 1}
	for i := 2; i <= 1200; i++ {
		s = s.Next(5, 6, 2)
		want := i
		if want > MaxSignalBars {
			want = MaxSignalBars
		}
		if s.SignalBars != want {
			t.Fatalf("step %d: SignalBars=%d, want %d", i, s.SignalBars, want)
		}
	}
}

func TestSuperTrend_Sequence(t *testing.T) {
	// period 3, multiplier 0.1; ATR as in TestATR_Correctness_Period3.
	// 3: ATR 2,      mid 11,   upper 11.2               → up, band 11.2, bars 0
	// 4: ATR 2.3333, mid 12.5, lower 12.2667, close 13   → up, band 12.2667, bars 1
	// 5: ATR 1.8889, mid 12.5, lower 12.3111, close 12.5 → up, band 12.3111, bars 2
	// 6: TR 5.5, ATR 3.0926, mid 8.5, upper 8.8093, lower 8.1907, close 7.5 → flip down, band 8.8093, bars 1
	bars := []model.Candle{
		bar(10, 8, 9), bar(11, 9, 10.5), bar(12, 10, 11), bar(14, 11, 13), bar(13, 12, 12.5), bar(10, 7, 7.5),
	}
	want := []struct {
		ready bool
		trend Trend
		band  float64
		sig   int
	}{
		{false, 0, 0, 0},
		{false, 0, 0, 0},
		{true, TrendUp, 11.2, 0},
		{true, TrendUp, 12.2667, 1},
		{true, TrendUp, 12.3111, 2},
		{true, TrendDown, 8.8093, 1},
	}

	st := NewSuperTrend(3, 0.1)
	for i, b := range bars {
		st.Update(b)
		w := want[i]
		if st.Ready() != w.ready {
			t.Fatalf("candle %d: Ready()=%v, want %v", i+1, st.Ready(), w.ready)
		}
		if !w.ready {
			continue
		}
		s := st.State()
		if s.Trend != w.trend || s.SignalBars != w.sig {
			t.Errorf("candle %d: trend=%v bars=%d, want %v/%d", i+1, s.Trend, s.SignalBars, w.trend, w.sig)
		}
		assertClose(t, "band", st.Value(), w.band, 0.001)
	}
}

func TestSuperTrend_TimestampsIgnored(t *testing.T) {
	a, b := NewSuperTrend(3, 1), NewSuperTrend(3, 1)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		c := candle(100 + float64(i%4))
		a.Update(c)
		c.TS = ts.Add(time.Duration(i) * time.Hour)
		b.Update(c)
	}
	if a.State() != b.State() {
		t.Errorf("state depends on timestamps: %+v vs %+v", a.State(), b.State())
	}
}
