package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/indicator"
	"github.com/davidalejandrochentes/backtesting-trading/internal/marketdata/feed"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
	"github.com/davidalejandrochentes/backtesting-trading/internal/strategy"
)

var t0 = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

// uptrend builds n one-minute candles rising 0.0010 per bar after a single
// down bar at index 1, so RSI stays below 100.
func uptrend(n int) []model.Candle {
	out := []model.Candle{
		{TS: t0, Open: 1.0990, High: 1.1002, Low: 1.0988, Close: 1.1000},
		{TS: t0.Add(time.Minute), Open: 1.1000, High: 1.1002, Low: 1.0993, Close: 1.0995},
	}
	for i := 2; i < n; i++ {
		open := out[i-1].Close
		close := open + 0.0010
		out = append(out, model.Candle{
			TS:   t0.Add(time.Duration(i) * time.Minute),
			Open: open, High: close + 0.0002, Low: open - 0.0002, Close: close,
		})
	}
	return out
}

func fastConfig() config.Strategy {
	cfg := config.Default()
	cfg.EMAPeriods = []int{3}
	cfg.STPeriod, cfg.STMultiplier = 3, 1.0
	cfg.DelayBars = 0
	cfg.ADXPeriod, cfg.ADXThreshold = 3, 0
	cfg.RSIPeriod, cfg.RSIOverbought = 3, 100
	cfg.ExpiryMinutes = 5
	cfg.MinGapMinutes = 0
	cfg.MaxTradesPerDay = 1
	cfg.EnableTimeFilter = false
	return cfg
}

// ────────────────────────────────────────────────────────────
// End to end
// ────────────────────────────────────────────────────────────

func TestRun_SingleCallSettlesAtExpiry(t *testing.T) {
	cfg := fastConfig()
	candles := uptrend(20)

	res, err := Run(context.Background(), cfg, candles)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d (stats %+v)", len(res.Trades), res.Stats)
	}

	tr := res.Trades[0]
	warm := indicator.WarmupBars(indicator.SetConfig{
		EMAPeriods: cfg.EMAPeriods, STPeriod: cfg.STPeriod, ADXPeriod: cfg.ADXPeriod, RSIPeriod: cfg.RSIPeriod,
	})
	entry := candles[warm-1]
	if tr.Type != model.Call {
		t.Errorf("type = %s, want CALL", tr.Type)
	}
	if !tr.EntryTime.Equal(entry.TS) || tr.EntryPrice != entry.Close {
		t.Errorf("entry %v @ %.4f, want %v @ %.4f", tr.EntryTime, tr.EntryPrice, entry.TS, entry.Close)
	}
	wantSettle := entry.TS.Add(5 * time.Minute)
	if !tr.SettledAt.Equal(wantSettle) || !tr.ExpiryTime.Equal(wantSettle) {
		t.Errorf("settled at %v, want %v", tr.SettledAt, wantSettle)
	}
	if tr.Result != model.Win || math.Abs(tr.PnL-0.7) > 1e-12 {
		t.Errorf("result %s %.4f, want WIN 0.7", tr.Result, tr.PnL)
	}

	m := res.Metrics
	if m.TotalTrades != 1 || m.WinRate != 100 || !m.InfiniteProfitFactor() || m.Unsettled != 0 {
		t.Errorf("metrics = %+v", m)
	}
	if res.Candles != 20 || res.Stats.Opened != 1 {
		t.Errorf("candles=%d stats=%+v", res.Candles, res.Stats)
	}
}

// reversal builds 20 one-minute candles: ten bars falling 0.0010 each,
// then ten rising 0.0015 each. With ATR(3) x 0.2 bands SuperTrend turns
// down on bar 3 and back up on bar 10.
func reversal() []model.Candle {
	var out []model.Candle
	price := 1.1000
	for i := 0; i < 20; i++ {
		c := model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: price}
		if i < 10 {
			c.Close = price - 0.0010
			c.High, c.Low = c.Open+0.0002, c.Close-0.0002
		} else {
			c.Close = price + 0.0015
			c.High, c.Low = c.Close+0.0002, c.Open-0.0002
		}
		out = append(out, c)
		price = c.Close
	}
	return out
}

func TestRun_CallWaitsDelayBarsAfterFlip(t *testing.T) {
	const flip = 10
	candles := reversal()

	tests := []struct {
		delay int
		entry int
	}{
		{delay: 0, entry: flip},
		{delay: 3, entry: flip + 2}, // flip bar counts as 1
	}
	for _, tt := range tests {
		cfg := fastConfig()
		cfg.STMultiplier = 0.2
		cfg.DelayBars = tt.delay

		set := indicator.NewSet(indicator.SetConfig{
			EMAPeriods: cfg.EMAPeriods, STPeriod: cfg.STPeriod, STMultiplier: cfg.STMultiplier,
			ADXPeriod: cfg.ADXPeriod, RSIPeriod: cfg.RSIPeriod,
		})
		var trend []indicator.TrendState
		for _, c := range candles {
			trend = append(trend, set.Update(c).Trend)
		}
		if trend[flip-1].Trend != indicator.TrendDown || trend[flip].Trend != indicator.TrendUp || trend[flip].SignalBars != 1 {
			t.Fatalf("fixture does not flip up at bar %d: %+v then %+v", flip, trend[flip-1], trend[flip])
		}
		if tt.delay > 0 && trend[tt.entry].SignalBars != tt.delay {
			t.Fatalf("bar %d has SignalBars %d, want %d", tt.entry, trend[tt.entry].SignalBars, tt.delay)
		}

		res, err := Run(context.Background(), cfg, candles)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Trades) != 1 || res.Metrics.TotalTrades != 1 {
			t.Fatalf("delay %d: expected 1 trade, got %d (stats %+v)", tt.delay, len(res.Trades), res.Stats)
		}
		tr := res.Trades[0]
		entry := candles[tt.entry]
		if tr.Type != model.Call {
			t.Errorf("delay %d: type = %s, want CALL", tt.delay, tr.Type)
		}
		if !tr.EntryTime.Equal(entry.TS) || tr.EntryPrice != entry.Close {
			t.Errorf("delay %d: entry %v @ %.4f, want %v @ %.4f", tt.delay, tr.EntryTime, tr.EntryPrice, entry.TS, entry.Close)
		}
		settle := candles[tt.entry+cfg.ExpiryMinutes]
		if !tr.SettledAt.Equal(settle.TS) || tr.ExitPrice != settle.Close {
			t.Errorf("delay %d: settled %v @ %.4f, want %v @ %.4f", tt.delay, tr.SettledAt, tr.ExitPrice, settle.TS, settle.Close)
		}
		if tr.Result != model.Win {
			t.Errorf("delay %d: result %s, want WIN", tt.delay, tr.Result)
		}
	}
}

func TestRun_Deterministic(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxTradesPerDay = 100
	candles := uptrend(60)

	a, err := Run(context.Background(), cfg, candles)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Run(context.Background(), cfg, candles)
	if err != nil {
		t.Fatal(err)
	}
	if a.Metrics != b.Metrics || len(a.Trades) != len(b.Trades) {
		t.Errorf("runs differ: %+v vs %+v", a.Metrics, b.Metrics)
	}
}

func TestRun_TooFewCandlesNoTrades(t *testing.T) {
	res, err := Run(context.Background(), fastConfig(), uptrend(5))
	if err != nil {
		t.Fatal(err)
	}
	if res.Metrics != (model.RunMetrics{}) {
		t.Errorf("expected zero metrics, got %+v", res.Metrics)
	}
}

// ────────────────────────────────────────────────────────────
// Errors
// ────────────────────────────────────────────────────────────

func TestRun_InvalidConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.PayoutRate = 0
	if _, err := Run(context.Background(), cfg, uptrend(20)); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRun_Unsorted(t *testing.T) {
	candles := uptrend(20)
	candles[7].TS = candles[6].TS
	if _, err := Run(context.Background(), fastConfig(), candles); !errors.Is(err, feed.ErrUnsorted) {
		t.Errorf("expected ErrUnsorted, got %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, fastConfig(), uptrend(20)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Unsettled trades
// ────────────────────────────────────────────────────────────

type alwaysPut struct{}

func (alwaysPut) Decide(time.Time, indicator.Values) strategy.Signal {
	return strategy.Signal{Action: strategy.ActionPut}
}

func TestRun_PendingAtEndExcludedFromMetrics(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxTradesPerDay = 100
	cfg.ExpiryMinutes = 10
	candles := uptrend(15)

	res, err := run(context.Background(), cfg, candles, alwaysPut{})
	if err != nil {
		t.Fatal(err)
	}
	// Entries at minutes 0..14; those at 0..4 expire by minute 14.
	if res.Metrics.TotalTrades != 5 || res.Metrics.Unsettled != 10 || len(res.Pending) != 10 {
		t.Errorf("total=%d unsettled=%d pending=%d", res.Metrics.TotalTrades, res.Metrics.Unsettled, len(res.Pending))
	}
	if res.Metrics.LosingTrades != 5 {
		t.Errorf("PUTs in an uptrend should all lose, got %+v", res.Metrics)
	}
	if res.Equity.MaxConsecutiveLosses != 5 {
		t.Errorf("MaxConsecutiveLosses = %d", res.Equity.MaxConsecutiveLosses)
	}
}
