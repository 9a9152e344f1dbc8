package sqlite

import (
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/explorer"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

func openPair(t *testing.T) (*Writer, *Reader, *int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtest.db")
	commits := new(int)
	w, err := New(WriterConfig{DBPath: path, OnCommit: func(time.Duration) { *commits++ }})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return w, r, commits
}

var base = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func minutes(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 1.1 + float64(i)*0.0001
		out[i] = model.Candle{TS: base.Add(time.Duration(i) * time.Minute), Open: p, High: p + 0.001, Low: p - 0.001, Close: p, Volume: float64(i)}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Candles
// ────────────────────────────────────────────────────────────

func TestCandles_ImportAndRead(t *testing.T) {
	w, r, commits := openPair(t)

	candles := minutes(1200) // spans more than one batch
	n, err := w.ImportCandles("EURUSD", candles)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1200 || *commits != 3 {
		t.Errorf("imported %d in %d commits", n, *commits)
	}
	// Re-import is an upsert.
	if _, err := w.ImportCandles("EURUSD", candles[:10]); err != nil {
		t.Fatal(err)
	}
	if _, err := w.ImportCandles("GBPUSD", candles[:3]); err != nil {
		t.Fatal(err)
	}

	all, err := r.ReadCandles("EURUSD", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1200 {
		t.Fatalf("read %d candles", len(all))
	}
	if all[5] != candles[5] {
		t.Errorf("candle 5 = %+v, want %+v", all[5], candles[5])
	}

	window, err := r.ReadCandles("EURUSD", base.Add(10*time.Minute), base.Add(20*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 10 || !window[0].TS.Equal(base.Add(10*time.Minute)) {
		t.Errorf("window = %d candles", len(window))
	}

	last, err := w.GetLastTimestamp("EURUSD")
	if err != nil {
		t.Fatal(err)
	}
	if !last.Equal(base.Add(1199 * time.Minute)) {
		t.Errorf("last = %v", last)
	}
	if none, _ := w.GetLastTimestamp("USDJPY"); !none.IsZero() {
		t.Errorf("expected zero time, got %v", none)
	}

	syms, err := r.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 2 || syms[0] != "EURUSD" || syms[1] != "GBPUSD" {
		t.Errorf("symbols = %v", syms)
	}
}

// ────────────────────────────────────────────────────────────
// Searches
// ────────────────────────────────────────────────────────────

func sampleReport() explorer.Report {
	cfg := config.Default()
	entries := []explorer.Entry{
		{ID: 3, Params: []explorer.Param{{Name: "st_period", Value: 10}}, Config: cfg,
			Metrics: model.RunMetrics{TotalTrades: 12, WinRate: 75, TotalPnL: 3.3, ProfitFactor: math.Inf(1)}, Score: 0.6},
		{ID: 1, Params: []explorer.Param{{Name: "st_period", Value: 7}}, Config: cfg,
			Metrics: model.RunMetrics{TotalTrades: 20, WinRate: 60, TotalPnL: 1.2, ProfitFactor: 1.5}, Score: 0.4},
	}
	best := entries[0]
	return explorer.Report{
		SearchID:         "s-1",
		OptimizationDate: base,
		Symbol:           "EURUSD",
		Candles:          1200,
		Base:             cfg,
		Result: explorer.Result{
			Seed: 42, SpaceSize: 4, Total: 4, Tested: 4, Qualified: 2, Filtered: 2,
			ByWinRate: entries, ByPnL: entries, ByScore: entries, Best: &best,
			StartedAt: base, FinishedAt: base.Add(time.Minute),
		},
	}
}

func TestSearches_SaveAndRead(t *testing.T) {
	w, r, _ := openPair(t)

	rep := sampleReport()
	if err := w.SaveSearch(rep); err != nil {
		t.Fatal(err)
	}
	// Saving again replaces rather than duplicating.
	if err := w.SaveSearch(rep); err != nil {
		t.Fatal(err)
	}

	list, err := r.Searches(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 search, got %d", len(list))
	}
	s := list[0]
	if s.ID != "s-1" || s.Seed != 42 || s.Qualified != 2 || s.BestScore == nil || *s.BestScore != 0.6 {
		t.Errorf("summary = %+v", s)
	}

	ranking, err := r.Ranking("s-1", RankingScore)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranking) != 2 || ranking[0].ID != 3 || ranking[1].ID != 1 {
		t.Fatalf("ranking = %+v", ranking)
	}
	if !ranking[0].Metrics.InfiniteProfitFactor() || ranking[1].Metrics.ProfitFactor != 1.5 {
		t.Errorf("profit factors = %v, %v", ranking[0].Metrics.ProfitFactor, ranking[1].Metrics.ProfitFactor)
	}
	if ranking[0].Config.STPeriod != 10 || ranking[0].Params[0].Name != "st_period" {
		t.Errorf("entry = %+v", ranking[0])
	}

	back, err := r.ReadReport("s-1")
	if err != nil {
		t.Fatal(err)
	}
	if back.Candles != 1200 || back.Best == nil || back.Best.ID != 3 {
		t.Errorf("report = %+v", back)
	}
	if _, err := r.ReadReport("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}
