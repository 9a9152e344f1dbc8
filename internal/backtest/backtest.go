// Package backtest runs one strategy configuration over a candle series:
// indicators, signal rules, trade lifecycle and metrics in a single pass.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/execution"
	"github.com/davidalejandrochentes/backtesting-trading/internal/indicator"
	"github.com/davidalejandrochentes/backtesting-trading/internal/logger"
	"github.com/davidalejandrochentes/backtesting-trading/internal/marketdata/feed"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
	"github.com/davidalejandrochentes/backtesting-trading/internal/portfolio"
	"github.com/davidalejandrochentes/backtesting-trading/internal/strategy"
)

// ctxCheckEvery is how many candles pass between cancellation checks.
const ctxCheckEvery = 1024

// Result is the immutable outcome of one run.
type Result struct {
	Metrics model.RunMetrics       `json:"metrics"`
	Trades  []model.SettledTrade   `json:"trades"`
	Pending []model.PendingTrade   `json:"pending,omitempty"` // open at stream end
	Stats   execution.Stats        `json:"stats"`
	Equity  portfolio.EquityStatus `json:"equity"`
	Candles int                    `json:"candles"`
}

// Run simulates cfg over candles, which must be in strictly ascending
// timestamp order. cfg is validated before the first candle.
func Run(ctx context.Context, cfg config.Strategy, candles []model.Candle) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	return run(ctx, cfg, candles, strategy.RulesFrom(cfg))
}

// Metrics runs cfg over candles and returns only the metrics.
func Metrics(ctx context.Context, cfg config.Strategy, candles []model.Candle) (model.RunMetrics, error) {
	res, err := Run(ctx, cfg, candles)
	if err != nil {
		return model.RunMetrics{}, err
	}
	return res.Metrics, nil
}

func run(ctx context.Context, cfg config.Strategy, candles []model.Candle, eval strategy.Evaluator) (Result, error) {
	set := indicator.NewSet(indicator.SetConfig{
		EMAPeriods:   cfg.EMAPeriods,
		STPeriod:     cfg.STPeriod,
		STMultiplier: cfg.STMultiplier,
		ADXPeriod:    cfg.ADXPeriod,
		RSIPeriod:    cfg.RSIPeriod,
	})
	mgr := execution.NewManager(cfg, eval)
	pnl := portfolio.NewPnLTracker()
	equity := portfolio.NewEquityCurve()

	for i, c := range candles {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		if i > 0 && !c.TS.After(candles[i-1].TS) {
			return Result{}, fmt.Errorf("candle %d at %s: %w", i, c.TS.Format("2006-01-02 15:04:05"), feed.ErrUnsorted)
		}

		v := set.Update(c)
		settled, _ := mgr.OnCandle(c, v)
		for _, t := range settled {
			pnl.RecordTrade(t)
			equity.RecordTrade(t)
		}
	}

	pending := mgr.Pending()
	res := Result{
		Metrics: pnl.Metrics(len(pending)),
		Trades:  pnl.GetTrades(),
		Pending: pending,
		Stats:   mgr.Stats(),
		Equity:  equity.Status(),
		Candles: len(candles),
	}
	slog.Debug("backtest run complete",
		append(logger.LogWithRun(ctx),
			slog.Int("candles", res.Candles),
			slog.Int("trades", res.Metrics.TotalTrades),
			slog.Int("unsettled", res.Metrics.Unsettled),
			slog.Float64("pnl", res.Metrics.TotalPnL),
		)...,
	)
	return res, nil
}
