// cmd/backtest runs one strategy configuration over a candle series and
// prints the trade summary. It can also import a CSV series into SQLite.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/EURUSD_M1.csv --profile=three-ema
//	go run ./cmd/backtest --db=data/backtest.db --symbol=EURUSD --from=2024-01-01
//	go run ./cmd/backtest import --csv=data/EURUSD_M1.csv --symbol=EURUSD
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/backtest"
	"github.com/davidalejandrochentes/backtesting-trading/internal/execution"
	"github.com/davidalejandrochentes/backtesting-trading/internal/logger"
	"github.com/davidalejandrochentes/backtesting-trading/internal/marketdata/feed"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
	sqlitestore "github.com/davidalejandrochentes/backtesting-trading/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	app := &cli.App{
		Name:  "backtest",
		Usage: "simulate one binary-options strategy configuration",
		Flags: append(sourceFlags(),
			&cli.StringFlag{Name: "profile", Value: "default", Usage: "base strategy: default | three-ema"},
			&cli.StringFlag{Name: "strategy", Usage: "YAML file of strategy overrides"},
			&cli.StringSliceFlag{Name: "set", Usage: "override one parameter, name=value (repeatable)"},
			&cli.BoolFlag{Name: "json", Usage: "print the full result as JSON"},
			&cli.BoolFlag{Name: "journal", Usage: "store settled trades in the SQLite trade journal"},
		),
		Action: runBacktest,
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "load a CSV candle file into SQLite",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "csv", Required: true, Usage: "candle CSV file"},
					&cli.StringFlag{Name: "db", Usage: "SQLite database (default SQLITE_PATH)"},
					&cli.StringFlag{Name: "symbol", Usage: "series name (default SYMBOL)"},
				},
				Action: importCSV,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
}

func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "csv", Usage: "candle CSV file"},
		&cli.StringFlag{Name: "db", Usage: "SQLite database (default SQLITE_PATH)"},
		&cli.StringFlag{Name: "symbol", Usage: "series name in SQLite (default SYMBOL)"},
		&cli.StringFlag{Name: "from", Usage: "first candle time, inclusive"},
		&cli.StringFlag{Name: "to", Usage: "last candle time, inclusive"},
		&cli.StringFlag{Name: "env", Usage: "env file to load instead of .env"},
	}
}

func loadConfig(c *cli.Context) *config.Config {
	var cfg *config.Config
	if path := c.String("env"); path != "" {
		cfg = config.Load(path)
	} else {
		cfg = config.Load()
	}
	if v := c.String("db"); v != "" {
		cfg.SQLitePath = v
	}
	if v := c.String("symbol"); v != "" {
		cfg.Symbol = v
	}
	return cfg
}

func runBacktest(c *cli.Context) error {
	cfg := loadConfig(c)
	logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))

	strat, err := buildStrategy(c, cfg.Strategy)
	if err != nil {
		return err
	}

	candles, err := loadCandles(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	slog.Info("backtest started", append(logger.LogWithRun(ctx),
		"candles", len(candles), "ema_periods", strat.EMAPeriods)...)

	res, err := backtest.Run(ctx, strat, candles)
	if err != nil {
		return err
	}

	if c.Bool("journal") {
		j, err := execution.NewJournal(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer j.Close()
		if err := j.SaveTrades(runID, 0, res.Trades); err != nil {
			return err
		}
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printSummary(runID, res)
	return nil
}

// buildStrategy layers profile, then YAML file, then --set pairs.
func buildStrategy(c *cli.Context, envBase config.Strategy) (config.Strategy, error) {
	strat := envBase
	if c.IsSet("profile") {
		p, err := config.Profile(c.String("profile"))
		if err != nil {
			return strat, err
		}
		strat = p
	}
	if path := c.String("strategy"); path != "" {
		s, err := config.LoadOverrides(strat, path)
		if err != nil {
			return strat, err
		}
		strat = s
	}
	if pairs := c.StringSlice("set"); len(pairs) > 0 {
		doc := strings.Builder{}
		for _, kv := range pairs {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				return strat, fmt.Errorf("--set %q: expected name=value", kv)
			}
			fmt.Fprintf(&doc, "%s: %s\n", strings.TrimSpace(name), strings.TrimSpace(value))
		}
		s, err := config.ApplyOverrides(strat, []byte(doc.String()))
		if err != nil {
			return strat, err
		}
		strat = s
	}
	return strat, strat.Validate()
}

func loadCandles(c *cli.Context, cfg *config.Config) ([]model.Candle, error) {
	from, err := parseBound(c.String("from"))
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	to, err := parseBound(c.String("to"))
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}

	var src model.CandleReader
	if path := c.String("csv"); path != "" {
		src = feed.CSVSource{Path: path}
	} else {
		r, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		src = r
	}
	defer src.Close()

	candles, err := src.ReadCandles(cfg.Symbol, from, to)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, errors.New("no candles in the selected range")
	}
	return candles, nil
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return feed.ParseTime(s)
}

func importCSV(c *cli.Context) error {
	cfg := loadConfig(c)
	candles, err := feed.LoadCSV(c.String("csv"))
	if err != nil {
		return err
	}
	if err := feed.Validate(candles); err != nil {
		return err
	}

	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return err
	}
	defer w.Close()

	last, err := w.GetLastTimestamp(cfg.Symbol)
	if err != nil {
		return err
	}
	if !last.IsZero() {
		log.Printf("[import] %s already stored up to %s; appending newer candles", cfg.Symbol, last.Format(time.RFC3339))
		candles = feed.Between(candles, last.Add(time.Nanosecond), time.Time{})
	}

	n, err := w.ImportCandles(cfg.Symbol, candles)
	if err != nil {
		return err
	}
	log.Printf("[import] %d candles stored for %s in %s", n, cfg.Symbol, cfg.SQLitePath)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func printSummary(runID string, res backtest.Result) {
	m := res.Metrics
	pf := fmt.Sprintf("%.2f", m.ProfitFactor)
	if math.IsInf(m.ProfitFactor, 1) {
		pf = "inf"
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Run:            %-19s ║\n", shortID(runID))
	fmt.Printf("║  Candles:        %-19d ║\n", res.Candles)
	fmt.Printf("║  Trades:         %-19d ║\n", m.TotalTrades)
	fmt.Printf("║  Wins / losses:  %-19s ║\n", fmt.Sprintf("%d / %d", m.WinningTrades, m.LosingTrades))
	fmt.Printf("║  Win rate:       %-19s ║\n", fmt.Sprintf("%.2f%%", m.WinRate))
	fmt.Printf("║  Total P&L:      %-19.2f ║\n", m.TotalPnL)
	fmt.Printf("║  Avg P&L/trade:  %-19.4f ║\n", m.AvgPnLPerTrade)
	fmt.Printf("║  Profit factor:  %-19s ║\n", pf)
	fmt.Printf("║  Max drawdown:   %-19.2f ║\n", res.Equity.MaxDrawdown)
	fmt.Printf("║  Unsettled:      %-19d ║\n", m.Unsettled)
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Signals:            %-15d ║\n", res.Stats.Signals)
	fmt.Printf("║  Opened:             %-15d ║\n", res.Stats.Opened)
	fmt.Printf("║  Expiry outside hrs: %-15d ║\n", res.Stats.ExpiryOutside)
	fmt.Printf("║  Skipped (daily cap):%-15d ║\n", res.Stats.RejectedDailyCap)
	fmt.Printf("║  Skipped (min gap):  %-15d ║\n", res.Stats.RejectedGap)
	fmt.Println("╚══════════════════════════════════════╝")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
