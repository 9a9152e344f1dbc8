// cmd/search explores a parameter space: every sampled combination is
// simulated over the same candle series and the best ones are ranked,
// stored in SQLite, written as a JSON report and announced.
//
// Usage:
//
//	go run ./cmd/search --csv=data/EURUSD_M1.csv --max=200 --seed=42
//	go run ./cmd/search --db=data/backtest.db --ranges=ranges.yaml --top-k=10
//	go run ./cmd/search show <search-id>
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/backtest"
	"github.com/davidalejandrochentes/backtesting-trading/internal/execution"
	"github.com/davidalejandrochentes/backtesting-trading/internal/explorer"
	"github.com/davidalejandrochentes/backtesting-trading/internal/logger"
	"github.com/davidalejandrochentes/backtesting-trading/internal/marketdata/feed"
	"github.com/davidalejandrochentes/backtesting-trading/internal/metrics"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
	"github.com/davidalejandrochentes/backtesting-trading/internal/notification"
	redisstore "github.com/davidalejandrochentes/backtesting-trading/internal/store/redis"
	sqlitestore "github.com/davidalejandrochentes/backtesting-trading/internal/store/sqlite"
)

// progressEvery is how many outcomes pass between Redis progress updates.
const progressEvery = 25

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	app := &cli.App{
		Name:  "search",
		Usage: "rank strategy parameter combinations by win rate, P&L and score",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "csv", Usage: "candle CSV file"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database (default SQLITE_PATH)"},
			&cli.StringFlag{Name: "symbol", Usage: "series name (default SYMBOL)"},
			&cli.StringFlag{Name: "from", Usage: "first candle time, inclusive"},
			&cli.StringFlag{Name: "to", Usage: "last candle time, inclusive"},
			&cli.StringFlag{Name: "env", Usage: "env file to load instead of .env"},
			&cli.StringFlag{Name: "profile", Usage: "base strategy: default | three-ema (default from env)"},
			&cli.StringFlag{Name: "strategy", Usage: "YAML file of base strategy overrides"},
			&cli.StringFlag{Name: "ranges", Usage: "YAML parameter ranges (default built-in set)"},
			&cli.Int64Flag{Name: "seed", Usage: "sampling seed (default wall clock)"},
			&cli.IntFlag{Name: "workers", Usage: "parallel simulations (default WORKERS)"},
			&cli.IntFlag{Name: "top-k", Usage: "entries per ranking (default TOP_K)"},
			&cli.IntFlag{Name: "max", Usage: "max combinations; larger spaces are sampled, 0 enumerates all (default MAX_COMBINATIONS)"},
			&cli.IntFlag{Name: "min-trades", Usage: "minimum trades to qualify (default MIN_TRADES)"},
			&cli.Float64Flag{Name: "min-win-rate", Usage: "minimum win rate percent to qualify (default MIN_WIN_RATE)"},
			&cli.StringFlag{Name: "out", Usage: "report path (default RESULTS_DIR/search_<id>.json)"},
		},
		Action: runSearch,
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "print a stored search ranking",
				ArgsUsage: "<search-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "SQLite database (default SQLITE_PATH)"},
					&cli.StringFlag{Name: "by", Value: sqlitestore.RankingScore, Usage: "win_rate | total_pnl | score"},
				},
				Action: showSearch,
			},
			{
				Name:  "list",
				Usage: "list recent searches",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "SQLite database (default SQLITE_PATH)"},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: listSearches,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("[search] %v", err)
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
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("top-k") {
		cfg.TopK = c.Int("top-k")
	}
	if c.IsSet("max") {
		cfg.MaxCombinations = c.Int("max")
	}
	if c.IsSet("min-trades") {
		cfg.MinTrades = c.Int("min-trades")
	}
	if c.IsSet("min-win-rate") {
		cfg.MinWinRate = c.Float64("min-win-rate")
	}
	return cfg
}

func runSearch(c *cli.Context) error {
	cfg := loadConfig(c)
	logger.Init("search", logger.ParseLevel(cfg.LogLevel))

	opts, err := buildOptions(c, cfg)
	if err != nil {
		return err
	}

	// ── Data ──
	candles, err := loadCandles(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[search] interrupt received, finishing in-flight runs")
		cancel()
	}()

	searchID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, searchID)

	// ── Metrics + health ──
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.SearchesTotal.Inc()
	m.CandlesLoaded.Set(float64(len(candles)))

	status := metrics.NewSearchStatus(searchID, expectedTotal(opts))
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, status, reg)
		srv.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			srv.Stop(stopCtx)
		}()
	}

	// ── Storage ──
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{
		DBPath: cfg.SQLitePath,
		OnCommit: func(d time.Duration) {
			m.SQLiteCommitDur.Observe(d.Seconds())
		},
	})
	if err != nil {
		return err
	}
	defer writer.Close()

	// ── Redis (optional) ──
	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		pub, err = redisstore.New(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			OnWrite: func(d time.Duration) {
				m.RedisWriteDur.Observe(d.Seconds())
			},
		})
		if err != nil {
			log.Printf("[search] redis disabled: %v", err)
			pub = nil
		} else {
			defer pub.Close()
			status.SetRedisConnected(true)
			pub.Breaker().OnStateChange = func(from, to redisstore.State) {
				m.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					m.RedisCircuitBreakerTrips.Inc()
				}
				log.Printf("[search] redis circuit breaker %s -> %s", from, to)
			}
		}
	}
	if pub != nil {
		status.StartLivenessChecker(ctx, pub.Client(), writer.DB(), 15*time.Second)
		if err := pub.PublishStarted(ctx, searchID, status.Total); err != nil {
			log.Printf("[search] redis publish: %v", err)
		}
	} else {
		status.StartLivenessChecker(ctx, nil, writer.DB(), 15*time.Second)
	}

	// ── Search ──
	opts.OnOutcome = func(o explorer.Outcome) {
		m.ObserveOutcome(o)
		newBest := status.Record(o)
		if newBest {
			m.BestScore.Set(o.Metrics.Score())
		}
		if pub == nil {
			return
		}
		if newBest {
			best := explorer.Entry{
				ID:      o.Combination.ID,
				Params:  o.Combination.Params,
				Config:  o.Config,
				Metrics: o.Metrics,
				Score:   o.Metrics.Score(),
			}
			if err := pub.PublishBest(ctx, searchID, best); err != nil {
				slog.Debug("publish best failed", append(logger.LogWithRun(ctx), "error", err)...)
			}
		}
		if done, total := status.Progress(); done%progressEvery == 0 || done == total {
			publishProgress(ctx, pub, status)
		}
	}

	res, err := explorer.Explore(ctx, opts, func(ctx context.Context, s config.Strategy) (model.RunMetrics, error) {
		return backtest.Metrics(ctx, s, candles)
	})
	cancelled := errors.Is(err, context.Canceled)
	if err != nil && !cancelled {
		return err
	}
	status.SetFinished()

	// Publishing below must outlive an interrupted search.
	outCtx := logger.WithRunID(context.Background(), searchID)

	rep := explorer.NewReport(searchID, cfg.Symbol, len(candles), opts, res)
	if err := persist(outCtx, c, cfg, writer, rep, candles); err != nil {
		return err
	}
	if pub != nil {
		publishProgress(outCtx, pub, status)
		if err := pub.PublishFinished(outCtx, searchID, res); err != nil {
			log.Printf("[search] redis publish: %v", err)
		}
	}

	if err := notifier(cfg).Send(outCtx, notification.SearchAlert(rep)); err != nil {
		log.Printf("[search] notify: %v", err)
	}

	printSummary(rep)
	if cancelled {
		return errors.New("search interrupted; partial results saved")
	}
	return nil
}

func buildOptions(c *cli.Context, cfg *config.Config) (explorer.Options, error) {
	base := cfg.Strategy
	if name := c.String("profile"); name != "" {
		p, err := config.Profile(name)
		if err != nil {
			return explorer.Options{}, err
		}
		base = p
	}
	if path := c.String("strategy"); path != "" {
		s, err := config.LoadOverrides(base, path)
		if err != nil {
			return explorer.Options{}, err
		}
		base = s
	}

	space := config.DefaultParamSpace()
	if path := c.String("ranges"); path != "" {
		ps, err := config.LoadParamSpace(path)
		if err != nil {
			return explorer.Options{}, err
		}
		space = ps
	}

	opts := explorer.Options{
		Base:            base,
		Space:           space,
		MaxCombinations: cfg.MaxCombinations,
		MinTrades:       cfg.MinTrades,
		MinWinRate:      cfg.MinWinRate,
		TopK:            cfg.TopK,
		Workers:         cfg.Workers,
	}
	if c.IsSet("seed") {
		seed := c.Int64("seed")
		opts.Seed = &seed
	}
	return opts, nil
}

func expectedTotal(opts explorer.Options) int {
	n := opts.Space.Size()
	if opts.MaxCombinations > 0 && n > opts.MaxCombinations {
		return opts.MaxCombinations
	}
	return n
}

func loadCandles(c *cli.Context, cfg *config.Config) ([]model.Candle, error) {
	var from, to time.Time
	var err error
	if s := c.String("from"); s != "" {
		if from, err = feed.ParseTime(s); err != nil {
			return nil, fmt.Errorf("--from: %w", err)
		}
	}
	if s := c.String("to"); s != "" {
		if to, err = feed.ParseTime(s); err != nil {
			return nil, fmt.Errorf("--to: %w", err)
		}
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
	log.Printf("[search] %d candles loaded (%s .. %s)", len(candles),
		candles[0].TS.Format(time.RFC3339), candles[len(candles)-1].TS.Format(time.RFC3339))
	return candles, nil
}

// persist stores the search in SQLite, writes the JSON report and journals
// the trades of the best combination.
func persist(ctx context.Context, c *cli.Context, cfg *config.Config, w *sqlitestore.Writer, rep explorer.Report, candles []model.Candle) error {
	if err := w.SaveSearch(rep); err != nil {
		return err
	}

	out := c.String("out")
	if out == "" {
		out = filepath.Join(cfg.ResultsDir, "search_"+rep.SearchID+".json")
	}
	if err := rep.WriteJSON(out); err != nil {
		return err
	}
	log.Printf("[search] report written to %s", out)

	if rep.Best == nil {
		return nil
	}
	best, err := backtest.Run(ctx, rep.Best.Config, candles)
	if err != nil {
		return fmt.Errorf("replay best: %w", err)
	}
	j, err := execution.NewJournal(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer j.Close()
	return j.SaveTrades(rep.SearchID, rep.Best.ID, best.Trades)
}

func publishProgress(ctx context.Context, pub *redisstore.Publisher, status *metrics.SearchStatus) {
	done, total := status.Progress()
	prog := redisstore.Progress{Done: done, Total: total, Qualified: status.Qualified, Errors: status.Errors}
	if status.HasBest {
		best := status.BestScore
		prog.BestScore = &best
	}
	if err := pub.PublishProgress(ctx, status.SearchID, prog); err != nil {
		slog.Debug("publish progress failed", append(logger.LogWithRun(ctx), "error", err)...)
	}
}

func notifier(cfg *config.Config) notification.Notifier {
	multi := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		multi = append(multi, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		multi = append(multi, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return multi
}

func showSearch(c *cli.Context) error {
	cfg := loadConfig(c)
	id := c.Args().First()
	if id == "" {
		return errors.New("usage: search show <search-id>")
	}
	r, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer r.Close()

	rep, err := r.ReadReport(id)
	if err != nil {
		return err
	}
	entries, err := r.Ranking(id, c.String("by"))
	if err != nil {
		return err
	}
	rep.ByScore = entries
	printSummary(rep)
	return nil
}

func listSearches(c *cli.Context) error {
	cfg := loadConfig(c)
	r, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer r.Close()

	list, err := r.Searches(c.Int("limit"))
	if err != nil {
		return err
	}
	for _, s := range list {
		fmt.Printf("%s  %-8s  tested=%-6d qualified=%-6d %s\n",
			s.ID, s.Symbol, s.Tested, s.Qualified, s.FinishedAt.Format(time.RFC3339))
	}
	return nil
}

func printSummary(rep explorer.Report) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     SEARCH COMPLETE                          ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Search:      %-46s ║\n", rep.SearchID)
	fmt.Printf("║  Symbol:      %-46s ║\n", rep.Symbol)
	fmt.Printf("║  Candles:     %-46d ║\n", rep.Candles)
	fmt.Printf("║  Space:       %-46s ║\n", fmt.Sprintf("%d (sampled=%v, seed=%d)", rep.SpaceSize, rep.Sampled, rep.Seed))
	fmt.Printf("║  Tested:      %-46s ║\n", fmt.Sprintf("%d of %d", rep.Tested, rep.Total))
	fmt.Printf("║  Qualified:   %-46d ║\n", rep.Qualified)
	fmt.Printf("║  Errors:      %-46d ║\n", rep.Errors)
	fmt.Printf("║  Cancelled:   %-46d ║\n", rep.Cancelled)
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	if rep.NoQualifying() {
		fmt.Println("║  No combination met the filters                              ║")
	}
	for i, e := range rep.ByScore {
		fmt.Printf("║  #%-2d id=%-6d score=%-7.4f wr=%-6.2f pnl=%-8.2f pf=%-6s ║\n",
			i+1, e.ID, e.Score, e.Metrics.WinRate, e.Metrics.TotalPnL, profitFactor(e.Metrics))
	}
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
}

func profitFactor(m model.RunMetrics) string {
	if math.IsInf(m.ProfitFactor, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", m.ProfitFactor)
}
