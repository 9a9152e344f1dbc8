// Package explorer searches a strategy parameter space: it generates
// combinations, evaluates them on a worker pool and keeps the best few by
// win rate, total P&L and composite score.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/logger"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

// ErrPanic wraps a panic recovered from a run.
var ErrPanic = errors.New("run panicked")

// RunFunc evaluates one strategy configuration.
type RunFunc func(ctx context.Context, cfg config.Strategy) (model.RunMetrics, error)

// Options configures one search.
type Options struct {
	Base            config.Strategy
	Space           config.ParamSpace
	MaxCombinations int     // sample when the space is larger; <= 0 means all, up to MaxGenerated
	MinTrades       int     // runs with fewer trades are filtered out
	MinWinRate      float64 // percent; 0 disables
	TopK            int
	Workers         int    // <= 0 means GOMAXPROCS
	Seed            *int64 // nil draws a wall-clock seed

	// OnOutcome, when set, is called from the aggregating goroutine after
	// every evaluated combination.
	OnOutcome func(Outcome)
}

// Status classifies the fate of one combination.
type Status string

const (
	StatusQualified Status = "qualified"
	StatusFiltered  Status = "filtered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outcome is the evaluation of one combination.
type Outcome struct {
	Combination Combination
	Config      config.Strategy
	Metrics     model.RunMetrics
	Status      Status
	Err         error
	Duration    time.Duration
}

// Entry is a qualifying combination with its metrics.
type Entry struct {
	ID      int              `json:"id"`
	Params  []Param          `json:"params"`
	Config  config.Strategy  `json:"config"`
	Metrics model.RunMetrics `json:"metrics"`
	Score   float64          `json:"score"`
}

// Result is the outcome of a search.
type Result struct {
	Seed       int64     `json:"seed"`
	SpaceSize  int       `json:"space_size"`
	Sampled    bool      `json:"sampled"`
	Total      int       `json:"total_combinations"` // generated
	Tested     int       `json:"total_tested"`       // evaluated without error
	Qualified  int       `json:"qualified"`
	Filtered   int       `json:"filtered"`
	Errors     int       `json:"errors"`
	Cancelled  int       `json:"cancelled"`
	ByWinRate  []Entry   `json:"top_by_win_rate"`
	ByPnL      []Entry   `json:"top_by_pnl"`
	ByScore    []Entry   `json:"top_by_score"`
	Best       *Entry    `json:"best,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NoQualifying reports whether no combination passed the filters.
func (r Result) NoQualifying() bool { return r.Qualified == 0 }

// Explore runs the search. It returns an error without evaluating anything
// when the options are unusable. On cancellation it stops dispatching and
// returns the partial result together with ctx.Err().
func Explore(ctx context.Context, opts Options, run RunFunc) (Result, error) {
	if err := opts.Base.Validate(); err != nil {
		return Result{}, fmt.Errorf("base config: %w", err)
	}
	if err := opts.Space.Validate(opts.Base); err != nil {
		return Result{}, fmt.Errorf("parameter space: %w", err)
	}
	if opts.TopK <= 0 {
		return Result{}, fmt.Errorf("top-k must be > 0, got %d", opts.TopK)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	seed := time.Now().UnixNano()
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	combos, sampled, err := Generate(opts.Space, opts.MaxCombinations, rand.New(rand.NewSource(seed)))
	if err != nil {
		return Result{}, fmt.Errorf("parameter space: %w", err)
	}

	res := Result{
		Seed:      seed,
		SpaceSize: opts.Space.Size(),
		Sampled:   sampled,
		Total:     len(combos),
		StartedAt: time.Now().UTC(),
	}
	slog.Info("search started", append(logger.LogWithRun(ctx),
		slog.Int("space_size", res.SpaceSize),
		slog.Int("combinations", res.Total),
		slog.Bool("sampled", sampled),
		slog.Int64("seed", seed),
		slog.Int("workers", workers),
	)...)

	jobs := make(chan Combination)
	outcomes := make(chan Outcome, workers)

	go func() {
		defer close(jobs)
		for _, c := range combos {
			select {
			case jobs <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				outcomes <- evaluate(ctx, opts, c, run)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	byWR := NewTopK(opts.TopK, ByWinRate)
	byPnL := NewTopK(opts.TopK, ByPnL)
	byScore := NewTopK(opts.TopK, ByScore)

	for o := range outcomes {
		switch o.Status {
		case StatusQualified:
			res.Tested++
			res.Qualified++
			e := Entry{
				ID:      o.Combination.ID,
				Params:  o.Combination.Params,
				Config:  o.Config,
				Metrics: o.Metrics,
				Score:   o.Metrics.Score(),
			}
			byWR.Offer(e)
			byPnL.Offer(e)
			byScore.Offer(e)
		case StatusFiltered:
			res.Tested++
			res.Filtered++
		case StatusFailed:
			res.Errors++
			slog.Debug("combination failed", append(logger.LogWithRun(ctx),
				slog.Int("id", o.Combination.ID), slog.String("error", o.Err.Error()))...)
		case StatusCancelled:
			res.Cancelled++
		}
		if opts.OnOutcome != nil {
			opts.OnOutcome(o)
		}
	}
	res.Cancelled += res.Total - (res.Tested + res.Errors + res.Cancelled)

	res.ByWinRate = byWR.Sorted()
	res.ByPnL = byPnL.Sorted()
	res.ByScore = byScore.Sorted()
	if len(res.ByScore) > 0 {
		best := res.ByScore[0]
		res.Best = &best
	}
	res.FinishedAt = time.Now().UTC()

	slog.Info("search finished", append(logger.LogWithRun(ctx),
		slog.Int("tested", res.Tested),
		slog.Int("qualified", res.Qualified),
		slog.Int("errors", res.Errors),
		slog.Int("cancelled", res.Cancelled),
		slog.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)...)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// evaluate runs one combination, converting panics into errors.
func evaluate(ctx context.Context, opts Options, c Combination, run RunFunc) (o Outcome) {
	o.Combination = c
	if ctx.Err() != nil {
		o.Status = StatusCancelled
		return o
	}

	start := time.Now()
	defer func() {
		o.Duration = time.Since(start)
		if r := recover(); r != nil {
			o.Status = StatusFailed
			o.Err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	cfg, err := opts.Space.Apply(opts.Base, c.Digits)
	if err != nil {
		o.Status, o.Err = StatusFailed, err
		return o
	}
	o.Config = cfg

	m, err := run(ctx, cfg)
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		o.Status = StatusCancelled
	case err != nil:
		o.Status, o.Err = StatusFailed, err
	case m.TotalTrades < opts.MinTrades:
		o.Status = StatusFiltered
	case opts.MinWinRate > 0 && m.WinRate < opts.MinWinRate:
		o.Status = StatusFiltered
	default:
		o.Status = StatusQualified
	}
	o.Metrics = m
	return o
}
