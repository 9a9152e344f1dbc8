package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/explorer"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

// Ranking names stored in search_results.ranking.
const (
	RankingWinRate = "win_rate"
	RankingPnL     = "total_pnl"
	RankingScore   = "score"
)

// Reader provides read-only access to stored candles and searches.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns symbol's candles with from <= ts < to in ascending
// order. A zero bound is open.
func (r *Reader) ReadCandles(symbol string, from, to time.Time) ([]model.Candle, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.Unix()
	}
	if !to.IsZero() {
		hi = to.Unix()
	}
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		var vol sql.NullFloat64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		c.Volume = vol.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Symbols lists the symbols with stored candles.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM candles ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SearchSummary is one row of the searches table.
type SearchSummary struct {
	ID         string    `json:"id"`
	FinishedAt time.Time `json:"finished_at"`
	Symbol     string    `json:"symbol"`
	Candles    int       `json:"candles"`
	Seed       int64     `json:"seed"`
	Tested     int       `json:"tested"`
	Qualified  int       `json:"qualified"`
	Errors     int       `json:"errors"`
	BestScore  *float64  `json:"best_score"`
}

// Searches returns the most recent searches, newest first.
func (r *Reader) Searches(limit int) ([]SearchSummary, error) {
	rows, err := r.db.Query(`
		SELECT id, finished_at, symbol, candles, seed, tested, qualified, errors, best_score
		FROM searches
		ORDER BY finished_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query searches: %w", err)
	}
	defer rows.Close()

	var out []SearchSummary
	for rows.Next() {
		var s SearchSummary
		var finished int64
		var symbol sql.NullString
		var best sql.NullFloat64
		if err := rows.Scan(&s.ID, &finished, &symbol, &s.Candles, &s.Seed, &s.Tested, &s.Qualified, &s.Errors, &best); err != nil {
			return nil, fmt.Errorf("sqlite scan searches: %w", err)
		}
		s.FinishedAt = time.Unix(finished, 0).UTC()
		s.Symbol = symbol.String
		if best.Valid {
			v := best.Float64
			s.BestScore = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadReport loads the full JSON report of a search.
// Returns sql.ErrNoRows (wrapped) when the search does not exist.
func (r *Reader) ReadReport(searchID string) (explorer.Report, error) {
	var data string
	var rep explorer.Report
	err := r.db.QueryRow(`SELECT report FROM searches WHERE id = ?`, searchID).Scan(&data)
	if err != nil {
		return rep, fmt.Errorf("sqlite read report %s: %w", searchID, err)
	}
	if err := json.Unmarshal([]byte(data), &rep); err != nil {
		return rep, fmt.Errorf("unmarshal report: %w", err)
	}
	return rep, nil
}

// Ranking returns one stored ranking of a search in rank order.
func (r *Reader) Ranking(searchID, ranking string) ([]explorer.Entry, error) {
	rows, err := r.db.Query(`
		SELECT combination_id, score, win_rate, total_pnl, profit_factor, profit_factor_infinite,
		       total_trades, params, config
		FROM search_results
		WHERE search_id = ? AND ranking = ?
		ORDER BY rank ASC
	`, searchID, ranking)
	if err != nil {
		return nil, fmt.Errorf("sqlite query ranking: %w", err)
	}
	defer rows.Close()

	var out []explorer.Entry
	for rows.Next() {
		var e explorer.Entry
		var pf sql.NullFloat64
		var inf bool
		var params, cfg string
		if err := rows.Scan(&e.ID, &e.Score, &e.Metrics.WinRate, &e.Metrics.TotalPnL, &pf, &inf,
			&e.Metrics.TotalTrades, &params, &cfg); err != nil {
			return nil, fmt.Errorf("sqlite scan ranking: %w", err)
		}
		switch {
		case inf:
			e.Metrics.ProfitFactor = math.Inf(1)
		case pf.Valid:
			e.Metrics.ProfitFactor = pf.Float64
		}
		if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
		var c config.Strategy
		if err := json.Unmarshal([]byte(cfg), &c); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
		e.Config = c
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

var (
	_ model.CandleReader = (*Reader)(nil)
	_ model.CandleWriter = (*Writer)(nil)
)
