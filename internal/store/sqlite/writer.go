// Package sqlite persists candle series and search results in SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davidalejandrochentes/backtesting-trading/internal/explorer"
	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

const defaultBatchSize = 500

// dsnOptions are appended to every database path.
const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/backtest.db"

	// OnCommit, when set, receives the duration of every committed transaction.
	OnCommit func(time.Duration)
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db       *sql.DB
	onCommit func(time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, onCommit: cfg.OnCommit}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS searches (
			id          TEXT    PRIMARY KEY,
			finished_at INTEGER NOT NULL,
			symbol      TEXT,
			candles     INTEGER NOT NULL,
			seed        INTEGER NOT NULL,
			space_size  INTEGER NOT NULL,
			sampled     INTEGER NOT NULL,
			total       INTEGER NOT NULL,
			tested      INTEGER NOT NULL,
			qualified   INTEGER NOT NULL,
			filtered    INTEGER NOT NULL,
			errors      INTEGER NOT NULL,
			cancelled   INTEGER NOT NULL,
			best_score  REAL,
			report      TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS search_results (
			search_id              TEXT    NOT NULL,
			ranking                TEXT    NOT NULL,
			rank                   INTEGER NOT NULL,
			combination_id         INTEGER NOT NULL,
			score                  REAL    NOT NULL,
			win_rate               REAL    NOT NULL,
			total_pnl              REAL    NOT NULL,
			profit_factor          REAL,
			profit_factor_infinite INTEGER NOT NULL DEFAULT 0,
			total_trades           INTEGER NOT NULL,
			params                 TEXT    NOT NULL,
			config                 TEXT    NOT NULL,
			PRIMARY KEY (search_id, ranking, rank)
		);
	`)
	return err
}

// ImportCandles upserts candles for symbol in batched transactions and
// returns the number written.
func (w *Writer) ImportCandles(symbol string, candles []model.Candle) (int, error) {
	n := 0
	for start := 0; start < len(candles); start += defaultBatchSize {
		end := min(start+defaultBatchSize, len(candles))
		if err := w.insertBatch(symbol, candles[start:end]); err != nil {
			return n, fmt.Errorf("sqlite import candles: %w", err)
		}
		n += end - start
	}
	log.Printf("[sqlite] imported %d candles for %s", n, symbol)
	return n, nil
}

// insertBatch inserts a batch of candles in a single transaction.
func (w *Writer) insertBatch(symbol string, candles []model.Candle) error {
	start := time.Now()
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(symbol, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	w.observe(start)
	return nil
}

// GetLastTimestamp returns the last stored candle time for symbol, or the
// zero time when none exist.
func (w *Writer) GetLastTimestamp(symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(`SELECT MAX(ts) FROM candles WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// SaveSearch stores the summary, the full JSON report and every ranking row
// of a finished search in one transaction.
func (w *Writer) SaveSearch(rep explorer.Report) error {
	start := time.Now()
	report, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	var best sql.NullFloat64
	if rep.Best != nil {
		best = sql.NullFloat64{Float64: rep.Best.Score, Valid: true}
	}

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO searches
			(id, finished_at, symbol, candles, seed, space_size, sampled, total, tested,
			 qualified, filtered, errors, cancelled, best_score, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rep.SearchID, rep.FinishedAt.Unix(), rep.Symbol, rep.Candles, rep.Seed, rep.SpaceSize,
		rep.Sampled, rep.Total, rep.Tested, rep.Qualified, rep.Filtered, rep.Errors, rep.Cancelled,
		best, string(report))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite insert search: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM search_results WHERE search_id = ?`, rep.SearchID); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite clear search results: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO search_results
			(search_id, ranking, rank, combination_id, score, win_rate, total_pnl,
			 profit_factor, profit_factor_infinite, total_trades, params, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rk := range []struct {
		name    string
		entries []explorer.Entry
	}{
		{RankingWinRate, rep.ByWinRate},
		{RankingPnL, rep.ByPnL},
		{RankingScore, rep.ByScore},
	} {
		for i, e := range rk.entries {
			if err := insertEntry(stmt, rep.SearchID, rk.name, i+1, e); err != nil {
				tx.Rollback()
				return fmt.Errorf("sqlite insert %s rank %d: %w", rk.name, i+1, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	w.observe(start)
	log.Printf("[sqlite] saved search %s (%d qualified)", rep.SearchID, rep.Qualified)
	return nil
}

func insertEntry(stmt *sql.Stmt, searchID, ranking string, rank int, e explorer.Entry) error {
	params, err := json.Marshal(e.Params)
	if err != nil {
		return err
	}
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return err
	}
	var pf sql.NullFloat64
	inf := e.Metrics.InfiniteProfitFactor()
	if !inf {
		pf = sql.NullFloat64{Float64: e.Metrics.ProfitFactor, Valid: true}
	}
	_, err = stmt.Exec(searchID, ranking, rank, e.ID, e.Score, e.Metrics.WinRate, e.Metrics.TotalPnL,
		pf, inf, e.Metrics.TotalTrades, string(params), string(cfg))
	return err
}

func (w *Writer) observe(start time.Time) {
	if w.onCommit != nil {
		w.onCommit(time.Since(start))
	}
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
