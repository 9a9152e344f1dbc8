package execution

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists settled trades to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		search_id      TEXT    NOT NULL,
		combination_id INTEGER NOT NULL,
		type           TEXT    NOT NULL,
		entry_time     TEXT    NOT NULL,
		expiry_time    TEXT    NOT NULL,
		settled_at     TEXT    NOT NULL,
		entry_price    REAL    NOT NULL,
		exit_price     REAL    NOT NULL,
		result         TEXT    NOT NULL,
		pnl            REAL    NOT NULL,
		session        TEXT,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(search_id, combination_id);
	CREATE INDEX IF NOT EXISTS idx_trades_entry ON trades(entry_time);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// SaveTrades persists the trade log of one combination in a single transaction.
func (j *Journal) SaveTrades(searchID string, combinationID int, trades []model.SettledTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO trades (search_id, combination_id, type, entry_time, expiry_time, settled_at,
		                     entry_price, exit_price, result, pnl, session)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("journal: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.Exec(
			searchID,
			combinationID,
			string(t.Type),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExpiryTime.UTC().Format(time.RFC3339),
			t.SettledAt.UTC().Format(time.RFC3339),
			t.EntryPrice,
			t.ExitPrice,
			string(t.Result),
			t.PnL,
			t.Session,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal: insert: %w", err)
		}
	}
	return tx.Commit()
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID            int64  `json:"id"`
	SearchID      string `json:"search_id"`
	CombinationID int    `json:"combination_id"`
	model.SettledTrade
}

// GetTrades returns up to limit trades of one combination, oldest first.
func (j *Journal) GetTrades(searchID string, combinationID, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, search_id, combination_id, type, entry_time, expiry_time, settled_at,
		        entry_price, exit_price, result, pnl, COALESCE(session, '')
		 FROM trades WHERE search_id = ? AND combination_id = ? ORDER BY id LIMIT ?`,
		searchID, combinationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var (
			r                      TradeRecord
			typ, result            string
			entry, expiry, settled string
		)
		if err := rows.Scan(&r.ID, &r.SearchID, &r.CombinationID, &typ, &entry, &expiry, &settled,
			&r.EntryPrice, &r.ExitPrice, &result, &r.PnL, &r.Session); err != nil {
			return nil, err
		}
		r.Type = model.TradeType(typ)
		r.Result = model.Outcome(result)
		r.EntryTime, _ = time.Parse(time.RFC3339, entry)
		r.ExpiryTime, _ = time.Parse(time.RFC3339, expiry)
		r.SettledAt, _ = time.Parse(time.RFC3339, settled)
		trades = append(trades, r)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

var _ model.TradeWriter = (*Journal)(nil)
