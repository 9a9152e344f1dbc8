package model

import "time"

// ── Storage Port Interfaces ──
// These interfaces decouple the simulation from concrete storage (SQLite,
// CSV files). Each adapter satisfies one or more of them.

// CandleReader loads a materialized candle stream for one symbol.
type CandleReader interface {
	// ReadCandles returns candles in ascending timestamp order.
	// Zero from/to mean unbounded.
	ReadCandles(symbol string, from, to time.Time) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// CandleWriter persists imported candles.
type CandleWriter interface {
	// ImportCandles upserts candles for symbol and returns the number written.
	ImportCandles(symbol string, candles []Candle) (int, error)

	// Close releases underlying resources.
	Close() error
}

// TradeWriter persists the trade log of one evaluated combination.
type TradeWriter interface {
	SaveTrades(searchID string, combinationID int, trades []SettledTrade) error
}
