package model

import "time"

// Candle is one OHLCV bar. Prices are plain float64 quotes (forex pairs carry
// five decimals, so there is no fixed-point unit worth converting to).
type Candle struct {
	TS     time.Time `json:"ts"` // bar open time, UTC
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Valid reports whether the OHLC fields are mutually consistent.
func (c *Candle) Valid() bool {
	return c.High >= c.Open && c.High >= c.Close && c.High >= c.Low &&
		c.Low <= c.Open && c.Low <= c.Close
}

// DateKey returns the UTC calendar date of the bar as "2006-01-02".
func (c *Candle) DateKey() string {
	return c.TS.UTC().Format("2006-01-02")
}
