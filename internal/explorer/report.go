package explorer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/config"
)

// Report is the persisted form of a finished search.
type Report struct {
	SearchID         string          `json:"search_id"`
	OptimizationDate time.Time       `json:"optimization_date"`
	Symbol           string          `json:"symbol,omitempty"`
	Candles          int             `json:"candles"`
	Base             config.Strategy `json:"base_config"`
	Parameters       []RangeSummary  `json:"parameters"`
	Result
}

// RangeSummary records one searched parameter and its candidate values.
type RangeSummary struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// NewReport wraps res with the search context.
func NewReport(searchID, symbol string, candles int, opts Options, res Result) Report {
	params := make([]RangeSummary, len(opts.Space))
	for i, p := range opts.Space {
		params[i] = RangeSummary{Name: p.Name, Values: p.Values}
	}
	return Report{
		SearchID:         searchID,
		OptimizationDate: res.FinishedAt,
		Symbol:           symbol,
		Candles:          candles,
		Base:             opts.Base,
		Parameters:       params,
		Result:           res,
	}
}

// WriteJSON writes r as indented JSON, creating parent directories.
func (r Report) WriteJSON(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteJSON.
func ReadReport(path string) (Report, error) {
	var r Report
	b, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read report: %w", err)
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}
