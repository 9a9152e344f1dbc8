// Package feed loads historical candles from CSV files and checks that a
// series is fit for simulation.
package feed

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davidalejandrochentes/backtesting-trading/internal/model"
)

var (
	ErrUnsorted      = errors.New("candles not in ascending time order")
	ErrDuplicate     = errors.New("duplicate candle timestamp")
	ErrInvalidCandle = errors.New("inconsistent OHLC values")
	ErrMissingColumn = errors.New("missing column")
)

// timeLayouts are tried in order for the datetime column.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// timeColumns are accepted names for the datetime column.
var timeColumns = []string{"datetime", "timestamp", "time", "date"}

// LoadCSV reads candles from a comma- or tab-separated file.
func LoadCSV(path string) ([]model.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	candles, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Printf("[feed] loaded %d candles from %s", len(candles), path)
	return candles, nil
}

// ParseCSV reads candles with a header row naming datetime, open, high,
// low, close and optionally volume. The delimiter is a tab when the header
// contains one, otherwise a comma. Timestamps without a zone are UTC.
func ParseCSV(r io.Reader) ([]model.Candle, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && header != "") {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cr := csv.NewReader(io.MultiReader(strings.NewReader(header), br))
	if strings.Contains(header, "\t") {
		cr.Comma = '\t'
	}
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	names, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := columnIndex(names)
	if err != nil {
		return nil, err
	}

	var out []model.Candle
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c, err := parseRecord(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

type columns struct {
	ts, open, high, low, close, volume int
}

func columnIndex(names []string) (columns, error) {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(n, "\ufeff")))] = i
	}

	cols := columns{ts: -1, volume: -1}
	for _, n := range timeColumns {
		if i, ok := idx[n]; ok {
			cols.ts = i
			break
		}
	}
	if cols.ts < 0 {
		return cols, fmt.Errorf("%w: datetime", ErrMissingColumn)
	}

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"open", &cols.open},
		{"high", &cols.high},
		{"low", &cols.low},
		{"close", &cols.close},
	} {
		i, ok := idx[f.name]
		if !ok {
			return cols, fmt.Errorf("%w: %s", ErrMissingColumn, f.name)
		}
		*f.dst = i
	}
	if i, ok := idx["volume"]; ok {
		cols.volume = i
	}
	return cols, nil
}

func parseRecord(rec []string, cols columns) (model.Candle, error) {
	var c model.Candle
	ts, err := ParseTime(field(rec, cols.ts))
	if err != nil {
		return c, err
	}
	c.TS = ts

	for _, f := range []struct {
		col int
		dst *float64
	}{
		{cols.open, &c.Open},
		{cols.high, &c.High},
		{cols.low, &c.Low},
		{cols.close, &c.Close},
		{cols.volume, &c.Volume},
	} {
		if f.col < 0 {
			continue
		}
		s := field(rec, f.col)
		if s == "" && f.dst == &c.Volume {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return c, fmt.Errorf("parse %q: %w", s, err)
		}
		*f.dst = v
	}
	return c, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// ParseTime parses a candle timestamp in any accepted layout, as UTC when
// the layout carries no zone.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Validate checks that candles are strictly ascending with consistent OHLC.
// The first problem found is returned.
func Validate(candles []model.Candle) error {
	for i := range candles {
		c := &candles[i]
		if !c.Valid() {
			return fmt.Errorf("candle %d at %s: %w", i, c.TS.Format(time.RFC3339), ErrInvalidCandle)
		}
		if i == 0 {
			continue
		}
		prev := candles[i-1].TS
		switch {
		case c.TS.Equal(prev):
			return fmt.Errorf("candle %d at %s: %w", i, c.TS.Format(time.RFC3339), ErrDuplicate)
		case c.TS.Before(prev):
			return fmt.Errorf("candle %d at %s: %w", i, c.TS.Format(time.RFC3339), ErrUnsorted)
		}
	}
	return nil
}

// Between returns the sub-slice of sorted candles with from <= TS < to.
// A zero bound is open.
func Between(candles []model.Candle, from, to time.Time) []model.Candle {
	lo, hi := 0, len(candles)
	if !from.IsZero() {
		lo = sort.Search(len(candles), func(i int) bool { return !candles[i].TS.Before(from) })
	}
	if !to.IsZero() {
		hi = sort.Search(len(candles), func(i int) bool { return !candles[i].TS.Before(to) })
	}
	if hi < lo {
		hi = lo
	}
	return candles[lo:hi]
}

// CSVSource serves a single CSV file as a candle reader. The symbol is
// ignored; the file holds one series.
type CSVSource struct {
	Path string
}

// ReadCandles loads the file, validates it and returns the [from, to) slice.
func (s CSVSource) ReadCandles(_ string, from, to time.Time) ([]model.Candle, error) {
	candles, err := LoadCSV(s.Path)
	if err != nil {
		return nil, err
	}
	if err := Validate(candles); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return Between(candles, from, to), nil
}

// Close is a no-op.
func (CSVSource) Close() error { return nil }

var _ model.CandleReader = CSVSource{}
