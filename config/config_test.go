package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefault_Valid(t *testing.T) {
	for name, s := range map[string]Strategy{"default": Default(), "three-ema": ThreeEMAProfile()} {
		if err := s.Validate(); err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Strategy)
	}{
		{"no emas", func(s *Strategy) { s.EMAPeriods = nil }},
		{"zero ema", func(s *Strategy) { s.EMAPeriods = []int{8, 0} }},
		{"zero st period", func(s *Strategy) { s.STPeriod = 0 }},
		{"negative multiplier", func(s *Strategy) { s.STMultiplier = -1 }},
		{"negative delay", func(s *Strategy) { s.DelayBars = -1 }},
		{"zero adx period", func(s *Strategy) { s.ADXPeriod = 0 }},
		{"negative rsi period", func(s *Strategy) { s.RSIPeriod = -3 }},
		{"rsi above 100", func(s *Strategy) { s.RSIOverbought = 101 }},
		{"zero expiry", func(s *Strategy) { s.ExpiryMinutes = 0 }},
		{"zero payout", func(s *Strategy) { s.PayoutRate = 0 }},
		{"payout above 1", func(s *Strategy) { s.PayoutRate = 1.5 }},
		{"zero amount", func(s *Strategy) { s.TradeAmount = 0 }},
		{"zero daily cap", func(s *Strategy) { s.MaxTradesPerDay = 0 }},
		{"negative gap", func(s *Strategy) { s.MinGapMinutes = -1 }},
		{"hour 24 start", func(s *Strategy) { s.TradingStartHour = 24 }},
		{"inverted window", func(s *Strategy) {
			s.EnableTimeFilter = true
			s.TradingStartHour, s.TradingEndHour = 13, 9
		}},
		{"offset out of range", func(s *Strategy) { s.TimezoneOffset = 20 }},
		{"negative warmup", func(s *Strategy) { s.WarmupBars = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			err := s.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidate_InvertedWindowAllowedWhenFilterOff(t *testing.T) {
	s := Default()
	s.TradingStartHour, s.TradingEndHour = 13, 9
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSet(t *testing.T) {
	s := Default()
	steps := []struct {
		name string
		v    any
	}{
		{"st_period", 14},
		{"st_multiplier", 2},
		{"adx_threshold", 27.5},
		{"expiry_minutes", 15.0},
		{"enable_time_filter", true},
		{"ema1_period", 5},
		{"ema2_period", 21},
		{"session_location", "UTC"},
	}
	for _, st := range steps {
		if err := s.Set(st.name, st.v); err != nil {
			t.Fatalf("Set(%s): %v", st.name, err)
		}
	}
	if s.STPeriod != 14 || s.STMultiplier != 2 || s.ADXThreshold != 27.5 || s.ExpiryMinutes != 15 {
		t.Errorf("unexpected numeric fields: %+v", s)
	}
	if !s.EnableTimeFilter || s.SessionLocation != "UTC" {
		t.Errorf("unexpected flags: %+v", s)
	}
	if !reflect.DeepEqual(s.EMAPeriods, []int{5, 21}) {
		t.Errorf("EMAPeriods = %v, want [5 21]", s.EMAPeriods)
	}
}

func TestSet_Errors(t *testing.T) {
	s := Default()
	if err := s.Set("nope", 1); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}
	if err := s.Set("st_period", 2.5); err == nil {
		t.Error("expected error for fractional period")
	}
	if err := s.Set("enable_time_filter", "yes"); err == nil {
		t.Error("expected error for non-bool")
	}
	if err := s.Set("ema3_period", 8); err == nil {
		t.Error("expected error for ema3 without ema2")
	}
}

func TestSet_DoesNotAliasClone(t *testing.T) {
	base := Default()
	c := base.Clone()
	if err := c.Set("ema1_period", 99); err != nil {
		t.Fatal(err)
	}
	if base.EMAPeriods[0] != 13 {
		t.Errorf("base mutated: %v", base.EMAPeriods)
	}
}

func TestParseParamSpace_PreservesOrder(t *testing.T) {
	doc := []byte(`
parameters:
  st_period: [7, 10]
  st_multiplier: [2.0, 2.5, 3]
  ema_periods:
    - [8, 16]
    - [5]
  enable_time_filter: [true, false]
`)
	ps, err := ParseParamSpace(doc)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range ps {
		names = append(names, p.Name)
	}
	want := []string{"st_period", "st_multiplier", "ema_periods", "enable_time_filter"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	if ps.Size() != 2*3*2*2 {
		t.Errorf("Size = %d, want 24", ps.Size())
	}
	if err := ps.Validate(Default()); err != nil {
		t.Errorf("Validate: %v", err)
	}

	s, err := ps.Apply(Default(), []int{1, 2, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if s.STPeriod != 10 || s.STMultiplier != 3 || !reflect.DeepEqual(s.EMAPeriods, []int{8, 16}) || s.EnableTimeFilter {
		t.Errorf("Apply produced %+v", s)
	}
}

func TestParseParamSpace_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"not a mapping": "- 1\n- 2\n",
		"scalar value":  "st_period: 7\n",
	} {
		if _, err := ParseParamSpace([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	ps := ParamSpace{{"st_period", []any{7}}, {"st_period", []any{10}}}
	if err := ps.Validate(Default()); err == nil {
		t.Error("expected duplicate-name error")
	}
	ps = ParamSpace{{"bogus", []any{1}}}
	if err := ps.Validate(Default()); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}
}

func TestParamSpace_ValidateRejectsRepeatedValues(t *testing.T) {
	tests := []struct {
		name string
		ps   ParamSpace
	}{
		{"same int", ParamSpace{{"st_period", []any{10, 12, 10}}}},
		{"int and float", ParamSpace{{"st_period", []any{10, 10.0}}}},
		{"same list", ParamSpace{{"ema_periods", []any{[]any{8, 21}, []any{8, 21}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ps.Validate(Default())
			if err == nil || !strings.Contains(err.Error(), "twice") {
				t.Errorf("expected repeated-value error, got %v", err)
			}
		})
	}

	ok := ParamSpace{{"st_period", []any{10, 12}}, {"ema_periods", []any{[]any{8, 21}, []any{8, 34}}}}
	if err := ok.Validate(Default()); err != nil {
		t.Errorf("distinct values rejected: %v", err)
	}
}

func TestParamSpace_Size(t *testing.T) {
	if n := DefaultParamSpace().Size(); n != 4*4*5*4*4*3*3*3*5*4*4*4 {
		t.Errorf("default size = %d", n)
	}
	if n := (ParamSpace{}).Size(); n != 0 {
		t.Errorf("empty size = %d, want 0", n)
	}

	huge := make([]any, 1<<16)
	ps := ParamSpace{{"a", huge}, {"b", huge}, {"c", huge}, {"d", huge}, {"e", huge}}
	if n := ps.Size(); n != math.MaxInt {
		t.Errorf("expected saturation, got %d", n)
	}
}

func TestLoadParamSpace_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.yaml")
	if err := os.WriteFile(path, []byte("adx_period: [10, 14]\nrsi_period: [9]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ps, err := LoadParamSpace(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 || ps[0].Name != "adx_period" || ps.Size() != 2 {
		t.Errorf("unexpected space: %+v", ps)
	}
}

func TestProfile(t *testing.T) {
	s, err := Profile("three-ema")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.EMAPeriods) != 3 || s.ExpiryMinutes != 30 {
		t.Errorf("unexpected three-ema profile: %+v", s)
	}
	if s, _ := Profile(""); s.ExpiryMinutes != Default().ExpiryMinutes {
		t.Errorf("empty name should give default, got %+v", s)
	}
	if _, err := Profile("nope"); err == nil {
		t.Error("expected unknown profile error")
	}
}

func TestApplyOverrides(t *testing.T) {
	doc := "strategy:\n  ema_periods: [5, 9]\n  st_multiplier: 2\n  enable_time_filter: true\n"
	base := Default()
	s, err := ApplyOverrides(base, []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.EMAPeriods) != 2 || s.EMAPeriods[1] != 9 {
		t.Errorf("ema_periods = %v", s.EMAPeriods)
	}
	if s.STMultiplier != 2 || !s.EnableTimeFilter {
		t.Errorf("overrides not applied: %+v", s)
	}
	if len(base.EMAPeriods) != 1 || base.STMultiplier != 3.5 {
		t.Errorf("base modified: %+v", base)
	}

	if _, err := ApplyOverrides(base, []byte("bogus: 1\n")); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}
	if _, err := ApplyOverrides(base, []byte("st_period: abc\n")); err == nil {
		t.Error("expected type error")
	}
}

func TestParseMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"3", 3},
		{"3m", 3},
		{"90s", 1},
		{"1h30m", 90},
		{"1d", 1440},
	}
	for _, tt := range tests {
		got, err := ParseMinutes(tt.in)
		if err != nil {
			t.Errorf("ParseMinutes(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMinutes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if _, err := ParseMinutes("soon"); err == nil {
		t.Error("expected error")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("EXPIRY", "2h")
	t.Setenv("MIN_GAP", "5")
	t.Setenv("EMA_PERIODS", "8, 16,24")
	t.Setenv("TRADING_HOURS", "9-12")
	t.Setenv("TIME_FILTER", "true")
	t.Setenv("TOP_K", "7")
	t.Setenv("SYMBOL", "GBPUSD")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	s := cfg.Strategy
	if s.ExpiryMinutes != 120 || s.MinGapMinutes != 5 {
		t.Errorf("durations: expiry=%d gap=%d", s.ExpiryMinutes, s.MinGapMinutes)
	}
	if !reflect.DeepEqual(s.EMAPeriods, []int{8, 16, 24}) {
		t.Errorf("EMAPeriods = %v", s.EMAPeriods)
	}
	if s.TradingStartHour != 9 || s.TradingEndHour != 12 || !s.EnableTimeFilter {
		t.Errorf("window: %d-%d filter=%v", s.TradingStartHour, s.TradingEndHour, s.EnableTimeFilter)
	}
	if cfg.TopK != 7 || cfg.Symbol != "GBPUSD" {
		t.Errorf("TopK = %d, Symbol = %s", cfg.TopK, cfg.Symbol)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PAYOUT_RATE=0.85\nMAX_COMBINATIONS=120\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set; register
	// cleanup so the values do not leak into other tests.
	t.Setenv("PAYOUT_RATE", "")
	t.Setenv("MAX_COMBINATIONS", "")
	os.Unsetenv("PAYOUT_RATE")
	os.Unsetenv("MAX_COMBINATIONS")

	cfg := Load(path)
	if cfg.Strategy.PayoutRate != 0.85 {
		t.Errorf("PayoutRate = %v, want 0.85", cfg.Strategy.PayoutRate)
	}
	if cfg.MaxCombinations != 120 {
		t.Errorf("MaxCombinations = %d, want 120", cfg.MaxCombinations)
	}
}
