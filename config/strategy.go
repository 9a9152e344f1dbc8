package config

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is wrapped by every Strategy validation failure.
var ErrInvalidConfig = errors.New("invalid strategy config")

// ErrUnknownParam is returned by Strategy.Set for unrecognised parameter names.
var ErrUnknownParam = errors.New("unknown parameter")

// Strategy holds every tunable of one simulation run.
// Treat it as a value: Clone before changing a copy you did not create.
type Strategy struct {
	// Trend filters
	EMAPeriods   []int   `json:"ema_periods" yaml:"ema_periods"`
	STPeriod     int     `json:"st_period" yaml:"st_period"`
	STMultiplier float64 `json:"st_multiplier" yaml:"st_multiplier"`
	DelayBars    int     `json:"supertrend_delay_bars" yaml:"supertrend_delay_bars"`

	// Strength / momentum
	ADXPeriod     int     `json:"adx_period" yaml:"adx_period"`
	ADXThreshold  float64 `json:"adx_threshold" yaml:"adx_threshold"`
	RSIPeriod     int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOversold   float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought" yaml:"rsi_overbought"`

	// Binary option contract
	ExpiryMinutes int     `json:"expiry_minutes" yaml:"expiry_minutes"`
	PayoutRate    float64 `json:"payout_rate" yaml:"payout_rate"`
	TradeAmount   float64 `json:"trade_amount" yaml:"trade_amount"`

	// Frequency gates
	MaxTradesPerDay int `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MinGapMinutes   int `json:"min_time_between_trades" yaml:"min_time_between_trades"`

	// Trading-hours window, in local hours at TimezoneOffset
	TradingStartHour int  `json:"trading_start_hour" yaml:"trading_start_hour"`
	TradingEndHour   int  `json:"trading_end_hour" yaml:"trading_end_hour"`
	TimezoneOffset   int  `json:"timezone_offset" yaml:"timezone_offset"`
	EnableTimeFilter bool `json:"enable_time_filter" yaml:"enable_time_filter"`

	// Session profile: weekday + session-aware tightening in SessionLocation
	SessionProfile  bool   `json:"session_profile" yaml:"session_profile"`
	SessionLocation string `json:"session_location,omitempty" yaml:"session_location"`

	// Extra minimum candle count before any signal (0 = indicator readiness only)
	WarmupBars int `json:"warmup_bars,omitempty" yaml:"warmup_bars"`
}

// Default returns the single-run defaults: one EMA(13), SuperTrend 10/3.5,
// ADX 21 > 30, RSI 21 within 35..65, 60-minute expiry at 70% payout.
func Default() Strategy {
	return Strategy{
		EMAPeriods:       []int{13},
		STPeriod:         10,
		STMultiplier:     3.5,
		DelayBars:        3,
		ADXPeriod:        21,
		ADXThreshold:     30,
		RSIPeriod:        21,
		RSIOversold:      35,
		RSIOverbought:    65,
		ExpiryMinutes:    60,
		PayoutRate:       0.70,
		TradeAmount:      1,
		MaxTradesPerDay:  10,
		MinGapMinutes:    3,
		TradingStartHour: 8,
		TradingEndHour:   13,
		TimezoneOffset:   -4,
		EnableTimeFilter: false,
		SessionLocation:  "America/Havana",
	}
}

// ThreeEMAProfile returns the three-EMA variant: EMAs 8/16/24, SuperTrend
// 10/3 with a 4-bar delay, ADX 14 > 25, RSI 14 within 30..70, 30-minute
// expiry at 92% payout, trading 9-13 local only.
func ThreeEMAProfile() Strategy {
	s := Default()
	s.EMAPeriods = []int{8, 16, 24}
	s.STMultiplier = 3.0
	s.ADXPeriod = 14
	s.ADXThreshold = 25
	s.RSIPeriod = 14
	s.RSIOversold = 30
	s.RSIOverbought = 70
	s.DelayBars = 4
	s.ExpiryMinutes = 30
	s.PayoutRate = 0.92
	s.TradingStartHour = 9
	s.EnableTimeFilter = true
	return s
}

// Clone returns a deep copy.
func (s Strategy) Clone() Strategy {
	s.EMAPeriods = append([]int(nil), s.EMAPeriods...)
	return s
}

// Validate reports every problem with s, joined, each wrapping ErrInvalidConfig.
func (s Strategy) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if len(s.EMAPeriods) == 0 {
		bad("at least one EMA period is required")
	}
	for i, p := range s.EMAPeriods {
		if p <= 0 {
			bad("ema_periods[%d] = %d, must be > 0", i, p)
		}
	}
	if s.STPeriod <= 0 {
		bad("st_period = %d, must be > 0", s.STPeriod)
	}
	if !(s.STMultiplier > 0) || math.IsInf(s.STMultiplier, 0) {
		bad("st_multiplier = %v, must be > 0", s.STMultiplier)
	}
	if s.DelayBars < 0 {
		bad("supertrend_delay_bars = %d, must be >= 0", s.DelayBars)
	}
	if s.ADXPeriod <= 0 {
		bad("adx_period = %d, must be > 0", s.ADXPeriod)
	}
	if s.RSIPeriod <= 0 {
		bad("rsi_period = %d, must be > 0", s.RSIPeriod)
	}
	if s.RSIOversold < 0 || s.RSIOversold > 100 || s.RSIOverbought < 0 || s.RSIOverbought > 100 {
		bad("rsi thresholds %v/%v must lie in [0,100]", s.RSIOversold, s.RSIOverbought)
	}
	if s.ExpiryMinutes <= 0 {
		bad("expiry_minutes = %d, must be > 0", s.ExpiryMinutes)
	}
	if !(s.PayoutRate > 0 && s.PayoutRate <= 1) {
		bad("payout_rate = %v, must lie in (0,1]", s.PayoutRate)
	}
	if !(s.TradeAmount > 0) || math.IsInf(s.TradeAmount, 0) {
		bad("trade_amount = %v, must be > 0", s.TradeAmount)
	}
	if s.MaxTradesPerDay <= 0 {
		bad("max_trades_per_day = %d, must be > 0", s.MaxTradesPerDay)
	}
	if s.MinGapMinutes < 0 {
		bad("min_time_between_trades = %d, must be >= 0", s.MinGapMinutes)
	}
	if s.TradingStartHour < 0 || s.TradingStartHour > 23 || s.TradingEndHour < 0 || s.TradingEndHour > 24 {
		bad("trading hours %d..%d out of range", s.TradingStartHour, s.TradingEndHour)
	}
	if s.EnableTimeFilter && s.TradingStartHour >= s.TradingEndHour {
		bad("trading_start_hour %d must be before trading_end_hour %d", s.TradingStartHour, s.TradingEndHour)
	}
	if s.TimezoneOffset < -12 || s.TimezoneOffset > 14 {
		bad("timezone_offset = %d, must lie in [-12,14]", s.TimezoneOffset)
	}
	if s.WarmupBars < 0 {
		bad("warmup_bars = %d, must be >= 0", s.WarmupBars)
	}
	return errors.Join(errs...)
}

// Set assigns one named parameter, converting v from its decoded YAML/JSON
// form. ema1_period..ema3_period address EMAPeriods by position.
func (s *Strategy) Set(name string, v any) error {
	var err error
	switch name {
	case "ema_periods":
		s.EMAPeriods, err = toIntSlice(v)
	case "ema1_period", "ema2_period", "ema3_period":
		err = s.setEMA(int(name[3]-'1'), v)
	case "st_period":
		s.STPeriod, err = toInt(v)
	case "st_multiplier":
		s.STMultiplier, err = toFloat(v)
	case "supertrend_delay_bars":
		s.DelayBars, err = toInt(v)
	case "adx_period":
		s.ADXPeriod, err = toInt(v)
	case "adx_threshold":
		s.ADXThreshold, err = toFloat(v)
	case "rsi_period":
		s.RSIPeriod, err = toInt(v)
	case "rsi_oversold":
		s.RSIOversold, err = toFloat(v)
	case "rsi_overbought":
		s.RSIOverbought, err = toFloat(v)
	case "expiry_minutes":
		s.ExpiryMinutes, err = toInt(v)
	case "payout_rate":
		s.PayoutRate, err = toFloat(v)
	case "trade_amount":
		s.TradeAmount, err = toFloat(v)
	case "max_trades_per_day":
		s.MaxTradesPerDay, err = toInt(v)
	case "min_time_between_trades":
		s.MinGapMinutes, err = toInt(v)
	case "trading_start_hour":
		s.TradingStartHour, err = toInt(v)
	case "trading_end_hour":
		s.TradingEndHour, err = toInt(v)
	case "timezone_offset":
		s.TimezoneOffset, err = toInt(v)
	case "enable_time_filter":
		s.EnableTimeFilter, err = toBool(v)
	case "session_profile":
		s.SessionProfile, err = toBool(v)
	case "session_location":
		s.SessionLocation, err = toString(v)
	case "warmup_bars":
		s.WarmupBars, err = toInt(v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Strategy) setEMA(idx int, v any) error {
	p, err := toInt(v)
	if err != nil {
		return err
	}
	s.EMAPeriods = append([]int(nil), s.EMAPeriods...)
	switch {
	case idx < len(s.EMAPeriods):
		s.EMAPeriods[idx] = p
	case idx == len(s.EMAPeriods):
		s.EMAPeriods = append(s.EMAPeriods, p)
	default:
		return fmt.Errorf("ema%d_period set before ema%d_period", idx+1, len(s.EMAPeriods)+1)
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

func toString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func toIntSlice(v any) ([]int, error) {
	switch xs := v.(type) {
	case []int:
		return append([]int(nil), xs...), nil
	case []any:
		out := make([]int, len(xs))
		for i, x := range xs {
			n, err := toInt(x)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of integers, got %T", v)
}
