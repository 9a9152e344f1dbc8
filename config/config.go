package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	LogLevel string

	// Infrastructure
	SQLitePath    string
	RedisAddr     string // empty disables the Redis publisher
	RedisPassword string
	RedisDB       int
	MetricsAddr   string // empty disables the metrics server
	WebhookURL    string // empty disables webhook notifications
	GatewayAddr   string // listen address of cmd/gateway

	// Telegram alerts; both must be set to enable
	TelegramBotToken string
	TelegramChatID   string

	// Data
	Symbol     string // series name used for SQLite storage
	ResultsDir string // JSON reports are written here

	// Search
	Workers         int
	TopK            int
	MaxCombinations int
	MinTrades       int
	MinWinRate      float64

	// Base strategy every run or search starts from
	Strategy Strategy
}

// Load reads an optional .env file (or the given files) and then
// configuration from environment variables with sensible defaults.
func Load(envFiles ...string) *Config {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] env file: %v", err)
	}

	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SQLitePath:    getEnv("SQLITE_PATH", "data/backtest.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":9090"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		Symbol:     getEnv("SYMBOL", "EURUSD"),
		ResultsDir: getEnv("RESULTS_DIR", "results"),

		Workers:         getEnvInt("WORKERS", runtime.GOMAXPROCS(0)),
		TopK:            getEnvInt("TOP_K", 5),
		MaxCombinations: getEnvInt("MAX_COMBINATIONS", 50),
		MinTrades:       getEnvInt("MIN_TRADES", 10),
		MinWinRate:      getEnvFloat("MIN_WIN_RATE", 0),

		Strategy: strategyFromEnv(Default()),
	}
}

// strategyFromEnv overlays the contract and gate settings that are commonly
// changed per broker or account on top of base.
func strategyFromEnv(base Strategy) Strategy {
	s := base.Clone()
	if v := os.Getenv("EMA_PERIODS"); v != "" {
		if periods := parseInts(v); len(periods) > 0 {
			s.EMAPeriods = periods
		}
	}
	s.ExpiryMinutes = getEnvMinutes("EXPIRY", s.ExpiryMinutes)
	s.MinGapMinutes = getEnvMinutes("MIN_GAP", s.MinGapMinutes)
	s.PayoutRate = getEnvFloat("PAYOUT_RATE", s.PayoutRate)
	s.TradeAmount = getEnvFloat("TRADE_AMOUNT", s.TradeAmount)
	s.MaxTradesPerDay = getEnvInt("MAX_TRADES_PER_DAY", s.MaxTradesPerDay)
	s.TimezoneOffset = getEnvInt("TIMEZONE_OFFSET", s.TimezoneOffset)
	s.EnableTimeFilter = getEnvBool("TIME_FILTER", s.EnableTimeFilter)
	s.SessionProfile = getEnvBool("SESSION_PROFILE", s.SessionProfile)
	s.SessionLocation = getEnv("SESSION_LOCATION", s.SessionLocation)

	// TRADING_HOURS="9-13"
	if v := os.Getenv("TRADING_HOURS"); v != "" {
		if from, to, ok := strings.Cut(v, "-"); ok {
			start, err1 := strconv.Atoi(strings.TrimSpace(from))
			end, err2 := strconv.Atoi(strings.TrimSpace(to))
			if err1 == nil && err2 == nil {
				s.TradingStartHour, s.TradingEndHour = start, end
			} else {
				log.Printf("[config] skipping invalid TRADING_HOURS: %q", v)
			}
		}
	}
	return s
}

// ParseMinutes accepts a bare integer (minutes) or a duration string such as
// "90s", "3m", "1h30m" or "1d" and returns whole minutes.
func ParseMinutes(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return int(d / time.Minute), nil
}

func parseInts(s string) []int {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid period: %q", p)
			continue
		}
		out = append(out, n)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvMinutes(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := ParseMinutes(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d minutes", key, v, fallback)
		return fallback
	}
	return n
}
