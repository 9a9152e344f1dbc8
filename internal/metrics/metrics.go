// Package metrics exposes Prometheus metrics and a /healthz status endpoint
// for parameter searches.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidalejandrochentes/backtesting-trading/internal/explorer"
)

// Metrics holds all Prometheus metrics for the search engine.
type Metrics struct {
	CombinationsTotal *prometheus.CounterVec // labels: status
	TradesSettled     prometheus.Counter
	RunDuration       prometheus.Histogram
	BestScore         prometheus.Gauge
	SearchesTotal     prometheus.Counter
	CandlesLoaded     prometheus.Gauge

	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CombinationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_combinations_total",
			Help: "Parameter combinations evaluated (by outcome status)",
		}, []string{"status"}),
		TradesSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_trades_settled_total",
			Help: "Trades settled across all evaluated combinations",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall time of one simulation run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		BestScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_best_score",
			Help: "Best composite score seen in the current search",
		}),
		SearchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_searches_total",
			Help: "Parameter searches started",
		}),
		CandlesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_candles_loaded",
			Help: "Candles in the series under test",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_sqlite_commit_duration_seconds",
			Help:    "SQLite transaction commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.CombinationsTotal,
		m.TradesSettled,
		m.RunDuration,
		m.BestScore,
		m.SearchesTotal,
		m.CandlesLoaded,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// ObserveOutcome records one evaluated combination.
func (m *Metrics) ObserveOutcome(o explorer.Outcome) {
	m.CombinationsTotal.WithLabelValues(string(o.Status)).Inc()
	if o.Status == explorer.StatusCancelled {
		return
	}
	m.RunDuration.Observe(o.Duration.Seconds())
	m.TradesSettled.Add(float64(o.Metrics.TotalTrades))
}

// SearchStatus is the live state of a search, served on /healthz.
type SearchStatus struct {
	mu sync.RWMutex

	SearchID       string    `json:"search_id"`
	Total          int       `json:"total"`
	Done           int       `json:"done"`
	Qualified      int       `json:"qualified"`
	Errors         int       `json:"errors"`
	BestScore      float64   `json:"best_score"`
	HasBest        bool      `json:"has_best"`
	Finished       bool      `json:"finished"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	StartedAt      time.Time `json:"started_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
}

// NewSearchStatus returns the status of a search about to start.
func NewSearchStatus(searchID string, total int) *SearchStatus {
	return &SearchStatus{
		SearchID:  searchID,
		Total:     total,
		StartedAt: time.Now(),
		SQLiteOK:  true,
	}
}

// Record folds one outcome into the status and reports whether it set a
// new best score.
func (h *SearchStatus) Record(o explorer.Outcome) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Done++
	switch o.Status {
	case explorer.StatusFailed:
		h.Errors++
	case explorer.StatusQualified:
		h.Qualified++
		if s := o.Metrics.Score(); !h.HasBest || s > h.BestScore {
			h.BestScore, h.HasBest = s, true
			return true
		}
	}
	return false
}

// SetFinished marks the search complete.
func (h *SearchStatus) SetFinished() {
	h.mu.Lock()
	h.Finished = true
	h.mu.Unlock()
}

// Progress returns done/total.
func (h *SearchStatus) Progress() (done, total int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Done, h.Total
}

func (h *SearchStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *SearchStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *SearchStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *SearchStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
// Either dependency may be nil.
func (h *SearchStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *SearchStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state := "running"
	httpCode := http.StatusOK
	switch {
	case h.Finished:
		state = "finished"
	case !h.SQLiteOK:
		state = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	progress := 0.0
	if h.Total > 0 {
		progress = 100 * float64(h.Done) / float64(h.Total)
	}

	status := struct {
		Status          string   `json:"status"`
		SearchID        string   `json:"search_id"`
		Uptime          string   `json:"uptime"`
		Done            int      `json:"done"`
		Total           int      `json:"total"`
		ProgressPct     float64  `json:"progress_pct"`
		Qualified       int      `json:"qualified"`
		Errors          int      `json:"errors"`
		BestScore       *float64 `json:"best_score"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          state,
		SearchID:        h.SearchID,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Done:            h.Done,
		Total:           h.Total,
		ProgressPct:     progress,
		Qualified:       h.Qualified,
		Errors:          h.Errors,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if h.HasBest {
		best := h.BestScore
		status.BestScore = &best
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer defaults to
// prometheus.DefaultGatherer when nil.
func NewServer(addr string, health *SearchStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
