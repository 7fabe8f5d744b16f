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
	"github.com/prometheus/client_golang/prometheus/push"

	"optguard/internal/retry"
)

// Metrics holds all Prometheus metrics for the watcher and the guards.
type Metrics struct {
	// Resilient call executor
	RetriesTotal   *prometheus.CounterVec // labels: op
	ExhaustedTotal *prometheus.CounterVec // labels: op

	// Exit watcher
	WatchTicksTotal  prometheus.Counter
	WatchTickErrors  prometheus.Counter
	StopChangesTotal *prometheus.CounterVec // labels: action=place|modify|cancel, result=ok|error
	ExitsTotal       *prometheus.CounterVec // labels: reason=target|eod|stop|abort
	WatchPhase       prometheus.Gauge       // 0=initial, 1=breakeven, 2=trailing
	StopTrigger      prometheus.Gauge       // rupees
	LastPrice        prometheus.Gauge       // rupees

	// Guards
	GuardRunsTotal *prometheus.CounterVec // labels: guard, outcome
	DayPnL         prometheus.Gauge       // rupees
	TrendADX       prometheus.Gauge
	SquareOffRows  *prometheus.CounterVec // labels: result=placed|failed

	// Circuit breaker on Redis candle reads
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optguard_api_retries_total",
			Help: "Remote calls retried after a rate-limit class error",
		}, []string{"op"}),
		ExhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optguard_api_retry_exhausted_total",
			Help: "Remote calls that ran out of retry attempts",
		}, []string{"op"}),

		WatchTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optguard_watch_ticks_total",
			Help: "Exit watcher ticks evaluated",
		}),
		WatchTickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optguard_watch_tick_errors_total",
			Help: "Exit watcher ticks that hit an error",
		}),
		StopChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optguard_stop_changes_total",
			Help: "Stop order actions by outcome",
		}, []string{"action", "result"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optguard_exits_total",
			Help: "Watcher terminations by reason",
		}, []string{"reason"}),
		WatchPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optguard_watch_phase",
			Help: "Exit watcher phase (0=initial, 1=breakeven, 2=trailing)",
		}),
		StopTrigger: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optguard_stop_trigger_rupees",
			Help: "Trigger price of the live stop order",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optguard_last_price_rupees",
			Help: "Last traded price seen by the watcher",
		}),

		GuardRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optguard_guard_runs_total",
			Help: "Guard invocations by outcome",
		}, []string{"guard", "outcome"}),
		DayPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optguard_day_pnl_rupees",
			Help: "Day PnL seen by the risk guard",
		}),
		TrendADX: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optguard_trend_adx",
			Help: "Last ADX reading of the switch guard",
		}),
		SquareOffRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optguard_squareoff_rows_total",
			Help: "Square-off position rows by result (placed|failed)",
		}, []string{"result"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optguard_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optguard_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.RetriesTotal,
		m.ExhaustedTotal,
		m.WatchTicksTotal,
		m.WatchTickErrors,
		m.StopChangesTotal,
		m.ExitsTotal,
		m.WatchPhase,
		m.StopTrigger,
		m.LastPrice,
		m.GuardRunsTotal,
		m.DayPnL,
		m.TrendADX,
		m.SquareOffRows,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// Instrument counts retries and exhaustions of e.
func (m *Metrics) Instrument(e *retry.Executor) {
	e.OnRetry = func(op string, attempt int, err error) {
		m.RetriesTotal.WithLabelValues(op).Inc()
	}
	e.OnExhausted = func(op string, err error) {
		m.ExhaustedTotal.WithLabelValues(op).Inc()
	}
}

// Push sends everything in g to a Pushgateway under job. One-shot guard
// runs use it since nothing scrapes them.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	return push.New(url, job).Gatherer(g).PushContext(ctx)
}

// HealthStatus represents the watcher's health.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol       string    `json:"symbol"`
	State        string    `json:"state"`
	Phase        string    `json:"phase"`
	BrokerOK     bool      `json:"broker_ok"`
	LastTickTime time.Time `json:"last_tick_time"`
	StaleAfter   time.Duration

	// Liveness probe results
	RedisConnected  bool      `json:"redis_connected"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status. A tick older than
// staleAfter marks the watcher degraded.
func NewHealthStatus(symbol string, staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		Symbol:     symbol,
		StaleAfter: staleAfter,
		StartedAt:  time.Now(),
	}
}

// RecordTick stores the outcome of one watcher tick.
func (h *HealthStatus) RecordTick(t time.Time, state, phase string, brokerOK bool) {
	h.mu.Lock()
	h.LastTickTime = t
	h.State = state
	h.Phase = phase
	h.BrokerOK = brokerOK
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either handle may
// be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
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
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	tickAge := ""
	stale := h.LastTickTime.IsZero()
	if !h.LastTickTime.IsZero() {
		age := time.Since(h.LastTickTime)
		tickAge = age.Round(time.Millisecond).String()
		stale = h.StaleAfter > 0 && age > h.StaleAfter
	}
	if stale || !h.BrokerOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if h.State == "STOPPED" {
		overallStatus = "stopped"
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Symbol          string  `json:"symbol"`
		State           string  `json:"state"`
		Phase           string  `json:"phase"`
		BrokerOK        bool    `json:"broker_ok"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:          h.Symbol,
		State:           h.State,
		Phase:           h.Phase,
		BrokerOK:        h.BrokerOK,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server for the collectors in g.
func NewServer(addr string, g prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

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
