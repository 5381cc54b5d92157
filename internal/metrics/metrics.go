// Package metrics defines the Prometheus collectors for the decision
// pipeline, the scan engine and LLM clients, the market-data cache, and
// the HTTP API, plus the /metrics server that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle kinds (bounded label set)
const (
	CycleKindBot   = "bot"
	CycleKindAgent = "agent"
	CycleKindScan  = "scan"
)

// LLM call kinds (bounded label set)
const (
	LLMCallValidate = "validate"
	LLMCallFallback = "fallback"
	LLMCallBriefing = "briefing"
)

// Pipeline metrics
var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_cycles_total",
		Help: "Decision cycles run, by kind",
	}, []string{"kind"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeveda_cycle_duration_ms",
		Help:    "Decision cycle duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"kind"})

	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_signals_generated_total",
		Help: "Signals persisted, by source and direction",
	}, []string{"source", "signal_type"})

	SignalsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeveda_signals_executed_total",
		Help: "Signals auto-executed against the paper book",
	})

	SignalsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeveda_signals_coalesced_total",
		Help: "Duplicate signals merged into a recent pending one",
	})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_trades_closed_total",
		Help: "Closed paper trades, by outcome",
	}, []string{"outcome"})

	StrategiesPaused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeveda_strategies_paused_total",
		Help: "Strategies auto-paused on poor rolling accuracy",
	})
)

// Scan engine and LLM metrics
var (
	EngineCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_engine_calls_total",
		Help: "Native scan engine invocations, by operation and status",
	}, []string{"operation", "status"})

	EngineCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradeveda_engine_call_duration_ms",
		Help:    "Scan engine invocation duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_llm_calls_total",
		Help: "LLM requests, by kind and status",
	}, []string{"kind", "status"})

	LLMCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradeveda_llm_call_duration_ms",
		Help:    "LLM request duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	LLMCircuitOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeveda_llm_circuit_open",
		Help: "Whether the LLM circuit breaker is open (1) or closed (0)",
	})
)

// Market data metrics
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_market_cache_hits_total",
		Help: "Market cache hits, by cache kind",
	}, []string{"kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_market_cache_misses_total",
		Help: "Market cache misses, by cache kind",
	}, []string{"kind"})

	TierFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_market_tier_fallbacks_total",
		Help: "Quote reads that fell through to a lower provider tier",
	}, []string{"tier"})
)

// Scheduler and portfolio gauges
var (
	RunningBots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeveda_running_bots",
		Help: "Bots currently scheduled for decision cycles",
	})

	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeveda_active_agents",
		Help: "User agents currently scheduled",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeveda_open_positions",
		Help: "Open paper positions across all accounts",
	})

	PortfolioNAV = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeveda_portfolio_nav",
		Help: "Aggregate paper portfolio net asset value in INR",
	})
)

// HTTP metrics
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeveda_http_requests_total",
		Help: "HTTP requests, by method, route, and status code",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeveda_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "path", "status_code"})
)

// RecordCycle records one completed decision cycle
func RecordCycle(kind string, durationMs float64) {
	CyclesTotal.WithLabelValues(kind).Inc()
	CycleDuration.WithLabelValues(kind).Observe(durationMs)
}

// RecordSignal records one persisted signal
func RecordSignal(source, signalType string) {
	SignalsGenerated.WithLabelValues(source, signalType).Inc()
}

// RecordTradeClosed records one settled paper trade
func RecordTradeClosed(outcome string) {
	TradesClosed.WithLabelValues(outcome).Inc()
}

// RecordEngineCall records one scan engine invocation
func RecordEngineCall(operation string, durationMs float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EngineCalls.WithLabelValues(operation, status).Inc()
	EngineCallDuration.Observe(durationMs)
}

// RecordLLMCall records one LLM request
func RecordLLMCall(kind string, durationMs float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	LLMCalls.WithLabelValues(kind, status).Inc()
	LLMCallDuration.Observe(durationMs)
}

// SetLLMCircuitOpen publishes the circuit breaker state
func SetLLMCircuitOpen(open bool) {
	if open {
		LLMCircuitOpen.Set(1)
	} else {
		LLMCircuitOpen.Set(0)
	}
}

// RecordCacheHit records a market cache hit
func RecordCacheHit(kind string) {
	CacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a market cache miss
func RecordCacheMiss(kind string) {
	CacheMisses.WithLabelValues(kind).Inc()
}

// RecordTierFallback records a quote read falling through to tier
func RecordTierFallback(tier string) {
	TierFallbacks.WithLabelValues(tier).Inc()
}

// RecordAPIRequest records one HTTP request
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
}
