package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the chain event indexer
type PrometheusMetrics struct {
	// Ingestion metrics
	EventsIndexedTotal *prometheus.CounterVec
	TicksTotal         *prometheus.CounterVec
	TickDuration       *prometheus.HistogramVec

	// Dispatch and retry metrics
	DispatchTotal        *prometheus.CounterVec
	RetrySweepTotal      *prometheus.CounterVec
	ExhaustedEventsTotal prometheus.Counter

	// Cursor metrics
	CursorHeight *prometheus.GaugeVec
	CursorLag    *prometheus.GaugeVec

	// Chain RPC metrics
	RPCRequestsTotal   *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
	ActivePollers     prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		EventsIndexedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_events_indexed_total",
				Help: "Total number of events durably recorded",
			},
			[]string{"source", "event_name"},
		),

		TicksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_ticks_total",
				Help: "Total number of scan ticks by outcome",
			},
			[]string{"source", "outcome"},
		),

		TickDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_tick_duration_seconds",
				Help:    "Time spent in a single scan tick",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		DispatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_dispatch_total",
				Help: "Total number of business handler dispatches by status",
			},
			[]string{"source", "status"},
		),

		RetrySweepTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_retry_sweep_total",
				Help: "Total number of retry sweep dispatches by status",
			},
			[]string{"status"},
		),

		ExhaustedEventsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_exhausted_events_total",
				Help: "Total number of events that reached the retry cap",
			},
		),

		CursorHeight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_cursor_height",
				Help: "Last processed height per source",
			},
			[]string{"source"},
		),

		CursorLag: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_cursor_lag_blocks",
				Help: "Blocks between confirmed head and the cursor per source",
			},
			[]string{"source"},
		),

		RPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_rpc_requests_total",
				Help: "Total number of chain RPC requests",
			},
			[]string{"network", "method", "status"},
		),

		RPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_rpc_request_duration_seconds",
				Help:    "Chain RPC request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"network", "method"},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_database_operation_duration_seconds",
				Help:    "Database operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_component_health",
				Help: "Component health status (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_goroutines",
				Help: "Current number of goroutines",
			},
		),

		ActivePollers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_active_pollers",
				Help: "Number of currently running source pollers",
			},
		),
	}
}

// RecordEventIndexed records a durably stored event
func (pm *PrometheusMetrics) RecordEventIndexed(source, eventName string) {
	pm.EventsIndexedTotal.WithLabelValues(source, eventName).Inc()
}

// RecordTick records a completed scan tick
func (pm *PrometheusMetrics) RecordTick(source, outcome string, duration time.Duration) {
	pm.TicksTotal.WithLabelValues(source, outcome).Inc()
	pm.TickDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordDispatch records a business handler dispatch outcome
func (pm *PrometheusMetrics) RecordDispatch(source, status string) {
	pm.DispatchTotal.WithLabelValues(source, status).Inc()
}

// RecordRetrySweep records a retry sweep dispatch outcome
func (pm *PrometheusMetrics) RecordRetrySweep(status string) {
	pm.RetrySweepTotal.WithLabelValues(status).Inc()
}

// RecordEventExhausted records an event reaching the retry cap
func (pm *PrometheusMetrics) RecordEventExhausted() {
	pm.ExhaustedEventsTotal.Inc()
}

// UpdateCursor updates the per-source cursor gauges
func (pm *PrometheusMetrics) UpdateCursor(source string, height, confirmedHead uint64) {
	pm.CursorHeight.WithLabelValues(source).Set(float64(height))
	if confirmedHead >= height {
		pm.CursorLag.WithLabelValues(source).Set(float64(confirmedHead - height))
	} else {
		pm.CursorLag.WithLabelValues(source).Set(0)
	}
}

// RecordRPCRequest records a chain RPC request
func (pm *PrometheusMetrics) RecordRPCRequest(network, method, status string, duration time.Duration) {
	pm.RPCRequestsTotal.WithLabelValues(network, method, status).Inc()
	pm.RPCRequestDuration.WithLabelValues(network, method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (pm *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	pm.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	pm.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateComponentHealth updates a component's health gauge
func (pm *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	pm.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateApplicationUptime updates the uptime gauge
func (pm *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	pm.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateMemoryUsage updates the memory gauge
func (pm *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	pm.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine gauge
func (pm *PrometheusMetrics) UpdateGoroutineCount(count int) {
	pm.GoroutineCount.Set(float64(count))
}

// UpdateActivePollers updates the active poller gauge
func (pm *PrometheusMetrics) UpdateActivePollers(count int) {
	pm.ActivePollers.Set(float64(count))
}
