package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// Manager owns the indexer's metric surface: the Prometheus collectors plus
// the runtime gauges refreshed on demand by the operator API.
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time
}

// NewManager creates the metrics manager and registers all collectors
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     utils.ComponentLogger("metrics"),
		startTime:  time.Now(),
	}
}

// GetPrometheusMetrics returns the Prometheus collectors
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// Uptime reports how long the process has been running
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// RuntimeSnapshot is one observation of process-level state
type RuntimeSnapshot struct {
	HeapBytes  uint64
	Goroutines int
	Uptime     time.Duration
}

// Snapshot reads the current process stats
func (m *Manager) Snapshot() RuntimeSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeSnapshot{
		HeapBytes:  memStats.Alloc,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     m.Uptime(),
	}
}

// UpdateSystemMetrics publishes the current runtime snapshot to the gauges
func (m *Manager) UpdateSystemMetrics() {
	snap := m.Snapshot()

	m.prometheus.UpdateMemoryUsage(snap.HeapBytes)
	m.prometheus.UpdateGoroutineCount(snap.Goroutines)
	m.prometheus.UpdateApplicationUptime(m.startTime)
}
