package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Collectors register against the default registry, so the package shares
// one manager across tests.
var testManager = NewManager()

func TestSnapshotReportsProcessState(t *testing.T) {
	snap := testManager.Snapshot()

	assert.Greater(t, snap.Goroutines, 0)
	assert.Greater(t, snap.HeapBytes, uint64(0))
	assert.GreaterOrEqual(t, snap.Uptime.Nanoseconds(), int64(0))
}

func TestUpdateSystemMetricsPublishesGauges(t *testing.T) {
	testManager.UpdateSystemMetrics()

	pm := testManager.GetPrometheusMetrics()
	require.NotNil(t, pm)

	assert.Greater(t, testutil.ToFloat64(pm.GoroutineCount), 0.0)
	assert.Greater(t, testutil.ToFloat64(pm.MemoryUsage), 0.0)
}
