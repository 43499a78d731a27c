package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueMonitorCounts(t *testing.T) {
	m := NewQueueMonitor()

	for i := 0; i < 5; i++ {
		m.RecordEnqueue("pricing_agent")
	}
	m.RecordDequeue("pricing_agent")
	m.RecordDequeue("pricing_agent")

	stats := m.Stats("pricing_agent")
	assert.Equal(t, int64(3), stats.Depth)
	assert.Equal(t, int64(5), stats.TotalEnqueued)
	assert.Equal(t, int64(2), stats.TotalDequeued)
	assert.Equal(t, int64(5), stats.HighWaterMark)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestQueueMonitorUnknownQueueIdle(t *testing.T) {
	m := NewQueueMonitor()
	stats := m.Stats("ghost")
	assert.Equal(t, QueueIdle, stats.Health)
	assert.Equal(t, int64(0), stats.Depth)
}

func TestQueueMonitorHealthBands(t *testing.T) {
	m := NewQueueMonitor()

	// Establish a high-water mark of 10.
	for i := 0; i < 10; i++ {
		m.RecordEnqueue("q")
	}
	assert.Equal(t, QueueCritical, m.Stats("q").Health)

	// Drain to 8: still at 80% of the mark.
	m.RecordDequeue("q")
	m.RecordDequeue("q")
	assert.Equal(t, QueueCritical, m.Stats("q").Health)

	// Drain to 7: 70% is warning.
	m.RecordDequeue("q")
	assert.Equal(t, QueueWarning, m.Stats("q").Health)

	// Drain to 4: 40% is healthy.
	for i := 0; i < 3; i++ {
		m.RecordDequeue("q")
	}
	assert.Equal(t, QueueHealthy, m.Stats("q").Health)

	// Empty is idle.
	for i := 0; i < 4; i++ {
		m.RecordDequeue("q")
	}
	assert.Equal(t, QueueIdle, m.Stats("q").Health)
}

func TestQueueMonitorDepthNeverNegative(t *testing.T) {
	m := NewQueueMonitor()
	m.RecordDequeue("q")
	assert.Equal(t, int64(0), m.Stats("q").Depth)
}

func TestQueueMonitorAllStats(t *testing.T) {
	m := NewQueueMonitor()
	m.RecordEnqueue("a")
	m.RecordEnqueue("b")

	all := m.AllStats()
	assert.Len(t, all, 2)
	assert.Equal(t, int64(1), all["a"].Depth)
	assert.Equal(t, int64(1), all["b"].Depth)
}
