package telemetry

import (
	"sync"
	"time"
)

// QueueHealth tags a queue by its depth relative to the high-water mark.
type QueueHealth string

const (
	QueueIdle     QueueHealth = "idle"
	QueueHealthy  QueueHealth = "healthy"
	QueueWarning  QueueHealth = "warning"
	QueueCritical QueueHealth = "critical"
)

// QueueStats is a point-in-time snapshot of one recipient queue.
type QueueStats struct {
	Name          string      `json:"name"`
	Depth         int64       `json:"depth"`
	TotalEnqueued int64       `json:"total_enqueued"`
	TotalDequeued int64       `json:"total_dequeued"`
	HighWaterMark int64       `json:"high_water_mark"`
	LastActivity  time.Time   `json:"last_activity"`
	Health        QueueHealth `json:"health"`
}

type queueState struct {
	depth         int64
	totalEnqueued int64
	totalDequeued int64
	highWaterMark int64
	lastActivity  time.Time
}

// QueueMonitor tracks depth, throughput, and health per recipient queue.
type QueueMonitor struct {
	mu     sync.RWMutex
	queues map[string]*queueState
}

// NewQueueMonitor creates an empty monitor.
func NewQueueMonitor() *QueueMonitor {
	return &QueueMonitor{queues: make(map[string]*queueState)}
}

// RecordEnqueue notes a message entering the named queue.
func (m *QueueMonitor) RecordEnqueue(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state(queue)
	state.depth++
	state.totalEnqueued++
	if state.depth > state.highWaterMark {
		state.highWaterMark = state.depth
	}
	state.lastActivity = time.Now()
}

// RecordDequeue notes a message leaving the named queue.
func (m *QueueMonitor) RecordDequeue(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state(queue)
	if state.depth > 0 {
		state.depth--
	}
	state.totalDequeued++
	state.lastActivity = time.Now()
}

func (m *QueueMonitor) state(queue string) *queueState {
	state, ok := m.queues[queue]
	if !ok {
		state = &queueState{}
		m.queues[queue] = state
	}
	return state
}

// Stats returns a snapshot for one queue. Unknown queues report as idle.
func (m *QueueMonitor) Stats(queue string) QueueStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.queues[queue]
	if !ok {
		return QueueStats{Name: queue, Health: QueueIdle}
	}
	return QueueStats{
		Name:          queue,
		Depth:         state.depth,
		TotalEnqueued: state.totalEnqueued,
		TotalDequeued: state.totalDequeued,
		HighWaterMark: state.highWaterMark,
		LastActivity:  state.lastActivity,
		Health:        health(state.depth, state.highWaterMark),
	}
}

// AllStats returns snapshots for every observed queue.
func (m *QueueMonitor) AllStats() map[string]QueueStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]QueueStats, len(m.queues))
	for name := range m.queues {
		state := m.queues[name]
		out[name] = QueueStats{
			Name:          name,
			Depth:         state.depth,
			TotalEnqueued: state.totalEnqueued,
			TotalDequeued: state.totalDequeued,
			HighWaterMark: state.highWaterMark,
			LastActivity:  state.lastActivity,
			Health:        health(state.depth, state.highWaterMark),
		}
	}
	return out
}

func health(depth, highWater int64) QueueHealth {
	if depth == 0 {
		return QueueIdle
	}
	if highWater == 0 {
		return QueueHealthy
	}
	ratio := float64(depth) / float64(highWater)
	switch {
	case ratio < 0.5:
		return QueueHealthy
	case ratio < 0.8:
		return QueueWarning
	default:
		return QueueCritical
	}
}
