package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/bidwise/rfpcore/core"
)

// Well-known metric names emitted by the core.
const (
	MetricMessagesPublished = "rfpcore.comm.messages_published"
	MetricSendFailures      = "rfpcore.comm.send_failures"
	MetricRequestLatency    = "rfpcore.comm.request_latency_ms"
	MetricRequestTimeouts   = "rfpcore.comm.request_timeouts"
	MetricStageLatency      = "rfpcore.workflow.stage_latency_ms"
	MetricWorkflowsStarted  = "rfpcore.workflow.started"
	MetricWorkflowsFailed   = "rfpcore.workflow.failed"
	MetricBreakerOutcome    = "rfpcore.resilience.breaker_outcome"
	MetricBreakerRejected   = "rfpcore.resilience.breaker_rejected"
	MetricBreakerState      = "rfpcore.resilience.breaker_state_change"
)

// BreakerMetrics forwards circuit breaker outcomes to a telemetry sink.
// It satisfies the breaker's metrics collector contract.
type BreakerMetrics struct {
	Telemetry core.Telemetry
}

func (b *BreakerMetrics) RecordSuccess(name string) {
	b.Telemetry.RecordMetric(MetricBreakerOutcome, 1, map[string]string{"breaker": name, "outcome": "success"})
}

func (b *BreakerMetrics) RecordFailure(name string) {
	b.Telemetry.RecordMetric(MetricBreakerOutcome, 1, map[string]string{"breaker": name, "outcome": "failure"})
}

func (b *BreakerMetrics) RecordStateChange(name, from, to string) {
	b.Telemetry.RecordMetric(MetricBreakerState, 1, map[string]string{"breaker": name, "from": from, "to": to})
}

func (b *BreakerMetrics) RecordRejection(name string) {
	b.Telemetry.RecordMetric(MetricBreakerRejected, 1, map[string]string{"breaker": name})
}

// MetricInstruments holds cached metric instruments for efficient recording.
type MetricInstruments struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	mu         sync.RWMutex
}

// NewMetricInstruments creates a new metrics instrument cache.
func NewMetricInstruments(meterName string) *MetricInstruments {
	return &MetricInstruments{
		meter:      otel.Meter(meterName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// RecordCounter increments a counter metric.
func (m *MetricInstruments) RecordCounter(ctx context.Context, name string, value int64, opts ...metric.AddOption) error {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		// Double-check after acquiring write lock
		if counter, exists = m.counters[name]; !exists {
			var err error
			counter, err = m.meter.Int64Counter(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("failed to create counter %s: %w", name, err)
			}
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	counter.Add(ctx, value, opts...)
	return nil
}

// RecordHistogram records a value distribution (like latencies).
func (m *MetricInstruments) RecordHistogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if histogram, exists = m.histograms[name]; !exists {
			var err error
			histogram, err = m.meter.Float64Histogram(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("failed to create histogram %s: %w", name, err)
			}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.Record(ctx, value, opts...)
	return nil
}
