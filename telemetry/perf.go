package telemetry

import (
	"sort"
	"sync"
	"time"
)

// sampleWindowSize bounds the rolling latency windows.
const sampleWindowSize = 1000

// sampleRing is a fixed-capacity FIFO of duration samples.
type sampleRing struct {
	samples []time.Duration
	next    int
	full    bool
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{samples: make([]time.Duration, capacity)}
}

func (r *sampleRing) add(d time.Duration) {
	r.samples[r.next] = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *sampleRing) snapshot() []time.Duration {
	if r.full {
		out := make([]time.Duration, len(r.samples))
		copy(out, r.samples)
		return out
	}
	out := make([]time.Duration, r.next)
	copy(out, r.samples[:r.next])
	return out
}

// percentile returns the pth percentile of the samples (p in [0,100]).
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p / 100.0)
	return sorted[idx]
}

func mean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples))
}

// PerformanceSnapshot is a point-in-time view of the rolling metrics.
type PerformanceSnapshot struct {
	RequestCount       int64         `json:"request_count"`
	MeanLatency        time.Duration `json:"mean_latency"`
	P95Latency         time.Duration `json:"p95_latency"`
	P99Latency         time.Duration `json:"p99_latency"`
	MeanProcessingTime time.Duration `json:"mean_processing_time"`
	ErrorCount         int64         `json:"error_count"`
	TimeoutCount       int64         `json:"timeout_count"`
	RetryCount         int64         `json:"retry_count"`
	CircuitTripCount   int64         `json:"circuit_trip_count"`
	ErrorsPerMinute    float64       `json:"errors_per_minute"`
	Uptime             time.Duration `json:"uptime"`
}

// PerformanceMetrics keeps rolling windows of request latencies and
// processing times plus failure counters.
type PerformanceMetrics struct {
	mu              sync.Mutex
	latencies       *sampleRing
	processingTimes *sampleRing
	requestCount    int64
	errorCount      int64
	timeoutCount    int64
	retryCount      int64
	circuitTrips    int64
	startedAt       time.Time
}

// NewPerformanceMetrics creates metrics with 1000-sample windows.
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{
		latencies:       newSampleRing(sampleWindowSize),
		processingTimes: newSampleRing(sampleWindowSize),
		startedAt:       time.Now(),
	}
}

// RecordRequestLatency adds a request round-trip sample.
func (p *PerformanceMetrics) RecordRequestLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latencies.add(d)
	p.requestCount++
}

// RecordProcessingTime adds a downstream processing sample.
func (p *PerformanceMetrics) RecordProcessingTime(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processingTimes.add(d)
}

// RecordError counts a failed operation.
func (p *PerformanceMetrics) RecordError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorCount++
}

// RecordTimeout counts an elapsed deadline.
func (p *PerformanceMetrics) RecordTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeoutCount++
	p.errorCount++
}

// RecordRetry counts a retry attempt.
func (p *PerformanceMetrics) RecordRetry() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retryCount++
}

// RecordCircuitTrip counts a breaker opening.
func (p *PerformanceMetrics) RecordCircuitTrip() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.circuitTrips++
}

// Snapshot computes the current rolling statistics.
func (p *PerformanceMetrics) Snapshot() PerformanceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	latencies := p.latencies.snapshot()
	processing := p.processingTimes.snapshot()
	uptime := time.Since(p.startedAt)

	errorsPerMinute := 0.0
	if minutes := uptime.Minutes(); minutes > 0 {
		errorsPerMinute = float64(p.errorCount) / minutes
	}

	return PerformanceSnapshot{
		RequestCount:       p.requestCount,
		MeanLatency:        mean(latencies),
		P95Latency:         percentile(latencies, 95),
		P99Latency:         percentile(latencies, 99),
		MeanProcessingTime: mean(processing),
		ErrorCount:         p.errorCount,
		TimeoutCount:       p.timeoutCount,
		RetryCount:         p.retryCount,
		CircuitTripCount:   p.circuitTrips,
		ErrorsPerMinute:    errorsPerMinute,
		Uptime:             uptime,
	}
}
