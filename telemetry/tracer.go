// Package telemetry provides per-message tracing, queue gauges, latency
// statistics, and the OpenTelemetry wiring used across the core.
package telemetry

import (
	"sync"
	"time"

	"github.com/bidwise/rfpcore/core"
)

// TraceStatus is the lifecycle status of a traced message. Transitions are
// monotonic; failed is terminal.
type TraceStatus string

const (
	TraceInFlight     TraceStatus = "in_flight"
	TraceDelivered    TraceStatus = "delivered"
	TraceAcknowledged TraceStatus = "acknowledged"
	TraceFailed       TraceStatus = "failed"
)

func (s TraceStatus) rank() int {
	switch s {
	case TraceInFlight:
		return 0
	case TraceDelivered:
		return 1
	case TraceAcknowledged:
		return 2
	case TraceFailed:
		return 3
	}
	return -1
}

// MessageTrace records one message's lifecycle.
type MessageTrace struct {
	MessageID      string                   `json:"message_id"`
	CorrelationID  string                   `json:"correlation_id,omitempty"`
	Sender         string                   `json:"sender"`
	Recipient      string                   `json:"recipient"`
	Type           core.MessageType         `json:"type"`
	CreatedAt      time.Time                `json:"created_at"`
	CompletedAt    time.Time                `json:"completed_at,omitempty"`
	Hops           []string                 `json:"hops,omitempty"`
	StageDurations map[string]time.Duration `json:"stage_durations,omitempty"`
	Status         TraceStatus              `json:"status"`
	Error          string                   `json:"error,omitempty"`
}

// Analytics aggregates terminal trace outcomes. Updated on every terminal
// status change in amortized O(1). TotalMessages counts traces started;
// all other fields count only traces that reached a terminal status.
type Analytics struct {
	TotalMessages int64                      `json:"total_messages"`
	ByType        map[core.MessageType]int64 `json:"by_type"`
	BySender      map[string]int64           `json:"by_sender"`
	ByRecipient   map[string]int64           `json:"by_recipient"`
	Succeeded     int64                      `json:"succeeded"`
	Failed        int64                      `json:"failed"`
	MeanLatency   time.Duration              `json:"mean_latency"`
	MinLatency    time.Duration              `json:"min_latency"`
	MaxLatency    time.Duration              `json:"max_latency"`
}

// SuccessRate returns the fraction of terminal traces that were acknowledged.
func (a *Analytics) SuccessRate() float64 {
	total := a.Succeeded + a.Failed
	if total == 0 {
		return 0
	}
	return float64(a.Succeeded) / float64(total)
}

// FailureRate returns the fraction of terminal traces that failed.
func (a *Analytics) FailureRate() float64 {
	total := a.Succeeded + a.Failed
	if total == 0 {
		return 0
	}
	return float64(a.Failed) / float64(total)
}

// MessageTracer owns the per-message trace map, bounded at maxTraces with
// oldest-first eviction. Calls targeting unknown identifiers are no-ops.
type MessageTracer struct {
	mu        sync.Mutex
	traces    map[string]*MessageTrace
	order     []string // creation order, for eviction
	maxTraces int
	analytics Analytics
	logger    core.Logger
}

// DefaultMaxTraces bounds retained traces when no cap is configured.
const DefaultMaxTraces = 10000

// NewMessageTracer creates a tracer retaining at most maxTraces traces.
func NewMessageTracer(maxTraces int) *MessageTracer {
	if maxTraces <= 0 {
		maxTraces = DefaultMaxTraces
	}
	return &MessageTracer{
		traces:    make(map[string]*MessageTrace),
		maxTraces: maxTraces,
		analytics: Analytics{
			ByType:      make(map[core.MessageType]int64),
			BySender:    make(map[string]int64),
			ByRecipient: make(map[string]int64),
		},
		logger: &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for tracer events.
func (t *MessageTracer) SetLogger(logger core.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// StartTrace begins a trace for a message.
func (t *MessageTracer) StartTrace(msgID, sender, recipient string, msgType core.MessageType, correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.traces[msgID]; exists {
		return
	}

	if len(t.traces) >= t.maxTraces {
		t.evictOldest()
	}

	t.traces[msgID] = &MessageTrace{
		MessageID:      msgID,
		CorrelationID:  correlationID,
		Sender:         sender,
		Recipient:      recipient,
		Type:           msgType,
		CreatedAt:      time.Now(),
		Status:         TraceInFlight,
		StageDurations: make(map[string]time.Duration),
	}
	t.order = append(t.order, msgID)
	t.analytics.TotalMessages++
}

// evictOldest drops the oldest live trace. Caller holds the lock.
func (t *MessageTracer) evictOldest() {
	for len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]
		if _, live := t.traces[oldest]; live {
			delete(t.traces, oldest)
			return
		}
	}
}

// RecordHop appends a stage label to the message's hop sequence.
func (t *MessageTracer) RecordHop(msgID, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trace, ok := t.traces[msgID]; ok {
		trace.Hops = append(trace.Hops, label)
	}
}

// RecordProcessingTime records how long a stage spent on the message.
func (t *MessageTracer) RecordProcessingTime(msgID, stage string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trace, ok := t.traces[msgID]; ok {
		trace.StageDurations[stage] = duration
	}
}

// MarkDelivered transitions the trace to delivered.
func (t *MessageTracer) MarkDelivered(msgID string) {
	t.transition(msgID, TraceDelivered, "")
}

// MarkAcknowledged transitions the trace to its terminal success status.
func (t *MessageTracer) MarkAcknowledged(msgID string) {
	t.transition(msgID, TraceAcknowledged, "")
}

// MarkFailed transitions the trace to its terminal failure status.
func (t *MessageTracer) MarkFailed(msgID string, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	t.transition(msgID, TraceFailed, reason)
}

func (t *MessageTracer) transition(msgID string, status TraceStatus, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trace, ok := t.traces[msgID]
	if !ok {
		return
	}
	// Monotonic: never move backwards, and failed is terminal.
	if trace.Status == TraceFailed || status.rank() <= trace.Status.rank() {
		return
	}

	trace.Status = status
	if reason != "" {
		trace.Error = reason
	}

	if status == TraceAcknowledged || status == TraceFailed {
		trace.CompletedAt = time.Now()
		t.recordTerminal(trace)
	}
}

// recordTerminal updates the running aggregate. Caller holds the lock.
func (t *MessageTracer) recordTerminal(trace *MessageTrace) {
	latency := trace.CompletedAt.Sub(trace.CreatedAt)
	if trace.Status == TraceAcknowledged {
		t.analytics.Succeeded++
	} else {
		t.analytics.Failed++
	}
	t.analytics.ByType[trace.Type]++
	t.analytics.BySender[trace.Sender]++
	t.analytics.ByRecipient[trace.Recipient]++

	terminal := t.analytics.Succeeded + t.analytics.Failed
	if terminal == 1 {
		t.analytics.MinLatency = latency
		t.analytics.MaxLatency = latency
		t.analytics.MeanLatency = latency
		return
	}
	if latency < t.analytics.MinLatency {
		t.analytics.MinLatency = latency
	}
	if latency > t.analytics.MaxLatency {
		t.analytics.MaxLatency = latency
	}
	// Running mean over terminal traces.
	t.analytics.MeanLatency += (latency - t.analytics.MeanLatency) / time.Duration(terminal)
}

// GetTrace returns a copy of the trace for the message, if retained.
func (t *MessageTracer) GetTrace(msgID string) (MessageTrace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trace, ok := t.traces[msgID]
	if !ok {
		return MessageTrace{}, false
	}
	out := *trace
	out.Hops = append([]string(nil), trace.Hops...)
	out.StageDurations = make(map[string]time.Duration, len(trace.StageDurations))
	for k, v := range trace.StageDurations {
		out.StageDurations[k] = v
	}
	return out, true
}

// RecentFailures returns up to limit failed traces, newest first.
func (t *MessageTracer) RecentFailures(limit int) []MessageTrace {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []MessageTrace
	for i := len(t.order) - 1; i >= 0 && len(out) < limit; i-- {
		if trace, ok := t.traces[t.order[i]]; ok && trace.Status == TraceFailed {
			out = append(out, *trace)
		}
	}
	return out
}

// Len returns the number of retained traces.
func (t *MessageTracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.traces)
}

// Analytics returns a snapshot of the terminal-trace aggregate.
func (t *MessageTracer) Analytics() Analytics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.analytics
	out.ByType = make(map[core.MessageType]int64, len(t.analytics.ByType))
	for k, v := range t.analytics.ByType {
		out.ByType[k] = v
	}
	out.BySender = make(map[string]int64, len(t.analytics.BySender))
	for k, v := range t.analytics.BySender {
		out.BySender[k] = v
	}
	out.ByRecipient = make(map[string]int64, len(t.analytics.ByRecipient))
	for k, v := range t.analytics.ByRecipient {
		out.ByRecipient[k] = v
	}
	return out
}
