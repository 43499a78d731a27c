// Package comm provides the high-level send/request/broadcast/register API
// the orchestrator uses, layered over the broker, state store, reliability
// layer, and tracer.
package comm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bidwise/rfpcore/broker"
	"github.com/bidwise/rfpcore/core"
	"github.com/bidwise/rfpcore/resilience"
	"github.com/bidwise/rfpcore/state"
	"github.com/bidwise/rfpcore/telemetry"
)

// AgentInfo records a registered agent's metadata. The agent type tag is
// consulted when broadcasts are filtered.
type AgentInfo struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Capabilities []string  `json:"capabilities,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ManagerConfig configures the communication manager.
type ManagerConfig struct {
	// Retry wraps every publish. Defaults to resilience.DefaultRetryConfig.
	Retry *resilience.RetryConfig

	// Breaker supplies defaults for the per-agent circuit breakers.
	Breaker *resilience.BreakerConfig

	// MaxTraces bounds the message tracer.
	MaxTraces int

	// Logger for manager events. Defaults to NoOpLogger.
	Logger core.Logger

	// Telemetry receives request latency, failure, and breaker metrics.
	// Defaults to NoOpTelemetry.
	Telemetry core.Telemetry
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Retry:     resilience.DefaultRetryConfig(),
		Breaker:   resilience.DefaultBreakerConfig(),
		MaxTraces: telemetry.DefaultMaxTraces,
		Logger:    &core.NoOpLogger{},
		Telemetry: &core.NoOpTelemetry{},
	}
}

// Manager coordinates agent registration, typed handler routing, correlated
// request/response exchange, and broadcast fan-out.
type Manager struct {
	broker   broker.Broker
	store    state.Store
	retry    *resilience.RetryConfig
	breakers *resilience.Factory
	tracer    *telemetry.MessageTracer
	perf      *telemetry.PerformanceMetrics
	logger    core.Logger
	telemetry core.Telemetry

	mu        sync.RWMutex
	agents    map[string]*AgentInfo
	handlers  map[string]map[core.MessageType]core.MessageHandler
	pending   map[string]chan *core.Message
	connected bool
}

// NewManager creates a manager over the given broker and state store.
func NewManager(b broker.Broker, s state.Store, config *ManagerConfig) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if config.Retry == nil {
		config.Retry = resilience.DefaultRetryConfig()
	}
	if config.Breaker == nil {
		config.Breaker = resilience.DefaultBreakerConfig()
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Telemetry == nil {
		config.Telemetry = &core.NoOpTelemetry{}
	}
	if config.Breaker.Metrics == nil {
		config.Breaker.Metrics = &telemetry.BreakerMetrics{Telemetry: config.Telemetry}
	}
	return &Manager{
		broker:    b,
		store:     s,
		retry:     config.Retry,
		breakers:  resilience.NewFactory(config.Breaker),
		tracer:    telemetry.NewMessageTracer(config.MaxTraces),
		perf:      telemetry.NewPerformanceMetrics(),
		logger:    config.Logger,
		telemetry: config.Telemetry,
		agents:    make(map[string]*AgentInfo),
		handlers:  make(map[string]map[core.MessageType]core.MessageHandler),
		pending:   make(map[string]chan *core.Message),
	}
}

// Connect opens the manager for traffic.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return core.ErrAlreadyConnected
	}
	m.connected = true
	m.logger.Info("Communication manager connected", map[string]interface{}{
		"operation": "comm_connect",
	})
	return nil
}

// Disconnect closes the broker and stops accepting traffic.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return core.ErrNotConnected
	}
	m.connected = false
	// Resolve nothing further: drop all pending futures.
	for corr, ch := range m.pending {
		close(ch)
		delete(m.pending, corr)
	}
	m.mu.Unlock()
	return m.broker.Close()
}

// Tracer exposes the per-message tracer for monitoring.
func (m *Manager) Tracer() *telemetry.MessageTracer {
	return m.tracer
}

// Performance exposes the rolling latency metrics.
func (m *Manager) Performance() *telemetry.PerformanceMetrics {
	return m.perf
}

// Breakers exposes the per-agent circuit breaker registry.
func (m *Manager) Breakers() *resilience.Factory {
	return m.breakers
}

// RegisterAgent subscribes the agent to its inbound queue and records its
// metadata in the state store.
func (m *Manager) RegisterAgent(ctx context.Context, id, agentType string, capabilities []string) error {
	m.mu.Lock()
	if _, exists := m.agents[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("comm.RegisterAgent [%s]: %w", id, core.ErrAgentAlreadyExists)
	}
	info := &AgentInfo{
		ID:           id,
		Type:         agentType,
		Capabilities: capabilities,
		RegisteredAt: time.Now(),
	}
	m.agents[id] = info
	m.mu.Unlock()

	m.broker.Subscribe(id, func(ctx context.Context, msg *core.Message) {
		m.dispatch(ctx, msg)
	})

	if err := m.store.Set(ctx, "agent:"+id, info, state.CategoryAgent, 0); err != nil {
		m.logger.Warn("Failed to persist agent metadata", map[string]interface{}{
			"operation": "comm_register_agent",
			"agent_id":  id,
			"error":     err.Error(),
		})
	}

	m.logger.Info("Agent registered", map[string]interface{}{
		"operation":  "comm_register_agent",
		"agent_id":   id,
		"agent_type": agentType,
	})
	return nil
}

// UnregisterAgent removes the agent's subscription, handlers, and metadata.
func (m *Manager) UnregisterAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	_, exists := m.agents[id]
	delete(m.agents, id)
	delete(m.handlers, id)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("comm.UnregisterAgent [%s]: %w", id, core.ErrAgentNotFound)
	}

	m.broker.Unsubscribe(id)
	m.store.Delete(ctx, "agent:"+id)
	return nil
}

// RegisteredAgents returns a snapshot of currently-registered agents.
func (m *Manager) RegisteredAgents() []AgentInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AgentInfo, 0, len(m.agents))
	for _, info := range m.agents {
		out = append(out, *info)
	}
	return out
}

// RegisterHandler installs a per-type handler for the agent's inbound
// messages. Registering a duplicate logs and keeps the last registration.
func (m *Manager) RegisterHandler(agentID string, msgType core.MessageType, handler core.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType, ok := m.handlers[agentID]
	if !ok {
		byType = make(map[core.MessageType]core.MessageHandler)
		m.handlers[agentID] = byType
	}
	if _, dup := byType[msgType]; dup {
		m.logger.Warn("Replacing existing handler", map[string]interface{}{
			"operation":    "comm_register_handler",
			"agent_id":     agentID,
			"message_type": string(msgType),
		})
	}
	byType[msgType] = handler
}

// SendMessage publishes a message with retry protection. Fire-and-forget;
// reports delivery success.
func (m *Manager) SendMessage(ctx context.Context, msg *core.Message) bool {
	if msg == nil {
		return false
	}
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	if !connected {
		return false
	}

	m.tracer.StartTrace(msg.ID, msg.Sender, msg.Recipient, msg.Type, msg.CorrelationID)

	attempt := 0
	err := resilience.Retry(ctx, m.retry, func() error {
		attempt++
		if attempt > 1 {
			m.perf.RecordRetry()
		}
		if !m.broker.Publish(ctx, msg) {
			return fmt.Errorf("comm.SendMessage [%s]: %w", msg.ID, core.ErrPublishFailed)
		}
		return nil
	})
	if err != nil {
		m.perf.RecordError()
		m.tracer.MarkFailed(msg.ID, err)
		m.telemetry.RecordMetric(telemetry.MetricSendFailures, 1, map[string]string{
			"recipient": msg.Recipient,
		})
		m.logger.Error("Message delivery failed", map[string]interface{}{
			"operation":  "comm_send_message",
			"message_id": msg.ID,
			"recipient":  msg.Recipient,
			"error":      err.Error(),
		})
		return false
	}

	m.tracer.MarkDelivered(msg.ID)
	m.telemetry.RecordMetric(telemetry.MetricMessagesPublished, 1, map[string]string{
		"recipient": msg.Recipient,
		"type":      string(msg.Type),
	})
	return true
}

// SendRequest sends a request and waits up to timeout for the correlated
// response. The correlation identifier is fresh per call and its pending
// future is removed on timeout, so a late response is dropped.
func (m *Manager) SendRequest(ctx context.Context, sender, recipient string, payload map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	cb := m.breakers.Get(recipient)
	if !cb.CanExecute() {
		m.perf.RecordCircuitTrip()
		return nil, fmt.Errorf("comm.SendRequest [%s]: %w", recipient, core.ErrCircuitBreakerOpen)
	}

	correlationID := uuid.New().String()
	future := make(chan *core.Message, 1)

	m.mu.Lock()
	m.pending[correlationID] = future
	m.mu.Unlock()

	msg := core.NewMessage(sender, recipient, core.TypeRequest, payload)
	msg.CorrelationID = correlationID
	msg.ReplyTo = sender
	msg.ExpiresAt = time.Now().Add(timeout)

	started := time.Now()
	if !m.SendMessage(ctx, msg) {
		m.removePending(correlationID)
		cb.RecordFailure()
		return nil, fmt.Errorf("comm.SendRequest [%s]: %w", recipient, core.ErrPublishFailed)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response, ok := <-future:
		if !ok || response == nil {
			cb.RecordFailure()
			return nil, fmt.Errorf("comm.SendRequest [%s]: %w", recipient, core.ErrNotConnected)
		}
		m.perf.RecordRequestLatency(time.Since(started))
		m.telemetry.RecordMetric(telemetry.MetricRequestLatency,
			float64(time.Since(started).Milliseconds()), map[string]string{"recipient": recipient})
		m.tracer.MarkAcknowledged(msg.ID)
		if status, _ := response.Payload["status"].(string); status == "failed" {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
		return response.Payload, nil

	case <-timer.C:
		m.removePending(correlationID)
		m.perf.RecordTimeout()
		m.telemetry.RecordMetric(telemetry.MetricRequestTimeouts, 1, map[string]string{
			"recipient": recipient,
		})
		m.tracer.MarkFailed(msg.ID, core.ErrRequestTimeout)
		cb.RecordFailure()
		return nil, fmt.Errorf("comm.SendRequest [%s] after %s: %w", recipient, timeout, core.ErrRequestTimeout)

	case <-ctx.Done():
		m.removePending(correlationID)
		m.tracer.MarkFailed(msg.ID, ctx.Err())
		return nil, ctx.Err()
	}
}

func (m *Manager) removePending(correlationID string) {
	m.mu.Lock()
	delete(m.pending, correlationID)
	m.mu.Unlock()
}

// SendResponse replies to a request, addressed to its reply-to and carrying
// its correlation identifier. Requests lacking either are logged and dropped.
func (m *Manager) SendResponse(ctx context.Context, request *core.Message, payload map[string]interface{}) bool {
	if request == nil || request.ReplyTo == "" || request.CorrelationID == "" {
		m.logger.Warn("Dropping response without reply routing", map[string]interface{}{
			"operation": "comm_send_response",
		})
		return false
	}

	response := core.NewMessage(request.Recipient, request.ReplyTo, core.TypeResponse, payload)
	response.CorrelationID = request.CorrelationID
	response.Priority = request.Priority
	return m.SendMessage(ctx, response)
}

// Broadcast sends a notification to every currently-registered agent other
// than the sender, optionally filtered by agent type. Returns the number of
// agents the notification was sent to.
func (m *Manager) Broadcast(ctx context.Context, sender string, payload map[string]interface{}, agentType string) int {
	m.mu.RLock()
	recipients := make([]string, 0, len(m.agents))
	for id, info := range m.agents {
		if id == sender {
			continue
		}
		if agentType != "" && info.Type != agentType {
			continue
		}
		recipients = append(recipients, id)
	}
	m.mu.RUnlock()

	sent := 0
	for _, recipient := range recipients {
		msg := core.NewMessage(sender, recipient, core.TypeNotification, payload)
		if m.SendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

// SetAgentState stores a keyed value namespaced to the agent.
func (m *Manager) SetAgentState(ctx context.Context, agentID, key string, value interface{}) error {
	return m.store.Set(ctx, "agentstate:"+agentID+":"+key, value, state.CategoryAgent, 0)
}

// GetAgentState retrieves a keyed value namespaced to the agent.
func (m *Manager) GetAgentState(ctx context.Context, agentID, key string) (interface{}, bool) {
	return m.store.Get(ctx, "agentstate:"+agentID+":"+key)
}

// dispatch routes an inbound message: correlated responses resolve their
// pending future exactly once; everything else goes to the recipient's
// per-type handler.
func (m *Manager) dispatch(ctx context.Context, msg *core.Message) {
	if msg.IsExpired() {
		m.logger.Debug("Dropping expired message", map[string]interface{}{
			"operation":  "comm_dispatch",
			"message_id": msg.ID,
		})
		return
	}

	if msg.Type == core.TypeResponse && msg.CorrelationID != "" {
		m.mu.Lock()
		future, ok := m.pending[msg.CorrelationID]
		if ok {
			delete(m.pending, msg.CorrelationID)
		}
		m.mu.Unlock()

		if ok {
			future <- msg
			return
		}
		// Late response for a timed-out or cancelled request.
		m.logger.Debug("Dropping uncorrelated response", map[string]interface{}{
			"operation":      "comm_dispatch",
			"message_id":     msg.ID,
			"correlation_id": msg.CorrelationID,
		})
		return
	}

	m.mu.RLock()
	handler := m.handlers[msg.Recipient][msg.Type]
	m.mu.RUnlock()

	if handler == nil {
		m.logger.Warn("No handler for message", map[string]interface{}{
			"operation":    "comm_dispatch",
			"message_id":   msg.ID,
			"recipient":    msg.Recipient,
			"message_type": string(msg.Type),
		})
		return
	}

	m.tracer.RecordHop(msg.ID, "handler:"+msg.Recipient)
	handler(ctx, msg)
}
