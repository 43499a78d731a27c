package comm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwise/rfpcore/broker"
	"github.com/bidwise/rfpcore/core"
	"github.com/bidwise/rfpcore/resilience"
	"github.com/bidwise/rfpcore/state"
)

func newTestManager(t *testing.T, config *ManagerConfig) *Manager {
	t.Helper()
	if config == nil {
		config = DefaultManagerConfig()
		config.Retry = &resilience.RetryConfig{
			MaxAttempts: 1,
			Strategy:    resilience.StrategyImmediate,
		}
	}
	store := state.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	m := NewManager(broker.NewMemoryBroker(nil), store, config)
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { m.Disconnect(context.Background()) })
	return m
}

// respondWith installs an agent that answers every request with the given
// payload.
func respondWith(t *testing.T, m *Manager, agentID string, payload map[string]interface{}) {
	t.Helper()
	require.NoError(t, m.RegisterAgent(context.Background(), agentID, "test", nil))
	m.RegisterHandler(agentID, core.TypeRequest, func(ctx context.Context, msg *core.Message) {
		m.SendResponse(ctx, msg, payload)
	})
}

func TestManagerConnectTwice(t *testing.T) {
	m := newTestManager(t, nil)
	assert.ErrorIs(t, m.Connect(context.Background()), core.ErrAlreadyConnected)
}

func TestManagerRegisterAgentTwice(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "pricing_agent", "pricing", nil))
	err := m.RegisterAgent(ctx, "pricing_agent", "pricing", nil)
	assert.ErrorIs(t, err, core.ErrAgentAlreadyExists)
}

func TestManagerUnregisterUnknownAgent(t *testing.T) {
	m := newTestManager(t, nil)
	err := m.UnregisterAgent(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestManagerRequestResponse(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	respondWith(t, m, "pricing_agent", map[string]interface{}{
		"status": "success",
		"total":  125.50,
	})

	response, err := m.SendRequest(ctx, "orchestrator", "pricing_agent", map[string]interface{}{
		"rfp_id": "rfp-1",
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "success", response["status"])
	assert.Equal(t, 125.50, response["total"])
}

func TestManagerRequestTimeout(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	// Registered but silent: requests are delivered and never answered.
	require.NoError(t, m.RegisterAgent(ctx, "slow_agent", "test", nil))
	m.RegisterHandler("slow_agent", core.TypeRequest, func(ctx context.Context, msg *core.Message) {})

	_, err := m.SendRequest(ctx, "orchestrator", "slow_agent", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrRequestTimeout)
	assert.Equal(t, int64(1), m.Performance().Snapshot().TimeoutCount)
}

func TestManagerLateResponseDropped(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))

	var mu sync.Mutex
	var captured *core.Message
	require.NoError(t, m.RegisterAgent(ctx, "lagging_agent", "test", nil))
	m.RegisterHandler("lagging_agent", core.TypeRequest, func(ctx context.Context, msg *core.Message) {
		mu.Lock()
		captured = msg
		mu.Unlock()
	})

	_, err := m.SendRequest(ctx, "orchestrator", "lagging_agent", nil, 30*time.Millisecond)
	require.ErrorIs(t, err, core.ErrRequestTimeout)

	// Answering after the timeout must not disturb anything.
	mu.Lock()
	request := captured
	mu.Unlock()
	require.NotNil(t, request)
	// The request expired with its timeout, so the reply is built fresh.
	request.ExpiresAt = time.Time{}
	assert.True(t, m.SendResponse(ctx, request, map[string]interface{}{"status": "success"}))
}

func TestManagerBreakerOpensAfterRepeatedFailures(t *testing.T) {
	config := DefaultManagerConfig()
	config.Retry = &resilience.RetryConfig{MaxAttempts: 1, Strategy: resilience.StrategyImmediate}
	config.Breaker = &resilience.BreakerConfig{
		Name:             "default",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	}
	m := newTestManager(t, config)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	respondWith(t, m, "flaky_agent", map[string]interface{}{
		"status": "failed",
		"error":  "downstream unavailable",
	})

	for i := 0; i < 3; i++ {
		response, err := m.SendRequest(ctx, "orchestrator", "flaky_agent", nil, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "failed", response["status"])
	}

	_, err := m.SendRequest(ctx, "orchestrator", "flaky_agent", nil, time.Second)
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
	assert.Equal(t, resilience.StateOpen, m.Breakers().Get("flaky_agent").State())
}

func TestManagerBreakerIsolatedPerAgent(t *testing.T) {
	config := DefaultManagerConfig()
	config.Retry = &resilience.RetryConfig{MaxAttempts: 1, Strategy: resilience.StrategyImmediate}
	config.Breaker = &resilience.BreakerConfig{
		Name:             "default",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	}
	m := newTestManager(t, config)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	respondWith(t, m, "broken_agent", map[string]interface{}{"status": "failed"})
	respondWith(t, m, "healthy_agent", map[string]interface{}{"status": "success"})

	_, err := m.SendRequest(ctx, "orchestrator", "broken_agent", nil, time.Second)
	require.NoError(t, err)
	_, err = m.SendRequest(ctx, "orchestrator", "broken_agent", nil, time.Second)
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)

	response, err := m.SendRequest(ctx, "orchestrator", "healthy_agent", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "success", response["status"])
}

func TestManagerBroadcastExcludesSender(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	received := make(map[string]int)
	register := func(id, agentType string) {
		require.NoError(t, m.RegisterAgent(ctx, id, agentType, nil))
		m.RegisterHandler(id, core.TypeNotification, func(ctx context.Context, msg *core.Message) {
			mu.Lock()
			received[id]++
			mu.Unlock()
		})
	}
	register("orchestrator", "orchestrator")
	register("pricing_agent", "pricing")
	register("sales_agent", "sales")

	sent := m.Broadcast(ctx, "orchestrator", map[string]interface{}{"event": "workflow_started"}, "")
	assert.Equal(t, 2, sent)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, received["orchestrator"])
	assert.Equal(t, 1, received["pricing_agent"])
	assert.Equal(t, 1, received["sales_agent"])
}

func TestManagerBroadcastTypeFilter(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	require.NoError(t, m.RegisterAgent(ctx, "pricing_agent", "pricing", nil))
	require.NoError(t, m.RegisterAgent(ctx, "sales_agent", "sales", nil))

	sent := m.Broadcast(ctx, "orchestrator", map[string]interface{}{"event": "x"}, "pricing")
	assert.Equal(t, 1, sent)
}

func TestManagerDuplicateHandlerLastWins(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "agent", "test", nil))

	var calls []string
	var mu sync.Mutex
	m.RegisterHandler("agent", core.TypeCommand, func(ctx context.Context, msg *core.Message) {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
	})
	m.RegisterHandler("agent", core.TypeCommand, func(ctx context.Context, msg *core.Message) {
		mu.Lock()
		calls = append(calls, "second")
		mu.Unlock()
	})

	assert.True(t, m.SendMessage(ctx, core.NewMessage("tester", "agent", core.TypeCommand, nil)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second"}, calls)
}

func TestManagerSendResponseRequiresRouting(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	assert.False(t, m.SendResponse(ctx, nil, nil))
	assert.False(t, m.SendResponse(ctx, core.NewMessage("a", "b", core.TypeRequest, nil), nil))
}

func TestManagerAgentState(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.SetAgentState(ctx, "pricing_agent", "last_quote", "q-42"))
	value, ok := m.GetAgentState(ctx, "pricing_agent", "last_quote")
	require.True(t, ok)
	assert.Equal(t, "q-42", value)

	_, ok = m.GetAgentState(ctx, "pricing_agent", "missing")
	assert.False(t, ok)
}

func TestManagerRegisteredAgents(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "a", "x", []string{"parse"}))
	require.NoError(t, m.RegisterAgent(ctx, "b", "y", nil))
	assert.Len(t, m.RegisteredAgents(), 2)

	require.NoError(t, m.UnregisterAgent(ctx, "a"))
	agents := m.RegisteredAgents()
	require.Len(t, agents, 1)
	assert.Equal(t, "b", agents[0].ID)
}

func TestManagerRequestTracing(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent(ctx, "orchestrator", "orchestrator", nil))
	respondWith(t, m, "echo_agent", map[string]interface{}{"status": "success"})

	_, err := m.SendRequest(ctx, "orchestrator", "echo_agent", nil, time.Second)
	require.NoError(t, err)

	analytics := m.Tracer().Analytics()
	assert.Equal(t, int64(1), analytics.Succeeded)
	assert.Equal(t, int64(0), analytics.Failed)

	snap := m.Performance().Snapshot()
	assert.Equal(t, int64(1), snap.RequestCount)
}

func TestManagerDisconnectedSendFails(t *testing.T) {
	store := state.NewMemoryStore()
	defer store.Close()
	m := NewManager(broker.NewMemoryBroker(nil), store, nil)

	assert.False(t, m.SendMessage(context.Background(), core.NewMessage("a", "b", core.TypeEvent, nil)))
	assert.ErrorIs(t, m.Disconnect(context.Background()), core.ErrNotConnected)
}
