package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwise/rfpcore/core"
	"github.com/bidwise/rfpcore/telemetry"
)

func testMessage(recipient string, priority core.Priority) *core.Message {
	msg := core.NewMessage("test-sender", recipient, core.TypeRequest, map[string]interface{}{"n": 1})
	msg.Priority = priority
	return msg
}

func TestMemoryBrokerPriorityOrdering(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	low := testMessage("agent", core.PriorityLow)
	urgent := testMessage("agent", core.PriorityUrgent)
	normal := testMessage("agent", core.PriorityNormal)

	require.True(t, b.Publish(ctx, low))
	require.True(t, b.Publish(ctx, urgent))
	require.True(t, b.Publish(ctx, normal))
	assert.Equal(t, 3, b.QueueSize(ctx, "agent"))

	assert.Equal(t, urgent.ID, b.GetMessage(ctx, "agent", 0).ID)
	assert.Equal(t, normal.ID, b.GetMessage(ctx, "agent", 0).ID)
	assert.Equal(t, low.ID, b.GetMessage(ctx, "agent", 0).ID)
	assert.Nil(t, b.GetMessage(ctx, "agent", 0))
}

func TestMemoryBrokerExpiredAtPublish(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	msg := testMessage("agent", core.PriorityNormal)
	msg.ExpiresAt = time.Now().Add(-time.Second)

	assert.False(t, b.Publish(ctx, msg))
	assert.Equal(t, 0, b.QueueSize(ctx, "agent"))

	dead := b.DeadLetters(ctx)
	require.Len(t, dead, 1)
	assert.Equal(t, msg.ID, dead[0].ID)
}

func TestMemoryBrokerExpiredOnDequeue(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	stale := testMessage("agent", core.PriorityUrgent)
	stale.ExpiresAt = time.Now().Add(20 * time.Millisecond)
	fresh := testMessage("agent", core.PriorityNormal)

	require.True(t, b.Publish(ctx, stale))
	require.True(t, b.Publish(ctx, fresh))

	time.Sleep(40 * time.Millisecond)

	got := b.GetMessage(ctx, "agent", 0)
	require.NotNil(t, got)
	assert.Equal(t, fresh.ID, got.ID)
}

func TestMemoryBrokerAcknowledge(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	msg := testMessage("agent", core.PriorityNormal)
	require.True(t, b.Publish(ctx, msg))

	got := b.GetMessage(ctx, "agent", 0)
	require.NotNil(t, got)
	assert.Len(t, b.PendingAck("agent"), 1)

	assert.True(t, b.Acknowledge(ctx, got.ID))
	assert.Empty(t, b.PendingAck("agent"))

	// Second ack of the same message is a no-op.
	assert.False(t, b.Acknowledge(ctx, got.ID))
	assert.False(t, b.Acknowledge(ctx, "unknown-id"))
}

func TestMemoryBrokerBoundedQueue(t *testing.T) {
	b := NewMemoryBroker(&MemoryBrokerConfig{MaxQueueSize: 2})
	defer b.Close()
	ctx := context.Background()

	assert.True(t, b.Publish(ctx, testMessage("agent", core.PriorityNormal)))
	assert.True(t, b.Publish(ctx, testMessage("agent", core.PriorityNormal)))
	assert.False(t, b.Publish(ctx, testMessage("agent", core.PriorityUrgent)))
	assert.Equal(t, 2, b.QueueSize(ctx, "agent"))
}

func TestMemoryBrokerSubscriberFanout(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var first, second []string

	b.Subscribe("agent", func(ctx context.Context, msg *core.Message) {
		mu.Lock()
		first = append(first, msg.ID)
		mu.Unlock()
	})
	b.Subscribe("agent", func(ctx context.Context, msg *core.Message) {
		mu.Lock()
		second = append(second, msg.ID)
		mu.Unlock()
	})

	msg := testMessage("agent", core.PriorityNormal)
	require.True(t, b.Publish(ctx, msg))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{msg.ID}, first)
	assert.Equal(t, []string{msg.ID}, second)

	// Subscribed recipients bypass the polling queue entirely.
	assert.Equal(t, 0, b.QueueSize(ctx, "agent"))
}

func TestMemoryBrokerSubscriberPanicIsolated(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	delivered := 0
	b.Subscribe("agent", func(ctx context.Context, msg *core.Message) {
		panic("subscriber bug")
	})
	b.Subscribe("agent", func(ctx context.Context, msg *core.Message) {
		delivered++
	})

	assert.True(t, b.Publish(ctx, testMessage("agent", core.PriorityNormal)))
	assert.Equal(t, 1, delivered)
}

func TestMemoryBrokerUnsubscribe(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	calls := 0
	b.Subscribe("agent", func(ctx context.Context, msg *core.Message) { calls++ })
	b.Unsubscribe("agent")

	require.True(t, b.Publish(ctx, testMessage("agent", core.PriorityNormal)))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, b.QueueSize(ctx, "agent"))
}

func TestMemoryBrokerGetMessageBlocksUntilPublish(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()
	ctx := context.Background()

	done := make(chan *core.Message, 1)
	go func() {
		done <- b.GetMessage(ctx, "agent", time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	msg := testMessage("agent", core.PriorityNormal)
	require.True(t, b.Publish(ctx, msg))

	select {
	case got := <-done:
		require.NotNil(t, got)
		assert.Equal(t, msg.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("consumer never woke up")
	}
}

func TestMemoryBrokerGetMessageTimeout(t *testing.T) {
	b := NewMemoryBroker(nil)
	defer b.Close()

	started := time.Now()
	got := b.GetMessage(context.Background(), "agent", 50*time.Millisecond)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
}

func TestMemoryBrokerQueueMonitorWiring(t *testing.T) {
	monitor := telemetry.NewQueueMonitor()
	b := NewMemoryBroker(&MemoryBrokerConfig{Monitor: monitor})
	defer b.Close()
	ctx := context.Background()

	require.True(t, b.Publish(ctx, testMessage("agent", core.PriorityNormal)))
	require.True(t, b.Publish(ctx, testMessage("agent", core.PriorityNormal)))
	require.NotNil(t, b.GetMessage(ctx, "agent", 0))

	stats := monitor.Stats("agent")
	assert.Equal(t, int64(1), stats.Depth)
	assert.Equal(t, int64(2), stats.TotalEnqueued)
	assert.Equal(t, int64(2), stats.HighWaterMark)
}

func TestMemoryBrokerClosedRejectsPublish(t *testing.T) {
	b := NewMemoryBroker(nil)
	require.NoError(t, b.Close())
	assert.False(t, b.Publish(context.Background(), testMessage("agent", core.PriorityNormal)))
}
