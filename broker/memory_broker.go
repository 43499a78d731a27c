package broker

import (
	"context"
	"sync"
	"time"

	"github.com/bidwise/rfpcore/core"
	"github.com/bidwise/rfpcore/telemetry"
)

// MemoryBrokerConfig configures the in-process broker.
type MemoryBrokerConfig struct {
	// MaxQueueSize bounds each recipient queue. Zero means unbounded.
	MaxQueueSize int

	// MaxDeadLetters bounds the dead-letter ring. Oldest entries are
	// dropped first. Default: 1000.
	MaxDeadLetters int

	// Logger for broker events. Defaults to NoOpLogger.
	Logger core.Logger

	// Monitor receives enqueue/dequeue gauges. Optional.
	Monitor *telemetry.QueueMonitor
}

// DefaultMemoryBrokerConfig returns sensible defaults.
func DefaultMemoryBrokerConfig() *MemoryBrokerConfig {
	return &MemoryBrokerConfig{
		MaxQueueSize:   0,
		MaxDeadLetters: 1000,
		Logger:         &core.NoOpLogger{},
	}
}

// MemoryBroker is the in-process Broker implementation.
//
// Delivery semantics: when a recipient has subscribers, publish dispatches
// to the callbacks synchronously and the message never enters the polling
// queue. Without subscribers the message is enqueued for GetMessage.
type MemoryBroker struct {
	mu          sync.Mutex
	queues      map[string]*priorityQueue
	notify      map[string]chan struct{}
	subscribers map[string][]core.MessageHandler
	pendingAck  map[string]*core.Message
	deadLetters []*core.Message
	config      *MemoryBrokerConfig
	logger      core.Logger
	closed      bool
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(config *MemoryBrokerConfig) *MemoryBroker {
	if config == nil {
		config = DefaultMemoryBrokerConfig()
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.MaxDeadLetters <= 0 {
		config.MaxDeadLetters = 1000
	}
	return &MemoryBroker{
		queues:      make(map[string]*priorityQueue),
		notify:      make(map[string]chan struct{}),
		subscribers: make(map[string][]core.MessageHandler),
		pendingAck:  make(map[string]*core.Message),
		config:      config,
		logger:      config.Logger,
	}
}

// SetLogger configures the logger for broker events.
func (b *MemoryBroker) SetLogger(logger core.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Publish routes a message to its recipient queue or subscribers.
func (b *MemoryBroker) Publish(ctx context.Context, msg *core.Message) bool {
	if msg == nil {
		return false
	}

	if msg.IsExpired() {
		b.deadLetter(msg, "expired at publish")
		return false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}

	handlers := b.subscribers[msg.Recipient]
	if len(handlers) > 0 {
		// Copy so callbacks run outside the broker lock.
		fanout := make([]core.MessageHandler, len(handlers))
		copy(fanout, handlers)
		b.mu.Unlock()

		for _, handler := range fanout {
			b.invoke(ctx, handler, msg)
		}
		return true
	}

	queue, ok := b.queues[msg.Recipient]
	if !ok {
		queue = newPriorityQueue(b.config.MaxQueueSize)
		b.queues[msg.Recipient] = queue
		b.notify[msg.Recipient] = make(chan struct{}, 1)
	}

	if !queue.push(msg) {
		b.mu.Unlock()
		b.logger.Warn("Queue full, rejecting message", map[string]interface{}{
			"operation":  "broker_publish",
			"message_id": msg.ID,
			"recipient":  msg.Recipient,
			"max_size":   b.config.MaxQueueSize,
		})
		return false
	}

	ch := b.notify[msg.Recipient]
	b.mu.Unlock()

	if b.config.Monitor != nil {
		b.config.Monitor.RecordEnqueue(msg.Recipient)
	}

	// Wake one waiting consumer. Non-blocking: a buffered token is enough.
	select {
	case ch <- struct{}{}:
	default:
	}
	return true
}

// invoke runs a subscriber callback, isolating panics so one subscriber
// cannot block delivery to the others.
func (b *MemoryBroker) invoke(ctx context.Context, handler core.MessageHandler, msg *core.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked", map[string]interface{}{
				"operation":  "broker_dispatch",
				"message_id": msg.ID,
				"recipient":  msg.Recipient,
				"panic":      r,
			})
		}
	}()
	handler(ctx, msg)
}

// Subscribe registers a callback for the recipient.
func (b *MemoryBroker) Subscribe(recipient string, handler core.MessageHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[recipient] = append(b.subscribers[recipient], handler)
}

// Unsubscribe removes all callbacks for the recipient.
func (b *MemoryBroker) Unsubscribe(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, recipient)
}

// GetMessage dequeues the next message for the recipient, waiting up to
// timeout when the queue is empty. Expired messages discovered on dequeue
// are discarded and the next message is returned.
func (b *MemoryBroker) GetMessage(ctx context.Context, recipient string, timeout time.Duration) *core.Message {
	deadline := time.Now().Add(timeout)

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil
		}
		queue, ok := b.queues[recipient]
		if !ok {
			queue = newPriorityQueue(b.config.MaxQueueSize)
			b.queues[recipient] = queue
			b.notify[recipient] = make(chan struct{}, 1)
		}

		for {
			msg := queue.pop()
			if msg == nil {
				break
			}
			if msg.IsExpired() {
				b.logger.Debug("Discarding expired message on dequeue", map[string]interface{}{
					"operation":  "broker_get_message",
					"message_id": msg.ID,
					"recipient":  recipient,
				})
				continue
			}
			b.pendingAck[msg.ID] = msg
			b.mu.Unlock()
			if b.config.Monitor != nil {
				b.config.Monitor.RecordDequeue(recipient)
			}
			return msg
		}

		ch := b.notify[recipient]
		b.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			return nil
		case <-ch:
			timer.Stop()
		}
	}
}

// Acknowledge removes a dequeued message from the pending-ack set.
func (b *MemoryBroker) Acknowledge(ctx context.Context, messageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pendingAck[messageID]
	delete(b.pendingAck, messageID)
	return ok
}

// PendingAck returns the in-flight messages awaiting acknowledgement.
// Retained to enable redelivery after a consumer crash.
func (b *MemoryBroker) PendingAck(recipient string) []*core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var pending []*core.Message
	for _, msg := range b.pendingAck {
		if recipient == "" || msg.Recipient == recipient {
			pending = append(pending, msg)
		}
	}
	return pending
}

// QueueSize returns the current depth of the recipient queue.
func (b *MemoryBroker) QueueSize(ctx context.Context, recipient string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if queue, ok := b.queues[recipient]; ok {
		return queue.len()
	}
	return 0
}

// DeadLetters returns the retained undeliverable messages for inspection.
func (b *MemoryBroker) DeadLetters(ctx context.Context) []*core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*core.Message, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

func (b *MemoryBroker) deadLetter(msg *core.Message, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.deadLetters) >= b.config.MaxDeadLetters {
		b.deadLetters = b.deadLetters[1:]
	}
	b.deadLetters = append(b.deadLetters, msg)
	b.logger.Warn("Message dead-lettered", map[string]interface{}{
		"operation":  "broker_dead_letter",
		"message_id": msg.ID,
		"recipient":  msg.Recipient,
		"reason":     reason,
	})
}

// Close stops the broker. Subsequent publishes are rejected.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
