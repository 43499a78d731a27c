package broker

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bidwise/rfpcore/core"
	"github.com/bidwise/rfpcore/telemetry"
)

// priorityBand spaces priority levels far enough apart that the enqueue
// timestamp (microseconds since epoch) never crosses into the next level.
// The composite score yields priority-desc, enqueue-time-asc dequeue order
// under ZPOPMAX.
const priorityBand = 1e16

// RedisBrokerConfig configures the Redis-backed broker.
type RedisBrokerConfig struct {
	// KeyPrefix namespaces all broker keys. Default: "rfpcore".
	KeyPrefix string

	// MaxDeadLetters bounds the dead-letter list. Default: 1000.
	MaxDeadLetters int

	// Logger for broker events. Defaults to NoOpLogger.
	Logger core.Logger

	// Monitor receives enqueue/dequeue gauges. Optional.
	Monitor *telemetry.QueueMonitor
}

// DefaultRedisBrokerConfig returns default configuration.
func DefaultRedisBrokerConfig() *RedisBrokerConfig {
	return &RedisBrokerConfig{
		KeyPrefix:      "rfpcore",
		MaxDeadLetters: 1000,
		Logger:         &core.NoOpLogger{},
	}
}

// RedisBroker implements Broker on a shared Redis instance. The recipient
// queue is a sorted set keyed by a composite priority score, subscribers are
// triggered through a pub/sub channel per recipient, and the pending-ack set
// is a keyed hash.
type RedisBroker struct {
	client *redis.Client
	config *RedisBrokerConfig
	logger core.Logger

	mu       sync.Mutex
	handlers map[string][]core.MessageHandler
	pubsubs  map[string]*redis.PubSub
	closed   bool
}

// NewRedisBroker creates a broker on an already-connected Redis client.
func NewRedisBroker(client *redis.Client, config *RedisBrokerConfig) *RedisBroker {
	if config == nil {
		config = DefaultRedisBrokerConfig()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rfpcore"
	}
	if config.MaxDeadLetters <= 0 {
		config.MaxDeadLetters = 1000
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	return &RedisBroker{
		client:   client,
		config:   config,
		logger:   config.Logger,
		handlers: make(map[string][]core.MessageHandler),
		pubsubs:  make(map[string]*redis.PubSub),
	}
}

func (b *RedisBroker) queueKey(recipient string) string {
	return b.config.KeyPrefix + ":queue:" + recipient
}

func (b *RedisBroker) channelKey(recipient string) string {
	return b.config.KeyPrefix + ":inbox:" + recipient
}

func (b *RedisBroker) pendingKey() string {
	return b.config.KeyPrefix + ":pending"
}

func (b *RedisBroker) deadLetterKey() string {
	return b.config.KeyPrefix + ":deadletter"
}

// At band magnitude (~4e16) a float64 resolves to about 8µs, so messages of
// equal priority enqueued within that window collapse to one score and
// ZPOPMAX orders them arbitrarily. Priority ordering is always exact; the
// in-process broker keeps strict FIFO through its sequence counter.
func queueScore(priority core.Priority, enqueuedAt time.Time) float64 {
	return float64(priority)*priorityBand - float64(enqueuedAt.UnixMicro())
}

// Publish adds the message to the recipient's sorted set and notifies
// subscribers through the recipient's pub/sub channel.
func (b *RedisBroker) Publish(ctx context.Context, msg *core.Message) bool {
	if msg == nil {
		return false
	}

	data, err := msg.Encode()
	if err != nil {
		b.logger.Error("Failed to serialize message", map[string]interface{}{
			"operation":  "broker_publish",
			"message_id": msg.ID,
			"error":      err.Error(),
		})
		return false
	}

	if msg.IsExpired() {
		b.deadLetter(ctx, data, msg, "expired at publish")
		return false
	}

	score := queueScore(msg.Priority, time.Now())
	if err := b.client.ZAdd(ctx, b.queueKey(msg.Recipient), &redis.Z{
		Score:  score,
		Member: data,
	}).Err(); err != nil {
		b.logger.Error("Failed to enqueue message", map[string]interface{}{
			"operation":  "broker_publish",
			"message_id": msg.ID,
			"recipient":  msg.Recipient,
			"error":      err.Error(),
		})
		return false
	}

	if b.config.Monitor != nil {
		b.config.Monitor.RecordEnqueue(msg.Recipient)
	}

	// Notification failures are non-fatal: the message is already queued
	// and remains visible to polling consumers.
	if err := b.client.Publish(ctx, b.channelKey(msg.Recipient), msg.ID).Err(); err != nil {
		b.logger.Warn("Failed to notify subscribers", map[string]interface{}{
			"operation":  "broker_publish",
			"message_id": msg.ID,
			"recipient":  msg.Recipient,
			"error":      err.Error(),
		})
	}
	return true
}

// Subscribe registers a callback and starts a pub/sub listener for the
// recipient if one is not already running. Each notification drains one
// message from the recipient's queue and fans it out to all callbacks.
func (b *RedisBroker) Subscribe(recipient string, handler core.MessageHandler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.handlers[recipient] = append(b.handlers[recipient], handler)
	if _, running := b.pubsubs[recipient]; running {
		return
	}

	ctx := context.Background()
	pubsub := b.client.Subscribe(ctx, b.channelKey(recipient))
	b.pubsubs[recipient] = pubsub

	go b.listen(ctx, recipient, pubsub)
}

func (b *RedisBroker) listen(ctx context.Context, recipient string, pubsub *redis.PubSub) {
	for range pubsub.Channel() {
		msg := b.GetMessage(ctx, recipient, 0)
		if msg == nil {
			continue
		}

		b.mu.Lock()
		fanout := make([]core.MessageHandler, len(b.handlers[recipient]))
		copy(fanout, b.handlers[recipient])
		b.mu.Unlock()

		for _, handler := range fanout {
			b.invoke(ctx, handler, msg)
		}
		b.Acknowledge(ctx, msg.ID)
	}
}

func (b *RedisBroker) invoke(ctx context.Context, handler core.MessageHandler, msg *core.Message) {
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

// Unsubscribe removes all callbacks for the recipient and stops its listener.
func (b *RedisBroker) Unsubscribe(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, recipient)
	if pubsub, ok := b.pubsubs[recipient]; ok {
		_ = pubsub.Close()
		delete(b.pubsubs, recipient)
	}
}

// GetMessage pops the highest-priority message for the recipient, moving it
// into the pending-ack hash. Blocks up to timeout when the queue is empty.
func (b *RedisBroker) GetMessage(ctx context.Context, recipient string, timeout time.Duration) *core.Message {
	deadline := time.Now().Add(timeout)
	key := b.queueKey(recipient)

	for {
		var member string
		if timeout <= 0 {
			entries, err := b.client.ZPopMax(ctx, key, 1).Result()
			if err != nil || len(entries) == 0 {
				return nil
			}
			member, _ = entries[0].Member.(string)
		} else {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil
			}
			entry, err := b.client.BZPopMax(ctx, remaining, key).Result()
			if err != nil {
				// redis.Nil signals an empty queue at timeout.
				return nil
			}
			member, _ = entry.Member.(string)
		}

		msg, err := core.DecodeMessage([]byte(member))
		if err != nil {
			b.logger.Error("Discarding undecodable queue entry", map[string]interface{}{
				"operation": "broker_get_message",
				"recipient": recipient,
				"error":     err.Error(),
			})
			continue
		}

		if msg.IsExpired() {
			b.logger.Debug("Discarding expired message on dequeue", map[string]interface{}{
				"operation":  "broker_get_message",
				"message_id": msg.ID,
				"recipient":  recipient,
			})
			continue
		}

		if err := b.client.HSet(ctx, b.pendingKey(), msg.ID, member).Err(); err != nil {
			b.logger.Warn("Failed to record pending ack", map[string]interface{}{
				"operation":  "broker_get_message",
				"message_id": msg.ID,
				"error":      err.Error(),
			})
		}
		if b.config.Monitor != nil {
			b.config.Monitor.RecordDequeue(recipient)
		}
		return msg
	}
}

// Acknowledge removes the message from the pending-ack hash.
func (b *RedisBroker) Acknowledge(ctx context.Context, messageID string) bool {
	removed, err := b.client.HDel(ctx, b.pendingKey(), messageID).Result()
	if err != nil {
		b.logger.Warn("Failed to acknowledge message", map[string]interface{}{
			"operation":  "broker_acknowledge",
			"message_id": messageID,
			"error":      err.Error(),
		})
		return false
	}
	return removed > 0
}

// QueueSize returns the recipient's current queue depth.
func (b *RedisBroker) QueueSize(ctx context.Context, recipient string) int {
	size, err := b.client.ZCard(ctx, b.queueKey(recipient)).Result()
	if err != nil {
		return 0
	}
	return int(size)
}

// DeadLetters returns retained undeliverable messages, newest last.
func (b *RedisBroker) DeadLetters(ctx context.Context) []*core.Message {
	entries, err := b.client.LRange(ctx, b.deadLetterKey(), 0, -1).Result()
	if err != nil {
		return nil
	}
	// LPUSH stores newest first; reverse to oldest-first order.
	out := make([]*core.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		msg, err := core.DecodeMessage([]byte(entries[i]))
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (b *RedisBroker) deadLetter(ctx context.Context, data []byte, msg *core.Message, reason string) {
	pipe := b.client.Pipeline()
	pipe.LPush(ctx, b.deadLetterKey(), data)
	pipe.LTrim(ctx, b.deadLetterKey(), 0, int64(b.config.MaxDeadLetters-1))
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Error("Failed to dead-letter message", map[string]interface{}{
			"operation":  "broker_dead_letter",
			"message_id": msg.ID,
			"error":      err.Error(),
		})
		return
	}
	b.logger.Warn("Message dead-lettered", map[string]interface{}{
		"operation":  "broker_dead_letter",
		"message_id": msg.ID,
		"recipient":  msg.Recipient,
		"reason":     reason,
	})
}

// Close stops all pub/sub listeners. The Redis client is managed externally
// and is not closed here.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for recipient, pubsub := range b.pubsubs {
		_ = pubsub.Close()
		delete(b.pubsubs, recipient)
	}
	return nil
}
