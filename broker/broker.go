// Package broker provides typed message delivery between the orchestrator
// and worker agents: per-recipient priority queues, publish/subscribe
// fan-out, acknowledgement tracking, and dead-lettering.
//
// Two interchangeable implementations exist: MemoryBroker for in-process
// delivery and RedisBroker backed by a shared Redis instance.
package broker

import (
	"context"
	"time"

	"github.com/bidwise/rfpcore/core"
)

// Broker is the delivery contract shared by all implementations.
//
// Publish never returns an error to the caller; a false result means the
// message was not accepted (expired messages are diverted to the dead-letter
// queue, full queues reject). Subscriber callbacks are invoked once per
// delivered message; a panic in one subscriber must not block delivery to
// the others.
type Broker interface {
	// Publish routes a message to its recipient. Returns false when the
	// message is expired or the recipient queue cannot accept it.
	Publish(ctx context.Context, msg *core.Message) bool

	// Subscribe registers a callback invoked once per message delivered
	// to the recipient. Multiple subscribers fan out.
	Subscribe(recipient string, handler core.MessageHandler)

	// Unsubscribe removes all callbacks for the recipient.
	Unsubscribe(recipient string)

	// GetMessage returns the next message for the recipient, waiting up
	// to timeout when the queue is empty (non-blocking if timeout is
	// zero). The returned message moves to the pending-ack set.
	GetMessage(ctx context.Context, recipient string, timeout time.Duration) *core.Message

	// Acknowledge removes a previously dequeued message from the
	// pending-ack set. Idempotent; reports whether an entry was removed.
	Acknowledge(ctx context.Context, messageID string) bool

	// QueueSize returns the current depth of the recipient's queue.
	QueueSize(ctx context.Context, recipient string) int

	// DeadLetters returns the retained undeliverable messages, newest last.
	DeadLetters(ctx context.Context) []*core.Message

	// Close releases broker resources.
	Close() error
}
