package broker

import (
	"container/heap"

	"github.com/bidwise/rfpcore/core"
)

// queuedMessage pairs a message with its enqueue sequence number so that
// equal priorities dequeue in insertion order.
type queuedMessage struct {
	msg *core.Message
	seq uint64
}

// messageHeap orders by priority descending, then enqueue sequence ascending.
type messageHeap []*queuedMessage

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x interface{}) {
	*h = append(*h, x.(*queuedMessage))
}

func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue is a bounded priority queue for one recipient.
// Not safe for concurrent use; callers hold the broker lock.
type priorityQueue struct {
	items   messageHeap
	nextSeq uint64
	maxSize int // zero means unbounded
}

func newPriorityQueue(maxSize int) *priorityQueue {
	q := &priorityQueue{maxSize: maxSize}
	heap.Init(&q.items)
	return q
}

// push enqueues a message, reporting false when the queue is full.
func (q *priorityQueue) push(msg *core.Message) bool {
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return false
	}
	heap.Push(&q.items, &queuedMessage{msg: msg, seq: q.nextSeq})
	q.nextSeq++
	return true
}

// pop dequeues the highest-priority message, or nil when empty.
func (q *priorityQueue) pop() *core.Message {
	if len(q.items) == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*queuedMessage)
	return item.msg
}

func (q *priorityQueue) len() int { return len(q.items) }
