package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bidwise/rfpcore/core"
)

func newQueuedMessage(priority core.Priority) *core.Message {
	msg := core.NewMessage("sender", "recipient", core.TypeRequest, nil)
	msg.Priority = priority
	return msg
}

func TestPriorityQueueOrdering(t *testing.T) {
	q := newPriorityQueue(0)

	low := newQueuedMessage(core.PriorityLow)
	normal := newQueuedMessage(core.PriorityNormal)
	urgent := newQueuedMessage(core.PriorityUrgent)
	high := newQueuedMessage(core.PriorityHigh)

	for _, msg := range []*core.Message{low, normal, urgent, high} {
		assert.True(t, q.push(msg))
	}

	assert.Equal(t, urgent.ID, q.pop().ID)
	assert.Equal(t, high.ID, q.pop().ID)
	assert.Equal(t, normal.ID, q.pop().ID)
	assert.Equal(t, low.ID, q.pop().ID)
	assert.Nil(t, q.pop())
}

func TestPriorityQueueFIFOWithinPriority(t *testing.T) {
	q := newPriorityQueue(0)

	first := newQueuedMessage(core.PriorityNormal)
	second := newQueuedMessage(core.PriorityNormal)
	third := newQueuedMessage(core.PriorityNormal)
	for _, msg := range []*core.Message{first, second, third} {
		q.push(msg)
	}

	assert.Equal(t, first.ID, q.pop().ID)
	assert.Equal(t, second.ID, q.pop().ID)
	assert.Equal(t, third.ID, q.pop().ID)
}

func TestPriorityQueueBounded(t *testing.T) {
	q := newPriorityQueue(2)

	assert.True(t, q.push(newQueuedMessage(core.PriorityNormal)))
	assert.True(t, q.push(newQueuedMessage(core.PriorityNormal)))
	assert.False(t, q.push(newQueuedMessage(core.PriorityUrgent)))
	assert.Equal(t, 2, q.len())
}
