package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageDefaults(t *testing.T) {
	msg := NewMessage("orchestrator", "parsing_agent", TypeRequest, map[string]interface{}{
		"rfp_id": "R-1",
	})

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "orchestrator", msg.Sender)
	assert.Equal(t, "parsing_agent", msg.Recipient)
	assert.Equal(t, TypeRequest, msg.Type)
	assert.Equal(t, PriorityNormal, msg.Priority)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.True(t, msg.ExpiresAt.IsZero())
}

func TestMessageUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg := NewMessage("a", "b", TypeEvent, nil)
		if seen[msg.ID] {
			t.Fatalf("duplicate message ID %s", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestMessageExpiry(t *testing.T) {
	msg := NewMessage("a", "b", TypeRequest, nil)
	assert.False(t, msg.IsExpired(), "message without expiry never expires")

	msg.ExpiresAt = time.Now().Add(-time.Second)
	assert.True(t, msg.IsExpired())

	msg.ExpiresAt = time.Now().Add(time.Hour)
	assert.False(t, msg.IsExpired())
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewMessage("pricing_agent", "orchestrator", TypeResponse, map[string]interface{}{
		"status": "success",
		"total":  100000.0,
	})
	msg.Priority = PriorityHigh
	msg.CorrelationID = "corr-1"
	msg.ReplyTo = "pricing_agent"
	msg.Metadata = map[string]string{"workflow_id": "wf-1"}
	msg.ExpiresAt = msg.CreatedAt.Add(30 * time.Second)

	data, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)

	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Sender, decoded.Sender)
	assert.Equal(t, msg.Recipient, decoded.Recipient)
	assert.Equal(t, msg.Type, decoded.Type)
	assert.Equal(t, msg.Priority, decoded.Priority)
	assert.Equal(t, msg.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, msg.ReplyTo, decoded.ReplyTo)
	assert.Equal(t, msg.Metadata, decoded.Metadata)
	assert.Equal(t, msg.Payload["status"], decoded.Payload["status"])
	assert.Equal(t, msg.Payload["total"], decoded.Payload["total"])
	assert.True(t, msg.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, msg.ExpiresAt.Equal(decoded.ExpiresAt))
}

func TestDecodeMessageRejectsMalformed(t *testing.T) {
	_, err := DecodeMessage([]byte("{not json"))
	assert.Error(t, err)

	// Missing ID
	_, err = DecodeMessage([]byte(`{"type":"request"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	// Unknown type
	_, err = DecodeMessage([]byte(`{"id":"m1","type":"gossip"}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestPriorityString(t *testing.T) {
	cases := []struct {
		priority Priority
		want     string
	}{
		{PriorityLow, "low"},
		{PriorityNormal, "normal"},
		{PriorityHigh, "high"},
		{PriorityUrgent, "urgent"},
		{Priority(9), "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.priority.String())
	}
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityUrgent, ParsePriority("urgent"))
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityNormal, ParsePriority(""))
	assert.Equal(t, PriorityNormal, ParsePriority("whatever"))
}
