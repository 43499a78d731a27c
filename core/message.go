package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of traffic a message carries.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeCommand      MessageType = "command"
	TypeEvent        MessageType = "event"
	TypeError        MessageType = "error"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeNotification, TypeCommand, TypeEvent, TypeError:
		return true
	}
	return false
}

// Priority orders delivery within a recipient queue. Higher dequeues first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// String returns the string representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name to its level, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// Message is the envelope exchanged between the orchestrator and agents.
// The payload is opaque to the broker; typed payloads live in the rfp package.
type Message struct {
	ID            string                 `json:"id"`
	Sender        string                 `json:"sender"`
	Recipient     string                 `json:"recipient"`
	Type          MessageType            `json:"type"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Priority      Priority               `json:"priority"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	ReplyTo       string                 `json:"reply_to,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	ExpiresAt     time.Time              `json:"expires_at,omitempty"`
	Metadata      map[string]string      `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh identifier and normal priority.
func NewMessage(sender, recipient string, msgType MessageType, payload map[string]interface{}) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Type:      msgType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

// Expired reports whether the message has passed its expiry at the given time.
// A zero ExpiresAt means the message never expires.
func (m *Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// IsExpired reports whether the message has passed its expiry.
func (m *Message) IsExpired() bool {
	return m.Expired(time.Now())
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message %s: %w", m.ID, err)
	}
	return data, nil
}

// DecodeMessage deserializes a message from its wire form.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("decoding message: %w", ErrMalformedMessage)
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("decoding message %s: %w", m.ID, ErrUnknownMessageType)
	}
	return &m, nil
}
