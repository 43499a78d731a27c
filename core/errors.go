package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Envelope errors
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMessageExpired     = errors.New("message expired")

	// Delivery errors
	ErrQueueFull        = errors.New("recipient queue full")
	ErrPublishFailed    = errors.New("publish failed")
	ErrBrokerNotRunning = errors.New("broker not running")

	// Timeout errors
	ErrRequestTimeout  = errors.New("request timeout")
	ErrApprovalTimeout = errors.New("approval timeout")

	// Reliability errors
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// State errors
	ErrKeyNotFound      = errors.New("key not found")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")

	// Agent errors
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentAlreadyExists = errors.New("agent already registered")

	// Workflow errors
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrStageFailed        = errors.New("stage failed")
	ErrApprovalRejected   = errors.New("approval rejected")
	ErrWorkflowCancelled  = errors.New("workflow cancelled")
	ErrApprovalNotPending = errors.New("approval not pending")
)

// CoreError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type CoreError struct {
	Op      string // Operation that failed (e.g., "broker.Publish")
	Kind    string // Error kind (e.g., "delivery", "timeout", "state")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *CoreError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewCoreError creates a new CoreError
func NewCoreError(op, kind string, err error) *CoreError {
	return &CoreError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error represents a transient condition
// worth retrying (delivery and connectivity failures).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPublishFailed) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrBrokerNotRunning) ||
		errors.Is(err, ErrNotConnected)
}

// IsTimeout checks if an error represents an elapsed deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrApprovalTimeout)
}

// IsCircuitOpen checks if an error is a circuit breaker fast-fail.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitBreakerOpen)
}
