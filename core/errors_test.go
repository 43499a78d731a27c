package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestCoreErrorFormatting(t *testing.T) {
	err := &CoreError{Op: "broker.Publish", Kind: "delivery", ID: "msg-1", Err: ErrQueueFull}
	want := "broker.Publish [msg-1]: recipient queue full"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	err = &CoreError{Op: "state.Get", Err: ErrKeyNotFound}
	want = "state.Get: key not found"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	err = &CoreError{Kind: "timeout"}
	if err.Error() != "timeout error" {
		t.Errorf("Expected kind fallback, got %q", err.Error())
	}
}

func TestCoreErrorUnwrap(t *testing.T) {
	err := NewCoreError("comm.SendRequest", "timeout", ErrRequestTimeout)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Error("Expected errors.Is to match wrapped sentinel")
	}

	wrapped := fmt.Errorf("stage pricing_calculation: %w", err)
	if !errors.Is(wrapped, ErrRequestTimeout) {
		t.Error("Expected errors.Is to match through multiple wraps")
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsRetryable(fmt.Errorf("send: %w", ErrPublishFailed)) {
		t.Error("publish failure should be retryable")
	}
	if IsRetryable(ErrRequestTimeout) {
		t.Error("timeout should not be retryable")
	}
	if !IsTimeout(ErrApprovalTimeout) {
		t.Error("approval timeout should classify as timeout")
	}
	if !IsCircuitOpen(fmt.Errorf("agent quarantined: %w", ErrCircuitBreakerOpen)) {
		t.Error("circuit open should classify through wrapping")
	}
	if IsCircuitOpen(ErrQueueFull) {
		t.Error("queue full is not circuit open")
	}
}
