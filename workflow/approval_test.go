package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwise/rfpcore/core"
)

func newTestApprovalManager(t *testing.T) *ApprovalManager {
	t.Helper()
	m := NewApprovalManager(&ApprovalManagerConfig{
		DefaultTimeout: time.Second,
		SweepInterval:  10 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	return m
}

func TestApprovalApproved(t *testing.T) {
	m := newTestApprovalManager(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, m.Approve("wf-1:pricing_calculation", "finance_manager"))
	}()

	approved, err := m.RequestApproval(context.Background(), "wf-1", "pricing_calculation",
		[]string{"finance_manager"}, nil, time.Second)
	require.NoError(t, err)
	assert.True(t, approved)

	approval, ok := m.Get("wf-1:pricing_calculation")
	require.True(t, ok)
	assert.Equal(t, ApprovalApproved, approval.Status)
	assert.Equal(t, "finance_manager", approval.DecidedBy)
}

func TestApprovalRejected(t *testing.T) {
	m := newTestApprovalManager(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, m.Reject("wf-1:sales_analysis", "sales_manager", "margin too thin"))
	}()

	approved, err := m.RequestApproval(context.Background(), "wf-1", "sales_analysis",
		[]string{"sales_manager"}, nil, time.Second)
	assert.False(t, approved)
	require.ErrorIs(t, err, core.ErrApprovalRejected)
	assert.Contains(t, err.Error(), "margin too thin")
}

func TestApprovalTimesOut(t *testing.T) {
	m := newTestApprovalManager(t)

	approved, err := m.RequestApproval(context.Background(), "wf-1", "pricing_calculation",
		nil, nil, 30*time.Millisecond)
	assert.False(t, approved)
	assert.ErrorIs(t, err, core.ErrApprovalTimeout)

	approval, ok := m.Get("wf-1:pricing_calculation")
	require.True(t, ok)
	assert.Equal(t, ApprovalTimedOut, approval.Status)
}

func TestApprovalLateDecisionRejected(t *testing.T) {
	m := newTestApprovalManager(t)

	_, err := m.RequestApproval(context.Background(), "wf-1", "review", nil, nil, 20*time.Millisecond)
	require.ErrorIs(t, err, core.ErrApprovalTimeout)

	err = m.Approve("wf-1:review", "late_manager")
	assert.ErrorIs(t, err, core.ErrApprovalNotPending)
}

func TestApprovalDuplicateDecisionRejected(t *testing.T) {
	m := newTestApprovalManager(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.RequestApproval(context.Background(), "wf-1", "review", nil, nil, time.Second)
		assert.NoError(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Approve("wf-1:review", "first"))
	assert.ErrorIs(t, m.Approve("wf-1:review", "second"), core.ErrApprovalNotPending)
	assert.ErrorIs(t, m.Reject("wf-1:review", "second", "no"), core.ErrApprovalNotPending)
	<-done
}

func TestApprovalUnknownDecisionRejected(t *testing.T) {
	m := newTestApprovalManager(t)
	assert.ErrorIs(t, m.Approve("ghost:stage", "nobody"), core.ErrApprovalNotPending)
}

func TestApprovalPendingFilter(t *testing.T) {
	m := newTestApprovalManager(t)

	for _, wf := range []string{"wf-1", "wf-2"} {
		wf := wf
		go func() {
			m.RequestApproval(context.Background(), wf, "pricing_calculation", nil, nil, time.Second)
		}()
	}
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, m.Pending(""), 2)
	pending := m.Pending("wf-1")
	require.Len(t, pending, 1)
	assert.Equal(t, "wf-1", pending[0].WorkflowID)

	require.NoError(t, m.Approve("wf-1:pricing_calculation", "x"))
	require.NoError(t, m.Approve("wf-2:pricing_calculation", "x"))
	assert.Empty(t, m.Pending(""))
}

func TestApprovalContextCancellation(t *testing.T) {
	m := newTestApprovalManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	approved, err := m.RequestApproval(ctx, "wf-1", "review", nil, nil, time.Minute)
	assert.False(t, approved)
	assert.ErrorIs(t, err, context.Canceled)
}
