package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bidwise/rfpcore/core"
)

// ApprovalStatus is the lifecycle status of one approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimedOut ApprovalStatus = "timeout"
)

// Approval is one human decision gate on a workflow stage. A workflow has
// at most one approval per stage, keyed workflowID:stage.
type Approval struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Stage       string                 `json:"stage"`
	Roles       []string               `json:"roles,omitempty"`
	ContextData map[string]interface{} `json:"context_data,omitempty"`
	Status      ApprovalStatus         `json:"status"`
	DecidedBy   string                 `json:"decided_by,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	RequestedAt time.Time              `json:"requested_at"`
	DecidedAt   time.Time              `json:"decided_at,omitempty"`
	Deadline    time.Time              `json:"deadline"`

	done chan struct{}
}

func approvalID(workflowID, stage string) string {
	return workflowID + ":" + stage
}

// ApprovalManagerConfig tunes the approval manager.
type ApprovalManagerConfig struct {
	DefaultTimeout time.Duration
	SweepInterval  time.Duration
	Logger         core.Logger
}

// DefaultApprovalManagerConfig returns the manager defaults.
func DefaultApprovalManagerConfig() *ApprovalManagerConfig {
	return &ApprovalManagerConfig{
		DefaultTimeout: 30 * time.Minute,
		SweepInterval:  time.Minute,
		Logger:         &core.NoOpLogger{},
	}
}

// ApprovalManager tracks pending approvals and resolves the goroutines
// blocked on them. Decisions after a terminal status are ignored.
type ApprovalManager struct {
	mu        sync.Mutex
	approvals map[string]*Approval
	config    *ApprovalManagerConfig
	logger    core.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewApprovalManager creates a manager and starts its expiry sweeper.
func NewApprovalManager(config *ApprovalManagerConfig) *ApprovalManager {
	if config == nil {
		config = DefaultApprovalManagerConfig()
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	m := &ApprovalManager{
		approvals: make(map[string]*Approval),
		config:    config,
		logger:    config.Logger,
		stop:      make(chan struct{}),
	}
	go m.sweep()
	return m
}

// RequestApproval registers an approval gate and blocks until it is
// decided, times out, or the context is cancelled. It returns true only
// for an explicit approve.
func (m *ApprovalManager) RequestApproval(ctx context.Context, workflowID, stage string, roles []string, contextData map[string]interface{}, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = m.config.DefaultTimeout
	}
	id := approvalID(workflowID, stage)
	approval := &Approval{
		ID:          id,
		WorkflowID:  workflowID,
		Stage:       stage,
		Roles:       append([]string(nil), roles...),
		ContextData: contextData,
		Status:      ApprovalPending,
		RequestedAt: time.Now(),
		Deadline:    time.Now().Add(timeout),
		done:        make(chan struct{}),
	}

	m.mu.Lock()
	if existing, ok := m.approvals[id]; ok && existing.Status == ApprovalPending {
		m.mu.Unlock()
		return false, fmt.Errorf("workflow.ApprovalManager [%s]: approval already pending", id)
	}
	m.approvals[id] = approval
	m.mu.Unlock()

	m.logger.Info("Approval requested", map[string]interface{}{
		"operation":   "approval_request",
		"approval_id": id,
		"workflow_id": workflowID,
		"stage":       stage,
		"roles":       roles,
		"timeout":     timeout.String(),
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-approval.done:
	case <-timer.C:
		m.expire(id)
	case <-ctx.Done():
		m.expire(id)
		return false, ctx.Err()
	}

	m.mu.Lock()
	status := approval.Status
	reason := approval.Reason
	m.mu.Unlock()

	switch status {
	case ApprovalApproved:
		return true, nil
	case ApprovalRejected:
		if reason != "" {
			return false, fmt.Errorf("%w: %s", core.ErrApprovalRejected, reason)
		}
		return false, core.ErrApprovalRejected
	case ApprovalTimedOut:
		return false, core.ErrApprovalTimeout
	default:
		return false, core.ErrApprovalTimeout
	}
}

// Approve records an approve decision. Decisions on already-decided or
// unknown approvals are rejected.
func (m *ApprovalManager) Approve(id, approver string) error {
	return m.decide(id, ApprovalApproved, approver, "")
}

// Reject records a reject decision with a reason.
func (m *ApprovalManager) Reject(id, approver, reason string) error {
	return m.decide(id, ApprovalRejected, approver, reason)
}

func (m *ApprovalManager) decide(id string, status ApprovalStatus, approver, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval, ok := m.approvals[id]
	if !ok {
		return fmt.Errorf("workflow.ApprovalManager [%s]: %w", id, core.ErrApprovalNotPending)
	}
	if approval.Status != ApprovalPending {
		return fmt.Errorf("workflow.ApprovalManager [%s] already %s: %w", id, approval.Status, core.ErrApprovalNotPending)
	}
	approval.Status = status
	approval.DecidedBy = approver
	approval.Reason = reason
	approval.DecidedAt = time.Now()
	close(approval.done)

	m.logger.Info("Approval decided", map[string]interface{}{
		"operation":   "approval_decision",
		"approval_id": id,
		"status":      string(status),
		"decided_by":  approver,
	})
	return nil
}

// expire marks a still-pending approval as timed out.
func (m *ApprovalManager) expire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval, ok := m.approvals[id]
	if !ok || approval.Status != ApprovalPending {
		return
	}
	approval.Status = ApprovalTimedOut
	approval.DecidedAt = time.Now()
	close(approval.done)

	m.logger.Warn("Approval timed out", map[string]interface{}{
		"operation":   "approval_timeout",
		"approval_id": id,
		"workflow_id": approval.WorkflowID,
		"stage":       approval.Stage,
	})
}

// Get returns a copy of the approval with the given identifier.
func (m *ApprovalManager) Get(id string) (*Approval, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval, ok := m.approvals[id]
	if !ok {
		return nil, false
	}
	copied := *approval
	copied.done = nil
	return &copied, true
}

// Pending returns the pending approvals, optionally filtered to one
// workflow. Pass the empty string for all workflows.
func (m *ApprovalManager) Pending(workflowID string) []*Approval {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Approval
	for _, approval := range m.approvals {
		if approval.Status != ApprovalPending {
			continue
		}
		if workflowID != "" && approval.WorkflowID != workflowID {
			continue
		}
		copied := *approval
		copied.done = nil
		out = append(out, &copied)
	}
	return out
}

// sweep periodically times out approvals whose deadline passed without a
// decision, covering requesters that abandoned the wait.
func (m *ApprovalManager) sweep() {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			var expired []string
			for id, approval := range m.approvals {
				if approval.Status == ApprovalPending && now.After(approval.Deadline) {
					expired = append(expired, id)
				}
			}
			m.mu.Unlock()
			for _, id := range expired {
				m.expire(id)
			}
		case <-m.stop:
			return
		}
	}
}

// Close stops the expiry sweeper.
func (m *ApprovalManager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}
