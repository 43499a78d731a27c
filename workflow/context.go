// Package workflow implements the templated, staged RFP state machine:
// template selection and conditional routing, human approvals, per-stage
// time estimation, and the orchestrator that drives each RFP through its
// analysis stages.
package workflow

import (
	"sync"
	"time"
)

// Status is the lifecycle status of a workflow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StageResult records the outcome of one executed (or skipped) stage.
type StageResult struct {
	Status    string                 `json:"status"` // success, failed, skipped
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
}

// Context is the mutable record of one workflow execution. The orchestrator
// exclusively owns it for the workflow's lifetime; after a terminal status
// it is immutable.
type Context struct {
	mu sync.RWMutex

	ID           string
	RFPID        string
	CustomerID   string
	TemplateID   string
	CurrentStage string
	Status       Status

	stageResults map[string]*StageResult
	stageOrder   []string
	errors       []string
	StartedAt    time.Time
	EndedAt      time.Time
	Metadata     map[string]interface{}

	cancel func()
}

func newContext(id, rfpID, customerID, templateID string) *Context {
	return &Context{
		ID:           id,
		RFPID:        rfpID,
		CustomerID:   customerID,
		TemplateID:   templateID,
		CurrentStage: "received",
		Status:       StatusPending,
		stageResults: make(map[string]*StageResult),
		StartedAt:    time.Now(),
		Metadata:     map[string]interface{}{"template_id": templateID},
	}
}

// recordStage stores a stage result. Completed results are never
// overwritten.
func (c *Context) recordStage(stage string, result *StageResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, done := c.stageResults[stage]; done {
		return
	}
	c.stageResults[stage] = result
	c.stageOrder = append(c.stageOrder, stage)
}

// stageResult returns the recorded result for a stage.
func (c *Context) stageResult(stage string) (*StageResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.stageResults[stage]
	return result, ok
}

// completedStages returns executed stage names in execution order.
func (c *Context) completedStages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.stageOrder...)
}

// appendError records a failure message.
func (c *Context) appendError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
}

// errorList returns the ordered error messages.
func (c *Context) errorList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.errors...)
}

// setStage advances the current stage label.
func (c *Context) setStage(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CurrentStage = stage
}

// setStatus transitions the workflow status, refusing to leave a terminal
// state.
func (c *Context) setStatus(status Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status.Terminal() {
		return false
	}
	c.Status = status
	if status.Terminal() {
		c.EndedAt = time.Now()
	}
	return true
}

// WorkflowStatus is the monitoring view of one workflow.
type WorkflowStatus struct {
	WorkflowID      string                  `json:"workflow_id"`
	RFPID           string                  `json:"rfp_id"`
	CustomerID      string                  `json:"customer_id"`
	TemplateID      string                  `json:"template_id"`
	CurrentStage    string                  `json:"current_stage"`
	Status          Status                  `json:"status"`
	CompletedStages []string                `json:"completed_stages"`
	StageResults    map[string]*StageResult `json:"stage_results"`
	Errors          []string                `json:"errors"`
	StartedAt       time.Time               `json:"started_at"`
	EndedAt         time.Time               `json:"ended_at,omitempty"`
}

func (c *Context) snapshot() WorkflowStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results := make(map[string]*StageResult, len(c.stageResults))
	for stage, result := range c.stageResults {
		copied := *result
		results[stage] = &copied
	}
	return WorkflowStatus{
		WorkflowID:      c.ID,
		RFPID:           c.RFPID,
		CustomerID:      c.CustomerID,
		TemplateID:      c.TemplateID,
		CurrentStage:    c.CurrentStage,
		Status:          c.Status,
		CompletedStages: append([]string(nil), c.stageOrder...),
		StageResults:    results,
		Errors:          append([]string(nil), c.errors...),
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
	}
}
