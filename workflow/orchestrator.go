package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bidwise/rfpcore/comm"
	"github.com/bidwise/rfpcore/core"
	"github.com/bidwise/rfpcore/rfp"
	"github.com/bidwise/rfpcore/telemetry"
)

// OrchestratorID is the agent identity the orchestrator registers under.
const OrchestratorID = "orchestrator"

// Workflow lifecycle events broadcast to registered agents.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
	EventWorkflowCancelled = "workflow_cancelled"
)

// OrchestratorConfig tunes the orchestrator.
type OrchestratorConfig struct {
	// ApprovalTimeout bounds each human approval gate.
	ApprovalTimeout time.Duration

	// Logger for workflow events. Defaults to NoOpLogger.
	Logger core.Logger

	// Telemetry for workflow spans. Defaults to NoOpTelemetry.
	Telemetry core.Telemetry
}

// DefaultOrchestratorConfig returns sensible defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		ApprovalTimeout: 30 * time.Minute,
		Logger:          &core.NoOpLogger{},
		Telemetry:       &core.NoOpTelemetry{},
	}
}

// Orchestrator drives each RFP through its template's stage chain over the
// communication manager, gating on approvals and feeding the time
// estimator as stages complete.
type Orchestrator struct {
	comm      *comm.Manager
	templates *TemplateManager
	router    *ConditionalRouter
	approvals *ApprovalManager
	estimator *TimeEstimator
	logger    core.Logger
	telemetry core.Telemetry
	config    *OrchestratorConfig

	mu        sync.RWMutex
	workflows map[string]*Context
}

// NewOrchestrator creates an orchestrator over the communication manager
// and registers it as an agent so it can receive responses and events.
func NewOrchestrator(ctx context.Context, manager *comm.Manager, config *OrchestratorConfig) (*Orchestrator, error) {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	if config.ApprovalTimeout <= 0 {
		config.ApprovalTimeout = 30 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Telemetry == nil {
		config.Telemetry = &core.NoOpTelemetry{}
	}

	o := &Orchestrator{
		comm:      manager,
		templates: NewTemplateManager(),
		router:    NewConditionalRouter(),
		approvals: NewApprovalManager(&ApprovalManagerConfig{
			DefaultTimeout: config.ApprovalTimeout,
			Logger:         config.Logger,
		}),
		estimator: NewTimeEstimator(),
		logger:    config.Logger,
		telemetry: config.Telemetry,
		config:    config,
		workflows: make(map[string]*Context),
	}
	o.templates.SetLogger(config.Logger)
	o.router.SetLogger(config.Logger)

	if err := manager.RegisterAgent(ctx, OrchestratorID, "orchestrator", nil); err != nil {
		return nil, fmt.Errorf("workflow.NewOrchestrator: %w", err)
	}
	return o, nil
}

// Templates exposes the template registry.
func (o *Orchestrator) Templates() *TemplateManager { return o.templates }

// Approvals exposes the approval manager so external approvers can decide
// pending gates.
func (o *Orchestrator) Approvals() *ApprovalManager { return o.approvals }

// Estimator exposes the duration estimator.
func (o *Orchestrator) Estimator() *TimeEstimator { return o.estimator }

// AvailableTemplates lists the registered template identifiers.
func (o *Orchestrator) AvailableTemplates() []string {
	templates := o.templates.List()
	out := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		out = append(out, tmpl.ID)
	}
	return out
}

// ProcessRFP runs one RFP through a workflow. An empty templateID lets the
// router pick from the RFP's characteristics. It blocks until the workflow
// reaches a terminal status and returns the final artifact on success.
func (o *Orchestrator) ProcessRFP(ctx context.Context, input *rfp.Input, templateID string) (*rfp.FinalArtifact, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if templateID == "" {
		templateID = o.router.SelectTemplate(input)
	}
	tmpl, err := o.templates.Get(templateID)
	if err != nil {
		return nil, err
	}

	wfCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wf := newContext(uuid.New().String(), input.RFPID, input.CustomerID, templateID)
	wf.cancel = cancel

	o.mu.Lock()
	o.workflows[wf.ID] = wf
	o.mu.Unlock()

	wfCtx, span := o.telemetry.StartSpan(wfCtx, "workflow.process_rfp")
	span.SetAttribute("workflow.id", wf.ID)
	span.SetAttribute("workflow.template", templateID)
	span.SetAttribute("rfp.id", input.RFPID)
	defer span.End()

	estimate := o.estimator.EstimateWorkflow(tmpl)
	o.logger.Info("Workflow started", map[string]interface{}{
		"operation":   "workflow_start",
		"workflow_id": wf.ID,
		"rfp_id":      input.RFPID,
		"template_id": templateID,
		"estimate":    estimate.String(),
	})
	wf.setStatus(StatusInProgress)
	o.telemetry.RecordMetric(telemetry.MetricWorkflowsStarted, 1, map[string]string{
		"template": templateID,
	})

	o.comm.Broadcast(wfCtx, OrchestratorID, map[string]interface{}{
		"event":       EventWorkflowStarted,
		"workflow_id": wf.ID,
		"rfp_id":      input.RFPID,
		"template_id": templateID,
	}, "")

	routing := routingData(input)

	for idx := 0; idx < len(tmpl.Stages); {
		select {
		case <-wfCtx.Done():
			return nil, o.fail(ctx, wf, wf.CurrentStage, wfCtx.Err())
		default:
		}
		if wf.snapshot().Status == StatusCancelled {
			return nil, o.fail(ctx, wf, wf.CurrentStage, core.ErrWorkflowCancelled)
		}

		group := o.router.NextStages(tmpl, idx)
		if err := o.runStageGroup(wfCtx, wf, input, group, routing); err != nil {
			return nil, o.fail(ctx, wf, wf.CurrentStage, err)
		}
		idx += len(group)
	}

	wf.setStage("completed")
	wf.setStatus(StatusCompleted)
	status := wf.snapshot()
	elapsed := status.EndedAt.Sub(status.StartedAt)
	o.estimator.RecordWorkflow(templateID, elapsed)

	artifact := o.buildArtifact(wf, tmpl, estimate)

	o.comm.Broadcast(ctx, OrchestratorID, map[string]interface{}{
		"event":       EventWorkflowCompleted,
		"workflow_id": wf.ID,
		"rfp_id":      input.RFPID,
		"duration":    elapsed.String(),
	}, "")

	o.logger.Info("Workflow completed", map[string]interface{}{
		"operation":   "workflow_complete",
		"workflow_id": wf.ID,
		"rfp_id":      input.RFPID,
		"duration":    elapsed.String(),
	})
	return artifact, nil
}

// runStageGroup executes one stage, or a set of stages configured to run
// in parallel. Any failure in the group fails it.
func (o *Orchestrator) runStageGroup(ctx context.Context, wf *Context, input *rfp.Input, group []StageConfig, routing map[string]interface{}) error {
	if len(group) == 1 {
		return o.runStage(ctx, wf, input, &group[0], routing)
	}

	names := make([]string, len(group))
	for i, stage := range group {
		names[i] = stage.Name
	}
	wf.setStage(strings.Join(names, "+"))

	var wg sync.WaitGroup
	errs := make([]error, len(group))
	for i := range group {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = o.runStage(ctx, wf, input, &group[i], routing)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, wf *Context, input *rfp.Input, stage *StageConfig, routing map[string]interface{}) error {
	wf.setStage(stage.Name)

	if skip, condition := o.router.ShouldSkip(stage, routing); skip {
		wf.recordStage(stage.Name, &StageResult{
			Status:    "skipped",
			Data:      map[string]interface{}{"condition": condition},
			Timestamp: time.Now(),
		})
		o.logger.Info("Stage skipped", map[string]interface{}{
			"operation":   "workflow_stage",
			"workflow_id": wf.ID,
			"stage":       stage.Name,
			"condition":   condition,
		})
		return nil
	}

	if stage.RequiresApproval {
		approved, err := o.approvals.RequestApproval(ctx, wf.ID, stage.Name, stage.ApproverRoles, map[string]interface{}{
			"rfp_id":          input.RFPID,
			"customer_id":     input.CustomerID,
			"estimated_value": input.EstimatedValue,
			"stage":           stage.Name,
		}, o.config.ApprovalTimeout)
		if !approved {
			wf.appendError(fmt.Sprintf("stage %s: approval: %v", stage.Name, err))
			wf.recordStage(stage.Name, &StageResult{
				Status:    "failed",
				Error:     err.Error(),
				Timestamp: time.Now(),
			})
			return fmt.Errorf("workflow stage %s: %w", stage.Name, err)
		}
	}

	payload, err := o.buildStagePayload(wf, input, stage.Name)
	if err != nil {
		return fmt.Errorf("workflow stage %s: %w", stage.Name, err)
	}

	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}

	started := time.Now()
	response, err := o.comm.SendRequest(ctx, OrchestratorID, stage.Agent, payload, timeout)
	duration := time.Since(started)

	if err == nil {
		if status, _ := response["status"].(string); status == rfp.StatusFailed {
			reason, _ := response["error"].(string)
			if reason == "" {
				reason = "agent reported failure"
			}
			err = fmt.Errorf("%s: %w", reason, core.ErrStageFailed)
		}
	}

	if err != nil {
		wf.appendError(fmt.Sprintf("stage %s: %v", stage.Name, err))
		wf.recordStage(stage.Name, &StageResult{
			Status:    "failed",
			Error:     err.Error(),
			Duration:  duration,
			Timestamp: time.Now(),
		})
		if !stage.Required {
			o.logger.Warn("Optional stage failed, continuing", map[string]interface{}{
				"operation":   "workflow_stage",
				"workflow_id": wf.ID,
				"stage":       stage.Name,
				"error":       err.Error(),
			})
			return nil
		}
		return fmt.Errorf("workflow stage %s: %w", stage.Name, err)
	}

	wf.recordStage(stage.Name, &StageResult{
		Status:    "success",
		Data:      response,
		Duration:  duration,
		Timestamp: time.Now(),
	})
	o.estimator.RecordStage(stage.Name, duration)
	o.telemetry.RecordMetric(telemetry.MetricStageLatency, float64(duration.Milliseconds()), map[string]string{
		"stage": stage.Name,
		"agent": stage.Agent,
	})

	o.logger.Info("Stage completed", map[string]interface{}{
		"operation":   "workflow_stage",
		"workflow_id": wf.ID,
		"stage":       stage.Name,
		"agent":       stage.Agent,
		"duration":    duration.String(),
	})
	return nil
}

// buildStagePayload assembles the typed request for a stage from the RFP
// input and the outputs of earlier stages.
func (o *Orchestrator) buildStagePayload(wf *Context, input *rfp.Input, stage string) (map[string]interface{}, error) {
	switch stage {
	case StageParsing:
		return rfp.ToPayload(&rfp.ParsingRequest{
			WorkflowID:   wf.ID,
			RFPID:        input.RFPID,
			Document:     input.Document,
			DocumentType: input.DocumentType,
		})

	case StageSalesAnalysis:
		var parsed rfp.ParsingResponse
		o.decodeStage(wf, StageParsing, &parsed)
		return rfp.ToPayload(&rfp.SalesAnalysisRequest{
			WorkflowID:   wf.ID,
			RFPID:        input.RFPID,
			CustomerID:   input.CustomerID,
			Requirements: parsed.Requirements,
			Sections:     parsed.Sections,
		})

	case StageTechnical:
		var sales rfp.SalesAnalysisResponse
		o.decodeStage(wf, StageSalesAnalysis, &sales)
		return rfp.ToPayload(&rfp.TechnicalValidationRequest{
			WorkflowID:          wf.ID,
			RFPID:               input.RFPID,
			LineItems:           sales.LineItems,
			RecommendedProducts: sales.RecommendedProducts,
		})

	case StagePricing:
		var sales rfp.SalesAnalysisResponse
		var technical rfp.TechnicalValidationResponse
		o.decodeStage(wf, StageSalesAnalysis, &sales)
		o.decodeStage(wf, StageTechnical, &technical)
		return rfp.ToPayload(&rfp.PricingRequest{
			WorkflowID:        wf.ID,
			RFPID:             input.RFPID,
			CustomerID:        input.CustomerID,
			LineItems:         sales.LineItems,
			ValidatedProducts: technical.ValidatedProducts,
			CustomerContext:   sales.CustomerContext,
		})

	case StageResponseGeneration:
		return rfp.ToPayload(&rfp.ResponseGenerationRequest{
			WorkflowID:          wf.ID,
			RFPID:               input.RFPID,
			CustomerID:          input.CustomerID,
			ParsedContent:       o.stageData(wf, StageParsing),
			SalesAnalysis:       o.stageData(wf, StageSalesAnalysis),
			TechnicalValidation: o.stageData(wf, StageTechnical),
			Pricing:             o.stageData(wf, StagePricing),
			Deadline:            input.Deadline,
		})

	case StageReview:
		var pricing rfp.PricingResponse
		var generated rfp.ResponseGenerationResponse
		o.decodeStage(wf, StagePricing, &pricing)
		o.decodeStage(wf, StageResponseGeneration, &generated)
		return rfp.ToPayload(&rfp.ReviewRequest{
			WorkflowID:       wf.ID,
			RFPID:            input.RFPID,
			CustomerID:       input.CustomerID,
			Document:         generated.Document,
			ExecutiveSummary: generated.ExecutiveSummary,
			QuoteTotal:       pricing.Total,
		})

	default:
		// Custom template stages get the accumulated context verbatim.
		payload := map[string]interface{}{
			"workflow_id": wf.ID,
			"rfp_id":      input.RFPID,
			"customer_id": input.CustomerID,
			"stage":       stage,
		}
		for _, name := range wf.completedStages() {
			if data := o.stageData(wf, name); data != nil {
				payload[name] = data
			}
		}
		return payload, nil
	}
}

func (o *Orchestrator) decodeStage(wf *Context, stage string, v interface{}) {
	if data := o.stageData(wf, stage); data != nil {
		if err := rfp.FromPayload(data, v); err != nil {
			o.logger.Warn("Undecodable stage output", map[string]interface{}{
				"operation":   "workflow_stage_payload",
				"workflow_id": wf.ID,
				"stage":       stage,
				"error":       err.Error(),
			})
		}
	}
}

func (o *Orchestrator) stageData(wf *Context, stage string) map[string]interface{} {
	if result, ok := wf.stageResult(stage); ok && result.Status == "success" {
		return result.Data
	}
	return nil
}

// fail drives the workflow to its failed terminal state, broadcasts the
// event, and returns a structured error.
func (o *Orchestrator) fail(ctx context.Context, wf *Context, stage string, cause error) error {
	cancelled := errors.Is(cause, context.Canceled) || errors.Is(cause, core.ErrWorkflowCancelled)
	if cancelled {
		wf.setStatus(StatusCancelled)
	} else {
		wf.setStatus(StatusFailed)
	}
	wf.setStage("failed")

	status := wf.snapshot()
	event := EventWorkflowFailed
	if status.Status == StatusCancelled {
		event = EventWorkflowCancelled
	}
	o.telemetry.RecordMetric(telemetry.MetricWorkflowsFailed, 1, map[string]string{
		"template": wf.TemplateID,
		"stage":    stage,
	})
	o.comm.Broadcast(ctx, OrchestratorID, map[string]interface{}{
		"event":        event,
		"workflow_id":  wf.ID,
		"rfp_id":       wf.RFPID,
		"failed_stage": stage,
		"errors":       status.Errors,
	}, "")

	o.logger.Error("Workflow failed", map[string]interface{}{
		"operation":    "workflow_fail",
		"workflow_id":  wf.ID,
		"rfp_id":       wf.RFPID,
		"failed_stage": stage,
		"error":        fmt.Sprintf("%v", cause),
	})

	return &WorkflowError{
		Report: rfp.Failure{
			WorkflowID:      wf.ID,
			RFPID:           wf.RFPID,
			Status:          string(status.Status),
			FailedStage:     stage,
			Errors:          status.Errors,
			CompletedStages: status.CompletedStages,
			Elapsed:         status.EndedAt.Sub(status.StartedAt),
		},
		Err: cause,
	}
}

// WorkflowError carries the structured failure report alongside the cause.
type WorkflowError struct {
	Report rfp.Failure
	Err    error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow %s failed at %s: %v", e.Report.WorkflowID, e.Report.FailedStage, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// buildArtifact assembles the final response from the recorded stage
// outputs.
func (o *Orchestrator) buildArtifact(wf *Context, tmpl *Template, estimate time.Duration) *rfp.FinalArtifact {
	status := wf.snapshot()

	var parsed rfp.ParsingResponse
	var sales rfp.SalesAnalysisResponse
	var pricing rfp.PricingResponse
	var technical rfp.TechnicalValidationResponse
	var generated rfp.ResponseGenerationResponse
	o.decodeStage(wf, StageParsing, &parsed)
	o.decodeStage(wf, StageSalesAnalysis, &sales)
	o.decodeStage(wf, StagePricing, &pricing)
	o.decodeStage(wf, StageTechnical, &technical)
	o.decodeStage(wf, StageResponseGeneration, &generated)

	// Confidence scores from whichever analysis stages actually ran.
	metadata := make(map[string]interface{})
	if o.stageData(wf, StageParsing) != nil {
		metadata["confidence_score"] = parsed.ConfidenceScore
	}
	if o.stageData(wf, StageSalesAnalysis) != nil {
		metadata["opportunity_score"] = sales.OpportunityScore
	}
	if o.stageData(wf, StageTechnical) != nil {
		metadata["compliance_score"] = technical.ComplianceScore
	}

	perStage := make(map[string]time.Duration, len(status.StageResults))
	for name, result := range status.StageResults {
		perStage[name] = result.Duration
	}

	elapsed := status.EndedAt.Sub(status.StartedAt)
	return &rfp.FinalArtifact{
		WorkflowInfo: rfp.WorkflowInfo{
			WorkflowID:        wf.ID,
			RFPID:             wf.RFPID,
			CustomerID:        wf.CustomerID,
			TemplateID:        tmpl.ID,
			Status:            string(status.Status),
			EstimatedDuration: estimate,
			ActualDuration:    elapsed,
		},
		ResponseDocument: generated.Document,
		ExecutiveSummary: generated.ExecutiveSummary,
		Quote: rfp.Quote{
			QuoteID:      pricing.QuoteID,
			Total:        pricing.Total,
			Subtotal:     pricing.Subtotal,
			Taxes:        pricing.Taxes,
			LineItems:    pricing.LineItemPrices,
			ValidityDays: pricing.ValidityPeriod,
		},
		Compliance: rfp.Compliance{
			Score:          technical.ComplianceScore,
			StandardsMet:   technical.StandardsMet,
			Certifications: technical.Certifications,
		},
		Timeline: rfp.Timeline{
			Start:             status.StartedAt,
			End:               status.EndedAt,
			TotalDurationSecs: elapsed.Seconds(),
			PerStageDurations: perStage,
		},
		Metadata: metadata,
	}
}

// Cancel aborts an in-flight workflow.
func (o *Orchestrator) Cancel(workflowID string) error {
	o.mu.RLock()
	wf, ok := o.workflows[workflowID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow.Cancel [%s]: %w", workflowID, core.ErrWorkflowNotFound)
	}
	if !wf.setStatus(StatusCancelled) {
		return fmt.Errorf("workflow.Cancel [%s]: already terminal", workflowID)
	}
	if wf.cancel != nil {
		wf.cancel()
	}
	return nil
}

// GetWorkflowStatus returns the monitoring view of one workflow.
func (o *Orchestrator) GetWorkflowStatus(workflowID string) (*WorkflowStatus, error) {
	o.mu.RLock()
	wf, ok := o.workflows[workflowID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow.GetWorkflowStatus [%s]: %w", workflowID, core.ErrWorkflowNotFound)
	}
	status := wf.snapshot()
	return &status, nil
}

// ActiveWorkflows lists the workflows that have not reached a terminal
// status.
func (o *Orchestrator) ActiveWorkflows() []WorkflowStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []WorkflowStatus
	for _, wf := range o.workflows {
		status := wf.snapshot()
		if !status.Status.Terminal() {
			out = append(out, status)
		}
	}
	return out
}

// TimeEstimates returns the current per-stage predictions.
func (o *Orchestrator) TimeEstimates() []StageEstimate {
	return o.estimator.Estimates()
}

// VisualizeTemplate renders a template's stage chain as text, marking
// approval gates and conditional stages.
func (o *Orchestrator) VisualizeTemplate(templateID string) (string, error) {
	tmpl, err := o.templates.Get(templateID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", tmpl.Name, tmpl.ID)
	for i, stage := range tmpl.Stages {
		marker := "==>"
		if i == 0 {
			marker = "   "
		}
		var tags []string
		if stage.RequiresApproval {
			tags = append(tags, "approval: "+strings.Join(stage.ApproverRoles, ","))
		}
		if len(stage.SkipConditions) > 0 {
			tags = append(tags, "conditional")
		}
		if len(stage.ParallelWith) > 0 {
			tags = append(tags, "parallel: "+strings.Join(stage.ParallelWith, ","))
		}
		suffix := ""
		if len(tags) > 0 {
			suffix = " [" + strings.Join(tags, "; ") + "]"
		}
		fmt.Fprintf(&b, " %s %s (%s)%s\n", marker, stage.Name, stage.Agent, suffix)
	}
	return b.String(), nil
}

// VisualizeWorkflow renders one workflow's progress through its template.
func (o *Orchestrator) VisualizeWorkflow(workflowID string) (string, error) {
	status, err := o.GetWorkflowStatus(workflowID)
	if err != nil {
		return "", err
	}
	tmpl, err := o.templates.Get(status.TemplateID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "workflow %s (rfp %s, template %s) status=%s\n",
		status.WorkflowID, status.RFPID, status.TemplateID, status.Status)
	for _, stage := range tmpl.Stages {
		marker := "[ ]"
		detail := ""
		if result, ok := status.StageResults[stage.Name]; ok {
			switch result.Status {
			case "success":
				marker = "[x]"
				detail = " " + result.Duration.String()
			case "skipped":
				marker = "[-]"
			case "failed":
				marker = "[!]"
				detail = " " + result.Error
			}
		} else if stage.Name == status.CurrentStage {
			marker = "[>]"
		}
		fmt.Fprintf(&b, " %s %s (%s)%s\n", marker, stage.Name, stage.Agent, detail)
	}
	return b.String(), nil
}

// Close releases the orchestrator's background resources.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.approvals.Close()
	return o.comm.UnregisterAgent(ctx, OrchestratorID)
}

// routingData flattens the RFP characteristics the router's skip
// conditions consult.
func routingData(input *rfp.Input) map[string]interface{} {
	return map[string]interface{}{
		"estimated_value":     input.EstimatedValue,
		"is_standard_product": input.IsStandardProduct,
		"priority":            input.Priority,
		"complexity":          input.Complexity,
	}
}
