package workflow

import (
	"github.com/bidwise/rfpcore/core"
	"github.com/bidwise/rfpcore/rfp"
)

// Canonical skip and routing conditions attached to stage configs.
const (
	ConditionLowValue          = "skip_if_low_value"
	ConditionStandardProduct   = "skip_if_standard_product"
	ConditionFastTrack         = "fast_track"
	ConditionRequiresApproval  = "requires_approval"
	ConditionComplexValidation = "complex_validation"
)

// lowValueThreshold is the estimated value under which low-value skip
// conditions hold.
const lowValueThreshold = 10000

// ConditionalRouter selects templates from RFP characteristics and decides
// which stages a workflow skips.
type ConditionalRouter struct {
	logger core.Logger
}

// NewConditionalRouter creates a router.
func NewConditionalRouter() *ConditionalRouter {
	return &ConditionalRouter{logger: &core.NoOpLogger{}}
}

// SetLogger configures the logger for routing decisions.
func (r *ConditionalRouter) SetLogger(logger core.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SelectTemplate picks a bundled template from the RFP snapshot.
func (r *ConditionalRouter) SelectTemplate(input *rfp.Input) string {
	switch {
	case input.Priority == "urgent" && input.Complexity == "simple":
		return TemplateFastTrack
	case input.Complexity == "complex" || input.EstimatedValue > 1_000_000:
		return TemplateComplex
	case input.Complexity == "simple" && input.EstimatedValue < 50_000:
		return TemplateSimple
	default:
		return TemplateStandard
	}
}

// ShouldSkip reports whether any of the stage's skip conditions hold
// against the workflow context data, and which condition fired.
func (r *ConditionalRouter) ShouldSkip(stage *StageConfig, data map[string]interface{}) (bool, string) {
	for _, condition := range stage.SkipConditions {
		if r.conditionHolds(condition, data) {
			r.logger.Debug("Stage skip condition met", map[string]interface{}{
				"operation": "router_skip",
				"stage":     stage.Name,
				"condition": condition,
			})
			return true, condition
		}
	}
	return false, ""
}

func (r *ConditionalRouter) conditionHolds(condition string, data map[string]interface{}) bool {
	switch condition {
	case ConditionLowValue:
		value, _ := data["estimated_value"].(float64)
		return value < lowValueThreshold
	case ConditionStandardProduct:
		standard, _ := data["is_standard_product"].(bool)
		return standard
	case ConditionFastTrack:
		priority, _ := data["priority"].(string)
		return priority == "urgent"
	case ConditionRequiresApproval, ConditionComplexValidation:
		// These shape approval and validation depth, never skipping.
		return false
	default:
		return false
	}
}

// NextStages returns the group of stages starting at index idx that may run
// concurrently: the stage itself plus any immediately following stages the
// config lists as parallel with it. Otherwise the group is singular.
func (r *ConditionalRouter) NextStages(tmpl *Template, idx int) []StageConfig {
	if idx < 0 || idx >= len(tmpl.Stages) {
		return nil
	}
	head := tmpl.Stages[idx]
	group := []StageConfig{head}

	parallel := make(map[string]bool, len(head.ParallelWith))
	for _, name := range head.ParallelWith {
		parallel[name] = true
	}

	for i := idx + 1; i < len(tmpl.Stages); i++ {
		next := tmpl.Stages[i]
		if !parallel[next.Name] || !listsParallel(&next, head.Name) {
			break
		}
		group = append(group, next)
	}
	return group
}

func listsParallel(stage *StageConfig, name string) bool {
	for _, p := range stage.ParallelWith {
		if p == name {
			return true
		}
	}
	return false
}
