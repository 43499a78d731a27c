package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bidwise/rfpcore/rfp"
)

func TestSelectTemplate(t *testing.T) {
	router := NewConditionalRouter()

	cases := []struct {
		name     string
		input    rfp.Input
		expected string
	}{
		{
			name:     "urgent simple goes fast track",
			input:    rfp.Input{Priority: "urgent", Complexity: "simple", EstimatedValue: 20000},
			expected: TemplateFastTrack,
		},
		{
			name:     "complex goes complex",
			input:    rfp.Input{Priority: "normal", Complexity: "complex", EstimatedValue: 5000},
			expected: TemplateComplex,
		},
		{
			name:     "high value goes complex regardless of complexity",
			input:    rfp.Input{Priority: "normal", Complexity: "moderate", EstimatedValue: 1_500_000},
			expected: TemplateComplex,
		},
		{
			name:     "simple low value goes simple quote",
			input:    rfp.Input{Priority: "normal", Complexity: "simple", EstimatedValue: 10000},
			expected: TemplateSimple,
		},
		{
			name:     "simple but valuable goes standard",
			input:    rfp.Input{Priority: "normal", Complexity: "simple", EstimatedValue: 80000},
			expected: TemplateStandard,
		},
		{
			name:     "moderate default goes standard",
			input:    rfp.Input{Priority: "normal", Complexity: "moderate", EstimatedValue: 200000},
			expected: TemplateStandard,
		},
		{
			name:     "urgent complex still goes complex",
			input:    rfp.Input{Priority: "urgent", Complexity: "complex", EstimatedValue: 100000},
			expected: TemplateComplex,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, router.SelectTemplate(&tc.input))
		})
	}
}

func TestShouldSkip(t *testing.T) {
	router := NewConditionalRouter()

	cases := []struct {
		name       string
		conditions []string
		data       map[string]interface{}
		skip       bool
		condition  string
	}{
		{
			name:       "low value skips",
			conditions: []string{ConditionLowValue},
			data:       map[string]interface{}{"estimated_value": 5000.0},
			skip:       true,
			condition:  ConditionLowValue,
		},
		{
			name:       "value at threshold does not skip",
			conditions: []string{ConditionLowValue},
			data:       map[string]interface{}{"estimated_value": 10000.0},
			skip:       false,
		},
		{
			name:       "standard product skips",
			conditions: []string{ConditionStandardProduct},
			data:       map[string]interface{}{"is_standard_product": true},
			skip:       true,
			condition:  ConditionStandardProduct,
		},
		{
			name:       "custom product does not skip",
			conditions: []string{ConditionStandardProduct},
			data:       map[string]interface{}{"is_standard_product": false},
			skip:       false,
		},
		{
			name:       "fast track skips for urgent",
			conditions: []string{ConditionFastTrack},
			data:       map[string]interface{}{"priority": "urgent"},
			skip:       true,
			condition:  ConditionFastTrack,
		},
		{
			name:       "fast track holds for normal priority",
			conditions: []string{ConditionFastTrack},
			data:       map[string]interface{}{"priority": "normal"},
			skip:       false,
		},
		{
			name:       "approval markers never skip",
			conditions: []string{ConditionRequiresApproval, ConditionComplexValidation},
			data:       map[string]interface{}{"estimated_value": 1.0},
			skip:       false,
		},
		{
			name:       "unknown condition ignored",
			conditions: []string{"skip_if_full_moon"},
			data:       map[string]interface{}{},
			skip:       false,
		},
		{
			name:       "first matching condition wins",
			conditions: []string{ConditionStandardProduct, ConditionLowValue},
			data:       map[string]interface{}{"is_standard_product": false, "estimated_value": 100.0},
			skip:       true,
			condition:  ConditionLowValue,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stage := &StageConfig{Name: "stage", SkipConditions: tc.conditions}
			skip, condition := router.ShouldSkip(stage, tc.data)
			assert.Equal(t, tc.skip, skip)
			if tc.skip {
				assert.Equal(t, tc.condition, condition)
			}
		})
	}
}

func TestNextStagesSequential(t *testing.T) {
	router := NewConditionalRouter()
	tmpl := &Template{
		ID: "t",
		Stages: []StageConfig{
			{Name: "a", Agent: "x"},
			{Name: "b", Agent: "y"},
		},
	}

	group := router.NextStages(tmpl, 0)
	assert.Len(t, group, 1)
	assert.Equal(t, "a", group[0].Name)
}

func TestNextStagesParallelGroup(t *testing.T) {
	router := NewConditionalRouter()
	tmpl := &Template{
		ID: "t",
		Stages: []StageConfig{
			{Name: "a", Agent: "x"},
			{Name: "b", Agent: "y", ParallelWith: []string{"c"}},
			{Name: "c", Agent: "z", ParallelWith: []string{"b"}},
			{Name: "d", Agent: "w"},
		},
	}

	group := router.NextStages(tmpl, 1)
	assert.Len(t, group, 2)
	assert.Equal(t, "b", group[0].Name)
	assert.Equal(t, "c", group[1].Name)

	// The grouping must be mutual.
	tmpl.Stages[2].ParallelWith = nil
	group = router.NextStages(tmpl, 1)
	assert.Len(t, group, 1)
}
