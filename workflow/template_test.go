package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidwise/rfpcore/core"
)

func TestBundledTemplatesPreloaded(t *testing.T) {
	m := NewTemplateManager()

	for _, id := range []string{TemplateStandard, TemplateFastTrack, TemplateComplex, TemplateSimple} {
		tmpl, err := m.Get(id)
		require.NoError(t, err, id)
		assert.NoError(t, tmpl.Validate(), id)
	}
	assert.Len(t, m.List(), 4)
}

func TestStandardTemplateStageChain(t *testing.T) {
	m := NewTemplateManager()
	tmpl, err := m.Get(TemplateStandard)
	require.NoError(t, err)

	var names []string
	for _, stage := range tmpl.Stages {
		names = append(names, stage.Name)
	}
	assert.Equal(t, []string{
		StageParsing, StageSalesAnalysis, StageTechnical, StagePricing, StageResponseGeneration,
	}, names)
}

func TestComplexTemplateHasApprovalGates(t *testing.T) {
	m := NewTemplateManager()
	tmpl, err := m.Get(TemplateComplex)
	require.NoError(t, err)

	gated := map[string][]string{}
	for _, stage := range tmpl.Stages {
		if stage.RequiresApproval {
			gated[stage.Name] = stage.ApproverRoles
		}
	}
	assert.Equal(t, []string{"sales_manager"}, gated[StageSalesAnalysis])
	assert.Equal(t, []string{"engineering_lead"}, gated[StageTechnical])
	assert.Equal(t, []string{"finance_manager"}, gated[StagePricing])
}

func TestComplexTemplateEndsWithReview(t *testing.T) {
	m := NewTemplateManager()
	tmpl, err := m.Get(TemplateComplex)
	require.NoError(t, err)

	last := tmpl.Stages[len(tmpl.Stages)-1]
	assert.Equal(t, StageReview, last.Name)
	assert.Equal(t, "review_agent", last.Agent)
	assert.False(t, last.Required)
}

func TestFastTrackTechnicalIsConditional(t *testing.T) {
	m := NewTemplateManager()
	tmpl, err := m.Get(TemplateFastTrack)
	require.NoError(t, err)

	for _, stage := range tmpl.Stages {
		if stage.Name == StageTechnical {
			assert.False(t, stage.Required)
			assert.Equal(t, []string{ConditionStandardProduct}, stage.SkipConditions)
			return
		}
	}
	t.Fatal("fast track template missing technical stage")
}

func TestSimpleQuoteSkipsTechnical(t *testing.T) {
	m := NewTemplateManager()
	tmpl, err := m.Get(TemplateSimple)
	require.NoError(t, err)

	for _, stage := range tmpl.Stages {
		assert.NotEqual(t, StageTechnical, stage.Name)
	}
}

func TestTemplateValidate(t *testing.T) {
	assert.Error(t, (&Template{}).Validate())
	assert.Error(t, (&Template{ID: "t"}).Validate())
	assert.Error(t, (&Template{ID: "t", Stages: []StageConfig{{Name: "a"}}}).Validate())
	assert.Error(t, (&Template{ID: "t", Stages: []StageConfig{
		{Name: "a", Agent: "x"},
		{Name: "a", Agent: "y"},
	}}).Validate())
	assert.NoError(t, (&Template{ID: "t", Stages: []StageConfig{{Name: "a", Agent: "x"}}}).Validate())
}

func TestRegisterYAML(t *testing.T) {
	m := NewTemplateManager()

	tmpl, err := m.RegisterYAML([]byte(`
id: expedited_reorder
name: Expedited Reorder
stages:
  - name: parsing
    agent: parsing_agent
    timeout: 30s
    required: true
  - name: pricing_calculation
    agent: pricing_agent
    timeout: 1m
    required: true
`))
	require.NoError(t, err)
	assert.Equal(t, "expedited_reorder", tmpl.ID)
	require.Len(t, tmpl.Stages, 2)
	assert.Equal(t, 30*time.Second, tmpl.Stages[0].Timeout)
	assert.Equal(t, time.Minute, tmpl.Stages[1].Timeout)

	_, err = m.Get("expedited_reorder")
	assert.NoError(t, err)
}

func TestRegisterYAMLInvalid(t *testing.T) {
	m := NewTemplateManager()

	_, err := m.RegisterYAML([]byte("{not yaml"))
	assert.Error(t, err)

	_, err = m.RegisterYAML([]byte("id: empty_one\nstages: []"))
	assert.Error(t, err)
}

func TestGetUnknownTemplate(t *testing.T) {
	m := NewTemplateManager()
	_, err := m.Get("no_such_template")
	assert.ErrorIs(t, err, core.ErrTemplateNotFound)
}
