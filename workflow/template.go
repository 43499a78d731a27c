package workflow

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bidwise/rfpcore/core"
)

// Canonical stage names.
const (
	StageParsing            = "parsing"
	StageSalesAnalysis      = "sales_analysis"
	StageTechnical          = "technical_validation"
	StagePricing            = "pricing_calculation"
	StageResponseGeneration = "response_generation"
	StageReview             = "review"
)

// Bundled template identifiers.
const (
	TemplateStandard  = "standard_rfp"
	TemplateFastTrack = "fast_track_rfp"
	TemplateComplex   = "complex_rfp"
	TemplateSimple    = "simple_quote"
)

// StageConfig binds one logical stage to its agent and execution policy.
type StageConfig struct {
	Name             string        `yaml:"name" json:"name"`
	Agent            string        `yaml:"agent" json:"agent"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	Required         bool          `yaml:"required" json:"required"`
	SkipConditions   []string      `yaml:"skip_conditions,omitempty" json:"skip_conditions,omitempty"`
	RequiresApproval bool          `yaml:"requires_approval" json:"requires_approval"`
	ApproverRoles    []string      `yaml:"approver_roles,omitempty" json:"approver_roles,omitempty"`
	ParallelWith     []string      `yaml:"parallel_with,omitempty" json:"parallel_with,omitempty"`
}

// UnmarshalYAML decodes a stage config, accepting human-readable timeout
// strings like "90s" or "2m".
func (s *StageConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name             string   `yaml:"name"`
		Agent            string   `yaml:"agent"`
		Timeout          string   `yaml:"timeout"`
		Required         bool     `yaml:"required"`
		SkipConditions   []string `yaml:"skip_conditions"`
		RequiresApproval bool     `yaml:"requires_approval"`
		ApproverRoles    []string `yaml:"approver_roles"`
		ParallelWith     []string `yaml:"parallel_with"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Name = raw.Name
	s.Agent = raw.Agent
	s.Required = raw.Required
	s.SkipConditions = raw.SkipConditions
	s.RequiresApproval = raw.RequiresApproval
	s.ApproverRoles = raw.ApproverRoles
	s.ParallelWith = raw.ParallelWith
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("stage %s: invalid timeout %q: %w", raw.Name, raw.Timeout, err)
		}
		s.Timeout = d
	}
	return nil
}

// Template is an ordered list of stage configs plus selection metadata.
type Template struct {
	ID                string                 `yaml:"id" json:"id"`
	Name              string                 `yaml:"name" json:"name"`
	Description       string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Stages            []StageConfig          `yaml:"stages" json:"stages"`
	EstimatedDuration time.Duration          `yaml:"estimated_duration,omitempty" json:"estimated_duration,omitempty"`
	Metadata          map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// UnmarshalYAML decodes a template, accepting a human-readable estimated
// duration string.
func (t *Template) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID                string                 `yaml:"id"`
		Name              string                 `yaml:"name"`
		Description       string                 `yaml:"description"`
		Stages            []StageConfig          `yaml:"stages"`
		EstimatedDuration string                 `yaml:"estimated_duration"`
		Metadata          map[string]interface{} `yaml:"metadata"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	t.ID = raw.ID
	t.Name = raw.Name
	t.Description = raw.Description
	t.Stages = raw.Stages
	t.Metadata = raw.Metadata
	if raw.EstimatedDuration != "" {
		d, err := time.ParseDuration(raw.EstimatedDuration)
		if err != nil {
			return fmt.Errorf("template %s: invalid estimated_duration %q: %w", raw.ID, raw.EstimatedDuration, err)
		}
		t.EstimatedDuration = d
	}
	return nil
}

// Validate checks the template for a usable stage chain.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template: missing id")
	}
	if len(t.Stages) == 0 {
		return fmt.Errorf("template %s: no stages", t.ID)
	}
	seen := make(map[string]bool, len(t.Stages))
	for _, stage := range t.Stages {
		if stage.Name == "" {
			return fmt.Errorf("template %s: stage with empty name", t.ID)
		}
		if stage.Agent == "" {
			return fmt.Errorf("template %s: stage %s has no agent", t.ID, stage.Name)
		}
		if seen[stage.Name] {
			return fmt.Errorf("template %s: duplicate stage %s", t.ID, stage.Name)
		}
		seen[stage.Name] = true
	}
	return nil
}

// TemplateManager holds the registered workflow templates. Four defaults
// are preloaded; more may be registered at runtime or loaded from YAML.
type TemplateManager struct {
	mu        sync.RWMutex
	templates map[string]*Template
	logger    core.Logger
}

// NewTemplateManager creates a manager preloaded with the bundled
// templates.
func NewTemplateManager() *TemplateManager {
	m := &TemplateManager{
		templates: make(map[string]*Template),
		logger:    &core.NoOpLogger{},
	}
	for _, tmpl := range bundledTemplates() {
		m.templates[tmpl.ID] = tmpl
	}
	return m
}

// SetLogger configures the logger for template events.
func (m *TemplateManager) SetLogger(logger core.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Register adds or replaces a template.
func (m *TemplateManager) Register(tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[tmpl.ID] = tmpl
	return nil
}

// RegisterYAML parses and registers a template from its YAML definition.
func (m *TemplateManager) RegisterYAML(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parsing template YAML: %w", err)
	}
	if err := m.Register(&tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// Get returns the template with the given identifier.
func (m *TemplateManager) Get(id string) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tmpl, ok := m.templates[id]
	if !ok {
		return nil, fmt.Errorf("workflow.TemplateManager [%s]: %w", id, core.ErrTemplateNotFound)
	}
	return tmpl, nil
}

// List returns all registered templates.
func (m *TemplateManager) List() []*Template {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Template, 0, len(m.templates))
	for _, tmpl := range m.templates {
		out = append(out, tmpl)
	}
	return out
}

// Default per-stage timeouts. The fast-track template halves them.
const (
	defaultStageTimeout   = 2 * time.Minute
	fastTrackStageTimeout = time.Minute
)

func standardStages(timeout time.Duration) []StageConfig {
	return []StageConfig{
		{Name: StageParsing, Agent: "parsing_agent", Timeout: timeout, Required: true},
		{Name: StageSalesAnalysis, Agent: "sales_agent", Timeout: timeout, Required: true},
		{Name: StageTechnical, Agent: "technical_agent", Timeout: timeout, Required: true},
		{Name: StagePricing, Agent: "pricing_agent", Timeout: timeout, Required: true},
		{Name: StageResponseGeneration, Agent: "response_agent", Timeout: timeout, Required: true},
	}
}

func bundledTemplates() []*Template {
	standard := &Template{
		ID:                TemplateStandard,
		Name:              "Standard RFP",
		Description:       "Full analysis chain for typical RFPs",
		Stages:            standardStages(defaultStageTimeout),
		EstimatedDuration: 10 * time.Minute,
	}

	fastTrack := &Template{
		ID:                TemplateFastTrack,
		Name:              "Fast Track RFP",
		Description:       "Shortened timeouts; technical validation may skip for standard products",
		Stages:            standardStages(fastTrackStageTimeout),
		EstimatedDuration: 5 * time.Minute,
	}
	for i := range fastTrack.Stages {
		if fastTrack.Stages[i].Name == StageTechnical {
			fastTrack.Stages[i].Required = false
			fastTrack.Stages[i].SkipConditions = []string{ConditionStandardProduct}
		}
	}

	complex := &Template{
		ID:          TemplateComplex,
		Name:        "Complex RFP",
		Description: "High-value RFPs with human approvals on key stages",
		Stages: append(standardStages(defaultStageTimeout),
			StageConfig{Name: StageReview, Agent: "review_agent", Timeout: defaultStageTimeout, Required: false},
		),
		EstimatedDuration: 30 * time.Minute,
	}
	for i := range complex.Stages {
		switch complex.Stages[i].Name {
		case StageSalesAnalysis:
			complex.Stages[i].RequiresApproval = true
			complex.Stages[i].ApproverRoles = []string{"sales_manager"}
		case StageTechnical:
			complex.Stages[i].RequiresApproval = true
			complex.Stages[i].ApproverRoles = []string{"engineering_lead"}
		case StagePricing:
			complex.Stages[i].RequiresApproval = true
			complex.Stages[i].ApproverRoles = []string{"finance_manager"}
		}
	}

	simple := &Template{
		ID:          TemplateSimple,
		Name:        "Simple Quote",
		Description: "Low-value quotes without technical validation",
		Stages: []StageConfig{
			{Name: StageParsing, Agent: "parsing_agent", Timeout: defaultStageTimeout, Required: true},
			{Name: StageSalesAnalysis, Agent: "sales_agent", Timeout: defaultStageTimeout, Required: true},
			{Name: StagePricing, Agent: "pricing_agent", Timeout: defaultStageTimeout, Required: true},
			{Name: StageResponseGeneration, Agent: "response_agent", Timeout: defaultStageTimeout, Required: true},
		},
		EstimatedDuration: 5 * time.Minute,
	}

	return []*Template{standard, fastTrack, complex, simple}
}
