// Package rfp defines the typed payloads exchanged with the analysis
// agents and the artifacts returned to callers. The broker carries these
// as opaque key/value maps; ToPayload and FromPayload convert at the edge.
package rfp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage status values carried in agent responses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Input is the RFP snapshot handed to the orchestrator.
type Input struct {
	RFPID             string    `json:"rfp_id"`
	CustomerID        string    `json:"customer_id"`
	Document          string    `json:"document"`
	DocumentType      string    `json:"document_type,omitempty"`
	Deadline          time.Time `json:"deadline,omitempty"`
	Priority          string    `json:"priority"`
	Complexity        string    `json:"complexity"`
	EstimatedValue    float64   `json:"estimated_value"`
	IsStandardProduct bool      `json:"is_standard_product"`
}

// Validate checks the minimum fields callers must provide.
func (in *Input) Validate() error {
	if in.RFPID == "" {
		return fmt.Errorf("rfp input: missing rfp_id")
	}
	if in.CustomerID == "" {
		return fmt.Errorf("rfp input: missing customer_id")
	}
	return nil
}

// LineItem is one requested product line.
type LineItem struct {
	Description string  `json:"description"`
	ProductCode string  `json:"product_code,omitempty"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
}

// ParsingRequest asks the parsing agent to structure an RFP document.
type ParsingRequest struct {
	WorkflowID   string `json:"workflow_id"`
	RFPID        string `json:"rfp_id"`
	Document     string `json:"document"`
	DocumentType string `json:"document_type"`
}

// ParsingResponse is the parsing agent's result.
type ParsingResponse struct {
	Status          string                 `json:"status"`
	Error           string                 `json:"error,omitempty"`
	Sections        map[string]string      `json:"sections,omitempty"`
	Requirements    []string               `json:"requirements,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ConfidenceScore float64                `json:"confidence_score"`
}

// SalesAnalysisRequest asks the sales agent to qualify the opportunity.
type SalesAnalysisRequest struct {
	WorkflowID   string            `json:"workflow_id"`
	RFPID        string            `json:"rfp_id"`
	CustomerID   string            `json:"customer_id"`
	Requirements []string          `json:"requirements,omitempty"`
	Sections     map[string]string `json:"sections,omitempty"`
}

// SalesAnalysisResponse is the sales agent's result.
type SalesAnalysisResponse struct {
	Status              string                 `json:"status"`
	Error               string                 `json:"error,omitempty"`
	LineItems           []LineItem             `json:"line_items,omitempty"`
	CustomerContext     map[string]interface{} `json:"customer_context,omitempty"`
	OpportunityScore    float64                `json:"opportunity_score"`
	RecommendedProducts []string               `json:"recommended_products,omitempty"`
	DeliveryTerms       string                 `json:"delivery_terms,omitempty"`
	PaymentTerms        string                 `json:"payment_terms,omitempty"`
}

// TechnicalValidationRequest asks the technical agent to match and
// validate products against standards.
type TechnicalValidationRequest struct {
	WorkflowID          string     `json:"workflow_id"`
	RFPID               string     `json:"rfp_id"`
	LineItems           []LineItem `json:"line_items,omitempty"`
	RecommendedProducts []string   `json:"recommended_products,omitempty"`
}

// TechnicalValidationResponse is the technical agent's result.
type TechnicalValidationResponse struct {
	Status            string                 `json:"status"`
	Error             string                 `json:"error,omitempty"`
	ValidatedProducts []string               `json:"validated_products,omitempty"`
	ComplianceReport  map[string]interface{} `json:"compliance_report,omitempty"`
	StandardsMet      []string               `json:"standards_met,omitempty"`
	Certifications    []string               `json:"certifications,omitempty"`
	TechnicalNotes    string                 `json:"technical_notes,omitempty"`
	ComplianceScore   float64                `json:"compliance_score"`
}

// PricingRequest asks the pricing agent to produce a quote.
type PricingRequest struct {
	WorkflowID        string                 `json:"workflow_id"`
	RFPID             string                 `json:"rfp_id"`
	CustomerID        string                 `json:"customer_id"`
	LineItems         []LineItem             `json:"line_items,omitempty"`
	ValidatedProducts []string               `json:"validated_products,omitempty"`
	CustomerContext   map[string]interface{} `json:"customer_context,omitempty"`
}

// PricingResponse is the pricing agent's result.
type PricingResponse struct {
	Status           string             `json:"status"`
	Error            string             `json:"error,omitempty"`
	QuoteID          string             `json:"quote_id,omitempty"`
	LineItemPrices   map[string]float64 `json:"line_item_prices,omitempty"`
	Subtotal         float64            `json:"subtotal"`
	Taxes            float64            `json:"taxes"`
	Total            float64            `json:"total"`
	DiscountsApplied []string           `json:"discounts_applied,omitempty"`
	PaymentTerms     string             `json:"payment_terms,omitempty"`
	ValidityPeriod   int                `json:"validity_period,omitempty"`
}

// ResponseGenerationRequest asks the response agent to synthesize the
// customer-facing proposal from all prior stage outputs.
type ResponseGenerationRequest struct {
	WorkflowID          string                 `json:"workflow_id"`
	RFPID               string                 `json:"rfp_id"`
	CustomerID          string                 `json:"customer_id"`
	ParsedContent       map[string]interface{} `json:"parsed_content,omitempty"`
	SalesAnalysis       map[string]interface{} `json:"sales_analysis,omitempty"`
	TechnicalValidation map[string]interface{} `json:"technical_validation,omitempty"`
	Pricing             map[string]interface{} `json:"pricing,omitempty"`
	Deadline            time.Time              `json:"deadline,omitempty"`
}

// ResponseGenerationResponse is the response agent's result.
type ResponseGenerationResponse struct {
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	Document         string `json:"document,omitempty"`
	ExecutiveSummary string `json:"executive_summary,omitempty"`
	TechnicalSection string `json:"technical_section,omitempty"`
	PricingSection   string `json:"pricing_section,omitempty"`
	TermsConditions  string `json:"terms_conditions,omitempty"`
	Format           string `json:"format,omitempty"`
}

// ReviewRequest asks the review agent to vet the drafted proposal before
// release.
type ReviewRequest struct {
	WorkflowID       string  `json:"workflow_id"`
	RFPID            string  `json:"rfp_id"`
	CustomerID       string  `json:"customer_id"`
	Document         string  `json:"document,omitempty"`
	ExecutiveSummary string  `json:"executive_summary,omitempty"`
	QuoteTotal       float64 `json:"quote_total"`
}

// ReviewResponse is the review agent's verdict.
type ReviewResponse struct {
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Approved    bool   `json:"approved"`
	ReviewNotes string `json:"review_notes,omitempty"`
}

// WorkflowInfo summarizes the workflow that produced an artifact.
type WorkflowInfo struct {
	WorkflowID        string        `json:"workflow_id"`
	RFPID             string        `json:"rfp_id"`
	CustomerID        string        `json:"customer_id"`
	TemplateID        string        `json:"template_id"`
	Status            string        `json:"status"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	ActualDuration    time.Duration `json:"actual_duration"`
}

// Quote is the quotable bid inside the final artifact.
type Quote struct {
	QuoteID      string             `json:"quote_id"`
	Total        float64            `json:"total"`
	Subtotal     float64            `json:"subtotal"`
	Taxes        float64            `json:"taxes"`
	LineItems    map[string]float64 `json:"line_items,omitempty"`
	ValidityDays int                `json:"validity_days"`
}

// Compliance summarizes the technical validation outcome.
type Compliance struct {
	Score          float64  `json:"score"`
	StandardsMet   []string `json:"standards_met,omitempty"`
	Certifications []string `json:"certifications,omitempty"`
}

// Timeline reports when the workflow ran and how long each stage took.
type Timeline struct {
	Start             time.Time                `json:"start"`
	End               time.Time                `json:"end"`
	TotalDurationSecs float64                  `json:"total_duration_seconds"`
	PerStageDurations map[string]time.Duration `json:"per_stage_durations"`
}

// FinalArtifact is the structured response returned for a completed RFP.
type FinalArtifact struct {
	WorkflowInfo     WorkflowInfo           `json:"workflow_info"`
	ResponseDocument string                 `json:"response_document"`
	ExecutiveSummary string                 `json:"executive_summary"`
	Quote            Quote                  `json:"quote"`
	Compliance       Compliance             `json:"compliance"`
	Timeline         Timeline               `json:"timeline"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Failure is the structured report for a failed workflow.
type Failure struct {
	WorkflowID      string        `json:"workflow_id"`
	RFPID           string        `json:"rfp_id"`
	Status          string        `json:"status"`
	FailedStage     string        `json:"failed_stage"`
	Errors          []string      `json:"errors"`
	CompletedStages []string      `json:"completed_stages"`
	Elapsed         time.Duration `json:"elapsed"`
}

// ToPayload converts a typed payload into the broker's key/value form.
func ToPayload(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return out, nil
}

// FromPayload converts the broker's key/value form back into a typed
// payload.
func FromPayload(payload map[string]interface{}, v interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}
