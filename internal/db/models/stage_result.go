package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FieldValue is one extracted output field with its per-field confidence
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Fields maps field names to extracted values
type Fields map[string]FieldValue

// Merge returns a copy of f overlaid with other, preferring the
// higher-confidence value for fields present in both.
func (f Fields) Merge(other Fields) Fields {
	merged := make(Fields, len(f)+len(other))
	for name, v := range f {
		merged[name] = v
	}
	for name, v := range other {
		if existing, ok := merged[name]; !ok || v.Confidence > existing.Confidence {
			merged[name] = v
		}
	}
	return merged
}

// StageResult is the immutable record of one stage attempt
type StageResult struct {
	StageName string `json:"stage_name"`
	// Text carries recognized document text out of the OCR stage
	Text string `json:"text,omitempty"`
	// DocumentClass carries the label out of the classification stage
	DocumentClass string  `json:"document_class,omitempty"`
	Fields        Fields  `json:"fields,omitempty"`
	Confidence    float64 `json:"confidence"`
	// ConfidenceUnavailable marks executors that cannot produce a meaningful
	// confidence; the scorer treats it as a forced review contributor
	ConfidenceUnavailable bool          `json:"confidence_unavailable,omitempty"`
	AttemptCount          int           `json:"attempt_count"`
	Duration              time.Duration `json:"duration"`
	Error                 string        `json:"error,omitempty"`
	// Violations lists cross-field rule violations found by the validation
	// stage; each one is penalized by the scorer
	Violations  []string  `json:"violations,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// StageResults is an append-only list of stage results stored as jsonb
type StageResults []StageResult

// Value implements driver.Valuer for jsonb storage
func (r StageResults) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for jsonb storage
func (r *StageResults) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	data, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unexpected type %T for stage results", value)
	}
	return json.Unmarshal(data, r)
}

// Decision is the final classification of a completed job
type Decision string

// Decision constants
const (
	// DecisionAutomated means the result is safe to auto-accept
	DecisionAutomated Decision = "automated"
	// DecisionReview means a human must look at the result
	DecisionReview Decision = "review"
	// DecisionRejected means the result is unusable
	DecisionRejected Decision = "rejected"
)

// AutomationResult is the scorer output attached to a job after scoring
type AutomationResult struct {
	Score    float64  `json:"score"`
	Decision Decision `json:"decision"`
	// Reasons lists every sub-score that fell below its configured floor
	Reasons []string `json:"reasons,omitempty"`

	ConfidenceScore   float64 `json:"confidence_score"`
	CompletenessScore float64 `json:"completeness_score"`
	ConsistencyScore  float64 `json:"consistency_score"`
}

// Value implements driver.Valuer for jsonb storage
func (a AutomationResult) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner for jsonb storage
func (a *AutomationResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	data, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unexpected type %T for automation result", value)
	}
	return json.Unmarshal(data, a)
}

// RoutingSignal carries the derived document features inspected by the router
type RoutingSignal struct {
	PageCount             int     `json:"page_count"`
	ContentDensity        float64 `json:"content_density"`
	StructuredRegionRatio float64 `json:"structured_region_ratio"`
	HasTabularRegions     bool    `json:"has_tabular_regions"`
	DocumentClass         string  `json:"document_class,omitempty"`
	// PriorConfidence carries the last stage confidence when re-routing
	// mid-pipeline; zero when routing a fresh job
	PriorConfidence float64 `json:"prior_confidence,omitempty"`
	// HistoricalFailureRate is the observed fast-path failure rate for this
	// document class
	HistoricalFailureRate float64 `json:"historical_failure_rate,omitempty"`
}
