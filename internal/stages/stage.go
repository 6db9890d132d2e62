// Package stages defines the uniform contract between the pipeline and the
// external services it delegates to, plus the retry and permit discipline
// wrapped around every call.
package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docuflow/docuflow/internal/db/models"
)

// Stage names
const (
	// StageOCR converts document bytes into text
	StageOCR = "ocr"
	// StageClassification assigns a document class
	StageClassification = "classification"
	// StageExtraction pulls structured fields out of the text
	StageExtraction = "extraction"
	// StageSecondaryExtraction is the fallback second pass whose output is
	// merged field-by-field, preferring higher confidence
	StageSecondaryExtraction = "secondary_extraction"
	// StageReasoning is the deep iterative multi-step extraction
	StageReasoning = "reasoning"
	// StageValidation checks extracted fields against the output schema
	StageValidation = "validation"
)

// Input carries everything a stage invocation may need. Stages read from it
// and return an Output; accumulation across stages is the orchestrator's job.
type Input struct {
	DocumentRef   string
	Content       []byte
	DocumentClass string
	// Text is the OCR output, available to stages after OCR
	Text string
	// Fields accumulates extraction output across stages
	Fields models.Fields
	// ExpectedFields are the output fields the document class requires
	ExpectedFields []string
}

// Output is what an external collaborator returns from one invocation.
type Output struct {
	Text          string
	DocumentClass string
	Fields        models.Fields
	Confidence    float64
	// ConfidenceUnavailable is set by collaborators that cannot produce a
	// meaningful confidence value
	ConfidenceUnavailable bool
	// Violations lists cross-field rule breaches, produced by validation
	Violations []string
}

// Invoker is the narrow contract consumed from every external collaborator.
type Invoker interface {
	Invoke(ctx context.Context, in Input) (Output, error)
}

// Error wraps a stage failure with its retry classification. Transient
// failures (network blips, 5xx, timeouts) may be retried; permanent ones
// (malformed input, 4xx) propagate immediately.
type Error struct {
	Stage     string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("stage %s: %s failure: %v", e.Stage, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransientError marks a failure as retryable.
func NewTransientError(stage string, err error) error {
	return &Error{Stage: stage, Transient: true, Err: err}
}

// NewPermanentError marks a failure as non-retryable.
func NewPermanentError(stage string, err error) error {
	return &Error{Stage: stage, Transient: false, Err: err}
}

// IsTransient reports whether the error is a retryable stage failure.
func IsTransient(err error) bool {
	var stageErr *Error
	if errors.As(err, &stageErr) {
		return stageErr.Transient
	}
	return false
}

// RetryPolicy bounds the executor retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Backoff returns the delay before the given retry, doubling per attempt.
// attempt is 1-based; the delay applies after attempt failures.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay << (attempt - 1)
}

// Runner is the interface the orchestrator drives. Both the plain Executor
// and the fan-out Reasoner implement it.
type Runner interface {
	StageName() string
	// Execute returns the stage result and, on failure, the classified error
	// that also appears in StageResult.Error.
	Execute(ctx context.Context, in Input, policy RetryPolicy, timeout time.Duration) (models.StageResult, error)
}
