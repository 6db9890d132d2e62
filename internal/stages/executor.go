package stages

import (
	"context"
	"errors"
	"time"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/governor"
	"github.com/docuflow/docuflow/internal/logger"
)

// Executor wraps one external collaborator with permit gating, a per-call
// timeout and bounded retries for transient failures.
type Executor struct {
	name          string
	resourceClass string
	invoker       Invoker
	gov           *governor.Governor
}

// NewExecutor creates an executor for the named stage.
func NewExecutor(name, resourceClass string, invoker Invoker, gov *governor.Governor) *Executor {
	return &Executor{
		name:          name,
		resourceClass: resourceClass,
		invoker:       invoker,
		gov:           gov,
	}
}

// StageName returns the stage this executor runs.
func (e *Executor) StageName() string {
	return e.name
}

// Execute runs the stage to completion or to a final error. Permanent
// failures and exhausted retries come back inside the StageResult; the
// orchestrator decides what they mean for the job.
func (e *Executor) Execute(ctx context.Context, in Input, policy RetryPolicy, timeout time.Duration) (models.StageResult, error) {
	start := time.Now()
	result := models.StageResult{StageName: e.name}

	// The stage always gets at least one attempt, whatever the policy says
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.AttemptCount = attempt

		out, err := e.attempt(ctx, in, timeout)
		if err == nil {
			result.Text = out.Text
			result.DocumentClass = out.DocumentClass
			result.Fields = out.Fields
			result.Confidence = out.Confidence
			result.ConfidenceUnavailable = out.ConfidenceUnavailable
			result.Violations = out.Violations
			result.Duration = time.Since(start)
			result.CompletedAt = time.Now()
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		delay := policy.Backoff(attempt)
		logger.WarnWithFields("Stage attempt failed, retrying", map[string]interface{}{
			"stage":   e.name,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			lastErr = NewPermanentError(e.name, ctx.Err())
		case <-time.After(delay):
			continue
		}
		break
	}

	result.Error = lastErr.Error()
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()
	return result, lastErr
}

// attempt performs one gated call. The permit is released on every exit path.
func (e *Executor) attempt(ctx context.Context, in Input, timeout time.Duration) (Output, error) {
	permit, err := e.gov.Acquire(ctx, e.resourceClass)
	if err != nil {
		if errors.Is(err, governor.ErrResourceExhausted) {
			return Output{}, err
		}
		return Output{}, NewPermanentError(e.name, err)
	}
	defer e.gov.Release(permit)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := e.invoker.Invoke(callCtx, in)
	if err != nil {
		// A per-call deadline is a transient condition unless the job-level
		// context is the one that expired.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Output{}, NewTransientError(e.name, err)
		}
		return Output{}, err
	}

	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, nil
}
