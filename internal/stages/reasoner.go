package stages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/governor"
	"github.com/docuflow/docuflow/internal/logger"
)

// Reasoner defaults
const (
	// DefaultMaxPasses bounds the iterative re-query loop
	DefaultMaxPasses = 3
	// DefaultGroupSize is how many fields one sub-call asks for
	DefaultGroupSize = 4
	// requeryConfidence is the per-field confidence below which a later pass
	// asks the service again with accumulated context
	requeryConfidence = 0.6
)

// FieldExtractor is the collaborator contract for targeted field extraction.
// The input carries the fields accumulated so far as context.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, in Input, fields []string) (Output, error)
}

// Reasoner is the deep-strategy stage: it iteratively re-queries the
// extraction service, fanning each pass out into parallel sub-calls over
// groups of missing fields. Every sub-call holds its own permit, so the fan
// out is still bounded by the governor.
type Reasoner struct {
	resourceClass string
	extractor     FieldExtractor
	gov           *governor.Governor

	MaxPasses int
	GroupSize int
}

// NewReasoner creates the deep reasoning stage runner.
func NewReasoner(resourceClass string, extractor FieldExtractor, gov *governor.Governor) *Reasoner {
	return &Reasoner{
		resourceClass: resourceClass,
		extractor:     extractor,
		gov:           gov,
		MaxPasses:     DefaultMaxPasses,
		GroupSize:     DefaultGroupSize,
	}
}

// StageName returns the stage this runner executes.
func (r *Reasoner) StageName() string {
	return StageReasoning
}

// Execute runs up to MaxPasses extraction rounds, each round fanning out over
// the fields still missing or weakly extracted.
func (r *Reasoner) Execute(ctx context.Context, in Input, policy RetryPolicy, timeout time.Duration) (models.StageResult, error) {
	start := time.Now()
	result := models.StageResult{StageName: StageReasoning}

	accumulated := models.Fields{}.Merge(in.Fields)
	var finalErr error

	for pass := 1; pass <= r.MaxPasses; pass++ {
		result.AttemptCount = pass

		missing := r.missingFields(accumulated, in.ExpectedFields)
		if len(missing) == 0 {
			break
		}

		passInput := in
		passInput.Fields = accumulated

		merged, err := r.fanOut(ctx, passInput, missing, policy, timeout)
		if err != nil {
			finalErr = err
			break
		}

		before := len(accumulated)
		accumulated = accumulated.Merge(merged)
		logger.DebugWithFields("Reasoning pass finished", map[string]interface{}{
			"document_ref": in.DocumentRef,
			"pass":         pass,
			"requested":    len(missing),
			"gained":       len(accumulated) - before,
		})
		if len(accumulated) == before {
			// No progress; more passes would just repeat the same answers
			break
		}
	}

	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()

	if finalErr != nil {
		result.Error = finalErr.Error()
		return result, finalErr
	}

	result.Fields = accumulated
	result.Confidence = meanConfidence(accumulated)
	return result, nil
}

// fanOut runs one pass: parallel sub-calls over groups of fields, each gated
// by its own permit. Sub-results merge in completion order, which is safe
// because merging prefers the higher-confidence value regardless of order.
func (r *Reasoner) fanOut(ctx context.Context, in Input, fields []string, policy RetryPolicy, timeout time.Duration) (models.Fields, error) {
	groups := groupFields(fields, r.GroupSize)

	var mu sync.Mutex
	merged := models.Fields{}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			out, err := r.subCall(groupCtx, in, group, policy, timeout)
			if err != nil {
				return err
			}
			mu.Lock()
			merged = merged.Merge(out.Fields)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

// subCall performs one gated, retried extraction request.
func (r *Reasoner) subCall(ctx context.Context, in Input, fields []string, policy RetryPolicy, timeout time.Duration) (Output, error) {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := func() (Output, error) {
			permit, err := r.gov.Acquire(ctx, r.resourceClass)
			if err != nil {
				return Output{}, err
			}
			defer r.gov.Release(permit)

			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return r.extractor.ExtractFields(callCtx, in, fields)
		}()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if errors.Is(err, governor.ErrResourceExhausted) {
			return Output{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			lastErr = NewTransientError(StageReasoning, err)
		}
		if !IsTransient(lastErr) || ctx.Err() != nil || attempt == policy.MaxAttempts {
			return Output{}, lastErr
		}

		select {
		case <-ctx.Done():
			return Output{}, NewPermanentError(StageReasoning, ctx.Err())
		case <-time.After(policy.Backoff(attempt)):
		}
	}
	return Output{}, fmt.Errorf("stage %s: retries exhausted: %w", StageReasoning, lastErr)
}

// missingFields returns the expected fields still absent or extracted with a
// confidence too weak to keep.
func (r *Reasoner) missingFields(fields models.Fields, expected []string) []string {
	var missing []string
	for _, name := range expected {
		v, ok := fields[name]
		if !ok || v.Value == "" || v.Confidence < requeryConfidence {
			missing = append(missing, name)
		}
	}
	return missing
}

func groupFields(fields []string, size int) [][]string {
	if size <= 0 {
		size = DefaultGroupSize
	}
	var groups [][]string
	for start := 0; start < len(fields); start += size {
		end := start + size
		if end > len(fields) {
			end = len(fields)
		}
		groups = append(groups, fields[start:end])
	}
	return groups
}

func meanConfidence(fields models.Fields) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, v := range fields {
		sum += v.Confidence
	}
	return sum / float64(len(fields))
}
