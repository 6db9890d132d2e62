package stages

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/governor"
)

type fakeInvoker struct {
	calls   int32
	invoke  func(call int, in Input) (Output, error)
	latency time.Duration
}

func (f *fakeInvoker) Invoke(ctx context.Context, in Input) (Output, error) {
	call := int(atomic.AddInt32(&f.calls, 1))
	if f.latency > 0 {
		select {
		case <-ctx.Done():
			return Output{}, ctx.Err()
		case <-time.After(f.latency):
		}
	}
	return f.invoke(call, in)
}

func testGovernor() *governor.Governor {
	return governor.New(map[string]governor.Limits{
		"llm": {RefillRate: 1000, Burst: 1000, PoolSize: 8, WaitTimeout: time.Second},
	})
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestExecuteSuccess(t *testing.T) {
	invoker := &fakeInvoker{invoke: func(int, Input) (Output, error) {
		return Output{
			Fields:     models.Fields{"total": {Value: "42.00", Confidence: 0.93}},
			Confidence: 0.93,
		}, nil
	}}
	gov := testGovernor()
	exec := NewExecutor(StageExtraction, "llm", invoker, gov)

	result, err := exec.Execute(context.Background(), Input{DocumentRef: "docs/a.pdf"}, fastPolicy(), time.Second)
	require.NoError(t, err)

	assert.Equal(t, StageExtraction, result.StageName)
	assert.Equal(t, 1, result.AttemptCount)
	assert.Equal(t, 0.93, result.Confidence)
	assert.Empty(t, result.Error)
	assert.Equal(t, 0, gov.InFlight("llm"), "permit must be released")
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	invoker := &fakeInvoker{invoke: func(call int, _ Input) (Output, error) {
		if call < 3 {
			return Output{}, NewTransientError(StageOCR, errors.New("upstream 503"))
		}
		return Output{Confidence: 0.8}, nil
	}}
	exec := NewExecutor(StageOCR, "llm", invoker, testGovernor())

	result, err := exec.Execute(context.Background(), Input{}, fastPolicy(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, result.AttemptCount)
}

func TestExecutePermanentFailureIsNotRetried(t *testing.T) {
	invoker := &fakeInvoker{invoke: func(int, Input) (Output, error) {
		return Output{}, NewPermanentError(StageOCR, errors.New("unsupported document type"))
	}}
	exec := NewExecutor(StageOCR, "llm", invoker, testGovernor())

	result, err := exec.Execute(context.Background(), Input{}, fastPolicy(), time.Second)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, result.AttemptCount)
	assert.Contains(t, result.Error, "unsupported document type")
}

func TestExecuteRetriesExhaust(t *testing.T) {
	invoker := &fakeInvoker{invoke: func(int, Input) (Output, error) {
		return Output{}, NewTransientError(StageOCR, errors.New("flaky"))
	}}
	exec := NewExecutor(StageOCR, "llm", invoker, testGovernor())

	result, err := exec.Execute(context.Background(), Input{}, fastPolicy(), time.Second)
	require.Error(t, err)
	assert.Equal(t, 3, result.AttemptCount)
	assert.Equal(t, int32(3), invoker.calls)
	assert.NotEmpty(t, result.Error)
}

func TestExecuteRunsOnceWhenPolicyAllowsNoAttempts(t *testing.T) {
	invoker := &fakeInvoker{invoke: func(int, Input) (Output, error) {
		return Output{}, NewTransientError(StageOCR, errors.New("flaky"))
	}}
	exec := NewExecutor(StageOCR, "llm", invoker, testGovernor())

	result, err := exec.Execute(context.Background(), Input{}, RetryPolicy{MaxAttempts: 0, BaseDelay: time.Millisecond}, time.Second)
	require.Error(t, err)
	assert.Equal(t, 1, result.AttemptCount)
	assert.Equal(t, int32(1), invoker.calls)
	assert.Contains(t, result.Error, "flaky")
}

func TestExecuteCallTimeoutIsTransient(t *testing.T) {
	invoker := &fakeInvoker{
		latency: 200 * time.Millisecond,
		invoke: func(int, Input) (Output, error) {
			return Output{Confidence: 0.9}, nil
		},
	}
	exec := NewExecutor(StageOCR, "llm", invoker, testGovernor())

	// Per-call timeout far below latency; all attempts time out
	result, err := exec.Execute(context.Background(), Input{}, RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, result.AttemptCount)
}

func TestExecuteJobContextCancellationStopsRetries(t *testing.T) {
	invoker := &fakeInvoker{invoke: func(int, Input) (Output, error) {
		return Output{}, NewTransientError(StageOCR, errors.New("flaky"))
	}}
	exec := NewExecutor(StageOCR, "llm", invoker, testGovernor())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, Input{}, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}, time.Second)
	require.Error(t, err)
	assert.LessOrEqual(t, invoker.calls, int32(1))
}

func TestExecutePermitReleasedOnTimeout(t *testing.T) {
	gov := governor.New(map[string]governor.Limits{
		"llm": {RefillRate: 1000, Burst: 1000, PoolSize: 1, WaitTimeout: time.Second},
	})
	invoker := &fakeInvoker{
		latency: 100 * time.Millisecond,
		invoke: func(int, Input) (Output, error) {
			return Output{}, nil
		},
	}
	exec := NewExecutor(StageOCR, "llm", invoker, gov)

	_, err := exec.Execute(context.Background(), Input{}, RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}, 10*time.Millisecond)
	require.Error(t, err)

	// The permit must come back within a bounded grace period even though the
	// call timed out.
	require.Eventually(t, func() bool {
		return gov.InFlight("llm") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestExecuteResourceExhaustionPropagates(t *testing.T) {
	gov := governor.New(map[string]governor.Limits{
		"llm": {RefillRate: 1000, Burst: 1000, PoolSize: 1, WaitTimeout: 30 * time.Millisecond},
	})
	blocker, err := gov.Acquire(context.Background(), "llm")
	require.NoError(t, err)
	defer gov.Release(blocker)

	invoker := &fakeInvoker{invoke: func(int, Input) (Output, error) {
		return Output{}, nil
	}}
	exec := NewExecutor(StageOCR, "llm", invoker, gov)

	_, err = exec.Execute(context.Background(), Input{}, fastPolicy(), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, governor.ErrResourceExhausted)
	assert.Equal(t, int32(0), invoker.calls, "exhaustion must not reach the collaborator")
}

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, policy.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, policy.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, policy.Backoff(3))
}

func TestConfidenceClamped(t *testing.T) {
	invoker := &fakeInvoker{invoke: func(int, Input) (Output, error) {
		return Output{Confidence: 1.7}, nil
	}}
	exec := NewExecutor(StageOCR, "llm", invoker, testGovernor())

	result, err := exec.Execute(context.Background(), Input{}, fastPolicy(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Confidence)
}
