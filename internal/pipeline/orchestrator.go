// Package pipeline drives jobs through their state machine: routing, stage
// execution under the governor, scoring and finalization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docuflow/docuflow/internal/clients/docstore"
	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/events"
	"github.com/docuflow/docuflow/internal/governor"
	"github.com/docuflow/docuflow/internal/logger"
	"github.com/docuflow/docuflow/internal/registry"
	"github.com/docuflow/docuflow/internal/router"
	"github.com/docuflow/docuflow/internal/scoring"
	"github.com/docuflow/docuflow/internal/stages"
)

// Job failure reasons with fixed spellings that clients match on.
const (
	ReasonCancelled         = "cancelled"
	ReasonBudgetExceeded    = "timeout_budget_exceeded"
	ReasonResourceExhausted = "resource_exhausted"
)

// ErrNotRunning is returned by Submit before Start or after Stop.
var ErrNotRunning = errors.New("pipeline is not running")

// Config wires the orchestrator's collaborators. All fields except
// RequiredFields are mandatory.
type Config struct {
	Settings *config.Store
	Registry *registry.Registry
	Router   *router.Router
	Scorer   *scoring.Scorer
	Store    docstore.Store
	Runners  map[models.Strategy][]stages.Runner
	// RequiredFields returns the output fields a document class must produce,
	// normally the validation schema's required list.
	RequiredFields func(documentClass string) []string
}

// Orchestrator owns the worker pool and drives each job to a terminal state.
// Per-job state is only ever touched by the worker currently driving the job;
// the registry and governor are the only shared mutable state.
type Orchestrator struct {
	cfg      Config
	failures *FailureTracker

	queue   chan string
	cancels sync.Map // job id -> context.CancelFunc

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates an orchestrator. Call Start before submitting jobs.
func New(cfg Config) *Orchestrator {
	if cfg.RequiredFields == nil {
		cfg.RequiredFields = func(string) []string { return nil }
	}
	return &Orchestrator{
		cfg:      cfg,
		failures: NewFailureTracker(defaultFailureWindow),
		queue:    make(chan string, cfg.Settings.Current().Pipeline.QueueSize),
	}
}

// Start recovers jobs from a previous run and launches the worker pool.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	o.running = true

	if _, err := o.cfg.Registry.RecoverStale(o.ctx); err != nil {
		return err
	}
	queued, err := o.cfg.Registry.ListQueued(o.ctx, cap(o.queue))
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for _, job := range queued {
		select {
		case o.queue <- job.JobID:
		default:
		}
	}

	workers := o.cfg.Settings.Current().Pipeline.WorkerCount
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	logger.InfoWithFields("Pipeline started", map[string]interface{}{
		"workers":   workers,
		"recovered": len(queued),
	})
	return nil
}

// Stop cancels every in-flight job and waits for the workers to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
	logger.Info("Pipeline stopped")
}

// Submit registers a job for the document and queues it for processing.
// A document with an active job is rejected with registry.ErrDuplicateJob.
func (o *Orchestrator) Submit(ctx context.Context, documentRef, documentClass string) (*models.Job, error) {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	job, err := o.cfg.Registry.Create(ctx, documentRef, documentClass)
	if err != nil {
		return nil, err
	}

	select {
	case o.queue <- job.JobID:
	case <-ctx.Done():
		// The job stays queued in the registry and is recovered on the next
		// Start; the caller still gets its id.
	}
	events.Publish(events.Event{
		Type:        events.EventJobSubmitted,
		JobID:       job.JobID,
		DocumentRef: job.DocumentRef,
		State:       job.State,
	})
	return job, nil
}

// GetStatus returns a consistent snapshot of the job.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*models.Job, error) {
	return o.cfg.Registry.Get(ctx, jobID)
}

// Cancel marks the job failed with reason "cancelled" and interrupts its
// worker. Best-effort: an in-flight stage call may finish, but its result is
// discarded. Returns false if the job was already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := o.cfg.Registry.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.State.Terminal() {
		return false, nil
	}

	if cancel, ok := o.cancels.Load(jobID); ok {
		cancel.(context.CancelFunc)()
	}
	cancelled, err := o.cfg.Registry.Transition(ctx, jobID, models.JobStateFailed, ReasonCancelled)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	events.Publish(events.Event{
		Type:        events.EventJobTerminal,
		JobID:       cancelled.JobID,
		DocumentRef: cancelled.DocumentRef,
		State:       cancelled.State,
		Reason:      ReasonCancelled,
	})
	logger.InfoWithFields("Job cancelled", map[string]interface{}{"job_id": jobID})
	return true, nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case jobID := <-o.queue:
			o.runJob(jobID)
		}
	}
}

// runJob drives one job from queued to a terminal state.
func (o *Orchestrator) runJob(jobID string) {
	settings := o.cfg.Settings.Current().Pipeline

	jobCtx, cancelJob := context.WithTimeout(o.ctx, settings.JobBudget)
	o.cancels.Store(jobID, cancelJob)
	defer func() {
		o.cancels.Delete(jobID)
		cancelJob()
	}()

	job, err := o.cfg.Registry.Update(o.ctx, jobID, func(j *models.Job) error {
		j.State = models.JobStateRouting
		j.Attempts++
		return nil
	})
	if err != nil {
		// Cancelled or removed while queued
		logger.DebugWithFields("Skipping queued job", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return
	}

	content, err := o.cfg.Store.Fetch(jobCtx, job.DocumentRef)
	if err != nil {
		o.fail(jobID, fmt.Sprintf("document fetch failed: %v", err))
		return
	}

	strategy := job.Strategy
	if strategy == "" {
		signals := docstore.Analyze(content)
		signals.DocumentClass = job.DocumentClass
		signals.HistoricalFailureRate = o.failures.Rate(job.DocumentClass)
		strategy = o.cfg.Router.Route(job.DocumentRef, signals)
	}

	runners, ok := o.cfg.Runners[strategy]
	if !ok {
		o.fail(jobID, fmt.Sprintf("no stage list for strategy %s", strategy))
		return
	}
	job, err = o.cfg.Registry.Update(o.ctx, jobID, func(j *models.Job) error {
		j.Strategy = strategy
		j.State = models.JobStateStageRunning
		return nil
	})
	if err != nil {
		o.fail(jobID, fmt.Sprintf("failed to record strategy: %v", err))
		return
	}

	in := stages.Input{
		DocumentRef:    job.DocumentRef,
		Content:        content,
		DocumentClass:  job.DocumentClass,
		ExpectedFields: o.cfg.RequiredFields(job.DocumentClass),
	}
	policy := stages.RetryPolicy{
		MaxAttempts: settings.MaxAttempts,
		BaseDelay:   settings.RetryBaseDelay,
	}

	for _, runner := range runners {
		result, stageErr := runner.Execute(jobCtx, in, policy, settings.StageTimeout)

		// A cancelled job discards the in-flight stage's result
		if jobCtx.Err() == nil || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			if job, err = o.cfg.Registry.Update(o.ctx, jobID, func(j *models.Job) error {
				j.StageResults = append(j.StageResults, result)
				if result.DocumentClass != "" {
					j.DocumentClass = result.DocumentClass
				}
				return nil
			}); err != nil {
				o.fail(jobID, fmt.Sprintf("failed to record stage result: %v", err))
				return
			}
		}
		if stageErr != nil {
			o.handleStageError(job, stageErr, jobCtx)
			return
		}

		if result.Text != "" {
			in.Text = result.Text
		}
		if result.DocumentClass != "" {
			in.DocumentClass = result.DocumentClass
			in.ExpectedFields = o.cfg.RequiredFields(result.DocumentClass)
		}
		in.Fields = in.Fields.Merge(result.Fields)
	}

	o.finalize(job, in.ExpectedFields)
}

// handleStageError maps a stage failure onto the job-level taxonomy.
func (o *Orchestrator) handleStageError(job *models.Job, stageErr error, jobCtx context.Context) {
	switch {
	case errors.Is(stageErr, governor.ErrResourceExhausted):
		// Resource exhaustion is transient at the job level: one re-queue,
		// then fail.
		if job.Attempts <= 1 {
			o.requeue(job)
			return
		}
		o.fail(job.JobID, ReasonResourceExhausted)
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		o.fail(job.JobID, ReasonBudgetExceeded)
	case jobCtx.Err() != nil:
		o.fail(job.JobID, ReasonCancelled)
	default:
		o.fail(job.JobID, stageErr.Error())
	}
}

func (o *Orchestrator) requeue(job *models.Job) {
	if _, err := o.cfg.Registry.Update(o.ctx, job.JobID, func(j *models.Job) error {
		j.State = models.JobStateQueued
		return nil
	}); err != nil {
		logger.WarnWithFields("Failed to re-queue job", map[string]interface{}{
			"job_id": job.JobID,
			"error":  err.Error(),
		})
		return
	}
	logger.InfoWithFields("Re-queued job after resource exhaustion", map[string]interface{}{
		"job_id":  job.JobID,
		"attempt": job.Attempts,
	})
	events.Publish(events.Event{
		Type:        events.EventJobRequeued,
		JobID:       job.JobID,
		DocumentRef: job.DocumentRef,
		State:       models.JobStateQueued,
	})
	select {
	case o.queue <- job.JobID:
	case <-o.ctx.Done():
	}
}

// finalize scores the finished job and lands it in completed or needs_review.
func (o *Orchestrator) finalize(job *models.Job, expectedFields []string) {
	jobID := job.JobID
	job, err := o.cfg.Registry.Transition(o.ctx, jobID, models.JobStateScoring, "")
	if err != nil {
		o.fail(jobID, fmt.Sprintf("failed to enter scoring: %v", err))
		return
	}

	result := o.cfg.Scorer.Score(job, expectedFields)
	final := models.JobStateNeedsReview
	if result.Decision == models.DecisionAutomated {
		final = models.JobStateCompleted
	}

	job, err = o.cfg.Registry.Update(o.ctx, jobID, func(j *models.Job) error {
		j.AutomationResult = &result
		j.State = final
		now := time.Now()
		j.TerminalAt = &now
		return nil
	})
	if err != nil {
		o.fail(jobID, fmt.Sprintf("failed to finalize job: %v", err))
		return
	}
	o.recordOutcome(job)
	events.Publish(events.Event{
		Type:        events.EventJobTerminal,
		JobID:       job.JobID,
		DocumentRef: job.DocumentRef,
		State:       job.State,
		Decision:    result.Decision,
		Score:       result.Score,
	})
	logger.InfoWithFields("Job finished", map[string]interface{}{
		"job_id":   job.JobID,
		"state":    job.State.String(),
		"decision": string(result.Decision),
		"score":    result.Score,
	})
}

// fail lands the job in failed with the given reason. Jobs already terminal
// (e.g. cancelled moments ago) are left as they are.
func (o *Orchestrator) fail(jobID, reason string) {
	failed, err := o.cfg.Registry.Transition(o.ctx, jobID, models.JobStateFailed, reason)
	if err != nil {
		if !errors.Is(err, registry.ErrInvalidTransition) {
			logger.ErrorWithFields("Failed to mark job failed", map[string]interface{}{
				"job_id": jobID,
				"reason": reason,
				"error":  err.Error(),
			})
		}
		return
	}
	o.recordOutcome(failed)
	events.Publish(events.Event{
		Type:        events.EventJobTerminal,
		JobID:       failed.JobID,
		DocumentRef: failed.DocumentRef,
		State:       failed.State,
		Reason:      reason,
	})
	logger.WarnWithFields("Job failed", map[string]interface{}{
		"job_id": jobID,
		"reason": reason,
	})
}

// recordOutcome feeds the fast-path failure window the router consults.
func (o *Orchestrator) recordOutcome(job *models.Job) {
	if job == nil || job.Strategy != models.StrategyFast {
		return
	}
	failed := job.State == models.JobStateFailed ||
		(job.AutomationResult != nil && job.AutomationResult.Decision == models.DecisionRejected)
	o.failures.Record(job.DocumentClass, failed)
}
