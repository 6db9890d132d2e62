// Package registry tracks the active processing job for each document and
// serializes all updates to a job's record.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/db/repos"
	"github.com/docuflow/docuflow/internal/logger"
)

// Registry errors
var (
	// ErrDuplicateJob is returned when a document already has an active job
	ErrDuplicateJob = errors.New("document already has an active job")
	// ErrJobNotFound is returned when no job matches the given id
	ErrJobNotFound = repos.ErrJobNotFound
	// ErrInvalidTransition is returned for lifecycle-violating state changes
	ErrInvalidTransition = errors.New("invalid job state transition")
	// ErrJobNotTerminal is returned when removing a job that is still running
	ErrJobNotTerminal = errors.New("job is not in a terminal state")
)

// nowFunc is swapped in tests
var nowFunc = time.Now

// Registry enforces the at-most-one-active-job-per-document invariant and
// serializes updates per job. Reads never block behind updates to other jobs.
type Registry struct {
	repo *repos.JobRepository

	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	sync.Mutex
	refs int
}

// New creates a registry over the given repository.
func New(repo *repos.JobRepository) *Registry {
	return &Registry{
		repo:  repo,
		locks: map[string]*jobLock{},
	}
}

// Create registers a new job for the document ref. If the document already
// has a non-terminal job, ErrDuplicateJob wraps that job's id.
func (r *Registry) Create(ctx context.Context, documentRef, documentClass string) (*models.Job, error) {
	// The uniqueness gate and the insert must not interleave with another
	// create for the same document, so the whole section holds the registry
	// lock. Creates are rare relative to updates; this does not contend with
	// the per-job update path.
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.repo.GetActiveByDocumentRef(ctx, documentRef)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: job %s", ErrDuplicateJob, active.JobID)
	}

	job := &models.Job{
		JobID:         uuid.New().String(),
		DocumentRef:   documentRef,
		DocumentClass: documentClass,
		State:         models.JobStateQueued,
	}
	if err := r.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	logger.InfoWithFields("Job registered", map[string]interface{}{
		"job_id":       job.JobID,
		"document_ref": documentRef,
	})
	return job, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := r.repo.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	snap := job.Snapshot()
	return &snap, nil
}

// List returns job snapshots matching the options.
func (r *Registry) List(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	return r.repo.List(ctx, opts)
}

// Update applies mutate to the job under its per-job lock and persists the
// result. Updates to the same job are strictly serialized; updates to
// different jobs run concurrently. A state change that violates the lifecycle
// graph fails with ErrInvalidTransition and persists nothing.
func (r *Registry) Update(ctx context.Context, jobID string, mutate func(*models.Job) error) (*models.Job, error) {
	lock := r.acquireLock(jobID)
	defer r.releaseLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := r.repo.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	before := job.State
	if err := mutate(job); err != nil {
		return nil, err
	}
	if job.State != before && !before.CanTransitionTo(job.State) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, before, job.State)
	}

	if err := r.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	snap := job.Snapshot()
	return &snap, nil
}

// Transition moves the job to the given state, recording a failure reason
// when the target is failed.
func (r *Registry) Transition(ctx context.Context, jobID string, to models.JobState, reason string) (*models.Job, error) {
	return r.Update(ctx, jobID, func(job *models.Job) error {
		job.State = to
		if to == models.JobStateFailed {
			job.FailureReason = reason
		}
		if to.Terminal() {
			now := nowFunc()
			job.TerminalAt = &now
		}
		return nil
	})
}

// RemoveIfTerminal archives a finished job, freeing its document ref for new
// submissions. Running jobs are refused.
func (r *Registry) RemoveIfTerminal(ctx context.Context, jobID string) error {
	lock := r.acquireLock(jobID)
	defer r.releaseLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := r.repo.GetByJobID(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobNotTerminal, jobID, job.State)
	}
	return r.repo.Archive(ctx, jobID)
}

// RecoverStale resets jobs left mid-flight by a previous process run and
// returns how many were re-queued.
func (r *Registry) RecoverStale(ctx context.Context) (int64, error) {
	reset, err := r.repo.ResetStaleJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale jobs: %w", err)
	}
	if reset > 0 {
		logger.InfoWithFields("Re-queued stale jobs from previous run", map[string]interface{}{
			"count": reset,
		})
	}
	return reset, nil
}

// ListQueued returns queued jobs oldest first.
func (r *Registry) ListQueued(ctx context.Context, limit int) ([]models.Job, error) {
	return r.repo.ListQueued(ctx, limit)
}

// acquireLock returns the lock for the job id, creating it on first use.
// Locks are reference counted so the map does not grow with job history.
func (r *Registry) acquireLock(jobID string) *jobLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[jobID]
	if !ok {
		lock = &jobLock{}
		r.locks[jobID] = lock
	}
	lock.refs++
	return lock
}

func (r *Registry) releaseLock(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock := r.locks[jobID]
	if lock == nil {
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, jobID)
	}
}
