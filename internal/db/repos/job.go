// Package repos provides repository wrappers around database operations
package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/docuflow/docuflow/internal/db/models"
)

// ErrJobNotFound is returned when no job matches the query
var ErrJobNotFound = errors.New("job not found")

// terminalStates lists the states a job can never leave
var terminalStates = []models.JobState{
	models.JobStateCompleted,
	models.JobStateNeedsReview,
	models.JobStateFailed,
}

// JobRepository provides access to job-related database operations
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create creates a new job in the database
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Update saves an existing job
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// GetByJobID retrieves a job by its public job id
func (r *JobRepository) GetByJobID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where(&models.Job{JobID: jobID}).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetActiveByDocumentRef retrieves the non-terminal job for a document ref,
// or nil if the document has no active job.
func (r *JobRepository) GetActiveByDocumentRef(ctx context.Context, documentRef string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("document_ref = ?", documentRef).
		Where("state NOT IN ?", terminalStates).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active job: %w", err)
	}
	return &job, nil
}

// List returns jobs matching the given options, newest first
func (r *JobRepository) List(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	if opts == nil {
		opts = &models.ListOptions{Limit: models.DefaultLimit}
	}
	if opts.Limit <= 0 || opts.Limit > models.DefaultLimit {
		opts.Limit = models.DefaultLimit
	}

	var jobs []models.Job
	query := r.db.WithContext(ctx).Model(&models.Job{})
	if opts.State != nil {
		query = query.Where("state = ?", *opts.State)
	}
	if opts.IncludeDeleted {
		query = query.Unscoped()
	}
	err := query.
		Limit(opts.Limit).Offset(opts.Offset).
		Order(models.JobCreatedAtField + " DESC").
		Find(&jobs).Error
	return jobs, err
}

// Archive soft-deletes a job row. The caller is responsible for checking the
// job is terminal first.
func (r *JobRepository) Archive(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).
		Where(&models.Job{JobID: jobID}).
		Delete(&models.Job{})
	if result.Error != nil {
		return fmt.Errorf("failed to archive job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// ResetStaleJobs finds jobs that were in flight when the process stopped and
// resets them to queued with an incremented attempt count. Returns the number
// of jobs reset.
func (r *JobRepository) ResetStaleJobs(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("state NOT IN ?", terminalStates).
		Where("state != ?", models.JobStateQueued).
		Updates(map[string]interface{}{
			"state":    models.JobStateQueued,
			"strategy": "",
			"attempts": gorm.Expr("attempts + 1"),
		})
	return result.RowsAffected, result.Error
}

// ListQueued returns queued jobs oldest first, for pipeline startup recovery
func (r *JobRepository) ListQueued(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("state = ?", models.JobStateQueued).
		Order(models.JobCreatedAtField + " ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
