package repos

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/docuflow/docuflow/internal/db/models"
)

// JobRepositoryTestSuite provides a base test suite for repository tests
type JobRepositoryTestSuite struct {
	suite.Suite
	db      *gorm.DB
	ctx     context.Context
	jobRepo *JobRepository
	nextID  int
}

func (s *JobRepositoryTestSuite) SetupTest() {
	// Create new in-memory database with JSON support
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	err = db.AutoMigrate(&models.Job{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	// Clean slate between tests; the shared cache keeps rows around
	require.NoError(s.T(), db.Exec("DELETE FROM jobs").Error)

	s.db = db
	s.ctx = context.Background()
	s.jobRepo = NewJobRepository(db)
}

func (s *JobRepositoryTestSuite) newJob(state models.JobState) *models.Job {
	s.nextID++
	return &models.Job{
		JobID:       fmt.Sprintf("job-%d", s.nextID),
		DocumentRef: fmt.Sprintf("docs/%d.pdf", s.nextID),
		State:       state,
	}
}

func (s *JobRepositoryTestSuite) TestCreateAndGet() {
	job := s.newJob(models.JobStateQueued)
	s.Require().NoError(s.jobRepo.Create(s.ctx, job))

	got, err := s.jobRepo.GetByJobID(s.ctx, job.JobID)
	s.Require().NoError(err)
	s.Equal(job.DocumentRef, got.DocumentRef)
	s.Equal(models.JobStateQueued, got.State)
}

func (s *JobRepositoryTestSuite) TestGetMissing() {
	_, err := s.jobRepo.GetByJobID(s.ctx, "nope")
	s.Require().Error(err)
	s.ErrorIs(err, ErrJobNotFound)
}

func (s *JobRepositoryTestSuite) TestGetActiveByDocumentRef() {
	active := s.newJob(models.JobStateStageRunning)
	s.Require().NoError(s.jobRepo.Create(s.ctx, active))

	done := s.newJob(models.JobStateCompleted)
	s.Require().NoError(s.jobRepo.Create(s.ctx, done))

	got, err := s.jobRepo.GetActiveByDocumentRef(s.ctx, active.DocumentRef)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(active.JobID, got.JobID)

	// Terminal jobs do not count as active
	got, err = s.jobRepo.GetActiveByDocumentRef(s.ctx, done.DocumentRef)
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *JobRepositoryTestSuite) TestListFiltersByState() {
	s.Require().NoError(s.jobRepo.Create(s.ctx, s.newJob(models.JobStateQueued)))
	s.Require().NoError(s.jobRepo.Create(s.ctx, s.newJob(models.JobStateFailed)))

	state := models.JobStateFailed
	jobs, err := s.jobRepo.List(s.ctx, &models.ListOptions{State: &state})
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	s.Equal(models.JobStateFailed, jobs[0].State)
}

func (s *JobRepositoryTestSuite) TestArchive() {
	job := s.newJob(models.JobStateCompleted)
	s.Require().NoError(s.jobRepo.Create(s.ctx, job))

	s.Require().NoError(s.jobRepo.Archive(s.ctx, job.JobID))

	_, err := s.jobRepo.GetByJobID(s.ctx, job.JobID)
	s.ErrorIs(err, ErrJobNotFound)

	// Archived rows stay visible when deleted rows are included
	jobs, err := s.jobRepo.List(s.ctx, &models.ListOptions{IncludeDeleted: true})
	s.Require().NoError(err)
	s.Len(jobs, 1)
}

func (s *JobRepositoryTestSuite) TestResetStaleJobs() {
	inflight := s.newJob(models.JobStateStageRunning)
	s.Require().NoError(s.jobRepo.Create(s.ctx, inflight))
	queued := s.newJob(models.JobStateQueued)
	s.Require().NoError(s.jobRepo.Create(s.ctx, queued))
	done := s.newJob(models.JobStateCompleted)
	s.Require().NoError(s.jobRepo.Create(s.ctx, done))

	count, err := s.jobRepo.ResetStaleJobs(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	got, err := s.jobRepo.GetByJobID(s.ctx, inflight.JobID)
	s.Require().NoError(err)
	s.Equal(models.JobStateQueued, got.State)
	s.Equal(1, got.Attempts)
}

func TestJobRepositorySuite(t *testing.T) {
	suite.Run(t, new(JobRepositoryTestSuite))
}
