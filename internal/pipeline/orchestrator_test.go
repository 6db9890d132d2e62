package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/db/repos"
	"github.com/docuflow/docuflow/internal/governor"
	"github.com/docuflow/docuflow/internal/registry"
	"github.com/docuflow/docuflow/internal/router"
	"github.com/docuflow/docuflow/internal/scoring"
	"github.com/docuflow/docuflow/internal/stages"
)

type stubRunner struct {
	name    string
	execute func(ctx context.Context, in stages.Input) (models.StageResult, error)
}

func (s *stubRunner) StageName() string { return s.name }

func (s *stubRunner) Execute(ctx context.Context, in stages.Input, _ stages.RetryPolicy, _ time.Duration) (models.StageResult, error) {
	return s.execute(ctx, in)
}

func okRunner(name string, confidence float64) *stubRunner {
	return &stubRunner{name: name, execute: func(_ context.Context, _ stages.Input) (models.StageResult, error) {
		return models.StageResult{StageName: name, Confidence: confidence, CompletedAt: time.Now()}, nil
	}}
}

type stubStore struct{}

func (stubStore) Fetch(_ context.Context, _ string) ([]byte, error) {
	return []byte("stub document body"), nil
}

// testSettings routes everything fast and keeps timeouts short.
func testSettings(t *testing.T) *config.Store {
	t.Helper()
	settings := config.DefaultSettings()
	settings.Router.StructuredRatio = 0   // rule 1 always matches
	settings.Router.UnstructuredRatio = 0 // keep deep unreachable by default
	settings.Pipeline.WorkerCount = 2
	settings.Pipeline.QueueSize = 16
	settings.Pipeline.JobBudget = 2 * time.Second
	settings.Pipeline.StageTimeout = time.Second
	settings.Pipeline.RetryBaseDelay = time.Millisecond
	store, err := config.NewStore(settings)
	require.NoError(t, err)
	return store
}

func testOrchestrator(t *testing.T, settings *config.Store, fastRunners []stages.Runner) *Orchestrator {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}))
	require.NoError(t, db.Exec("DELETE FROM jobs").Error)

	o := New(Config{
		Settings: settings,
		Registry: registry.New(repos.NewJobRepository(db)),
		Router:   router.New(settings),
		Scorer:   scoring.New(settings),
		Store:    stubStore{},
		Runners:  map[models.Strategy][]stages.Runner{models.StrategyFast: fastRunners},
	})
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o
}

func waitTerminal(t *testing.T, o *Orchestrator, jobID string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = o.GetStatus(context.Background(), jobID)
		return err == nil && job.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond, "job never reached a terminal state")
	return job
}

func TestOrchestratorDrivesJobToCompleted(t *testing.T) {
	o := testOrchestrator(t, testSettings(t), []stages.Runner{
		okRunner(stages.StageOCR, 0.95),
		okRunner(stages.StageExtraction, 0.92),
		okRunner(stages.StageValidation, 0.98),
	})

	job, err := o.Submit(context.Background(), "docs/a.pdf", "invoice")
	require.NoError(t, err)

	done := waitTerminal(t, o, job.JobID)
	assert.Equal(t, models.JobStateCompleted, done.State)
	assert.Equal(t, models.StrategyFast, done.Strategy)
	assert.Len(t, done.StageResults, 3)
	require.NotNil(t, done.AutomationResult)
	assert.Equal(t, models.DecisionAutomated, done.AutomationResult.Decision)
	assert.NotNil(t, done.TerminalAt)
}

func TestOrchestratorRejectsDuplicateSubmission(t *testing.T) {
	blocked := make(chan struct{})
	defer close(blocked)
	o := testOrchestrator(t, testSettings(t), []stages.Runner{
		&stubRunner{name: stages.StageOCR, execute: func(ctx context.Context, _ stages.Input) (models.StageResult, error) {
			select {
			case <-blocked:
			case <-ctx.Done():
			}
			return models.StageResult{StageName: stages.StageOCR, Confidence: 0.9}, nil
		}},
	})

	_, err := o.Submit(context.Background(), "docs/dup.pdf", "invoice")
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), "docs/dup.pdf", "invoice")
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrDuplicateJob)
}

func TestOrchestratorPermanentStageErrorFailsJob(t *testing.T) {
	o := testOrchestrator(t, testSettings(t), []stages.Runner{
		&stubRunner{name: stages.StageOCR, execute: func(_ context.Context, _ stages.Input) (models.StageResult, error) {
			err := stages.NewPermanentError(stages.StageOCR, errors.New("unsupported document type"))
			return models.StageResult{StageName: stages.StageOCR, Error: err.Error()}, err
		}},
	})

	job, err := o.Submit(context.Background(), "docs/bad.bin", "invoice")
	require.NoError(t, err)

	done := waitTerminal(t, o, job.JobID)
	assert.Equal(t, models.JobStateFailed, done.State)
	assert.Contains(t, done.FailureReason, "unsupported document type")
	assert.Len(t, done.StageResults, 1, "the failed attempt is still recorded")
}

func TestOrchestratorBudgetExceeded(t *testing.T) {
	settings := testSettings(t)
	_, err := settings.Update(func(s *config.Settings) {
		s.Pipeline.JobBudget = 50 * time.Millisecond
	})
	require.NoError(t, err)

	o := testOrchestrator(t, settings, []stages.Runner{
		&stubRunner{name: stages.StageOCR, execute: func(ctx context.Context, _ stages.Input) (models.StageResult, error) {
			<-ctx.Done()
			err := stages.NewPermanentError(stages.StageOCR, ctx.Err())
			return models.StageResult{StageName: stages.StageOCR, Error: err.Error()}, err
		}},
	})

	job, err := o.Submit(context.Background(), "docs/slow.pdf", "invoice")
	require.NoError(t, err)

	done := waitTerminal(t, o, job.JobID)
	assert.Equal(t, models.JobStateFailed, done.State)
	assert.Equal(t, ReasonBudgetExceeded, done.FailureReason)
}

func TestOrchestratorCancelDiscardsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	o := testOrchestrator(t, testSettings(t), []stages.Runner{
		&stubRunner{name: stages.StageOCR, execute: func(ctx context.Context, _ stages.Input) (models.StageResult, error) {
			close(started)
			<-ctx.Done()
			// The stage "finishes" after cancellation; its result must not land
			return models.StageResult{StageName: stages.StageOCR, Confidence: 0.99}, nil
		}},
	})

	job, err := o.Submit(context.Background(), "docs/c.pdf", "invoice")
	require.NoError(t, err)
	<-started

	cancelled, err := o.Cancel(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	done := waitTerminal(t, o, job.JobID)
	assert.Equal(t, models.JobStateFailed, done.State)
	assert.Equal(t, ReasonCancelled, done.FailureReason)
	assert.Empty(t, done.StageResults)

	// Cancelling a terminal job reports false
	again, err := o.Cancel(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestOrchestratorRequeuesOnceOnResourceExhaustion(t *testing.T) {
	calls := 0
	o := testOrchestrator(t, testSettings(t), []stages.Runner{
		&stubRunner{name: stages.StageOCR, execute: func(_ context.Context, _ stages.Input) (models.StageResult, error) {
			calls++
			if calls == 1 {
				return models.StageResult{StageName: stages.StageOCR}, governor.ErrResourceExhausted
			}
			return models.StageResult{StageName: stages.StageOCR, Confidence: 0.95}, nil
		}},
		okRunner(stages.StageExtraction, 0.92),
		okRunner(stages.StageValidation, 0.98),
	})

	job, err := o.Submit(context.Background(), "docs/r.pdf", "invoice")
	require.NoError(t, err)

	done := waitTerminal(t, o, job.JobID)
	assert.Equal(t, models.JobStateCompleted, done.State)
	assert.Equal(t, 2, done.Attempts, "one re-queue after exhaustion")
	assert.Equal(t, models.StrategyFast, done.Strategy, "strategy survives the re-queue")
}

func TestOrchestratorFailsAfterSecondExhaustion(t *testing.T) {
	o := testOrchestrator(t, testSettings(t), []stages.Runner{
		&stubRunner{name: stages.StageOCR, execute: func(_ context.Context, _ stages.Input) (models.StageResult, error) {
			return models.StageResult{StageName: stages.StageOCR}, governor.ErrResourceExhausted
		}},
	})

	job, err := o.Submit(context.Background(), "docs/r2.pdf", "invoice")
	require.NoError(t, err)

	done := waitTerminal(t, o, job.JobID)
	assert.Equal(t, models.JobStateFailed, done.State)
	assert.Equal(t, ReasonResourceExhausted, done.FailureReason)
	assert.Equal(t, 2, done.Attempts)
}

func TestOrchestratorConfidenceUnavailableForcesReview(t *testing.T) {
	o := testOrchestrator(t, testSettings(t), []stages.Runner{
		okRunner(stages.StageOCR, 0.99),
		&stubRunner{name: stages.StageExtraction, execute: func(_ context.Context, _ stages.Input) (models.StageResult, error) {
			return models.StageResult{StageName: stages.StageExtraction, ConfidenceUnavailable: true}, nil
		}},
		okRunner(stages.StageValidation, 0.99),
	})

	job, err := o.Submit(context.Background(), "docs/u.pdf", "invoice")
	require.NoError(t, err)

	done := waitTerminal(t, o, job.JobID)
	assert.Equal(t, models.JobStateNeedsReview, done.State)
	require.NotNil(t, done.AutomationResult)
	assert.NotEqual(t, models.DecisionAutomated, done.AutomationResult.Decision)
}

func TestOrchestratorSubmitAfterStop(t *testing.T) {
	o := testOrchestrator(t, testSettings(t), []stages.Runner{okRunner(stages.StageOCR, 0.9)})
	o.Stop()

	_, err := o.Submit(context.Background(), "docs/late.pdf", "invoice")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestFailureTrackerRate(t *testing.T) {
	tracker := NewFailureTracker(4)

	assert.Zero(t, tracker.Rate("invoice"))

	tracker.Record("invoice", true)
	tracker.Record("invoice", false)
	assert.InDelta(t, 0.5, tracker.Rate("invoice"), 1e-9)

	tracker.Record("invoice", false)
	tracker.Record("invoice", false)
	assert.InDelta(t, 0.25, tracker.Rate("invoice"), 1e-9)

	// Filling past the window evicts the oldest outcome (the failure)
	tracker.Record("invoice", false)
	assert.Zero(t, tracker.Rate("invoice"))

	assert.Zero(t, tracker.Rate("receipt"), "classes are independent")
}
