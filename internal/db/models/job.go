package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JobCreatedAtField is the database field name for the job creation timestamp
const JobCreatedAtField = "created_at"

// JobState represents the current position of a job in its lifecycle
type JobState string

// Job state constants
const (
	// JobStateQueued indicates the job is waiting for a worker
	JobStateQueued JobState = "queued"
	// JobStateRouting indicates the job is having its strategy selected
	JobStateRouting JobState = "routing"
	// JobStateStageRunning indicates a pipeline stage is executing
	JobStateStageRunning JobState = "stage_running"
	// JobStateScoring indicates all stages finished and the automation
	// decision is being computed
	JobStateScoring JobState = "scoring"
	// JobStateCompleted indicates the job finished and was automated
	JobStateCompleted JobState = "completed"
	// JobStateNeedsReview indicates the job finished but requires a human
	JobStateNeedsReview JobState = "needs_review"
	// JobStateFailed indicates the job terminated without a result
	JobStateFailed JobState = "failed"
)

// jobStateTransitions lists the forward edges of the lifecycle graph. Any
// non-terminal state may additionally move to failed. The single backward
// edge, stage_running -> queued, is the one re-queue permitted after
// resource exhaustion.
var jobStateTransitions = map[JobState][]JobState{
	JobStateQueued:       {JobStateRouting},
	JobStateRouting:      {JobStateStageRunning},
	JobStateStageRunning: {JobStateStageRunning, JobStateScoring, JobStateQueued},
	JobStateScoring:      {JobStateCompleted, JobStateNeedsReview},
}

// String returns the string representation of the job state
func (s JobState) String() string {
	return string(s)
}

// Terminal reports whether the state is a terminal state
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateNeedsReview, JobStateFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next follows the
// lifecycle graph. States only move forward; failed is reachable from every
// non-terminal state.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStateFailed {
		return true
	}
	for _, allowed := range jobStateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseJobState converts a string to a JobState
func ParseJobState(str string) (JobState, error) {
	switch JobState(str) {
	case JobStateQueued, JobStateRouting, JobStateStageRunning, JobStateScoring,
		JobStateCompleted, JobStateNeedsReview, JobStateFailed:
		return JobState(str), nil
	default:
		return "", fmt.Errorf("invalid job state: %s", str)
	}
}

// Strategy identifies the ordered stage list chosen for a job
type Strategy string

// Strategy constants
const (
	// StrategyFast is the deterministic low-cost path
	StrategyFast Strategy = "fast"
	// StrategyFallback adds a secondary extraction pass with field merging
	StrategyFallback Strategy = "fallback"
	// StrategyDeep adds iterative multi-step reasoning before validation
	StrategyDeep Strategy = "deep"
)

// ParseStrategy converts a string to a Strategy
func ParseStrategy(str string) (Strategy, error) {
	switch Strategy(str) {
	case StrategyFast, StrategyFallback, StrategyDeep:
		return Strategy(str), nil
	default:
		return "", fmt.Errorf("invalid strategy: %s", str)
	}
}

// Job represents one document's end-to-end processing attempt
type Job struct {
	gorm.Model
	JobID       string `json:"job_id" gorm:"not null;uniqueIndex"`
	DocumentRef string `json:"document_ref" gorm:"not null;index"`
	// DocumentClass groups documents for historical failure-rate tracking
	DocumentClass string   `json:"document_class,omitempty" gorm:"index"`
	State         JobState `json:"state" gorm:"not null;index"`
	// Strategy is set once during routing and never changes afterwards
	Strategy         Strategy          `json:"strategy,omitempty" gorm:"index"`
	StageResults     StageResults      `json:"stage_results,omitempty" gorm:"type:jsonb"`
	AutomationResult *AutomationResult `json:"automation_result,omitempty" gorm:"type:jsonb"`
	FailureReason    string            `json:"failure_reason,omitempty" gorm:"type:text"`
	// Attempts counts how many times the job entered the pipeline, including
	// re-queues after resource exhaustion and crash recovery
	Attempts   int        `json:"attempts" gorm:"not null;default:0"`
	TerminalAt *time.Time `json:"terminal_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index"`
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if j.DocumentRef == "" {
		return fmt.Errorf("document ref cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new job
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.State == "" {
		j.State = JobStateQueued
	}
	return j.Validate()
}

// Snapshot returns a copy of the job safe to hand to API callers
func (j *Job) Snapshot() Job {
	snap := *j
	snap.StageResults = append(StageResults(nil), j.StageResults...)
	if j.AutomationResult != nil {
		ar := *j.AutomationResult
		ar.Reasons = append([]string(nil), j.AutomationResult.Reasons...)
		snap.AutomationResult = &ar
	}
	return snap
}

// MarshalJSON implements the json.Marshaler interface for JobState
func (s JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for JobState
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state, err := ParseJobState(str)
	if err != nil {
		return err
	}
	*s = state
	return nil
}
