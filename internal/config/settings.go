package config

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docuflow/docuflow/internal/logger"
)

// RouterThresholds control the complexity routing rules. They are read once
// per routing decision; changes never affect jobs that were already routed.
type RouterThresholds struct {
	// SmallPageCount is the page count at or below which a well-structured
	// document qualifies for the fast strategy.
	SmallPageCount int `json:"small_page_count"`
	// LargePageCount is the page count above which a document is routed deep.
	LargePageCount int `json:"large_page_count"`
	// StructuredRatio is the minimum structured-region ratio for the fast path.
	StructuredRatio float64 `json:"structured_ratio"`
	// UnstructuredRatio is the ratio below which a document is routed deep.
	UnstructuredRatio float64 `json:"unstructured_ratio"`
	// FallbackFailureRate is the historical fast-path failure rate above which
	// a document class is routed to the fallback strategy.
	FallbackFailureRate float64 `json:"fallback_failure_rate"`
}

// ScorerSettings control the automation decision.
type ScorerSettings struct {
	ConfidenceWeight   float64 `json:"confidence_weight"`
	CompletenessWeight float64 `json:"completeness_weight"`
	ConsistencyWeight  float64 `json:"consistency_weight"`

	// StageWeights weight per-stage confidences inside the confidence
	// sub-score. Stages absent from the map get weight 1.0.
	StageWeights map[string]float64 `json:"stage_weights"`

	AutomationThreshold float64 `json:"automation_threshold"`
	ReviewThreshold     float64 `json:"review_threshold"`

	// ViolationPenalty is subtracted from the consistency sub-score for each
	// cross-field rule violation, floored at 0.
	ViolationPenalty float64 `json:"violation_penalty"`

	ConfidenceFloor   float64 `json:"confidence_floor"`
	CompletenessFloor float64 `json:"completeness_floor"`
	ConsistencyFloor  float64 `json:"consistency_floor"`
}

// GovernorLimits configure one resource class of the governor.
type GovernorLimits struct {
	// RefillRate is tokens per second added to the bucket.
	RefillRate float64 `json:"refill_rate"`
	// Burst is the bucket capacity.
	Burst int `json:"burst"`
	// PoolSize is the maximum number of concurrent in-flight calls.
	PoolSize int `json:"pool_size"`
	// WaitTimeout bounds how long an acquire may queue before failing.
	WaitTimeout time.Duration `json:"wait_timeout"`
}

// PipelineSettings configure the orchestrator and its worker pool.
type PipelineSettings struct {
	WorkerCount    int           `json:"worker_count"`
	QueueSize      int           `json:"queue_size"`
	JobBudget      time.Duration `json:"job_budget"`
	StageTimeout   time.Duration `json:"stage_timeout"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
	MaxAttempts    int           `json:"max_attempts"`
}

// Settings is one immutable snapshot of every runtime-tunable knob. Snapshots
// are replaced wholesale; callers must not mutate a snapshot they read.
type Settings struct {
	Version  uint64                    `json:"version"`
	Router   RouterThresholds          `json:"router"`
	Scorer   ScorerSettings            `json:"scorer"`
	Governor map[string]GovernorLimits `json:"governor"`
	Pipeline PipelineSettings          `json:"pipeline"`
}

// DefaultSettings returns the settings used when no overrides are applied.
func DefaultSettings() Settings {
	return Settings{
		Version: 1,
		Router: RouterThresholds{
			SmallPageCount:      10,
			LargePageCount:      50,
			StructuredRatio:     0.60,
			UnstructuredRatio:   0.20,
			FallbackFailureRate: 0.25,
		},
		Scorer: ScorerSettings{
			ConfidenceWeight:   0.5,
			CompletenessWeight: 0.3,
			ConsistencyWeight:  0.2,
			StageWeights: map[string]float64{
				"validation": 2.0,
			},
			AutomationThreshold: 0.90,
			ReviewThreshold:     0.70,
			ViolationPenalty:    0.25,
			ConfidenceFloor:     0.80,
			CompletenessFloor:   0.90,
			ConsistencyFloor:    0.75,
		},
		Governor: map[string]GovernorLimits{
			"ocr":        {RefillRate: 5, Burst: 10, PoolSize: 4, WaitTimeout: 30 * time.Second},
			"llm":        {RefillRate: 2, Burst: 4, PoolSize: 8, WaitTimeout: 60 * time.Second},
			"validation": {RefillRate: 20, Burst: 40, PoolSize: 16, WaitTimeout: 10 * time.Second},
		},
		Pipeline: PipelineSettings{
			WorkerCount:    4,
			QueueSize:      256,
			JobBudget:      10 * time.Minute,
			StageTimeout:   90 * time.Second,
			RetryBaseDelay: 500 * time.Millisecond,
			MaxAttempts:    3,
		},
	}
}

// Validate checks a settings snapshot for internally inconsistent values.
func (s *Settings) Validate() error {
	sum := s.Scorer.ConfidenceWeight + s.Scorer.CompletenessWeight + s.Scorer.ConsistencyWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scorer weights must sum to 1.0, got %v", sum)
	}
	if s.Scorer.AutomationThreshold < s.Scorer.ReviewThreshold {
		return fmt.Errorf("automation threshold %v below review threshold %v",
			s.Scorer.AutomationThreshold, s.Scorer.ReviewThreshold)
	}
	if s.Router.SmallPageCount > s.Router.LargePageCount {
		return fmt.Errorf("small page count %d exceeds large page count %d",
			s.Router.SmallPageCount, s.Router.LargePageCount)
	}
	for class, limits := range s.Governor {
		if limits.PoolSize <= 0 {
			return fmt.Errorf("governor class %q: pool size must be positive", class)
		}
		if limits.Burst <= 0 || limits.RefillRate <= 0 {
			return fmt.Errorf("governor class %q: refill rate and burst must be positive", class)
		}
	}
	if s.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if s.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", s.Pipeline.MaxAttempts)
	}
	if s.Pipeline.JobBudget <= 0 {
		return fmt.Errorf("job budget must be positive, got %v", s.Pipeline.JobBudget)
	}
	if s.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive, got %v", s.Pipeline.StageTimeout)
	}
	return nil
}

// Store holds the current settings snapshot. Reads are lock-free; updates are
// serialized and bump the version.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Settings]
}

// NewStore creates a settings store seeded with the given snapshot.
func NewStore(initial Settings) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if initial.Version == 0 {
		initial.Version = 1
	}
	s := &Store{}
	s.current.Store(&initial)
	return s, nil
}

// Current returns the active settings snapshot.
func (s *Store) Current() *Settings {
	return s.current.Load()
}

// Update applies mutate to a copy of the current snapshot, validates it, bumps
// the version and installs it. In-flight consumers keep the snapshot they
// already read.
func (s *Store) Update(mutate func(*Settings)) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	next := old.clone()
	mutate(next)
	next.Version = old.Version + 1

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("rejected settings update: %w", err)
	}

	s.current.Store(next)
	logger.InfoWithFields("Settings updated", map[string]interface{}{
		"old_version": old.Version,
		"new_version": next.Version,
	})
	return next, nil
}

func (s *Settings) clone() *Settings {
	next := *s
	next.Governor = make(map[string]GovernorLimits, len(s.Governor))
	for class, limits := range s.Governor {
		next.Governor[class] = limits
	}
	next.Scorer.StageWeights = make(map[string]float64, len(s.Scorer.StageWeights))
	for stage, w := range s.Scorer.StageWeights {
		next.Scorer.StageWeights[stage] = w
	}
	return &next
}
