// Package scoring turns a finished job's stage results into a single
// automation decision. Evaluate is pure so decisions can be replayed and
// tested deterministically.
package scoring

import (
	"fmt"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/logger"
)

// Input is everything the scorer looks at.
type Input struct {
	Results models.StageResults
	// ExpectedFields are the output fields a complete result must contain,
	// taken from the validation schema.
	ExpectedFields []string
}

// Scorer computes automation results using the settings snapshot active at
// call time.
type Scorer struct {
	settings *config.Store
}

// New creates a scorer backed by the given settings store.
func New(settings *config.Store) *Scorer {
	return &Scorer{settings: settings}
}

// Score evaluates a job's stage results against the current scorer settings.
func (s *Scorer) Score(job *models.Job, expectedFields []string) models.AutomationResult {
	snapshot := s.settings.Current()
	result := Evaluate(Input{Results: job.StageResults, ExpectedFields: expectedFields}, snapshot.Scorer)
	logger.InfoWithFields("Scored job", map[string]interface{}{
		"job_id":           job.JobID,
		"score":            result.Score,
		"decision":         string(result.Decision),
		"reasons":          result.Reasons,
		"settings_version": snapshot.Version,
	})
	return result
}

// Evaluate combines three sub-scores into a final automation decision:
//
//   - confidence: weighted mean of per-stage confidences
//   - completeness: fraction of expected fields present and non-empty
//   - consistency: 1.0 minus a fixed penalty per rule violation, floored at 0
//
// A job whose stages include any confidence_unavailable flag can reach at
// best a review decision regardless of its score.
func Evaluate(in Input, cfg config.ScorerSettings) models.AutomationResult {
	confidence, unavailable := confidenceScore(in.Results, cfg.StageWeights)
	completeness := completenessScore(in.Results, in.ExpectedFields)
	consistency := consistencyScore(in.Results, cfg.ViolationPenalty)

	score := cfg.ConfidenceWeight*confidence +
		cfg.CompletenessWeight*completeness +
		cfg.ConsistencyWeight*consistency

	var reasons []string
	if confidence < cfg.ConfidenceFloor {
		reasons = append(reasons, fmt.Sprintf("confidence_score %.3f below floor %.3f", confidence, cfg.ConfidenceFloor))
	}
	if completeness < cfg.CompletenessFloor {
		reasons = append(reasons, fmt.Sprintf("completeness_score %.3f below floor %.3f", completeness, cfg.CompletenessFloor))
	}
	if consistency < cfg.ConsistencyFloor {
		reasons = append(reasons, fmt.Sprintf("consistency_score %.3f below floor %.3f", consistency, cfg.ConsistencyFloor))
	}
	for _, stage := range unavailable {
		reasons = append(reasons, fmt.Sprintf("stage %s produced no usable confidence", stage))
	}

	decision := models.DecisionRejected
	switch {
	case score >= cfg.AutomationThreshold && len(unavailable) == 0:
		decision = models.DecisionAutomated
	case score >= cfg.ReviewThreshold:
		decision = models.DecisionReview
	}

	return models.AutomationResult{
		Score:             score,
		Decision:          decision,
		Reasons:           reasons,
		ConfidenceScore:   confidence,
		CompletenessScore: completeness,
		ConsistencyScore:  consistency,
	}
}

// confidenceScore returns the stage-weighted mean confidence over successful
// results and the names of stages that flagged confidence_unavailable.
func confidenceScore(results models.StageResults, stageWeights map[string]float64) (float64, []string) {
	var weightedSum, totalWeight float64
	var unavailable []string

	for _, result := range results {
		if result.Error != "" {
			continue
		}
		if result.ConfidenceUnavailable {
			unavailable = append(unavailable, result.StageName)
			continue
		}
		weight := 1.0
		if w, ok := stageWeights[result.StageName]; ok {
			weight = w
		}
		weightedSum += weight * result.Confidence
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0, unavailable
	}
	return weightedSum / totalWeight, unavailable
}

// completenessScore merges every stage's fields and counts how many of the
// expected fields came out non-empty.
func completenessScore(results models.StageResults, expected []string) float64 {
	if len(expected) == 0 {
		return 1.0
	}

	merged := models.Fields{}
	for _, result := range results {
		merged = merged.Merge(result.Fields)
	}

	present := 0
	for _, name := range expected {
		if v, ok := merged[name]; ok && v.Value != "" {
			present++
		}
	}
	return float64(present) / float64(len(expected))
}

func consistencyScore(results models.StageResults, penalty float64) float64 {
	violations := 0
	for _, result := range results {
		violations += len(result.Violations)
	}
	score := 1.0 - penalty*float64(violations)
	if score < 0 {
		score = 0
	}
	return score
}
