// Package router selects a processing strategy for a document from its
// derived features. The decision is rule-ordered and deterministic: identical
// signals always produce the identical strategy.
package router

import (
	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/logger"
)

// Router routes documents using the threshold snapshot active at call time.
// Threshold changes only affect jobs routed after the change.
type Router struct {
	settings *config.Store
}

// New creates a router backed by the given settings store.
func New(settings *config.Store) *Router {
	return &Router{settings: settings}
}

// Route picks a strategy for the document. documentRef is only used for
// logging; the decision depends on signals and thresholds alone.
func (r *Router) Route(documentRef string, signals models.RoutingSignal) models.Strategy {
	snapshot := r.settings.Current()
	strategy := Decide(signals, snapshot.Router)
	logger.DebugWithFields("Routed document", map[string]interface{}{
		"document_ref":       documentRef,
		"strategy":           string(strategy),
		"page_count":         signals.PageCount,
		"structured_ratio":   signals.StructuredRegionRatio,
		"class_failure_rate": signals.HistoricalFailureRate,
		"settings_version":   snapshot.Version,
	})
	return strategy
}

// Decide applies the routing rules in order, first match wins:
//
//  1. Small, well-structured documents take the fast path.
//  2. Document classes whose fast-path attempts keep failing take the
//     fallback path with a merged secondary extraction.
//  3. Large or mostly unstructured documents take the deep path.
//  4. Everything else defaults to fast.
//
// Fast is expected to dominate traffic; deep is reserved for content where
// deterministic extraction demonstrably underperforms.
func Decide(signals models.RoutingSignal, t config.RouterThresholds) models.Strategy {
	if signals.PageCount <= t.SmallPageCount && signals.StructuredRegionRatio >= t.StructuredRatio {
		return models.StrategyFast
	}
	if signals.HistoricalFailureRate > t.FallbackFailureRate {
		return models.StrategyFallback
	}
	if signals.PageCount > t.LargePageCount || signals.StructuredRegionRatio < t.UnstructuredRatio {
		return models.StrategyDeep
	}
	return models.StrategyFast
}
