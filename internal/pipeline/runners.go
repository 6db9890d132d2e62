package pipeline

import (
	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/governor"
	"github.com/docuflow/docuflow/internal/stages"
)

// Resource classes the governor meters stage calls by.
const (
	ResourceClassOCR        = "ocr"
	ResourceClassLLM        = "llm"
	ResourceClassValidation = "validation"
)

// Services collects the external collaborators every strategy draws from.
type Services struct {
	OCR                stages.Invoker
	Classifier         stages.Invoker
	Extractor          stages.Invoker
	SecondaryExtractor stages.Invoker
	Validator          stages.Invoker
	Reasoner           stages.FieldExtractor
}

// BuildRunners maps each strategy onto its fixed, ordered stage list:
//
//	fast:     ocr -> extraction -> validation
//	fallback: ocr -> extraction -> secondary_extraction -> validation
//	deep:     ocr -> classification -> extraction -> reasoning -> validation
func BuildRunners(svcs Services, gov *governor.Governor) map[models.Strategy][]stages.Runner {
	ocr := stages.NewExecutor(stages.StageOCR, ResourceClassOCR, svcs.OCR, gov)
	classify := stages.NewExecutor(stages.StageClassification, ResourceClassLLM, svcs.Classifier, gov)
	extract := stages.NewExecutor(stages.StageExtraction, ResourceClassLLM, svcs.Extractor, gov)
	secondary := stages.NewExecutor(stages.StageSecondaryExtraction, ResourceClassLLM, svcs.SecondaryExtractor, gov)
	validate := stages.NewExecutor(stages.StageValidation, ResourceClassValidation, svcs.Validator, gov)
	reason := stages.NewReasoner(ResourceClassLLM, svcs.Reasoner, gov)

	return map[models.Strategy][]stages.Runner{
		models.StrategyFast:     {ocr, extract, validate},
		models.StrategyFallback: {ocr, extract, secondary, validate},
		models.StrategyDeep:     {ocr, classify, extract, reason, validate},
	}
}
