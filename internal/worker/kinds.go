package worker

import (
	"context"

	"github.com/docsmith/genqueue/internal/store/model"
)

// Step plans per job kind. The callbacks passed to Definitions carry out
// the actual generation work; everything here only fixes the order and the
// names progress is reported under.
var stepPlans = map[model.JobKind][]string{
	model.JobKindCVGeneration: {
		"profile_analysis",
		"job_analysis",
		"content_generation",
		"template_application",
		"pdf_generation",
		"quality_check",
		"delivery",
	},
	model.JobKindCoverLetterGeneration: {
		"company_research",
		"profile_analysis",
		"content_generation",
		"template_application",
		"pdf_generation",
		"quality_review",
		"delivery",
	},
	model.JobKindJobAnalysis: {
		"job_parsing",
		"requirement_extraction",
		"skill_matching",
		"compatibility_scoring",
		"recommendation_generation",
	},
	model.JobKindBulkGeneration: {
		"job_validation",
		"queue_preparation",
		"batch_processing",
		"result_compilation",
		"notification",
	},
	model.JobKindJobCrawl: {
		"source_discovery",
		"page_fetching",
		"posting_extraction",
		"deduplication",
		"persistence",
	},
	model.JobKindProfileMatch: {
		"candidate_loading",
		"posting_loading",
		"scoring",
		"ranking",
	},
}

// StepPlan returns the ordered step names for a kind, or nil when the kind
// has no plan.
func StepPlan(kind model.JobKind) []string {
	return stepPlans[kind]
}

// StepHandlers maps step name to the function that performs it. Missing
// entries fall back to a pass-through, so a caller only implements the
// steps it cares about.
type StepHandlers map[string]StepFunc

// NewDefinition builds a Definition from a kind's plan and the supplied
// handlers.
func NewDefinition(kind model.JobKind, handlers StepHandlers) (Definition, bool) {
	plan := StepPlan(kind)
	if plan == nil {
		return Definition{}, false
	}
	steps := make([]StepDef, 0, len(plan))
	for _, name := range plan {
		run := handlers[name]
		if run == nil {
			run = passThrough
		}
		steps = append(steps, StepDef{Name: name, Run: run})
	}
	return Definition{Kind: kind, Steps: steps}, true
}

// RegisterBuiltinKinds registers every known kind with the given handlers.
// Handlers are looked up by step name across kinds, so shared steps like
// profile_analysis use one implementation.
func RegisterBuiltinKinds(registry *Registry, handlers StepHandlers) error {
	for kind := range stepPlans {
		def, _ := NewDefinition(kind, handlers)
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func passThrough(_ context.Context, _ *model.Job, state map[string]any) (map[string]any, error) {
	return state, nil
}
