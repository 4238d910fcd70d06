package worker_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docsmith/genqueue/internal/store/model"
	"github.com/docsmith/genqueue/internal/worker"
)

var _ = Describe("executor registry", func() {
	It("registers each kind once", func() {
		registry := worker.NewRegistry()
		def, ok := worker.NewDefinition(model.JobKindCVGeneration, nil)
		Expect(ok).To(BeTrue())
		Expect(registry.Register(def)).To(BeNil())
		Expect(registry.Register(def)).To(HaveOccurred())
	})

	It("rejects a definition without steps", func() {
		registry := worker.NewRegistry()
		Expect(registry.Register(worker.Definition{Kind: model.JobKindCVGeneration})).To(HaveOccurred())
	})

	It("has a step plan for every known kind", func() {
		registry := worker.NewRegistry()
		Expect(worker.RegisterBuiltinKinds(registry, nil)).To(BeNil())
		Expect(registry.Kinds()).To(HaveLen(6))

		def, ok := registry.Lookup(model.JobKindCVGeneration)
		Expect(ok).To(BeTrue())
		Expect(def.StepNames()).To(Equal([]string{
			"profile_analysis",
			"job_analysis",
			"content_generation",
			"template_application",
			"pdf_generation",
			"quality_check",
			"delivery",
		}))

		def, ok = registry.Lookup(model.JobKindJobAnalysis)
		Expect(ok).To(BeTrue())
		Expect(def.Steps).To(HaveLen(5))
	})

	It("reports no definition for an unknown kind", func() {
		registry := worker.NewRegistry()
		_, ok := registry.Lookup(model.JobKind("tarot_reading"))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("error categories", func() {
	It("extracts the category from a categorized error", func() {
		err := worker.NewFatalError(errors.New("boom"))
		Expect(worker.Categorize(err)).To(Equal(model.ErrorCategoryFatal))
		Expect(worker.Categorize(worker.NewValidationError(errors.New("bad")))).To(Equal(model.ErrorCategoryValidation))
	})

	It("finds the category through wrapping", func() {
		err := fmt.Errorf("step content_generation: %w", worker.NewFatalError(errors.New("boom")))
		Expect(worker.Categorize(err)).To(Equal(model.ErrorCategoryFatal))
	})

	It("defaults to transient", func() {
		Expect(worker.Categorize(errors.New("boom"))).To(Equal(model.ErrorCategoryTransient))
	})
})
