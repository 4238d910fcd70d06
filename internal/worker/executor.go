package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/docsmith/genqueue/internal/store/model"
)

// StepFunc runs one step of a job. It receives the job's input merged with
// the output of every preceding step, and returns the data this step adds.
type StepFunc func(ctx context.Context, job *model.Job, state map[string]any) (map[string]any, error)

type StepDef struct {
	Name string
	Run  StepFunc
}

// Definition binds a job kind to its ordered step plan.
type Definition struct {
	Kind  model.JobKind
	Steps []StepDef
}

func (d Definition) StepNames() []string {
	names := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		names = append(names, s.Name)
	}
	return names
}

// CategorizedError carries the retry category the executor assigned to a
// failure. Errors without one are treated as transient.
type CategorizedError struct {
	Category model.ErrorCategory
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func NewFatalError(err error) *CategorizedError {
	return &CategorizedError{Category: model.ErrorCategoryFatal, Err: err}
}

func NewValidationError(err error) *CategorizedError {
	return &CategorizedError{Category: model.ErrorCategoryValidation, Err: err}
}

func NewTransientError(err error) *CategorizedError {
	return &CategorizedError{Category: model.ErrorCategoryTransient, Err: err}
}

// Categorize extracts the error category from an executor failure.
func Categorize(err error) model.ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return model.ErrorCategoryTransient
}

// Registry maps job kinds to their definitions. Registration happens at
// startup, lookups happen from every worker goroutine.
type Registry struct {
	mu   sync.RWMutex
	defs map[model.JobKind]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[model.JobKind]Definition)}
}

func (r *Registry) Register(def Definition) error {
	if len(def.Steps) == 0 {
		return fmt.Errorf("definition for kind %q has no steps", def.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Kind]; exists {
		return fmt.Errorf("kind %q is already registered", def.Kind)
	}
	r.defs[def.Kind] = def
	return nil
}

func (r *Registry) Lookup(kind model.JobKind) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[kind]
	return def, ok
}

func (r *Registry) Kinds() []model.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]model.JobKind, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	return kinds
}
