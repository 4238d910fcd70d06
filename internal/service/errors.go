package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(id uuid.UUID) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %s not found", id)}
}

type ErrInvalidInput struct {
	error
}

func NewErrInvalidInput(message string) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf("invalid input: %s", message)}
}

func NewErrInvalidJobKind(kind string) *ErrInvalidInput {
	return NewErrInvalidInput(fmt.Sprintf("unknown job kind %q", kind))
}

// ErrAlreadyTerminal reports a cancel request against a job that already
// reached a terminal status. Callers treat it as a no-op, not a failure.
type ErrAlreadyTerminal struct {
	error
}

func NewErrAlreadyTerminal(id uuid.UUID) *ErrAlreadyTerminal {
	return &ErrAlreadyTerminal{fmt.Errorf("job %s is already terminal", id)}
}

// ErrNotFailed reports a manual retry against a job that is not terminally
// failed.
type ErrNotFailed struct {
	error
}

func NewErrNotFailed(id uuid.UUID) *ErrNotFailed {
	return &ErrNotFailed{fmt.Errorf("job %s is not in failed status", id)}
}

type ErrNotProcessing struct {
	error
}

func NewErrNotProcessing(id uuid.UUID) *ErrNotProcessing {
	return &ErrNotProcessing{fmt.Errorf("job %s is not in processing status", id)}
}

type ErrStepNotFound struct {
	error
}

func NewErrStepNotFound(id uuid.UUID, order int) *ErrStepNotFound {
	return &ErrStepNotFound{fmt.Errorf("job %s has no step with order %d", id, order)}
}

type ErrStepTransition struct {
	error
}

func NewErrStepTransition(id uuid.UUID, order int, status string) *ErrStepTransition {
	return &ErrStepTransition{fmt.Errorf("job %s step %d cannot move to %s", id, order, status)}
}
