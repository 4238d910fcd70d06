package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")

	// ErrNoneAvailable is returned by Claim when no eligible pending job
	// exists at the time of the call.
	ErrNoneAvailable = errors.New("no job available")

	// ErrInvalidTransition is returned when a requested status change is not
	// allowed by the job or step state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)
