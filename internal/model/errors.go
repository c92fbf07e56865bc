package model

import "errors"

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("job is not in a compatible state")

	// ErrPaused and ErrCanceled unwind a transfer at a checkpoint.
	// They never surface to API callers as failures.
	ErrPaused   = errors.New("paused by user")
	ErrCanceled = errors.New("canceled by user")
)

// OutcomeFromError classifies the error returned by an execution attempt
func OutcomeFromError(err error, transient bool) Outcome {
	switch {
	case err == nil:
		return Succeeded()
	case errors.Is(err, ErrCanceled):
		return Canceled()
	case errors.Is(err, ErrPaused):
		return Paused()
	default:
		return Failed(err, transient)
	}
}
