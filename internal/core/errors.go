package core

import "errors"

var (
	// ErrResolution means the target could not be matched to a place on any source
	ErrResolution = errors.New("target resolution failed")
	// ErrTransientFetch is a retryable network or page failure
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrInsufficientData signals too few usable reviews to cluster.
	// It selects the volume-based strategy and is not a task failure.
	ErrInsufficientData = errors.New("insufficient data for clustering")
	// ErrGenerationParse means a model reply did not match the persona schema
	ErrGenerationParse = errors.New("generation reply could not be parsed")
	// ErrGenerationExhausted means no persona could be produced at all
	ErrGenerationExhausted = errors.New("persona generation exhausted")
	// ErrStorage wraps failures of either backing store
	ErrStorage = errors.New("storage error")

	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task state transition")
	ErrResultNotFound    = errors.New("result not found")
)
