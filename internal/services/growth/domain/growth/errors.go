package growth

import "errors"

// Errors a StateStore reports back to the interpreter.
var (
	// ErrStateNotFound means the user has no growth state yet.
	ErrStateNotFound = errors.New("growth state not found")
	// ErrStaleState means the state changed since it was read.
	ErrStaleState = errors.New("growth state version is stale")
	// ErrAlreadyApplied means the event already mutated the state.
	ErrAlreadyApplied = errors.New("event already applied to growth state")
)
