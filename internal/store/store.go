package store

import "errors"

// Sentinel errors surfaced to API callers and the poller. They are checked
// with errors.Is so wrapped variants keep their meaning.
var (
	// ErrDuplicateRequest means a live (non-terminal or active) integration
	// already exists for the (company, vendor) pair.
	ErrDuplicateRequest = errors.New("store: duplicate integration request")

	// ErrInvalidTransition means the requested status change is not allowed
	// by the integration state machine.
	ErrInvalidTransition = errors.New("store: invalid status transition")

	// ErrNoMatchingRecord means a parsed vendor reply could not be matched
	// to exactly one pending integration.
	ErrNoMatchingRecord = errors.New("store: no matching integration record")
)
