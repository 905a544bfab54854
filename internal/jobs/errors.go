package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestrator operations.
// These can be checked with errors.Is().
var (
	ErrNotFound       = errors.New("job not found")
	ErrInvalidState   = errors.New("job in invalid state")
	ErrInvalidRequest = errors.New("invalid request")
)

// notFoundError returns a wrapped error for a missing job.
func notFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// invalidRequestError returns a wrapped error for a rejected request.
func invalidRequestError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}

// invalidStateError returns a wrapped error for a conflicting start.
func invalidStateError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, reason)
}
