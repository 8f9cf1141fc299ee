package ceremony

import (
	"errors"
	"fmt"
)

// Start errors.
var (
	ErrTransportUnavailable = errors.New("ceremony venue unavailable")
	ErrUnknownDefinition    = errors.New("unknown ceremony definition")
	ErrOverlapRejected      = errors.New("ceremony already in progress")
	ErrShutdown             = errors.New("orchestrator is shut down")
)

// Definition errors.
var (
	ErrInvalidDefinition   = errors.New("invalid ceremony definition")
	ErrDuplicateDefinition = errors.New("duplicate ceremony definition")
)

// ErrInvariantViolation marks a broken state machine invariant. It is a
// programming error, never a user-recoverable condition.
var ErrInvariantViolation = errors.New("ceremony invariant violation")

// InvariantError carries the instance and the expected/observed phase index.
type InvariantError struct {
	InstanceID string
	Expected   int
	Observed   int
	Detail     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ceremony invariant violation in %s: %s (expected phase %d, observed %d)",
		e.InstanceID, e.Detail, e.Expected, e.Observed)
}

// Is matches ErrInvariantViolation.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolation
}
