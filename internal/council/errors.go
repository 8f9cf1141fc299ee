package council

import (
	"errors"
	"fmt"
)

// Council errors.
var (
	ErrProvider  = errors.New("agent provider failed")
	ErrNoAgents  = errors.New("council has no agents")
	ErrEmptyText = errors.New("agent returned an empty response")
)

// ProviderError wraps a failed agent call. It never escapes the coordinator:
// quick queries substitute a fallback and deliberations omit the agent.
type ProviderError struct {
	AgentID string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.AgentID, e.Err)
}

// Is matches ErrProvider.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
