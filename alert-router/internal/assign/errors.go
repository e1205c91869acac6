package assign

import (
	"errors"
	"fmt"
)

var (
	ErrNoAgentsAvailable = errors.New("no agents available")
	// ErrCapacityExhausted is only returned when capacity is strictly enforced and
	// every agent is at its ceiling.
	ErrCapacityExhausted = errors.New("agent capacity exhausted")
)

// NoAgentsAvailableError is returned when the directory has no agent at all, not
// even one to overflow onto.
type NoAgentsAvailableError struct {
	AlertID string
}

func (e *NoAgentsAvailableError) Error() string {
	return fmt.Sprintf("route alert %s: %v", e.AlertID, ErrNoAgentsAvailable)
}

func (e *NoAgentsAvailableError) Is(target error) bool {
	return target == ErrNoAgentsAvailable
}
