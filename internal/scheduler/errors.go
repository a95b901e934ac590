package scheduler

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a task id is not present in the registry.
var ErrNotFound = errors.New("task not found")

// ErrNotTerminal is returned by Remove when the task is still pending or
// running. Live tasks must be stopped before their record can be removed.
var ErrNotTerminal = errors.New("task is not in a terminal state")

// ValidationError describes rejected task-creation input. It is returned
// before any process is spawned; a creation that fails validation has no
// side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
