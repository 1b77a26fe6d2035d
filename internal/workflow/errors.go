package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRegistryFrozen indicates registration was attempted after Freeze.
var ErrRegistryFrozen = errors.New("workflow: task registry is frozen")

// DuplicateTaskError reports a second registration under an existing name.
type DuplicateTaskError struct {
	Name string
}

func (duplicateError DuplicateTaskError) Error() string {
	return fmt.Sprintf("workflow: task %q is already registered", duplicateError.Name)
}

// UnknownTaskError reports a reference to a task that is not registered.
type UnknownTaskError struct {
	Name         string
	ReferencedBy string
}

func (unknownError UnknownTaskError) Error() string {
	if len(unknownError.ReferencedBy) > 0 {
		return fmt.Sprintf("workflow: unknown task %q referenced by %q", unknownError.Name, unknownError.ReferencedBy)
	}
	return fmt.Sprintf("workflow: unknown task %q", unknownError.Name)
}

// InvalidTaskDefinitionError reports a definition that cannot be registered.
type InvalidTaskDefinitionError struct {
	Name   string
	Reason string
}

func (invalidError InvalidTaskDefinitionError) Error() string {
	return fmt.Sprintf("workflow: invalid task %q: %s", invalidError.Name, invalidError.Reason)
}

// CompositeCycleError reports composites that expand into themselves.
type CompositeCycleError struct {
	Chain []string
}

func (cycleError CompositeCycleError) Error() string {
	return fmt.Sprintf("workflow: composite tasks form a cycle: %s", strings.Join(cycleError.Chain, " -> "))
}

// TaskExecutionError wraps the failure of a task executor.
type TaskExecutionError struct {
	Task  string
	Cause error
}

func (executionError TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q failed: %v", executionError.Task, executionError.Cause)
}

// Unwrap exposes the executor failure.
func (executionError TaskExecutionError) Unwrap() error {
	return executionError.Cause
}
