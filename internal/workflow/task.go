package workflow

import (
	"context"

	"github.com/tyemirov/kiln/internal/configtree"
)

// Executor performs the work of one leaf task.
type Executor interface {
	Execute(ctx context.Context, request ExecutionRequest) (OutputDescriptor, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, request ExecutionRequest) (OutputDescriptor, error)

// Execute calls the wrapped function.
func (executorFunc ExecutorFunc) Execute(ctx context.Context, request ExecutionRequest) (OutputDescriptor, error) {
	return executorFunc(ctx, request)
}

// ExecutionRequest is handed to an executor for a single task invocation.
// Configuration is the resolved document shared by every task of the run and
// must be treated as read-only.
type ExecutionRequest struct {
	Task          string
	Configuration *configtree.Node
	Runner        Runner
}

// OutputDescriptor lists the files a task produced. It is used for logging only.
type OutputDescriptor struct {
	Paths []string
}

// Runner starts a nested run against the same resolved configuration.
type Runner interface {
	Run(ctx context.Context, names []string) RunResult
}

// TaskDefinition describes a registered unit of work. A definition with
// Subtasks is a composite and has no executor of its own.
type TaskDefinition struct {
	Name        string
	Description string
	Inputs      []string
	Outputs     []string
	Executor    Executor
	Subtasks    []string
	BestEffort  bool
	Pipeline    bool
}

// IsComposite reports whether the definition expands into other tasks.
func (definition TaskDefinition) IsComposite() bool {
	return len(definition.Subtasks) > 0
}

func (definition TaskDefinition) clone() TaskDefinition {
	cloned := definition
	cloned.Inputs = append([]string(nil), definition.Inputs...)
	cloned.Outputs = append([]string(nil), definition.Outputs...)
	cloned.Subtasks = append([]string(nil), definition.Subtasks...)
	return cloned
}

// PlannedTask is a leaf task in execution order with its effective
// best-effort flag, inherited from any enclosing composite.
type PlannedTask struct {
	Name       string
	BestEffort bool
	Definition TaskDefinition
}
