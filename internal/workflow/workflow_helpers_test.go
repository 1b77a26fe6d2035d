package workflow_test

import (
	"context"
	"errors"
	"sync"

	"github.com/tyemirov/kiln/internal/workflow"
)

type executionRecorder struct {
	mutex    sync.Mutex
	executed []string
}

func (recorder *executionRecorder) names() []string {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return append([]string(nil), recorder.executed...)
}

func (recorder *executionRecorder) succeed(outputs ...string) workflow.Executor {
	return workflow.ExecutorFunc(func(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
		recorder.mutex.Lock()
		recorder.executed = append(recorder.executed, request.Task)
		recorder.mutex.Unlock()
		return workflow.OutputDescriptor{Paths: outputs}, nil
	})
}

func (recorder *executionRecorder) fail(message string) workflow.Executor {
	return workflow.ExecutorFunc(func(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
		recorder.mutex.Lock()
		recorder.executed = append(recorder.executed, request.Task)
		recorder.mutex.Unlock()
		return workflow.OutputDescriptor{}, errors.New(message)
	})
}

func leaf(name string, executor workflow.Executor) workflow.TaskDefinition {
	return workflow.TaskDefinition{Name: name, Executor: executor}
}

func composite(name string, subtasks ...string) workflow.TaskDefinition {
	return workflow.TaskDefinition{Name: name, Subtasks: subtasks}
}
