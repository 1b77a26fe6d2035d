package taskrunner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tyemirov/kiln/internal/pipeline"
	"github.com/tyemirov/kiln/internal/utils"
	"github.com/tyemirov/kiln/internal/workflow"
)

// Executor runs a pipeline or task selection from one document.
type Executor interface {
	Run(ctx context.Context, selection utils.RunSelection) workflow.RunResult
}

// Factory constructs an Executor for a decoded document.
type Factory func(document pipeline.Document, dependencies pipeline.Dependencies) (Executor, error)

type pipelineExecutor struct {
	runner *pipeline.Runner
}

// NewPipelineExecutor adapts runner to Executor. Explicit tasks win over the pipeline name.
func NewPipelineExecutor(runner *pipeline.Runner) Executor {
	return pipelineExecutor{runner: runner}
}

func (executor pipelineExecutor) Run(ctx context.Context, selection utils.RunSelection) workflow.RunResult {
	if len(selection.Tasks) > 0 {
		return executor.runner.RunTasks(ctx, selection.Tasks)
	}
	return executor.runner.Run(ctx, selection.Pipeline)
}

func buildPipelineExecutor(document pipeline.Document, dependencies pipeline.Dependencies) (Executor, error) {
	runner, buildError := pipeline.Build(document, dependencies)
	if buildError != nil {
		return nil, buildError
	}
	return NewPipelineExecutor(runner), nil
}

// Resolve builds an Executor through factory, or through pipeline.Build when
// factory is nil, and wraps it so each run ends with a summary line on summaryWriter.
func Resolve(factory Factory, document pipeline.Document, dependencies pipeline.Dependencies, summaryWriter io.Writer) (Executor, error) {
	if factory == nil {
		factory = buildPipelineExecutor
	}
	base, buildError := factory(document, dependencies)
	if buildError != nil {
		return nil, buildError
	}
	return summaryExecutor{delegate: base, writer: summaryWriter}, nil
}

type summaryExecutor struct {
	delegate Executor
	writer   io.Writer
}

func (executor summaryExecutor) Run(ctx context.Context, selection utils.RunSelection) workflow.RunResult {
	result := executor.delegate.Run(ctx, selection)
	if executor.writer == nil {
		return result
	}
	summary := RenderSummaryLine(result)
	if len(strings.TrimSpace(summary)) > 0 {
		fmt.Fprintln(executor.writer, summary)
	}
	return result
}
