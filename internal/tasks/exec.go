package tasks

import (
	"context"
	"strings"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/execshell"
	"github.com/tyemirov/kiln/internal/workflow"
)

type execOptions struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Dir     string            `mapstructure:"dir"`
	Env     map[string]string `mapstructure:"env"`
	Stdin   string            `mapstructure:"stdin"`
}

type execExecutor struct {
	spec         Spec
	options      execOptions
	dependencies Dependencies
}

func buildExec(spec Spec, dependencies Dependencies) (workflow.Executor, error) {
	options := execOptions{}
	if decodeError := decodeOptions(spec, kilnerrors.OperationExec, &options); decodeError != nil {
		return nil, decodeError
	}
	if len(strings.TrimSpace(options.Command)) == 0 {
		return nil, kilnerrors.WrapMessage(kilnerrors.OperationExec, spec.Name, kilnerrors.ErrOptionsInvalid, "command is required")
	}
	for name := range options.Env {
		if validationError := ValidateEnvironmentName(name); validationError != nil {
			return nil, kilnerrors.Wrap(kilnerrors.OperationExec, spec.Name, kilnerrors.ErrOptionsInvalid, validationError)
		}
	}
	return execExecutor{spec: spec, options: options, dependencies: dependencies}, nil
}

func (executor execExecutor) Execute(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
	command := execshell.ShellCommand{
		Name: execshell.CommandName(executor.options.Command),
		Details: execshell.CommandDetails{
			Arguments:            append([]string(nil), executor.options.Args...),
			WorkingDirectory:     executor.options.Dir,
			EnvironmentVariables: executor.options.Env,
		},
	}
	if len(executor.options.Stdin) > 0 {
		command.Details.StandardInput = []byte(executor.options.Stdin)
	}

	if _, executionError := executor.dependencies.ShellExecutor.Execute(ctx, command); executionError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationExec, executor.spec.Name, kilnerrors.ErrCommandFailed, executionError)
	}

	outputs, expandError := expandOutputs(executor.dependencies.FileSystem, executor.spec.Outputs)
	if expandError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationExec, executor.spec.Name, kilnerrors.ErrPatternInvalid, expandError)
	}
	return workflow.OutputDescriptor{Paths: outputs}, nil
}
