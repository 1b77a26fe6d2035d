package tasks

import (
	"context"
	"sort"

	"go.uber.org/zap"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/workflow"
)

type envOptions struct {
	Vars map[string]string `mapstructure:"vars"`
}

type envExecutor struct {
	name         string
	names        []string
	values       map[string]string
	dependencies Dependencies
}

func buildEnv(spec Spec, dependencies Dependencies) (workflow.Executor, error) {
	options := envOptions{}
	if decodeError := decodeOptions(spec, kilnerrors.OperationEnvironment, &options); decodeError != nil {
		return nil, decodeError
	}
	names := make([]string, 0, len(options.Vars))
	for name := range options.Vars {
		if validationError := ValidateEnvironmentName(name); validationError != nil {
			return nil, kilnerrors.Wrap(kilnerrors.OperationEnvironment, spec.Name, kilnerrors.ErrOptionsInvalid, validationError)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return envExecutor{name: spec.Name, names: names, values: options.Vars, dependencies: dependencies}, nil
}

func (executor envExecutor) Execute(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
	for _, name := range executor.names {
		if stored := executor.dependencies.Environment.Set(name, executor.values[name]); !stored {
			executor.dependencies.Logger.Info("environment value kept from command line",
				zap.String("task", executor.name),
				zap.String("variable", name),
			)
		}
	}
	return workflow.OutputDescriptor{}, nil
}
