package tasks

import (
	"context"
	"errors"
	"io/fs"

	"github.com/spf13/afero"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/glob"
	"github.com/tyemirov/kiln/internal/workflow"
)

type cleanOptions struct {
	Paths []string `mapstructure:"paths"`
}

type cleanExecutor struct {
	name         string
	paths        []string
	dependencies Dependencies
}

// buildClean removes the listed paths, falling back to the task's declared
// outputs. Plain paths are removed recursively; glob patterns remove the
// matching files.
func buildClean(spec Spec, dependencies Dependencies) (workflow.Executor, error) {
	options := cleanOptions{}
	if decodeError := decodeOptions(spec, kilnerrors.OperationClean, &options); decodeError != nil {
		return nil, decodeError
	}
	paths := options.Paths
	if len(paths) == 0 {
		paths = spec.Outputs
	}
	if len(paths) == 0 {
		return nil, kilnerrors.WrapMessage(kilnerrors.OperationClean, spec.Name, kilnerrors.ErrOptionsInvalid, "no paths to clean")
	}
	for _, candidate := range paths {
		if hasGlobMeta(candidate) {
			if _, patternError := glob.NewPatternSet(candidate); patternError != nil {
				return nil, kilnerrors.Wrap(kilnerrors.OperationClean, spec.Name, kilnerrors.ErrPatternInvalid, patternError)
			}
			continue
		}
		if boundaryError := dependencies.Boundary.CheckRemove(spec.Name, candidate); boundaryError != nil {
			return nil, boundaryError
		}
	}
	return cleanExecutor{name: spec.Name, paths: append([]string(nil), paths...), dependencies: dependencies}, nil
}

func (executor cleanExecutor) Execute(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
	fileSystem := executor.dependencies.FileSystem
	removed := make([]string, 0)
	patterns := make([]string, 0)

	for _, candidate := range executor.paths {
		if hasGlobMeta(candidate) {
			patterns = append(patterns, candidate)
			continue
		}
		target := glob.NormalizePath(candidate)
		if _, statError := fileSystem.Stat(fsPath(currentDirectory, target)); statError != nil {
			if errors.Is(statError, fs.ErrNotExist) {
				continue
			}
			return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationClean, target, kilnerrors.ErrRemoveFailed, statError)
		}
		if removeError := fileSystem.RemoveAll(fsPath(currentDirectory, target)); removeError != nil {
			return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationClean, target, kilnerrors.ErrRemoveFailed, removeError)
		}
		removed = append(removed, target)
	}

	if len(patterns) > 0 {
		matched, expandError := expandOrdered(fileSystem, currentDirectory, patterns)
		if expandError != nil {
			return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationClean, executor.name, kilnerrors.ErrPatternInvalid, expandError)
		}
		for _, match := range matched {
			if boundaryError := executor.dependencies.Boundary.CheckRemove(executor.name, match); boundaryError != nil {
				return workflow.OutputDescriptor{}, boundaryError
			}
			if removeError := removeFile(fileSystem, match); removeError != nil {
				return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationClean, match, kilnerrors.ErrRemoveFailed, removeError)
			}
			removed = append(removed, match)
		}
	}
	return workflow.OutputDescriptor{Paths: removed}, nil
}

func removeFile(fileSystem afero.Fs, relativePath string) error {
	removeError := fileSystem.Remove(fsPath(currentDirectory, relativePath))
	if removeError != nil && !errors.Is(removeError, fs.ErrNotExist) {
		return removeError
	}
	return nil
}
