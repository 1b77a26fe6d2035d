package tasks

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/glob"
	"github.com/tyemirov/kiln/internal/workflow"
)

const deleteSyncDefaultPattern = "**"

type deleteSyncOptions struct {
	Cwd  string   `mapstructure:"cwd"`
	Src  []string `mapstructure:"src"`
	Dest string   `mapstructure:"dest"`
}

type deleteSyncExecutor struct {
	name         string
	options      deleteSyncOptions
	dependencies Dependencies
}

// buildDeleteSync removes files under dest matching src whose counterpart
// under cwd no longer exists.
func buildDeleteSync(spec Spec, dependencies Dependencies) (workflow.Executor, error) {
	options := deleteSyncOptions{}
	if decodeError := decodeOptions(spec, kilnerrors.OperationDeleteSync, &options); decodeError != nil {
		return nil, decodeError
	}
	if len(strings.TrimSpace(options.Cwd)) == 0 || len(strings.TrimSpace(options.Dest)) == 0 {
		return nil, kilnerrors.WrapMessage(kilnerrors.OperationDeleteSync, spec.Name, kilnerrors.ErrOptionsInvalid, "cwd and dest are required")
	}
	if len(options.Src) == 0 {
		options.Src = []string{deleteSyncDefaultPattern}
	}
	if _, patternError := glob.NewPatternSet(options.Src...); patternError != nil {
		return nil, kilnerrors.Wrap(kilnerrors.OperationDeleteSync, spec.Name, kilnerrors.ErrPatternInvalid, patternError)
	}
	if boundaryError := dependencies.Boundary.CheckRemove(spec.Name, options.Dest); boundaryError != nil {
		return nil, boundaryError
	}
	return deleteSyncExecutor{name: spec.Name, options: options, dependencies: dependencies}, nil
}

func (executor deleteSyncExecutor) Execute(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
	fileSystem := executor.dependencies.FileSystem
	candidates, expandError := expandOrdered(fileSystem, executor.options.Dest, executor.options.Src)
	if expandError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationDeleteSync, executor.name, kilnerrors.ErrPatternInvalid, expandError)
	}

	destination := glob.NormalizePath(executor.options.Dest)
	removed := make([]string, 0)
	for _, relativePath := range candidates {
		_, statError := fileSystem.Stat(fsPath(executor.options.Cwd, relativePath))
		if statError == nil {
			continue
		}
		if !errors.Is(statError, fs.ErrNotExist) {
			return workflow.OutputDescriptor{Paths: removed}, kilnerrors.Wrap(kilnerrors.OperationDeleteSync, relativePath, kilnerrors.ErrReadFailed, statError)
		}
		target := path.Join(destination, relativePath)
		if removeError := removeFile(fileSystem, target); removeError != nil {
			return workflow.OutputDescriptor{Paths: removed}, kilnerrors.Wrap(kilnerrors.OperationDeleteSync, target, kilnerrors.ErrRemoveFailed, removeError)
		}
		removed = append(removed, target)
	}
	return workflow.OutputDescriptor{Paths: removed}, nil
}
