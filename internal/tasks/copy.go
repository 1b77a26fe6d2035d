package tasks

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"

	"go.uber.org/zap"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/glob"
	"github.com/tyemirov/kiln/internal/workflow"
)

type copyOptions struct {
	Cwd     string   `mapstructure:"cwd"`
	Src     []string `mapstructure:"src"`
	Dest    string   `mapstructure:"dest"`
	Flatten bool     `mapstructure:"flatten"`
	Newer   bool     `mapstructure:"newer"`
}

type copyExecutor struct {
	name         string
	options      copyOptions
	dependencies Dependencies
}

// buildCopy copies files matching src under cwd into dest, keeping their
// cwd-relative paths unless flatten is set. With newer, files whose copy is
// at least as recent as the source are skipped.
func buildCopy(spec Spec, dependencies Dependencies) (workflow.Executor, error) {
	options := copyOptions{Cwd: currentDirectory}
	if decodeError := decodeOptions(spec, kilnerrors.OperationCopy, &options); decodeError != nil {
		return nil, decodeError
	}
	if len(options.Src) == 0 {
		options.Src = spec.Inputs
	}
	if len(options.Src) == 0 || len(strings.TrimSpace(options.Dest)) == 0 {
		return nil, kilnerrors.WrapMessage(kilnerrors.OperationCopy, spec.Name, kilnerrors.ErrOptionsInvalid, "src and dest are required")
	}
	if _, patternError := glob.NewPatternSet(options.Src...); patternError != nil {
		return nil, kilnerrors.Wrap(kilnerrors.OperationCopy, spec.Name, kilnerrors.ErrPatternInvalid, patternError)
	}
	if boundaryError := dependencies.Boundary.CheckWrite(spec.Name, options.Dest); boundaryError != nil {
		return nil, boundaryError
	}
	return copyExecutor{name: spec.Name, options: options, dependencies: dependencies}, nil
}

func (executor copyExecutor) Execute(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
	fileSystem := executor.dependencies.FileSystem
	matches, expandError := expandOrdered(fileSystem, executor.options.Cwd, executor.options.Src)
	if expandError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationCopy, executor.name, kilnerrors.ErrPatternInvalid, expandError)
	}

	destination := glob.NormalizePath(executor.options.Dest)
	copied := make([]string, 0, len(matches))
	skipped := 0
	for _, relativePath := range matches {
		if contextError := ctx.Err(); contextError != nil {
			return workflow.OutputDescriptor{Paths: copied}, contextError
		}
		targetRelative := relativePath
		if executor.options.Flatten {
			targetRelative = path.Base(relativePath)
		}
		target := path.Join(destination, targetRelative)
		if boundaryError := executor.dependencies.Boundary.CheckWrite(executor.name, target); boundaryError != nil {
			return workflow.OutputDescriptor{Paths: copied}, boundaryError
		}

		sourcePath := fsPath(executor.options.Cwd, relativePath)
		if executor.options.Newer {
			upToDate, compareError := executor.upToDate(sourcePath, fsPath(currentDirectory, target))
			if compareError != nil {
				return workflow.OutputDescriptor{Paths: copied}, kilnerrors.Wrap(kilnerrors.OperationCopy, relativePath, kilnerrors.ErrReadFailed, compareError)
			}
			if upToDate {
				skipped++
				continue
			}
		}
		if copyError := copyFile(fileSystem, sourcePath, fsPath(currentDirectory, target)); copyError != nil {
			return workflow.OutputDescriptor{Paths: copied}, kilnerrors.Wrap(kilnerrors.OperationCopy, target, kilnerrors.ErrWriteFailed, copyError)
		}
		copied = append(copied, target)
	}

	if skipped > 0 {
		executor.dependencies.Logger.Debug("copy skipped unchanged files", zap.String("task", executor.name), zap.Int("skipped", skipped))
	}
	return workflow.OutputDescriptor{Paths: copied}, nil
}

func (executor copyExecutor) upToDate(sourcePath string, targetPath string) (bool, error) {
	fileSystem := executor.dependencies.FileSystem
	targetInfo, targetError := fileSystem.Stat(targetPath)
	if targetError != nil {
		if errors.Is(targetError, fs.ErrNotExist) {
			return false, nil
		}
		return false, targetError
	}
	sourceInfo, sourceError := fileSystem.Stat(sourcePath)
	if sourceError != nil {
		return false, sourceError
	}
	return !targetInfo.ModTime().Before(sourceInfo.ModTime()), nil
}
