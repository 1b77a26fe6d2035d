package tasks

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/glob"
	"github.com/tyemirov/kiln/internal/workflow"
)

const defaultConcatSeparator = "\n"

type concatOptions struct {
	Cwd       string   `mapstructure:"cwd"`
	Src       []string `mapstructure:"src"`
	Dest      string   `mapstructure:"dest"`
	Separator *string  `mapstructure:"separator"`
	Banner    string   `mapstructure:"banner"`
	Footer    string   `mapstructure:"footer"`
}

type concatExecutor struct {
	name         string
	options      concatOptions
	separator    string
	dependencies Dependencies
}

// buildConcat joins the files matching src, in pattern order, into dest.
func buildConcat(spec Spec, dependencies Dependencies) (workflow.Executor, error) {
	options := concatOptions{Cwd: currentDirectory}
	if decodeError := decodeOptions(spec, kilnerrors.OperationConcat, &options); decodeError != nil {
		return nil, decodeError
	}
	if len(options.Src) == 0 {
		options.Src = spec.Inputs
	}
	if len(options.Src) == 0 || len(strings.TrimSpace(options.Dest)) == 0 {
		return nil, kilnerrors.WrapMessage(kilnerrors.OperationConcat, spec.Name, kilnerrors.ErrOptionsInvalid, "src and dest are required")
	}
	if _, patternError := glob.NewPatternSet(options.Src...); patternError != nil {
		return nil, kilnerrors.Wrap(kilnerrors.OperationConcat, spec.Name, kilnerrors.ErrPatternInvalid, patternError)
	}
	if boundaryError := dependencies.Boundary.CheckWrite(spec.Name, options.Dest); boundaryError != nil {
		return nil, boundaryError
	}
	separator := defaultConcatSeparator
	if options.Separator != nil {
		separator = *options.Separator
	}
	return concatExecutor{name: spec.Name, options: options, separator: separator, dependencies: dependencies}, nil
}

func (executor concatExecutor) Execute(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
	fileSystem := executor.dependencies.FileSystem
	matches, expandError := expandOrdered(fileSystem, executor.options.Cwd, executor.options.Src)
	if expandError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationConcat, executor.name, kilnerrors.ErrPatternInvalid, expandError)
	}

	var joined bytes.Buffer
	joined.WriteString(executor.options.Banner)
	for index, relativePath := range matches {
		contents, readError := afero.ReadFile(fileSystem, fsPath(executor.options.Cwd, relativePath))
		if readError != nil {
			return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationConcat, relativePath, kilnerrors.ErrReadFailed, readError)
		}
		if index > 0 {
			joined.WriteString(executor.separator)
		}
		joined.Write(contents)
	}
	joined.WriteString(executor.options.Footer)

	destination := fsPath(currentDirectory, glob.NormalizePath(executor.options.Dest))
	if mkdirError := fileSystem.MkdirAll(filepath.Dir(destination), directoryMode); mkdirError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationConcat, executor.options.Dest, kilnerrors.ErrWriteFailed, mkdirError)
	}
	if writeError := afero.WriteFile(fileSystem, destination, joined.Bytes(), 0o644); writeError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationConcat, executor.options.Dest, kilnerrors.ErrWriteFailed, writeError)
	}
	return workflow.OutputDescriptor{Paths: []string{glob.NormalizePath(executor.options.Dest)}}, nil
}
