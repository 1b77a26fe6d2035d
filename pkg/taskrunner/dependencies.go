package taskrunner

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/kiln/internal/execshell"
	"github.com/tyemirov/kiln/internal/pipeline"
	"github.com/tyemirov/kiln/internal/tasks"
	"github.com/tyemirov/kiln/internal/utils"
	"github.com/tyemirov/kiln/internal/watch"
	"github.com/tyemirov/kiln/internal/workflow"
)

var (
	errOutputWriterMissing = errors.New("taskrunner.dependencies.output: writer not configured")
	errErrorWriterMissing  = errors.New("taskrunner.dependencies.errors: writer not configured")
)

// DependenciesConfig captures providers shared by every command that runs tasks.
type DependenciesConfig struct {
	LoggerProvider               func() *zap.Logger
	HumanReadableLoggingProvider func() bool
	FileSystem                   afero.Fs
	CommandRunner                execshell.CommandRunner
	SourceFactory                watch.SourceFactory
	OpenBrowser                  tasks.BrowserOpener
	Clock                        func() time.Time
	Builders                     map[string]tasks.Builder
}

// DependenciesOptions carries per-invocation values.
type DependenciesOptions struct {
	Command          *cobra.Command
	Output           io.Writer
	Errors           io.Writer
	WorkingDirectory string
	WatchDebounce    time.Duration
	// Environment holds KEY=VALUE assignments that env tasks cannot override.
	Environment     []string
	DisableReporter bool
}

// DependenciesResult exposes the resolved collaborators.
type DependenciesResult struct {
	Pipeline      pipeline.Dependencies
	ShellExecutor *execshell.ShellExecutor
	Environment   *tasks.EnvironmentStore
	Output        io.Writer
	Errors        io.Writer
}

// BuildDependencies resolves the shell executor, environment store, reporter
// and filesystem for a pipeline run.
func BuildDependencies(config DependenciesConfig, options DependenciesOptions) (DependenciesResult, error) {
	logger := resolveLogger(config.LoggerProvider)
	humanReadable := false
	if config.HumanReadableLoggingProvider != nil {
		humanReadable = config.HumanReadableLoggingProvider()
	}

	outputWriter := resolveWriter(options.Output, options.Command, true)
	if outputWriter == nil {
		return DependenciesResult{}, errOutputWriterMissing
	}
	errorWriter := resolveWriter(options.Errors, options.Command, false)
	if errorWriter == nil {
		return DependenciesResult{}, errErrorWriterMissing
	}

	environment := tasks.NewEnvironmentStore()
	for _, assignment := range options.Environment {
		name, value, parseError := tasks.ParseAssignment(assignment)
		if parseError != nil {
			return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.environment: %w", parseError)
		}
		environment.Seed(name, value)
	}

	commandRunner := config.CommandRunner
	if commandRunner == nil {
		commandRunner = execshell.OSCommandRunner{}
	}
	shellExecutor, executorError := execshell.NewShellExecutor(logger, commandRunner, humanReadable)
	if executorError != nil {
		return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.shell_executor: %w", executorError)
	}

	fileSystem := config.FileSystem
	if fileSystem == nil {
		fileSystem = afero.NewOsFs()
	}

	var reporter workflow.Reporter = workflow.NopReporter{}
	if !options.DisableReporter {
		reporter = workflow.NewConsoleReporter(outputWriter, errorWriter)
	}

	return DependenciesResult{
		Pipeline: pipeline.Dependencies{
			FileSystem:       fileSystem,
			Logger:           logger,
			Reporter:         reporter,
			ShellExecutor:    shellExecutor,
			Environment:      environment,
			SourceFactory:    config.SourceFactory,
			OpenBrowser:      config.OpenBrowser,
			WorkingDirectory: options.WorkingDirectory,
			WatchDebounce:    options.WatchDebounce,
			ErrorOutput:      errorWriter,
			Clock:            config.Clock,
			Builders:         config.Builders,
		},
		ShellExecutor: shellExecutor,
		Environment:   environment,
		Output:        outputWriter,
		Errors:        errorWriter,
	}, nil
}

func resolveLogger(provider func() *zap.Logger) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// resolveWriter wraps the chosen writer so buffered targets are flushed after
// every reporter line.
func resolveWriter(provided io.Writer, command *cobra.Command, useStdout bool) io.Writer {
	switch {
	case provided != nil:
		return utils.NewFlushingWriter(provided)
	case command == nil:
		return nil
	case useStdout:
		return utils.NewFlushingWriter(command.OutOrStdout())
	default:
		return utils.NewFlushingWriter(command.ErrOrStderr())
	}
}
