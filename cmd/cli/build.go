package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	flagutils "github.com/tyemirov/kiln/internal/utils/flags"
	"github.com/tyemirov/kiln/pkg/taskrunner"
)

const buildDependenciesErrorTemplateConstant = "unable to prepare task dependencies: %w"

func notifyOnInterrupt(parentContext context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parentContext, os.Interrupt, syscall.SIGTERM)
}

func (application *Application) taskDependenciesConfig() taskrunner.DependenciesConfig {
	config := application.dependenciesConfig
	config.FileSystem = application.fileSystem
	return config
}

// runBuild loads the document, registers every task and runs the selection.
// Registration problems are returned before any task starts.
func (application *Application) runBuild(command *cobra.Command, arguments []string) error {
	if application.logger == nil {
		return errors.New(loggerNotInitializedMessageConstant)
	}

	executionContext := command.Context()
	selection, selectionAvailable := application.commandContextAccessor.RunSelection(executionContext)
	if !selectionAvailable {
		selection = flagutils.CollectRunSelection(command, arguments, application.defaultPipeline())
	}

	document, loadError := application.loadDocument(command)
	if loadError != nil {
		return loadError
	}

	workingDirectory, workingDirectoryError := application.resolveWorkingDirectory()
	if workingDirectoryError != nil {
		return workingDirectoryError
	}
	environment := []string(nil)
	if application.runFlagValues != nil {
		environment = application.runFlagValues.Environment
	}
	resolved, dependenciesError := taskrunner.BuildDependencies(application.taskDependenciesConfig(), taskrunner.DependenciesOptions{
		Command:          command,
		WorkingDirectory: workingDirectory,
		WatchDebounce:    application.configuration.Build.WatchDebounce,
		Environment:      environment,
	})
	if dependenciesError != nil {
		return fmt.Errorf(buildDependenciesErrorTemplateConstant, dependenciesError)
	}

	executor, resolveError := taskrunner.Resolve(application.executorFactory, document, resolved.Pipeline, resolved.Errors)
	if resolveError != nil {
		return resolveError
	}

	application.logger.Info(
		runCommandInfoMessageConstant,
		zap.String(logFieldDocumentConstant, document.Source),
		zap.String(logFieldPipelineConstant, selection.Pipeline),
		zap.Strings(logFieldTasksConstant, selection.Tasks),
	)

	runContext, cancel := application.signalContext(executionContext)
	defer cancel()

	result := executor.Run(runContext, selection)
	if result.Succeeded() {
		return nil
	}
	return RunFailedError{Status: string(result.Status), FailedTask: result.FailedTask, Cause: result.Err}
}
