package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/watch"
	"github.com/tyemirov/kiln/internal/workflow"
)

type watchOptions struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type watchExecutor struct {
	name         string
	settings     WatchSettings
	dependencies Dependencies
}

// buildWatch runs the watch loop with the rules in the dependencies. A
// debounce option overrides the document-wide value.
func buildWatch(spec Spec, dependencies Dependencies) (workflow.Executor, error) {
	options := watchOptions{}
	if decodeError := decodeOptions(spec, kilnerrors.OperationWatch, &options); decodeError != nil {
		return nil, decodeError
	}
	settings := dependencies.Watch
	if options.Debounce > 0 {
		settings.Debounce = options.Debounce
	}
	if len(settings.Rules) == 0 {
		return nil, kilnerrors.WrapMessage(kilnerrors.OperationWatch, spec.Name, kilnerrors.ErrOptionsInvalid, "no watch rules: add a watch section or task inputs")
	}
	return watchExecutor{name: spec.Name, settings: settings, dependencies: dependencies}, nil
}

// Execute blocks until ctx ends. Re-runs report through the scheduler's
// reporter; successful ones also notify the preview hub.
func (executor watchExecutor) Execute(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
	if request.Runner == nil {
		return workflow.OutputDescriptor{}, kilnerrors.WrapMessage(kilnerrors.OperationWatch, executor.name, kilnerrors.ErrWatchFailed, "no runner available")
	}
	dispatcher := watch.NewDispatcher(watch.DispatcherConfig{
		Debounce:         executor.settings.Debounce,
		Roots:            executor.settings.Roots,
		WorkingDirectory: executor.settings.WorkingDirectory,
	}, watch.DispatcherDependencies{
		Runner:        request.Runner,
		Logger:        executor.dependencies.Logger,
		SourceFactory: executor.settings.SourceFactory,
	})

	watchError := dispatcher.Watch(ctx, executor.settings.Rules, func(report watch.RunReport) {
		if !report.Result.Succeeded() {
			executor.dependencies.Logger.Warn("watch run failed; still watching",
				zap.Strings("tasks", report.Tasks),
				zap.String("status", string(report.Result.Status)),
			)
			return
		}
		executor.dependencies.ReloadHub.NotifyReload(report.Paths)
	})
	if watchError != nil {
		return workflow.OutputDescriptor{}, kilnerrors.Wrap(kilnerrors.OperationWatch, executor.name, kilnerrors.ErrWatchFailed, watchError)
	}
	return workflow.OutputDescriptor{}, nil
}
