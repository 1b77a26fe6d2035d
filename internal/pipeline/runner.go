package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/tyemirov/kiln/internal/execshell"
	"github.com/tyemirov/kiln/internal/tasks"
	"github.com/tyemirov/kiln/internal/watch"
	"github.com/tyemirov/kiln/internal/workflow"
)

// Default pipeline names.
const (
	PipelineBuild    = "build"
	PipelineBuildMin = "build-min"
	PipelineDev      = "dev"
)

const watchRuleSubjectPrefix = "watch."

// DefaultPipelines returns the pipelines registered when a document has no
// pipelines section.
func DefaultPipelines() []PipelineEntry {
	return []PipelineEntry{
		{Name: PipelineBuild, Tasks: []string{"clean", "copy-assets", "generate-fonts", "compile-styles", "post-process-styles", "render-templates", "bundle-scripts"}},
		{Name: PipelineBuildMin, Tasks: []string{PipelineBuild, "html-prettify", "css-minify", "image-minify"}},
		{Name: PipelineDev, Tasks: []string{PipelineBuild, "preview", "watch"}},
	}
}

// UnknownPipelineError reports a Run call naming something that is not a pipeline.
type UnknownPipelineError struct {
	Name      string
	Available []string
}

func (unknownError UnknownPipelineError) Error() string {
	return fmt.Sprintf("unknown pipeline %q (available: %v)", unknownError.Name, unknownError.Available)
}

// Dependencies carries the collaborators of a Runner. Nil fields get working
// defaults.
type Dependencies struct {
	FileSystem       afero.Fs
	Logger           *zap.Logger
	Reporter         workflow.Reporter
	ShellExecutor    *execshell.ShellExecutor
	Environment      *tasks.EnvironmentStore
	SourceFactory    watch.SourceFactory
	OpenBrowser      tasks.BrowserOpener
	WorkingDirectory string
	WatchDebounce    time.Duration
	ErrorOutput      io.Writer
	Clock            func() time.Time
	Builders         map[string]tasks.Builder
}

// Runner exposes the pipelines and tasks of one document. It is built once
// per process; the registry is frozen before Build returns.
type Runner struct {
	document   Document
	registry   *workflow.Registry
	scheduler  *workflow.Scheduler
	bound      workflow.Runner
	factory    *tasks.Factory
	watchRules []watch.Rule
	logger     *zap.Logger
}

// Build registers every task and pipeline of document and validates the
// result. Any registration or validation problem aborts before a task runs.
func Build(document Document, dependencies Dependencies) (*Runner, error) {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workingDirectory := dependencies.WorkingDirectory
	if len(workingDirectory) == 0 {
		workingDirectory = "."
	}

	debounce := document.Watch.Debounce
	if debounce == 0 {
		debounce = dependencies.WatchDebounce
	}

	rules, rulesError := buildWatchRules(document)
	if rulesError != nil {
		return nil, rulesError
	}

	factory, factoryError := tasks.NewFactory(tasks.Dependencies{
		FileSystem:    dependencies.FileSystem,
		Logger:        logger,
		ShellExecutor: dependencies.ShellExecutor,
		Environment:   dependencies.Environment,
		Boundary: tasks.Boundary{
			SourceRoot:      document.Engine.SourceRoot,
			DestinationRoot: document.Engine.DestinationRoot,
		},
		OpenBrowser: dependencies.OpenBrowser,
		Watch: tasks.WatchSettings{
			Rules:            rules,
			Roots:            document.Watch.Roots,
			Debounce:         debounce,
			WorkingDirectory: workingDirectory,
			SourceFactory:    dependencies.SourceFactory,
		},
		ErrorOutput: dependencies.ErrorOutput,
	})
	if factoryError != nil {
		return nil, factoryError
	}
	for kind, builder := range dependencies.Builders {
		factory.Register(kind, builder)
	}

	registry := workflow.NewRegistry()
	for _, entry := range document.Tasks {
		definition := workflow.TaskDefinition{
			Name:        entry.Name,
			Description: entry.Description,
			Inputs:      entry.Inputs,
			Outputs:     entry.Outputs,
			Subtasks:    entry.Subtasks,
			BestEffort:  entry.BestEffort,
		}
		if len(entry.Subtasks) == 0 {
			executor, buildError := factory.Build(tasks.Spec{
				Name:    entry.Name,
				Kind:    entry.Kind,
				Inputs:  entry.Inputs,
				Outputs: entry.Outputs,
				Options: entry.Options,
			})
			if buildError != nil {
				return nil, buildError
			}
			definition.Executor = executor
		}
		if registerError := registry.Register(definition); registerError != nil {
			return nil, registerError
		}
	}

	if registerError := registerPipelines(registry, document.Pipelines, logger); registerError != nil {
		return nil, registerError
	}
	if validationError := registry.Validate(); validationError != nil {
		return nil, validationError
	}
	for _, rule := range rules {
		for _, taskName := range rule.Tasks {
			if !registry.Has(taskName) {
				return nil, workflow.UnknownTaskError{Name: taskName, ReferencedBy: watchRuleSubjectPrefix + rule.Name}
			}
		}
	}
	registry.Freeze()

	scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{
		Logger:   logger,
		Reporter: dependencies.Reporter,
		Clock:    dependencies.Clock,
	})
	logger.Debug("pipeline document registered",
		zap.String("source", document.Source),
		zap.Int("tasks", len(document.Tasks)),
		zap.Strings("pipelines", registry.Pipelines()),
		zap.Int("watch_rules", len(rules)),
	)
	return &Runner{
		document:   document,
		registry:   registry,
		scheduler:  scheduler,
		bound:      scheduler.Bind(document.Configuration),
		factory:    factory,
		watchRules: rules,
		logger:     logger,
	}, nil
}

// registerPipelines registers the document's pipelines, or the defaults
// whose every member is registered when the document declares none.
func registerPipelines(registry *workflow.Registry, pipelines []PipelineEntry, logger *zap.Logger) error {
	if len(pipelines) > 0 {
		for _, pipeline := range pipelines {
			if registerError := registry.Register(workflow.TaskDefinition{Name: pipeline.Name, Subtasks: pipeline.Tasks, Pipeline: true}); registerError != nil {
				return registerError
			}
		}
		return nil
	}

	for _, pipeline := range DefaultPipelines() {
		if registry.Has(pipeline.Name) {
			continue
		}
		missing := make([]string, 0)
		for _, member := range pipeline.Tasks {
			if !registry.Has(member) {
				missing = append(missing, member)
			}
		}
		if len(missing) > 0 {
			logger.Debug("default pipeline skipped", zap.String("pipeline", pipeline.Name), zap.Strings("missing", missing))
			continue
		}
		if registerError := registry.Register(workflow.TaskDefinition{Name: pipeline.Name, Subtasks: pipeline.Tasks, Pipeline: true}); registerError != nil {
			return registerError
		}
	}
	return nil
}

// buildWatchRules uses the watch section when it has rules and otherwise
// derives one rule per leaf task with inputs. Preview and watch tasks never
// get a rule of their own.
func buildWatchRules(document Document) ([]watch.Rule, error) {
	if len(document.Watch.Rules) > 0 {
		rules := make([]watch.Rule, 0, len(document.Watch.Rules))
		for _, entry := range document.Watch.Rules {
			rule, ruleError := watch.NewRule(entry.Name, entry.Files, entry.Tasks)
			if ruleError != nil {
				return nil, sectionError(watchRuleSubjectPrefix+entry.Name, ruleError)
			}
			rules = append(rules, rule)
		}
		return rules, nil
	}

	definitions := make([]workflow.TaskDefinition, 0, len(document.Tasks))
	for _, entry := range document.Tasks {
		if entry.Kind == tasks.KindWatch || entry.Kind == tasks.KindPreview {
			continue
		}
		definitions = append(definitions, workflow.TaskDefinition{Name: entry.Name, Inputs: entry.Inputs, Subtasks: entry.Subtasks})
	}
	rules, rulesError := watch.RulesFromDefinitions(definitions)
	if rulesError != nil {
		return nil, sectionError(SectionTasks, rulesError)
	}
	return rules, nil
}

// Run runs the named pipeline.
func (runner *Runner) Run(ctx context.Context, name string) workflow.RunResult {
	if !runner.IsPipeline(name) {
		unknownError := UnknownPipelineError{Name: name, Available: runner.registry.Pipelines()}
		return workflow.RunResult{Requested: []string{name}, Status: workflow.RunFailure, Err: unknownError}
	}
	return runner.bound.Run(ctx, []string{name})
}

// RunTasks runs the named tasks, pipelines or target groups in order.
func (runner *Runner) RunTasks(ctx context.Context, names []string) workflow.RunResult {
	return runner.bound.Run(ctx, names)
}

// IsPipeline reports whether name is a registered pipeline.
func (runner *Runner) IsPipeline(name string) bool {
	for _, pipeline := range runner.registry.Pipelines() {
		if pipeline == name {
			return true
		}
	}
	return false
}

// Pipelines lists pipeline names in registration order.
func (runner *Runner) Pipelines() []string {
	return runner.registry.Pipelines()
}

// Definitions lists every registered task and pipeline.
func (runner *Runner) Definitions() []workflow.TaskDefinition {
	return runner.registry.Definitions()
}

// Expand flattens names into leaf task names without running anything.
func (runner *Runner) Expand(names []string) ([]string, error) {
	return runner.registry.Expand(names)
}

// WatchRules returns the rules the watch task uses.
func (runner *Runner) WatchRules() []watch.Rule {
	return append([]watch.Rule(nil), runner.watchRules...)
}

// Document returns the decoded document.
func (runner *Runner) Document() Document {
	return runner.document
}

// Environment returns the store shared by env and exec tasks.
func (runner *Runner) Environment() *tasks.EnvironmentStore {
	return runner.factory.Environment()
}
