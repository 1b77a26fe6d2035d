package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/tyemirov/kiln/internal/configtree"
	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/execshell"
	"github.com/tyemirov/kiln/internal/glob"
	"github.com/tyemirov/kiln/internal/preview"
	"github.com/tyemirov/kiln/internal/watch"
	"github.com/tyemirov/kiln/internal/workflow"
)

// Built-in task kinds.
const (
	KindExec       = "exec"
	KindClean      = "clean"
	KindCopy       = "copy"
	KindConcat     = "concat"
	KindDeleteSync = "delete-sync"
	KindEnv        = "env"
	KindPreview    = "preview"
	KindWatch      = "watch"
)

// Spec is the declarative description of one leaf task taken from the
// resolved document.
type Spec struct {
	Name    string
	Kind    string
	Inputs  []string
	Outputs []string
	Options *configtree.Node
}

// BrowserSession is a browser pointed at the preview server.
type BrowserSession interface {
	FollowReloads(ctx context.Context, hub *preview.Hub, onError func(error))
	Close()
}

// BrowserOpener launches a browser at url.
type BrowserOpener func(ctx context.Context, url string, headless bool) (BrowserSession, error)

// WatchSettings configures the watch kind.
type WatchSettings struct {
	Rules            []watch.Rule
	Roots            []string
	Debounce         time.Duration
	WorkingDirectory string
	SourceFactory    watch.SourceFactory
}

// Dependencies carries the collaborators shared by task executors.
type Dependencies struct {
	FileSystem    afero.Fs
	Logger        *zap.Logger
	ShellExecutor *execshell.ShellExecutor
	Environment   *EnvironmentStore
	Boundary      Boundary
	ReloadHub     *preview.Hub
	OpenBrowser   BrowserOpener
	Watch         WatchSettings
	ErrorOutput   io.Writer
}

// Builder turns a Spec into an executor.
type Builder func(spec Spec, dependencies Dependencies) (workflow.Executor, error)

// UnknownKindError reports a task whose kind has no builder.
type UnknownKindError struct {
	Task string
	Kind string
}

func (unknownError UnknownKindError) Error() string {
	return fmt.Sprintf("task %q has unknown kind %q", unknownError.Task, unknownError.Kind)
}

// Factory maps task kinds to builders.
type Factory struct {
	builders     map[string]Builder
	dependencies Dependencies
}

// NewFactory returns a factory with every built-in kind registered. Missing
// dependencies get working defaults.
func NewFactory(dependencies Dependencies) (*Factory, error) {
	if dependencies.FileSystem == nil {
		dependencies.FileSystem = afero.NewOsFs()
	}
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.Environment == nil {
		dependencies.Environment = NewEnvironmentStore()
	}
	if dependencies.ReloadHub == nil {
		dependencies.ReloadHub = preview.NewHub(dependencies.Logger)
	}
	if dependencies.OpenBrowser == nil {
		dependencies.OpenBrowser = openChromeBrowser
	}
	if dependencies.ErrorOutput == nil {
		dependencies.ErrorOutput = os.Stderr
	}
	if dependencies.ShellExecutor == nil {
		shellExecutor, executorError := execshell.NewShellExecutor(dependencies.Logger, execshell.OSCommandRunner{}, false)
		if executorError != nil {
			return nil, executorError
		}
		dependencies.ShellExecutor = shellExecutor
	}
	dependencies.ShellExecutor = dependencies.ShellExecutor.WithEnvironment(dependencies.Environment)

	factory := &Factory{builders: make(map[string]Builder), dependencies: dependencies}
	builtins := map[string]Builder{
		KindExec:       buildExec,
		KindClean:      buildClean,
		KindCopy:       buildCopy,
		KindConcat:     buildConcat,
		KindDeleteSync: buildDeleteSync,
		KindEnv:        buildEnv,
		KindPreview:    buildPreview,
		KindWatch:      buildWatch,
	}
	for kind, builder := range builtins {
		factory.builders[kind] = builder
	}
	return factory, nil
}

// Register adds or replaces the builder for kind.
func (factory *Factory) Register(kind string, builder Builder) {
	factory.builders[kind] = builder
}

// Kinds lists the registered kinds, sorted.
func (factory *Factory) Kinds() []string {
	kinds := make([]string, 0, len(factory.builders))
	for kind := range factory.builders {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Environment returns the store shared by env and exec tasks.
func (factory *Factory) Environment() *EnvironmentStore {
	return factory.dependencies.Environment
}

// ReloadHub returns the hub shared by preview and watch tasks.
func (factory *Factory) ReloadHub() *preview.Hub {
	return factory.dependencies.ReloadHub
}

// Build creates the executor for spec after checking that its declared
// outputs stay out of the source root.
func (factory *Factory) Build(spec Spec) (workflow.Executor, error) {
	builder, exists := factory.builders[spec.Kind]
	if !exists {
		return nil, UnknownKindError{Task: spec.Name, Kind: spec.Kind}
	}
	outputSet, patternError := glob.NewPatternSet(spec.Outputs...)
	if patternError != nil {
		return nil, kilnerrors.Wrap(kilnerrors.Operation("tasks."+spec.Kind), spec.Name, kilnerrors.ErrPatternInvalid, patternError)
	}
	for _, root := range outputSet.Roots() {
		if boundaryError := factory.dependencies.Boundary.CheckWrite(spec.Name, root); boundaryError != nil {
			return nil, boundaryError
		}
	}
	return builder(spec, factory.dependencies)
}

func decodeOptions(spec Spec, operation kilnerrors.Operation, target any) error {
	if decodeError := configtree.Decode(spec.Options, target); decodeError != nil {
		return kilnerrors.Wrap(operation, spec.Name, kilnerrors.ErrOptionsInvalid, decodeError)
	}
	return nil
}

func openChromeBrowser(ctx context.Context, url string, headless bool) (BrowserSession, error) {
	browser, openError := preview.OpenBrowser(ctx, url, headless)
	if openError != nil {
		return nil, openError
	}
	return browser, nil
}
