package tasks_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/kiln/internal/configtree"
	"github.com/tyemirov/kiln/internal/execshell"
	"github.com/tyemirov/kiln/internal/tasks"
	"github.com/tyemirov/kiln/internal/workflow"
)

const (
	testSubtestNameTemplateConstant = "%d_%s"
	testSourceRootConstant          = "site/src"
	testDestinationRootConstant     = "site/build"
)

type recordingCommandRunner struct {
	mutex    sync.Mutex
	commands []execshell.ShellCommand
	result   execshell.ExecutionResult
	err      error
	onRun    func(execshell.ShellCommand)
}

func (runner *recordingCommandRunner) Run(ctx context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.mutex.Lock()
	runner.commands = append(runner.commands, command)
	runner.mutex.Unlock()
	if runner.onRun != nil {
		runner.onRun(command)
	}
	return runner.result, runner.err
}

func (runner *recordingCommandRunner) recorded() []execshell.ShellCommand {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	return append([]execshell.ShellCommand(nil), runner.commands...)
}

type taskFixture struct {
	fileSystem afero.Fs
	runner     *recordingCommandRunner
	factory    *tasks.Factory
}

func newTaskFixture(testInstance *testing.T, logger *zap.Logger, customize func(*tasks.Dependencies)) *taskFixture {
	testInstance.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	fileSystem := afero.NewMemMapFs()
	runner := &recordingCommandRunner{}
	shellExecutor, executorError := execshell.NewShellExecutor(logger, runner, false)
	require.NoError(testInstance, executorError)

	dependencies := tasks.Dependencies{
		FileSystem:    fileSystem,
		Logger:        logger,
		ShellExecutor: shellExecutor,
		Boundary:      tasks.Boundary{SourceRoot: testSourceRootConstant, DestinationRoot: testDestinationRootConstant},
	}
	if customize != nil {
		customize(&dependencies)
	}
	factory, factoryError := tasks.NewFactory(dependencies)
	require.NoError(testInstance, factoryError)
	return &taskFixture{fileSystem: fileSystem, runner: runner, factory: factory}
}

func (fixture *taskFixture) writeFile(testInstance *testing.T, path string, contents string) {
	testInstance.Helper()
	require.NoError(testInstance, afero.WriteFile(fixture.fileSystem, path, []byte(contents), 0o644))
}

func (fixture *taskFixture) readFile(testInstance *testing.T, path string) string {
	testInstance.Helper()
	contents, readError := afero.ReadFile(fixture.fileSystem, path)
	require.NoError(testInstance, readError)
	return string(contents)
}

func (fixture *taskFixture) exists(testInstance *testing.T, path string) bool {
	testInstance.Helper()
	present, existsError := afero.Exists(fixture.fileSystem, path)
	require.NoError(testInstance, existsError)
	return present
}

func (fixture *taskFixture) build(testInstance *testing.T, spec tasks.Spec) (workflow.Executor, error) {
	testInstance.Helper()
	return fixture.factory.Build(spec)
}

func (fixture *taskFixture) run(testInstance *testing.T, spec tasks.Spec) workflow.OutputDescriptor {
	testInstance.Helper()
	executor, buildError := fixture.build(testInstance, spec)
	require.NoError(testInstance, buildError)
	outputs, executeError := executor.Execute(context.Background(), workflow.ExecutionRequest{Task: spec.Name})
	require.NoError(testInstance, executeError)
	return outputs
}

func options(testInstance *testing.T, values map[string]any) *configtree.Node {
	testInstance.Helper()
	node, nodeError := configtree.FromValue(values)
	require.NoError(testInstance, nodeError)
	return node
}

func sortedCopy(values []string) []string {
	copied := append([]string(nil), values...)
	sort.Strings(copied)
	return copied
}
