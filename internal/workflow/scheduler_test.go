package workflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/kiln/internal/configtree"
	"github.com/tyemirov/kiln/internal/workflow"
)

const (
	schedulerSubtestNameTemplate = "%d_%s"
	fakeClockStep                = 10 * time.Millisecond
)

type steppingClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func (clock *steppingClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(fakeClockStep)
	return clock.current
}

type recordingReporter struct {
	events []string
}

func (reporter *recordingReporter) RunStarted(names []string) {
	reporter.events = append(reporter.events, fmt.Sprintf("run_started:%v", names))
}

func (reporter *recordingReporter) TaskStarted(name string) {
	reporter.events = append(reporter.events, "task_started:"+name)
}

func (reporter *recordingReporter) TaskFinished(outcome workflow.TaskOutcome) {
	reporter.events = append(reporter.events, "task_finished:"+outcome.Name+":"+string(outcome.Status))
}

func (reporter *recordingReporter) RunFinished(result workflow.RunResult) {
	reporter.events = append(reporter.events, "run_finished:"+string(result.Status))
}

func newFrozenRegistry(testInstance *testing.T, definitions ...workflow.TaskDefinition) *workflow.Registry {
	testInstance.Helper()
	registry := workflow.NewRegistry()
	for _, definition := range definitions {
		require.NoError(testInstance, registry.Register(definition))
	}
	registry.Freeze()
	return registry
}

func TestSchedulerStopsAtFirstFailure(testInstance *testing.T) {
	recorder := &executionRecorder{}
	registry := newFrozenRegistry(testInstance,
		leaf("t1", recorder.succeed()),
		leaf("t2", recorder.fail("compiler crashed")),
		leaf("t3", recorder.succeed()),
		leaf("t4", recorder.succeed()),
		leaf("t5", recorder.succeed()),
	)
	scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{Clock: newSteppingClock().Now})

	result := scheduler.Run(context.Background(), []string{"t1", "t2", "t3", "t4", "t5"}, nil)

	require.Equal(testInstance, workflow.RunFailure, result.Status)
	require.Equal(testInstance, "t2", result.FailedTask)
	require.Equal(testInstance, []string{"t1", "t2"}, recorder.names())
	require.Equal(testInstance, []string{"t1", "t2"}, result.Executed())
	require.Equal(testInstance, []string{"t3", "t4", "t5"}, result.Skipped)
	require.False(testInstance, result.Succeeded())

	var executionError workflow.TaskExecutionError
	require.ErrorAs(testInstance, result.Err, &executionError)
	require.Equal(testInstance, "t2", executionError.Task)
	require.EqualError(testInstance, executionError.Cause, "compiler crashed")
}

func TestSchedulerRunStatuses(testInstance *testing.T) {
	testCases := []struct {
		name               string
		definitions        func(recorder *executionRecorder) []workflow.TaskDefinition
		requested          []string
		expectedStatus     workflow.RunStatus
		expectedExecuted   []string
		expectedBestEffort []string
	}{
		{
			name: "all_succeed",
			definitions: func(recorder *executionRecorder) []workflow.TaskDefinition {
				return []workflow.TaskDefinition{
					leaf("clean", recorder.succeed()),
					leaf("copy", recorder.succeed("public/index.html")),
					composite("build", "clean", "copy"),
				}
			},
			requested:        []string{"build"},
			expectedStatus:   workflow.RunSuccess,
			expectedExecuted: []string{"clean", "copy"},
		},
		{
			name: "best_effort_failure_continues",
			definitions: func(recorder *executionRecorder) []workflow.TaskDefinition {
				optional := leaf("imagemin", recorder.fail("binary missing"))
				optional.BestEffort = true
				return []workflow.TaskDefinition{
					leaf("clean", recorder.succeed()),
					optional,
					leaf("cssmin", recorder.succeed()),
				}
			},
			requested:          []string{"clean", "imagemin", "cssmin"},
			expectedStatus:     workflow.RunPartialSuccess,
			expectedExecuted:   []string{"clean", "imagemin", "cssmin"},
			expectedBestEffort: []string{"imagemin"},
		},
		{
			name: "best_effort_inherited_from_composite",
			definitions: func(recorder *executionRecorder) []workflow.TaskDefinition {
				group := composite("optimize", "imagemin")
				group.BestEffort = true
				return []workflow.TaskDefinition{
					leaf("imagemin", recorder.fail("binary missing")),
					leaf("cssmin", recorder.succeed()),
					group,
				}
			},
			requested:          []string{"optimize", "cssmin"},
			expectedStatus:     workflow.RunPartialSuccess,
			expectedExecuted:   []string{"imagemin", "cssmin"},
			expectedBestEffort: []string{"imagemin"},
		},
		{
			name: "unknown_task_runs_nothing",
			definitions: func(recorder *executionRecorder) []workflow.TaskDefinition {
				return []workflow.TaskDefinition{leaf("clean", recorder.succeed())}
			},
			requested:        []string{"clean", "deploy"},
			expectedStatus:   workflow.RunFailure,
			expectedExecuted: []string{},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(schedulerSubtestNameTemplate, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			recorder := &executionRecorder{}
			registry := newFrozenRegistry(testInstance, testCase.definitions(recorder)...)
			scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{Clock: newSteppingClock().Now})

			result := scheduler.Run(context.Background(), testCase.requested, nil)

			require.Equal(testInstance, testCase.expectedStatus, result.Status)
			require.Equal(testInstance, testCase.expectedExecuted, result.Executed())
			failedNames := make([]string, 0, len(result.BestEffortFailures))
			for _, failure := range result.BestEffortFailures {
				failedNames = append(failedNames, failure.Name)
			}
			if len(testCase.expectedBestEffort) == 0 {
				require.Empty(testInstance, failedNames)
			} else {
				require.Equal(testInstance, testCase.expectedBestEffort, failedNames)
			}
		})
	}
}

func TestSchedulerUnknownTaskReportsError(testInstance *testing.T) {
	registry := newFrozenRegistry(testInstance)
	scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{})

	result := scheduler.Run(context.Background(), []string{"deploy"}, nil)

	require.Equal(testInstance, workflow.RunFailure, result.Status)
	require.Empty(testInstance, result.FailedTask)
	require.ErrorAs(testInstance, result.Err, &workflow.UnknownTaskError{})
}

func TestSchedulerCancellationStopsBeforeNextTask(testInstance *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executed := make([]string, 0)
	cancelling := workflow.ExecutorFunc(func(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
		executed = append(executed, request.Task)
		cancel()
		return workflow.OutputDescriptor{}, nil
	})
	registry := newFrozenRegistry(testInstance, leaf("clean", cancelling), leaf("copy", cancelling), leaf("sass", cancelling))
	scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{})

	result := scheduler.Run(ctx, []string{"clean", "copy", "sass"}, nil)

	require.Equal(testInstance, workflow.RunCancelled, result.Status)
	require.ErrorIs(testInstance, result.Err, context.Canceled)
	require.Equal(testInstance, []string{"clean"}, executed)
	require.Equal(testInstance, []string{"copy", "sass"}, result.Skipped)
}

func TestSchedulerRecoversExecutorPanics(testInstance *testing.T) {
	panicking := workflow.ExecutorFunc(func(context.Context, workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
		panic("template exploded")
	})
	registry := newFrozenRegistry(testInstance, leaf("render", panicking))
	scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{})

	result := scheduler.Run(context.Background(), []string{"render"}, nil)

	require.Equal(testInstance, workflow.RunFailure, result.Status)
	require.Equal(testInstance, "render", result.FailedTask)
	require.ErrorContains(testInstance, result.Err, "template exploded")
}

func TestSchedulerPassesConfigurationAndRunner(testInstance *testing.T) {
	configuration, configurationError := configtree.FromValue(map[string]any{"paths": map[string]any{"dist": "public"}})
	require.NoError(testInstance, configurationError)
	recorder := &executionRecorder{}

	var nested workflow.RunResult
	var observedDestination string
	outer := workflow.ExecutorFunc(func(ctx context.Context, request workflow.ExecutionRequest) (workflow.OutputDescriptor, error) {
		destination, found := request.Configuration.Lookup("paths.dist")
		if found {
			observedDestination = destination.Text()
		}
		nested = request.Runner.Run(ctx, []string{"copy"})
		return workflow.OutputDescriptor{}, nil
	})
	registry := newFrozenRegistry(testInstance, leaf("watch", outer), leaf("copy", recorder.succeed()))
	scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{})

	result := scheduler.Run(context.Background(), []string{"watch"}, configuration)

	require.Equal(testInstance, workflow.RunSuccess, result.Status)
	require.Equal(testInstance, "public", observedDestination)
	require.Equal(testInstance, workflow.RunSuccess, nested.Status)
	require.Equal(testInstance, []string{"copy"}, recorder.names())
}

func TestSchedulerRecordsDurationsAndNotifiesReporter(testInstance *testing.T) {
	recorder := &executionRecorder{}
	reporter := &recordingReporter{}
	registry := newFrozenRegistry(testInstance, leaf("clean", recorder.succeed()), leaf("copy", recorder.fail("disk full")))
	scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{Reporter: reporter, Clock: newSteppingClock().Now})

	result := scheduler.Run(context.Background(), []string{"clean", "copy"}, nil)

	require.Equal(testInstance, []string{
		"run_started:[clean copy]",
		"task_started:clean",
		"task_finished:clean:succeeded",
		"task_started:copy",
		"task_finished:copy:failed",
		"run_finished:failure",
	}, reporter.events)
	require.Len(testInstance, result.Outcomes, 2)
	require.Equal(testInstance, fakeClockStep, result.Outcomes[0].Duration)
	require.Equal(testInstance, 5*fakeClockStep, result.Duration)
}

func TestSchedulerLogsTaskOutcomes(testInstance *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	recorder := &executionRecorder{}
	optional := leaf("imagemin", recorder.fail("binary missing"))
	optional.BestEffort = true
	registry := newFrozenRegistry(testInstance, leaf("copy", recorder.succeed("public/app.css")), optional)
	scheduler := workflow.NewScheduler(registry, workflow.SchedulerDependencies{Logger: zap.New(core)})

	scheduler.Run(context.Background(), []string{"copy", "imagemin"}, nil)

	completed := logs.FilterMessage("task completed").All()
	require.Len(testInstance, completed, 1)
	require.Equal(testInstance, "copy", completed[0].ContextMap()["task"])

	warnings := logs.FilterMessage("best-effort task failed").All()
	require.Len(testInstance, warnings, 1)
	require.Equal(testInstance, zapcore.WarnLevel, warnings[0].Level)
}
