package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/kiln/internal/configtree"
)

// SchedulerDependencies carries the optional collaborators of a Scheduler.
type SchedulerDependencies struct {
	Logger   *zap.Logger
	Reporter Reporter
	Clock    func() time.Time
}

// Scheduler executes tasks strictly one after another in expanded order.
// It performs no retries and never runs two tasks of a run concurrently.
type Scheduler struct {
	registry *Registry
	logger   *zap.Logger
	reporter Reporter
	clock    func() time.Time
}

// NewScheduler builds a scheduler over registry.
func NewScheduler(registry *Registry, dependencies SchedulerDependencies) *Scheduler {
	scheduler := &Scheduler{
		registry: registry,
		logger:   dependencies.Logger,
		reporter: dependencies.Reporter,
		clock:    dependencies.Clock,
	}
	if scheduler.logger == nil {
		scheduler.logger = zap.NewNop()
	}
	if scheduler.reporter == nil {
		scheduler.reporter = NopReporter{}
	}
	if scheduler.clock == nil {
		scheduler.clock = time.Now
	}
	return scheduler
}

// Bind returns a Runner that runs tasks against configuration.
func (scheduler *Scheduler) Bind(configuration *configtree.Node) Runner {
	return boundRunner{scheduler: scheduler, configuration: configuration}
}

type boundRunner struct {
	scheduler     *Scheduler
	configuration *configtree.Node
}

func (runner boundRunner) Run(ctx context.Context, names []string) RunResult {
	return runner.scheduler.Run(ctx, names, runner.configuration)
}

// Run expands names and executes each leaf task in order.
//
// A failing task aborts the remaining tasks unless it is best-effort, in
// which case the failure is recorded and the run continues. ctx is checked
// before every task; once it is done the run stops with RunCancelled and
// the outputs of completed tasks are left in place.
func (scheduler *Scheduler) Run(ctx context.Context, names []string, configuration *configtree.Node) RunResult {
	result := RunResult{
		Requested: append([]string(nil), names...),
		StartTime: scheduler.clock(),
	}
	scheduler.reporter.RunStarted(result.Requested)
	scheduler.logger.Debug("run started", zap.Strings("tasks", result.Requested))

	planned, planError := scheduler.registry.Plan(names)
	if planError != nil {
		result.Status = RunFailure
		result.Err = planError
		return scheduler.finish(result)
	}

	request := ExecutionRequest{Configuration: configuration, Runner: scheduler.Bind(configuration)}
	for index, task := range planned {
		if contextError := ctx.Err(); contextError != nil {
			result.Status = RunCancelled
			result.Err = contextError
			result.Skipped = plannedNames(planned[index:])
			break
		}

		outcome := scheduler.execute(ctx, task, request)
		result.Outcomes = append(result.Outcomes, outcome)
		scheduler.reporter.TaskFinished(outcome)

		if outcome.Err == nil {
			continue
		}
		if task.BestEffort {
			result.BestEffortFailures = append(result.BestEffortFailures, TaskFailure{Name: task.Name, Err: outcome.Err})
			continue
		}

		result.Status = RunFailure
		result.FailedTask = task.Name
		result.Err = outcome.Err
		result.Skipped = plannedNames(planned[index+1:])
		break
	}

	if len(result.Status) == 0 {
		result.Status = RunSuccess
		if len(result.BestEffortFailures) > 0 {
			result.Status = RunPartialSuccess
		}
	}
	return scheduler.finish(result)
}

func (scheduler *Scheduler) execute(ctx context.Context, task PlannedTask, request ExecutionRequest) (outcome TaskOutcome) {
	outcome = TaskOutcome{Name: task.Name, BestEffort: task.BestEffort}
	startTime := scheduler.clock()
	scheduler.reporter.TaskStarted(task.Name)
	scheduler.logger.Debug("task started", zap.String("task", task.Name))

	defer func() {
		if recovered := recover(); recovered != nil {
			outcome.Err = TaskExecutionError{Task: task.Name, Cause: fmt.Errorf("panic: %v", recovered)}
		}
		outcome.Duration = scheduler.clock().Sub(startTime)
		switch {
		case outcome.Err == nil:
			outcome.Status = TaskSucceeded
		case task.BestEffort:
			outcome.Status = TaskBestEffortFailed
		default:
			outcome.Status = TaskFailed
		}
		scheduler.logTaskOutcome(outcome)
	}()

	request.Task = task.Name
	output, executionError := task.Definition.Executor.Execute(ctx, request)
	outcome.Outputs = append([]string(nil), output.Paths...)
	if executionError != nil {
		outcome.Err = TaskExecutionError{Task: task.Name, Cause: executionError}
	}
	return outcome
}

func (scheduler *Scheduler) logTaskOutcome(outcome TaskOutcome) {
	fields := []zap.Field{
		zap.String("task", outcome.Name),
		zap.String("status", string(outcome.Status)),
		zap.Duration("duration", outcome.Duration),
	}
	switch outcome.Status {
	case TaskSucceeded:
		scheduler.logger.Info("task completed", append(fields, zap.Strings("outputs", outcome.Outputs))...)
	case TaskBestEffortFailed:
		scheduler.logger.Warn("best-effort task failed", append(fields, zap.Error(outcome.Err))...)
	default:
		scheduler.logger.Error("task failed", append(fields, zap.Error(outcome.Err))...)
	}
}

func (scheduler *Scheduler) finish(result RunResult) RunResult {
	result.Duration = scheduler.clock().Sub(result.StartTime)
	scheduler.logger.Debug("run finished",
		zap.String("status", string(result.Status)),
		zap.Strings("executed", result.Executed()),
		zap.Duration("duration", result.Duration),
	)
	scheduler.reporter.RunFinished(result)
	return result
}

func plannedNames(planned []PlannedTask) []string {
	names := make([]string, 0, len(planned))
	for _, task := range planned {
		names = append(names, task.Name)
	}
	return names
}
