package workflow

import "time"

// RunStatus classifies the result of one scheduler run.
type RunStatus string

// Run statuses.
const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailure        RunStatus = "failure"
	RunCancelled      RunStatus = "cancelled"
)

// TaskStatus classifies the result of one task.
type TaskStatus string

// Task statuses.
const (
	TaskSucceeded        TaskStatus = "succeeded"
	TaskFailed           TaskStatus = "failed"
	TaskBestEffortFailed TaskStatus = "best_effort_failed"
)

// TaskOutcome reports the execution of a single leaf task.
type TaskOutcome struct {
	Name       string
	Status     TaskStatus
	BestEffort bool
	Duration   time.Duration
	Outputs    []string
	Err        error
}

// TaskFailure records a best-effort task that failed without aborting the run.
type TaskFailure struct {
	Name string
	Err  error
}

// RunResult captures the outcome of Scheduler.Run.
//
// FailedTask and Err are set for RunFailure; Err alone is set for RunCancelled
// and for failures that happen before any task starts (an unknown name).
// BestEffortFailures is populated for RunPartialSuccess and may also be
// non-empty when a later task fails or the run is cancelled.
type RunResult struct {
	Requested          []string
	Status             RunStatus
	FailedTask         string
	Err                error
	BestEffortFailures []TaskFailure
	Outcomes           []TaskOutcome
	Skipped            []string
	StartTime          time.Time
	Duration           time.Duration
}

// Succeeded reports whether the run counts as successful (Success or PartialSuccess).
func (result RunResult) Succeeded() bool {
	return result.Status == RunSuccess || result.Status == RunPartialSuccess
}

// Executed returns the names of the tasks that ran, in order.
func (result RunResult) Executed() []string {
	names := make([]string, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		names = append(names, outcome.Name)
	}
	return names
}
