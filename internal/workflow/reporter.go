package workflow

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Reporter receives run and task lifecycle notifications from a Scheduler.
type Reporter interface {
	RunStarted(names []string)
	TaskStarted(name string)
	TaskFinished(outcome TaskOutcome)
	RunFinished(result RunResult)
}

// NopReporter discards every notification.
type NopReporter struct{}

func (NopReporter) RunStarted([]string) {}
func (NopReporter) TaskStarted(string) {}
func (NopReporter) TaskFinished(TaskOutcome) {}
func (NopReporter) RunFinished(RunResult) {}

const (
	successMarker    = "✓"
	warningMarker    = "⚠"
	failureMarker    = "✖"
	successColor     = "2"
	warningColor     = "3"
	failureColor     = "1"
	taskLineTemplate = "  %s %s (%s)"
)

// ConsoleReporter prints one summary line per task and a banner per run.
// Task failures and failure banners go to the error writer.
type ConsoleReporter struct {
	mutex        sync.Mutex
	outputWriter io.Writer
	errorWriter  io.Writer
	successStyle lipgloss.Style
	warningStyle lipgloss.Style
	failureStyle lipgloss.Style
	nameStyle    lipgloss.Style
}

// NewConsoleReporter constructs a ConsoleReporter. Colors are used only when
// the output writer is a terminal.
func NewConsoleReporter(output io.Writer, errorOutput io.Writer) *ConsoleReporter {
	if output == nil {
		output = os.Stdout
	}
	if errorOutput == nil {
		errorOutput = output
	}
	renderer := lipgloss.NewRenderer(output)
	return &ConsoleReporter{
		outputWriter: output,
		errorWriter:  errorOutput,
		successStyle: renderer.NewStyle().Foreground(lipgloss.Color(successColor)).Bold(true),
		warningStyle: renderer.NewStyle().Foreground(lipgloss.Color(warningColor)).Bold(true),
		failureStyle: renderer.NewStyle().Foreground(lipgloss.Color(failureColor)).Bold(true),
		nameStyle:    renderer.NewStyle().Bold(true),
	}
}

// RunStarted prints nothing; runs are announced by their task lines.
func (reporter *ConsoleReporter) RunStarted([]string) {}

// TaskStarted prints nothing; the summary line is written on completion.
func (reporter *ConsoleReporter) TaskStarted(string) {}

// TaskFinished prints the task name, duration and outcome.
func (reporter *ConsoleReporter) TaskFinished(outcome TaskOutcome) {
	if reporter == nil {
		return
	}
	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	duration := formatDuration(outcome.Duration)
	name := reporter.nameStyle.Render(outcome.Name)
	switch outcome.Status {
	case TaskSucceeded:
		fmt.Fprintf(reporter.outputWriter, taskLineTemplate+"\n", reporter.successStyle.Render(successMarker), name, duration)
	case TaskBestEffortFailed:
		fmt.Fprintf(reporter.outputWriter, taskLineTemplate+": %s\n", reporter.warningStyle.Render(warningMarker), name, duration, causeMessage(outcome.Err))
	default:
		fmt.Fprintf(reporter.errorWriter, taskLineTemplate+": %s\n", reporter.failureStyle.Render(failureMarker), name, duration, causeMessage(outcome.Err))
	}
}

// RunFinished prints the trailing banner.
func (reporter *ConsoleReporter) RunFinished(result RunResult) {
	if reporter == nil {
		return
	}
	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	statistics := fmt.Sprintf("(%d %s, %s)", len(result.Outcomes), pluralize(len(result.Outcomes), "task", "tasks"), formatDuration(result.Duration))
	switch result.Status {
	case RunSuccess:
		fmt.Fprintf(reporter.outputWriter, "%s %s\n", reporter.successStyle.Render("Done, without errors."), statistics)
	case RunPartialSuccess:
		failedNames := make([]string, 0, len(result.BestEffortFailures))
		for _, failure := range result.BestEffortFailures {
			failedNames = append(failedNames, failure.Name)
		}
		banner := fmt.Sprintf("Done, with %d best-effort %s: %s.", len(failedNames), pluralize(len(failedNames), "failure", "failures"), strings.Join(failedNames, ", "))
		fmt.Fprintf(reporter.outputWriter, "%s %s\n", reporter.warningStyle.Render(banner), statistics)
	case RunCancelled:
		fmt.Fprintf(reporter.errorWriter, "%s %s\n", reporter.failureStyle.Render("Cancelled."), statistics)
	default:
		banner := "Aborted."
		if len(result.FailedTask) > 0 {
			banner = fmt.Sprintf("Aborted: task %q failed.", result.FailedTask)
		} else if result.Err != nil {
			banner = fmt.Sprintf("Aborted: %v.", result.Err)
		}
		fmt.Fprintf(reporter.errorWriter, "%s %s\n", reporter.failureStyle.Render(banner), statistics)
	}
}

func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	var executionError TaskExecutionError
	if errors.As(err, &executionError) && executionError.Cause != nil {
		return executionError.Cause.Error()
	}
	return err.Error()
}

func formatDuration(value time.Duration) string {
	if value < 0 {
		value = 0
	}
	rounded := value.Round(time.Millisecond)
	if rounded == 0 && value > 0 {
		rounded = time.Millisecond
	}
	return rounded.String()
}

func pluralize(count int, singular string, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}
