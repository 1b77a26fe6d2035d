package taskrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/kiln/internal/workflow"
)

// RenderSummaryLine returns a single key=value line describing result. Runs
// that executed nothing and failed before starting still report their status.
func RenderSummaryLine(result workflow.RunResult) string {
	counts := map[workflow.TaskStatus]int{}
	for _, outcome := range result.Outcomes {
		counts[outcome.Status]++
	}

	parts := []string{
		fmt.Sprintf("Summary: status=%s", result.Status),
		fmt.Sprintf("tasks=%d", len(result.Outcomes)),
		fmt.Sprintf("%s=%d", workflow.TaskSucceeded, counts[workflow.TaskSucceeded]),
		fmt.Sprintf("%s=%d", workflow.TaskBestEffortFailed, counts[workflow.TaskBestEffortFailed]),
		fmt.Sprintf("%s=%d", workflow.TaskFailed, counts[workflow.TaskFailed]),
	}
	if len(result.FailedTask) > 0 {
		parts = append(parts, fmt.Sprintf("failed_task=%s", result.FailedTask))
	}
	if len(result.Skipped) > 0 {
		parts = append(parts, fmt.Sprintf("skipped=%d", len(result.Skipped)))
	}

	duration := result.Duration.Round(time.Millisecond)
	parts = append(parts, fmt.Sprintf("duration_human=%s", duration))
	parts = append(parts, fmt.Sprintf("duration_ms=%d", result.Duration.Milliseconds()))

	return strings.Join(parts, " ")
}
