// Package flags binds the kiln run flags and turns them into a run selection.
package flags

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tyemirov/kiln/internal/utils"
)

const (
	// TaskFlagName selects individual tasks instead of a pipeline.
	TaskFlagName = "task"
	// TaskFlagShorthand abbreviates TaskFlagName.
	TaskFlagShorthand = "t"
	// TaskFlagUsage describes TaskFlagName.
	TaskFlagUsage = "Run the named task instead of a pipeline (repeatable)"
	// FileFlagName points at the pipeline document.
	FileFlagName = "file"
	// FileFlagShorthand abbreviates FileFlagName.
	FileFlagShorthand = "f"
	// FileFlagUsage describes FileFlagName.
	FileFlagUsage = "Pipeline document (default: kiln.yaml, .yml, .json, .toml or .hcl in the working directory)"
	// EnvironmentFlagName seeds build environment values.
	EnvironmentFlagName = "env"
	// EnvironmentFlagShorthand abbreviates EnvironmentFlagName.
	EnvironmentFlagShorthand = "e"
	// EnvironmentFlagUsage describes EnvironmentFlagName.
	EnvironmentFlagUsage = "Set a build environment value as KEY=VALUE; env tasks cannot override it (repeatable)"
)

// RunFlagValues stores the flags shared by commands that load a pipeline document.
type RunFlagValues struct {
	Tasks        []string
	DocumentPath string
	Environment  []string
}

// BindRunFlags attaches the document and environment flags as persistent
// flags and the task selector as a local flag of command.
func BindRunFlags(command *cobra.Command) *RunFlagValues {
	values := &RunFlagValues{}
	if command == nil {
		return values
	}

	persistentFlagSet := command.PersistentFlags()
	if persistentFlagSet.Lookup(FileFlagName) == nil {
		persistentFlagSet.StringVarP(&values.DocumentPath, FileFlagName, FileFlagShorthand, "", FileFlagUsage)
	}
	if persistentFlagSet.Lookup(EnvironmentFlagName) == nil {
		persistentFlagSet.StringArrayVarP(&values.Environment, EnvironmentFlagName, EnvironmentFlagShorthand, nil, EnvironmentFlagUsage)
	}
	if command.Flags().Lookup(TaskFlagName) == nil {
		command.Flags().StringArrayVarP(&values.Tasks, TaskFlagName, TaskFlagShorthand, nil, TaskFlagUsage)
	}
	return values
}

// CollectRunSelection resolves what to execute: explicit --task values win,
// otherwise the first positional argument names a pipeline and defaultPipeline
// fills in when neither is given.
func CollectRunSelection(command *cobra.Command, arguments []string, defaultPipeline string) utils.RunSelection {
	selection := utils.RunSelection{}
	for _, taskName := range taskFlagValues(command) {
		if trimmed := strings.TrimSpace(taskName); len(trimmed) > 0 {
			selection.Tasks = append(selection.Tasks, trimmed)
		}
	}
	if len(selection.Tasks) > 0 {
		return selection
	}
	if len(arguments) > 0 {
		selection.Pipeline = strings.TrimSpace(arguments[0])
	}
	if len(selection.Pipeline) == 0 {
		selection.Pipeline = defaultPipeline
	}
	return selection
}

// taskFlagValues reads --task from command without comma splitting. Commands
// that never bound the flag select nothing.
func taskFlagValues(command *cobra.Command) []string {
	if command == nil {
		return nil
	}
	taskFlag := command.Flags().Lookup(TaskFlagName)
	if taskFlag == nil || !taskFlag.Changed {
		return nil
	}
	if sliceValue, isSlice := taskFlag.Value.(pflag.SliceValue); isSlice {
		return sliceValue.GetSlice()
	}
	return []string{taskFlag.Value.String()}
}
