package utils

import (
	"context"
	"strings"
)

const (
	configurationFilePathContextKeyConstant = commandContextKey("configurationFilePath")
	documentPathContextKeyConstant          = commandContextKey("documentPath")
	runSelectionContextKeyConstant          = commandContextKey("runSelection")
	logLevelContextKeyConstant              = commandContextKey("logLevel")
)

type commandContextKey string

// RunSelection names what a build invocation should execute: either a
// pipeline or an explicit list of tasks.
type RunSelection struct {
	Pipeline string
	Tasks    []string
}

// IsEmpty reports whether neither a pipeline nor tasks were selected.
func (selection RunSelection) IsEmpty() bool {
	return len(selection.Pipeline) == 0 && len(selection.Tasks) == 0
}

// CommandContextAccessor manages values stored in command execution contexts.
type CommandContextAccessor struct{}

// NewCommandContextAccessor constructs a CommandContextAccessor instance.
func NewCommandContextAccessor() CommandContextAccessor {
	return CommandContextAccessor{}
}

// WithConfigurationFilePath attaches the configuration file path to the provided context.
func (accessor CommandContextAccessor) WithConfigurationFilePath(parentContext context.Context, configurationFilePath string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, configurationFilePathContextKeyConstant, configurationFilePath)
}

// WithDocumentPath attaches the pipeline document path when one is known.
func (accessor CommandContextAccessor) WithDocumentPath(parentContext context.Context, documentPath string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	trimmedPath := strings.TrimSpace(documentPath)
	if len(trimmedPath) == 0 {
		return parentContext
	}
	return context.WithValue(parentContext, documentPathContextKeyConstant, trimmedPath)
}

// WithRunSelection attaches the normalized run selection when it names anything.
func (accessor CommandContextAccessor) WithRunSelection(parentContext context.Context, selection RunSelection) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	normalized := RunSelection{Pipeline: strings.TrimSpace(selection.Pipeline)}
	for _, taskName := range selection.Tasks {
		trimmedName := strings.TrimSpace(taskName)
		if len(trimmedName) > 0 {
			normalized.Tasks = append(normalized.Tasks, trimmedName)
		}
	}
	if normalized.IsEmpty() {
		return parentContext
	}
	return context.WithValue(parentContext, runSelectionContextKeyConstant, normalized)
}

// WithLogLevel attaches the effective log level to the provided context.
func (accessor CommandContextAccessor) WithLogLevel(parentContext context.Context, logLevel string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	trimmedLogLevel := strings.TrimSpace(logLevel)
	if len(trimmedLogLevel) == 0 {
		return parentContext
	}
	return context.WithValue(parentContext, logLevelContextKeyConstant, trimmedLogLevel)
}

// ConfigurationFilePath extracts the configuration file path from the provided context.
func (accessor CommandContextAccessor) ConfigurationFilePath(executionContext context.Context) (string, bool) {
	return contextString(executionContext, configurationFilePathContextKeyConstant)
}

// DocumentPath extracts the pipeline document path from the provided context.
func (accessor CommandContextAccessor) DocumentPath(executionContext context.Context) (string, bool) {
	return contextString(executionContext, documentPathContextKeyConstant)
}

// RunSelection extracts the run selection from the provided context.
func (accessor CommandContextAccessor) RunSelection(executionContext context.Context) (RunSelection, bool) {
	if executionContext == nil {
		return RunSelection{}, false
	}
	value, valueAvailable := executionContext.Value(runSelectionContextKeyConstant).(RunSelection)
	return value, valueAvailable
}

// LogLevel extracts the effective log level from the provided context.
func (accessor CommandContextAccessor) LogLevel(executionContext context.Context) (string, bool) {
	return contextString(executionContext, logLevelContextKeyConstant)
}

func contextString(executionContext context.Context, key commandContextKey) (string, bool) {
	if executionContext == nil {
		return "", false
	}
	value, valueAvailable := executionContext.Value(key).(string)
	return value, valueAvailable
}
