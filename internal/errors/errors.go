package errors

import (
	stdErrors "errors"
	"fmt"
)

// Operation identifies the logical operation producing a contextual error.
type Operation string

const (
	// OperationClean denotes the clean task.
	OperationClean Operation = "tasks.clean"
	// OperationCopy denotes the copy task.
	OperationCopy Operation = "tasks.copy"
	// OperationConcat denotes the concat task.
	OperationConcat Operation = "tasks.concat"
	// OperationDeleteSync denotes the delete-sync task.
	OperationDeleteSync Operation = "tasks.delete_sync"
	// OperationExec denotes external tool invocations.
	OperationExec Operation = "tasks.exec"
	// OperationEnvironment denotes the env task.
	OperationEnvironment Operation = "tasks.env"
	// OperationPreview denotes the preview server task.
	OperationPreview Operation = "tasks.preview"
	// OperationWatch denotes the watch task.
	OperationWatch Operation = "tasks.watch"
	// OperationDocumentLoad denotes reading and decoding the pipeline document.
	OperationDocumentLoad Operation = "pipeline.load"
)

// Sentinel describes a stable error code shared across task kinds.
type Sentinel string

// Error returns the sentinel code string.
func (sentinel Sentinel) Error() string {
	return string(sentinel)
}

// Code exposes the sentinel code string.
func (sentinel Sentinel) Code() string {
	return string(sentinel)
}

// OperationError annotates an error with the operation and subject (usually
// a task name or path) it concerns.
type OperationError struct {
	operation Operation
	subject   string
	err       error
	message   string
}

// Error implements the error interface.
func (operationError OperationError) Error() string {
	detail := operationError.message
	if len(detail) == 0 && operationError.err != nil {
		detail = operationError.err.Error()
	}
	if len(operationError.subject) == 0 {
		return fmt.Sprintf("%s: %s", operationError.operation, detail)
	}
	return fmt.Sprintf("%s[%s]: %s", operationError.operation, operationError.subject, detail)
}

// Unwrap exposes the underlying error chain.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the originating operation identifier.
func (operationError OperationError) Operation() Operation {
	return operationError.operation
}

// Subject returns the subject related to the error.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code surfaces the sentinel code of the wrapped error when present.
func (operationError OperationError) Code() string {
	var sentinel Sentinel
	if stdErrors.As(operationError.err, &sentinel) {
		return sentinel.Code()
	}
	return ""
}

// Wrap constructs an OperationError combining the provided metadata with the base sentinel.
func Wrap(operation Operation, subject string, sentinel Sentinel, detail error) error {
	if len(sentinel) == 0 {
		return OperationError{operation: operation, subject: subject, err: detail}
	}
	baseError := error(sentinel)
	if detail != nil {
		baseError = fmt.Errorf("%w: %w", sentinel, detail)
	}
	return OperationError{operation: operation, subject: subject, err: baseError}
}

// WrapMessage constructs an OperationError combining the provided metadata with a formatted message.
func WrapMessage(operation Operation, subject string, sentinel Sentinel, message string) error {
	if len(message) == 0 {
		return Wrap(operation, subject, sentinel, nil)
	}
	return OperationError{operation: operation, subject: subject, err: fmt.Errorf("%w: %s", sentinel, message)}
}

var (
	// ErrOptionsInvalid indicates task options failed to decode or validate.
	ErrOptionsInvalid Sentinel = "options_invalid"
	// ErrFilesystemUnavailable indicates a missing filesystem dependency.
	ErrFilesystemUnavailable Sentinel = "filesystem_unavailable"
	// ErrSourceMissing indicates a required source file or directory was absent.
	ErrSourceMissing Sentinel = "source_missing"
	// ErrBoundaryViolation indicates a write that would land under the source root.
	ErrBoundaryViolation Sentinel = "boundary_violation"
	// ErrReadFailed indicates a source file could not be read.
	ErrReadFailed Sentinel = "read_failed"
	// ErrWriteFailed indicates a destination file could not be written.
	ErrWriteFailed Sentinel = "write_failed"
	// ErrRemoveFailed indicates a path could not be removed.
	ErrRemoveFailed Sentinel = "remove_failed"
	// ErrPatternInvalid indicates a malformed glob pattern.
	ErrPatternInvalid Sentinel = "pattern_invalid"
	// ErrCommandFailed indicates an external tool failed or exited non-zero.
	ErrCommandFailed Sentinel = "command_failed"
	// ErrServerFailed indicates the preview server could not start.
	ErrServerFailed Sentinel = "server_failed"
	// ErrBrowserFailed indicates the preview browser could not be driven.
	ErrBrowserFailed Sentinel = "browser_failed"
	// ErrWatchFailed indicates the watch loop terminated with an error.
	ErrWatchFailed Sentinel = "watch_failed"
	// ErrDocumentInvalid indicates the pipeline document failed validation.
	ErrDocumentInvalid Sentinel = "document_invalid"
)
