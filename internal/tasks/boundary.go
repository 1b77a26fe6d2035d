package tasks

import (
	"fmt"

	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/glob"
)

// Boundary keeps task writes out of the source tree.
type Boundary struct {
	SourceRoot      string
	DestinationRoot string
}

// BoundaryError reports a write that would land under the source root.
type BoundaryError struct {
	Task       string
	Path       string
	SourceRoot string
}

func (boundaryError BoundaryError) Error() string {
	return fmt.Sprintf("task %q may not write %s: it is inside the source root %s", boundaryError.Task, boundaryError.Path, boundaryError.SourceRoot)
}

// Unwrap exposes the boundary sentinel.
func (boundaryError BoundaryError) Unwrap() error {
	return kilnerrors.ErrBoundaryViolation
}

// CheckWrite fails when target is the source root or lies beneath it.
// Relative paths on either side resolve against the working directory.
func (boundary Boundary) CheckWrite(task string, target string) error {
	if len(boundary.SourceRoot) == 0 {
		return nil
	}
	if glob.ContainsPath(cleanSlashPath(boundary.SourceRoot), cleanSlashPath(target)) {
		return BoundaryError{Task: task, Path: target, SourceRoot: boundary.SourceRoot}
	}
	return nil
}

// CheckRemove is CheckWrite that also refuses ancestors of the source root.
func (boundary Boundary) CheckRemove(task string, target string) error {
	if checkError := boundary.CheckWrite(task, target); checkError != nil {
		return checkError
	}
	if len(boundary.SourceRoot) == 0 {
		return nil
	}
	if glob.ContainsPath(cleanSlashPath(target), cleanSlashPath(boundary.SourceRoot)) {
		return BoundaryError{Task: task, Path: target, SourceRoot: boundary.SourceRoot}
	}
	return nil
}

func cleanSlashPath(candidate string) string {
	return glob.AbsolutePath(candidate)
}
