// Package taskrunner assembles the collaborators a kiln build needs (shell
// executor, environment store, reporter, filesystem, watch source) and wraps
// a pipeline.Runner in an Executor that prints a one-line run summary. CLI
// commands resolve dependencies once through BuildDependencies and Resolve,
// while tests swap in fakes through Factory.
package taskrunner
