package configtree

import (
	"errors"
	"fmt"
	"strings"
)

const (
	rootPathDisplayConstant  = "<root>"
	cycleSeparatorConstant   = " -> "
	resolutionErrorTemplate  = "configtree.resolve: %s: %v"
	unresolvedErrorTemplate  = "reference %q is not defined"
	nonScalarErrorTemplate   = "reference %q is a %s and cannot be embedded in text"
	cyclicErrorTemplate      = "cyclic reference: %s"
	parseErrorTemplate       = "configtree.parse: %s: %v"
	unsupportedFormatMessage = "unsupported document format %q"
)

// ErrNilRoot indicates Resolve was called without a tree.
var ErrNilRoot = errors.New("configtree: nil root")

// ResolutionError reports a string at Path whose references could not be
// resolved. Cause is an UnresolvedReferenceError, CyclicReferenceError or
// NonScalarReferenceError.
type ResolutionError struct {
	Path  string
	Cause error
}

// Error describes the failing path and cause.
func (resolutionError ResolutionError) Error() string {
	return fmt.Sprintf(resolutionErrorTemplate, displayPath(resolutionError.Path), resolutionError.Cause)
}

// Unwrap exposes the cause.
func (resolutionError ResolutionError) Unwrap() error {
	return resolutionError.Cause
}

// UnresolvedReferenceError reports a reference to an undefined path.
type UnresolvedReferenceError struct {
	Reference string
}

func (unresolvedError UnresolvedReferenceError) Error() string {
	return fmt.Sprintf(unresolvedErrorTemplate, unresolvedError.Reference)
}

// CyclicReferenceError reports a chain of references that leads back to
// its start.
type CyclicReferenceError struct {
	Chain []string
}

func (cyclicError CyclicReferenceError) Error() string {
	displayed := make([]string, 0, len(cyclicError.Chain))
	for _, element := range cyclicError.Chain {
		displayed = append(displayed, displayPath(element))
	}
	return fmt.Sprintf(cyclicErrorTemplate, strings.Join(displayed, cycleSeparatorConstant))
}

// NonScalarReferenceError reports a sequence or mapping referenced from
// inside surrounding text.
type NonScalarReferenceError struct {
	Reference string
	Kind      Kind
}

func (nonScalarError NonScalarReferenceError) Error() string {
	return fmt.Sprintf(nonScalarErrorTemplate, nonScalarError.Reference, nonScalarError.Kind)
}

// ParseError reports a document that could not be decoded.
type ParseError struct {
	Source string
	Cause  error
}

func (parseError ParseError) Error() string {
	return fmt.Sprintf(parseErrorTemplate, parseError.Source, parseError.Cause)
}

// Unwrap exposes the decoder error.
func (parseError ParseError) Unwrap() error {
	return parseError.Cause
}

func displayPath(path string) string {
	if len(path) == 0 {
		return rootPathDisplayConstant
	}
	return path
}
