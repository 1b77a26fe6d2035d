// Package glob matches forward-slash paths against declarative patterns.
//
// Patterns support literal segments, `*` within a segment, `**` across any
// number of segments (zero included), brace alternatives such as `{a,b}`,
// and a leading `!` that turns the pattern into an exclusion when it is part
// of a PatternSet.
package glob

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	negationPrefixConstant                = "!"
	currentDirectoryPrefixConstant        = "./"
	pathSeparatorConstant                 = "/"
	duplicateSeparatorConstant            = "//"
	currentDirectoryConstant              = "."
	invalidPatternMessageTemplateConstant = "invalid glob pattern %q"
	emptyPatternMessageConstant           = "empty glob pattern"
)

// InvalidPatternError reports a pattern that cannot be compiled.
type InvalidPatternError struct {
	Pattern string
}

// Error describes the rejected pattern.
func (patternError InvalidPatternError) Error() string {
	if len(patternError.Pattern) == 0 {
		return emptyPatternMessageConstant
	}
	return fmt.Sprintf(invalidPatternMessageTemplateConstant, patternError.Pattern)
}

// NormalizePath returns the forward-slash canonical form of a path.
// Backslashes are treated as separators on every platform.
func NormalizePath(candidate string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(candidate), "\\", pathSeparatorConstant)
	normalized = trimCurrentDirectoryPrefix(normalized)
	for strings.Contains(normalized, duplicateSeparatorConstant) {
		normalized = strings.ReplaceAll(normalized, duplicateSeparatorConstant, pathSeparatorConstant)
	}
	if len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, pathSeparatorConstant)
	}
	if len(normalized) == 0 {
		return currentDirectoryConstant
	}
	return normalized
}

func normalizePattern(pattern string) string {
	normalized := filepath.ToSlash(strings.TrimSpace(pattern))
	normalized = trimCurrentDirectoryPrefix(normalized)
	for strings.Contains(normalized, duplicateSeparatorConstant) {
		normalized = strings.ReplaceAll(normalized, duplicateSeparatorConstant, pathSeparatorConstant)
	}
	return normalized
}

func trimCurrentDirectoryPrefix(value string) string {
	for strings.HasPrefix(value, currentDirectoryPrefixConstant) {
		value = strings.TrimPrefix(value, currentDirectoryPrefixConstant)
	}
	return value
}

// Match reports whether path matches pattern. The pattern is evaluated as a
// single-element PatternSet, so a negated pattern on its own matches nothing.
// Malformed patterns never match.
func Match(pattern string, path string) bool {
	patternSet, buildError := NewPatternSet(pattern)
	if buildError != nil {
		return false
	}
	return patternSet.Matches(path)
}

// PatternSet is an ordered collection of positive and negated patterns.
// A path matches the set iff it matches at least one positive pattern and no
// negated pattern.
type PatternSet struct {
	patterns  []string
	positives []string
	negatives []string
}

// NewPatternSet validates and normalizes the provided patterns.
func NewPatternSet(patterns ...string) (PatternSet, error) {
	patternSet := PatternSet{}
	for _, rawPattern := range patterns {
		trimmedPattern := strings.TrimSpace(rawPattern)
		negated := strings.HasPrefix(trimmedPattern, negationPrefixConstant)
		body := normalizePattern(strings.TrimPrefix(trimmedPattern, negationPrefixConstant))
		if len(body) == 0 || !doublestar.ValidatePattern(body) {
			return PatternSet{}, InvalidPatternError{Pattern: rawPattern}
		}

		if negated {
			patternSet.negatives = append(patternSet.negatives, body)
			patternSet.patterns = append(patternSet.patterns, negationPrefixConstant+body)
			continue
		}
		patternSet.positives = append(patternSet.positives, body)
		patternSet.patterns = append(patternSet.patterns, body)
	}
	return patternSet, nil
}

// Patterns returns the normalized patterns in declaration order.
func (patternSet PatternSet) Patterns() []string {
	return append([]string(nil), patternSet.patterns...)
}

// IsEmpty reports whether the set can never match anything.
func (patternSet PatternSet) IsEmpty() bool {
	return len(patternSet.positives) == 0
}

// Matches evaluates path against the set. Bodies were validated by
// NewPatternSet, so match errors cannot occur.
func (patternSet PatternSet) Matches(path string) bool {
	normalizedPath := NormalizePath(path)

	matchedPositive := false
	for _, positive := range patternSet.positives {
		if matched, _ := doublestar.Match(positive, normalizedPath); matched {
			matchedPositive = true
			break
		}
	}
	if !matchedPositive {
		return false
	}

	for _, negative := range patternSet.negatives {
		if matched, _ := doublestar.Match(negative, normalizedPath); matched {
			return false
		}
	}
	return true
}

// Filter returns the subset of paths matching the set, preserving order.
func (patternSet PatternSet) Filter(paths []string) []string {
	matched := make([]string, 0, len(paths))
	for _, candidate := range paths {
		if patternSet.Matches(candidate) {
			matched = append(matched, NormalizePath(candidate))
		}
	}
	return matched
}

// Roots returns the static directory prefixes of the positive patterns,
// sorted, with nested prefixes folded into their ancestors.
func (patternSet PatternSet) Roots() []string {
	candidates := make([]string, 0, len(patternSet.positives))
	for _, positive := range patternSet.positives {
		base, _ := doublestar.SplitPattern(positive)
		candidates = append(candidates, NormalizePath(base))
	}
	return CollapseRoots(candidates)
}

// CollapseRoots deduplicates directory prefixes and drops those nested under
// another prefix in the list.
func CollapseRoots(roots []string) []string {
	unique := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		normalized := NormalizePath(root)
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		unique = append(unique, normalized)
	}
	sort.Strings(unique)

	collapsed := make([]string, 0, len(unique))
	for _, candidate := range unique {
		nested := false
		for _, kept := range collapsed {
			if containsPath(kept, candidate) {
				nested = true
				break
			}
		}
		if !nested {
			collapsed = append(collapsed, candidate)
		}
	}
	return collapsed
}

// AbsolutePath resolves candidate against the working directory and returns
// its cleaned forward-slash form. When the working directory is unavailable
// the cleaned relative form is returned.
func AbsolutePath(candidate string) string {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSpace(candidate)))
	if absolute, absoluteError := filepath.Abs(cleaned); absoluteError == nil {
		cleaned = absolute
	}
	return filepath.ToSlash(cleaned)
}

// ContainsPath reports whether candidate equals root or lies beneath it.
func ContainsPath(root string, candidate string) bool {
	return containsPath(NormalizePath(root), NormalizePath(candidate))
}

func containsPath(root string, candidate string) bool {
	if root == currentDirectoryConstant {
		return !strings.HasPrefix(candidate, "../") && candidate != ".." && !strings.HasPrefix(candidate, pathSeparatorConstant)
	}
	if root == candidate {
		return true
	}
	return strings.HasPrefix(candidate, strings.TrimSuffix(root, pathSeparatorConstant)+pathSeparatorConstant)
}
