package watch

import (
	"fmt"
	"strings"

	"github.com/tyemirov/kiln/internal/glob"
	"github.com/tyemirov/kiln/internal/workflow"
)

// Rule binds input patterns to the task list re-run when a matching path changes.
type Rule struct {
	Name     string
	Patterns glob.PatternSet
	Tasks    []string
}

// NewRule validates the patterns and copies the task list.
func NewRule(name string, patterns []string, tasks []string) (Rule, error) {
	patternSet, patternError := glob.NewPatternSet(patterns...)
	if patternError != nil {
		return Rule{}, fmt.Errorf("watch.rule %s: %w", name, patternError)
	}
	if len(tasks) == 0 {
		return Rule{}, fmt.Errorf("watch.rule %s: no tasks to run", name)
	}
	return Rule{Name: name, Patterns: patternSet, Tasks: append([]string(nil), tasks...)}, nil
}

// RulesFromDefinitions derives one rule per leaf task with declared inputs;
// the rule re-runs just that task.
func RulesFromDefinitions(definitions []workflow.TaskDefinition) ([]Rule, error) {
	rules := make([]Rule, 0, len(definitions))
	for _, definition := range definitions {
		if definition.IsComposite() || len(definition.Inputs) == 0 {
			continue
		}
		rule, ruleError := NewRule(definition.Name, definition.Inputs, []string{definition.Name})
		if ruleError != nil {
			return nil, ruleError
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Roots returns the collapsed static directories of every rule's patterns.
func Roots(rules []Rule) []string {
	roots := make([]string, 0, len(rules))
	for _, rule := range rules {
		roots = append(roots, rule.Patterns.Roots()...)
	}
	return glob.CollapseRoots(roots)
}

func taskListKey(tasks []string) string {
	return strings.Join(tasks, "\x00")
}
