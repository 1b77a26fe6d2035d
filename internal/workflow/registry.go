package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const targetSeparator = ":"

// Registry maps task names to definitions. Registration order is kept and
// used wherever names are listed.
//
// Names of the form "name:target" also form an implicit group "name" that
// expands to every registered target in registration order, unless "name"
// is registered explicitly.
type Registry struct {
	mutex       sync.RWMutex
	definitions map[string]TaskDefinition
	order       []string
	frozen      bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]TaskDefinition)}
}

// Register adds a definition. It fails with DuplicateTaskError when the name
// is taken and with ErrRegistryFrozen after Freeze.
func (registry *Registry) Register(definition TaskDefinition) error {
	name := strings.TrimSpace(definition.Name)
	if len(name) == 0 {
		return InvalidTaskDefinitionError{Name: definition.Name, Reason: "name is empty"}
	}
	if definition.IsComposite() && definition.Executor != nil {
		return InvalidTaskDefinitionError{Name: name, Reason: "a composite task cannot have an executor"}
	}
	if !definition.IsComposite() && definition.Executor == nil {
		return InvalidTaskDefinitionError{Name: name, Reason: "a leaf task needs an executor"}
	}
	if strings.HasSuffix(name, targetSeparator) || strings.HasPrefix(name, targetSeparator) {
		return InvalidTaskDefinitionError{Name: name, Reason: "task target is empty"}
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if registry.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := registry.definitions[name]; exists {
		return DuplicateTaskError{Name: name}
	}

	stored := definition.clone()
	stored.Name = name
	registry.definitions[name] = stored
	registry.order = append(registry.order, name)
	return nil
}

// Freeze makes the registry read-only.
func (registry *Registry) Freeze() {
	registry.mutex.Lock()
	registry.frozen = true
	registry.mutex.Unlock()
}

// Get returns the definition registered under name, or the implicit target
// group of that name.
func (registry *Registry) Get(name string) (TaskDefinition, error) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	definition, found := registry.lookup(name)
	if !found {
		return TaskDefinition{}, UnknownTaskError{Name: name}
	}
	return definition.clone(), nil
}

// Has reports whether name resolves to a definition or a target group.
func (registry *Registry) Has(name string) bool {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	_, found := registry.lookup(name)
	return found
}

func (registry *Registry) lookup(name string) (TaskDefinition, bool) {
	if definition, exists := registry.definitions[name]; exists {
		return definition, true
	}
	if strings.Contains(name, targetSeparator) {
		return TaskDefinition{}, false
	}

	prefix := name + targetSeparator
	targets := make([]string, 0)
	for _, registeredName := range registry.order {
		if strings.HasPrefix(registeredName, prefix) {
			targets = append(targets, registeredName)
		}
	}
	if len(targets) == 0 {
		return TaskDefinition{}, false
	}
	return TaskDefinition{
		Name:        name,
		Description: fmt.Sprintf("all %s targets", name),
		Subtasks:    targets,
	}, true
}

// Expand flattens names into the leaf tasks they stand for, depth first and
// in declared order.
func (registry *Registry) Expand(names []string) ([]string, error) {
	planned, planError := registry.Plan(names)
	if planError != nil {
		return nil, planError
	}
	expanded := make([]string, 0, len(planned))
	for _, task := range planned {
		expanded = append(expanded, task.Name)
	}
	return expanded, nil
}

// Plan is Expand keeping each leaf's definition and effective best-effort flag.
func (registry *Registry) Plan(names []string) ([]PlannedTask, error) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	planned := make([]PlannedTask, 0, len(names))
	for _, name := range names {
		if planError := registry.plan(strings.TrimSpace(name), "", false, nil, &planned); planError != nil {
			return nil, planError
		}
	}
	return planned, nil
}

func (registry *Registry) plan(name string, parent string, inheritedBestEffort bool, stack []string, planned *[]PlannedTask) error {
	for index, active := range stack {
		if active == name {
			chain := append(append([]string(nil), stack[index:]...), name)
			return CompositeCycleError{Chain: chain}
		}
	}

	definition, found := registry.lookup(name)
	if !found {
		return UnknownTaskError{Name: name, ReferencedBy: parent}
	}

	bestEffort := inheritedBestEffort || definition.BestEffort
	if !definition.IsComposite() {
		*planned = append(*planned, PlannedTask{Name: definition.Name, BestEffort: bestEffort, Definition: definition.clone()})
		return nil
	}

	nestedStack := append(append(make([]string, 0, len(stack)+1), stack...), name)
	for _, subtask := range definition.Subtasks {
		if planError := registry.plan(strings.TrimSpace(subtask), name, bestEffort, nestedStack, planned); planError != nil {
			return planError
		}
	}
	return nil
}

// Validate checks that every composite references registered tasks and that
// no composite expands into itself. All problems are reported together.
func (registry *Registry) Validate() error {
	registry.mutex.RLock()
	names := append([]string(nil), registry.order...)
	registry.mutex.RUnlock()

	var problems []error
	for _, name := range names {
		if _, planError := registry.Plan([]string{name}); planError != nil {
			problems = append(problems, planError)
		}
	}
	return errors.Join(problems...)
}

// Names lists registered task names in registration order.
func (registry *Registry) Names() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return append([]string(nil), registry.order...)
}

// Pipelines lists the names of definitions flagged as pipelines.
func (registry *Registry) Pipelines() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	pipelines := make([]string, 0)
	for _, name := range registry.order {
		if registry.definitions[name].Pipeline {
			pipelines = append(pipelines, name)
		}
	}
	return pipelines
}

// Definitions returns copies of all registered definitions in order.
func (registry *Registry) Definitions() []TaskDefinition {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	definitions := make([]TaskDefinition, 0, len(registry.order))
	for _, name := range registry.order {
		definitions = append(definitions, registry.definitions[name].clone())
	}
	return definitions
}
