package tasks

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var environmentNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnvironmentStore holds variables passed to external tools. Values seeded
// from the command line are locked and win over values set by env tasks.
type EnvironmentStore struct {
	mutex  sync.RWMutex
	values map[string]environmentEntry
}

type environmentEntry struct {
	value  string
	locked bool
}

// NewEnvironmentStore constructs an empty store.
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{values: make(map[string]environmentEntry)}
}

// ValidateEnvironmentName checks that name is usable as a process variable.
func ValidateEnvironmentName(name string) error {
	if !environmentNamePattern.MatchString(name) {
		return fmt.Errorf("environment variable name %q must match %s", name, environmentNamePattern.String())
	}
	return nil
}

// ParseAssignment splits a KEY=VALUE pair.
func ParseAssignment(assignment string) (string, string, error) {
	name, value, found := strings.Cut(assignment, "=")
	name = strings.TrimSpace(name)
	if !found {
		return "", "", fmt.Errorf("environment assignment %q must have the form KEY=VALUE", assignment)
	}
	if validationError := ValidateEnvironmentName(name); validationError != nil {
		return "", "", validationError
	}
	return name, value, nil
}

// Seed assigns a locked value.
func (store *EnvironmentStore) Seed(name string, value string) {
	store.set(name, value, true)
}

// Set assigns a value unless the name was seeded. It reports whether the
// value was stored.
func (store *EnvironmentStore) Set(name string, value string) bool {
	return store.set(name, value, false)
}

func (store *EnvironmentStore) set(name string, value string, locked bool) bool {
	if store == nil {
		return false
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if entry, exists := store.values[name]; exists && entry.locked && !locked {
		return false
	}
	store.values[name] = environmentEntry{value: value, locked: locked}
	return true
}

// Get looks up a value.
func (store *EnvironmentStore) Get(name string) (string, bool) {
	if store == nil {
		return "", false
	}
	store.mutex.RLock()
	entry, exists := store.values[name]
	store.mutex.RUnlock()
	return entry.value, exists
}

// Snapshot returns a copy of all values.
func (store *EnvironmentStore) Snapshot() map[string]string {
	if store == nil {
		return nil
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	snapshot := make(map[string]string, len(store.values))
	for name, entry := range store.values {
		snapshot[name] = entry.value
	}
	return snapshot
}
