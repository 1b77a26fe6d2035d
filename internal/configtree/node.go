// Package configtree models the pipeline document as an immutable tree of
// scalars, sequences and insertion-ordered mappings, and resolves the
// `<%= dotted.path %>` references embedded in its strings.
package configtree

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind distinguishes the three node shapes.
type Kind uint8

// Supported node kinds.
const (
	KindScalar Kind = iota + 1
	KindSequence
	KindMapping
)

// String returns the lower-case kind name.
func (kind Kind) String() string {
	switch kind {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Node is a read-only configuration value. A nil *Node behaves as a null scalar.
type Node struct {
	kind   Kind
	scalar any
	items  []*Node
	keys   []string
	fields map[string]*Node
}

// Entry is one key/value pair of a mapping.
type Entry struct {
	Key   string
	Value *Node
}

// DuplicateKeyError reports a mapping that declares the same key twice.
type DuplicateKeyError struct {
	Key string
}

// Error describes the duplicate key.
func (duplicateError DuplicateKeyError) Error() string {
	return fmt.Sprintf("configtree: duplicate key %q", duplicateError.Key)
}

// Scalar builds a scalar node. Integers are stored as int64, floats as
// float64; strings, booleans and nil are kept as is and any other value is
// stored in its fmt.Sprint form.
func Scalar(value any) *Node {
	return &Node{kind: KindScalar, scalar: normalizeScalar(value)}
}

func normalizeScalar(value any) any {
	switch typed := value.(type) {
	case nil, string, bool, int64, float64:
		return typed
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint:
		return int64(typed)
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		return int64(typed)
	case float32:
		return float64(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

// Sequence builds a sequence node; nil items become null scalars.
func Sequence(items ...*Node) *Node {
	copied := make([]*Node, len(items))
	for index, item := range items {
		if item == nil {
			item = Scalar(nil)
		}
		copied[index] = item
	}
	return &Node{kind: KindSequence, items: copied}
}

// Mapping builds a mapping node preserving entry order.
func Mapping(entries ...Entry) (*Node, error) {
	node := &Node{kind: KindMapping, keys: make([]string, 0, len(entries)), fields: make(map[string]*Node, len(entries))}
	for _, entry := range entries {
		if _, exists := node.fields[entry.Key]; exists {
			return nil, DuplicateKeyError{Key: entry.Key}
		}
		value := entry.Value
		if value == nil {
			value = Scalar(nil)
		}
		node.keys = append(node.keys, entry.Key)
		node.fields[entry.Key] = value
	}
	return node, nil
}

// EmptyMapping returns a mapping without entries.
func EmptyMapping() *Node {
	return &Node{kind: KindMapping, fields: map[string]*Node{}}
}

// FromValue converts plain Go values into a node tree. Maps with string keys
// become mappings with lexically sorted keys; slices become sequences.
func FromValue(value any) (*Node, error) {
	switch typed := value.(type) {
	case *Node:
		return typed, nil
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		entries := make([]Entry, 0, len(keys))
		for _, key := range keys {
			child, childError := FromValue(typed[key])
			if childError != nil {
				return nil, childError
			}
			entries = append(entries, Entry{Key: key, Value: child})
		}
		return Mapping(entries...)
	case []any:
		items := make([]*Node, 0, len(typed))
		for _, element := range typed {
			child, childError := FromValue(element)
			if childError != nil {
				return nil, childError
			}
			items = append(items, child)
		}
		return Sequence(items...), nil
	case []string:
		items := make([]*Node, 0, len(typed))
		for _, element := range typed {
			items = append(items, Scalar(element))
		}
		return Sequence(items...), nil
	case []map[string]any:
		items := make([]*Node, 0, len(typed))
		for _, element := range typed {
			child, childError := FromValue(element)
			if childError != nil {
				return nil, childError
			}
			items = append(items, child)
		}
		return Sequence(items...), nil
	default:
		return Scalar(typed), nil
	}
}

// Kind returns the node shape.
func (node *Node) Kind() Kind {
	if node == nil {
		return KindScalar
	}
	return node.kind
}

// Value returns the scalar value, or nil for containers.
func (node *Node) Value() any {
	if node == nil || node.kind != KindScalar {
		return nil
	}
	return node.scalar
}

// Text returns the string form of a scalar: integers in base 10, floats in
// shortest form, booleans as true/false and null as the empty string.
// Containers have no string form and return "".
func (node *Node) Text() string {
	if node == nil || node.kind != KindScalar {
		return ""
	}
	switch typed := node.scalar.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'g', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

// Len returns the number of items or entries; scalars report zero.
func (node *Node) Len() int {
	if node == nil {
		return 0
	}
	switch node.kind {
	case KindSequence:
		return len(node.items)
	case KindMapping:
		return len(node.keys)
	default:
		return 0
	}
}

// Items returns a copy of the sequence items.
func (node *Node) Items() []*Node {
	if node == nil || node.kind != KindSequence {
		return nil
	}
	return append([]*Node(nil), node.items...)
}

// Keys returns a copy of the mapping keys in insertion order.
func (node *Node) Keys() []string {
	if node == nil || node.kind != KindMapping {
		return nil
	}
	return append([]string(nil), node.keys...)
}

// Field returns the child stored under key.
func (node *Node) Field(key string) (*Node, bool) {
	if node == nil || node.kind != KindMapping {
		return nil, false
	}
	child, exists := node.fields[key]
	return child, exists
}

// Entries returns the mapping entries in insertion order.
func (node *Node) Entries() []Entry {
	if node == nil || node.kind != KindMapping {
		return nil
	}
	entries := make([]Entry, 0, len(node.keys))
	for _, key := range node.keys {
		entries = append(entries, Entry{Key: key, Value: node.fields[key]})
	}
	return entries
}

func (node *Node) child(segment string) (*Node, bool) {
	switch node.Kind() {
	case KindMapping:
		return node.Field(segment)
	case KindSequence:
		index, parseError := strconv.Atoi(segment)
		if parseError != nil || index < 0 || index >= len(node.items) {
			return nil, false
		}
		return node.items[index], true
	default:
		return nil, false
	}
}

// Lookup walks a dotted path without resolving references. Numeric segments
// index sequences.
func (node *Node) Lookup(dottedPath string) (*Node, bool) {
	current := node
	for _, segment := range splitPath(dottedPath) {
		next, found := current.child(segment)
		if !found {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Strings returns the text form of a scalar or of every scalar item of a
// sequence. Other shapes yield nil.
func (node *Node) Strings() []string {
	switch node.Kind() {
	case KindScalar:
		if node.Value() == nil {
			return nil
		}
		return []string{node.Text()}
	case KindSequence:
		values := make([]string, 0, len(node.items))
		for _, item := range node.items {
			if item.Kind() != KindScalar {
				return nil
			}
			values = append(values, item.Text())
		}
		return values
	default:
		return nil
	}
}

// Interface converts the tree into plain Go values: map[string]any,
// []any and scalars.
func (node *Node) Interface() any {
	switch node.Kind() {
	case KindSequence:
		values := make([]any, 0, len(node.items))
		for _, item := range node.items {
			values = append(values, item.Interface())
		}
		return values
	case KindMapping:
		values := make(map[string]any, len(node.keys))
		for _, key := range node.keys {
			values[key] = node.fields[key].Interface()
		}
		return values
	default:
		return node.Value()
	}
}

// Equal reports deep equality including mapping key order.
func (node *Node) Equal(other *Node) bool {
	if node.Kind() != other.Kind() {
		return false
	}
	switch node.Kind() {
	case KindSequence:
		if len(node.items) != len(other.items) {
			return false
		}
		for index := range node.items {
			if !node.items[index].Equal(other.items[index]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(node.keys) != len(other.keys) {
			return false
		}
		for index, key := range node.keys {
			if other.keys[index] != key || !node.fields[key].Equal(other.fields[key]) {
				return false
			}
		}
		return true
	default:
		return node.Value() == other.Value()
	}
}

func splitPath(dottedPath string) []string {
	trimmed := strings.TrimSpace(dottedPath)
	if len(trimmed) == 0 {
		return nil
	}
	return strings.Split(trimmed, ".")
}
