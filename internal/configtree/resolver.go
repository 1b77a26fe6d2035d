package configtree

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

const (
	pathKeySeparatorConstant     = "\x00"
	pathDisplaySeparatorConstant = "."
)

var placeholderExpression = regexp.MustCompile(`<%=\s*(.*?)\s*%>`)

// HasReferences reports whether text contains at least one placeholder.
func HasReferences(text string) bool {
	return placeholderExpression.MatchString(text)
}

// Resolve returns a new tree in which every `<%= dotted.path %>` placeholder
// has been replaced by the value found at that path in root, transitively.
//
// A string consisting of exactly one placeholder is replaced by the
// referenced node itself, so it may become a number, a sequence or a
// mapping. Placeholders surrounded by other text must reference scalars.
// The input tree is not modified.
func Resolve(root *Node) (*Node, error) {
	if root == nil {
		return nil, ErrNilRoot
	}
	state := &resolution{
		root:     root,
		resolved: make(map[string]*Node),
		visiting: make(map[string]int),
	}
	return state.resolveAt(nil, root)
}

type resolution struct {
	root     *Node
	resolved map[string]*Node
	visiting map[string]int
	chain    []string
}

func (state *resolution) resolveAt(segments []string, node *Node) (*Node, error) {
	memoKey := strings.Join(segments, pathKeySeparatorConstant)
	if cached, found := state.resolved[memoKey]; found {
		return cached, nil
	}

	displayedPath := strings.Join(segments, pathDisplaySeparatorConstant)
	if chainIndex, inProgress := state.visiting[memoKey]; inProgress {
		cycle := append(append([]string(nil), state.chain[chainIndex:]...), displayedPath)
		return nil, CyclicReferenceError{Chain: cycle}
	}

	state.visiting[memoKey] = len(state.chain)
	state.chain = append(state.chain, displayedPath)
	defer func() {
		delete(state.visiting, memoKey)
		state.chain = state.chain[:len(state.chain)-1]
	}()

	var resolvedNode *Node
	switch node.Kind() {
	case KindSequence:
		items := make([]*Node, 0, len(node.items))
		for index, item := range node.items {
			resolvedItem, itemError := state.resolveAt(extendPath(segments, strconv.Itoa(index)), item)
			if itemError != nil {
				return nil, itemError
			}
			items = append(items, resolvedItem)
		}
		resolvedNode = &Node{kind: KindSequence, items: items}
	case KindMapping:
		resolvedNode = &Node{kind: KindMapping, keys: append([]string(nil), node.keys...), fields: make(map[string]*Node, len(node.keys))}
		for _, key := range node.keys {
			resolvedField, fieldError := state.resolveAt(extendPath(segments, key), node.fields[key])
			if fieldError != nil {
				return nil, fieldError
			}
			resolvedNode.fields[key] = resolvedField
		}
	default:
		text, isString := node.Value().(string)
		if !isString || !HasReferences(text) {
			resolvedNode = node
			break
		}
		substituted, substitutionError := state.substitute(text)
		if substitutionError != nil {
			var existing ResolutionError
			if errors.As(substitutionError, &existing) {
				return nil, substitutionError
			}
			return nil, ResolutionError{Path: displayedPath, Cause: substitutionError}
		}
		resolvedNode = substituted
	}

	if resolvedNode == nil {
		resolvedNode = Scalar(nil)
	}
	state.resolved[memoKey] = resolvedNode
	return resolvedNode, nil
}

func (state *resolution) substitute(text string) (*Node, error) {
	matches := placeholderExpression.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(text) {
		return state.lookup(text[matches[0][2]:matches[0][3]])
	}

	var builder strings.Builder
	lastIndex := 0
	for _, match := range matches {
		builder.WriteString(text[lastIndex:match[0]])
		reference := text[match[2]:match[3]]
		target, lookupError := state.lookup(reference)
		if lookupError != nil {
			return nil, lookupError
		}
		if target.Kind() != KindScalar {
			return nil, NonScalarReferenceError{Reference: reference, Kind: target.Kind()}
		}
		builder.WriteString(target.Text())
		lastIndex = match[1]
	}
	builder.WriteString(text[lastIndex:])
	return Scalar(builder.String()), nil
}

// lookup walks reference through the original tree. A placeholder string met
// on the way is resolved first, since it may stand for a container.
func (state *resolution) lookup(reference string) (*Node, error) {
	segments := splitPath(reference)
	if len(segments) == 0 {
		return nil, UnresolvedReferenceError{Reference: reference}
	}

	current := state.root
	walked := make([]string, 0, len(segments))
	for _, segment := range segments {
		if current.Kind() == KindScalar {
			resolvedCurrent, resolveError := state.resolveAt(walked, current)
			if resolveError != nil {
				return nil, resolveError
			}
			current = resolvedCurrent
		}
		next, found := current.child(segment)
		if !found {
			return nil, UnresolvedReferenceError{Reference: reference}
		}
		walked = append(walked, segment)
		current = next
	}
	return state.resolveAt(walked, current)
}

func extendPath(segments []string, segment string) []string {
	extended := make([]string, 0, len(segments)+1)
	extended = append(extended, segments...)
	return append(extended, segment)
}
