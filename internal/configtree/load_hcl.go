package configtree

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// parseHCL maps attributes to scalar or container entries and blocks to nested
// mappings keyed by block type and then by each label, in source order.
//
//	paths { src = "src" }           -> paths.src
//	task "sass:dist" { kind = "exec" } -> task.sass:dist.kind
func parseHCL(contents []byte, sourceName string) (*Node, error) {
	file, diagnostics := hclsyntax.ParseConfig(contents, sourceName, hcl.InitialPos)
	if diagnostics.HasErrors() {
		return nil, diagnostics
	}
	body, isSyntaxBody := file.Body.(*hclsyntax.Body)
	if !isSyntaxBody {
		return nil, fmt.Errorf("unexpected HCL body type %T", file.Body)
	}

	root := newOrderedObject()
	if fillError := fillFromHCLBody(root, body); fillError != nil {
		return nil, fillError
	}
	return root.node()
}

type hclBodyItem struct {
	offset    int
	attribute *hclsyntax.Attribute
	block     *hclsyntax.Block
}

func fillFromHCLBody(target *orderedObject, body *hclsyntax.Body) error {
	items := make([]hclBodyItem, 0, len(body.Attributes)+len(body.Blocks))
	for _, attribute := range body.Attributes {
		items = append(items, hclBodyItem{offset: attribute.SrcRange.Start.Byte, attribute: attribute})
	}
	for _, block := range body.Blocks {
		items = append(items, hclBodyItem{offset: block.TypeRange.Start.Byte, block: block})
	}
	sort.SliceStable(items, func(left int, right int) bool {
		return items[left].offset < items[right].offset
	})

	for _, item := range items {
		if item.attribute != nil {
			value, diagnostics := item.attribute.Expr.Value(nil)
			if diagnostics.HasErrors() {
				return diagnostics
			}
			converted, convertError := ctyValueToNode(value)
			if convertError != nil {
				return fmt.Errorf("attribute %s: %w", item.attribute.Name, convertError)
			}
			if setError := target.set(item.attribute.Name, converted); setError != nil {
				return setError
			}
			continue
		}

		blockTarget, childError := target.child(item.block.Type)
		if childError != nil {
			return childError
		}
		for _, label := range item.block.Labels {
			blockTarget, childError = blockTarget.child(label)
			if childError != nil {
				return childError
			}
		}
		if fillError := fillFromHCLBody(blockTarget, item.block.Body); fillError != nil {
			return fillError
		}
	}
	return nil
}

func ctyValueToNode(value cty.Value) (*Node, error) {
	if value.IsNull() {
		return Scalar(nil), nil
	}
	if !value.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	valueType := value.Type()
	switch {
	case valueType.Equals(cty.String):
		return Scalar(value.AsString()), nil
	case valueType.Equals(cty.Bool):
		return Scalar(value.True()), nil
	case valueType.Equals(cty.Number):
		bigFloat := value.AsBigFloat()
		if bigFloat.IsInt() {
			if integerValue, accuracy := bigFloat.Int64(); accuracy == big.Exact {
				return Scalar(integerValue), nil
			}
		}
		floatValue, _ := bigFloat.Float64()
		return Scalar(floatValue), nil
	case valueType.IsTupleType() || valueType.IsListType() || valueType.IsSetType():
		items := make([]*Node, 0, value.LengthInt())
		for iterator := value.ElementIterator(); iterator.Next(); {
			_, element := iterator.Element()
			item, itemError := ctyValueToNode(element)
			if itemError != nil {
				return nil, itemError
			}
			items = append(items, item)
		}
		return Sequence(items...), nil
	case valueType.IsObjectType() || valueType.IsMapType():
		entries := make([]Entry, 0, value.LengthInt())
		for iterator := value.ElementIterator(); iterator.Next(); {
			key, element := iterator.Element()
			item, itemError := ctyValueToNode(element)
			if itemError != nil {
				return nil, itemError
			}
			entries = append(entries, Entry{Key: key.AsString(), Value: item})
		}
		return Mapping(entries...)
	default:
		return nil, fmt.Errorf("unsupported value type %s", valueType.FriendlyName())
	}
}

// orderedObject accumulates mapping entries while HCL blocks of the same type
// are merged together.
type orderedObject struct {
	keys   []string
	values map[string]any
}

func newOrderedObject() *orderedObject {
	return &orderedObject{values: map[string]any{}}
}

func (object *orderedObject) set(key string, value *Node) error {
	if _, exists := object.values[key]; exists {
		return DuplicateKeyError{Key: key}
	}
	object.keys = append(object.keys, key)
	object.values[key] = value
	return nil
}

func (object *orderedObject) child(key string) (*orderedObject, error) {
	existing, exists := object.values[key]
	if !exists {
		created := newOrderedObject()
		object.keys = append(object.keys, key)
		object.values[key] = created
		return created, nil
	}
	nested, isObject := existing.(*orderedObject)
	if !isObject {
		return nil, DuplicateKeyError{Key: key}
	}
	return nested, nil
}

func (object *orderedObject) node() (*Node, error) {
	entries := make([]Entry, 0, len(object.keys))
	for _, key := range object.keys {
		switch typed := object.values[key].(type) {
		case *orderedObject:
			nested, nestedError := typed.node()
			if nestedError != nil {
				return nil, nestedError
			}
			entries = append(entries, Entry{Key: key, Value: nested})
		case *Node:
			entries = append(entries, Entry{Key: key, Value: typed})
		}
	}
	return Mapping(entries...)
}
