package configtree

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Format names a supported document syntax.
type Format string

// Supported document formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatHCL  Format = "hcl"
)

const (
	yamlIntegerTagConstant = "!!int"
	yamlFloatTagConstant   = "!!float"
	yamlBooleanTagConstant = "!!bool"
	yamlNullTagConstant    = "!!null"
	yamlMergeKeyConstant   = "<<"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(documentPath string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(documentPath), ".")) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "toml":
		return FormatTOML, nil
	case "hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf(unsupportedFormatMessage, filepath.Ext(documentPath))
	}
}

// LoadFile reads and parses a document, choosing the format from its extension.
func LoadFile(fileSystem afero.Fs, documentPath string) (*Node, error) {
	format, formatError := FormatFromPath(documentPath)
	if formatError != nil {
		return nil, ParseError{Source: documentPath, Cause: formatError}
	}
	contents, readError := afero.ReadFile(fileSystem, documentPath)
	if readError != nil {
		return nil, ParseError{Source: documentPath, Cause: readError}
	}
	return Parse(contents, format, documentPath)
}

// Parse decodes document contents. Empty documents yield an empty mapping.
func Parse(contents []byte, format Format, sourceName string) (*Node, error) {
	var (
		root       *Node
		parseError error
	)
	switch format {
	case FormatYAML, FormatJSON:
		root, parseError = parseYAML(contents)
	case FormatTOML:
		root, parseError = parseTOML(contents)
	case FormatHCL:
		root, parseError = parseHCL(contents, sourceName)
	default:
		parseError = fmt.Errorf(unsupportedFormatMessage, format)
	}
	if parseError != nil {
		return nil, ParseError{Source: sourceName, Cause: parseError}
	}
	return root, nil
}

func parseYAML(contents []byte) (*Node, error) {
	var document yaml.Node
	if unmarshalError := yaml.Unmarshal(contents, &document); unmarshalError != nil {
		return nil, unmarshalError
	}
	if document.Kind == 0 || len(document.Content) == 0 {
		return EmptyMapping(), nil
	}
	return convertYAMLNode(document.Content[0])
}

func convertYAMLNode(yamlNode *yaml.Node) (*Node, error) {
	switch yamlNode.Kind {
	case yaml.DocumentNode:
		if len(yamlNode.Content) == 0 {
			return EmptyMapping(), nil
		}
		return convertYAMLNode(yamlNode.Content[0])
	case yaml.AliasNode:
		return convertYAMLNode(yamlNode.Alias)
	case yaml.SequenceNode:
		items := make([]*Node, 0, len(yamlNode.Content))
		for _, element := range yamlNode.Content {
			item, itemError := convertYAMLNode(element)
			if itemError != nil {
				return nil, itemError
			}
			items = append(items, item)
		}
		return Sequence(items...), nil
	case yaml.MappingNode:
		entries := make([]Entry, 0, len(yamlNode.Content)/2)
		for index := 0; index+1 < len(yamlNode.Content); index += 2 {
			keyNode := yamlNode.Content[index]
			if keyNode.Value == yamlMergeKeyConstant {
				return nil, fmt.Errorf("line %d: merge keys are not supported", keyNode.Line)
			}
			value, valueError := convertYAMLNode(yamlNode.Content[index+1])
			if valueError != nil {
				return nil, valueError
			}
			entries = append(entries, Entry{Key: keyNode.Value, Value: value})
		}
		mapping, mappingError := Mapping(entries...)
		if mappingError != nil {
			return nil, fmt.Errorf("line %d: %w", yamlNode.Line, mappingError)
		}
		return mapping, nil
	default:
		return convertYAMLScalar(yamlNode)
	}
}

func convertYAMLScalar(yamlNode *yaml.Node) (*Node, error) {
	switch yamlNode.ShortTag() {
	case yamlIntegerTagConstant:
		var integerValue int64
		if decodeError := yamlNode.Decode(&integerValue); decodeError != nil {
			return nil, decodeError
		}
		return Scalar(integerValue), nil
	case yamlFloatTagConstant:
		var floatValue float64
		if decodeError := yamlNode.Decode(&floatValue); decodeError != nil {
			return nil, decodeError
		}
		return Scalar(floatValue), nil
	case yamlBooleanTagConstant:
		var booleanValue bool
		if decodeError := yamlNode.Decode(&booleanValue); decodeError != nil {
			return nil, decodeError
		}
		return Scalar(booleanValue), nil
	case yamlNullTagConstant:
		return Scalar(nil), nil
	default:
		return Scalar(yamlNode.Value), nil
	}
}

// TOML tables decode into Go maps, so keys come back in lexical order.
func parseTOML(contents []byte) (*Node, error) {
	decoded := map[string]any{}
	if unmarshalError := toml.Unmarshal(contents, &decoded); unmarshalError != nil {
		return nil, unmarshalError
	}
	return FromValue(decoded)
}
