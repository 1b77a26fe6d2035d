package configtree

import (
	"fmt"

	mapstructure "github.com/go-viper/mapstructure/v2"
)

// Decode copies node into target using mapstructure tags. Scalars are weakly
// typed ("1" decodes into an int, a single value into a slice) and durations
// accept Go duration strings. Unknown keys are rejected.
func Decode(node *Node, target any) error {
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if decoderError != nil {
		return fmt.Errorf("configtree.decode: %w", decoderError)
	}
	if node.Kind() == KindScalar && node.Value() == nil {
		return nil
	}
	if decodeError := decoder.Decode(node.Interface()); decodeError != nil {
		return fmt.Errorf("configtree.decode: %w", decodeError)
	}
	return nil
}
