package cli

import (
	_ "embed"
	"time"
)

//go:embed defaults/config.yaml
var embeddedDefaultConfiguration []byte

//go:embed defaults/kiln.yaml
var embeddedSampleDocument []byte

const embeddedDefaultConfigurationTypeConstant = "yaml"

// ApplicationConfiguration describes the persisted settings for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common ApplicationCommonConfiguration `mapstructure:"common"`
	Build  ApplicationBuildConfiguration  `mapstructure:"build"`
}

// ApplicationCommonConfiguration stores logging defaults shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// ApplicationBuildConfiguration stores defaults for commands that load a pipeline document.
type ApplicationBuildConfiguration struct {
	// Document overrides pipeline document discovery when --file is absent.
	Document string `mapstructure:"document"`
	// Pipeline is run when neither a pipeline argument nor --task is given.
	Pipeline string `mapstructure:"pipeline"`
	// WatchDebounce applies when the document's watch section sets none.
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// EmbeddedDefaultConfiguration returns the built-in application settings and their format.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	return append([]byte(nil), embeddedDefaultConfiguration...), embeddedDefaultConfigurationTypeConstant
}

// EmbeddedSampleDocument returns the pipeline document written by kiln init.
func EmbeddedSampleDocument() []byte {
	return append([]byte(nil), embeddedSampleDocument...)
}
