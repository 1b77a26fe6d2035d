package utils

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const (
	configurationEmbeddedReadErrorTemplateConstant = "unable to read embedded configuration: %w"
	configurationFileReadErrorTemplateConstant     = "unable to read configuration file %s: %w"
	configurationSearchErrorTemplateConstant       = "unable to search configuration directories: %w"
	configurationDecodeErrorTemplateConstant       = "unable to decode configuration: %w"
	environmentKeySeparatorConstant                = "_"
	configurationKeySeparatorConstant              = "."
	userConfigurationDirectoryPrefixConstant       = "."
)

// ConfigurationMetadata describes where the loaded configuration came from.
type ConfigurationMetadata struct {
	ConfigFileUsed string
}

// ConfigurationLoader layers defaults, an embedded document, a configuration
// file and environment variables, in increasing precedence.
type ConfigurationLoader struct {
	configurationName string
	configurationType string
	environmentPrefix string
	searchPaths       []string
	embeddedContent   []byte
	embeddedType      string
}

// NewConfigurationLoader constructs a loader that looks for
// configurationName.configurationType in searchPaths, first match wins.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationName: configurationName,
		configurationType: configurationType,
		environmentPrefix: environmentPrefix,
		searchPaths:       append([]string(nil), searchPaths...),
	}
}

// ConfigurationSearchPaths returns the working directory, the XDG
// configuration directory for applicationName and ~/.applicationName.
func ConfigurationSearchPaths(applicationName string) []string {
	searchPaths := make([]string, 0, 3)
	if workingDirectory, workingDirectoryError := os.Getwd(); workingDirectoryError == nil {
		searchPaths = append(searchPaths, workingDirectory)
	}
	searchPaths = append(searchPaths, filepath.Join(xdg.ConfigHome, applicationName))
	if homeDirectory, homeError := os.UserHomeDir(); homeError == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDirectory, userConfigurationDirectoryPrefixConstant+applicationName))
	}
	return searchPaths
}

// SetEmbeddedConfiguration registers a document that sits between the
// defaults and any configuration file.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(content []byte, contentType string) {
	loader.embeddedContent = append([]byte(nil), content...)
	loader.embeddedType = contentType
}

// LoadConfiguration decodes the layered configuration into target. An
// explicit file path bypasses the search paths and must exist.
func (loader *ConfigurationLoader) LoadConfiguration(explicitFilePath string, defaultValues map[string]any, target any) (ConfigurationMetadata, error) {
	configuration := viper.New()
	for key, value := range defaultValues {
		configuration.SetDefault(key, value)
	}

	if len(loader.embeddedContent) > 0 {
		configuration.SetConfigType(loader.embeddedType)
		if readError := configuration.ReadConfig(bytes.NewReader(loader.embeddedContent)); readError != nil {
			return ConfigurationMetadata{}, fmt.Errorf(configurationEmbeddedReadErrorTemplateConstant, readError)
		}
	}

	metadata := ConfigurationMetadata{}
	trimmedFilePath := strings.TrimSpace(explicitFilePath)
	if len(trimmedFilePath) > 0 {
		configuration.SetConfigFile(trimmedFilePath)
		if mergeError := configuration.MergeInConfig(); mergeError != nil {
			return ConfigurationMetadata{}, fmt.Errorf(configurationFileReadErrorTemplateConstant, trimmedFilePath, mergeError)
		}
		metadata.ConfigFileUsed = trimmedFilePath
	} else if len(loader.searchPaths) > 0 {
		configuration.SetConfigName(loader.configurationName)
		configuration.SetConfigType(loader.configurationType)
		for _, searchPath := range loader.searchPaths {
			configuration.AddConfigPath(searchPath)
		}
		mergeError := configuration.MergeInConfig()
		var notFoundError viper.ConfigFileNotFoundError
		switch {
		case mergeError == nil:
			metadata.ConfigFileUsed = configuration.ConfigFileUsed()
		case errors.As(mergeError, &notFoundError):
		default:
			return ConfigurationMetadata{}, fmt.Errorf(configurationSearchErrorTemplateConstant, mergeError)
		}
	}

	if len(loader.environmentPrefix) > 0 {
		configuration.SetEnvPrefix(loader.environmentPrefix)
		configuration.SetEnvKeyReplacer(strings.NewReplacer(configurationKeySeparatorConstant, environmentKeySeparatorConstant))
		configuration.AutomaticEnv()
	}

	if decodeError := configuration.Unmarshal(target); decodeError != nil {
		return ConfigurationMetadata{}, fmt.Errorf(configurationDecodeErrorTemplateConstant, decodeError)
	}
	return metadata, nil
}
