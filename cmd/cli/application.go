package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tyemirov/kiln/internal/pipeline"
	"github.com/tyemirov/kiln/internal/utils"
	flagutils "github.com/tyemirov/kiln/internal/utils/flags"
	"github.com/tyemirov/kiln/internal/version"
	"github.com/tyemirov/kiln/pkg/taskrunner"
)

const (
	applicationNameConstant                  = "kiln"
	applicationUseConstant                   = applicationNameConstant + " [pipeline]"
	applicationShortDescriptionConstant      = "Declarative build pipelines for static sites"
	applicationLongDescriptionConstant       = "kiln loads a pipeline document (kiln.yaml), resolves its <%= %> references and runs the named pipeline or tasks. Without arguments it runs the build pipeline."
	configFileFlagNameConstant               = "config"
	configFileFlagUsageConstant              = "Optional path to an application settings file (YAML)."
	logLevelFlagNameConstant                 = "log-level"
	logLevelFlagUsageConstant                = "Override the configured log level (debug, info, warn, error)."
	logFormatFlagNameConstant                = "log-format"
	logFormatFlagUsageConstant               = "Override the configured log format (structured or console)."
	versionFlagNameConstant                  = "version"
	versionFlagUsageConstant                 = "Print the application version and exit"
	commonConfigurationKeyConstant           = "common"
	buildConfigurationKeyConstant            = "build"
	commonLogLevelConfigKeyConstant          = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant         = commonConfigurationKeyConstant + ".log_format"
	buildDocumentConfigKeyConstant           = buildConfigurationKeyConstant + ".document"
	buildPipelineConfigKeyConstant           = buildConfigurationKeyConstant + ".pipeline"
	buildWatchDebounceConfigKeyConstant      = buildConfigurationKeyConstant + ".watch_debounce"
	environmentPrefixConstant                = "KILN"
	configurationNameConstant                = "config"
	configurationTypeConstant                = "yaml"
	configurationFileNameConstant            = configurationNameConstant + "." + configurationTypeConstant
	configurationLoadErrorTemplateConstant   = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant      = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant          = "unable to flush logger: %w"
	configurationInitializedMessageConstant  = "configuration initialized"
	configurationInitializedConsoleTemplate  = "%s | log level=%s | log format=%s | config file=%s"
	configurationLogLevelFieldConstant       = "log_level"
	configurationLogFormatFieldConstant      = "log_format"
	configurationFileFieldConstant           = "config_file"
	workingDirectoryErrorTemplateConstant    = "unable to determine working directory: %w"
	versionOutputTemplateConstant            = "kiln version: %s\n"
	versionCommandUseNameConstant            = "version"
	versionCommandShortDescriptionConstant   = "Print the kiln version"
	versionCommandLongDescriptionConstant    = "version prints the current kiln release identifier."
	loggerNotInitializedMessageConstant      = "logger not initialized"
	unknownVersionPlaceholderConstant        = "unknown"
	runCommandInfoMessageConstant            = "kiln run requested"
	logFieldPipelineConstant                 = "pipeline"
	logFieldTasksConstant                    = "tasks"
	logFieldDocumentConstant                 = "document"
	runFailedWithTaskTemplateConstant        = "task %q failed: %v"
	runFailedWithoutTaskTemplateConstant     = "run %s: %v"
	runFailedWithoutCauseTemplateConstant    = "run %s"
	defaultPipelineNameConstant              = pipeline.PipelineBuild
	defaultWatchDebounceConstant             = 250 * time.Millisecond
)

type loggerOutputsFactory interface {
	CreateLoggerOutputs(utils.LogLevel, utils.LogFormat) (utils.LoggerOutputs, error)
}

// RunFailedError is returned by Execute when a run ends in Failure or Cancelled.
type RunFailedError struct {
	Status     string
	FailedTask string
	Cause      error
}

func (runError RunFailedError) Error() string {
	switch {
	case len(runError.FailedTask) > 0:
		return fmt.Sprintf(runFailedWithTaskTemplateConstant, runError.FailedTask, runError.Cause)
	case runError.Cause != nil:
		return fmt.Sprintf(runFailedWithoutTaskTemplateConstant, runError.Status, runError.Cause)
	default:
		return fmt.Sprintf(runFailedWithoutCauseTemplateConstant, runError.Status)
	}
}

func (runError RunFailedError) Unwrap() error {
	return runError.Cause
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand            *cobra.Command
	configurationLoader    *utils.ConfigurationLoader
	loggerFactory          loggerOutputsFactory
	logger                 *zap.Logger
	consoleLogger          *zap.Logger
	configuration          ApplicationConfiguration
	configurationMetadata  utils.ConfigurationMetadata
	configurationFilePath  string
	logLevelFlagValue      string
	logFormatFlagValue     string
	versionFlag            bool
	commandContextAccessor utils.CommandContextAccessor
	runFlagValues          *flagutils.RunFlagValues
	fileSystem             afero.Fs
	workingDirectory       func() (string, error)
	dependenciesConfig     taskrunner.DependenciesConfig
	executorFactory        taskrunner.Factory
	signalContext          func(context.Context) (context.Context, context.CancelFunc)
	versionResolver        func(context.Context) string
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	application := &Application{
		loggerFactory:          utils.NewLoggerFactory(),
		logger:                 zap.NewNop(),
		consoleLogger:          zap.NewNop(),
		commandContextAccessor: utils.NewCommandContextAccessor(),
		fileSystem:             afero.NewOsFs(),
		workingDirectory:       os.Getwd,
		signalContext:          notifyOnInterrupt,
	}
	application.versionResolver = application.resolveVersion
	application.dependenciesConfig = taskrunner.DependenciesConfig{
		LoggerProvider:               func() *zap.Logger { return application.logger },
		HumanReadableLoggingProvider: application.humanReadableLoggingEnabled,
	}

	application.configurationLoader = utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		utils.ConfigurationSearchPaths(applicationNameConstant),
	)
	embeddedConfigurationData, embeddedConfigurationType := EmbeddedDefaultConfiguration()
	application.configurationLoader.SetEmbeddedConfiguration(embeddedConfigurationData, embeddedConfigurationType)

	cobraCommand := &cobra.Command{
		Use:           applicationUseConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command, arguments)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			if application.versionFlag {
				application.printVersion(command)
				return nil
			}
			return application.runBuild(command, arguments)
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)
	cobraCommand.Flags().BoolVar(&application.versionFlag, versionFlagNameConstant, false, versionFlagUsageConstant)
	application.runFlagValues = flagutils.BindRunFlags(cobraCommand)

	application.registerCommands(cobraCommand)
	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	return application.ExecuteWithArguments(os.Args[1:])
}

// ExecuteWithArguments runs the command hierarchy with explicit arguments.
func (application *Application) ExecuteWithArguments(arguments []string) error {
	application.rootCommand.SetArgs(arguments)
	application.rootCommand.SetContext(context.Background())

	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil && executionError == nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) initializeConfiguration(command *cobra.Command, arguments []string) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:     string(utils.LogLevelError),
		commonLogFormatConfigKeyConstant:    string(utils.DefaultLogFormat(os.Stderr)),
		buildDocumentConfigKeyConstant:      "",
		buildPipelineConfigKeyConstant:      defaultPipelineNameConstant,
		buildWatchDebounceConfigKeyConstant: defaultWatchDebounceConstant.String(),
	}

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}
	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}
	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}
	if len(strings.TrimSpace(application.configuration.Common.LogFormat)) == 0 {
		application.configuration.Common.LogFormat = string(utils.DefaultLogFormat(os.Stderr))
	}

	loggerOutputs, loggerCreationError := application.loggerFactory.CreateLoggerOutputs(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = loggerOutputs.DiagnosticLogger
	if application.logger == nil {
		application.logger = zap.NewNop()
	}
	application.consoleLogger = loggerOutputs.ConsoleLogger
	if application.consoleLogger == nil {
		application.consoleLogger = zap.NewNop()
	}

	application.logConfigurationInitialization()

	if command != nil {
		updatedContext := application.commandContextAccessor.WithConfigurationFilePath(command.Context(), application.configurationMetadata.ConfigFileUsed)
		updatedContext = application.commandContextAccessor.WithLogLevel(updatedContext, application.configuration.Common.LogLevel)
		updatedContext = application.commandContextAccessor.WithDocumentPath(updatedContext, application.documentPathSetting())
		if command == command.Root() {
			selection := flagutils.CollectRunSelection(command, arguments, application.defaultPipeline())
			updatedContext = application.commandContextAccessor.WithRunSelection(updatedContext, selection)
		}

		command.SetContext(updatedContext)
		if rootCommand := command.Root(); rootCommand != nil {
			rootCommand.SetContext(updatedContext)
		}
	}

	return nil
}

// ConfigFileUsed returns the configuration file path used during initialization.
func (application *Application) ConfigFileUsed() string {
	return application.configurationMetadata.ConfigFileUsed
}

func (application *Application) humanReadableLoggingEnabled() bool {
	logFormatValue := strings.TrimSpace(application.configuration.Common.LogFormat)
	return strings.EqualFold(logFormatValue, string(utils.LogFormatConsole))
}

func (application *Application) logConfigurationInitialization() {
	if !strings.EqualFold(strings.TrimSpace(application.configuration.Common.LogLevel), string(utils.LogLevelDebug)) {
		return
	}

	if application.humanReadableLoggingEnabled() {
		application.consoleLogger.Debug(fmt.Sprintf(
			configurationInitializedConsoleTemplate,
			configurationInitializedMessageConstant,
			application.configuration.Common.LogLevel,
			application.configuration.Common.LogFormat,
			application.configurationMetadata.ConfigFileUsed,
		))
		return
	}

	application.logger.Debug(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
	)
}

func (application *Application) documentPathSetting() string {
	if application.runFlagValues != nil {
		if trimmed := strings.TrimSpace(application.runFlagValues.DocumentPath); len(trimmed) > 0 {
			return trimmed
		}
	}
	return strings.TrimSpace(application.configuration.Build.Document)
}

func (application *Application) defaultPipeline() string {
	if trimmed := strings.TrimSpace(application.configuration.Build.Pipeline); len(trimmed) > 0 {
		return trimmed
	}
	return defaultPipelineNameConstant
}

// resolveDocumentPath returns the configured document or the first candidate
// found in the working directory.
func (application *Application) resolveDocumentPath(executionContext context.Context) (string, error) {
	if documentPath, available := application.commandContextAccessor.DocumentPath(executionContext); available {
		return documentPath, nil
	}
	if documentPath := application.documentPathSetting(); len(documentPath) > 0 {
		return documentPath, nil
	}
	workingDirectory, workingDirectoryError := application.resolveWorkingDirectory()
	if workingDirectoryError != nil {
		return "", workingDirectoryError
	}
	return pipeline.FindDocument(application.fileSystem, workingDirectory)
}

func (application *Application) resolveWorkingDirectory() (string, error) {
	if application.workingDirectory == nil {
		return ".", nil
	}
	workingDirectory, workingDirectoryError := application.workingDirectory()
	if workingDirectoryError != nil {
		return "", fmt.Errorf(workingDirectoryErrorTemplateConstant, workingDirectoryError)
	}
	return workingDirectory, nil
}

func (application *Application) loadDocument(command *cobra.Command) (pipeline.Document, error) {
	documentPath, pathError := application.resolveDocumentPath(command.Context())
	if pathError != nil {
		return pipeline.Document{}, pathError
	}
	return pipeline.LoadDocument(application.fileSystem, documentPath)
}

func (application *Application) resolveVersion(executionContext context.Context) string {
	return version.Detect(executionContext, version.Dependencies{})
}

func (application *Application) printVersion(command *cobra.Command) {
	versionString := unknownVersionPlaceholderConstant
	if application.versionResolver != nil {
		if resolved := strings.TrimSpace(application.versionResolver(command.Context())); len(resolved) > 0 {
			versionString = resolved
		}
	}
	fmt.Fprintf(command.OutOrStdout(), versionOutputTemplateConstant, versionString)
}

func (application *Application) flushLogger() error {
	if syncError := syncLoggerInstance(application.logger); syncError != nil {
		return syncError
	}
	return syncLoggerInstance(application.consoleLogger)
}

func syncLoggerInstance(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}

	syncError := logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP),
		errors.Is(syncError, syscall.EINVAL),
		errors.Is(syncError, syscall.EBADF),
		errors.Is(syncError, syscall.ENOTTY):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}
	if rootCommand := command.Root(); rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet != nil && flagSet.Changed(flagName) {
			return true
		}
	}
	return false
}
