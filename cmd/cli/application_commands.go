package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/kiln/internal/pipeline"
	"github.com/tyemirov/kiln/internal/workflow"
	"github.com/tyemirov/kiln/pkg/taskrunner"
)

const (
	listCommandUseNameConstant                   = "list"
	listCommandAliasConstant                     = "ls"
	listCommandShortDescriptionConstant          = "List pipelines and tasks"
	listCommandLongDescriptionConstant           = "list prints the pipelines and tasks registered from the pipeline document, in declaration order."
	listPipelinesHeadingConstant                 = "Pipelines"
	listTasksHeadingConstant                     = "Tasks"
	listEntryTemplateConstant                    = "  %-*s  %s\n"
	listBestEffortMarkerConstant                 = " (best effort)"
	listCompositeKindConstant                    = "group"
	initCommandUseNameConstant                   = "init"
	initCommandShortDescriptionConstant          = "Write a sample pipeline document"
	initCommandLongDescriptionConstant           = "init writes a sample kiln.yaml (or the path given with --file). With --settings it writes the default application settings instead, to ./config.yaml (local) or $XDG_CONFIG_HOME/kiln/config.yaml (user)."
	initForceFlagNameConstant                    = "force"
	initForceFlagUsageConstant                   = "Overwrite an existing file."
	initSettingsFlagNameConstant                 = "settings"
	initSettingsFlagUsageConstant                = "Write application settings instead of a pipeline document: local or user."
	initSettingsScopeLocalConstant               = "local"
	initSettingsScopeUserConstant                = "user"
	initDefaultDocumentNameConstant              = "kiln.yaml"
	initUnsupportedScopeTemplateConstant         = "unsupported settings scope %q (use %s or %s)"
	initExistingFileTemplateConstant             = "%s already exists (use --force to overwrite)"
	initExistingDirectoryTemplateConstant        = "%s is a directory"
	initDirectoryErrorTemplateConstant           = "unable to ensure directory %s: %w"
	initWriteErrorTemplateConstant               = "unable to write %s: %w"
	initContentUnavailableErrorConstant          = "embedded content is unavailable"
	initCreatedMessageConstant                   = "file created"
	initCreatedOutputTemplateConstant            = "wrote %s\n"
	initDirectoryPermissionConstant              = 0o755
	initFilePermissionConstant                   = 0o644
	listBuildErrorTemplateConstant               = "unable to register pipeline document: %w"
	listDependenciesErrorTemplateConstant        = "unable to prepare task dependencies: %w"
	headingColorConstant                         = "6"
	configurationInitializationUserDirectoryName = applicationNameConstant
)

func (application *Application) registerCommands(rootCommand *cobra.Command) {
	versionCommand := &cobra.Command{
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			application.printVersion(command)
			return nil
		},
	}
	configureCommandMetadata(versionCommand, versionCommandUseNameConstant, versionCommandShortDescriptionConstant, versionCommandLongDescriptionConstant)
	rootCommand.AddCommand(versionCommand)

	listCommand := &cobra.Command{
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          application.runList,
	}
	configureCommandMetadata(listCommand, listCommandUseNameConstant, listCommandShortDescriptionConstant, listCommandLongDescriptionConstant, listCommandAliasConstant)
	rootCommand.AddCommand(listCommand)

	var initForce bool
	var initSettingsScope string
	initCommand := &cobra.Command{
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runInit(command, initSettingsScope, initForce)
		},
	}
	configureCommandMetadata(initCommand, initCommandUseNameConstant, initCommandShortDescriptionConstant, initCommandLongDescriptionConstant)
	initCommand.Flags().BoolVar(&initForce, initForceFlagNameConstant, false, initForceFlagUsageConstant)
	initCommand.Flags().StringVar(&initSettingsScope, initSettingsFlagNameConstant, "", initSettingsFlagUsageConstant)
	rootCommand.AddCommand(initCommand)
}

func configureCommandMetadata(command *cobra.Command, use string, shortDescription string, longDescription string, aliases ...string) {
	if command == nil {
		return
	}
	command.Use = use
	command.Short = shortDescription
	command.Long = longDescription
	for _, alias := range aliases {
		trimmedAlias := strings.TrimSpace(alias)
		if len(trimmedAlias) == 0 {
			continue
		}
		command.Aliases = append(command.Aliases, trimmedAlias)
	}
}

func (application *Application) runList(command *cobra.Command, _ []string) error {
	document, loadError := application.loadDocument(command)
	if loadError != nil {
		return loadError
	}

	resolved, dependenciesError := taskrunner.BuildDependencies(application.taskDependenciesConfig(), taskrunner.DependenciesOptions{
		Command:         command,
		DisableReporter: true,
	})
	if dependenciesError != nil {
		return fmt.Errorf(listDependenciesErrorTemplateConstant, dependenciesError)
	}
	runner, buildError := pipeline.Build(document, resolved.Pipeline)
	if buildError != nil {
		return fmt.Errorf(listBuildErrorTemplateConstant, buildError)
	}

	writeListing(command.OutOrStdout(), document, runner.Definitions())
	return nil
}

func writeListing(output io.Writer, document pipeline.Document, definitions []workflow.TaskDefinition) {
	headingStyle := lipgloss.NewRenderer(output).NewStyle().Bold(true).Foreground(lipgloss.Color(headingColorConstant))

	kinds := make(map[string]string, len(document.Tasks))
	for _, entry := range document.Tasks {
		kinds[entry.Name] = entry.Kind
	}

	nameWidth := 0
	for _, definition := range definitions {
		if len(definition.Name) > nameWidth {
			nameWidth = len(definition.Name)
		}
	}

	fmt.Fprintln(output, headingStyle.Render(listPipelinesHeadingConstant))
	for _, definition := range definitions {
		if definition.Pipeline {
			fmt.Fprintf(output, listEntryTemplateConstant, nameWidth, definition.Name, strings.Join(definition.Subtasks, ", "))
		}
	}

	fmt.Fprintln(output, headingStyle.Render(listTasksHeadingConstant))
	for _, definition := range definitions {
		if definition.Pipeline {
			continue
		}
		kind := kinds[definition.Name]
		if definition.IsComposite() {
			kind = listCompositeKindConstant
		}
		detail := fmt.Sprintf("[%s]", kind)
		if len(definition.Description) > 0 {
			detail += " " + definition.Description
		}
		if definition.IsComposite() {
			detail += ": " + strings.Join(definition.Subtasks, ", ")
		}
		if definition.BestEffort {
			detail += listBestEffortMarkerConstant
		}
		fmt.Fprintf(output, listEntryTemplateConstant, nameWidth, definition.Name, detail)
	}
}

func (application *Application) runInit(command *cobra.Command, settingsScope string, force bool) error {
	targetPath, content, planError := application.resolveInitializationTarget(settingsScope)
	if planError != nil {
		return planError
	}
	if writeError := application.writeInitializationFile(targetPath, content, force); writeError != nil {
		return writeError
	}
	application.logger.Info(initCreatedMessageConstant, zap.String(configurationFileFieldConstant, targetPath))
	fmt.Fprintf(command.OutOrStdout(), initCreatedOutputTemplateConstant, targetPath)
	return nil
}

func (application *Application) resolveInitializationTarget(settingsScope string) (string, []byte, error) {
	normalizedScope := strings.ToLower(strings.TrimSpace(settingsScope))
	switch normalizedScope {
	case "":
		documentPath := ""
		if application.runFlagValues != nil {
			documentPath = strings.TrimSpace(application.runFlagValues.DocumentPath)
		}
		if len(documentPath) == 0 {
			workingDirectory, workingDirectoryError := application.resolveWorkingDirectory()
			if workingDirectoryError != nil {
				return "", nil, workingDirectoryError
			}
			documentPath = filepath.Join(workingDirectory, initDefaultDocumentNameConstant)
		}
		return documentPath, EmbeddedSampleDocument(), nil
	case initSettingsScopeLocalConstant:
		workingDirectory, workingDirectoryError := application.resolveWorkingDirectory()
		if workingDirectoryError != nil {
			return "", nil, workingDirectoryError
		}
		content, _ := EmbeddedDefaultConfiguration()
		return filepath.Join(workingDirectory, configurationFileNameConstant), content, nil
	case initSettingsScopeUserConstant:
		content, _ := EmbeddedDefaultConfiguration()
		return filepath.Join(xdg.ConfigHome, configurationInitializationUserDirectoryName, configurationFileNameConstant), content, nil
	default:
		return "", nil, fmt.Errorf(initUnsupportedScopeTemplateConstant, settingsScope, initSettingsScopeLocalConstant, initSettingsScopeUserConstant)
	}
}

func (application *Application) writeInitializationFile(targetPath string, content []byte, force bool) error {
	if len(content) == 0 {
		return errors.New(initContentUnavailableErrorConstant)
	}

	directoryPath := filepath.Dir(targetPath)
	if createError := application.fileSystem.MkdirAll(directoryPath, initDirectoryPermissionConstant); createError != nil {
		return fmt.Errorf(initDirectoryErrorTemplateConstant, directoryPath, createError)
	}

	fileInfo, statError := application.fileSystem.Stat(targetPath)
	switch {
	case statError == nil:
		if fileInfo.IsDir() {
			return fmt.Errorf(initExistingDirectoryTemplateConstant, targetPath)
		}
		if !force {
			return fmt.Errorf(initExistingFileTemplateConstant, targetPath)
		}
	case errors.Is(statError, os.ErrNotExist):
	default:
		return fmt.Errorf(initWriteErrorTemplateConstant, targetPath, statError)
	}

	if writeError := afero.WriteFile(application.fileSystem, targetPath, content, initFilePermissionConstant); writeError != nil {
		return fmt.Errorf(initWriteErrorTemplateConstant, targetPath, writeError)
	}
	return nil
}
