package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/mod/semver"

	"github.com/tyemirov/kiln/internal/configtree"
	kilnerrors "github.com/tyemirov/kiln/internal/errors"
	"github.com/tyemirov/kiln/internal/glob"
)

// Top-level document sections.
const (
	SectionProject   = "project"
	SectionEngine    = "engine"
	SectionTasks     = "tasks"
	SectionPipelines = "pipelines"
	SectionWatch     = "watch"
)

const (
	documentBaseName        = "kiln"
	semanticVersionPrefix   = "v"
	watchRulesSection       = "rules"
	taskOptionsField        = "options"
	documentNotFoundMessage = "no pipeline document found in %s (tried %s)"
)

// DocumentCandidates lists the file names FindDocument looks for, in order.
var DocumentCandidates = []string{
	documentBaseName + ".yaml",
	documentBaseName + ".yml",
	documentBaseName + ".json",
	documentBaseName + ".toml",
	documentBaseName + ".hcl",
}

// ErrDocumentNotFound indicates that no pipeline document exists in the
// searched directory.
var ErrDocumentNotFound = errors.New("pipeline document not found")

// Project identifies the site being built.
type Project struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Engine holds the file-system boundary.
type Engine struct {
	SourceRoot      string `mapstructure:"source_root"`
	DestinationRoot string `mapstructure:"destination_root"`
}

// TaskEntry is one entry of the tasks section. An entry with Subtasks is a
// composite; any other entry needs a Kind.
type TaskEntry struct {
	Name        string
	Kind        string
	Description string
	Inputs      []string
	Outputs     []string
	Subtasks    []string
	BestEffort  bool
	Options     *configtree.Node
}

// PipelineEntry is a named, ordered list of tasks.
type PipelineEntry struct {
	Name  string
	Tasks []string
}

// WatchRuleEntry maps file patterns to the tasks they re-run.
type WatchRuleEntry struct {
	Name  string
	Files []string
	Tasks []string
}

// WatchSection configures the watch task kind.
type WatchSection struct {
	Debounce time.Duration
	Roots    []string
	Rules    []WatchRuleEntry
}

// Document is the decoded pipeline document. Configuration is the whole
// resolved tree handed to every executor.
type Document struct {
	Source        string
	Project       Project
	Engine        Engine
	Tasks         []TaskEntry
	Pipelines     []PipelineEntry
	Watch         WatchSection
	Configuration *configtree.Node
}

type taskSection struct {
	Kind        string   `mapstructure:"kind"`
	Description string   `mapstructure:"description"`
	Inputs      []string `mapstructure:"inputs"`
	Outputs     []string `mapstructure:"outputs"`
	Tasks       []string `mapstructure:"tasks"`
	BestEffort  bool     `mapstructure:"best_effort"`
	Options     any      `mapstructure:"options"`
}

type watchSettingsSection struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Roots    []string      `mapstructure:"roots"`
	Rules    any           `mapstructure:"rules"`
}

type watchRuleSection struct {
	Files []string `mapstructure:"files"`
	Tasks []string `mapstructure:"tasks"`
}

// FindDocument returns the first DocumentCandidates entry present in directory.
func FindDocument(fileSystem afero.Fs, directory string) (string, error) {
	for _, candidate := range DocumentCandidates {
		candidatePath := filepath.Join(directory, candidate)
		info, statError := fileSystem.Stat(candidatePath)
		if statError != nil {
			if errors.Is(statError, fs.ErrNotExist) {
				continue
			}
			return "", statError
		}
		if !info.IsDir() {
			return candidatePath, nil
		}
	}
	return "", fmt.Errorf("%w: "+documentNotFoundMessage, ErrDocumentNotFound, directory, strings.Join(DocumentCandidates, ", "))
}

// LoadDocument reads, resolves and decodes the document at documentPath.
// The file is read once; references are resolved before any section is
// decoded.
func LoadDocument(fileSystem afero.Fs, documentPath string) (Document, error) {
	raw, loadError := configtree.LoadFile(fileSystem, documentPath)
	if loadError != nil {
		return Document{}, kilnerrors.Wrap(kilnerrors.OperationDocumentLoad, documentPath, kilnerrors.ErrDocumentInvalid, loadError)
	}
	resolved, resolveError := configtree.Resolve(raw)
	if resolveError != nil {
		return Document{}, kilnerrors.Wrap(kilnerrors.OperationDocumentLoad, documentPath, kilnerrors.ErrDocumentInvalid, resolveError)
	}
	document, decodeError := DecodeDocument(resolved)
	if decodeError != nil {
		return Document{}, decodeError
	}
	document.Source = documentPath
	return document, nil
}

// DecodeDocument decodes the known sections of a resolved tree. Sections it
// does not know (paths, user variables) are left for executors to read.
func DecodeDocument(resolved *configtree.Node) (Document, error) {
	if resolved.Kind() != configtree.KindMapping {
		if resolved.Kind() == configtree.KindScalar && resolved.Value() == nil {
			resolved = configtree.EmptyMapping()
		} else {
			return Document{}, sectionError("", fmt.Errorf("document root must be a mapping, got %s", resolved.Kind()))
		}
	}
	document := Document{Configuration: resolved}

	if projectNode, exists := resolved.Field(SectionProject); exists {
		if decodeError := configtree.Decode(projectNode, &document.Project); decodeError != nil {
			return Document{}, sectionError(SectionProject, decodeError)
		}
		if versionError := validateVersion(document.Project.Version); versionError != nil {
			return Document{}, sectionError(SectionProject, versionError)
		}
	}

	if engineNode, exists := resolved.Field(SectionEngine); exists {
		if decodeError := configtree.Decode(engineNode, &document.Engine); decodeError != nil {
			return Document{}, sectionError(SectionEngine, decodeError)
		}
		if overlapError := validateEngineRoots(document.Engine); overlapError != nil {
			return Document{}, sectionError(SectionEngine, overlapError)
		}
	}

	taskEntries, tasksError := decodeTasks(resolved)
	if tasksError != nil {
		return Document{}, tasksError
	}
	document.Tasks = taskEntries

	pipelineEntries, pipelinesError := decodePipelines(resolved)
	if pipelinesError != nil {
		return Document{}, pipelinesError
	}
	document.Pipelines = pipelineEntries

	watchSection, watchError := decodeWatch(resolved)
	if watchError != nil {
		return Document{}, watchError
	}
	document.Watch = watchSection
	return document, nil
}

func decodeTasks(resolved *configtree.Node) ([]TaskEntry, error) {
	tasksNode, exists := resolved.Field(SectionTasks)
	if !exists || tasksNode.Len() == 0 {
		return nil, nil
	}
	if tasksNode.Kind() != configtree.KindMapping {
		return nil, sectionError(SectionTasks, errors.New("must be a mapping of task names"))
	}

	entries := make([]TaskEntry, 0, tasksNode.Len())
	for _, entry := range tasksNode.Entries() {
		subject := SectionTasks + "." + entry.Key
		if entry.Value.Kind() == configtree.KindSequence {
			subtasks := entry.Value.Strings()
			if len(subtasks) == 0 {
				return nil, sectionError(subject, errors.New("a task list must contain task names"))
			}
			entries = append(entries, TaskEntry{Name: entry.Key, Subtasks: subtasks})
			continue
		}

		var section taskSection
		if decodeError := configtree.Decode(entry.Value, &section); decodeError != nil {
			return nil, sectionError(subject, decodeError)
		}
		taskEntry := TaskEntry{
			Name:        entry.Key,
			Kind:        strings.TrimSpace(section.Kind),
			Description: section.Description,
			Inputs:      section.Inputs,
			Outputs:     section.Outputs,
			Subtasks:    section.Tasks,
			BestEffort:  section.BestEffort,
		}
		if optionsNode, hasOptions := entry.Value.Field(taskOptionsField); hasOptions {
			taskEntry.Options = optionsNode
		}
		switch {
		case len(taskEntry.Subtasks) > 0 && len(taskEntry.Kind) > 0:
			return nil, sectionError(subject, errors.New("a task cannot have both kind and tasks"))
		case len(taskEntry.Subtasks) > 0 && taskEntry.Options != nil:
			return nil, sectionError(subject, errors.New("a task list cannot have options"))
		case len(taskEntry.Subtasks) == 0 && len(taskEntry.Kind) == 0:
			return nil, sectionError(subject, errors.New("kind is required"))
		}
		entries = append(entries, taskEntry)
	}
	return entries, nil
}

func decodePipelines(resolved *configtree.Node) ([]PipelineEntry, error) {
	pipelinesNode, exists := resolved.Field(SectionPipelines)
	if !exists {
		return nil, nil
	}
	if pipelinesNode.Kind() != configtree.KindMapping {
		return nil, sectionError(SectionPipelines, errors.New("must be a mapping of pipeline names to task lists"))
	}

	entries := make([]PipelineEntry, 0, pipelinesNode.Len())
	for _, entry := range pipelinesNode.Entries() {
		taskNames := entry.Value.Strings()
		if entry.Value.Kind() != configtree.KindSequence || len(taskNames) == 0 {
			return nil, sectionError(SectionPipelines+"."+entry.Key, errors.New("must be a non-empty list of task names"))
		}
		entries = append(entries, PipelineEntry{Name: entry.Key, Tasks: taskNames})
	}
	return entries, nil
}

func decodeWatch(resolved *configtree.Node) (WatchSection, error) {
	watchNode, exists := resolved.Field(SectionWatch)
	if !exists {
		return WatchSection{}, nil
	}
	var settings watchSettingsSection
	if decodeError := configtree.Decode(watchNode, &settings); decodeError != nil {
		return WatchSection{}, sectionError(SectionWatch, decodeError)
	}
	section := WatchSection{Debounce: settings.Debounce, Roots: settings.Roots}
	if section.Debounce < 0 {
		return WatchSection{}, sectionError(SectionWatch, errors.New("debounce must not be negative"))
	}

	rulesNode, hasRules := watchNode.Field(watchRulesSection)
	if !hasRules || rulesNode.Len() == 0 {
		return section, nil
	}
	if rulesNode.Kind() != configtree.KindMapping {
		return WatchSection{}, sectionError(SectionWatch+"."+watchRulesSection, errors.New("must be a mapping of rule names"))
	}
	for _, entry := range rulesNode.Entries() {
		var rule watchRuleSection
		if decodeError := configtree.Decode(entry.Value, &rule); decodeError != nil {
			return WatchSection{}, sectionError(SectionWatch+"."+watchRulesSection+"."+entry.Key, decodeError)
		}
		section.Rules = append(section.Rules, WatchRuleEntry{Name: entry.Key, Files: rule.Files, Tasks: rule.Tasks})
	}
	return section, nil
}

func validateVersion(version string) error {
	trimmed := strings.TrimSpace(version)
	if len(trimmed) == 0 {
		return nil
	}
	canonical := trimmed
	if !strings.HasPrefix(canonical, semanticVersionPrefix) {
		canonical = semanticVersionPrefix + canonical
	}
	if !semver.IsValid(canonical) {
		return fmt.Errorf("version %q is not a semantic version", version)
	}
	return nil
}

func validateEngineRoots(engine Engine) error {
	if len(strings.TrimSpace(engine.SourceRoot)) == 0 || len(strings.TrimSpace(engine.DestinationRoot)) == 0 {
		return nil
	}
	source := glob.AbsolutePath(engine.SourceRoot)
	destination := glob.AbsolutePath(engine.DestinationRoot)
	if glob.ContainsPath(source, destination) || glob.ContainsPath(destination, source) {
		return fmt.Errorf("source_root %q and destination_root %q must not overlap", engine.SourceRoot, engine.DestinationRoot)
	}
	return nil
}

func sectionError(section string, cause error) error {
	return kilnerrors.Wrap(kilnerrors.OperationDocumentLoad, section, kilnerrors.ErrDocumentInvalid, cause)
}
