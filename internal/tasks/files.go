package tasks

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/tyemirov/kiln/internal/glob"
)

const (
	currentDirectory  = "."
	globMetaCharacter = "*?[{"
	directoryMode     = 0o755
)

// expandOrdered lists files under base matching patterns, keeping the order
// of the positive patterns and sorting within each. Negations apply to all.
func expandOrdered(fileSystem afero.Fs, base string, patterns []string) ([]string, error) {
	positives := make([]string, 0, len(patterns))
	negatives := make([]string, 0)
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if strings.HasPrefix(trimmed, "!") {
			negatives = append(negatives, trimmed)
			continue
		}
		positives = append(positives, trimmed)
	}

	seen := make(map[string]struct{})
	ordered := make([]string, 0)
	for _, positive := range positives {
		patternSet, patternError := glob.NewPatternSet(append([]string{positive}, negatives...)...)
		if patternError != nil {
			return nil, patternError
		}
		matches, expandError := glob.Expand(fileSystem, base, patternSet)
		if expandError != nil {
			return nil, expandError
		}
		for _, match := range matches {
			if _, exists := seen[match]; exists {
				continue
			}
			seen[match] = struct{}{}
			ordered = append(ordered, match)
		}
	}
	return ordered, nil
}

func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, globMetaCharacter) || strings.HasPrefix(strings.TrimSpace(pattern), "!")
}

// fsPath converts a forward-slash path joined onto base into a file system path.
func fsPath(base string, relative string) string {
	if len(base) == 0 || base == currentDirectory {
		return filepath.FromSlash(path.Clean(relative))
	}
	return filepath.Join(filepath.FromSlash(base), filepath.FromSlash(relative))
}

func copyFile(fileSystem afero.Fs, sourcePath string, targetPath string) error {
	source, openError := fileSystem.Open(sourcePath)
	if openError != nil {
		return openError
	}
	defer source.Close()

	info, statError := source.Stat()
	if statError != nil {
		return statError
	}
	if mkdirError := fileSystem.MkdirAll(filepath.Dir(targetPath), directoryMode); mkdirError != nil {
		return mkdirError
	}
	target, createError := fileSystem.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if createError != nil {
		return createError
	}
	if _, copyError := io.Copy(target, source); copyError != nil {
		_ = target.Close()
		return copyError
	}
	return target.Close()
}

func expandOutputs(fileSystem afero.Fs, outputs []string) ([]string, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	return expandOrdered(fileSystem, currentDirectory, outputs)
}
