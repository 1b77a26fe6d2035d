package glob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

const expandWalkErrorTemplateConstant = "glob.expand: walk %s: %w"

// Expand lists the files under baseDirectory whose base-relative paths match
// the set. Results are base-relative, forward-slash, sorted and unique.
// Roots that do not exist contribute nothing.
func Expand(fileSystem afero.Fs, baseDirectory string, patternSet PatternSet) ([]string, error) {
	if patternSet.IsEmpty() {
		return nil, nil
	}

	matchedPaths := make(map[string]struct{})
	for _, root := range patternSet.Roots() {
		walkRoot := filepath.Join(baseDirectory, filepath.FromSlash(root))
		walkError := afero.Walk(fileSystem, walkRoot, func(currentPath string, info os.FileInfo, visitError error) error {
			if visitError != nil {
				if errors.Is(visitError, fs.ErrNotExist) {
					return nil
				}
				return visitError
			}
			if info.IsDir() {
				return nil
			}
			relativePath, relativeError := filepath.Rel(baseDirectory, currentPath)
			if relativeError != nil {
				return relativeError
			}
			normalized := NormalizePath(filepath.ToSlash(relativePath))
			if patternSet.Matches(normalized) {
				matchedPaths[normalized] = struct{}{}
			}
			return nil
		})
		if walkError != nil {
			if errors.Is(walkError, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf(expandWalkErrorTemplateConstant, walkRoot, walkError)
		}
	}

	expanded := make([]string, 0, len(matchedPaths))
	for matched := range matchedPaths {
		expanded = append(expanded, matched)
	}
	sort.Strings(expanded)
	return expanded, nil
}
