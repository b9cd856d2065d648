// Package fsutil provides glob helpers shared by the compiler's source
// selection, resource providers, and the watcher.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob expands a doublestar pattern relative to baseDir and returns matching
// file paths relative to baseDir, sorted. Directories are excluded.
func Glob(baseDir, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(
		os.DirFS(baseDir),
		pattern,
		doublestar.WithFilesOnly(),
	)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Match reports whether a relative path matches any of the given doublestar
// patterns. Invalid patterns never match.
func Match(patterns []string, relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, p := range patterns {
		ok, err := doublestar.Match(p, relPath)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// ValidatePatterns checks every pattern eagerly so invalid globs fail at
// construction time rather than silently failing to match later.
func ValidatePatterns(patterns []string, kind string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid %s pattern: %q", kind, p)
		}
	}
	return nil
}
