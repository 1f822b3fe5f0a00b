package watcher

import (
	"path/filepath"
	"strings"
)

// FileFilter reports whether a changed path should produce an event.
type FileFilter func(path string) bool

// Ignored reports whether a file or directory name is never published:
// hidden entries and editor scratch files.
func Ignored(name string) bool {
	if name == "" {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	// Vim probes directory writability with a file named 4913.
	if name == "4913" {
		return true
	}
	if strings.HasSuffix(name, "~") {
		return true
	}
	if strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#") {
		return true
	}
	switch filepath.Ext(name) {
	case ".swp", ".swx", ".swo":
		return true
	}
	return false
}

// NoIgnoredFilter drops hidden and editor scratch files.
func NoIgnoredFilter(path string) bool {
	return !Ignored(filepath.Base(path))
}

// NoGitFilter drops anything inside a .git directory.
func NoGitFilter(path string) bool {
	slashed := filepath.ToSlash(path)
	return !strings.HasPrefix(slashed, ".git/") && !strings.Contains(slashed, "/.git/")
}
