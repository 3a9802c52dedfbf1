// Package workspace is the sandboxed filesystem effector the agent loop's
// tool dispatcher calls into: path-validated read/write/list, regex search,
// and tree-sitter-backed structural skeletons.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrSecurityViolation is returned when a path traverses outside root,
	// either via a literal ".." component or via canonicalization.
	ErrSecurityViolation = errors.New("workspace: path traversal detected")
	ErrInvalidPath       = errors.New("workspace: invalid path")
)

var defaultIgnoredDirs = []string{".git", "node_modules", "dist", "vendor", "__pycache__", "target", ".vscode"}

// FileEntry is one node of a directory listing, with children populated
// recursively for subdirectories.
type FileEntry struct {
	Path     string
	Name     string
	IsDir    bool
	Children []FileEntry
}

// Workspace roots all effector operations at Root and rejects any path that
// would resolve outside it.
type Workspace struct {
	Root        string
	IgnoredDirs []string
	MaxFiles    int

	skel *Skeletonizer
}

// New returns a Workspace rooted at root with the default ignored-directory
// set used for both directory listing and indexing.
func New(root string) *Workspace {
	return &Workspace{
		Root:        root,
		IgnoredDirs: defaultIgnoredDirs,
		MaxFiles:    1000,
		skel:        NewSkeletonizer(),
	}
}

// validatePath rejects ".." components outright, then verifies containment
// under Root: when requireExists is true the full path must already exist
// and is canonicalized directly; when false (writes), the parent directory
// is canonicalized and checked instead if it exists (a parent that does not
// exist yet gets only the ".." check), and the joined, non-canonicalized
// path is returned.
func (w *Workspace) validatePath(userPath string, requireExists bool) (string, error) {
	for _, part := range strings.Split(filepath.ToSlash(userPath), "/") {
		if part == ".." {
			return "", ErrSecurityViolation
		}
	}

	full := filepath.Join(w.Root, userPath)

	canonicalBase, err := filepath.EvalSymlinks(w.Root)
	if err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}

	if requireExists {
		canonicalFull, err := filepath.EvalSymlinks(full)
		if err != nil {
			return "", fmt.Errorf("workspace: %w", err)
		}
		if !withinRoot(canonicalFull, canonicalBase) {
			return "", ErrSecurityViolation
		}
		return canonicalFull, nil
	}

	parent := filepath.Dir(full)
	if _, err := os.Stat(parent); err == nil {
		canonicalParent, err := filepath.EvalSymlinks(parent)
		if err != nil {
			return "", fmt.Errorf("workspace: %w", err)
		}
		if !withinRoot(canonicalParent, canonicalBase) {
			return "", ErrSecurityViolation
		}
	}
	return full, nil
}

func withinRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") )
}

// ReadFile returns the raw content of relPath, satisfying executor.FileReader.
func (w *Workspace) ReadFile(relPath string) (string, error) {
	full, err := w.validatePath(relPath, true)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}
	return string(data), nil
}

// WriteFile writes content to relPath, creating parent directories as
// needed. The target need not already exist.
func (w *Workspace) WriteFile(relPath, content string) error {
	full, err := w.validatePath(relPath, false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	return nil
}

func (w *Workspace) shouldIgnore(name string) bool {
	for _, ignore := range w.IgnoredDirs {
		if name == ignore {
			return true
		}
	}
	return false
}

// BuildFileTree recursively lists startDir, relative to Root, skipping
// ignored directories. Entries are sorted directories-first, then by name.
func (w *Workspace) BuildFileTree(startDir string) ([]FileEntry, error) {
	dirEntries, err := os.ReadDir(startDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	var entries []FileEntry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() && w.shouldIgnore(name) {
			continue
		}

		fullPath := filepath.Join(startDir, name)
		relPath, err := filepath.Rel(w.Root, fullPath)
		if err != nil {
			return nil, ErrInvalidPath
		}

		entry := FileEntry{
			Path:  filepath.ToSlash(relPath),
			Name:  name,
			IsDir: de.IsDir(),
		}
		if de.IsDir() {
			children, err := w.BuildFileTree(fullPath)
			if err != nil {
				return nil, err
			}
			entry.Children = children
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// ListFiles renders the top-level entries of dirPath (relative to Root, or
// Root itself when empty) as the dispatcher's newline-joined listing text.
func (w *Workspace) ListFiles(dirPath string) (string, error) {
	start := w.Root
	if dirPath != "" {
		full, err := w.validatePath(dirPath, true)
		if err != nil {
			return "", err
		}
		start = full
	}

	entries, err := w.BuildFileTree(start)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := ""
		if e.IsDir {
			prefix = "[DIR] "
		}
		lines = append(lines, prefix+e.Name)
	}
	return strings.Join(lines, "\n"), nil
}
