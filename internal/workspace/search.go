package workspace

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SearchCode greps every tracked file under Root for query (a regular
// expression) and returns one "relpath:line: text" entry per match, in
// directory-walk order. The teacher pack's only comparable dependencies
// (grep_regex/ignore) are Rust-only, so this uses the stdlib regexp +
// filepath.WalkDir combination the examples themselves reach for.
func (w *Workspace) SearchCode(query string) ([]string, error) {
	matcher, err := regexp.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("workspace: regex error: %w", err)
	}

	var matches []string
	err = filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.Root && w.shouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, relErr := filepath.Rel(w.Root, path)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if matcher.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", relPath, lineNo, strings.TrimSpace(line)))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	return matches, nil
}

// FindConsumers derives a search term from relPath's extension/stem (the
// ".rs" mod.rs-parent-dir special case generalizes naturally to any
// language whose stem is a module-index convention) and returns the
// distinct file paths, excluding relPath itself, whose text matches it as a
// whole word. Returns nil if the extension isn't one this heuristic covers.
func (w *Workspace) FindConsumers(relPath string) ([]string, error) {
	term := consumerSearchTerm(relPath)
	if term == "" {
		return nil, nil
	}

	query := `\b` + regexp.QuoteMeta(term) + `\b`
	matches, err := w.SearchCode(query)
	if err != nil {
		return nil, err
	}

	var consumers []string
	seen := map[string]bool{}
	for _, m := range matches {
		path, _, ok := strings.Cut(m, ":")
		if !ok || path == relPath || seen[path] {
			continue
		}
		seen[path] = true
		consumers = append(consumers, path)
	}
	return consumers, nil
}

func consumerSearchTerm(relPath string) string {
	ext := filepath.Ext(relPath)
	stem := strings.TrimSuffix(filepath.Base(relPath), ext)

	switch ext {
	case ".rs":
		if stem == "mod" {
			return filepath.Base(filepath.Dir(relPath))
		}
		return stem
	case ".ts", ".tsx", ".js", ".jsx":
		return stem
	case ".go":
		if stem == "main" || stem == "doc" {
			return filepath.Base(filepath.Dir(relPath))
		}
		return stem
	case ".py":
		if stem == "__init__" {
			return filepath.Base(filepath.Dir(relPath))
		}
		return stem
	default:
		return ""
	}
}
