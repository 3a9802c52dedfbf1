package workspace

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// symbol is one structural entity (a definition header with its body
// elided) found in a file.
type symbol struct {
	Name      string
	Signature string
	Line      int
}

// Skeletonizer parses source files with tree-sitter and renders a compact,
// LLM-friendly structural summary: one line per definition the language's
// query matches (nested ones and methods included), body stripped.
type Skeletonizer struct {
	mu        sync.Mutex
	parsers   map[string]*sitter.Parser
	queries   map[string]*sitter.Query
	languages map[string]*sitter.Language
}

func NewSkeletonizer() *Skeletonizer {
	return &Skeletonizer{
		parsers: make(map[string]*sitter.Parser),
		queries: make(map[string]*sitter.Query),
		languages: map[string]*sitter.Language{
			".go":  golang.GetLanguage(),
			".py":  python.GetLanguage(),
			".js":  javascript.GetLanguage(),
			".jsx": javascript.GetLanguage(),
			".ts":  typescript.GetLanguage(),
			".tsx": typescript.GetLanguage(),
		},
	}
}

// Skeletonize parses content (whose path determines the grammar) and
// returns its rendered skeleton.
func (s *Skeletonizer) Skeletonize(ctx context.Context, path string, content []byte) (string, error) {
	ext := filepath.Ext(path)
	lang, ok := s.languages[ext]
	if !ok {
		return "", fmt.Errorf("unsupported language extension: %s", ext)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parser, ok := s.parsers[ext]
	if !ok {
		parser = sitter.NewParser()
		parser.SetLanguage(lang)
		s.parsers[ext] = parser
	}

	query, ok := s.queries[ext]
	if !ok {
		q, err := sitter.NewQuery([]byte(queryForExt(ext)), lang)
		if err != nil {
			return "", fmt.Errorf("invalid query for %s: %w", ext, err)
		}
		s.queries[ext] = q
		query = q
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return "", fmt.Errorf("parsing failed: %w", err)
	}
	defer tree.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, tree.RootNode())

	var symbols []symbol
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}

		var sym symbol
		var node *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "def":
				node = c.Node
				sym.Line = int(node.StartPoint().Row) + 1
			case "name":
				sym.Name = c.Node.Content(content)
			}
		}
		if node != nil && sym.Name != "" {
			sym.Signature = cleanSignature(content, node)
			symbols = append(symbols, sym)
		}
	}

	return renderSkeleton(path, symbols), nil
}

func renderSkeleton(path string, symbols []symbol) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<file path=\"%s\">\n", path)
	for _, s := range symbols {
		b.WriteString(s.Signature)
		b.WriteString("\n")
	}
	b.WriteString("</file>\n")
	return b.String()
}

// cleanSignature keeps the definition's header line and strips the body,
// cutting at the first opening brace when present.
func cleanSignature(content []byte, node *sitter.Node) string {
	start, end := node.StartByte(), node.EndByte()
	if start >= uint32(len(content)) || end > uint32(len(content)) {
		return ""
	}
	raw := content[start:end]

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	if scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "{"); idx != -1 {
			line = line[:idx]
		}
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(string(raw))
}

func queryForExt(ext string) string {
	switch ext {
	case ".go":
		return `
(function_declaration name: (identifier) @name) @def
(method_declaration name: (field_identifier) @name) @def
(type_declaration (type_spec name: (type_identifier) @name)) @def
`
	case ".py":
		return `
(function_definition name: (identifier) @name) @def
(class_definition name: (identifier) @name) @def
`
	case ".ts", ".tsx":
		return `
(function_declaration name: (identifier) @name) @def
(class_declaration name: (type_identifier) @name) @def
(interface_declaration name: (type_identifier) @name) @def
(variable_declarator
    name: (identifier) @name
    value: [(arrow_function) (function_expression)]
) @def
`
	case ".js", ".jsx":
		return `
(function_declaration name: (identifier) @name) @def
(class_declaration name: (identifier) @name) @def
(variable_declarator
    name: (identifier) @name
    value: [(arrow_function) (function_expression)]
) @def
`
	default:
		return ""
	}
}

// GetSkeleton reads relPath and renders its structural skeleton, matching
// the dispatcher's read_skeleton contract.
func (w *Workspace) GetSkeleton(relPath string) (string, error) {
	content, err := w.ReadFile(relPath)
	if err != nil {
		return "", err
	}
	return w.skel.Skeletonize(context.Background(), relPath, []byte(content))
}
