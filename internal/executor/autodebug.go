package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FileReader resolves a workspace-relative path to its text content, backing
// auto-debug source-location enrichment. The workspace effector supplies the
// concrete implementation; the executor only needs read access.
type FileReader interface {
	ReadFile(relPath string) (string, error)
}

var (
	rustLocRe    = regexp.MustCompile(`-->\s+(.+):(\d+):(\d+)`)
	tsLocRe      = regexp.MustCompile(`([\w./-]+)\((\d+),\d+\):\s+error`)
	genericLocRe = regexp.MustCompile(`(?m)(?:^|\s)([\w./-]+):(\d+):(\d+)`)
)

// parseErrorLocation tries three regex families in order (Rust compiler,
// TypeScript compiler, generic file:line:col) and returns the first
// (file, line) match found in output.
func parseErrorLocation(output string) (file string, line int, ok bool) {
	if m := rustLocRe.FindStringSubmatch(output); m != nil {
		if l, err := strconv.Atoi(m[2]); err == nil {
			return m[1], l, true
		}
	}
	if m := tsLocRe.FindStringSubmatch(output); m != nil {
		if l, err := strconv.Atoi(m[2]); err == nil {
			return m[1], l, true
		}
	}
	if m := genericLocRe.FindStringSubmatch(output); m != nil {
		if strings.Contains(m[1], ".") {
			if l, err := strconv.Atoi(m[2]); err == nil {
				return m[1], l, true
			}
		}
	}
	return "", 0, false
}

// tryAutoDebugContext attempts to enrich a failing command's output with a
// ±5-line source snippet around the first parsed error location.
func tryAutoDebugContext(ws FileReader, output string) string {
	file, line, ok := parseErrorLocation(output)
	if !ok || ws == nil {
		return ""
	}
	content, err := ws.ReadFile(file)
	if err != nil {
		return ""
	}

	lines := strings.Split(content, "\n")
	if line <= 0 || line > len(lines) {
		return ""
	}

	start := line - 5
	if start < 1 {
		start = 1
	}
	end := line + 5
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	for n := start; n <= end; n++ {
		marker := "   "
		if n == line {
			marker = ">> "
		}
		sb.WriteString(fmt.Sprintf("%s%d| %s\n", marker, n, lines[n-1]))
	}
	return fmt.Sprintf("File: %s:%d:\n%s", file, line, strings.TrimRight(sb.String(), "\n"))
}
