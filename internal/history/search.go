package history

import (
	"fmt"
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`[^\s"']+|"([^"]*)"|'([^']*)'`)
var wordRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ParseQuery converts freeform user input into FTS5 MATCH syntax, supporting
// quoted phrases and role filters (user:, ai:/assistant:, system:).
func ParseQuery(input string) string {
	input = strings.TrimSpace(input)
	tokens := tokenRe.FindAllString(input, -1)

	var parts []string
	for _, token := range tokens {
		if strings.HasPrefix(token, `"`) || strings.HasPrefix(token, "'") {
			parts = append(parts, token)
			continue
		}

		lower := strings.ToLower(token)
		switch {
		case strings.HasPrefix(lower, "user:"):
			parts = append(parts, roleFilter("user", token[5:]))
		case strings.HasPrefix(lower, "ai:"):
			parts = append(parts, roleFilter("assistant", token[3:]))
		case strings.HasPrefix(lower, "assistant:"):
			parts = append(parts, roleFilter("assistant", token[10:]))
		case strings.HasPrefix(lower, "system:"):
			parts = append(parts, roleFilter("system", token[7:]))
		default:
			if len(token) > 3 && wordRe.MatchString(token) {
				parts = append(parts, token+"*")
			} else {
				parts = append(parts, token)
			}
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " AND ")
}

func roleFilter(role, term string) string {
	if term == "" {
		return "role:" + role
	}
	return fmt.Sprintf("(role:%s AND content:%s)", role, term)
}
