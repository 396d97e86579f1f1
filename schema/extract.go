package schema

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// fencePattern matches markdown code fences with an optional language tag.
var fencePattern = regexp.MustCompile("(?s)```(\\w*)\\s*\\n(.*?)\\n?```")

// ExtractJSON returns the first JSON object found in raw model output.
// Objects inside ```json (or untagged) fences win over bare objects.
func ExtractJSON(raw string) (string, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(raw, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && lang != "json" {
			continue
		}
		body := strings.TrimSpace(m[2])
		if strings.HasPrefix(body, "{") && gjson.Valid(body) {
			return body, true
		}
	}

	for start := strings.IndexByte(raw, '{'); start >= 0; {
		if obj := matchBrace(raw[start:]); obj != "" && gjson.Valid(obj) {
			return obj, true
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the balanced {...} prefix of s, honouring strings and
// escapes, or "" when the braces never balance.
func matchBrace(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
