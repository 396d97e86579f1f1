// Package util holds small helpers shared by verimesh packages.
package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var templateFuncs = template.FuncMap{
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items any) string {
		switch v := items.(type) {
		case []string:
			return strings.Join(v, sep)
		case []any:
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = fmt.Sprintf("%v", item)
			}
			return strings.Join(parts, sep)
		default:
			return fmt.Sprintf("%v", items)
		}
	},
}

// RenderTemplate expands {{ }} placeholders in a prompt with vars. Text
// without placeholders is returned as is. Prompts are plain text, so no
// HTML escaping is applied; a missing key renders as an empty string.
func RenderTemplate(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
