package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name string
		text string
		vars map[string]any
		want string
	}{
		{"no placeholders", "plain {text}", nil, "plain {text}"},
		{"variable", "You are {{.role}}.", map[string]any{"role": "analyst"}, "You are analyst."},
		{"no escaping", `Return {{.shape}}`, map[string]any{"shape": `{"a":"<b>"}`}, `Return {"a":"<b>"}`},
		{"join strings", `{{join ", " .caps}}`, map[string]any{"caps": []string{"sql", "go"}}, "sql, go"},
		{"default", `{{default "assistant" .role}}`, map[string]any{}, "assistant"},
		{"missing key", `[{{.missing}}]`, map[string]any{}, "[]"},
		{"upper", `{{upper .id}}`, map[string]any{"id": "a1"}, "A1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderTemplate(tt.text, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderTemplate_ParseError(t *testing.T) {
	_, err := RenderTemplate("{{ .broken", nil)
	assert.Error(t, err)
}
