package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportShape struct {
	Title   string   `json:"title" description:"Short title"`
	Count   int      `json:"count"`
	Score   *float64 `json:"score"`
	Tags    []string `json:"tags,omitempty"`
	Ignored string   `json:"-"`
	hidden  string
}

func TestFromStruct(t *testing.T) {
	spec := FromStruct(reportShape{})
	require.Len(t, spec.Fields, 4)

	assert.Equal(t, FieldSpec{Name: "title", Type: TypeText, Required: true, Description: "Short title"}, spec.Fields[0])
	assert.Equal(t, FieldSpec{Name: "count", Type: TypeInteger, Required: true}, spec.Fields[1])
	assert.Equal(t, FieldSpec{Name: "score", Type: TypeNumber}, spec.Fields[2])
	assert.Equal(t, FieldSpec{Name: "tags", Type: TypeArray}, spec.Fields[3])

	assert.True(t, FromStruct(42).IsZero())
	assert.True(t, FromStruct(nil).IsZero())
	_ = reportShape{}.hidden
}

func TestJSONSchema(t *testing.T) {
	js := New(Field("title", TypeText), OptionalField("n", TypeInteger)).JSONSchema()
	assert.Equal(t, "object", js["type"])
	assert.Equal(t, []string{"title"}, js["required"])
	props := js["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string"}, props["title"])
	assert.Equal(t, map[string]any{"type": "integer"}, props["n"])
}

func TestInstructions(t *testing.T) {
	text := New(Field("title", TypeText)).Instructions()
	assert.True(t, strings.Contains(text, "JSON"))
	assert.True(t, strings.Contains(text, "title (text, required)"))
	assert.Empty(t, SchemaSpec{}.Instructions())
}

func TestParseFieldType(t *testing.T) {
	ft, err := ParseFieldType("String")
	require.NoError(t, err)
	assert.Equal(t, TypeText, ft)

	_, err = ParseFieldType("matrix")
	assert.Error(t, err)
}

func TestFromJSONSchema(t *testing.T) {
	spec := FromJSONSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "search text"},
			"limit": map[string]any{"type": "integer"},
			"mode":  map[string]any{"type": "enum-ish"},
		},
		"required": []any{"query"},
	})

	require.Len(t, spec.Fields, 3)
	assert.Equal(t, FieldSpec{Name: "limit", Type: TypeInteger}, spec.Fields[0])
	assert.Equal(t, FieldSpec{Name: "mode", Type: TypeText}, spec.Fields[1])
	assert.Equal(t, FieldSpec{Name: "query", Type: TypeText, Required: true, Description: "search text"}, spec.Fields[2])

	assert.True(t, FromJSONSchema(map[string]any{"type": "object"}).IsZero())
}
