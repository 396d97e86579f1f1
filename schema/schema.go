package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// FieldType is the declared type of an output field.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// ParseFieldType accepts the canonical names plus the JSON schema alias
// "string".
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string":
		return TypeText, nil
	case "integer", "int":
		return TypeInteger, nil
	case "number", "float":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "array", "list":
		return TypeArray, nil
	case "object", "map":
		return TypeObject, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

// jsonType maps the field type onto its JSON schema name.
func (t FieldType) jsonType() string {
	if t == TypeText {
		return "string"
	}
	return string(t)
}

// FieldSpec declares one output field.
type FieldSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description"`
}

// Field declares a required field.
func Field(name string, typ FieldType) FieldSpec {
	return FieldSpec{Name: name, Type: typ, Required: true}
}

// OptionalField declares a field that may be absent.
func OptionalField(name string, typ FieldType) FieldSpec {
	return FieldSpec{Name: name, Type: typ}
}

// SchemaSpec is the ordered list of fields a task output must provide. The
// zero value accepts free text.
type SchemaSpec struct {
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

// New builds a SchemaSpec from fields.
func New(fields ...FieldSpec) SchemaSpec {
	return SchemaSpec{Fields: append([]FieldSpec(nil), fields...)}
}

// IsZero reports whether the spec declares no fields.
func (s SchemaSpec) IsZero() bool { return len(s.Fields) == 0 }

// Lookup returns the field named name.
func (s SchemaSpec) Lookup(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// JSONSchema renders the spec as a JSON schema object. It is sent to the
// model gateway as a structured output hint.
func (s SchemaSpec) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		prop := map[string]any{"type": f.Type.jsonType()}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Instructions renders the prompt text describing the expected output.
func (s SchemaSpec) Instructions() string {
	if s.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else. Fields:\n")
	for _, f := range s.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)", f.Name, f.Type, req)
		if f.Description != "" {
			b.WriteString(": " + f.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FromStruct derives a SchemaSpec from a struct using reflection. Field names
// follow json tags, descriptions come from the `description` tag and fields
// are required unless they are pointers or tagged omitempty.
func FromStruct(v any) SchemaSpec {
	t := reflect.TypeOf(v)
	if t == nil {
		return SchemaSpec{}
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return SchemaSpec{}
	}

	var fields []FieldSpec
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := sf.Name
		if parts := strings.Split(tag, ","); parts[0] != "" {
			name = parts[0]
		}
		fields = append(fields, FieldSpec{
			Name:        name,
			Type:        fieldTypeOf(sf.Type),
			Required:    !hasOmitEmpty(tag) && sf.Type.Kind() != reflect.Ptr,
			Description: sf.Tag.Get("description"),
		})
	}
	return SchemaSpec{Fields: fields}
}

func fieldTypeOf(t reflect.Type) FieldType {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger
	case reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.Bool:
		return TypeBoolean
	case reflect.Slice, reflect.Array:
		return TypeArray
	case reflect.Map, reflect.Struct:
		return TypeObject
	case reflect.Ptr:
		return fieldTypeOf(t.Elem())
	default:
		return TypeText
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

// FromJSONSchema derives a SchemaSpec from a JSON schema object such as a
// tool input schema. Properties are ordered by name; unknown property types
// fall back to text.
func FromJSONSchema(m map[string]any) SchemaSpec {
	props, _ := m["properties"].(map[string]any)
	if len(props) == 0 {
		return SchemaSpec{}
	}
	required := map[string]bool{}
	switch req := m["required"].(type) {
	case []string:
		for _, r := range req {
			required[r] = true
		}
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]FieldSpec, 0, len(names))
	for _, name := range names {
		f := FieldSpec{Name: name, Type: TypeText, Required: required[name]}
		if prop, ok := props[name].(map[string]any); ok {
			if typ, ok := prop["type"].(string); ok {
				if ft, err := ParseFieldType(typ); err == nil {
					f.Type = ft
				}
			}
			f.Description, _ = prop["description"].(string)
		}
		fields = append(fields, f)
	}
	return SchemaSpec{Fields: fields}
}
