package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ViolationKind classifies a schema violation.
type ViolationKind string

const (
	MissingField ViolationKind = "missing_field"
	TypeMismatch ViolationKind = "type_mismatch"
	// Malformed means no JSON object could be extracted at all.
	Malformed ViolationKind = "malformed"
)

// Violation describes one field that failed validation.
type Violation struct {
	Field   string        `json:"field"`
	Kind    ViolationKind `json:"kind"`
	Message string        `json:"message"`
	Value   any           `json:"value,omitempty"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// ValidationError lists every violation found in a candidate output.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Issues renders the violations as critique issues.
func (e *ValidationError) Issues() []string {
	issues := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		issues[i] = v.String()
	}
	return issues
}

// FreeTextField is the key used for outputs validated against an empty spec
// that did not contain a JSON object.
const FreeTextField = "text"

// Validate parses raw against spec. On success it returns the parsed output
// with values coerced to their declared types; unknown fields are kept as
// decoded. On failure it returns a *ValidationError listing all violations,
// sorted by field name.
func Validate(raw string, spec SchemaSpec) (map[string]any, error) {
	obj, ok := ExtractJSON(raw)
	if !ok {
		if spec.IsZero() {
			return map[string]any{FreeTextField: strings.TrimSpace(raw)}, nil
		}
		return nil, &ValidationError{Violations: []Violation{{
			Kind:    Malformed,
			Message: "output does not contain a JSON object",
		}}}
	}

	values := gjson.Parse(obj).Map()
	parsed := make(map[string]any, len(values))
	var violations []Violation

	for _, f := range spec.Fields {
		v, present := values[f.Name]
		if !present || v.Type == gjson.Null {
			if f.Required {
				violations = append(violations, Violation{
					Field:   f.Name,
					Kind:    MissingField,
					Message: "missing required field",
				})
			}
			continue
		}
		coerced, err := coerce(v, f.Type)
		if err != nil {
			violations = append(violations, Violation{
				Field:   f.Name,
				Kind:    TypeMismatch,
				Message: err.Error(),
				Value:   v.Value(),
			})
			continue
		}
		parsed[f.Name] = coerced
	}

	if len(violations) > 0 {
		sort.SliceStable(violations, func(i, j int) bool { return violations[i].Field < violations[j].Field })
		return nil, &ValidationError{Violations: violations}
	}

	for name, v := range values {
		if _, declared := spec.Lookup(name); !declared {
			parsed[name] = v.Value()
		}
	}
	return parsed, nil
}

func coerce(v gjson.Result, typ FieldType) (any, error) {
	switch typ {
	case TypeText:
		switch v.Type {
		case gjson.String:
			return v.Str, nil
		case gjson.Number:
			return v.Raw, nil
		case gjson.True, gjson.False:
			return strconv.FormatBool(v.Bool()), nil
		}
	case TypeInteger:
		switch v.Type {
		case gjson.Number:
			if isIntegral(v.Num) {
				return int64(v.Num), nil
			}
		case gjson.String:
			s := strings.TrimSpace(v.Str)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil && isIntegral(f) {
				return int64(f), nil
			}
		}
	case TypeNumber:
		switch v.Type {
		case gjson.Number:
			return v.Num, nil
		case gjson.String:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				return f, nil
			}
		}
	case TypeBoolean:
		switch v.Type {
		case gjson.True, gjson.False:
			return v.Bool(), nil
		case gjson.String:
			if b, ok := parseBool(v.Str); ok {
				return b, nil
			}
		}
	case TypeArray:
		if v.IsArray() {
			if arr, ok := v.Value().([]any); ok {
				return arr, nil
			}
		}
	case TypeObject:
		if v.IsObject() {
			if obj, ok := v.Value().(map[string]any); ok {
				return obj, nil
			}
		}
	default:
		return v.Value(), nil
	}
	return nil, fmt.Errorf("expected %s, got %s", typ, describe(v))
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) < 1<<53
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	}
	return false, false
}

func describe(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "array"
	case v.IsObject():
		return "object"
	}
	switch v.Type {
	case gjson.String:
		return fmt.Sprintf("text %q", v.Str)
	case gjson.Number:
		return "number " + v.Raw
	case gjson.True, gjson.False:
		return "boolean"
	}
	return v.Type.String()
}
