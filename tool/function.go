package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/verimesh/schema"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated and coerced with the schema package before the
// function runs, so a model sending "3" for an integer parameter still
// reaches fn with an int64. Failures are normalized to *ToolError:
//
//	validation failure -> Code VALIDATION_ERROR
//	other error        -> Code EXECUTION_ERROR
//	*ToolError from fn -> forwarded unchanged
//
// A FunctionTool holds no mutable state and is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	params      schema.SchemaSpec
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

var _ Tool = (*FunctionTool)(nil)

// NewFunctionTool constructs a FunctionTool from a parameter spec.
//
//	sum := tool.NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  schema.New(schema.Field("a", schema.TypeNumber), schema.Field("b", schema.TypeNumber)),
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	params schema.SchemaSpec,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		params:      params,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter spec from a struct.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, schema.FromStruct(structType), fn)
}

// Name returns the tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema of the arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.params.JSONSchema() }

// Call validates args then invokes the wrapped function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &ToolError{Tool: t.name, Message: fmt.Sprintf("encode arguments: %v", err), Code: CodeValidation}
	}

	coerced := args
	if !t.params.IsZero() {
		coerced, err = schema.Validate(string(raw), t.params)
		if err != nil {
			return nil, &ToolError{
				Tool:    t.name,
				Message: fmt.Sprintf("parameter validation failed: %v", err),
				Code:    CodeValidation,
				Details: err,
			}
		}
	}

	result, err := t.fn(ctx, coerced)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}
	return result, nil
}
