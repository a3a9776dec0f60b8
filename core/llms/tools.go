package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// ToolHandler executes one tool call from its raw JSON arguments.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (string, error)

// Tool is a named callable the model may invoke mid-stream.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object, as declared to
	// the backend.
	Parameters json.RawMessage

	handler ToolHandler
}

// NewTool declares a tool whose argument schema is reflected from T.
func NewTool[T any](name string, description string, handler func(ctx context.Context, params T) (string, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.ReflectFromType(reflect.TypeFor[T]())
	parameters, _ := schema.MarshalJSON()

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			var params T
			if len(arguments) > 0 {
				if err := json.Unmarshal(arguments, &params); err != nil {
					return "", fmt.Errorf("decoding arguments for tool %q: %w", name, err)
				}
			}
			return handler(ctx, params)
		},
	}
}

// NewRawTool declares a tool with a hand-written argument schema.
func NewRawTool(name string, description string, parameters json.RawMessage, handler ToolHandler) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		handler:     handler,
	}
}

// Execute runs the tool's handler.
func (t Tool) Execute(ctx context.Context, arguments json.RawMessage) (string, error) {
	if t.handler == nil {
		return "", fmt.Errorf("tool %q has no handler", t.Name)
	}
	return t.handler(ctx, arguments)
}
