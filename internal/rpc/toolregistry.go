package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolRegistry holds the consolidated tool surface. Each tool's parameter
// type is reflected into a JSON Schema once at registration time via
// AddTool.
type ToolRegistry struct {
	tools []toolRegistration
}

type toolRegistration struct {
	name        string
	description string
	schema      json.RawMessage
	invoke      func(context.Context, json.RawMessage) (*ToolCallResult, error)
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// AddTool registers a typed tool handler. T's json/jsonschema struct tags
// drive both argument unmarshaling and the generated input schema.
func AddTool[T any](registry *ToolRegistry, name, description string, handler func(context.Context, T) (string, error)) *ToolRegistry {
	schema := generateSchema[T]()

	invoke := func(ctx context.Context, args json.RawMessage) (*ToolCallResult, error) {
		var params T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
			}
		}

		result, err := handler(ctx, params)
		if err != nil {
			return &ToolCallResult{
				Content: []ContentItem{{Type: "text", Text: err.Error()}},
				IsError: true,
			}, nil
		}

		return &ToolCallResult{Content: []ContentItem{{Type: "text", Text: result}}}, nil
	}

	registry.tools = append(registry.tools, toolRegistration{
		name:        name,
		description: description,
		schema:      schema,
		invoke:      invoke,
	})
	return registry
}

// Definitions returns every registered tool's ToolDefinition, for tools/list.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.tools))
	for i, t := range r.tools {
		out[i] = ToolDefinition{Name: t.name, Description: t.description, InputSchema: t.schema}
	}
	return out
}

// Call dispatches a tools/call invocation by name.
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, bool, error) {
	for _, t := range r.tools {
		if t.name == name {
			result, err := t.invoke(ctx, args)
			return result, true, err
		}
	}
	return nil, false, nil
}

// generateSchema reflects T's struct tags into a JSON Schema, inlining
// nested definitions so each tool's schema is self-contained.
func generateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := reflector.Reflect(zero)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("rpc: failed to generate schema for %T: %v", zero, err))
	}
	return data
}
