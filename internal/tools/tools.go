// Package tools defines the callable tools exposed to the model and the
// per-turn composition logic that decides which of them a turn gets.
//
// Composition is declarative: a resolved context yields a small set of
// capability predicates, and each predicate maps to a fixed tool family.
// The families themselves are plain descriptor lists, so gating logic is
// testable without touching any tool implementation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is one callable tool: a name and JSON schema shown to the model,
// and a handler invoked with the model's raw arguments. Handlers return a
// plain-text result; errors become failed tool results visible to the
// model, which may retry with corrected arguments.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Run         func(ctx context.Context, input json.RawMessage) (string, error)
}

// decode unmarshals tool arguments into args, turning malformed input into
// a handler error the model can see.
func decode(input json.RawMessage, args any) error {
	if len(input) == 0 {
		input = []byte("{}")
	}
	if err := json.Unmarshal(input, args); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

// obj builds a JSON-schema object with the given properties and required
// field names.
func obj(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// jsonResult renders a handler result as indented JSON.
func jsonResult(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}
