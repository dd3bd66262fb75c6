package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateArgumentSchema checks argsJSON against the tool's registered schema.
// Tools without a schema, or engines without a lookup, pass.
func (e *Engine) validateArgumentSchema(ctx context.Context, toolName, argsJSON string) error {
	if e.schemas == nil {
		return nil
	}
	schema, err := e.schemas(ctx, toolName)
	if err != nil {
		return fmt.Errorf("schema lookup failed: %w", err)
	}
	if schema == nil {
		return nil
	}

	// Round-trip so the compiler sees plain JSON values.
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("invalid argument_schema: %w", err)
	}
	var schemaObj any
	if err := json.Unmarshal(schemaBytes, &schemaObj); err != nil {
		return fmt.Errorf("schema unmarshal error: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("schema compile error: %w", err)
	}

	var args any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := sch.Validate(args); err != nil {
		return fmt.Errorf("schema validation failed: %v", err)
	}
	return nil
}
