package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToolRegistry provides tool definitions for a project.
type ToolRegistry interface {
	// GetTool returns the ToolDefinition for a project+tool pair.
	// Returns nil if the tool is not registered.
	GetTool(ctx context.Context, projectID, toolName string) (*ToolDefinition, error)
}

// SchemaLookup binds reg to one project, in the shape the validation engine
// expects. Unregistered tools and tools without a schema yield nil.
func SchemaLookup(reg ToolRegistry, projectID string) func(ctx context.Context, toolName string) (map[string]any, error) {
	return func(ctx context.Context, toolName string) (map[string]any, error) {
		td, err := reg.GetTool(ctx, projectID, toolName)
		if err != nil || td == nil {
			return nil, err
		}
		return td.ArgumentSchema, nil
	}
}

// MapRegistry is an in-memory registry keyed by tool name. It ignores the
// project, so one file serves every caller.
type MapRegistry map[string]*ToolDefinition

func (m MapRegistry) GetTool(_ context.Context, _, toolName string) (*ToolDefinition, error) {
	return m[toolName], nil
}

type toolsFile struct {
	Tools []*ToolDefinition `yaml:"tools"`
}

// LoadFile reads a YAML tools file:
//
//	tools:
//	  - name: web_fetch
//	    argument_schema: {type: object, required: [url]}
func LoadFile(path string) (MapRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: %w", err)
	}
	var f toolsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("LoadFile: %s: %w", path, err)
	}
	reg := make(MapRegistry, len(f.Tools))
	for i, td := range f.Tools {
		if td == nil || td.ToolName == "" {
			return nil, fmt.Errorf("LoadFile: %s: tool %d has no name", path, i)
		}
		reg[td.ToolName] = td
	}
	return reg, nil
}
