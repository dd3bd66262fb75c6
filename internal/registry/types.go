package registry

// ToolDefinition is a tool registered for a project. Loaded from the
// tool_definitions table or a tools file.
type ToolDefinition struct {
	ID             string         `yaml:"id"`
	ProjectID      string         `yaml:"project_id"`
	ToolName       string         `yaml:"name"`
	Description    string         `yaml:"description"`
	ArgumentSchema map[string]any `yaml:"argument_schema"` // JSON Schema, nil if not set
}
