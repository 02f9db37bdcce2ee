package schema

import "github.com/invopop/jsonschema"

// Well-known value-table entries, addressed as (ValueNamespace, name) pairs.
const (
	ValueNamespace   = "catalyst"
	DefaultModelName = "defaultModel"
	PromptDirName    = "promptDir"
)

// ActionMetadata describes a registered or resolvable action without
// invoking it. Discovery consumers list these records to present catalogs.
type ActionMetadata struct {
	Key          string             `json:"key,omitempty"` // full key, set by the registry
	Name         string             `json:"name"`
	Type         ActionType         `json:"type"`
	Description  string             `json:"description,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	InputSchema  *jsonschema.Schema `json:"inputSchema,omitempty"`
	OutputSchema *jsonschema.Schema `json:"outputSchema,omitempty"`
}
