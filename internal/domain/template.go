package domain

import (
	"time"
)

// TemplateParameter is an extracted, bindable parameter. Implicit
// parameters synthesized from node configuration record where they came
// from so instantiation can trace a binding back to its slot.
type TemplateParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     Value  `json:"default,omitempty"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
	SourceNode  string `json:"source_node,omitempty"`
	SourceKey   string `json:"source_key,omitempty"`
}

// Template is a parameterized, reusable workflow definition whose
// configuration values are placeholder tokens.
type Template struct {
	ID          string                       `json:"id"`
	Name        string                       `json:"name"`
	Description string                       `json:"description,omitempty"`
	Category    string                       `json:"category,omitempty"`
	Definition  *WorkflowDefinition          `json:"definition"`
	Parameters  map[string]TemplateParameter `json:"parameters,omitempty"`
	Tags        []string                     `json:"tags,omitempty"`
	UsageCount  int64                        `json:"usage_count"`
	IsPublic    bool                         `json:"is_public"`
	CreatedBy   string                       `json:"created_by,omitempty"`
	CreatedAt   time.Time                    `json:"created_at"`
}

// TemplateExport is the portable envelope produced by Export and consumed
// by Import. Ids and usage counters deliberately stay behind.
type TemplateExport struct {
	FormatVersion int                          `json:"format_version"`
	ExportedAt    time.Time                    `json:"exported_at"`
	Name          string                       `json:"name"`
	Description   string                       `json:"description,omitempty"`
	Category      string                       `json:"category,omitempty"`
	Definition    *WorkflowDefinition          `json:"definition"`
	Parameters    map[string]TemplateParameter `json:"parameters,omitempty"`
	Tags          []string                     `json:"tags,omitempty"`
}

const TemplateExportFormatVersion = 1
