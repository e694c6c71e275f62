// Package model defines the domain entities for the template lifecycle
// engine: template definitions and their version history, execution
// telemetry, and the derived performance-analytics records.
package model

import "time"

// VariableType enumerates the declared type of a template variable.
type VariableType string

const (
	VariableString  VariableType = "string"
	VariableNumber  VariableType = "number"
	VariableBoolean VariableType = "boolean"
	VariableArray   VariableType = "array"
	VariableObject  VariableType = "object"
)

// VariableConstraints restricts the values accepted for a declared variable.
// Zero-valued fields mean "unconstrained".
type VariableConstraints struct {
	Pattern   string   `json:"pattern,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// DeclaredVariable is one entry in a template's variable schema.
// Names are unique within a template.
type DeclaredVariable struct {
	Name        string               `json:"name"`
	Type        VariableType         `json:"type"`
	Required    bool                 `json:"required"`
	Default     any                  `json:"default,omitempty"`
	Description string               `json:"description,omitempty"`
	Constraints *VariableConstraints `json:"constraints,omitempty"`
}

// TemplateDefinition is the canonical, mutable record for one template.
// Exactly one current definition exists per ID; prior states live in
// TemplateVersion snapshots. Deletion is soft: Active flips to false and
// the record remains retrievable.
type TemplateDefinition struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	Content     string             `json:"content"`
	Variables   []DeclaredVariable `json:"variables"`
	Version     string             `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CreatedBy   string             `json:"created_by"`
	Tags        []string           `json:"tags,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Active      bool               `json:"active"`
}

// HasTag reports whether the definition carries the given tag.
func (t *TemplateDefinition) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Variables, tags, and metadata are copied so
// the caller can mutate the clone without aliasing the original.
func (t *TemplateDefinition) Clone() *TemplateDefinition {
	out := *t
	out.Variables = append([]DeclaredVariable(nil), t.Variables...)
	out.Tags = append([]string(nil), t.Tags...)
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// TemplateVersion is an immutable snapshot of a template at one version.
// Append-only per template; history length is capped by the store and the
// oldest entries are pruned first.
type TemplateVersion struct {
	Version   string             `json:"version"`
	Content   string             `json:"content"`
	Variables []DeclaredVariable `json:"variables"`
	Changelog string             `json:"changelog,omitempty"`
	Author    string             `json:"author,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// TemplateUpdate carries the mutable fields of an update call.
// Nil fields are left unchanged on the target definition.
type TemplateUpdate struct {
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	Category    *string             `json:"category,omitempty"`
	Content     *string             `json:"content,omitempty"`
	Variables   *[]DeclaredVariable `json:"variables,omitempty"`
	Tags        *[]string           `json:"tags,omitempty"`
	Metadata    *map[string]any     `json:"metadata,omitempty"`
}
