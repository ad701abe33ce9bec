package property

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Audit carries the bookkeeping columns shared by every table.
type Audit struct {
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// ExternalRef binds a resource to a record in an external system
// (importers, integrations). Both halves must be set for the binding to count.
type ExternalRef struct {
	Source string `json:"external_source,omitempty"`
	ID     string `json:"external_id,omitempty"`
}

func (r ExternalRef) IsSet() bool {
	return strings.TrimSpace(r.Source) != "" && strings.TrimSpace(r.ID) != ""
}

type IssueType struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       int    `json:"level"`
	IsDefault   bool   `json:"is_default"`
	IsActive    bool   `json:"is_active"`
	ExternalRef
	Audit
	// Project-scoped fields, filled when read through a project.
	ProjectID string `json:"project_id,omitempty"`
}

type ProjectIssueType struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	IssueTypeID string `json:"issue_type_id"`
	Level       int    `json:"level"`
	IsDefault   bool   `json:"is_default"`
	Audit
}

// Definition is an issue property: one typed custom field of an issue type.
type Definition struct {
	ID           string       `json:"id"`
	WorkspaceID  string       `json:"workspace_id"`
	ProjectID    string       `json:"project_id"`
	IssueTypeID  string       `json:"issue_type_id"`
	Kind         Kind         `json:"property_type"`
	DisplayName  string       `json:"display_name"`
	Description  string       `json:"description"`
	SortOrder    float64      `json:"sort_order"`
	IsRequired   bool         `json:"is_required"`
	IsMulti      bool         `json:"is_multi"`
	IsActive     bool         `json:"is_active"`
	DefaultValue []string     `json:"default_value"`
	RelationType RelationType `json:"relation_type,omitempty"`
	Options      []Option     `json:"options,omitempty"`
	ExternalRef
	Audit
}

// HasOption reports whether id names an active option of this property.
func (d Definition) HasOption(id uuid.UUID) bool {
	for _, opt := range d.Options {
		if opt.ID == id.String() && opt.IsActive {
			return true
		}
	}
	return false
}

// Option is one selectable value of an OPTION property.
type Option struct {
	ID         string  `json:"id"`
	PropertyID string  `json:"property_id"`
	Name       string  `json:"name"`
	SortOrder  float64 `json:"sort_order"`
	IsDefault  bool    `json:"is_default"`
	IsActive   bool    `json:"is_active"`
	ExternalRef
	Audit
}

// Schema is the set of property definitions in force for one issue type in
// one project.
type Schema struct {
	WorkspaceID string
	ProjectID   string
	IssueTypeID string
	Properties  map[string]Definition
}

func NewSchema(workspaceID, projectID, issueTypeID string, defs []Definition) Schema {
	props := make(map[string]Definition, len(defs))
	for _, d := range defs {
		props[d.ID] = d
	}
	return Schema{
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		IssueTypeID: issueTypeID,
		Properties:  props,
	}
}

// Lookup returns the definition for id.
func (s Schema) Lookup(id string) (Definition, bool) {
	d, ok := s.Properties[id]
	return d, ok
}

// Active returns the active definitions ordered by sort order, then id.
func (s Schema) Active() []Definition {
	out := make([]Definition, 0, len(s.Properties))
	for _, d := range s.Properties {
		if d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EntityKind distinguishes published issues from drafts.
type EntityKind string

const (
	EntityIssue      EntityKind = "issue"
	EntityDraftIssue EntityKind = "draft_issue"
)

// EntityRef identifies the work item that carries property values.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

func (e EntityRef) String() string {
	return string(e.Kind) + ":" + e.ID
}

// Entity is an EntityRef resolved to its scope.
type Entity struct {
	EntityRef
	WorkspaceID string
	ProjectID   string
	IssueTypeID string
}
