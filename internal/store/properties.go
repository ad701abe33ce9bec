package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"issueprops/api/internal/property"
)

const (
	propertyResource = "Issue Property"
	optionResource   = "Issue Property Option"
)

// propertySettings is the jsonb settings column of issue_properties.
type propertySettings struct {
	RelationType property.RelationType `json:"relation_type,omitempty"`
}

const selectProperty = `
	SELECT id, workspace_id, project_id, issue_type_id, property_type, display_name, description,
		sort_order, is_required, is_multi, is_active, to_json(default_value), settings,
		COALESCE(external_source, ''), COALESCE(external_id, ''),
		created_at, created_by, updated_at, updated_by
	FROM issue_properties`

func scanProperty(row interface{ Scan(...any) error }) (property.Definition, error) {
	var (
		def      property.Definition
		kind     string
		defaults []byte
		settings []byte
	)
	err := row.Scan(
		&def.ID, &def.WorkspaceID, &def.ProjectID, &def.IssueTypeID, &kind, &def.DisplayName, &def.Description,
		&def.SortOrder, &def.IsRequired, &def.IsMulti, &def.IsActive, &defaults, &settings,
		&def.ExternalRef.Source, &def.ExternalRef.ID,
		&def.CreatedAt, &def.CreatedBy, &def.UpdatedAt, &def.UpdatedBy,
	)
	if err != nil {
		return property.Definition{}, err
	}
	def.Kind = property.Kind(kind)
	if err := json.Unmarshal(defaults, &def.DefaultValue); err != nil {
		return property.Definition{}, fmt.Errorf("decode default_value: %w", err)
	}
	if def.DefaultValue == nil {
		def.DefaultValue = []string{}
	}
	var decoded propertySettings
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &decoded); err != nil {
			return property.Definition{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	def.RelationType = decoded.RelationType
	return def, nil
}

func encodeSettings(def property.Definition) (string, error) {
	encoded, err := json.Marshal(propertySettings{RelationType: def.RelationType})
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	return string(encoded), nil
}

func (s *PostgresStore) CreateProperty(ctx context.Context, def property.Definition) (property.Definition, error) {
	settings, err := encodeSettings(def)
	if err != nil {
		return property.Definition{}, err
	}
	defaults := def.DefaultValue
	if defaults == nil {
		defaults = []string{}
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO issue_properties (id, workspace_id, project_id, issue_type_id, property_type, display_name,
				description, sort_order, is_required, is_multi, is_active, default_value, settings,
				external_source, external_id, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, $16, $16)
		`, def.ID, def.WorkspaceID, def.ProjectID, def.IssueTypeID, string(def.Kind), def.DisplayName,
			def.Description, def.SortOrder, def.IsRequired, def.IsMulti, def.IsActive, defaults, settings,
			nullString(def.ExternalRef.Source), nullString(def.ExternalRef.ID), def.CreatedBy)
		if err != nil {
			return fmt.Errorf("insert issue property: %w", err)
		}
		for _, opt := range def.Options {
			if err := insertOption(ctx, tx, opt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return property.Definition{}, fmt.Errorf("insert issue property: issue type %s: %w", def.IssueTypeID, errNotFound)
		}
		return property.Definition{}, s.propertyConflict(ctx, def, err)
	}
	return s.GetProperty(ctx, def.WorkspaceID, def.ProjectID, def.ID)
}

func (s *PostgresStore) GetProperty(ctx context.Context, workspaceID, projectID, id string) (property.Definition, error) {
	row := s.db.QueryRowContext(ctx, selectProperty+` WHERE workspace_id = $1 AND project_id = $2 AND id = $3`,
		workspaceID, projectID, id)
	def, err := scanProperty(row)
	if err != nil {
		return property.Definition{}, notFound("get issue property", err)
	}
	if def.Kind == property.KindOption {
		options, err := s.ListOptions(ctx, def.ID)
		if err != nil {
			return property.Definition{}, err
		}
		def.Options = options
	}
	return def, nil
}

// ListProperties lists the properties of one issue type, or of every type in
// the project when issueTypeID is empty. Options are attached to OPTION
// properties.
func (s *PostgresStore) ListProperties(ctx context.Context, workspaceID, projectID, issueTypeID string) ([]property.Definition, error) {
	query := selectProperty + ` WHERE workspace_id = $1 AND project_id = $2`
	args := []any{workspaceID, projectID}
	if issueTypeID != "" {
		query += ` AND issue_type_id = $3`
		args = append(args, issueTypeID)
	}
	query += ` ORDER BY sort_order, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issue properties: %w", err)
	}
	defer rows.Close()

	items := make([]property.Definition, 0)
	optionProps := make([]string, 0)
	for rows.Next() {
		def, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue property: %w", err)
		}
		if def.Kind == property.KindOption {
			optionProps = append(optionProps, def.ID)
		}
		items = append(items, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list issue properties: %w", err)
	}

	if len(optionProps) == 0 {
		return items, nil
	}
	options, err := s.listOptionsFor(ctx, optionProps)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Kind == property.KindOption {
			items[i].Options = options[items[i].ID]
		}
	}
	return items, nil
}

func (s *PostgresStore) UpdateProperty(ctx context.Context, def property.Definition) (property.Definition, error) {
	settings, err := encodeSettings(def)
	if err != nil {
		return property.Definition{}, err
	}
	defaults := def.DefaultValue
	if defaults == nil {
		defaults = []string{}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE issue_properties
		SET display_name = $4, description = $5, sort_order = $6, is_required = $7, is_multi = $8,
			is_active = $9, default_value = $10, settings = $11::jsonb, external_source = $12, external_id = $13,
			updated_by = $14, updated_at = NOW()
		WHERE workspace_id = $1 AND project_id = $2 AND id = $3
	`, def.WorkspaceID, def.ProjectID, def.ID, def.DisplayName, def.Description, def.SortOrder, def.IsRequired,
		def.IsMulti, def.IsActive, defaults, settings, nullString(def.ExternalRef.Source), nullString(def.ExternalRef.ID),
		def.UpdatedBy)
	if err != nil {
		return property.Definition{}, s.propertyConflict(ctx, def, fmt.Errorf("update issue property: %w", err))
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return property.Definition{}, fmt.Errorf("update issue property: %w", errNotFound)
	}
	return s.GetProperty(ctx, def.WorkspaceID, def.ProjectID, def.ID)
}

// DeleteProperty removes a property with its activities, values and options
// in one transaction.
func (s *PostgresStore) DeleteProperty(ctx context.Context, workspaceID, projectID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM issue_properties WHERE workspace_id = $1 AND project_id = $2 AND id = $3 FOR UPDATE
		`, workspaceID, projectID, id).Scan(&locked)
		if err != nil {
			return notFound("lock issue property", err)
		}
		statements := []struct {
			what  string
			query string
		}{
			{"delete property activities", `DELETE FROM issue_property_activities WHERE property_id = $1`},
			{"delete property values", `DELETE FROM issue_property_values WHERE property_id = $1`},
			{"delete property options", `DELETE FROM issue_property_options WHERE property_id = $1`},
			{"delete issue property", `DELETE FROM issue_properties WHERE id = $1`},
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt.query, id); err != nil {
				return fmt.Errorf("%s: %w", stmt.what, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) propertyConflict(ctx context.Context, def property.Definition, err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	var existingID string
	switch constraint {
	case "issue_properties_external_key":
		lookupErr := s.db.QueryRowContext(ctx, `
			SELECT id FROM issue_properties
			WHERE workspace_id = $1 AND project_id = $2 AND issue_type_id = $3
				AND external_source = $4 AND external_id = $5
		`, def.WorkspaceID, def.ProjectID, def.IssueTypeID, def.ExternalRef.Source, def.ExternalRef.ID).Scan(&existingID)
		if lookupErr != nil {
			return fmt.Errorf("lookup conflicting issue property: %w", lookupErr)
		}
		return &property.ConflictError{Resource: propertyResource, ID: existingID}
	case "issue_properties_display_name_key":
		lookupErr := s.db.QueryRowContext(ctx, `
			SELECT id FROM issue_properties WHERE project_id = $1 AND issue_type_id = $2 AND display_name = $3
		`, def.ProjectID, def.IssueTypeID, def.DisplayName).Scan(&existingID)
		if lookupErr != nil {
			return fmt.Errorf("lookup conflicting issue property: %w", lookupErr)
		}
		return &property.ConflictError{Resource: propertyResource, ID: existingID, Field: "display name"}
	case "issue_property_options_name_key", "issue_property_options_external_key":
		return &property.ConflictError{Resource: optionResource, Field: "name"}
	}
	return err
}
