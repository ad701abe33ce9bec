package store

import (
	"context"
	"database/sql"
	"fmt"

	"issueprops/api/internal/property"
	"issueprops/api/internal/util"
)

const issueTypeResource = "Issue Type"

const selectIssueType = `
	SELECT it.id, it.workspace_id, it.name, it.description, pit.level, pit.is_default, it.is_active,
		COALESCE(it.external_source, ''), COALESCE(it.external_id, ''),
		it.created_at, it.created_by, it.updated_at, it.updated_by, pit.project_id
	FROM issue_types it
	JOIN project_issue_types pit ON pit.issue_type_id = it.id AND pit.deleted_at IS NULL
	WHERE it.deleted_at IS NULL`

func scanIssueType(row interface{ Scan(...any) error }) (property.IssueType, error) {
	var t property.IssueType
	err := row.Scan(
		&t.ID, &t.WorkspaceID, &t.Name, &t.Description, &t.Level, &t.IsDefault, &t.IsActive,
		&t.ExternalRef.Source, &t.ExternalRef.ID,
		&t.CreatedAt, &t.CreatedBy, &t.UpdatedAt, &t.UpdatedBy, &t.ProjectID,
	)
	return t, err
}

func (s *PostgresStore) CreateIssueType(ctx context.Context, issueType property.IssueType, projectID string) (property.IssueType, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO issue_types (id, workspace_id, name, description, level, is_default, is_active,
				external_source, external_id, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		`, issueType.ID, issueType.WorkspaceID, issueType.Name, issueType.Description, issueType.Level,
			issueType.IsDefault, issueType.IsActive, nullString(issueType.ExternalRef.Source), nullString(issueType.ExternalRef.ID),
			issueType.CreatedBy)
		if err != nil {
			return fmt.Errorf("insert issue type: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_issue_types (id, project_id, issue_type_id, level, is_default, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
		`, util.NewID(), projectID, issueType.ID, issueType.Level, issueType.IsDefault, issueType.CreatedBy)
		if err != nil {
			return fmt.Errorf("link issue type to project: %w", err)
		}
		return nil
	})
	if err != nil {
		return property.IssueType{}, s.issueTypeConflict(ctx, issueType, err)
	}
	return s.GetIssueType(ctx, issueType.WorkspaceID, projectID, issueType.ID)
}

func (s *PostgresStore) GetIssueType(ctx context.Context, workspaceID, projectID, id string) (property.IssueType, error) {
	row := s.db.QueryRowContext(ctx, selectIssueType+` AND it.workspace_id = $1 AND pit.project_id = $2 AND it.id = $3`,
		workspaceID, projectID, id)
	t, err := scanIssueType(row)
	if err != nil {
		return property.IssueType{}, notFound("get issue type", err)
	}
	return t, nil
}

func (s *PostgresStore) ListIssueTypes(ctx context.Context, workspaceID, projectID string) ([]property.IssueType, error) {
	rows, err := s.db.QueryContext(ctx, selectIssueType+` AND it.workspace_id = $1 AND pit.project_id = $2
		ORDER BY pit.level, it.created_at, it.id`, workspaceID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list issue types: %w", err)
	}
	defer rows.Close()

	items := make([]property.IssueType, 0)
	for rows.Next() {
		t, err := scanIssueType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue type: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateIssueType(ctx context.Context, issueType property.IssueType) (property.IssueType, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE issue_types
			SET name = $2, description = $3, is_active = $4, external_source = $5, external_id = $6,
				updated_by = $7, updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
		`, issueType.ID, issueType.Name, issueType.Description, issueType.IsActive,
			nullString(issueType.ExternalRef.Source), nullString(issueType.ExternalRef.ID), issueType.UpdatedBy)
		if err != nil {
			return fmt.Errorf("update issue type: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("update issue type: %w", errNotFound)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE project_issue_types SET level = $3, updated_by = $4, updated_at = NOW()
			WHERE project_id = $1 AND issue_type_id = $2 AND deleted_at IS NULL
		`, issueType.ProjectID, issueType.ID, issueType.Level, issueType.UpdatedBy); err != nil {
			return fmt.Errorf("update project issue type: %w", err)
		}
		return nil
	})
	if err != nil {
		return property.IssueType{}, s.issueTypeConflict(ctx, issueType, err)
	}
	return s.GetIssueType(ctx, issueType.WorkspaceID, issueType.ProjectID, issueType.ID)
}

// DeleteIssueType soft deletes a type that issues or drafts still reference
// and hard deletes it otherwise. A hard delete cascades to the type's
// properties, options and values.
func (s *PostgresStore) DeleteIssueType(ctx context.Context, workspaceID, projectID, id, actor string) (bool, error) {
	soft := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `
			SELECT it.id FROM issue_types it
			JOIN project_issue_types pit ON pit.issue_type_id = it.id AND pit.deleted_at IS NULL
			WHERE it.workspace_id = $1 AND pit.project_id = $2 AND it.id = $3 AND it.deleted_at IS NULL
			FOR UPDATE OF it
		`, workspaceID, projectID, id).Scan(&locked)
		if err != nil {
			return notFound("lock issue type", err)
		}

		var inUse bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM issues WHERE type_id = $1 AND deleted_at IS NULL)
				OR EXISTS(SELECT 1 FROM draft_issues WHERE type_id = $1 AND deleted_at IS NULL)
		`, id).Scan(&inUse); err != nil {
			return fmt.Errorf("check issue type usage: %w", err)
		}

		if !inUse {
			if _, err := tx.ExecContext(ctx, `DELETE FROM issue_types WHERE id = $1`, id); err != nil {
				return fmt.Errorf("delete issue type: %w", err)
			}
			return nil
		}

		soft = true
		if _, err := tx.ExecContext(ctx, `
			UPDATE issue_types SET is_active = FALSE, deleted_at = NOW(), updated_at = NOW(), updated_by = $2
			WHERE id = $1
		`, id, actor); err != nil {
			return fmt.Errorf("soft delete issue type: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE project_issue_types SET deleted_at = NOW(), updated_at = NOW(), updated_by = $2
			WHERE issue_type_id = $1 AND deleted_at IS NULL
		`, id, actor); err != nil {
			return fmt.Errorf("soft delete project issue types: %w", err)
		}
		return nil
	})
	return soft, err
}

// issueTypeConflict turns a unique violation into a ConflictError naming the
// row that already holds the name or external binding.
func (s *PostgresStore) issueTypeConflict(ctx context.Context, issueType property.IssueType, err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	var existingID string
	switch constraint {
	case "issue_types_external_key":
		lookupErr := s.db.QueryRowContext(ctx, `
			SELECT id FROM issue_types
			WHERE workspace_id = $1 AND external_source = $2 AND external_id = $3 AND deleted_at IS NULL
		`, issueType.WorkspaceID, issueType.ExternalRef.Source, issueType.ExternalRef.ID).Scan(&existingID)
		if lookupErr != nil {
			return fmt.Errorf("lookup conflicting issue type: %w", lookupErr)
		}
		return &property.ConflictError{Resource: issueTypeResource, ID: existingID}
	case "issue_types_workspace_name_key":
		lookupErr := s.db.QueryRowContext(ctx, `
			SELECT id FROM issue_types WHERE workspace_id = $1 AND name = $2 AND deleted_at IS NULL
		`, issueType.WorkspaceID, issueType.Name).Scan(&existingID)
		if lookupErr != nil {
			return fmt.Errorf("lookup conflicting issue type: %w", lookupErr)
		}
		return &property.ConflictError{Resource: issueTypeResource, ID: existingID, Field: "name"}
	case "project_issue_types_project_type_key":
		return &property.ConflictError{Resource: issueTypeResource, ID: issueType.ID, Field: "project link"}
	}
	return err
}
