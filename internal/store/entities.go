package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"issueprops/api/internal/property"
)

func entityTable(ref property.EntityRef) (string, error) {
	switch ref.Kind {
	case property.EntityIssue:
		return "issues", nil
	case property.EntityDraftIssue:
		return "draft_issues", nil
	}
	return "", fmt.Errorf("unknown entity kind %q", ref.Kind)
}

// GetEntity resolves an issue or draft to its scope. An entity without a
// type falls back to the project's default issue type; IssueTypeID is empty
// when the project has none.
func (s *PostgresStore) GetEntity(ctx context.Context, workspaceID, projectID string, ref property.EntityRef) (property.Entity, error) {
	table, err := entityTable(ref)
	if err != nil {
		return property.Entity{}, err
	}
	query := fmt.Sprintf(`
		SELECT e.id, e.workspace_id, e.project_id,
			COALESCE(e.type_id::text, (
				SELECT pit.issue_type_id::text FROM project_issue_types pit
				WHERE pit.project_id = e.project_id AND pit.is_default AND pit.deleted_at IS NULL
				ORDER BY pit.level LIMIT 1
			), '')
		FROM %s e
		WHERE e.workspace_id = $1 AND e.project_id = $2 AND e.id = $3 AND e.deleted_at IS NULL
	`, table)

	entity := property.Entity{EntityRef: property.EntityRef{Kind: ref.Kind}}
	err = s.db.QueryRowContext(ctx, query, workspaceID, projectID, ref.ID).Scan(
		&entity.ID, &entity.WorkspaceID, &entity.ProjectID, &entity.IssueTypeID,
	)
	if err != nil {
		return property.Entity{}, notFound("get "+string(ref.Kind), err)
	}
	return entity, nil
}

// ExistingRelations implements property.RelationResolver. ISSUE relations
// resolve against live issues of the workspace, USER relations against
// active workspace members.
func (s *PostgresStore) ExistingRelations(ctx context.Context, workspaceID string, rt property.RelationType, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	var query string
	switch rt {
	case property.RelationIssue:
		query = `SELECT id FROM issues WHERE workspace_id = $1 AND id = ANY($2::uuid[]) AND deleted_at IS NULL`
	case property.RelationUser:
		query = `SELECT member_id FROM workspace_members WHERE workspace_id = $1 AND member_id = ANY($2::uuid[]) AND is_active`
	default:
		return nil, fmt.Errorf("resolve relations: %w", property.ErrInvalidSettings)
	}

	params := make([]string, 0, len(ids))
	for _, id := range ids {
		params = append(params, id.String())
	}
	rows, err := s.db.QueryContext(ctx, query, workspaceID, params)
	if err != nil {
		return nil, fmt.Errorf("resolve relations: %w", err)
	}
	defer rows.Close()

	found := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		found[id] = true
	}
	return found, rows.Err()
}
