package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"issueprops/api/internal/property"
)

func insertActivities(ctx context.Context, tx *sql.Tx, activities []property.Activity) error {
	for _, a := range activities {
		issueID, draftID, err := entityColumns(a.Entity)
		if err != nil {
			return err
		}
		oldValues, newValues := a.OldValues, a.NewValues
		if oldValues == nil {
			oldValues = []string{}
		}
		if newValues == nil {
			newValues = []string{}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issue_property_activities (id, property_id, issue_id, draft_issue_id, old_values, new_values, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, a.ID, a.PropertyID, issueID, draftID, oldValues, newValues, a.Actor, a.CreatedAt); err != nil {
			return fmt.Errorf("insert property activity: %w", err)
		}
	}
	return nil
}

// ListActivities returns the newest activities of an entity first.
func (s *PostgresStore) ListActivities(ctx context.Context, ref property.EntityRef, limit int) ([]property.Activity, error) {
	column, err := entityColumn(ref)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, to_json(old_values), to_json(new_values), actor, created_at
		FROM issue_property_activities
		WHERE `+column+` = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ref.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list property activities: %w", err)
	}
	defer rows.Close()

	items := make([]property.Activity, 0)
	for rows.Next() {
		a := property.Activity{Entity: ref}
		var oldValues, newValues []byte
		if err := rows.Scan(&a.ID, &a.PropertyID, &oldValues, &newValues, &a.Actor, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan property activity: %w", err)
		}
		if err := json.Unmarshal(oldValues, &a.OldValues); err != nil {
			return nil, fmt.Errorf("decode old_values: %w", err)
		}
		if err := json.Unmarshal(newValues, &a.NewValues); err != nil {
			return nil, fmt.Errorf("decode new_values: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
