package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"issueprops/api/internal/property"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const valueColumnList = "id, property_id, workspace_id, project_id, issue_id, draft_issue_id, " + slotColumnList +
	", created_at, created_by, updated_at, updated_by"

const valueColumnCount = 16

func (s *PostgresStore) ListValues(ctx context.Context, ref property.EntityRef, propertyID string) ([]property.ValueRow, error) {
	return listValues(ctx, s.db, ref, propertyID)
}

func listValues(ctx context.Context, db queryer, ref property.EntityRef, propertyID string) ([]property.ValueRow, error) {
	column, err := entityColumn(ref)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, property_id, workspace_id, project_id, ` + slotColumnList + `,
		created_at, created_by, updated_at, updated_by
		FROM issue_property_values WHERE ` + column + ` = $1`
	args := []any{ref.ID}
	if propertyID != "" {
		query += ` AND property_id = $2`
		args = append(args, propertyID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list property values: %w", err)
	}
	defer rows.Close()

	items := make([]property.ValueRow, 0)
	for rows.Next() {
		row := property.ValueRow{Entity: ref}
		var slots slotColumns
		dest := []any{&row.ID, &row.PropertyID, &row.WorkspaceID, &row.ProjectID}
		dest = append(dest, slots.dest()...)
		dest = append(dest, &row.CreatedAt, &row.CreatedBy, &row.UpdatedAt, &row.UpdatedBy)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan property value: %w", err)
		}
		value, err := slots.value()
		if err != nil {
			return nil, fmt.Errorf("property value %s: %w", row.ID, err)
		}
		row.Value = value
		items = append(items, row)
	}
	return items, rows.Err()
}

// ReplaceValues serializes writers on the entity with a transaction-scoped
// advisory lock, hands the entity's current rows to build, then deletes the
// rows of every replaced property, inserts the new rows in bounded batches
// and records activity. Readers see either the old or the new value set.
// Serialization failures and deadlocks retry the whole transaction.
func (s *PostgresStore) ReplaceValues(ctx context.Context, entity property.Entity, build ReplaceFunc) (property.Replacement, error) {
	column, err := entityColumn(entity.EntityRef)
	if err != nil {
		return property.Replacement{}, err
	}

	var applied property.Replacement
	err = s.withRetryTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, entity.String()); err != nil {
			return fmt.Errorf("lock %s: %w", entity.String(), err)
		}

		existing, err := listValues(ctx, tx, entity.EntityRef, "")
		if err != nil {
			return err
		}
		rep, err := build(ctx, existing)
		if err != nil {
			return err
		}

		if len(rep.PropertyIDs) > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM issue_property_values WHERE `+column+` = $1 AND property_id = ANY($2::uuid[])`,
				entity.ID, rep.PropertyIDs,
			); err != nil {
				return fmt.Errorf("delete property values: %w", err)
			}
		}
		if err := insertValues(ctx, tx, rep.Rows); err != nil {
			return err
		}
		if err := insertActivities(ctx, tx, rep.Activities); err != nil {
			return err
		}
		applied = rep
		return nil
	})
	if err != nil {
		return property.Replacement{}, err
	}
	return applied, nil
}

func insertValues(ctx context.Context, tx *sql.Tx, rows []property.ValueRow) error {
	for start := 0; start < len(rows); start += valueInsertBatchSize {
		end := start + valueInsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*valueColumnCount)
		for i, row := range batch {
			issueID, draftID, err := entityColumns(row.Entity)
			if err != nil {
				return err
			}
			slots, err := columnsFor(row.Value)
			if err != nil {
				return fmt.Errorf("property value %s: %w", row.ID, err)
			}
			args = append(args, row.ID, row.PropertyID, row.WorkspaceID, row.ProjectID, issueID, draftID)
			args = append(args, slots.args()...)
			args = append(args, row.CreatedAt, row.CreatedBy, row.UpdatedAt, row.UpdatedBy)
			placeholders = append(placeholders, rowPlaceholders(i*valueColumnCount, valueColumnCount))
		}

		query := `INSERT INTO issue_property_values (` + valueColumnList + `) VALUES ` + strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert property values: %w", err)
		}
	}
	return nil
}

// rowPlaceholders renders "($n+1, ..., $n+count)".
func rowPlaceholders(offset, count int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= count; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", offset+i)
	}
	b.WriteByte(')')
	return b.String()
}
