package store

import (
	"context"
	"database/sql"
	"fmt"

	"issueprops/api/internal/property"
)

const selectOption = `
	SELECT id, property_id, name, sort_order, is_default, is_active,
		COALESCE(external_source, ''), COALESCE(external_id, ''),
		created_at, created_by, updated_at, updated_by
	FROM issue_property_options`

func scanOption(row interface{ Scan(...any) error }) (property.Option, error) {
	var opt property.Option
	err := row.Scan(
		&opt.ID, &opt.PropertyID, &opt.Name, &opt.SortOrder, &opt.IsDefault, &opt.IsActive,
		&opt.ExternalRef.Source, &opt.ExternalRef.ID,
		&opt.CreatedAt, &opt.CreatedBy, &opt.UpdatedAt, &opt.UpdatedBy,
	)
	return opt, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOption(ctx context.Context, db execer, opt property.Option) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO issue_property_options (id, property_id, name, sort_order, is_default, is_active,
			external_source, external_id, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, opt.ID, opt.PropertyID, opt.Name, opt.SortOrder, opt.IsDefault, opt.IsActive,
		nullString(opt.ExternalRef.Source), nullString(opt.ExternalRef.ID), opt.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert option: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOptions(ctx context.Context, propertyID string) ([]property.Option, error) {
	options, err := s.listOptionsFor(ctx, []string{propertyID})
	if err != nil {
		return nil, err
	}
	if options[propertyID] == nil {
		return []property.Option{}, nil
	}
	return options[propertyID], nil
}

func (s *PostgresStore) listOptionsFor(ctx context.Context, propertyIDs []string) (map[string][]property.Option, error) {
	rows, err := s.db.QueryContext(ctx, selectOption+` WHERE property_id = ANY($1::uuid[]) ORDER BY sort_order, name, id`, propertyIDs)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]property.Option, len(propertyIDs))
	for rows.Next() {
		opt, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out[opt.PropertyID] = append(out[opt.PropertyID], opt)
	}
	return out, rows.Err()
}

func (s *PostgresStore) getOption(ctx context.Context, propertyID, id string) (property.Option, error) {
	row := s.db.QueryRowContext(ctx, selectOption+` WHERE property_id = $1 AND id = $2`, propertyID, id)
	opt, err := scanOption(row)
	if err != nil {
		return property.Option{}, notFound("get option", err)
	}
	return opt, nil
}

func (s *PostgresStore) CreateOption(ctx context.Context, opt property.Option) (property.Option, error) {
	if err := insertOption(ctx, s.db, opt); err != nil {
		if isForeignKeyViolation(err) {
			return property.Option{}, fmt.Errorf("insert option: property %s: %w", opt.PropertyID, errNotFound)
		}
		return property.Option{}, s.optionConflict(ctx, opt, err)
	}
	return s.getOption(ctx, opt.PropertyID, opt.ID)
}

func (s *PostgresStore) UpdateOption(ctx context.Context, opt property.Option) (property.Option, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issue_property_options
		SET name = $3, sort_order = $4, is_default = $5, is_active = $6, external_source = $7, external_id = $8,
			updated_by = $9, updated_at = NOW()
		WHERE property_id = $1 AND id = $2
	`, opt.PropertyID, opt.ID, opt.Name, opt.SortOrder, opt.IsDefault, opt.IsActive,
		nullString(opt.ExternalRef.Source), nullString(opt.ExternalRef.ID), opt.UpdatedBy)
	if err != nil {
		return property.Option{}, s.optionConflict(ctx, opt, fmt.Errorf("update option: %w", err))
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return property.Option{}, fmt.Errorf("update option: %w", errNotFound)
	}
	return s.getOption(ctx, opt.PropertyID, opt.ID)
}

// DeleteOption removes an option. Values selecting it go with it through
// the value_option foreign key.
func (s *PostgresStore) DeleteOption(ctx context.Context, propertyID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM issue_property_options WHERE property_id = $1 AND id = $2`, propertyID, id)
	if err != nil {
		return fmt.Errorf("delete option: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("delete option: %w", errNotFound)
	}
	return nil
}

func (s *PostgresStore) optionConflict(ctx context.Context, opt property.Option, err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	var existingID string
	switch constraint {
	case "issue_property_options_external_key":
		lookupErr := s.db.QueryRowContext(ctx, `
			SELECT id FROM issue_property_options WHERE property_id = $1 AND external_source = $2 AND external_id = $3
		`, opt.PropertyID, opt.ExternalRef.Source, opt.ExternalRef.ID).Scan(&existingID)
		if lookupErr != nil {
			return fmt.Errorf("lookup conflicting option: %w", lookupErr)
		}
		return &property.ConflictError{Resource: optionResource, ID: existingID}
	case "issue_property_options_name_key":
		lookupErr := s.db.QueryRowContext(ctx, `
			SELECT id FROM issue_property_options WHERE property_id = $1 AND name = $2
		`, opt.PropertyID, opt.Name).Scan(&existingID)
		if lookupErr != nil {
			return fmt.Errorf("lookup conflicting option: %w", lookupErr)
		}
		return &property.ConflictError{Resource: optionResource, ID: existingID, Field: "name"}
	}
	return err
}
