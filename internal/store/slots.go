package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"issueprops/api/internal/property"
)

// slotColumns is the wide-column form of a property.Value. Exactly one
// field is valid for a well-formed row.
type slotColumns struct {
	Text     sql.NullString
	Decimal  sql.NullString
	Boolean  sql.NullBool
	Datetime sql.NullTime
	UUID     sql.NullString
	Option   sql.NullString
}

const slotColumnList = "value_text, value_decimal, value_boolean, value_datetime, value_uuid, value_option"

func columnsFor(v property.Value) (slotColumns, error) {
	var c slotColumns
	switch val := v.(type) {
	case property.TextValue:
		c.Text = sql.NullString{String: string(val), Valid: true}
	case property.DecimalValue:
		c.Decimal = sql.NullString{String: val.Canonical(), Valid: true}
	case property.BoolValue:
		c.Boolean = sql.NullBool{Bool: bool(val), Valid: true}
	case property.DateValue:
		c.Datetime = sql.NullTime{Time: val.Time, Valid: true}
	case property.RelationValue:
		c.UUID = sql.NullString{String: val.Canonical(), Valid: true}
	case property.OptionValue:
		c.Option = sql.NullString{String: val.Canonical(), Valid: true}
	default:
		return slotColumns{}, fmt.Errorf("unsupported value type %T", v)
	}
	return c, nil
}

func (c *slotColumns) args() []any {
	return []any{c.Text, c.Decimal, c.Boolean, c.Datetime, c.UUID, c.Option}
}

func (c *slotColumns) dest() []any {
	return []any{&c.Text, &c.Decimal, &c.Boolean, &c.Datetime, &c.UUID, &c.Option}
}

func (c slotColumns) populated() int {
	n := 0
	for _, ok := range []bool{c.Text.Valid, c.Decimal.Valid, c.Boolean.Valid, c.Datetime.Valid, c.UUID.Valid, c.Option.Valid} {
		if ok {
			n++
		}
	}
	return n
}

func (c slotColumns) value() (property.Value, error) {
	if n := c.populated(); n != 1 {
		return nil, fmt.Errorf("value row has %d populated slots", n)
	}
	switch {
	case c.Text.Valid:
		return property.TextValue(c.Text.String), nil
	case c.Decimal.Valid:
		d, err := decimal.NewFromString(c.Decimal.String)
		if err != nil {
			return nil, fmt.Errorf("scan decimal slot: %w", err)
		}
		return property.DecimalValue{Decimal: d}, nil
	case c.Boolean.Valid:
		return property.BoolValue(c.Boolean.Bool), nil
	case c.Datetime.Valid:
		return property.NewDate(c.Datetime.Time.UTC()), nil
	case c.UUID.Valid:
		id, err := uuid.Parse(c.UUID.String)
		if err != nil {
			return nil, fmt.Errorf("scan relation slot: %w", err)
		}
		return property.RelationValue(id), nil
	default:
		id, err := uuid.Parse(c.Option.String)
		if err != nil {
			return nil, fmt.Errorf("scan option slot: %w", err)
		}
		return property.OptionValue(id), nil
	}
}

// entityColumns splits an entity reference into the issue_id and
// draft_issue_id column values.
func entityColumns(ref property.EntityRef) (issueID, draftIssueID any, err error) {
	switch ref.Kind {
	case property.EntityIssue:
		return ref.ID, nil, nil
	case property.EntityDraftIssue:
		return nil, ref.ID, nil
	}
	return nil, nil, fmt.Errorf("unknown entity kind %q", ref.Kind)
}

// entityColumn names the column that references ref's kind.
func entityColumn(ref property.EntityRef) (string, error) {
	switch ref.Kind {
	case property.EntityIssue:
		return "issue_id", nil
	case property.EntityDraftIssue:
		return "draft_issue_id", nil
	}
	return "", fmt.Errorf("unknown entity kind %q", ref.Kind)
}
