package property

import (
	"fmt"
	"sort"
	"time"
)

// ValueRow is one stored value of one property for one entity.
type ValueRow struct {
	ID          string
	PropertyID  string
	WorkspaceID string
	ProjectID   string
	Entity      EntityRef
	Value       Value
	Audit
}

// Replacement is the unit of work handed to the store: every row of
// PropertyIDs for Entity is deleted and Rows are inserted in its place.
type Replacement struct {
	Entity      Entity
	PropertyIDs []string
	Rows        []ValueRow
	Activities  []Activity
}

// Activity records one change of a property's value set on an entity.
type Activity struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	Entity     EntityRef `json:"-"`
	OldValues  []string  `json:"old_values"`
	NewValues  []string  `json:"new_values"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

// GroupValues indexes rows by property id.
func GroupValues(rows []ValueRow) map[string][]Value {
	out := make(map[string][]Value)
	for _, row := range rows {
		out[row.PropertyID] = append(out[row.PropertyID], row.Value)
	}
	return out
}

// BuildReplacement turns accepted values into the rows that replace the
// entity's current values for every accepted property. The created_* audit
// fields of the earliest existing row of a property carry over to its new
// rows; updated_* is stamped with actor and now. newID supplies row ids.
func BuildReplacement(schema Schema, accepted map[string][]Value, entity Entity, existing []ValueRow, actor string, now time.Time, newID func() string) (Replacement, error) {
	ids := make([]string, 0, len(accepted))
	for id := range accepted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	created := make(map[string]Audit)
	for _, row := range existing {
		prev, ok := created[row.PropertyID]
		if !ok || row.CreatedAt.Before(prev.CreatedAt) {
			created[row.PropertyID] = row.Audit
		}
	}
	before := make(map[string][]string)
	for _, row := range existing {
		before[row.PropertyID] = append(before[row.PropertyID], row.Value.Canonical())
	}

	rep := Replacement{Entity: entity, PropertyIDs: ids}
	for _, id := range ids {
		def, ok := schema.Lookup(id)
		if !ok {
			return Replacement{}, fmt.Errorf("build rows: property %s: %w", id, ErrNotFound)
		}
		audit := Audit{
			CreatedAt: now,
			CreatedBy: actor,
			UpdatedAt: now,
			UpdatedBy: actor,
		}
		if prev, ok := created[id]; ok {
			audit.CreatedAt = prev.CreatedAt
			audit.CreatedBy = prev.CreatedBy
		}

		after := make([]string, 0, len(accepted[id]))
		for _, val := range accepted[id] {
			if val.Slot() != def.Kind.Slot() {
				return Replacement{}, fmt.Errorf("build rows: property %s: %s value for %s property", id, val.Slot(), def.Kind)
			}
			rep.Rows = append(rep.Rows, ValueRow{
				ID:          newID(),
				PropertyID:  id,
				WorkspaceID: entity.WorkspaceID,
				ProjectID:   entity.ProjectID,
				Entity:      entity.EntityRef,
				Value:       val,
				Audit:       audit,
			})
			after = append(after, val.Canonical())
		}

		old, updated := distinct(before[id]), distinct(after)
		if equalStrings(old, updated) {
			continue
		}
		rep.Activities = append(rep.Activities, Activity{
			ID:         newID(),
			PropertyID: id,
			Entity:     entity.EntityRef,
			OldValues:  old,
			NewValues:  updated,
			Actor:      actor,
			CreatedAt:  now,
		})
	}
	return rep, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
