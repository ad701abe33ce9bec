package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"issueprops/api/internal/property"
	"issueprops/api/internal/store"
)

// fakeStore keeps the catalog and values in memory. The *Fn fields override
// individual methods.
type fakeStore struct {
	issueTypes map[string]property.IssueType
	properties map[string]property.Definition
	entities   map[string]property.Entity
	relations  map[uuid.UUID]bool
	values     []property.ValueRow
	activities []property.Activity

	listPropertiesCalls int
	deletedIssueTypes   []string
	softDelete          bool

	pingFn           func(context.Context) error
	createPropertyFn func(context.Context, property.Definition) (property.Definition, error)
	// afterListProperties runs once the listing is built and before it is
	// returned.
	afterListProperties func()
	// listPropertiesErrs records ctx.Err() as seen by each listing.
	listPropertiesErrs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		issueTypes: make(map[string]property.IssueType),
		properties: make(map[string]property.Definition),
		entities:   make(map[string]property.Entity),
		relations:  make(map[uuid.UUID]bool),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateIssueType(_ context.Context, issueType property.IssueType, projectID string) (property.IssueType, error) {
	for _, t := range f.issueTypes {
		if t.WorkspaceID == issueType.WorkspaceID && t.Name == issueType.Name {
			return property.IssueType{}, &property.ConflictError{Resource: "Issue Type", ID: t.ID, Field: "name"}
		}
	}
	issueType.ProjectID = projectID
	f.issueTypes[issueType.ID] = issueType
	return issueType, nil
}

func (f *fakeStore) GetIssueType(_ context.Context, workspaceID, projectID, id string) (property.IssueType, error) {
	t, ok := f.issueTypes[id]
	if !ok || t.WorkspaceID != workspaceID || t.ProjectID != projectID {
		return property.IssueType{}, fmt.Errorf("get issue type: %w", property.ErrNotFound)
	}
	return t, nil
}

func (f *fakeStore) ListIssueTypes(_ context.Context, workspaceID, projectID string) ([]property.IssueType, error) {
	items := make([]property.IssueType, 0)
	for _, t := range f.issueTypes {
		if t.WorkspaceID == workspaceID && t.ProjectID == projectID {
			items = append(items, t)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) UpdateIssueType(_ context.Context, issueType property.IssueType) (property.IssueType, error) {
	if _, ok := f.issueTypes[issueType.ID]; !ok {
		return property.IssueType{}, property.ErrNotFound
	}
	f.issueTypes[issueType.ID] = issueType
	return issueType, nil
}

func (f *fakeStore) DeleteIssueType(_ context.Context, _, _, id, _ string) (bool, error) {
	delete(f.issueTypes, id)
	f.deletedIssueTypes = append(f.deletedIssueTypes, id)
	return f.softDelete, nil
}

func (f *fakeStore) CreateProperty(ctx context.Context, def property.Definition) (property.Definition, error) {
	if f.createPropertyFn != nil {
		return f.createPropertyFn(ctx, def)
	}
	for _, existing := range f.properties {
		if existing.ExternalRef.IsSet() && existing.ExternalRef == def.ExternalRef &&
			existing.WorkspaceID == def.WorkspaceID && existing.ProjectID == def.ProjectID && existing.IssueTypeID == def.IssueTypeID {
			return property.Definition{}, &property.ConflictError{Resource: "Issue Property", ID: existing.ID}
		}
	}
	f.properties[def.ID] = def
	return def, nil
}

func (f *fakeStore) GetProperty(_ context.Context, workspaceID, projectID, id string) (property.Definition, error) {
	def, ok := f.properties[id]
	if !ok || def.WorkspaceID != workspaceID || def.ProjectID != projectID {
		return property.Definition{}, fmt.Errorf("get property: %w", property.ErrNotFound)
	}
	return def, nil
}

func (f *fakeStore) ListProperties(ctx context.Context, workspaceID, projectID, issueTypeID string) ([]property.Definition, error) {
	f.listPropertiesCalls++
	f.listPropertiesErrs = append(f.listPropertiesErrs, ctx.Err())
	items := make([]property.Definition, 0)
	for _, def := range f.properties {
		if def.WorkspaceID != workspaceID || def.ProjectID != projectID {
			continue
		}
		if issueTypeID != "" && def.IssueTypeID != issueTypeID {
			continue
		}
		items = append(items, def)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SortOrder != items[j].SortOrder {
			return items[i].SortOrder < items[j].SortOrder
		}
		return items[i].ID < items[j].ID
	})
	if f.afterListProperties != nil {
		f.afterListProperties()
	}
	return items, nil
}

func (f *fakeStore) UpdateProperty(_ context.Context, def property.Definition) (property.Definition, error) {
	if _, ok := f.properties[def.ID]; !ok {
		return property.Definition{}, property.ErrNotFound
	}
	f.properties[def.ID] = def
	return def, nil
}

func (f *fakeStore) DeleteProperty(_ context.Context, _, _, id string) error {
	if _, ok := f.properties[id]; !ok {
		return property.ErrNotFound
	}
	delete(f.properties, id)
	kept := make([]property.ValueRow, 0, len(f.values))
	for _, row := range f.values {
		if row.PropertyID != id {
			kept = append(kept, row)
		}
	}
	f.values = kept
	return nil
}

func (f *fakeStore) ListOptions(_ context.Context, propertyID string) ([]property.Option, error) {
	def, ok := f.properties[propertyID]
	if !ok {
		return nil, property.ErrNotFound
	}
	return append([]property.Option{}, def.Options...), nil
}

func (f *fakeStore) CreateOption(_ context.Context, opt property.Option) (property.Option, error) {
	def, ok := f.properties[opt.PropertyID]
	if !ok {
		return property.Option{}, property.ErrNotFound
	}
	def.Options = append(def.Options, opt)
	f.properties[def.ID] = def
	return opt, nil
}

func (f *fakeStore) UpdateOption(_ context.Context, opt property.Option) (property.Option, error) {
	def := f.properties[opt.PropertyID]
	for i := range def.Options {
		if def.Options[i].ID == opt.ID {
			def.Options[i] = opt
			f.properties[def.ID] = def
			return opt, nil
		}
	}
	return property.Option{}, property.ErrNotFound
}

func (f *fakeStore) DeleteOption(_ context.Context, propertyID, id string) error {
	def := f.properties[propertyID]
	for i := range def.Options {
		if def.Options[i].ID == id {
			def.Options = append(def.Options[:i:i], def.Options[i+1:]...)
			f.properties[def.ID] = def
			return nil
		}
	}
	return property.ErrNotFound
}

func (f *fakeStore) GetEntity(_ context.Context, workspaceID, projectID string, ref property.EntityRef) (property.Entity, error) {
	entity, ok := f.entities[ref.String()]
	if !ok || entity.WorkspaceID != workspaceID || entity.ProjectID != projectID {
		return property.Entity{}, fmt.Errorf("get %s: %w", ref, property.ErrNotFound)
	}
	if entity.IssueTypeID == "" {
		for _, t := range f.issueTypes {
			if t.ProjectID == projectID && t.IsDefault {
				entity.IssueTypeID = t.ID
			}
		}
	}
	return entity, nil
}

func (f *fakeStore) ExistingRelations(_ context.Context, _ string, _ property.RelationType, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	found := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if f.relations[id] {
			found[id] = true
		}
	}
	return found, nil
}

func (f *fakeStore) ListValues(_ context.Context, ref property.EntityRef, propertyID string) ([]property.ValueRow, error) {
	return f.valuesFor(ref, propertyID), nil
}

func (f *fakeStore) valuesFor(ref property.EntityRef, propertyID string) []property.ValueRow {
	rows := make([]property.ValueRow, 0)
	for _, row := range f.values {
		if row.Entity == ref && (propertyID == "" || row.PropertyID == propertyID) {
			rows = append(rows, row)
		}
	}
	return rows
}

func (f *fakeStore) ReplaceValues(ctx context.Context, entity property.Entity, build store.ReplaceFunc) (property.Replacement, error) {
	rep, err := build(ctx, f.valuesFor(entity.EntityRef, ""))
	if err != nil {
		return property.Replacement{}, err
	}
	replaced := make(map[string]bool, len(rep.PropertyIDs))
	for _, id := range rep.PropertyIDs {
		replaced[id] = true
	}
	kept := make([]property.ValueRow, 0, len(f.values)+len(rep.Rows))
	for _, row := range f.values {
		if row.Entity == entity.EntityRef && replaced[row.PropertyID] {
			continue
		}
		kept = append(kept, row)
	}
	f.values = append(kept, rep.Rows...)
	f.activities = append(f.activities, rep.Activities...)
	return rep, nil
}

func (f *fakeStore) ListActivities(_ context.Context, ref property.EntityRef, limit int) ([]property.Activity, error) {
	items := make([]property.Activity, 0)
	for i := len(f.activities) - 1; i >= 0; i-- {
		if f.activities[i].Entity == ref {
			items = append(items, f.activities[i])
		}
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}
