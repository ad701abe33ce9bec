package app

import (
	"context"
	"fmt"

	"issueprops/api/internal/events"
	"issueprops/api/internal/property"
)

// GetValues returns the canonical values of every active property set on
// the entity, keyed by property id.
func (s *Service) GetValues(ctx context.Context, workspaceID, projectID string, ref property.EntityRef) (map[string][]string, error) {
	entity, err := s.store.GetEntity(ctx, workspaceID, projectID, ref)
	if err != nil {
		return nil, err
	}
	schema, err := s.schema(ctx, workspaceID, projectID, entity.IssueTypeID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListValues(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	active := property.NewSchema(workspaceID, projectID, entity.IssueTypeID, schema.Active())
	return property.Project(active, rows), nil
}

// GetPropertyValues returns the values of one property. The property must
// be active and belong to the entity's issue type; an unset property maps to
// an empty list.
func (s *Service) GetPropertyValues(ctx context.Context, workspaceID, projectID string, ref property.EntityRef, propertyID string) (map[string][]string, error) {
	entity, err := s.store.GetEntity(ctx, workspaceID, projectID, ref)
	if err != nil {
		return nil, err
	}
	schema, err := s.schema(ctx, workspaceID, projectID, entity.IssueTypeID)
	if err != nil {
		return nil, err
	}
	if def, ok := schema.Lookup(propertyID); !ok || !def.IsActive {
		return nil, fmt.Errorf("property %s: %w", propertyID, property.ErrNotFound)
	}
	rows, err := s.store.ListValues(ctx, ref, propertyID)
	if err != nil {
		return nil, err
	}
	values := property.Project(schema, rows)[propertyID]
	if values == nil {
		values = []string{}
	}
	return map[string][]string{propertyID: values}, nil
}

// SubmitValues replaces the values of every submitted property in one
// transaction. Required properties are checked across the whole entity,
// using stored values for properties the submission leaves out.
func (s *Service) SubmitValues(ctx context.Context, workspaceID, projectID string, ref property.EntityRef, actor string, submitted map[string][]any) error {
	entity, err := s.store.GetEntity(ctx, workspaceID, projectID, ref)
	if err != nil {
		return err
	}
	schema, err := s.schema(ctx, workspaceID, projectID, entity.IssueTypeID)
	if err != nil {
		return err
	}

	rep, err := s.store.ReplaceValues(ctx, entity, func(ctx context.Context, existing []property.ValueRow) (property.Replacement, error) {
		current, err := s.currentSchema(ctx, schema, submittedIDs(submitted)...)
		if err != nil {
			return property.Replacement{}, err
		}
		accepted, err := s.validator.Validate(ctx, current, submitted, property.GroupValues(existing))
		if err != nil {
			return property.Replacement{}, err
		}
		return property.BuildReplacement(current, accepted, entity, existing, actor, s.now(), s.newID)
	})
	if err != nil {
		return err
	}
	s.publishValues(ctx, entity, rep, actor)
	return nil
}

// PatchValue replaces the values of a single property. Only that property's
// required flag is enforced.
func (s *Service) PatchValue(ctx context.Context, workspaceID, projectID string, ref property.EntityRef, propertyID, actor string, raws []any) error {
	entity, err := s.store.GetEntity(ctx, workspaceID, projectID, ref)
	if err != nil {
		return err
	}
	schema, err := s.schema(ctx, workspaceID, projectID, entity.IssueTypeID)
	if err != nil {
		return err
	}

	rep, err := s.store.ReplaceValues(ctx, entity, func(ctx context.Context, existing []property.ValueRow) (property.Replacement, error) {
		current, err := s.currentSchema(ctx, schema, propertyID)
		if err != nil {
			return property.Replacement{}, err
		}
		values, err := s.validator.ValidateProperty(ctx, current, propertyID, raws)
		if err != nil {
			return property.Replacement{}, err
		}
		accepted := map[string][]property.Value{propertyID: values}
		return property.BuildReplacement(current, accepted, entity, existing, actor, s.now(), s.newID)
	})
	if err != nil {
		return err
	}
	s.publishValues(ctx, entity, rep, actor)
	return nil
}

// currentSchema returns schema unless it lacks one of ids, in which case the
// definitions are reloaded from the store. A property created after the
// schema was read is then validated instead of rejected as unknown.
func (s *Service) currentSchema(ctx context.Context, schema property.Schema, ids ...string) (property.Schema, error) {
	if schema.IssueTypeID == "" {
		return schema, nil
	}
	for _, id := range ids {
		if _, ok := schema.Lookup(id); !ok {
			return s.freshSchema(ctx, schema.WorkspaceID, schema.ProjectID, schema.IssueTypeID)
		}
	}
	return schema, nil
}

func submittedIDs(submitted map[string][]any) []string {
	ids := make([]string, 0, len(submitted))
	for id := range submitted {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) ListActivities(ctx context.Context, workspaceID, projectID string, ref property.EntityRef, limit int) ([]property.Activity, error) {
	if _, err := s.store.GetEntity(ctx, workspaceID, projectID, ref); err != nil {
		return nil, err
	}
	return s.store.ListActivities(ctx, ref, limit)
}

func (s *Service) publishValues(ctx context.Context, entity property.Entity, rep property.Replacement, actor string) {
	if len(rep.Activities) == 0 {
		return
	}
	changed := make([]string, 0, len(rep.Activities))
	for _, a := range rep.Activities {
		changed = append(changed, a.PropertyID)
	}
	s.publish(ctx, events.Event{
		Type:        events.ValuesReplaced,
		WorkspaceID: entity.WorkspaceID,
		ProjectID:   entity.ProjectID,
		ResourceID:  entity.ID,
		Entity:      entity.String(),
		PropertyIDs: changed,
		Actor:       actor,
	})
}
