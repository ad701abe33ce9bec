package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"issueprops/api/internal/events"
	"issueprops/api/internal/property"
)

// Patch inputs use pointers so absent fields keep their stored value.

type IssueTypeInput struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	Level          *int    `json:"level"`
	IsDefault      *bool   `json:"is_default"`
	IsActive       *bool   `json:"is_active"`
	ExternalSource *string `json:"external_source"`
	ExternalID     *string `json:"external_id"`
}

type PropertyInput struct {
	DisplayName    *string       `json:"display_name"`
	Description    *string       `json:"description"`
	PropertyType   *string       `json:"property_type"`
	RelationType   *string       `json:"relation_type"`
	SortOrder      *float64      `json:"sort_order"`
	IsRequired     *bool         `json:"is_required"`
	IsMulti        *bool         `json:"is_multi"`
	IsActive       *bool         `json:"is_active"`
	DefaultValue   []string      `json:"default_value"`
	ExternalSource *string       `json:"external_source"`
	ExternalID     *string       `json:"external_id"`
	Options        []OptionInput `json:"options"`
}

type OptionInput struct {
	Name           *string  `json:"name"`
	SortOrder      *float64 `json:"sort_order"`
	IsDefault      *bool    `json:"is_default"`
	IsActive       *bool    `json:"is_active"`
	ExternalSource *string  `json:"external_source"`
	ExternalID     *string  `json:"external_id"`
}

const sortOrderStep = 10000

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func applyExternal(ref *property.ExternalRef, source, id *string) {
	applyString(&ref.Source, source)
	applyString(&ref.ID, id)
}

// Issue types

func (s *Service) ListIssueTypes(ctx context.Context, workspaceID, projectID string) ([]property.IssueType, error) {
	return s.store.ListIssueTypes(ctx, workspaceID, projectID)
}

func (s *Service) GetIssueType(ctx context.Context, workspaceID, projectID, id string) (property.IssueType, error) {
	return s.store.GetIssueType(ctx, workspaceID, projectID, id)
}

func (s *Service) CreateIssueType(ctx context.Context, workspaceID, projectID, actor string, input IssueTypeInput) (property.IssueType, error) {
	issueType := property.IssueType{
		ID:          s.newID(),
		WorkspaceID: workspaceID,
		IsActive:    true,
		Audit:       property.Audit{CreatedBy: actor, UpdatedBy: actor},
	}
	applyString(&issueType.Name, input.Name)
	applyString(&issueType.Description, input.Description)
	applyExternal(&issueType.ExternalRef, input.ExternalSource, input.ExternalID)
	if input.Level != nil {
		issueType.Level = *input.Level
	}
	if input.IsActive != nil {
		issueType.IsActive = *input.IsActive
	}
	if issueType.Name == "" {
		return property.IssueType{}, property.Invalid("", "name is required")
	}
	if err := s.integration.Check(issueType.ExternalRef); err != nil {
		return property.IssueType{}, err
	}

	if input.IsDefault != nil && *input.IsDefault {
		existing, err := s.store.ListIssueTypes(ctx, workspaceID, projectID)
		if err != nil {
			return property.IssueType{}, err
		}
		for _, t := range existing {
			if t.IsDefault {
				return property.IssueType{}, property.Invalid("", "project already has a default issue type")
			}
		}
		issueType.IsDefault = true
		issueType.IsActive = true
	}

	created, err := s.store.CreateIssueType(ctx, issueType, projectID)
	if err != nil {
		return property.IssueType{}, err
	}
	s.publish(ctx, events.Event{Type: events.IssueTypeChanged, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: created.ID, Actor: actor})
	return created, nil
}

// UpdateIssueType applies a patch. The default issue type only accepts
// patches that keep it active; any other patch returns it unchanged.
func (s *Service) UpdateIssueType(ctx context.Context, workspaceID, projectID, id, actor string, input IssueTypeInput) (property.IssueType, error) {
	current, err := s.store.GetIssueType(ctx, workspaceID, projectID, id)
	if err != nil {
		return property.IssueType{}, err
	}
	if current.IsDefault && (input.IsActive == nil || !*input.IsActive) {
		return current, nil
	}
	if input.IsDefault != nil && *input.IsDefault != current.IsDefault {
		return property.IssueType{}, property.Invalid("", "is_default cannot be changed")
	}

	next := current
	applyString(&next.Name, input.Name)
	applyString(&next.Description, input.Description)
	applyExternal(&next.ExternalRef, input.ExternalSource, input.ExternalID)
	if input.Level != nil {
		next.Level = *input.Level
	}
	if input.IsActive != nil {
		next.IsActive = *input.IsActive
	}
	if next.Name == "" {
		return property.IssueType{}, property.Invalid("", "name is required")
	}
	if err := s.integration.Check(next.ExternalRef); err != nil {
		return property.IssueType{}, err
	}
	next.UpdatedBy = actor

	updated, err := s.store.UpdateIssueType(ctx, next)
	if err != nil {
		return property.IssueType{}, err
	}
	if updated.IsActive != current.IsActive {
		s.invalidateSchema(ctx, workspaceID, projectID, id)
	}
	s.publish(ctx, events.Event{Type: events.IssueTypeChanged, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: id, Actor: actor})
	return updated, nil
}

func (s *Service) DeactivateIssueType(ctx context.Context, workspaceID, projectID, id, actor string) (property.IssueType, error) {
	inactive := false
	return s.UpdateIssueType(ctx, workspaceID, projectID, id, actor, IssueTypeInput{IsActive: &inactive})
}

// DeleteIssueType removes a non-default issue type. A type still used by
// work items is soft deleted; soft reports which happened.
func (s *Service) DeleteIssueType(ctx context.Context, workspaceID, projectID, id, actor string) (soft bool, err error) {
	current, err := s.store.GetIssueType(ctx, workspaceID, projectID, id)
	if err != nil {
		return false, err
	}
	if current.IsDefault {
		return false, property.Invalid("", "the default issue type cannot be deleted")
	}
	soft, err = s.store.DeleteIssueType(ctx, workspaceID, projectID, id, actor)
	if err != nil {
		return false, err
	}
	s.invalidateProject(ctx, workspaceID, projectID)
	s.publish(ctx, events.Event{Type: events.IssueTypeDeleted, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: id, Actor: actor})
	return soft, nil
}

// Property definitions

func (s *Service) ListProjectProperties(ctx context.Context, workspaceID, projectID string) ([]property.Definition, error) {
	return s.store.ListProperties(ctx, workspaceID, projectID, "")
}

func (s *Service) ListProperties(ctx context.Context, workspaceID, projectID, issueTypeID string) ([]property.Definition, error) {
	if _, err := s.store.GetIssueType(ctx, workspaceID, projectID, issueTypeID); err != nil {
		return nil, err
	}
	return s.definitions(ctx, workspaceID, projectID, issueTypeID)
}

func (s *Service) GetProperty(ctx context.Context, workspaceID, projectID, issueTypeID, id string) (property.Definition, error) {
	def, err := s.store.GetProperty(ctx, workspaceID, projectID, id)
	if err != nil {
		return property.Definition{}, err
	}
	if issueTypeID != "" && def.IssueTypeID != issueTypeID {
		return property.Definition{}, fmt.Errorf("property %s: %w", id, property.ErrNotFound)
	}
	return def, nil
}

func (s *Service) CreateProperty(ctx context.Context, workspaceID, projectID, issueTypeID, actor string, input PropertyInput) (property.Definition, error) {
	if _, err := s.store.GetIssueType(ctx, workspaceID, projectID, issueTypeID); err != nil {
		return property.Definition{}, err
	}

	def := property.Definition{
		ID:           s.newID(),
		WorkspaceID:  workspaceID,
		ProjectID:    projectID,
		IssueTypeID:  issueTypeID,
		IsActive:     true,
		DefaultValue: input.DefaultValue,
		Audit:        property.Audit{CreatedBy: actor, UpdatedBy: actor},
	}
	if input.PropertyType == nil {
		return property.Definition{}, property.Invalid("", "property_type is required")
	}
	def.Kind = property.Kind(strings.ToUpper(strings.TrimSpace(*input.PropertyType)))
	if input.RelationType != nil {
		def.RelationType = property.RelationType(strings.ToUpper(strings.TrimSpace(*input.RelationType)))
	}
	applyString(&def.DisplayName, input.DisplayName)
	applyString(&def.Description, input.Description)
	applyExternal(&def.ExternalRef, input.ExternalSource, input.ExternalID)
	if input.IsRequired != nil {
		def.IsRequired = *input.IsRequired
	}
	if input.IsMulti != nil {
		def.IsMulti = *input.IsMulti
	}
	if input.IsActive != nil {
		def.IsActive = *input.IsActive
	}

	if input.SortOrder != nil {
		def.SortOrder = *input.SortOrder
	} else {
		siblings, err := s.definitions(ctx, workspaceID, projectID, issueTypeID)
		if err != nil {
			return property.Definition{}, err
		}
		def.SortOrder = nextSortOrder(siblings)
	}

	for i, in := range input.Options {
		opt := s.newOption(def.ID, actor, in)
		if in.SortOrder == nil {
			opt.SortOrder = float64((i + 1) * sortOrderStep)
		}
		def.Options = append(def.Options, opt)
	}

	if err := property.CheckDefinition(&def); err != nil {
		return property.Definition{}, err
	}
	if err := s.checkExternal(def.ExternalRef, def.Options); err != nil {
		return property.Definition{}, err
	}

	created, err := s.store.CreateProperty(ctx, def)
	if err != nil {
		return property.Definition{}, err
	}
	s.invalidateSchema(ctx, workspaceID, projectID, issueTypeID)
	s.publish(ctx, events.Event{Type: events.PropertyChanged, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: created.ID, Actor: actor})
	return created, nil
}

// UpdateProperty applies a patch. property_type and relation_type are fixed
// once created since stored values depend on them. Options are managed
// through their own endpoints.
func (s *Service) UpdateProperty(ctx context.Context, workspaceID, projectID, issueTypeID, id, actor string, input PropertyInput) (property.Definition, error) {
	current, err := s.GetProperty(ctx, workspaceID, projectID, issueTypeID, id)
	if err != nil {
		return property.Definition{}, err
	}
	if input.PropertyType != nil && !strings.EqualFold(strings.TrimSpace(*input.PropertyType), string(current.Kind)) {
		return property.Definition{}, property.Invalid(id, "property_type cannot be changed")
	}
	if input.RelationType != nil && !strings.EqualFold(strings.TrimSpace(*input.RelationType), string(current.RelationType)) {
		return property.Definition{}, property.Invalid(id, "relation_type cannot be changed")
	}
	if len(input.Options) > 0 {
		return property.Definition{}, property.Invalid(id, "options are managed through the options endpoint")
	}

	next := current
	applyString(&next.DisplayName, input.DisplayName)
	applyString(&next.Description, input.Description)
	applyExternal(&next.ExternalRef, input.ExternalSource, input.ExternalID)
	if input.SortOrder != nil {
		next.SortOrder = *input.SortOrder
	}
	if input.IsRequired != nil {
		next.IsRequired = *input.IsRequired
	}
	if input.IsMulti != nil {
		next.IsMulti = *input.IsMulti
	}
	if input.IsActive != nil {
		next.IsActive = *input.IsActive
	}
	if input.DefaultValue != nil {
		next.DefaultValue = input.DefaultValue
	}
	next.UpdatedBy = actor

	if err := property.CheckDefinition(&next); err != nil {
		return property.Definition{}, err
	}
	if err := s.checkExternal(next.ExternalRef, nil); err != nil {
		return property.Definition{}, err
	}

	updated, err := s.store.UpdateProperty(ctx, next)
	if err != nil {
		return property.Definition{}, err
	}
	s.invalidateSchema(ctx, workspaceID, projectID, current.IssueTypeID)
	s.publish(ctx, events.Event{Type: events.PropertyChanged, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: id, Actor: actor})
	return updated, nil
}

func (s *Service) DeleteProperty(ctx context.Context, workspaceID, projectID, issueTypeID, id, actor string) error {
	current, err := s.GetProperty(ctx, workspaceID, projectID, issueTypeID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProperty(ctx, workspaceID, projectID, id); err != nil {
		return err
	}
	s.invalidateSchema(ctx, workspaceID, projectID, current.IssueTypeID)
	s.publish(ctx, events.Event{Type: events.PropertyDeleted, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: id, Actor: actor})
	return nil
}

func (s *Service) checkExternal(ref property.ExternalRef, options []property.Option) error {
	var errs property.ValidationErrors
	refs := []property.ExternalRef{ref}
	for _, opt := range options {
		refs = append(refs, opt.ExternalRef)
	}
	for _, r := range refs {
		var invalid *property.ValidationError
		if err := s.integration.Check(r); errors.As(err, &invalid) {
			errs = append(errs, invalid)
		}
	}
	return errs.Err()
}

func nextSortOrder(defs []property.Definition) float64 {
	highest := 0.0
	for _, d := range defs {
		if d.SortOrder > highest {
			highest = d.SortOrder
		}
	}
	return highest + sortOrderStep
}

// Options

func (s *Service) newOption(propertyID, actor string, in OptionInput) property.Option {
	opt := property.Option{
		ID:         s.newID(),
		PropertyID: propertyID,
		IsActive:   true,
		Audit:      property.Audit{CreatedBy: actor, UpdatedBy: actor},
	}
	applyOption(&opt, in)
	return opt
}

func applyOption(opt *property.Option, in OptionInput) {
	applyString(&opt.Name, in.Name)
	applyExternal(&opt.ExternalRef, in.ExternalSource, in.ExternalID)
	if in.SortOrder != nil {
		opt.SortOrder = *in.SortOrder
	}
	if in.IsDefault != nil {
		opt.IsDefault = *in.IsDefault
	}
	if in.IsActive != nil {
		opt.IsActive = *in.IsActive
	}
}

func (s *Service) optionProperty(ctx context.Context, workspaceID, projectID, propertyID string) (property.Definition, error) {
	def, err := s.store.GetProperty(ctx, workspaceID, projectID, propertyID)
	if err != nil {
		return property.Definition{}, err
	}
	if def.Kind != property.KindOption {
		return property.Definition{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "options apply to OPTION properties only", nil)
	}
	return def, nil
}

func (s *Service) ListOptions(ctx context.Context, workspaceID, projectID, propertyID string) ([]property.Option, error) {
	def, err := s.optionProperty(ctx, workspaceID, projectID, propertyID)
	if err != nil {
		return nil, err
	}
	return s.store.ListOptions(ctx, def.ID)
}

func (s *Service) CreateOption(ctx context.Context, workspaceID, projectID, propertyID, actor string, input OptionInput) (property.Option, error) {
	def, err := s.optionProperty(ctx, workspaceID, projectID, propertyID)
	if err != nil {
		return property.Option{}, err
	}
	opt := s.newOption(def.ID, actor, input)
	if input.SortOrder == nil {
		opt.SortOrder = float64((len(def.Options) + 1) * sortOrderStep)
	}
	if err := property.CheckOptions(def, append(append([]property.Option{}, def.Options...), opt)); err != nil {
		return property.Option{}, err
	}
	if err := s.checkExternal(opt.ExternalRef, nil); err != nil {
		return property.Option{}, err
	}

	created, err := s.store.CreateOption(ctx, opt)
	if err != nil {
		return property.Option{}, err
	}
	s.invalidateSchema(ctx, workspaceID, projectID, def.IssueTypeID)
	s.publish(ctx, events.Event{Type: events.OptionChanged, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: created.ID, Actor: actor})
	return created, nil
}

func (s *Service) UpdateOption(ctx context.Context, workspaceID, projectID, propertyID, id, actor string, input OptionInput) (property.Option, error) {
	def, err := s.optionProperty(ctx, workspaceID, projectID, propertyID)
	if err != nil {
		return property.Option{}, err
	}
	options := append([]property.Option{}, def.Options...)
	idx := -1
	for i := range options {
		if options[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return property.Option{}, fmt.Errorf("option %s: %w", id, property.ErrNotFound)
	}
	applyOption(&options[idx], input)
	options[idx].UpdatedBy = actor
	if err := property.CheckOptions(def, options); err != nil {
		return property.Option{}, err
	}
	if err := s.checkExternal(options[idx].ExternalRef, nil); err != nil {
		return property.Option{}, err
	}

	updated, err := s.store.UpdateOption(ctx, options[idx])
	if err != nil {
		return property.Option{}, err
	}
	s.invalidateSchema(ctx, workspaceID, projectID, def.IssueTypeID)
	s.publish(ctx, events.Event{Type: events.OptionChanged, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: id, Actor: actor})
	return updated, nil
}

func (s *Service) DeleteOption(ctx context.Context, workspaceID, projectID, propertyID, id, actor string) error {
	def, err := s.optionProperty(ctx, workspaceID, projectID, propertyID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOption(ctx, def.ID, id); err != nil {
		return err
	}
	s.invalidateSchema(ctx, workspaceID, projectID, def.IssueTypeID)
	s.publish(ctx, events.Event{Type: events.OptionDeleted, WorkspaceID: workspaceID, ProjectID: projectID, ResourceID: id, Actor: actor})
	return nil
}
