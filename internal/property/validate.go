package property

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// RelationResolver reports which of ids exist as entities of relation type rt
// inside the workspace.
type RelationResolver interface {
	ExistingRelations(ctx context.Context, workspaceID string, rt RelationType, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

// FileResolver reports whether key names a stored file.
type FileResolver interface {
	FileExists(ctx context.Context, key string) (bool, error)
}

// Validator checks submitted raw values against a Schema.
// Files may be nil, in which case FILE values are checked for shape only.
type Validator struct {
	Relations RelationResolver
	Files     FileResolver
}

func NewValidator(relations RelationResolver, files FileResolver) *Validator {
	return &Validator{Relations: relations, Files: files}
}

// Validate checks a full submission. submitted maps property id to the raw
// entries sent by the client; existing holds the values currently stored for
// the entity. Every active required property must end up with at least one
// value, taking the submitted list when present and the existing one otherwise.
//
// On success the accepted typed values are returned keyed by property id, with
// empty entries dropped. Validation failures are returned as ValidationErrors;
// any other error comes from a resolver.
func (v *Validator) Validate(ctx context.Context, schema Schema, submitted map[string][]any, existing map[string][]Value) (map[string][]Value, error) {
	required := make([]Definition, 0)
	for _, def := range schema.Active() {
		if def.IsRequired {
			required = append(required, def)
		}
	}
	return v.validate(ctx, schema, submitted, existing, required)
}

// ValidateProperty checks a replacement of a single property's values. Only
// that property's required flag is enforced.
func (v *Validator) ValidateProperty(ctx context.Context, schema Schema, propertyID string, raws []any) ([]Value, error) {
	submitted := map[string][]any{propertyID: raws}
	var required []Definition
	if def, ok := schema.Lookup(propertyID); ok && def.IsActive && def.IsRequired {
		required = append(required, def)
	}
	accepted, err := v.validate(ctx, schema, submitted, nil, required)
	if err != nil {
		return nil, err
	}
	return accepted[propertyID], nil
}

func (v *Validator) validate(ctx context.Context, schema Schema, submitted map[string][]any, existing map[string][]Value, required []Definition) (map[string][]Value, error) {
	var errs ValidationErrors
	accepted := make(map[string][]Value, len(submitted))
	failed := make(map[string]bool)

	ids := make([]string, 0, len(submitted))
	for id := range submitted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Relation ids are resolved in one round trip per relation type.
	pending := make(map[RelationType][]uuid.UUID)

	for _, id := range ids {
		def, ok := schema.Lookup(id)
		if !ok {
			errs = append(errs, Invalid(id, "%s is not a valid issue property", id))
			failed[id] = true
			continue
		}
		if !def.IsActive {
			errs = append(errs, Invalid(id, "%s is not an active property", def.DisplayName))
			failed[id] = true
			continue
		}

		raws := NonEmpty(submitted[id])
		if !def.IsMulti && len(raws) > 1 {
			errs = append(errs, Invalid(id, "%s accepts a single value", def.DisplayName))
			failed[id] = true
			continue
		}

		values := make([]Value, 0, len(raws))
		for _, raw := range raws {
			val, err := ParseValue(def.Kind, raw)
			if err != nil {
				errs = append(errs, Invalid(id, "%s: %v", def.DisplayName, err))
				failed[id] = true
				break
			}
			if err := checkReference(def, val); err != nil {
				errs = append(errs, Invalid(id, "%s: %v", def.DisplayName, err))
				failed[id] = true
				break
			}
			values = append(values, val)
		}
		if failed[id] {
			continue
		}
		if def.Kind == KindRelation {
			rt := def.RelationType
			if rt == "" {
				rt = RelationIssue
			}
			for _, val := range values {
				pending[rt] = append(pending[rt], uuid.UUID(val.(RelationValue)))
			}
		}
		if def.Kind == KindFile && v.Files != nil {
			for _, val := range values {
				ok, err := v.Files.FileExists(ctx, val.Canonical())
				if err != nil {
					return nil, fmt.Errorf("resolve file %q: %w", val.Canonical(), err)
				}
				if !ok {
					errs = append(errs, Invalid(id, "%s: file %q does not exist", def.DisplayName, val.Canonical()))
					failed[id] = true
					break
				}
			}
			if failed[id] {
				continue
			}
		}
		accepted[id] = values
	}

	if len(pending) > 0 {
		missing, err := v.resolveRelations(ctx, schema.WorkspaceID, pending)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			def, ok := schema.Lookup(id)
			if !ok || failed[id] || def.Kind != KindRelation {
				continue
			}
			for _, val := range accepted[id] {
				ref := uuid.UUID(val.(RelationValue))
				if missing[ref] {
					errs = append(errs, Invalid(id, "%s: %s does not exist in this workspace", def.DisplayName, ref))
					failed[id] = true
					delete(accepted, id)
					break
				}
			}
		}
	}

	for _, def := range required {
		if failed[def.ID] {
			continue
		}
		effective, submittedHere := accepted[def.ID]
		if !submittedHere {
			effective = existing[def.ID]
		}
		if len(effective) == 0 {
			errs = append(errs, Invalid(def.ID, "%s is a required property", def.DisplayName))
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return accepted, nil
}

func checkReference(def Definition, val Value) error {
	if opt, ok := val.(OptionValue); ok {
		if !def.HasOption(uuid.UUID(opt)) {
			return fmt.Errorf("%s is not an option of this property", opt.Canonical())
		}
	}
	return nil
}

func (v *Validator) resolveRelations(ctx context.Context, workspaceID string, pending map[RelationType][]uuid.UUID) (map[uuid.UUID]bool, error) {
	missing := make(map[uuid.UUID]bool)
	for rt, ids := range pending {
		if v.Relations == nil {
			for _, id := range ids {
				missing[id] = true
			}
			continue
		}
		found, err := v.Relations.ExistingRelations(ctx, workspaceID, rt, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve %s relations: %w", rt, err)
		}
		for _, id := range ids {
			if !found[id] {
				missing[id] = true
			}
		}
	}
	return missing, nil
}
