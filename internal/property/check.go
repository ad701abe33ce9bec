package property

import (
	"errors"
	"strings"
)

// CheckDefinition validates and normalizes a property definition before it
// is stored. Kind must be set and valid; display name is trimmed and must be
// non-empty; relation_type applies to RELATION only; default values are parsed
// against the kind and rewritten to canonical form.
func CheckDefinition(def *Definition) error {
	var errs ValidationErrors

	def.DisplayName = strings.TrimSpace(def.DisplayName)
	if def.DisplayName == "" {
		errs = append(errs, Invalid(def.ID, "display_name is required"))
	}

	kind, err := ParseKind(string(def.Kind))
	if err != nil {
		errs = append(errs, Invalid(def.ID, "%v", err))
		return errs
	}
	def.Kind = kind

	if kind == KindRelation {
		rt, err := ParseRelationType(string(def.RelationType))
		if err != nil {
			errs = append(errs, Invalid(def.ID, "%v", err))
		}
		def.RelationType = rt
	} else if def.RelationType != "" {
		errs = append(errs, Invalid(def.ID, "relation_type applies to RELATION properties only"))
	}

	defaults := make([]any, 0, len(def.DefaultValue))
	for _, d := range def.DefaultValue {
		defaults = append(defaults, d)
	}
	defaults = NonEmpty(defaults)
	if !def.IsMulti && len(defaults) > 1 {
		errs = append(errs, Invalid(def.ID, "%s accepts a single default value", def.DisplayName))
	}
	canonical := make([]string, 0, len(defaults))
	for _, raw := range defaults {
		// Option defaults are expressed through the options' is_default flag.
		if kind == KindOption {
			errs = append(errs, Invalid(def.ID, "set is_default on an option instead of default_value"))
			break
		}
		val, err := ParseValue(kind, raw)
		if err != nil {
			errs = append(errs, Invalid(def.ID, "default_value: %v", err))
			break
		}
		canonical = append(canonical, val.Canonical())
	}
	def.DefaultValue = canonical

	if kind != KindOption && len(def.Options) > 0 {
		errs = append(errs, Invalid(def.ID, "options apply to OPTION properties only"))
	}
	if err := CheckOptions(*def, def.Options); err != nil {
		var many ValidationErrors
		if errors.As(err, &many) {
			errs = append(errs, many...)
		}
	}
	return errs.Err()
}

// CheckOptions validates the option set of an OPTION property. Names are
// required and unique (case-insensitive) across active and inactive options.
// A single-valued property has at most one active default.
func CheckOptions(def Definition, options []Option) error {
	var errs ValidationErrors
	// seen maps a lowercased name to whether its first holder is active.
	seen := make(map[string]bool, len(options))
	defaults := 0
	for i := range options {
		opt := &options[i]
		opt.Name = strings.TrimSpace(opt.Name)
		if opt.Name == "" {
			errs = append(errs, Invalid(def.ID, "option name is required"))
			continue
		}
		key := strings.ToLower(opt.Name)
		if active, dup := seen[key]; dup {
			if active && opt.IsActive {
				errs = append(errs, Invalid(def.ID, "option %q is defined more than once", opt.Name))
			} else {
				errs = append(errs, Invalid(def.ID, "option %q already exists as an inactive option; reactivate it instead", opt.Name))
			}
		} else {
			seen[key] = opt.IsActive
		}
		if opt.IsActive && opt.IsDefault {
			defaults++
		}
	}
	if !def.IsMulti && defaults > 1 {
		errs = append(errs, Invalid(def.ID, "%s accepts a single default option", def.DisplayName))
	}
	return errs.Err()
}
