package property

import (
	"sort"
	"strings"
)

// Integration is the registry of external sources allowed to bind schema
// resources through external_source/external_id. The zero value accepts any
// source.
type Integration struct {
	sources map[string]struct{}
}

func NewIntegration(sources []string) Integration {
	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		s = normalizeSource(s)
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return Integration{sources: set}
}

// Sources lists the registered sources, sorted.
func (i Integration) Sources() []string {
	out := make([]string, 0, len(i.sources))
	for s := range i.sources {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Accepts reports whether source may be used as an external source.
func (i Integration) Accepts(source string) bool {
	if len(i.sources) == 0 {
		return true
	}
	_, ok := i.sources[normalizeSource(source)]
	return ok
}

// Check validates an external binding. Either both halves are set or
// neither is, and the source must be registered.
func (i Integration) Check(ref ExternalRef) error {
	source := strings.TrimSpace(ref.Source)
	id := strings.TrimSpace(ref.ID)
	switch {
	case source == "" && id == "":
		return nil
	case source == "" || id == "":
		return Invalid("", "external_source and external_id must be set together")
	case !i.Accepts(source):
		return Invalid("", "unknown external source %q", source)
	}
	return nil
}

func normalizeSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
