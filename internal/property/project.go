package property

import "sort"

// Project renders stored rows as canonical strings grouped by property id.
// Rows of properties missing from schema are skipped. A row whose slot does
// not match its property's kind renders as "". Each list is deduplicated and
// sorted.
func Project(schema Schema, rows []ValueRow) map[string][]string {
	grouped := make(map[string][]string)
	for _, row := range rows {
		def, ok := schema.Lookup(row.PropertyID)
		if !ok {
			continue
		}
		grouped[row.PropertyID] = append(grouped[row.PropertyID], canonical(def, row.Value))
	}
	out := make(map[string][]string, len(grouped))
	for id, values := range grouped {
		out[id] = distinct(values)
	}
	return out
}

func canonical(def Definition, val Value) string {
	if val == nil || !def.Kind.Valid() || val.Slot() != def.Kind.Slot() {
		return ""
	}
	return val.Canonical()
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
