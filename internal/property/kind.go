// Package property holds the issue property domain: value kinds, the typed
// value sum type, schema definitions, validation, row building for
// persistence, and projection of stored rows back to canonical strings.
//
// Nothing in this package touches storage. The store maps Value to its
// physical wide-column representation at the persistence boundary.
package property

import (
	"fmt"
	"strings"
)

// Kind is the declared data type of an issue property.
type Kind string

const (
	KindText     Kind = "TEXT"
	KindURL      Kind = "URL"
	KindEmail    Kind = "EMAIL"
	KindFile     Kind = "FILE"
	KindDatetime Kind = "DATETIME"
	KindDecimal  Kind = "DECIMAL"
	KindBoolean  Kind = "BOOLEAN"
	KindRelation Kind = "RELATION"
	KindOption   Kind = "OPTION"
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{
	KindText,
	KindURL,
	KindEmail,
	KindFile,
	KindDatetime,
	KindDecimal,
	KindBoolean,
	KindRelation,
	KindOption,
}

// ParseKind normalizes and validates a kind name.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
	return k, nil
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	_, err := k.slot()
	return err == nil
}

// Slot returns the storage slot that values of this kind occupy.
// It panics on an unknown kind; callers validate kinds with ParseKind first.
func (k Kind) Slot() Slot {
	s, err := k.slot()
	if err != nil {
		panic(err)
	}
	return s
}

func (k Kind) slot() (Slot, error) {
	switch k {
	case KindText, KindURL, KindEmail, KindFile:
		return SlotText, nil
	case KindDatetime:
		return SlotDatetime, nil
	case KindDecimal:
		return SlotDecimal, nil
	case KindBoolean:
		return SlotBoolean, nil
	case KindRelation:
		return SlotRelation, nil
	case KindOption:
		return SlotOption, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
}

// Slot identifies which typed column of a value row is populated.
type Slot int

const (
	SlotText Slot = iota + 1
	SlotDecimal
	SlotBoolean
	SlotDatetime
	SlotRelation
	SlotOption
)

func (s Slot) String() string {
	switch s {
	case SlotText:
		return "text"
	case SlotDecimal:
		return "decimal"
	case SlotBoolean:
		return "boolean"
	case SlotDatetime:
		return "datetime"
	case SlotRelation:
		return "relation"
	case SlotOption:
		return "option"
	default:
		return "unknown"
	}
}

// RelationType names the entity space a RELATION property points into.
type RelationType string

const (
	RelationIssue RelationType = "ISSUE"
	RelationUser  RelationType = "USER"
)

// ParseRelationType defaults to RelationIssue for an empty input.
func ParseRelationType(raw string) (RelationType, error) {
	switch RelationType(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", RelationIssue:
		return RelationIssue, nil
	case RelationUser:
		return RelationUser, nil
	}
	return "", fmt.Errorf("%w: relation_type %q", ErrInvalidSettings, raw)
}
