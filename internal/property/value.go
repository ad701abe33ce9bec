package property

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the canonical form of DATETIME values.
const DateLayout = "2006-01-02"

// Value is a single typed property value. The set of implementations is
// closed: TextValue, DecimalValue, BoolValue, DateValue, RelationValue and
// OptionValue.
type Value interface {
	Slot() Slot
	// Canonical returns the string form used in API responses.
	Canonical() string
	sealed()
}

type TextValue string

func (TextValue) Slot() Slot { return SlotText }
func (v TextValue) Canonical() string { return string(v) }
func (TextValue) sealed() {}

// DecimalValue keeps the scale of the submitted literal, so 3.50 reads
// back as "3.50".
type DecimalValue struct {
	decimal.Decimal
}

func (DecimalValue) Slot() Slot { return SlotDecimal }
func (v DecimalValue) Canonical() string {
	if exp := v.Exponent(); exp < 0 {
		return v.StringFixed(-exp)
	}
	return v.String()
}
func (DecimalValue) sealed() {}

type BoolValue bool

func (BoolValue) Slot() Slot { return SlotBoolean }
func (v BoolValue) Canonical() string { return strconv.FormatBool(bool(v)) }
func (BoolValue) sealed() {}

// DateValue is a calendar date stored as midnight UTC.
type DateValue struct {
	time.Time
}

func (DateValue) Slot() Slot { return SlotDatetime }
func (v DateValue) Canonical() string { return v.UTC().Format(DateLayout) }
func (DateValue) sealed() {}

// NewDate truncates t to its calendar date in t's own location.
func NewDate(t time.Time) DateValue {
	y, m, d := t.Date()
	return DateValue{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

type RelationValue uuid.UUID

func (RelationValue) Slot() Slot { return SlotRelation }
func (v RelationValue) Canonical() string { return uuid.UUID(v).String() }
func (RelationValue) sealed() {}

type OptionValue uuid.UUID

func (OptionValue) Slot() Slot { return SlotOption }
func (v OptionValue) Canonical() string { return uuid.UUID(v).String() }
func (OptionValue) sealed() {}

// IsEmpty reports whether a raw submitted entry carries no value.
func IsEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

// NonEmpty drops empty entries from a raw value list.
func NonEmpty(raws []any) []any {
	out := make([]any, 0, len(raws))
	for _, raw := range raws {
		if !IsEmpty(raw) {
			out = append(out, raw)
		}
	}
	return out
}

// ParseValue converts one non-empty raw entry into the Value for kind k.
// It checks format only; references to options, entities and files are
// resolved by the Validator.
func ParseValue(k Kind, raw any) (Value, error) {
	switch k {
	case KindText:
		s, err := requireString(raw)
		if err != nil {
			return nil, err
		}
		return TextValue(s), nil
	case KindURL:
		s, err := requireString(raw)
		if err != nil {
			return nil, err
		}
		return parseURL(s)
	case KindEmail:
		s, err := requireString(raw)
		if err != nil {
			return nil, err
		}
		return parseEmail(s)
	case KindFile:
		s, err := requireString(raw)
		if err != nil {
			return nil, err
		}
		return TextValue(strings.TrimSpace(s)), nil
	case KindDatetime:
		s, err := requireString(raw)
		if err != nil {
			return nil, err
		}
		return parseDate(s)
	case KindDecimal:
		return parseDecimal(raw)
	case KindBoolean:
		return parseBool(raw)
	case KindRelation:
		id, err := parseID(raw)
		if err != nil {
			return nil, err
		}
		return RelationValue(id), nil
	case KindOption:
		id, err := parseID(raw)
		if err != nil {
			return nil, err
		}
		return OptionValue(id), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
}

func requireString(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %s", describe(raw))
	}
	return s, nil
}

func parseURL(s string) (Value, error) {
	s = strings.TrimSpace(s)
	u, err := url.ParseRequestURI(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%q is not a valid URL", s)
	}
	return TextValue(s), nil
}

func parseEmail(s string) (Value, error) {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return nil, fmt.Errorf("%q is not a valid email address", s)
	}
	return TextValue(s), nil
}

func parseDate(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return NewDate(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return NewDate(t), nil
	}
	return nil, fmt.Errorf("%q is not a valid date", s)
}

func parseDecimal(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid decimal", v)
		}
		return DecimalValue{d}, nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid decimal", v.String())
		}
		return DecimalValue{d}, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("decimal must be finite")
		}
		return DecimalValue{decimal.NewFromFloat(v)}, nil
	case int:
		return DecimalValue{decimal.NewFromInt(int64(v))}, nil
	case int64:
		return DecimalValue{decimal.NewFromInt(v)}, nil
	}
	return nil, fmt.Errorf("expected a decimal, got %s", describe(raw))
}

func parseBool(raw any) (Value, error) {
	switch v := raw.(type) {
	case bool:
		return BoolValue(v), nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid boolean", v)
		}
		return BoolValue(b), nil
	}
	return nil, fmt.Errorf("expected a boolean, got %s", describe(raw))
}

func parseID(raw any) (uuid.UUID, error) {
	s, err := requireString(raw)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is not a valid id", s)
	}
	return id, nil
}

func describe(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case float64, int, int64, json.Number:
		return "a number"
	case string:
		return "a string"
	case []any:
		return "a list"
	case map[string]any:
		return "an object"
	}
	return fmt.Sprintf("%T", raw)
}
