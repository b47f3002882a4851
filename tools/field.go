package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// FieldKind names a variant of the Field union.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindNumber  FieldKind = "number"
	KindInteger FieldKind = "integer"
	KindBool    FieldKind = "boolean"
	KindArray   FieldKind = "array"
	KindEnum    FieldKind = "enum"
	KindAny     FieldKind = "any"
)

// FieldInfo is shared by every Field variant.
type FieldInfo struct {
	Name        string
	Description string
	// Aliases are alternative argument keys accepted for this field, checked
	// in order after Name.
	Aliases  []string
	Required bool
}

// Keys returns the canonical name followed by its aliases.
func (f FieldInfo) Keys() []string {
	return append([]string{f.Name}, f.Aliases...)
}

// Field is one typed tool parameter. The variants are StringField,
// NumberField, IntegerField, BoolField, ArrayField, EnumField and AnyField.
type Field interface {
	Info() FieldInfo
	Kind() FieldKind
	// Validate checks v and returns it in canonical Go form.
	Validate(v any) (any, error)
	// Schema renders the field as a JSON-schema property.
	Schema() map[string]any
}

func (f FieldInfo) Info() FieldInfo { return f }

func (f FieldInfo) baseSchema(typ string) map[string]any {
	s := map[string]any{}
	if typ != "" {
		s["type"] = typ
	}
	if f.Description != "" {
		s["description"] = f.Description
	}
	return s
}

// StringField accepts JSON strings.
type StringField struct{ FieldInfo }

func (StringField) Kind() FieldKind { return KindString }

func (f StringField) Validate(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, typeError(f.Name, "string", v)
	}
	return s, nil
}

func (f StringField) Schema() map[string]any { return f.baseSchema("string") }

// NumberField accepts any JSON number and yields float64.
type NumberField struct{ FieldInfo }

func (NumberField) Kind() FieldKind { return KindNumber }

func (f NumberField) Validate(v any) (any, error) {
	n, ok := toFloat(v)
	if !ok {
		return nil, typeError(f.Name, "number", v)
	}
	return n, nil
}

func (f NumberField) Schema() map[string]any { return f.baseSchema("number") }

// IntegerField accepts integral JSON numbers and yields int.
type IntegerField struct{ FieldInfo }

func (IntegerField) Kind() FieldKind { return KindInteger }

func (f IntegerField) Validate(v any) (any, error) {
	n, ok := toFloat(v)
	if !ok || n != math.Trunc(n) {
		return nil, typeError(f.Name, "integer", v)
	}
	return int(n), nil
}

func (f IntegerField) Schema() map[string]any { return f.baseSchema("integer") }

// BoolField accepts JSON booleans.
type BoolField struct{ FieldInfo }

func (BoolField) Kind() FieldKind { return KindBool }

func (f BoolField) Validate(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, typeError(f.Name, "boolean", v)
	}
	return b, nil
}

func (f BoolField) Schema() map[string]any { return f.baseSchema("boolean") }

// ArrayField accepts JSON arrays whose items satisfy Items.
type ArrayField struct {
	FieldInfo
	Items Field
}

func (ArrayField) Kind() FieldKind { return KindArray }

func (f ArrayField) Validate(v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, typeError(f.Name, "array", v)
	}
	if f.Items == nil {
		return items, nil
	}
	out := make([]any, len(items))
	for i, item := range items {
		iv, err := f.Items.Validate(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", f.Name, i, err)
		}
		out[i] = iv
	}
	return out, nil
}

func (f ArrayField) Schema() map[string]any {
	s := f.baseSchema("array")
	if f.Items != nil {
		s["items"] = f.Items.Schema()
	} else {
		s["items"] = map[string]any{}
	}
	return s
}

// EnumField accepts one of a fixed set of strings.
type EnumField struct {
	FieldInfo
	Values []string
}

func (EnumField) Kind() FieldKind { return KindEnum }

func (f EnumField) Validate(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, typeError(f.Name, "string", v)
	}
	for _, allowed := range f.Values {
		if s == allowed {
			return s, nil
		}
	}
	return nil, fmt.Errorf("argument %q must be one of [%s], got %q", f.Name, strings.Join(f.Values, ", "), s)
}

func (f EnumField) Schema() map[string]any {
	s := f.baseSchema("string")
	s["enum"] = append([]string(nil), f.Values...)
	return s
}

// AnyField accepts every value unchanged. Declared types the converter does
// not understand (objects, unions, typos) degrade to AnyField instead of
// failing the whole tool; Declared keeps the original type for diagnostics.
type AnyField struct {
	FieldInfo
	Declared string
}

func (AnyField) Kind() FieldKind { return KindAny }

func (f AnyField) Validate(v any) (any, error) { return v, nil }

func (f AnyField) Schema() map[string]any {
	s := f.baseSchema("")
	if f.Declared == "object" {
		s["type"] = "object"
	}
	return s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func typeError(name, want string, got any) error {
	return fmt.Errorf("argument %q must be of type %s, got %s", name, want, jsonType(got))
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
