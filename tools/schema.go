package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/martinemde/dome/llm"
)

// Declaration is an external tool declaration: a name, a description, an
// owning subagent role and a JSON-schema-like object parameter block.
type Declaration struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Role        string     `json:"role,omitempty" yaml:"role"`
	Parameters  Parameters `json:"parameters" yaml:"parameters"`
}

// Parameters is the object schema of a declaration.
type Parameters struct {
	Type       string              `json:"type" yaml:"type"`
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties"`
	Required   []string            `json:"required,omitempty" yaml:"required"`
}

// Property is one declared parameter.
type Property struct {
	Type        string    `json:"type,omitempty" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum"`
	Items       *Property `json:"items,omitempty" yaml:"items"`
	Aliases     []string  `json:"aliases,omitempty" yaml:"aliases"`
}

// Handler executes a tool with canonicalized arguments. The returned value
// must be JSON-serializable. Returning a Result passes it through unchanged.
type Handler func(ctx context.Context, args Args) (any, error)

// Tool is a declaration converted into a runtime-invokable, input-validated
// tool bound to a Handler.
type Tool struct {
	// Name is the normalized dispatch key.
	Name         string
	DeclaredName string
	Description  string
	Role         string
	Fields       []Field
	Handler      Handler
	Declaration  Declaration
}

// Lookup resolves the handler for a normalized tool name. It returns nil when
// no implementation exists.
type Lookup func(name string) Handler

// Convert turns declarations into tools, binding each to the handler that
// lookup returns for its normalized name. A declaration without a handler is
// still converted; executing it reports the tool as not supported.
func Convert(decls []Declaration, lookup Lookup) []*Tool {
	out := make([]*Tool, 0, len(decls))
	for _, d := range decls {
		var h Handler
		if lookup != nil {
			h = lookup(Normalize(d.Name))
		}
		out = append(out, NewTool(d, h))
	}
	return out
}

// NewTool converts a single declaration.
func NewTool(d Declaration, h Handler) *Tool {
	required := make(map[string]bool, len(d.Parameters.Required))
	for _, name := range d.Parameters.Required {
		required[name] = true
	}

	names := make([]string, 0, len(d.Parameters.Properties))
	for name := range d.Parameters.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, FieldFromProperty(name, d.Parameters.Properties[name], required[name]))
	}

	return &Tool{
		Name:         Normalize(d.Name),
		DeclaredName: d.Name,
		Description:  d.Description,
		Role:         d.Role,
		Fields:       fields,
		Handler:      h,
		Declaration:  d,
	}
}

// FieldFromProperty maps a declared property onto the Field union.
// Unsupported types degrade to AnyField.
func FieldFromProperty(name string, p Property, required bool) Field {
	info := FieldInfo{
		Name:        name,
		Description: p.Description,
		Aliases:     append([]string(nil), p.Aliases...),
		Required:    required,
	}

	if len(p.Enum) > 0 && (p.Type == "" || p.Type == "string") {
		return EnumField{FieldInfo: info, Values: append([]string(nil), p.Enum...)}
	}

	switch p.Type {
	case "string":
		return StringField{FieldInfo: info}
	case "number":
		return NumberField{FieldInfo: info}
	case "integer":
		return IntegerField{FieldInfo: info}
	case "boolean":
		return BoolField{FieldInfo: info}
	case "array":
		var items Field
		if p.Items != nil {
			items = FieldFromProperty("items", *p.Items, false)
		}
		return ArrayField{FieldInfo: info, Items: items}
	default:
		return AnyField{FieldInfo: info, Declared: p.Type}
	}
}

// Definition renders the tool for a model request.
func (t *Tool) Definition() llm.ToolDefinition {
	props := make(map[string]any, len(t.Fields))
	required := []string{}
	for _, f := range t.Fields {
		info := f.Info()
		props[info.Name] = f.Schema()
		if info.Required {
			required = append(required, info.Name)
		}
	}
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// Canonicalize parses raw arguments, resolves field aliases in declaration
// order, and validates every present field. Keys that match no field are kept
// as given.
func (t *Tool) Canonicalize(raw json.RawMessage) (Args, error) {
	in := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("invalid tool arguments: %w", err)
		}
		if in == nil {
			in = map[string]any{}
		}
	}

	out := make(Args, len(in))
	consumed := make(map[string]bool)
	for _, f := range t.Fields {
		info := f.Info()
		var (
			value any
			found bool
		)
		for _, key := range info.Keys() {
			if v, ok := in[key]; ok {
				consumed[key] = true
				if v != nil && !found {
					value, found = v, true
				}
			}
		}
		if !found {
			if info.Required {
				return nil, fmt.Errorf("missing required argument %q", info.Name)
			}
			continue
		}
		v, err := f.Validate(value)
		if err != nil {
			return nil, err
		}
		out[info.Name] = v
	}

	for k, v := range in {
		if !consumed[k] {
			out[k] = v
		}
	}
	return out, nil
}
