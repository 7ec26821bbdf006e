package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ggoodman/mcp-obsidian-go/mcp"
	"github.com/invopop/jsonschema"
)

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithAllowAdditionalProperties controls whether unknown argument fields are
// accepted. When false (default), the generated schema sets
// additionalProperties=false and decoding rejects unknown fields.
func WithAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a Handler from a typed argument struct A. The input schema is
// reflected from A; call arguments are decoded into A and required fields are
// checked before fn runs.
func NewTool[A any](name string, fn func(ctx context.Context, args A) ([]Content, error), opts ...ToolOption) Handler {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	schema := reflectInputSchema[A](cfg.allowAdditionalProperties)
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: schema,
	}

	return HandlerFunc{
		Descriptor: desc,
		Fn: func(ctx context.Context, raw map[string]any) ([]Content, error) {
			for _, req := range schema.Required {
				if _, ok := raw[req]; !ok {
					return nil, fmt.Errorf("missing required argument %q", req)
				}
			}
			a, err := decodeArgs[A](raw, cfg.allowAdditionalProperties)
			if err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			return fn(ctx, a)
		},
	}
}

func decodeArgs[A any](raw map[string]any, allowAdditional bool) (A, error) {
	var a A
	b, err := json.Marshal(raw)
	if err != nil {
		return a, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if !allowAdditional {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&a); err != nil {
		return a, err
	}
	return a, nil
}

// reflectInputSchema reflects A into a jsonschema.Schema and converts it to
// the simplified mcp.ToolInputSchema. Non-struct types become an empty object
// schema.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	empty := mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           map[string]mcp.SchemaProperty{},
		AdditionalProperties: allowAdditional,
	}
	t := reflect.TypeFor[A]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return empty
	}
	// ExpandedStruct looks the root up in the definitions by type name, so
	// anonymous structs are reflected inline instead.
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            t.Name() != "",
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.ReflectFromType(t)

	if s == nil || s.Type != "object" {
		return empty
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toProperty recursively maps a jsonschema.Schema to a SchemaProperty.
func toProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if v, err := s.Minimum.Float64(); err == nil && s.Minimum != "" {
		p.Minimum = &v
	}
	if v, err := s.Maximum.Float64(); err == nil && s.Maximum != "" {
		p.Maximum = &v
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
