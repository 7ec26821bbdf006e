package tools

import (
	"context"
	"strings"
	"testing"
)

type searchArgs struct {
	Query         string `json:"query" jsonschema:"description=Text to search for"`
	ContextLength int    `json:"context_length,omitempty" jsonschema:"description=Characters of context around each match,default=100"`
	Mode          string `json:"mode,omitempty" jsonschema:"enum=fast,enum=full"`
}

func TestNewTool_Schema(t *testing.T) {
	h := NewTool("simple_search", func(ctx context.Context, a searchArgs) ([]Content, error) {
		return TextResult(a.Query), nil
	}, WithDescription("Search the vault."))

	d := h.Describe()
	if d.Name != "simple_search" || h.Name() != "simple_search" {
		t.Fatalf("unexpected name %q", d.Name)
	}
	if d.Description != "Search the vault." {
		t.Fatalf("unexpected description %q", d.Description)
	}
	if d.InputSchema.Type != "object" {
		t.Fatalf("want object schema, got %q", d.InputSchema.Type)
	}
	if len(d.InputSchema.Required) != 1 || d.InputSchema.Required[0] != "query" {
		t.Fatalf("want required [query], got %v", d.InputSchema.Required)
	}
	q, ok := d.InputSchema.Properties["query"]
	if !ok || q.Type != "string" || q.Description != "Text to search for" {
		t.Fatalf("unexpected query property %+v", q)
	}
	if m := d.InputSchema.Properties["mode"]; len(m.Enum) != 2 {
		t.Fatalf("want 2 enum values, got %v", m.Enum)
	}
	if d.InputSchema.AdditionalProperties {
		t.Fatalf("want strict schema")
	}
}

func TestNewTool_Decode(t *testing.T) {
	var got searchArgs
	h := NewTool("simple_search", func(ctx context.Context, a searchArgs) ([]Content, error) {
		got = a
		return nil, nil
	})

	if _, err := h.Invoke(context.Background(), map[string]any{"query": "x", "context_length": float64(20)}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got.Query != "x" || got.ContextLength != 20 {
		t.Fatalf("unexpected args %+v", got)
	}

	_, err := h.Invoke(context.Background(), map[string]any{})
	if err == nil || !strings.Contains(err.Error(), `"query"`) {
		t.Fatalf("want missing query error, got %v", err)
	}

	_, err = h.Invoke(context.Background(), map[string]any{"query": "x", "bogus": true})
	if err == nil || !strings.Contains(err.Error(), "invalid arguments") {
		t.Fatalf("want unknown field rejection, got %v", err)
	}

	_, err = h.Invoke(context.Background(), map[string]any{"query": 12})
	if err == nil {
		t.Fatalf("want type error")
	}
}

func TestNewTool_AllowAdditional(t *testing.T) {
	h := NewTool("lenient", func(ctx context.Context, a searchArgs) ([]Content, error) {
		return nil, nil
	}, WithAllowAdditionalProperties(true))
	if !h.Describe().InputSchema.AdditionalProperties {
		t.Fatalf("want additionalProperties=true")
	}
	if _, err := h.Invoke(context.Background(), map[string]any{"query": "x", "extra": 1}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
}

func TestNewTool_NonNamedArgTypes(t *testing.T) {
	noop := func(ctx context.Context, _ struct{}) ([]Content, error) { return TextResult("ok"), nil }
	h := NewTool("no_args", noop)
	s := h.Describe().InputSchema
	if s.Type != "object" || len(s.Properties) != 0 || len(s.Required) != 0 {
		t.Fatalf("want empty object schema, got %+v", s)
	}
	if _, err := h.Invoke(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	var got map[string]any
	m := NewTool("free_form", func(ctx context.Context, a map[string]any) ([]Content, error) {
		got = a
		return nil, nil
	}, WithAllowAdditionalProperties(true))
	if s := m.Describe().InputSchema; s.Type != "object" || len(s.Properties) != 0 {
		t.Fatalf("want empty object schema, got %+v", s)
	}
	if _, err := m.Invoke(context.Background(), map[string]any{"k": "v"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got["k"] != "v" {
		t.Fatalf("unexpected args %v", got)
	}

	a := NewTool("inline", func(ctx context.Context, a struct {
		Path string `json:"path"`
	}) ([]Content, error) {
		return TextResult(a.Path), nil
	})
	s = a.Describe().InputSchema
	if p, ok := s.Properties["path"]; !ok || p.Type != "string" {
		t.Fatalf("want path property, got %+v", s)
	}
	if len(s.Required) != 1 || s.Required[0] != "path" {
		t.Fatalf("want required [path], got %v", s.Required)
	}
}
