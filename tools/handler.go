package tools

import (
	"context"

	"github.com/ggoodman/mcp-obsidian-go/mcp"
)

// Handler is a single named tool.
//
// Name must be stable and equal Describe().Name. Invoke receives the caller's
// arguments as decoded JSON; the registry performs no schema validation, so
// handlers check their own input.
type Handler interface {
	Name() string
	Describe() mcp.Tool
	Invoke(ctx context.Context, args map[string]any) ([]Content, error)
}

// HandlerFunc adapts a descriptor and a function into a Handler.
type HandlerFunc struct {
	Descriptor mcp.Tool
	Fn         func(ctx context.Context, args map[string]any) ([]Content, error)
}

func (h HandlerFunc) Name() string       { return h.Descriptor.Name }
func (h HandlerFunc) Describe() mcp.Tool { return h.Descriptor }

func (h HandlerFunc) Invoke(ctx context.Context, args map[string]any) ([]Content, error) {
	return h.Fn(ctx, args)
}

var _ Handler = HandlerFunc{}
