// Package tools holds the tool catalog shared by every transport.
//
// A Handler describes itself with an mcp.Tool descriptor and produces a
// sequence of Content items when invoked. Handlers are collected in a
// Registry, which is filled once at startup, sealed, and then only read.
// Both the REST dispatcher and the SSE session loop call Registry.Call, so
// lookup, panic recovery and observation happen in one place.
//
// Content is a closed set of variants: Text, Image, Resource and Unknown.
// Normalize turns any sequence of them into []mcp.ContentBlock, the single
// record shape both transports put on the wire. Unknown carries values that
// fit no other variant and is rendered as text using its string form.
//
// Most handlers are built with NewTool, which reflects the input schema from
// a Go struct using invopop/jsonschema and decodes call arguments into it:
//
//	type args struct {
//	    Path string `json:"path" jsonschema:"description=Path relative to the vault root"`
//	}
//
//	reg := tools.NewRegistry()
//	reg.Register(tools.NewTool("get_file_contents",
//	    func(ctx context.Context, a args) ([]tools.Content, error) {
//	        return []tools.Content{tools.Text{Text: a.Path}}, nil
//	    },
//	    tools.WithDescription("Return the contents of a single file."),
//	))
//	reg.Seal()
package tools
