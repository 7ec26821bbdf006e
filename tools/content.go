package tools

import (
	"encoding/base64"
	"fmt"

	"github.com/ggoodman/mcp-obsidian-go/mcp"
)

// Content is one item of tool output. The set of variants is closed.
type Content interface {
	content()
}

// Text is plain textual output.
type Text struct {
	Text string
}

// Image is binary image output with its mime type.
type Image struct {
	Data     []byte
	MimeType string
}

// Resource embeds a resource by URI. Exactly one of Text or Blob is expected
// to be set.
type Resource struct {
	URI      string
	MimeType string
	Text     string
	Blob     []byte
}

// Unknown wraps a value that fits no other variant. It is normalized to text
// using its string representation.
type Unknown struct {
	Value any
}

func (Text) content()     {}
func (Image) content()    {}
func (Resource) content() {}
func (Unknown) content()  {}

func (u Unknown) String() string { return fmt.Sprint(u.Value) }

// Normalize maps content items to wire records, one per item and in order.
func Normalize(items []Content) []mcp.ContentBlock {
	out := make([]mcp.ContentBlock, 0, len(items))
	for _, item := range items {
		out = append(out, normalizeOne(item))
	}
	return out
}

func normalizeOne(item Content) mcp.ContentBlock {
	switch c := item.(type) {
	case Text:
		return mcp.ContentBlock{Type: mcp.ContentTypeText, Text: c.Text}
	case Image:
		return mcp.ContentBlock{
			Type:     mcp.ContentTypeImage,
			Data:     base64.StdEncoding.EncodeToString(c.Data),
			MimeType: c.MimeType,
		}
	case Resource:
		rc := &mcp.ResourceContents{URI: c.URI, MimeType: c.MimeType, Text: c.Text}
		if c.Blob != nil {
			rc.Blob = base64.StdEncoding.EncodeToString(c.Blob)
		}
		return mcp.ContentBlock{Type: mcp.ContentTypeResource, Resource: rc}
	case Unknown:
		return mcp.ContentBlock{Type: mcp.ContentTypeText, Text: c.String()}
	default:
		// nil interface values land here.
		return mcp.ContentBlock{Type: mcp.ContentTypeText, Text: Unknown{Value: item}.String()}
	}
}

// TextResult is a convenience for handlers returning a single text item.
func TextResult(s string) []Content {
	return []Content{Text{Text: s}}
}

// TextResultf formats a single text item.
func TextResultf(format string, a ...any) []Content {
	return TextResult(fmt.Sprintf(format, a...))
}
