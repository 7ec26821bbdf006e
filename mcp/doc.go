// Package mcp contains the Model Context Protocol wire types this server
// speaks: tool descriptors, content blocks, and the initialize, tools/list and
// tools/call payloads.
//
// The package is free of transport logic. The REST dispatcher and the SSE
// session bridge both marshal these types directly so that a tool result has
// exactly one JSON shape regardless of how it was requested.
//
// # Content
//
// ContentBlock is the normalized record for a single piece of tool output. Its
// Type field is the discriminator ("text", "image", "resource"); the remaining
// fields are populated according to the variant.
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// # Versions
//
// NegotiateProtocolVersion implements the initialize handshake rule: echo the
// client's version when supported, otherwise offer LatestProtocolVersion.
package mcp
