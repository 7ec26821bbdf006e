// Package sse serves MCP sessions over the HTTP+SSE transport.
//
// A client opens GET /sse and receives an "endpoint" event naming the URL it
// must POST its JSON-RPC messages to. Posted messages are appended to the
// session's inbox in a sessions.Host; the session loop reads that inbox in
// arrival order, answers initialize, ping, tools/list and tools/call, and
// queues replies as "message" events on the stream. A ": ping" comment is
// written on every heartbeat.
//
// Each session moves from Connecting to Open when its stream is established
// and to Closed when the client disconnects, the loop fails, or Shutdown is
// called. Closing cancels any tool call still in flight for that session and
// drops its result. Posts to a closed session answer 404.
//
// Tool failures are reported as JSON-RPC errors (-32603) and never end the
// session; arguments that are not a JSON object are rejected with -32602.
package sse
