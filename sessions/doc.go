// Package sessions defines the inbox contract behind the SSE transport.
//
// A streaming session receives client messages out of band: the client holds
// a GET /sse stream open and sends each JSON-RPC message as a separate
// POST /messages request. Host is the rendezvous between the two. The POST
// handler publishes into the session's inbox and the session loop subscribes
// to it, consuming messages strictly in arrival order.
//
// # Implementations
//
//	memoryhost : in-process inbox for single-replica deployments and tests
//	redishost  : Redis Streams inbox so any replica can accept a POST
//
// Both are verified by the shared conformance suite in sessionhosttest.
package sessions
