// Package redishost implements sessions.Host on Redis so that several
// replicas can serve one SSE session: whichever replica accepts a
// POST /messages appends to the session's stream, and the replica holding
// the GET /sse connection reads it.
//
// Design Notes
//   - Inbox: one Redis Stream per session holding undelivered entries only.
//     The subscriber deletes each entry once handled.
//   - Liveness: a marker key set with SETNX on open and deleted on cleanup.
//   - Publish: a Lua script checks the marker and the stream length, then
//     XADDs. A dead session yields ErrSessionNotFound and a stream at MaxLen
//     yields ErrInboxFull.
//   - Subscription: blocking XREAD in short intervals; between empty reads
//     the marker is re-checked so cleanup on any replica ends the loop.
//
// Example:
//
//	host, err := redishost.NewFromEnv()
//	if err != nil { return err }
//	defer host.Close()
package redishost
