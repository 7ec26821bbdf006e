// Package server mounts the REST and SSE transports on one HTTP handler and
// runs it with graceful shutdown.
package server
