package tools

import "time"

// Transport names the entry point a call arrived on.
type Transport string

const (
	TransportREST Transport = "rest"
	TransportSSE  Transport = "sse"
)

// Observation describes one completed Registry.Call.
type Observation struct {
	ToolName  string
	Transport Transport
	Duration  time.Duration
	Success   bool
	// ErrorKind is empty on success, otherwise "not_found", "panic" or
	// "handler".
	ErrorKind string
}

// Observer receives an Observation after every call. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveCall(Observation)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(Observation)

func (f ObserverFunc) ObserveCall(o Observation) { f(o) }
