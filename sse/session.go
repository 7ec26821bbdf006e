package sse

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// outboundBuffer bounds replies queued between the loop and the stream
// writer.
const outboundBuffer = 16

// Session is one streaming connection. The loop goroutine is the only
// sender on outbound; the stream writer is the only receiver.
type Session struct {
	id    string
	state atomic.Int32

	outbound chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(parent context.Context, id string) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:       id,
		outbound: make(chan []byte, outboundBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session identity.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// open moves Connecting to Open. It fails if the session was closed first.
func (s *Session) open() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Close moves the session to Closed and cancels everything bound to it. It
// is safe to call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.cancel()
	})
}

// send queues a frame for the stream writer, giving up when the session
// closes.
func (s *Session) send(frame []byte) bool {
	select {
	case s.outbound <- frame:
		return true
	case <-s.ctx.Done():
		return false
	}
}
