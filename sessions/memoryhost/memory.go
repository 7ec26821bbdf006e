package memoryhost

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-obsidian-go/sessions"
)

// DefaultMaxPending bounds how many undelivered messages an inbox holds.
const DefaultMaxPending = 1024

// Option configures a Host.
type Option func(*Host)

// WithMaxPending sets the per-session bound on undelivered messages. Values
// below one are ignored.
func WithMaxPending(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.maxPending = n
		}
	}
}

// Host is an in-memory implementation of sessions.Host.
type Host struct {
	mu         sync.Mutex
	inboxes    map[string]*inbox
	counter    atomic.Int64
	maxPending int
}

type inbox struct {
	mu sync.Mutex
	// pending holds accepted messages the subscriber has not taken yet.
	pending []message
	notify  chan struct{}
	done    chan struct{}
}

type message struct {
	id   string
	data []byte
}

// New returns an empty Host.
func New(opts ...Option) *Host {
	h := &Host{
		inboxes:    make(map[string]*inbox),
		maxPending: DefaultMaxPending,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) OpenSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inboxes[sessionID]; ok {
		return fmt.Errorf("session %s already open", sessionID)
	}
	h.inboxes[sessionID] = &inbox{notify: make(chan struct{}), done: make(chan struct{})}
	return nil
}

func (h *Host) lookup(sessionID string) (*inbox, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ib, ok := h.inboxes[sessionID]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	return ib, nil
}

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	ib, err := h.lookup(sessionID)
	if err != nil {
		return "", err
	}

	ib.mu.Lock()
	defer ib.mu.Unlock()
	select {
	case <-ib.done:
		return "", sessions.ErrSessionNotFound
	default:
	}
	if len(ib.pending) >= h.maxPending {
		return "", sessions.ErrInboxFull
	}
	evID := strconv.FormatInt(h.counter.Add(1), 10)
	ib.pending = append(ib.pending, message{id: evID, data: append([]byte(nil), data...)})
	close(ib.notify)
	ib.notify = make(chan struct{})
	return evID, nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, handler sessions.MessageHandlerFunction) error {
	ib, err := h.lookup(sessionID)
	if err != nil {
		return err
	}

	for {
		ib.mu.Lock()
		var (
			msg  message
			have bool
		)
		if len(ib.pending) > 0 {
			msg, have = ib.pending[0], true
			ib.pending[0] = message{}
			ib.pending = ib.pending[1:]
		}
		wait := ib.notify
		ib.mu.Unlock()

		if have {
			if err := handler(ctx, msg.id, msg.data); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ib.done:
			return nil
		case <-wait:
		}
	}
}

func (h *Host) CleanupSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	ib, ok := h.inboxes[sessionID]
	if ok {
		delete(h.inboxes, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	ib.mu.Lock()
	close(ib.done)
	ib.pending = nil
	ib.mu.Unlock()
	return nil
}

var _ sessions.Host = (*Host)(nil)
