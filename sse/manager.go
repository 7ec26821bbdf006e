package sse

import (
	"context"
	"errors"
	"sync"
)

// ErrShuttingDown is returned when a session is opened after Shutdown.
var ErrShuttingDown = errors.New("sse: shutting down")

// manager tracks the sessions whose streams this process holds.
type manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

func newManager() *manager {
	return &manager{sessions: make(map[string]*Session)}
}

func (m *manager) add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrShuttingDown
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	return nil
}

func (m *manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		m.wg.Done()
	}
}

func (m *manager) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// closeAll refuses new sessions, closes the open ones and waits for their
// streams to finish or ctx to end.
func (m *manager) closeAll(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
