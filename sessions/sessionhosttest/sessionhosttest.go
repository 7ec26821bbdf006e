// Package sessionhosttest provides a conformance suite for sessions.Host
// implementations.
package sessionhosttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/sessions"
	"github.com/google/uuid"
)

// MaxPending is the per-session bound factories must configure so that
// FullInboxRefusesPublish can exercise it.
const MaxPending = 8

// HostFactory creates a new Host instance for testing.
type HostFactory func(t *testing.T) sessions.Host

// RunHostTests runs the complete Host test suite against the provided factory.
func RunHostTests(t *testing.T, factory HostFactory) {
	t.Run("OpenTwiceFails", func(t *testing.T) { testOpenTwice(t, factory) })
	t.Run("PublishUnknownSession", func(t *testing.T) { testPublishUnknown(t, factory) })
	t.Run("DeliversInPublishOrder", func(t *testing.T) { testOrder(t, factory) })
	t.Run("IsolationBetweenSessions", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("FullInboxRefusesPublish", func(t *testing.T) { testFullInbox(t, factory) })
	t.Run("CleanupEndsSubscription", func(t *testing.T) { testCleanupEndsSubscription(t, factory) })
	t.Run("PublishAfterCleanup", func(t *testing.T) { testPublishAfterCleanup(t, factory) })
	t.Run("ContextCancellation", func(t *testing.T) { testCancellation(t, factory) })
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerError(t, factory) })
}

// newSessionID avoids collisions between runs against a shared backend.
func newSessionID() string { return "test-" + uuid.NewString() }

func open(t *testing.T, h sessions.Host) string {
	t.Helper()
	id := newSessionID()
	if err := h.OpenSession(context.Background(), id); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = h.CleanupSession(context.Background(), id) })
	return id
}

func publishN(t *testing.T, h sessions.Host, id string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		evID, err := h.PublishSession(context.Background(), id, []byte(fmt.Sprintf("m%d", i)))
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if evID == "" {
			t.Fatalf("want non-empty event id")
		}
		ids = append(ids, evID)
	}
	return ids
}

// collect subscribes until n messages have arrived and returns them.
func collect(t *testing.T, h sessions.Host, id string, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	err := h.SubscribeSession(ctx, id, func(ctx context.Context, msgID string, msg []byte) error {
		got = append(got, string(msg))
		if len(got) == n {
			cancel()
		}
		return nil
	})
	if len(got) != n {
		t.Fatalf("want %d messages, got %d (%v, err=%v)", n, len(got), got, err)
	}
	return got
}

func testOpenTwice(t *testing.T, factory HostFactory) {
	h := factory(t)
	id := open(t, h)
	if err := h.OpenSession(context.Background(), id); err == nil {
		t.Fatalf("want error opening a live session twice")
	}
}

func testPublishUnknown(t *testing.T, factory HostFactory) {
	h := factory(t)
	_, err := h.PublishSession(context.Background(), newSessionID(), []byte("x"))
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func testOrder(t *testing.T, factory HostFactory) {
	h := factory(t)
	id := open(t, h)

	pubErr := make(chan error, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		for i := 0; i < 5; i++ {
			if _, err := h.PublishSession(context.Background(), id, []byte(fmt.Sprintf("m%d", i))); err != nil {
				pubErr <- err
				return
			}
		}
		pubErr <- nil
	}()

	got := collect(t, h, id, 5)
	if err := <-pubErr; err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, m := range got {
		if want := fmt.Sprintf("m%d", i); m != want {
			t.Fatalf("want %s at %d, got %s", want, i, m)
		}
	}
}

func testIsolation(t *testing.T, factory HostFactory) {
	h := factory(t)
	a := open(t, h)
	b := open(t, h)

	if _, err := h.PublishSession(context.Background(), a, []byte("for-a")); err != nil {
		t.Fatalf("publish a: %v", err)
	}
	if _, err := h.PublishSession(context.Background(), b, []byte("for-b")); err != nil {
		t.Fatalf("publish b: %v", err)
	}

	if got := collect(t, h, a, 1); got[0] != "for-a" {
		t.Fatalf("want for-a, got %s", got[0])
	}
	if got := collect(t, h, b, 1); got[0] != "for-b" {
		t.Fatalf("want for-b, got %s", got[0])
	}
}

func testFullInbox(t *testing.T, factory HostFactory) {
	h := factory(t)
	id := open(t, h)
	publishN(t, h, id, MaxPending)

	_, err := h.PublishSession(context.Background(), id, []byte("overflow"))
	if !errors.Is(err, sessions.ErrInboxFull) {
		t.Fatalf("want ErrInboxFull, got %v", err)
	}

	got := collect(t, h, id, MaxPending)
	for i, m := range got {
		if want := fmt.Sprintf("m%d", i); m != want {
			t.Fatalf("want %s at %d, got %s", want, i, m)
		}
	}

	if _, err := h.PublishSession(context.Background(), id, []byte("after")); err != nil {
		t.Fatalf("publish after drain: %v", err)
	}
	if got := collect(t, h, id, 1); got[0] != "after" {
		t.Fatalf("want after, got %s", got[0])
	}
}

func testCleanupEndsSubscription(t *testing.T, factory HostFactory) {
	h := factory(t)
	id := open(t, h)

	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(context.Background(), id, func(context.Context, string, []byte) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	if err := h.CleanupSession(context.Background(), id); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("want nil after cleanup, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscription did not end after cleanup")
	}

	if err := h.CleanupSession(context.Background(), id); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func testPublishAfterCleanup(t *testing.T, factory HostFactory) {
	h := factory(t)
	id := open(t, h)
	if err := h.CleanupSession(context.Background(), id); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	_, err := h.PublishSession(context.Background(), id, []byte("late"))
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func testCancellation(t *testing.T, factory HostFactory) {
	h := factory(t)
	id := open(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(ctx, id, func(context.Context, string, []byte) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscription did not observe cancellation")
	}
}

func testHandlerError(t *testing.T, factory HostFactory) {
	h := factory(t)
	id := open(t, h)
	publishN(t, h, id, 3)

	boom := errors.New("boom")
	var (
		mu    sync.Mutex
		calls int
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.SubscribeSession(ctx, id, func(context.Context, string, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("want 1 handler call, got %d", calls)
	}
}
