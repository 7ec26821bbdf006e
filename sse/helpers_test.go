package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/auth"
	"github.com/ggoodman/mcp-obsidian-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-obsidian-go/tools"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required"`
}

// testRegistry holds echo, fail and block. block waits for release or ctx.
func testRegistry(t *testing.T, release <-chan struct{}) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(tools.WithLogger(slog.New(testLogHandler(t))))
	r.Register(tools.NewTool("echo", func(ctx context.Context, a echoArgs) ([]tools.Content, error) {
		return tools.TextResult(a.Text), nil
	}, tools.WithDescription("Echo the text back")))
	r.Register(tools.NewTool("fail", func(ctx context.Context, _ struct{}) ([]tools.Content, error) {
		return nil, errors.New("vault unreachable")
	}))
	r.Register(tools.NewTool("block", func(ctx context.Context, _ struct{}) ([]tools.Content, error) {
		select {
		case <-release:
			return tools.TextResult("released"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	r.Seal()
	return r
}

type serverOption func(*serverConfig)

type serverConfig struct {
	apiKey    string
	heartbeat time.Duration
	pending   int
	release   chan struct{}
}

func withAPIKey(k string) serverOption { return func(c *serverConfig) { c.apiKey = k } }

func withHeartbeat(d time.Duration) serverOption { return func(c *serverConfig) { c.heartbeat = d } }

func withMaxPending(n int) serverOption { return func(c *serverConfig) { c.pending = n } }

func mustServer(t *testing.T, options ...serverOption) (*httptest.Server, *Handler) {
	t.Helper()
	cfg := &serverConfig{release: make(chan struct{})}
	for _, o := range options {
		o(cfg)
	}
	log := slog.New(testLogHandler(t))

	var v auth.Verifier
	if cfg.apiKey != "" {
		v = auth.StaticKey(cfg.apiKey)
	}
	guard := auth.NewGuard(v, auth.WithGuardLogger(log))

	h, err := New(testRegistry(t, cfg.release), guard, memoryhost.New(memoryhost.WithMaxPending(cfg.pending)), WithLogger(log), WithHeartbeat(cfg.heartbeat))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		close(cfg.release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return srv, h
}

type sseEvent struct {
	event   string
	data    []byte
	comment string
}

func readOneSSE(br *bufio.Reader) (sseEvent, error) {
	var (
		event   sseEvent
		dataBuf bytes.Buffer
		seen    bool
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !seen {
				continue
			}
			if dataBuf.Len() > 0 {
				event.data = append([]byte(nil), dataBuf.Bytes()...)
			}
			return event, nil
		}
		seen = true
		switch {
		case strings.HasPrefix(line, ":"):
			event.comment = strings.TrimSpace(strings.TrimPrefix(line, ":"))
		case strings.HasPrefix(line, "event: "):
			event.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
}

// stream is an open GET /sse connection with a background event reader.
type stream struct {
	resp     *http.Response
	cancel   context.CancelFunc
	events   chan sseEvent
	done     chan error
	endpoint string
}

func openStream(t *testing.T, srv *httptest.Server, query, authHeader string) *stream {
	t.Helper()
	resp, cancel := doStream(t, srv, query, authHeader)
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("want 200 opening stream, got %d", resp.StatusCode)
	}
	s := &stream{resp: resp, cancel: cancel, events: make(chan sseEvent, 64), done: make(chan error, 1)}
	go func() {
		br := bufio.NewReader(resp.Body)
		for {
			ev, err := readOneSSE(br)
			if err != nil {
				s.done <- err
				close(s.events)
				return
			}
			s.events <- ev
		}
	}()
	t.Cleanup(s.close)

	ev := s.next(t)
	if ev.event != "endpoint" {
		t.Fatalf("want endpoint event first, got %+v", ev)
	}
	s.endpoint = string(ev.data)
	return s
}

func doStream(t *testing.T, srv *httptest.Server, query, authHeader string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse"+query, nil)
	if err != nil {
		cancel()
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	return resp, cancel
}

func (s *stream) close() {
	s.cancel()
	_ = s.resp.Body.Close()
}

// next returns the next non-comment event.
func (s *stream) next(t *testing.T) sseEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				t.Fatalf("stream ended while waiting for event")
			}
			if ev.comment != "" && ev.event == "" && ev.data == nil {
				continue
			}
			return ev
		case <-timeout:
			t.Fatalf("timed out waiting for event")
		}
	}
}

// waitEnd blocks until the server ends the stream.
func (s *stream) waitEnd(t *testing.T) {
	t.Helper()
	select {
	case err := <-s.done:
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Logf("stream ended with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not end")
	}
}

func post(t *testing.T, srv *httptest.Server, path, authHeader, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp
}

// logBridge forwards slog records to t.Log.
type logBridge struct {
	slog.Handler
	t   testing.TB
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (b *logBridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}
	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	b.t.Helper()
	b.t.Log(string(bytes.TrimSuffix(output, []byte("\n"))))
	return nil
}

func (b *logBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithAttrs(attrs)}
}

func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithGroup(name)}
}

func testLogHandler(t *testing.T) *logBridge {
	b := &logBridge{t: t, buf: &bytes.Buffer{}, mu: &sync.Mutex{}}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return b
}
