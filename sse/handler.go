package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-obsidian-go/auth"
	"github.com/ggoodman/mcp-obsidian-go/internal/logctx"
	"github.com/ggoodman/mcp-obsidian-go/mcp"
	"github.com/ggoodman/mcp-obsidian-go/sessions"
	"github.com/ggoodman/mcp-obsidian-go/tools"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// DefaultHeartbeat is the interval between keep-alive comments.
	DefaultHeartbeat = 15 * time.Second
	// DefaultMessagePath is where clients post messages.
	DefaultMessagePath = "/messages"

	sessionIDParam        = "session_id"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

// writeJSONError emits a transport-level rejection. It is not JSON-RPC
// framed. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	heartbeat   time.Duration
	messagePath string
	info        mcp.ImplementationInfo
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithHeartbeat sets the keep-alive interval. Non-positive values keep the
// default.
func WithHeartbeat(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// WithMessagePath sets the path advertised in the endpoint event.
func WithMessagePath(p string) Option {
	return func(c *config) { c.messagePath = p }
}

// WithServerInfo sets the serverInfo returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(c *config) { c.info = info }
}

// Handler serves GET /sse and POST /messages.
type Handler struct {
	mux         *http.ServeMux
	log         *slog.Logger
	guard       *auth.Guard
	host        sessions.Host
	dispatch    *dispatcher
	sessions    *manager
	heartbeat   time.Duration
	messagePath string
}

// New constructs a Handler serving registry through sessions stored in host.
func New(registry *tools.Registry, guard *auth.Guard, host sessions.Host, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	if host == nil {
		return nil, fmt.Errorf("session host is required")
	}

	cfg := &config{
		heartbeat:   DefaultHeartbeat,
		messagePath: DefaultMessagePath,
		info:        mcp.ImplementationInfo{Name: "mcp-obsidian", Version: "dev"},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	log := logctx.Wrap(cfg.logger)
	h := &Handler{
		log:         log,
		guard:       guard,
		host:        host,
		dispatch:    &dispatcher{registry: registry, info: cfg.info, log: log},
		sessions:    newManager(),
		heartbeat:   cfg.heartbeat,
		messagePath: cfg.messagePath,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", h.handleStream)
	mux.HandleFunc("POST "+cfg.messagePath, h.handleMessage)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// OpenSessions returns the number of streams held by this process.
func (h *Handler) OpenSessions() int { return h.sessions.len() }

// Shutdown closes every session and waits for their streams to end. New
// streams are refused afterwards.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.log.InfoContext(ctx, "sse.shutdown", slog.Int("sessions", h.sessions.len()))
	return h.sessions.closeAll(ctx)
}

// lockedWriteFlusher serializes writes and flushes, and refuses both once
// ctx is done.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// handleStream opens a session and holds the request until it closes.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !h.authenticate(w, r) {
		return
	}

	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	sess := newSession(context.WithoutCancel(ctx), uuid.NewString())
	sessCtx := logctx.WithSessionData(sess.ctx, &logctx.SessionData{SessionID: sess.id, State: StateConnecting.String(), Transport: string(tools.TransportSSE)})

	if err := h.sessions.add(sess); err != nil {
		sess.Close()
		writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		h.log.WarnContext(sessCtx, "session.open.refused", slog.String("err", err.Error()))
		return
	}
	defer h.sessions.remove(sess.id)

	if err := h.host.OpenSession(sessCtx, sess.id); err != nil {
		sess.Close()
		writeJSONError(w, http.StatusInternalServerError, "failed to open session")
		h.log.ErrorContext(sessCtx, "session.open.fail", slog.String("err", err.Error()))
		return
	}
	defer func() {
		if err := h.host.CleanupSession(context.WithoutCancel(ctx), sess.id); err != nil {
			h.log.ErrorContext(sessCtx, "session.cleanup.fail", slog.String("err", err.Error()))
		}
	}()
	defer sess.Close()

	if !sess.open() {
		h.log.InfoContext(sessCtx, "session.open.aborted")
		return
	}
	sessCtx = logctx.WithSessionData(sessCtx, &logctx.SessionData{SessionID: sess.id, State: StateOpen.String(), Transport: string(tools.TransportSSE)})

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	endpoint := h.messagePath + "?" + url.Values{sessionIDParam: {sess.id}}.Encode()
	if err := writeSSEEvent(wf, "endpoint", []byte(endpoint)); err != nil {
		h.log.ErrorContext(sessCtx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(sessCtx, "session.open")

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		h.runLoop(sessCtx, sess)
	}()

	h.log.InfoContext(sessCtx, "sse.stream.start")
	reason := h.pump(ctx, wf, sess)
	sess.Close()
	<-loopDone

	h.log.InfoContext(sessCtx, "session.close", slog.String("reason", reason))
	h.log.InfoContext(sessCtx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// pump writes queued frames and heartbeats until the client goes away or the
// session closes. It returns why it stopped.
func (h *Handler) pump(ctx context.Context, wf *lockedWriteFlusher, sess *Session) string {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "client_disconnect"
		case <-sess.Done():
			return "server_close"
		case frame := <-sess.outbound:
			if err := writeSSEEvent(wf, "message", frame); err != nil {
				h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return "write_error"
			}
		case <-ticker.C:
			if err := writeSSEComment(wf, "ping"); err != nil {
				h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return "write_error"
			}
		}
	}
}

// runLoop consumes the session inbox in arrival order until the session
// closes.
func (h *Handler) runLoop(ctx context.Context, sess *Session) {
	defer sess.Close()

	err := h.host.SubscribeSession(ctx, sess.id, func(ctx context.Context, _ string, msg []byte) error {
		resp := h.dispatch.handle(ctx, msg)
		if resp == nil {
			return nil
		}
		b, err := json.Marshal(resp)
		if err != nil {
			h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
			return nil
		}
		if !sess.send(b) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.ErrorContext(ctx, "session.loop.fail", slog.String("err", err.Error()))
	}
}

// handleMessage routes a posted message into its session's inbox.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.authenticate(w, r) {
		return
	}

	id := r.URL.Query().Get(sessionIDParam)
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "session_id is required")
		h.log.InfoContext(ctx, "session.id.missing")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id, Transport: string(tools.TransportSSE)})

	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
			h.log.InfoContext(ctx, "content_type.unsupported")
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "message too large")
		} else {
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
		}
		h.log.InfoContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		return
	}
	if !json.Valid(body) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.InfoContext(ctx, "json.decode.fail")
		return
	}

	if _, err := h.host.PublishSession(ctx, id, body); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.post.miss")
			return
		}
		if errors.Is(err, sessions.ErrInboxFull) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusServiceUnavailable, "session inbox is full")
			h.log.WarnContext(ctx, "session.post.backlog")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to deliver message")
		h.log.ErrorContext(ctx, "session.post.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusAccepted)
	h.log.DebugContext(ctx, "session.post.ok")
}

// authenticate applies the guard and writes the rejection on failure.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) bool {
	creds := auth.CredentialsFromRequest(r, auth.DefaultQueryParam)
	if err := h.guard.Check(r.Context(), creds); err != nil {
		w.Header().Add(wwwAuthenticateHeader, h.guard.Challenge(creds))
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		h.log.InfoContext(r.Context(), "auth.fail", slog.String("err", err.Error()))
		return false
	}
	h.log.DebugContext(r.Context(), "auth.ok")
	return true
}

// writeSSEEvent writes one named event and flushes. payload must not contain
// newlines.
func writeSSEEvent(wf *lockedWriteFlusher, event string, payload []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(wf, "event: %s\n", event); err != nil {
			return fmt.Errorf("failed to write SSE event name: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

func writeSSEComment(wf *lockedWriteFlusher, text string) error {
	if _, err := fmt.Fprintf(wf, ": %s\n\n", text); err != nil {
		return fmt.Errorf("failed to write SSE comment: %w", err)
	}
	wf.Flush()
	return nil
}
