package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/auth"
	"github.com/ggoodman/mcp-obsidian-go/internal/logctx"
	"github.com/ggoodman/mcp-obsidian-go/internal/wellknown"
	"github.com/ggoodman/mcp-obsidian-go/mcp"
	"github.com/ggoodman/mcp-obsidian-go/restapi"
	"github.com/ggoodman/mcp-obsidian-go/sessions"
	"github.com/ggoodman/mcp-obsidian-go/sse"
	"github.com/ggoodman/mcp-obsidian-go/tools"
	"github.com/google/uuid"
)

const (
	defaultMaxBody         = 1 << 20
	defaultShutdownTimeout = 30 * time.Second
	requestIDHeader        = "X-Request-Id"
)

// Option configures a Server.
type Option func(*config)

type config struct {
	logger          *slog.Logger
	version         string
	corsOrigin      string
	maxBody         int64
	heartbeat       time.Duration
	shutdownTimeout time.Duration
	resource        *wellknown.ProtectedResourceMetadata
}

// WithLogger sets the logger shared by both transports.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithVersion sets the version reported by GET / and in serverInfo.
func WithVersion(v string) Option {
	return func(c *config) { c.version = v }
}

// WithCORSOrigin sets Access-Control-Allow-Origin. Empty means "*".
func WithCORSOrigin(origin string) Option {
	return func(c *config) { c.corsOrigin = origin }
}

// WithMaxBody caps request bodies in bytes.
func WithMaxBody(n int64) Option {
	return func(c *config) { c.maxBody = n }
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *config) { c.heartbeat = d }
}

// WithShutdownTimeout bounds how long Serve waits for a graceful stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *config) { c.shutdownTimeout = d }
}

// WithProtectedResource publishes m at the well-known protected resource
// metadata path. The document is served without authentication.
func WithProtectedResource(m wellknown.ProtectedResourceMetadata) Option {
	return func(c *config) { c.resource = &m }
}

// Server serves the REST and SSE transports from one listener. Both read the
// same sealed registry.
type Server struct {
	log             *slog.Logger
	rest            *restapi.Handler
	stream          *sse.Handler
	handler         http.Handler
	shutdownTimeout time.Duration
}

// New composes the transports. registry is sealed here if it is not already.
func New(registry *tools.Registry, guard *auth.Guard, host sessions.Host, opts ...Option) (*Server, error) {
	cfg := &config{
		version:         "dev",
		corsOrigin:      "*",
		maxBody:         defaultMaxBody,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if !registry.Sealed() {
		registry.Seal()
	}

	rest, err := restapi.New(registry, guard,
		restapi.WithLogger(cfg.logger),
		restapi.WithVersion(cfg.version),
		restapi.WithEndpoint("sse", "/sse"),
		restapi.WithEndpoint("messages", sse.DefaultMessagePath),
	)
	if err != nil {
		return nil, fmt.Errorf("rest transport: %w", err)
	}
	stream, err := sse.New(registry, guard, host,
		sse.WithLogger(cfg.logger),
		sse.WithHeartbeat(cfg.heartbeat),
		sse.WithServerInfo(mcp.ImplementationInfo{Name: "mcp-obsidian", Version: cfg.version}),
	)
	if err != nil {
		return nil, fmt.Errorf("sse transport: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /sse", stream)
	mux.Handle("POST "+sse.DefaultMessagePath, stream)
	mux.Handle("/", rest)
	if cfg.resource != nil {
		mux.Handle("GET "+wellknown.ProtectedResourcePath, *cfg.resource)
	}

	var h http.Handler = mux
	h = withCORS(h, cfg.corsOrigin)
	h = maxBodyMiddleware(h, cfg.maxBody)
	h = withRequestData(h)

	return &Server{
		log:             logctx.Wrap(cfg.logger),
		rest:            rest,
		stream:          stream,
		handler:         h,
		shutdownTimeout: cfg.shutdownTimeout,
	}, nil
}

// Handler returns the composed HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// OpenSessions reports streams held by this process.
func (s *Server) OpenSessions() int { return s.stream.OpenSessions() }

// Serve accepts connections on ln until ctx is cancelled, then closes every
// session and shuts the HTTP server down. It returns nil after a clean stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.InfoContext(ctx, "server.listen", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	s.log.InfoContext(shutdownCtx, "server.shutdown", slog.Int("sessions", s.stream.OpenSessions()))
	// Streams never go idle, so sessions must close before srv.Shutdown.
	err := errors.Join(s.stream.Shutdown(shutdownCtx), srv.Shutdown(shutdownCtx))
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	return err
}

func withCORS(next http.Handler, allowedOrigin string) http.Handler {
	origin := strings.TrimSpace(allowedOrigin)
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func maxBodyMiddleware(next http.Handler, maxBody int64) http.Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		next.ServeHTTP(w, r)
	})
}

// withRequestData tags the request context with logging fields. A
// client-supplied X-Request-Id is kept, otherwise one is generated.
func withRequestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  id,
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
