package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/internal/logctx"
	"github.com/ggoodman/mcp-obsidian-go/mcp"
)

// ErrToolNotFound is returned by Call when no handler is registered under
// the requested name.
var ErrToolNotFound = errors.New("tool not found")

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration and call events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = logctx.Wrap(l) }
}

// WithObserver attaches an Observer that sees every Call.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// Registry maps tool names to handlers.
//
// Register is only valid before Seal. After Seal the registry is never
// written again, so Lookup, List and Call need no locking.
type Registry struct {
	handlers map[string]Handler
	sealed   atomic.Bool
	log      *slog.Logger
	observer Observer
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		log:      logctx.Wrap(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds h under h.Name(). A later registration under the same name
// replaces the earlier one. Registering after Seal panics.
func (r *Registry) Register(h Handler) {
	if r.sealed.Load() {
		panic(fmt.Sprintf("tools: Register(%q) called on a sealed registry", h.Name()))
	}
	name := h.Name()
	if _, exists := r.handlers[name]; exists {
		r.log.Warn("tools.register.overwrite", slog.String("tool", name))
	}
	r.handlers[name] = h
}

// Seal freezes the registry. It is called once, before serving begins.
func (r *Registry) Seal() { r.sealed.Store(true) }

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.handlers) }

// List returns every descriptor, sorted by name.
func (r *Registry) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h.Describe())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call invokes the named tool. A missing tool yields ErrToolNotFound; a
// handler error or panic is returned as a non-nil error. args may be nil.
func (r *Registry) Call(ctx context.Context, transport Transport, name string, args map[string]any) (out []Content, err error) {
	start := time.Now()
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name, Transport: string(transport)})

	h, ok := r.handlers[name]
	if !ok {
		r.log.InfoContext(ctx, "tool.call.miss")
		r.observe(name, transport, start, "not_found")
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("tool %q panicked: %v", name, p)
			r.log.ErrorContext(ctx, "tool.call.panic", slog.Any("panic", p))
			r.observe(name, transport, start, "panic")
		}
	}()

	out, err = h.Invoke(ctx, args)
	if err != nil {
		if err.Error() == "" {
			err = fmt.Errorf("tool %q failed", name)
		}
		r.log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		r.observe(name, transport, start, "handler")
		return nil, err
	}

	r.log.InfoContext(ctx, "tool.call.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	r.observe(name, transport, start, "")
	return out, nil
}

func (r *Registry) observe(name string, transport Transport, start time.Time, errKind string) {
	if r.observer == nil {
		return
	}
	r.observer.ObserveCall(Observation{
		ToolName:  name,
		Transport: transport,
		Duration:  time.Since(start),
		Success:   errKind == "",
		ErrorKind: errKind,
	})
}
