package restapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-obsidian-go/auth"
	"github.com/ggoodman/mcp-obsidian-go/internal/logctx"
	"github.com/ggoodman/mcp-obsidian-go/mcp"
	"github.com/ggoodman/mcp-obsidian-go/tools"
)

var _ http.Handler = (*Handler)(nil)

var jsonMediaType = contenttype.NewMediaType("application/json")

// ServerName is reported by GET /.
const ServerName = "MCP Obsidian HTTP Server"

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = logctx.Wrap(l) }
}

// WithVersion sets the version reported by GET /.
func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// WithEndpoint adds an entry to the endpoint map reported by GET /.
func WithEndpoint(name, path string) Option {
	return func(h *Handler) { h.endpoints[name] = path }
}

// Handler is the one-shot REST surface over a tool registry.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	guard     *auth.Guard
	registry  *tools.Registry
	version   string
	endpoints map[string]string
}

// New builds a Handler serving /, /health, GET /tools and POST /tools/call.
func New(registry *tools.Registry, guard *auth.Guard, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	h := &Handler{
		log:      logctx.Wrap(nil),
		guard:    guard,
		registry: registry,
		version:  "dev",
		endpoints: map[string]string{
			"list_tools": "/tools",
			"call_tool":  "/tools/call",
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /tools", h.handleListTools)
	mux.HandleFunc("POST /tools/call", h.handleCallTool)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type rootResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

type listToolsResponse struct {
	Tools []mcp.Tool `json:"tools"`
}

type callToolRequest struct {
	Name      *string         `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// callToolResponse carries either a result or an error, never both.
type callToolResponse struct {
	Success bool               `json:"success"`
	Result  []mcp.ContentBlock `json:"result,omitzero"`
	Error   string             `json:"error,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Name:      ServerName,
		Version:   h.version,
		Status:    "running",
		Endpoints: h.endpoints,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, listToolsResponse{Tools: h.registry.List()})
	h.log.DebugContext(r.Context(), "rest.tools.list.ok", slog.Int("count", h.registry.Len()))
}

func (h *Handler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authenticate(w, r) {
		return
	}

	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeDetail(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
			h.log.InfoContext(ctx, "content_type.unsupported")
			return
		}
	}

	name, args, err := decodeCallRequest(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		}
		h.log.InfoContext(ctx, "rest.tools.call.invalid", slog.String("err", err.Error()))
		return
	}

	if _, ok := h.registry.Lookup(name); !ok {
		writeDetail(w, http.StatusNotFound, "Tool not found: "+name)
		h.log.InfoContext(ctx, "rest.tools.call.miss", slog.String("tool", name))
		return
	}

	content, err := h.registry.Call(ctx, tools.TransportREST, name, args)
	if err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			writeDetail(w, http.StatusNotFound, "Tool not found: "+name)
			return
		}
		// Handler failures keep the 200 envelope.
		h.log.WarnContext(ctx, "rest.tools.call.fail", slog.String("tool", name), slog.String("err", err.Error()))
		writeJSON(w, http.StatusOK, callToolResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, callToolResponse{Success: true, Result: tools.Normalize(content)})
}

// decodeCallRequest validates the {name, arguments} body. arguments may be
// absent or null; otherwise it must be an object.
func decodeCallRequest(body io.Reader) (string, map[string]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", nil, errors.New("request body must be a JSON object")
	}
	var req callToolRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return "", nil, fmt.Errorf("invalid request body: %v", err)
	}
	if req.Name == nil || *req.Name == "" {
		return "", nil, errors.New("field required: name")
	}

	args := map[string]any{}
	argsRaw := bytes.TrimSpace(req.Arguments)
	if len(argsRaw) > 0 && !bytes.Equal(argsRaw, []byte("null")) {
		if argsRaw[0] != '{' {
			return "", nil, errors.New("arguments must be an object")
		}
		if err := json.Unmarshal(argsRaw, &args); err != nil {
			return "", nil, fmt.Errorf("invalid arguments: %v", err)
		}
	}
	return *req.Name, args, nil
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) bool {
	creds := auth.CredentialsFromRequest(r, auth.DefaultQueryParam)
	if err := h.guard.Check(r.Context(), creds); err != nil {
		w.Header().Set("WWW-Authenticate", h.guard.Challenge(creds))
		writeDetail(w, http.StatusUnauthorized, "Unauthorized")
		h.log.InfoContext(r.Context(), "auth.fail", slog.String("err", err.Error()))
		return false
	}
	return true
}
