package vault

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/internal/logctx"
	"github.com/hashicorp/go-retryablehttp"
)

// Media types understood by the Local REST API.
const (
	mediaMarkdown  = "text/markdown"
	mediaJSONLogic = "application/vnd.olrapi.jsonlogic+json"
	mediaDQL       = "application/vnd.olrapi.dataview.dql+txt"
	mediaNoteJSON  = "application/vnd.olrapi.note+json"
)

// Config locates and authenticates against the vault's REST API.
type Config struct {
	APIKey    string
	Protocol  string
	Host      string
	Port      int
	VerifyTLS bool
	Timeout   time.Duration
	// RetryMax bounds retries of idempotent requests.
	RetryMax int
}

// BaseURL renders protocol://host:port.
func (c Config) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for request and retry events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = logctx.Wrap(l) }
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http.HTTPClient = hc }
}

// Client talks to the Obsidian Local REST API.
type Client struct {
	base   string
	apiKey string
	http   *retryablehttp.Client
	log    *slog.Logger
}

// New builds a Client. The API key is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("vault: api key is required")
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "https"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 27124
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	base := cfg.BaseURL()
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("vault: invalid base url %q: %w", base, err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.CheckRetry = idempotentRetryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			// The plugin serves a self-signed certificate by default.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}, //nolint:gosec
		},
	}

	c := &Client{base: base, apiKey: cfg.APIKey, http: rc, log: logctx.Wrap(nil)}
	for _, opt := range opts {
		opt(c)
	}
	rc.Logger = c.log
	return c, nil
}

type retryableKey struct{}

// idempotentRetryPolicy applies the default policy only to requests marked
// safe to repeat.
func idempotentRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ok, _ := ctx.Value(retryableKey{}).(bool); !ok {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// escapePath escapes each segment of a vault-relative path.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	accept      string
	header      http.Header
}

// do sends r and returns the response body of a 2xx reply. Anything else is
// decoded into an *APIError.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	target := c.base + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	switch r.method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
		ctx = context.WithValue(ctx, retryableKey{}, true)
	}

	var body any
	if r.body != nil {
		body = r.body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("vault: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "vault.request.fail", slog.String("method", r.method), slog.String("path", r.path), slog.String("err", err.Error()))
		return nil, fmt.Errorf("vault: %s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vault: read response: %w", err)
	}
	c.log.DebugContext(ctx, "vault.request.done",
		slog.String("method", r.method),
		slog.String("path", r.path),
		slog.Int("status", resp.StatusCode),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("vault: decode %s response: %w", r.path, err)
	}
	return nil
}

type fileList struct {
	Files []string `json:"files"`
}

// ListFilesInVault lists the files and directories at the vault root.
func (c *Client) ListFilesInVault(ctx context.Context) ([]string, error) {
	var out fileList
	if err := c.doJSON(ctx, request{method: http.MethodGet, path: "/vault/"}, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// ListFilesInDir lists the entries of one vault directory.
func (c *Client) ListFilesInDir(ctx context.Context, dir string) ([]string, error) {
	var out fileList
	if err := c.doJSON(ctx, request{method: http.MethodGet, path: "/vault/" + escapePath(dir) + "/"}, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// GetFileContents returns a note's raw markdown.
func (c *Client) GetFileContents(ctx context.Context, path string) (string, error) {
	data, err := c.do(ctx, request{method: http.MethodGet, path: "/vault/" + escapePath(path)})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetBatchFileContents concatenates several notes, each under a "# path"
// heading and followed by a "---" separator. A file that cannot be read is
// reported inline instead of failing the batch.
func (c *Client) GetBatchFileContents(ctx context.Context, paths []string) (string, error) {
	var b strings.Builder
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		content, err := c.GetFileContents(ctx, p)
		if err != nil {
			fmt.Fprintf(&b, "# %s\n\nError reading file: %s\n\n---\n\n", p, err.Error())
			continue
		}
		fmt.Fprintf(&b, "# %s\n\n%s\n\n---\n\n", p, content)
	}
	return b.String(), nil
}

// SearchMatch locates one hit inside a note.
type SearchMatch struct {
	Context string `json:"context"`
	Match   struct {
		Start int `json:"start"`
		End   int `json:"end"`
	} `json:"match"`
}

// SearchResult is one note returned by a simple search.
type SearchResult struct {
	Filename string        `json:"filename"`
	Score    float64       `json:"score"`
	Matches  []SearchMatch `json:"matches"`
}

// Search runs a plain-text search with contextLength characters of context
// around each match.
func (c *Client) Search(ctx context.Context, query string, contextLength int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("contextLength", strconv.Itoa(contextLength))
	var out []SearchResult
	if err := c.doJSON(ctx, request{method: http.MethodPost, path: "/search/simple/", query: q}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchJSON runs a JsonLogic query and returns the raw result document.
func (c *Client) SearchJSON(ctx context.Context, query map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("vault: encode query: %w", err)
	}
	data, err := c.do(ctx, request{method: http.MethodPost, path: "/search/", body: body, contentType: mediaJSONLogic})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// AppendContent appends to a note, creating it when missing.
func (c *Client) AppendContent(ctx context.Context, path, content string) error {
	_, err := c.do(ctx, request{method: http.MethodPost, path: "/vault/" + escapePath(path), body: []byte(content), contentType: mediaMarkdown})
	return err
}

// PutContent replaces a note's content, creating it when missing.
func (c *Client) PutContent(ctx context.Context, path, content string) error {
	_, err := c.do(ctx, request{method: http.MethodPut, path: "/vault/" + escapePath(path), body: []byte(content), contentType: mediaMarkdown})
	return err
}

// PatchOperation is how patched content is combined with its target.
type PatchOperation string

const (
	PatchAppend  PatchOperation = "append"
	PatchPrepend PatchOperation = "prepend"
	PatchReplace PatchOperation = "replace"
)

// PatchTarget is the kind of anchor a patch is applied relative to.
type PatchTarget string

const (
	TargetHeading     PatchTarget = "heading"
	TargetBlock       PatchTarget = "block"
	TargetFrontmatter PatchTarget = "frontmatter"
)

// PatchContent inserts content relative to a heading, block reference or
// frontmatter field.
func (c *Client) PatchContent(ctx context.Context, path string, op PatchOperation, targetType PatchTarget, target, content string) error {
	h := http.Header{}
	h.Set("Operation", string(op))
	h.Set("Target-Type", string(targetType))
	h.Set("Target", url.QueryEscape(target))
	_, err := c.do(ctx, request{
		method:      http.MethodPatch,
		path:        "/vault/" + escapePath(path),
		body:        []byte(content),
		contentType: mediaMarkdown,
		header:      h,
	})
	return err
}

// DeleteFile removes a file or directory.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: "/vault/" + escapePath(path)})
	return err
}

// GetPeriodicNote returns the current periodic note. noteType "metadata"
// asks for the JSON note document instead of markdown.
func (c *Client) GetPeriodicNote(ctx context.Context, period, noteType string) (string, error) {
	r := request{method: http.MethodGet, path: "/periodic/" + url.PathEscape(period) + "/"}
	if noteType == "metadata" {
		r.accept = mediaNoteJSON
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetRecentPeriodicNotes lists the most recent periodic notes of a period.
func (c *Client) GetRecentPeriodicNotes(ctx context.Context, period string, limit int, includeContent bool) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("includeContent", strconv.FormatBool(includeContent))
	data, err := c.do(ctx, request{method: http.MethodGet, path: "/periodic/" + url.PathEscape(period) + "/recent", query: q})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// RecentChangesQuery renders the Dataview query used by GetRecentChanges.
func RecentChangesQuery(limit, days int) string {
	return fmt.Sprintf("TABLE file.mtime\nWHERE file.mtime >= date(today) - dur(%d days)\nSORT file.mtime DESC\nLIMIT %d", days, limit)
}

// GetRecentChanges lists notes modified in the last days, newest first.
func (c *Client) GetRecentChanges(ctx context.Context, limit, days int) (json.RawMessage, error) {
	data, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/search/",
		body:        []byte(RecentChangesQuery(limit, days)),
		contentType: mediaDQL,
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
