package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-obsidian-go/mcp"
)

func rpc(id int, method string, params string) string {
	if params == "" {
		return `{"jsonrpc":"2.0","id":` + itoa(id) + `,"method":"` + method + `"}`
	}
	return `{"jsonrpc":"2.0","id":` + itoa(id) + `,"method":"` + method + `","params":` + params + `}`
}

func itoa(i int) string { b, _ := json.Marshal(i); return string(b) }

func mustResponse(t *testing.T, ev sseEvent) jsonrpc.Response {
	t.Helper()
	if ev.event != "message" {
		t.Fatalf("want message event, got %q", ev.event)
	}
	var resp jsonrpc.Response
	if err := json.Unmarshal(ev.data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\ninput: %s", err, ev.data)
	}
	return resp
}

func TestStream_RequiresAuth(t *testing.T) {
	srv, _ := mustServer(t, withAPIKey("secret"))

	tests := []struct {
		name   string
		query  string
		header string
		want   int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"wrong header", "", "Bearer nope", http.StatusUnauthorized},
		{"malformed header", "", "Token secret", http.StatusUnauthorized},
		{"query wins over good header", "?api_key=nope", "Bearer secret", http.StatusUnauthorized},
		{"good query", "?api_key=secret", "", http.StatusOK},
		{"good header", "", "bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, cancel := doStream(t, srv, tt.query, tt.header)
			defer cancel()
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("want %d, got %d", tt.want, resp.StatusCode)
			}
			if tt.want == http.StatusUnauthorized {
				if got := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
					t.Fatalf("want Bearer challenge, got %q", got)
				}
			}
		})
	}
}

func TestStream_EndpointEventAndHeaders(t *testing.T) {
	srv, h := mustServer(t)
	s := openStream(t, srv, "", "")

	if ct := s.resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("want text/event-stream, got %q", ct)
	}
	if cc := s.resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("want no-cache, got %q", cc)
	}
	if !strings.HasPrefix(s.endpoint, "/messages?session_id=") {
		t.Fatalf("unexpected endpoint %q", s.endpoint)
	}
	if n := h.OpenSessions(); n != 1 {
		t.Fatalf("want 1 open session, got %d", n)
	}
}

func TestStream_RejectsNonEventStreamAccept(t *testing.T) {
	srv, _ := mustServer(t, withAPIKey("secret"))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"unauthenticated", "", http.StatusUnauthorized},
		{"authenticated", "Bearer secret", http.StatusNotAcceptable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/sse", nil)
			req.Header.Set("Accept", "application/json")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("want %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestSession_RoundTrip(t *testing.T) {
	srv, _ := mustServer(t, withAPIKey("secret"))
	s := openStream(t, srv, "?api_key=secret", "")
	path := s.endpoint + "&api_key=secret"

	if resp := post(t, srv, path, "", rpc(1, "initialize", `{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"t","version":"1"}}`)); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202, got %d", resp.StatusCode)
	}
	resp := mustResponse(t, s.next(t))
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &initRes); err != nil {
		t.Fatalf("unmarshal initialize: %v", err)
	}
	if initRes.ProtocolVersion != "2024-11-05" {
		t.Fatalf("want 2024-11-05, got %q", initRes.ProtocolVersion)
	}
	if initRes.Capabilities.Tools == nil {
		t.Fatalf("want tools capability advertised")
	}

	post(t, srv, path, "", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	post(t, srv, path, "", rpc(2, "tools/list", ""))
	resp = mustResponse(t, s.next(t))
	if resp.ID.String() != "2" {
		t.Fatalf("want id 2 (notification must not be answered), got %s", resp.ID.String())
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Tools) != 3 || list.Tools[0].Name != "block" || list.Tools[1].Name != "echo" {
		t.Fatalf("unexpected tools %+v", list.Tools)
	}

	post(t, srv, path, "", rpc(3, "tools/call", `{"name":"echo","arguments":{"text":"hi"}}`))
	resp = mustResponse(t, s.next(t))
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	var call mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &call); err != nil {
		t.Fatalf("unmarshal call: %v", err)
	}
	if len(call.Content) != 1 || call.Content[0].Type != mcp.ContentTypeText || call.Content[0].Text != "hi" {
		t.Fatalf("unexpected content %+v", call.Content)
	}

	post(t, srv, path, "", rpc(4, "ping", ""))
	if resp = mustResponse(t, s.next(t)); resp.Error != nil || resp.ID.String() != "4" {
		t.Fatalf("unexpected ping reply %+v", resp)
	}
}

func TestSession_MalformedArgumentsKeepSessionOpen(t *testing.T) {
	srv, _ := mustServer(t)
	s := openStream(t, srv, "", "")

	post(t, srv, s.endpoint, "", rpc(1, "tools/call", `{"name":"echo","arguments":[1,2]}`))
	resp := mustResponse(t, s.next(t))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("want invalid params error, got %+v", resp)
	}

	post(t, srv, s.endpoint, "", rpc(2, "tools/call", `{"name":"echo","arguments":{"text":"still here"}}`))
	resp = mustResponse(t, s.next(t))
	if resp.Error != nil {
		t.Fatalf("want success after malformed call, got %+v", resp.Error)
	}
}

func TestSession_ErrorReplies(t *testing.T) {
	srv, _ := mustServer(t)
	s := openStream(t, srv, "", "")

	tests := []struct {
		name string
		body string
		code jsonrpc.ErrorCode
		msg  string
	}{
		{"handler failure", rpc(1, "tools/call", `{"name":"fail","arguments":{}}`), jsonrpc.ErrorCodeInternalError, "vault unreachable"},
		{"unknown tool", rpc(2, "tools/call", `{"name":"nope"}`), jsonrpc.ErrorCodeInvalidParams, "unknown tool: nope"},
		{"unknown method", rpc(3, "resources/list", ""), jsonrpc.ErrorCodeMethodNotFound, "method not found: resources/list"},
		{"invalid message", `{"jsonrpc":"1.0","id":4,"method":"ping"}`, jsonrpc.ErrorCodeInvalidRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := post(t, srv, s.endpoint, "", tt.body); resp.StatusCode != http.StatusAccepted {
				t.Fatalf("want 202, got %d", resp.StatusCode)
			}
			resp := mustResponse(t, s.next(t))
			if resp.Error == nil {
				t.Fatalf("want error reply, got %s", resp.Result)
			}
			if resp.Error.Code != tt.code {
				t.Fatalf("want code %d, got %d", tt.code, resp.Error.Code)
			}
			if tt.msg != "" && resp.Error.Message != tt.msg {
				t.Fatalf("want message %q, got %q", tt.msg, resp.Error.Message)
			}
		})
	}
}

func TestPostMessage_Rejections(t *testing.T) {
	srv, _ := mustServer(t, withAPIKey("secret"))
	s := openStream(t, srv, "", "Bearer secret")

	tests := []struct {
		name   string
		path   string
		header string
		body   string
		want   int
	}{
		{"unauthenticated", s.endpoint, "", rpc(1, "ping", ""), http.StatusUnauthorized},
		{"missing session id", "/messages", "Bearer secret", rpc(1, "ping", ""), http.StatusBadRequest},
		{"invalid json", s.endpoint, "Bearer secret", "{not json", http.StatusBadRequest},
		{"unknown session", "/messages?session_id=does-not-exist", "Bearer secret", rpc(1, "ping", ""), http.StatusNotFound},
		{"accepted", s.endpoint, "Bearer secret", rpc(1, "ping", ""), http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := post(t, srv, tt.path, tt.header, tt.body); resp.StatusCode != tt.want {
				t.Fatalf("want %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestSession_Isolation(t *testing.T) {
	srv, _ := mustServer(t)
	a := openStream(t, srv, "", "")
	b := openStream(t, srv, "", "")
	if a.endpoint == b.endpoint {
		t.Fatalf("sessions share endpoint %q", a.endpoint)
	}

	post(t, srv, a.endpoint, "", rpc(1, "tools/call", `{"name":"echo","arguments":{"text":"for-a"}}`))
	post(t, srv, b.endpoint, "", rpc(2, "tools/call", `{"name":"echo","arguments":{"text":"for-b"}}`))

	if resp := mustResponse(t, a.next(t)); resp.ID.String() != "1" {
		t.Fatalf("session a saw id %s", resp.ID.String())
	}
	if resp := mustResponse(t, b.next(t)); resp.ID.String() != "2" {
		t.Fatalf("session b saw id %s", resp.ID.String())
	}
}

func TestSession_ArrivalOrder(t *testing.T) {
	srv, _ := mustServer(t)
	s := openStream(t, srv, "", "")

	for i := 1; i <= 5; i++ {
		post(t, srv, s.endpoint, "", rpc(i, "ping", ""))
	}
	for i := 1; i <= 5; i++ {
		if resp := mustResponse(t, s.next(t)); resp.ID.String() != itoa(i) {
			t.Fatalf("want id %d, got %s", i, resp.ID.String())
		}
	}
}

func TestPostMessage_FullInboxRefused(t *testing.T) {
	srv, _ := mustServer(t, withMaxPending(2))
	s := openStream(t, srv, "", "")

	// block holds the loop, so later posts stay pending.
	post(t, srv, s.endpoint, "", rpc(1, "tools/call", `{"name":"block","arguments":{}}`))

	var accepted int
	var refused *http.Response
	for i := 2; i < 10 && refused == nil; i++ {
		resp := post(t, srv, s.endpoint, "", rpc(i, "ping", ""))
		switch resp.StatusCode {
		case http.StatusAccepted:
			accepted++
		case http.StatusServiceUnavailable:
			refused = resp
		default:
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
	}
	if refused == nil {
		t.Fatalf("want 503 once the inbox is full")
	}
	if refused.Header.Get("Retry-After") == "" {
		t.Fatalf("want Retry-After on 503")
	}
	if accepted == 0 || accepted > 2 {
		t.Fatalf("want 1 or 2 pings accepted before refusal, got %d", accepted)
	}
}

func TestSession_Heartbeat(t *testing.T) {
	srv, _ := mustServer(t, withHeartbeat(20*time.Millisecond))
	s := openStream(t, srv, "", "")

	select {
	case ev := <-s.events:
		if ev.comment != "ping" {
			t.Fatalf("want ping comment, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no heartbeat")
	}
}

func TestSession_ClientDisconnectClosesSession(t *testing.T) {
	srv, h := mustServer(t)
	s := openStream(t, srv, "", "")
	s.close()

	deadline := time.Now().Add(5 * time.Second)
	for h.OpenSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if resp := post(t, srv, s.endpoint, "", rpc(1, "ping", "")); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 after close, got %d", resp.StatusCode)
	}
}

func TestShutdown_AbandonsInFlightCall(t *testing.T) {
	srv, h := mustServer(t)
	s := openStream(t, srv, "", "")

	post(t, srv, s.endpoint, "", rpc(1, "tools/call", `{"name":"block"}`))
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	s.waitEnd(t)

	if n := h.OpenSessions(); n != 0 {
		t.Fatalf("want 0 sessions after shutdown, got %d", n)
	}
	resp, cancelStream := doStream(t, srv, "", "")
	defer cancelStream()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want 503 after shutdown, got %d", resp.StatusCode)
	}
}
