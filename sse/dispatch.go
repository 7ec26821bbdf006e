package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/ggoodman/mcp-obsidian-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-obsidian-go/internal/logctx"
	"github.com/ggoodman/mcp-obsidian-go/mcp"
	"github.com/ggoodman/mcp-obsidian-go/tools"
)

// dispatcher answers the JSON-RPC methods served inside a session loop.
type dispatcher struct {
	registry *tools.Registry
	info     mcp.ImplementationInfo
	log      *slog.Logger
}

// handle processes one inbound message. It returns nil when no reply is
// owed: notifications and client responses.
func (d *dispatcher) handle(ctx context.Context, raw []byte) *jsonrpc.Response {
	msg, err := jsonrpc.Decode(raw)
	if err != nil {
		d.log.WarnContext(ctx, "rpc.decode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(nil, jsonrpc.CodeFor(err), decodeMessage(err), nil)
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	req := msg.AsRequest()
	if req == nil {
		d.log.DebugContext(ctx, "rpc.response.ignored")
		return nil
	}
	if req.IsNotification() {
		d.log.DebugContext(ctx, "rpc.notification")
		return nil
	}

	result, err := d.call(ctx, req)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "%s", err.Error())
		}
		d.log.InfoContext(ctx, "rpc.dispatch.fail", slog.Int("code", int(rpcErr.Code)), slog.String("err", rpcErr.Message))
		return jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		d.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}

func (d *dispatcher) call(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		var p mcp.InitializeRequest
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid initialize params: %v", err)
			}
		}
		return &mcp.InitializeResult{
			ProtocolVersion: mcp.NegotiateProtocolVersion(p.ProtocolVersion),
			Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{}},
			ServerInfo:      d.info,
		}, nil

	case mcp.PingMethod:
		return &mcp.EmptyResult{}, nil

	case mcp.ToolsListMethod:
		return &mcp.ListToolsResult{Tools: d.registry.List()}, nil

	case mcp.ToolsCallMethod:
		return d.callTool(ctx, req.Params)

	default:
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "method not found: %s", req.Method)
	}
}

func (d *dispatcher) callTool(ctx context.Context, params json.RawMessage) (*mcp.CallToolResult, error) {
	var p mcp.CallToolRequestReceived
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params: %v", err)
	}
	if p.Name == "" {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "tool name is required")
	}
	args, err := decodeArguments(p.Arguments)
	if err != nil {
		return nil, err
	}
	if _, ok := d.registry.Lookup(p.Name); !ok {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "unknown tool: %s", p.Name)
	}

	// The handler may outlive the session; its result is dropped in that case.
	type outcome struct {
		content []tools.Content
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		content, err := d.registry.Call(ctx, tools.TransportSSE, p.Name, args)
		ch <- outcome{content, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-ch:
		if o.err != nil {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "%s", o.err.Error())
		}
		return &mcp.CallToolResult{Content: tools.Normalize(o.content)}, nil
	}
}

// decodeArguments accepts an absent or null payload as empty and rejects
// anything that is not a JSON object.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "tool arguments must be an object")
	}
	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "tool arguments must be an object: %v", err)
	}
	return args, nil
}

func decodeMessage(err error) string {
	if errors.Is(err, jsonrpc.ErrParse) {
		return "parse error"
	}
	return strings.TrimPrefix(err.Error(), "jsonrpc: ")
}
