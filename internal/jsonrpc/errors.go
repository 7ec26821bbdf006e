package jsonrpc

import (
	"errors"
	"fmt"
)

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

var (
	// ErrParse is returned by Decode when the payload is not JSON at all.
	ErrParse = errors.New("jsonrpc: parse error")
	// ErrInvalidMessage is returned by Decode when the payload is JSON but not
	// a well-formed JSON-RPC 2.0 message.
	ErrInvalidMessage = errors.New("jsonrpc: invalid message")
)

// Error is a JSON-RPC error object. It also satisfies the error interface so
// dispatch code can return it directly.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an *Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeFor maps a Decode failure to the error code a peer should receive.
func CodeFor(err error) ErrorCode {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr.Code
	case errors.Is(err, ErrParse):
		return ErrorCodeParseError
	case errors.Is(err, ErrInvalidMessage):
		return ErrorCodeInvalidRequest
	default:
		return ErrorCodeInternalError
	}
}
