package transport

import (
	"encoding/json"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// ServerShuttingDown is returned for requests that arrive after
	// shutdown started.
	ServerShuttingDown = -32000
)

// Notification represents a JSON-RPC 2.0 notification (no ID).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Method names served by the server.
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"

	// NotifyShutdown tells a peer the server is closing its session.
	NotifyShutdown = "notifications/shutdown"
)

// NewResult builds a success response.
func NewResult(id interface{}, result interface{}) *OutboundMessage {
	return &OutboundMessage{Response: &Response{JSONRPC: "2.0", ID: id, Result: result}}
}

// NewError builds an error response.
func NewError(id interface{}, rpcErr *Error) *OutboundMessage {
	return &OutboundMessage{Response: &Response{JSONRPC: "2.0", ID: id, Error: rpcErr}}
}

// NewNotification builds a notification.
func NewNotification(method string, params interface{}) *OutboundMessage {
	return &OutboundMessage{Notification: &Notification{JSONRPC: "2.0", Method: method, Params: params}}
}

// ShutdownParams are the params of NotifyShutdown.
type ShutdownParams struct {
	Reason string `json:"reason"`
}

// ErrorFrom maps a service error onto a JSON-RPC error. The structured
// error rides in Data.
func ErrorFrom(err error) *Error {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}

	code := InternalError
	switch errors.Code(err) {
	case errors.ErrCodeNotFound:
		code = MethodNotFound
	case errors.ErrCodeInvalidInput:
		code = InvalidParams
	case errors.ErrCodeUnavailable, errors.ErrCodeShutdownInProgress:
		code = ServerShuttingDown
	}

	var data interface{}
	if svcErr := errors.AsServiceError(err); svcErr != nil {
		data = svcErr
	}
	return &Error{Code: code, Message: err.Error(), Data: data}
}
