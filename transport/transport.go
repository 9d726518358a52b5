// Package transport carries JSON-RPC 2.0 messages between the server and
// its peers over stdio, WebSocket and SSE, and provides the per-transport
// cleanup that runs during shutdown.
package transport

import (
	"context"
	"encoding/json"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// Common errors.
var (
	ErrClosed = errors.Unavailable("transport closed")
)

// Transport provides bidirectional JSON-RPC message passing.
type Transport interface {
	// Recv returns channel for incoming messages.
	// Channel is closed when the peer goes away.
	Recv() <-chan *InboundMessage

	// Send queues a message for delivery.
	// Returns ErrClosed if transport is closed.
	Send(msg *OutboundMessage) error

	// Run starts the transport and blocks until ctx is cancelled or the
	// peer disconnects. A peer disconnect returns nil.
	Run(ctx context.Context) error

	// Close stops the transport.
	Close() error
}

// CloseNotifier is implemented by sessions that can tell their peer the
// server is going away before the connection is closed.
type CloseNotifier interface {
	NotifyClose(ctx context.Context) error
}

// InboundMessage is one decoded message from a peer. Exactly one of
// Request and Notification is set.
type InboundMessage struct {
	Request      *Request
	Notification *Notification
}

// OutboundMessage is one message for a peer. Exactly one field is set.
type OutboundMessage struct {
	Response     *Response
	Notification *Notification
}

// envelope covers both requests and notifications; a non-null id makes a
// request.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func parseError(err error) *Error {
	return &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
}

// ParseInbound decodes one JSON-RPC 2.0 message. Failures are returned as
// *Error so the caller can answer with them.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, parseError(err)
	}
	if env.JSONRPC != "2.0" {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "jsonrpc must be 2.0"}
	}

	if len(env.ID) == 0 || string(env.ID) == "null" {
		n := &Notification{JSONRPC: env.JSONRPC, Method: env.Method}
		if len(env.Params) > 0 {
			if err := json.Unmarshal(env.Params, &n.Params); err != nil {
				return nil, parseError(err)
			}
		}
		return &InboundMessage{Notification: n}, nil
	}

	req := &Request{JSONRPC: env.JSONRPC, Method: env.Method, Params: env.Params}
	if err := json.Unmarshal(env.ID, &req.ID); err != nil {
		return nil, parseError(err)
	}
	return &InboundMessage{Request: req}, nil
}

// MarshalOutbound serializes an OutboundMessage to JSON.
func MarshalOutbound(msg *OutboundMessage) ([]byte, error) {
	if msg.Response != nil {
		return json.Marshal(msg.Response)
	}
	if msg.Notification != nil {
		return json.Marshal(msg.Notification)
	}
	return nil, errors.InvalidInput("empty outbound message")
}

// Config holds common transport configuration.
type Config struct {
	// RecvBufferSize is the size of the receive channel buffer.
	// Default: 100
	RecvBufferSize int

	// SendBufferSize is the size of the internal send buffer.
	// Default: 100
	SendBufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 100,
		SendBufferSize: 100,
	}
}

func (c Config) withDefaults() Config {
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = DefaultConfig().RecvBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = DefaultConfig().SendBufferSize
	}
	return c
}
