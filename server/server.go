// Package server answers MCP JSON-RPC requests over any transport and
// exposes the HTTP endpoints used by the SSE and WebSocket transports.
package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vinayprograms/winsys-mcp/errors"
	"github.com/vinayprograms/winsys-mcp/logging"
	"github.com/vinayprograms/winsys-mcp/metrics"
	"github.com/vinayprograms/winsys-mcp/shutdown"
	"github.com/vinayprograms/winsys-mcp/telemetry"
	"github.com/vinayprograms/winsys-mcp/tools"
	"github.com/vinayprograms/winsys-mcp/transport"
)

// ProtocolVersion is the MCP revision the server speaks.
const ProtocolVersion = "2024-11-05"

// Default server identity reported by initialize.
const (
	DefaultName    = "winsys-mcp"
	DefaultVersion = "dev"
)

// Server dispatches JSON-RPC requests to the tool registry.
type Server struct {
	name    string
	version string

	tools   *tools.Registry
	coord   *shutdown.Coordinator
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  *telemetry.Tracer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records connection and tool metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithTracer sets the tracer used for RPC and tool spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithInfo sets the name and version reported by initialize.
func WithInfo(name, version string) Option {
	return func(s *Server) {
		s.name = name
		s.version = version
	}
}

// New creates a server for reg. Tool calls are refused once coord has
// started shutting down.
func New(reg *tools.Registry, coord *shutdown.Coordinator, opts ...Option) *Server {
	s := &Server{
		name:    DefaultName,
		version: DefaultVersion,
		tools:   reg,
		coord:   coord,
		logger:  logging.New().WithComponent("server"),
		tracer:  telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerInfo identifies the server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of initialize.
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      ServerInfo             `json:"serverInfo"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []tools.Definition `json:"tools"`
}

// CallParams are the params of tools/call.
type CallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Serve answers requests arriving on t until ctx is done or t's receive
// channel closes. Requests are handled one at a time in arrival order.
// Notifications from the peer are accepted and ignored.
func (s *Server) Serve(ctx context.Context, t transport.Transport, transportName string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-t.Recv():
			if !ok {
				return nil
			}
			if msg.Request == nil {
				if msg.Notification != nil {
					s.logger.Debug("notification", map[string]interface{}{
						"transport": transportName,
						"method":    msg.Notification.Method,
					})
				}
				continue
			}

			out := s.Handle(ctx, transportName, msg.Request)
			if err := t.Send(out); err != nil {
				if err == transport.ErrClosed {
					return nil
				}
				return errors.Wrap(err, "send response", errors.WithComponent(transportName))
			}
		}
	}
}

// Handle answers a single request.
func (s *Server) Handle(ctx context.Context, transportName string, req *transport.Request) *transport.OutboundMessage {
	ctx, span := s.tracer.StartRPCSpan(ctx, transportName, req.Method)
	result, err := s.dispatch(ctx, transportName, req)
	s.tracer.EndRPCSpan(span, err)

	if err != nil {
		s.logger.Debug("request failed", map[string]interface{}{
			"transport": transportName,
			"method":    req.Method,
			"error":     err.Error(),
		})
		return transport.NewError(req.ID, transport.ErrorFrom(err))
	}
	return transport.NewResult(req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, transportName string, req *transport.Request) (interface{}, error) {
	switch req.Method {
	case transport.MethodInitialize:
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			ServerInfo: ServerInfo{Name: s.name, Version: s.version},
		}, nil
	case transport.MethodPing:
		return struct{}{}, nil
	case transport.MethodToolsList:
		return ToolsListResult{Tools: s.tools.List()}, nil
	case transport.MethodToolsCall:
		return s.callTool(ctx, transportName, req.Params)
	default:
		return nil, errors.NotFound("method not found: " + req.Method)
	}
}

// callTool runs a tool. A tool that fails is answered with an error
// result rather than a JSON-RPC error.
func (s *Server) callTool(ctx context.Context, transportName string, raw json.RawMessage) (interface{}, error) {
	var params CallParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "invalid tools/call params")
		}
	}
	if params.Name == "" {
		return nil, errors.InvalidInput("tools/call requires a tool name")
	}

	if s.coord != nil && s.coord.Status() != shutdown.StatusNotStarted {
		return nil, errors.New(errors.ErrCodeShutdownInProgress, "server is shutting down",
			errors.WithComponent(transportName))
	}

	s.logger.ToolCall(params.Name)
	ctx, span := s.tracer.StartToolSpan(ctx, params.Name)
	start := time.Now()

	res, err := s.tools.Invoke(ctx, params.Name, tools.Args(params.Arguments))

	elapsed := time.Since(start)
	opts := telemetry.ToolSpanOptions{Tool: params.Name, Args: params.Arguments}
	if res != nil && len(res.Content) > 0 {
		opts.Result = res.Content[0].Text
	}
	s.tracer.EndToolSpan(span, opts, err)
	s.logger.ToolResult(params.Name, elapsed, err)
	if s.metrics != nil {
		s.metrics.ToolCalled(params.Name, elapsed, err)
	}

	if res != nil {
		return res, nil
	}
	if errors.Is(err, errors.ErrCodeNotFound) {
		// An unknown tool is a bad argument, not an unknown method.
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "unknown tool")
	}
	return nil, err
}
