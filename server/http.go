package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/winsys-mcp/errors"
	"github.com/vinayprograms/winsys-mcp/logging"
	"github.com/vinayprograms/winsys-mcp/shutdown"
	"github.com/vinayprograms/winsys-mcp/transport"
)

// HTTP routes.
const (
	PathEvents    = "/events"
	PathRPC       = "/rpc"
	PathWebSocket = "/ws"
	PathMetrics   = "/metrics"
	PathHealth    = "/healthz"
)

// HTTPOptions selects which network transports the handler serves.
type HTTPOptions struct {
	// SSE serves /events and /rpc. Its sessions are registered with
	// SSESessions as they connect.
	SSE         *transport.SSETransport
	SSESessions *transport.SessionAdapter

	// WebSocket serves /ws. Each upgraded connection is registered with
	// the adapter and served until it ends.
	WebSocket       *transport.SessionAdapter
	WebSocketConfig transport.WebSocketConfig
}

// Handler builds the HTTP routes for opts.
func (s *Server) Handler(opts HTTPOptions) http.Handler {
	mux := http.NewServeMux()

	if opts.SSE != nil {
		sessions := opts.SSESessions
		opts.SSE.OnSession(
			func(sess *transport.SSESession) {
				if sessions != nil {
					sessions.RegisterSession(sess.ID(), sess)
				}
				s.connectionOpened(transport.NameSSE, sess.ID())
			},
			func(sess *transport.SSESession) {
				if sessions != nil {
					sessions.RemoveSession(sess.ID())
				}
				s.connectionClosed(transport.NameSSE, sess.ID())
			},
		)
		mux.HandleFunc(PathEvents, s.refuseWhenStopping(opts.SSE.HandleSSE))
		mux.HandleFunc(PathRPC, opts.SSE.HandlePost)
	}

	if opts.WebSocket != nil {
		ws := &wsHandler{
			server:   s,
			sessions: opts.WebSocket,
			config:   opts.WebSocketConfig,
			upgrader: transport.NewWebSocketUpgrader(),
		}
		mux.HandleFunc(PathWebSocket, s.refuseWhenStopping(ws.ServeHTTP))
	}

	if s.metrics != nil {
		mux.Handle(PathMetrics, s.metrics.Handler())
	}
	mux.HandleFunc(PathHealth, s.handleHealth)

	return mux
}

// refuseWhenStopping answers 503 once shutdown has started.
func (s *Server) refuseWhenStopping(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.stopping() {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

func (s *Server) stopping() bool {
	return s.coord != nil && s.coord.Status() != shutdown.StatusNotStarted
}

type healthStatus struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := healthStatus{Status: shutdown.StatusNotStarted.String()}
	if s.coord != nil {
		st.Status = s.coord.Status().String()
		st.Connections = s.coord.Connections().Len()
	}

	w.Header().Set("Content-Type", "application/json")
	if s.stopping() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(st)
}

func (s *Server) connectionOpened(transportName, id string) {
	s.logger.Debug("connection opened", map[string]interface{}{
		"transport": transportName,
		"conn_id":   id,
	})
	if s.metrics != nil {
		s.metrics.ConnectionOpened(transportName)
	}
}

func (s *Server) connectionClosed(transportName, id string) {
	s.logger.Debug("connection closed", map[string]interface{}{
		"transport": transportName,
		"conn_id":   id,
	})
	if s.metrics != nil {
		s.metrics.ConnectionClosed(transportName)
	}
}

type wsHandler struct {
	server   *Server
	sessions *transport.SessionAdapter
	config   transport.WebSocketConfig
	upgrader *websocket.Upgrader
}

// ServeHTTP upgrades the connection and serves it until the peer leaves
// or the session is closed by shutdown.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.server.logger.Debug("websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	t := transport.NewWebSocketTransport(conn, h.config)
	h.sessions.RegisterSession(t.ID(), t)
	h.server.connectionOpened(transport.NameWebSocket, t.ID())
	defer func() {
		h.sessions.RemoveSession(t.ID())
		t.Close()
		h.server.connectionClosed(transport.NameWebSocket, t.ID())
	}()

	// The hijacked connection outlives the request context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Run(gctx) })
	g.Go(func() error { return h.server.Serve(gctx, t, transport.NameWebSocket) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		h.server.logger.Warn("websocket session ended", map[string]interface{}{
			"conn_id": t.ID(),
			"error":   err.Error(),
		})
	}
}

// Listener ids and hook names used by HTTPServer.Register.
const (
	ListenerID     = "http-listener"
	HTTPServerHook = "http-server"
)

// HTTPServer runs the network endpoints on a listener it owns.
type HTTPServer struct {
	srv     *http.Server
	ln      net.Listener
	stopped atomic.Bool
	logger  *logging.Logger
}

// Listen binds addr and prepares to serve h.
func Listen(addr string, h http.Handler, logger *logging.Logger) (*HTTPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "listen "+addr)
	}
	if logger == nil {
		logger = logging.New()
	}
	return &HTTPServer{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:     ln,
		logger: logger.WithComponent("http"),
	}, nil
}

// Addr returns the bound address.
func (s *HTTPServer) Addr() string {
	return s.ln.Addr().String()
}

// Serve accepts connections until the listener is closed. Closing it
// through Close or Shutdown returns nil.
func (s *HTTPServer) Serve() error {
	s.logger.Info("listening", map[string]interface{}{"addr": s.Addr()})
	err := s.srv.Serve(s.ln)
	if err == http.ErrServerClosed || s.stopped.Load() {
		return nil
	}
	return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "http serve")
}

// Close stops accepting new connections. Requests in flight and open
// streams are left alone.
func (s *HTTPServer) Close() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.ln.Close(); err != nil && !isClosedConn(err) {
		return err
	}
	return nil
}

// Shutdown waits for in-flight requests to finish, bounded by ctx.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.stopped.Store(true)
	if err := s.srv.Shutdown(ctx); err != nil && !isClosedConn(err) {
		s.srv.Close()
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

// Register tracks the listener with coord and stops the server in the
// post phase, after sessions have been closed. Only the listener is
// tracked: a graceful server stop in the close fan-out would wait on
// event streams that the transport phase has not closed yet.
func (s *HTTPServer) Register(coord *shutdown.Coordinator) error {
	coord.Connections().Add(ListenerID, listenerCloser{s})
	return coord.Hooks().RegisterPost(HTTPServerHook, s.Shutdown)
}

type listenerCloser struct{ s *HTTPServer }

func (l listenerCloser) Close() error { return l.s.Close() }

func isClosedConn(err error) bool {
	return stderrors.Is(err, net.ErrClosed)
}
