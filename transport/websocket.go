package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketTransport implements Transport over WebSocket.
type WebSocketTransport struct {
	id     string
	conn   *websocket.Conn
	config WebSocketConfig

	recv chan *InboundMessage
	send chan *OutboundMessage
	done chan struct{}

	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
	running bool
	gone    bool
	writeWG sync.WaitGroup
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config // Embed base config

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// ReadTimeout for read operations (0 = no timeout).
	ReadTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:         DefaultConfig(),
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    0,
		MaxMessageSize: maxLineSize,
		PingInterval:   30 * time.Second,
	}
}

// NewWebSocketTransport creates a transport from an existing connection.
// Each transport gets a fresh session id.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketTransport {
	cfg.Config = cfg.Config.withDefaults()
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &WebSocketTransport{
		id:     "ws-" + uuid.New().String(),
		conn:   conn,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// NewWebSocketUpgrader creates an upgrader for accepting WebSocket connections.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// ID returns the session id.
func (t *WebSocketTransport) ID() string { return t.id }

// Recv returns the channel for incoming messages.
func (t *WebSocketTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *WebSocketTransport) Send(msg *OutboundMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the transport. It returns when ctx is cancelled, the
// transport is closed, or the peer disconnects (nil).
func (t *WebSocketTransport) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.running = true
	t.writeWG.Add(1)
	t.mu.Unlock()

	peerGone := make(chan struct{})

	go func() {
		defer close(peerGone)
		t.readLoop(ctx)
	}()

	go func() {
		defer t.writeWG.Done()
		t.writeLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		t.Close()
		t.writeWG.Wait()
		return ctx.Err()
	case <-t.done:
		t.writeWG.Wait()
		return nil
	case <-peerGone:
		t.Close()
		t.writeWG.Wait()
		return nil
	}
}

// NotifyClose tells the peer the server is shutting down by writing a
// notifications/shutdown message directly, ahead of anything queued.
func (t *WebSocketTransport) NotifyClose(ctx context.Context) error {
	data, err := MarshalOutbound(NewNotification(NotifyShutdown, ShutdownParams{Reason: "server shutdown"}))
	if err != nil {
		return err
	}

	deadline := time.Now().Add(t.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	return t.write(websocket.TextMessage, data, deadline)
}

// Close sends a going-away close frame and closes the socket.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	running := t.running
	close(t.done)
	t.mu.Unlock()

	// Let the writer flush what was queued before the close frame.
	if running {
		t.writeWG.Wait()
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.gone = true

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
		time.Now().Add(time.Second),
	)

	return t.conn.Close()
}

// readLoop reads WebSocket messages and sends to recv channel.
func (t *WebSocketTransport) readLoop(ctx context.Context) {
	defer close(t.recv)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		if t.config.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, parseErr := ParseInbound(data)
		if parseErr != nil {
			t.sendParseError(parseErr)
			continue
		}

		select {
		case t.recv <- msg:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

// writeLoop reads from send channel and writes to WebSocket.
func (t *WebSocketTransport) writeLoop(ctx context.Context) {
	ticker := t.createPingTicker()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.drainSendQueue()
			return
		case <-t.done:
			t.drainSendQueue()
			return
		case <-ticker.C:
			t.writePing()
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

// createPingTicker creates a ticker for keepalive pings.
func (t *WebSocketTransport) createPingTicker() *time.Ticker {
	if t.config.PingInterval > 0 {
		return time.NewTicker(t.config.PingInterval)
	}
	// Return a ticker that never fires
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

// writePing sends a WebSocket ping frame.
func (t *WebSocketTransport) writePing() {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.gone {
		return
	}
	t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// drainSendQueue writes remaining messages before shutdown.
func (t *WebSocketTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

// writeMessage serializes and writes a single message.
func (t *WebSocketTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}

	var deadline time.Time
	if t.config.WriteTimeout > 0 {
		deadline = time.Now().Add(t.config.WriteTimeout)
	}
	t.write(websocket.TextMessage, data, deadline)
}

func (t *WebSocketTransport) write(messageType int, data []byte, deadline time.Time) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.gone {
		return ErrClosed
	}

	t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(messageType, data)
}

// sendParseError sends an error response for parse failures.
func (t *WebSocketTransport) sendParseError(parseErr error) {
	rpcErr, ok := parseErr.(*Error)
	if !ok {
		rpcErr = &Error{Code: ParseError, Message: "Parse error", Data: parseErr.Error()}
	}

	t.Send(NewError(nil, rpcErr))
}
