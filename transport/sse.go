package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SSETransport implements Transport using Server-Sent Events for server→client
// and HTTP POST for client→server communication.
type SSETransport struct {
	config SSEConfig

	recv   chan *InboundMessage
	send   chan *OutboundMessage
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	// intake guards recv; stopIntake ends posts waiting on it.
	intake     sync.RWMutex
	intakeOff  bool
	stopIntake chan struct{}
	stopOnce   sync.Once

	// Server-side: track connected SSE clients
	clients   map[string]*SSESession
	clientsMu sync.RWMutex

	onConnect    func(*SSESession)
	onDisconnect func(*SSESession)
}

// SSEConfig holds SSE transport configuration.
type SSEConfig struct {
	Config // Embed base config

	// HeartbeatInterval sends SSE comments as keepalive (0 = disabled).
	HeartbeatInterval time.Duration

	// ClientBufferSize is the per-client frame buffer.
	// Default: 100
	ClientBufferSize int
}

// DefaultSSEConfig returns configuration with sensible defaults.
func DefaultSSEConfig() SSEConfig {
	return SSEConfig{
		Config:            DefaultConfig(),
		HeartbeatInterval: 30 * time.Second,
		ClientBufferSize:  100,
	}
}

// NewSSETransport creates a new SSE transport.
func NewSSETransport(cfg SSEConfig) *SSETransport {
	cfg.Config = cfg.Config.withDefaults()
	if cfg.ClientBufferSize <= 0 {
		cfg.ClientBufferSize = DefaultSSEConfig().ClientBufferSize
	}

	return &SSETransport{
		config:     cfg,
		recv:       make(chan *InboundMessage, cfg.RecvBufferSize),
		send:       make(chan *OutboundMessage, cfg.SendBufferSize),
		done:       make(chan struct{}),
		stopIntake: make(chan struct{}),
		clients:    make(map[string]*SSESession),
	}
}

// OnSession sets callbacks run when a client stream opens and when it
// ends. Either may be nil. Call before serving.
func (t *SSETransport) OnSession(connect, disconnect func(*SSESession)) {
	t.onConnect = connect
	t.onDisconnect = disconnect
}

// Sessions returns the connected client sessions.
func (t *SSETransport) Sessions() []*SSESession {
	t.clientsMu.RLock()
	defer t.clientsMu.RUnlock()

	out := make([]*SSESession, 0, len(t.clients))
	for _, s := range t.clients {
		out = append(out, s)
	}
	return out
}

// Recv returns the channel for incoming messages. It is closed by
// Shutdown or Close.
func (t *SSETransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery to all connected SSE clients.
func (t *SSETransport) Send(msg *OutboundMessage) error {
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

// Run starts the transport, blocking until ctx is cancelled or the
// transport is closed.
func (t *SSETransport) Run(ctx context.Context) error {
	go t.broadcastLoop(ctx)

	select {
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	case <-t.done:
		return nil
	}
}

// Shutdown stops accepting requests and closes the Recv channel. Open
// event streams stay up so their sessions can still be notified and
// closed one by one.
func (t *SSETransport) Shutdown(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stopIntake) })

	t.intake.Lock()
	defer t.intake.Unlock()
	if !t.intakeOff {
		t.intakeOff = true
		close(t.recv)
	}
	return nil
}

// Close stops accepting messages and ends every client stream.
func (t *SSETransport) Close() error {
	t.Shutdown(context.Background())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.clientsMu.RLock()
	for _, s := range t.clients {
		s.end()
	}
	t.clientsMu.RUnlock()

	return nil
}

// HandleSSE is an HTTP handler for SSE connections.
// Mount this at your SSE endpoint (e.g., /events).
func (t *SSETransport) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		http.Error(w, "Transport closed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	flusher.Flush()

	session := newSSESession(t.config.ClientBufferSize)

	t.clientsMu.Lock()
	t.clients[session.id] = session
	t.clientsMu.Unlock()

	if t.onConnect != nil {
		t.onConnect(session)
	}

	defer func() {
		t.clientsMu.Lock()
		delete(t.clients, session.id)
		t.clientsMu.Unlock()
		if t.onDisconnect != nil {
			t.onDisconnect(session)
		}
		close(session.exited)
	}()

	var heartbeat <-chan time.Time
	if t.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(t.config.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-session.done:
			session.flush(w, flusher)
			return
		case <-heartbeat:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case f := <-session.frames:
			writeFrame(w, f)
			flusher.Flush()
		}
	}
}

// HandlePost is an HTTP handler for receiving JSON-RPC requests.
// Mount this at your request endpoint (e.g., /rpc).
func (t *SSETransport) HandlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxLineSize))
	if err != nil {
		http.Error(w, "Read error", http.StatusBadRequest)
		return
	}

	msg, parseErr := ParseInbound(body)
	if parseErr != nil {
		t.writeHTTPError(w, parseErr)
		return
	}

	t.intake.RLock()
	defer t.intake.RUnlock()

	if t.intakeOff {
		http.Error(w, "Transport closed", http.StatusServiceUnavailable)
		return
	}

	select {
	case t.recv <- msg:
		// Responses go out over the event stream.
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"accepted"}`))
	case <-t.stopIntake:
		http.Error(w, "Transport closed", http.StatusServiceUnavailable)
	}
}

// broadcastLoop sends outbound messages to all connected clients.
func (t *SSETransport) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case msg := <-t.send:
			t.broadcast(msg)
		}
	}
}

// broadcast sends a message to all connected SSE clients.
func (t *SSETransport) broadcast(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}

	t.clientsMu.RLock()
	defer t.clientsMu.RUnlock()

	for _, s := range t.clients {
		s.offer(sseFrame{data: data})
	}
}

// writeHTTPError writes a JSON-RPC error as HTTP response.
func (t *SSETransport) writeHTTPError(w http.ResponseWriter, err error) {
	resp := Response{
		JSONRPC: "2.0",
		Error:   ErrorFrom(err),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(resp)
}

type sseFrame struct {
	event string
	data  []byte
}

func writeFrame(w io.Writer, f sseFrame) {
	if f.event != "" {
		fmt.Fprintf(w, "event: %s\n", f.event)
	}
	fmt.Fprintf(w, "data: %s\n\n", f.data)
}

// SSESession is one connected event-stream client.
type SSESession struct {
	id     string
	frames chan sseFrame
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newSSESession(buffer int) *SSESession {
	return &SSESession{
		id:     "sse-" + uuid.New().String(),
		frames: make(chan sseFrame, buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// ID returns the session id.
func (s *SSESession) ID() string { return s.id }

// NotifyClose queues an "event: shutdown" frame for the client.
func (s *SSESession) NotifyClose(ctx context.Context) error {
	data, err := MarshalOutbound(NewNotification(NotifyShutdown, ShutdownParams{Reason: "server shutdown"}))
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.frames <- sseFrame{event: "shutdown", data: data}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the event stream after flushing queued frames, and waits for
// the handler to return.
func (s *SSESession) Close() error {
	s.end()
	<-s.exited
	return nil
}

func (s *SSESession) end() {
	s.once.Do(func() { close(s.done) })
}

// offer queues a frame without blocking; slow clients miss broadcasts.
func (s *SSESession) offer(f sseFrame) {
	select {
	case s.frames <- f:
	default:
	}
}

func (s *SSESession) flush(w io.Writer, flusher http.Flusher) {
	for {
		select {
		case f := <-s.frames:
			writeFrame(w, f)
		default:
			flusher.Flush()
			return
		}
	}
}

// --- Client-side SSE support ---

// SSEClient connects to an SSE endpoint and receives messages.
type SSEClient struct {
	url    string
	recv   chan *SSEEvent
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// SSEEvent is one event received by an SSEClient.
type SSEEvent struct {
	Event        string
	Data         json.RawMessage
	Notification *Notification
}

// NewSSEClient creates a client for connecting to an SSE endpoint.
func NewSSEClient(url string, bufferSize int) *SSEClient {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &SSEClient{
		url:  url,
		recv: make(chan *SSEEvent, bufferSize),
		done: make(chan struct{}),
	}
}

// Recv returns the channel for incoming events. It is closed when the
// stream ends.
func (c *SSEClient) Recv() <-chan *SSEEvent {
	return c.recv
}

// Connect establishes the SSE connection and starts receiving.
func (c *SSEClient) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("sse connect: %s", resp.Status)
	}

	go c.readLoop(ctx, resp.Body)
	return nil
}

// Close closes the SSE client.
func (c *SSEClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return nil
}

// readLoop reads SSE events and parses JSON-RPC messages.
func (c *SSEClient) readLoop(ctx context.Context, body io.ReadCloser) {
	defer body.Close()
	defer close(c.recv)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var (
		event string
		data  bytes.Buffer
	)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				c.processEvent(event, data.Bytes())
				data.Reset()
			}
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(line[len("data:"):], " "))
		}
	}
}

// processEvent parses an SSE data payload as JSON-RPC.
func (c *SSEClient) processEvent(event string, data []byte) {
	ev := &SSEEvent{Event: event, Data: append(json.RawMessage(nil), data...)}

	var notif Notification
	if json.Unmarshal(data, &notif) == nil && notif.Method != "" {
		ev.Notification = &notif
	}

	select {
	case c.recv <- ev:
	case <-c.done:
	}
}
