package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseServer mounts the transport and returns the server plus a channel
// fed with every session as it connects.
func sseServer(t *testing.T, transport *SSETransport, disconnect func(*SSESession)) (*httptest.Server, <-chan *SSESession) {
	t.Helper()

	connected := make(chan *SSESession, 10)
	transport.OnSession(func(s *SSESession) { connected <- s }, disconnect)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", transport.HandleSSE)
	mux.HandleFunc("/rpc", transport.HandlePost)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, connected
}

func connectSSE(t *testing.T, ctx context.Context, url string, connected <-chan *SSESession) (*SSEClient, *SSESession) {
	t.Helper()

	client := NewSSEClient(url+"/events", 10)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case s := <-connected:
		return client, s
	case <-time.After(time.Second):
		t.Fatal("session did not connect")
		return nil, nil
	}
}

func nextEvent(t *testing.T, client *SSEClient) *SSEEvent {
	t.Helper()
	select {
	case ev, ok := <-client.Recv():
		if !ok {
			t.Fatal("stream ended")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func testSSEConfig() SSEConfig {
	cfg := DefaultSSEConfig()
	cfg.HeartbeatInterval = 0
	return cfg
}

// --- Unit Tests ---

func TestSSEConfig_Defaults(t *testing.T) {
	cfg := DefaultSSEConfig()
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.ClientBufferSize != 100 {
		t.Errorf("ClientBufferSize = %d, want 100", cfg.ClientBufferSize)
	}
}

// --- Integration Tests ---

func TestSSETransport_PostAndReceive(t *testing.T) {
	transport := NewSSETransport(testSSEConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go transport.Run(ctx)

	server, _ := sseServer(t, transport, nil)

	reqData, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: "test", Params: json.RawMessage(`{}`)})
	resp, err := http.Post(server.URL+"/rpc", "application/json", bytes.NewReader(reqData))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	select {
	case msg := <-transport.Recv():
		if msg.Request == nil || msg.Request.Method != "test" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSSETransport_BroadcastToSessions(t *testing.T) {
	transport := NewSSETransport(testSSEConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go transport.Run(ctx)

	server, connected := sseServer(t, transport, nil)
	c1, _ := connectSSE(t, ctx, server.URL, connected)
	c2, _ := connectSSE(t, ctx, server.URL, connected)

	if got := len(transport.Sessions()); got != 2 {
		t.Fatalf("Sessions() = %d, want 2", got)
	}

	transport.Send(NewNotification("update", map[string]string{"status": "ready"}))

	for _, c := range []*SSEClient{c1, c2} {
		ev := nextEvent(t, c)
		if ev.Notification == nil || ev.Notification.Method != "update" {
			t.Errorf("unexpected event: %s", ev.Data)
		}
	}
}

func TestSSESession_NotifyCloseAndClose(t *testing.T) {
	transport := NewSSETransport(testSSEConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go transport.Run(ctx)

	disconnected := make(chan string, 1)
	server, connected := sseServer(t, transport, func(s *SSESession) { disconnected <- s.ID() })
	client, session := connectSSE(t, ctx, server.URL, connected)

	if !strings.HasPrefix(session.ID(), "sse-") {
		t.Errorf("ID() = %q, want sse- prefix", session.ID())
	}

	if err := session.NotifyClose(ctx); err != nil {
		t.Fatalf("NotifyClose() = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	ev := nextEvent(t, client)
	if ev.Event != "shutdown" {
		t.Errorf("event = %q, want shutdown", ev.Event)
	}
	if ev.Notification == nil || ev.Notification.Method != NotifyShutdown {
		t.Errorf("unexpected shutdown payload: %s", ev.Data)
	}

	select {
	case id := <-disconnected:
		if id != session.ID() {
			t.Errorf("disconnected %q, want %q", id, session.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not run")
	}

	select {
	case _, ok := <-client.Recv():
		if ok {
			t.Error("expected stream to end after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("stream still open after Close")
	}

	if err := session.NotifyClose(ctx); err != ErrClosed {
		t.Errorf("NotifyClose after Close = %v, want ErrClosed", err)
	}
}

func TestSSETransport_CloseEndsStreams(t *testing.T) {
	transport := NewSSETransport(testSSEConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- transport.Run(ctx) }()

	server, connected := sseServer(t, transport, nil)
	client, _ := connectSSE(t, ctx, server.URL, connected)

	transport.Close()

	select {
	case _, ok := <-client.Recv():
		if ok {
			t.Error("expected stream to end")
		}
	case <-time.After(time.Second):
		t.Fatal("stream still open after transport Close")
	}

	if err := <-runErr; err != nil {
		t.Errorf("Run() = %v, want nil after Close", err)
	}

	resp, err := http.Get(server.URL + "/events")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after close = %d, want 503", resp.StatusCode)
	}
}

// --- Failure Tests ---

func TestSSETransport_PostMalformedJSON(t *testing.T) {
	transport := NewSSETransport(testSSEConfig())
	server, _ := sseServer(t, transport, nil)

	resp, err := http.Post(server.URL+"/rpc", "application/json", strings.NewReader(`{bad`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	var body Response
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == nil || body.Error.Code != ParseError {
		t.Errorf("expected parse error, got %+v", body.Error)
	}
}

func TestSSETransport_PostWrongMethod(t *testing.T) {
	transport := NewSSETransport(testSSEConfig())
	server, _ := sseServer(t, transport, nil)

	resp, err := http.Get(server.URL + "/rpc")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestSSETransport_PostAfterClose(t *testing.T) {
	transport := NewSSETransport(testSSEConfig())
	server, _ := sseServer(t, transport, nil)
	transport.Close()

	resp, err := http.Post(server.URL+"/rpc", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	if err := transport.Send(NewNotification("x", nil)); err != ErrClosed {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestSSETransport_ShutdownStopsIntake(t *testing.T) {
	transport := NewSSETransport(testSSEConfig())
	server, _ := sseServer(t, transport, nil)

	if err := transport.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	// A second call is harmless.
	transport.Shutdown(context.Background())

	select {
	case _, ok := <-transport.Recv():
		if ok {
			t.Error("Recv should be closed after Shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("Recv still open")
	}

	resp, err := http.Post(server.URL+"/rpc", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	// Sessions stay writable until the transport is closed.
	if err := transport.Send(NewNotification(NotifyShutdown, nil)); err != nil {
		t.Errorf("Send after Shutdown = %v", err)
	}
}
