package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	bus.Close()

	return url
}

func newTestNATSBus(t *testing.T) *NATSBus {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.URL = getNATSURL(t)
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

// --- Integration Tests ---

func TestNATSBus_PubSub(t *testing.T) {
	bus := newTestNATSBus(t)

	sub, err := bus.Subscribe("test.nats")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	if err := bus.Publish("test.nats", []byte("hello nats")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg.Data) != "hello nats" {
			t.Errorf("data = %q, want %q", msg.Data, "hello nats")
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestNATSBus_ShutdownDrains(t *testing.T) {
	bus := newTestNATSBus(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := bus.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if !bus.Conn().IsClosed() {
		t.Error("connection should be closed after drain")
	}
	if err := bus.Publish("test", []byte("x")); err != ErrClosed {
		t.Errorf("Publish after shutdown = %v, want ErrClosed", err)
	}
	// Shutdown of a closed bus is a no-op.
	if err := bus.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

// --- Failure Tests ---

func TestNATSBus_InvalidURL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = "nats://invalid-host-that-does-not-exist:4222"
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.MaxReconnects = 0

	_, err := NewNATSBus(cfg)
	if !errors.Is(err, errors.ErrCodeUnavailable) {
		t.Errorf("err = %v, want UNAVAILABLE", err)
	}
}
