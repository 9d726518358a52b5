package bus

import (
	"context"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestValidateSubject(t *testing.T) {
	if err := ValidateSubject(""); err != ErrInvalidSubject {
		t.Errorf("empty subject = %v, want ErrInvalidSubject", err)
	}
	if err := ValidateSubject("winsys.lifecycle.shutdown"); err != nil {
		t.Errorf("valid subject = %v", err)
	}
}

func TestMemoryBus_Subscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, err := bus.Subscribe("test.subject")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	if err := bus.Publish("test.subject", []byte("hello")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg.Data) != "hello" || msg.Subject != "test.subject" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub1, _ := bus.Subscribe("fanout")
	sub2, _ := bus.Subscribe("fanout")
	other, _ := bus.Subscribe("other")

	bus.Publish("fanout", []byte("x"))

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case <-sub.Messages():
		case <-time.After(time.Second):
			t.Errorf("subscriber %d did not receive", i)
		}
	}
	select {
	case msg := <-other.Messages():
		t.Errorf("unrelated subscriber received %+v", msg)
	default:
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("test")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe error: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	// Second unsubscribe and later publishes are harmless.
	sub.Unsubscribe()
	if err := bus.Publish("test", []byte("late")); err != nil {
		t.Errorf("Publish after unsubscribe = %v", err)
	}
}

func TestMemoryBus_BufferFull(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 1})
	defer bus.Close()

	sub, _ := bus.Subscribe("full")
	bus.Publish("full", []byte("1"))
	if err := bus.Publish("full", []byte("2")); err != nil {
		t.Fatalf("Publish on full buffer = %v, want drop without error", err)
	}

	msg := <-sub.Messages()
	if string(msg.Data) != "1" {
		t.Errorf("data = %q, want 1", msg.Data)
	}
}

// --- Failure Tests ---

func TestMemoryBus_PublishInvalidSubject(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	if err := bus.Publish("", []byte("x")); err != ErrInvalidSubject {
		t.Errorf("err = %v, want ErrInvalidSubject", err)
	}
}

func TestMemoryBus_ShutdownClosesSubscriptions(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	sub, _ := bus.Subscribe("test")

	if err := bus.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Error("subscription should be closed")
	}
	if err := bus.Publish("test", []byte("x")); err != ErrClosed {
		t.Errorf("Publish after shutdown = %v, want ErrClosed", err)
	}
	if _, err := bus.Subscribe("test"); err != ErrClosed {
		t.Errorf("Subscribe after shutdown = %v, want ErrClosed", err)
	}
	if err := bus.Flush(context.Background()); err != ErrClosed {
		t.Errorf("Flush after shutdown = %v, want ErrClosed", err)
	}
	// Unsubscribe after close must not double-close.
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe after shutdown = %v", err)
	}
}
