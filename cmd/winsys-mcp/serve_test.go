package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/winsys-mcp/bus"
	"github.com/vinayprograms/winsys-mcp/config"
	"github.com/vinayprograms/winsys-mcp/logging"
	"github.com/vinayprograms/winsys-mcp/shutdown"
	"github.com/vinayprograms/winsys-mcp/telemetry"
)

func TestShutdownConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.ShutdownConfig
		timeout time.Duration
		session time.Duration
		force   time.Duration
	}{
		{"defaults", config.ShutdownConfig{}, 5 * time.Second, 3 * time.Second, 8 * time.Second},
		{"derived watchdog", config.ShutdownConfig{Timeout: 2 * time.Second}, 2 * time.Second, 3 * time.Second, 5 * time.Second},
		{"long close timeout", config.ShutdownConfig{Timeout: 10 * time.Second}, 10 * time.Second, 3 * time.Second, 15 * time.Second},
		{"explicit watchdog", config.ShutdownConfig{Timeout: time.Second, ForceExitAfter: 10 * time.Second}, time.Second, 3 * time.Second, 10 * time.Second},
		{"disabled watchdog", config.ShutdownConfig{ForceExitAfter: -1}, 5 * time.Second, 3 * time.Second, -1},
		{"session timeout", config.ShutdownConfig{SessionTimeout: 500 * time.Millisecond}, 5 * time.Second, 500 * time.Millisecond, 7500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shutdownConfig(tt.in)
			if got.DefaultTimeout != tt.timeout {
				t.Errorf("DefaultTimeout = %v, want %v", got.DefaultTimeout, tt.timeout)
			}
			if got.SessionTimeout != tt.session {
				t.Errorf("SessionTimeout = %v, want %v", got.SessionTimeout, tt.session)
			}
			if got.ForceExitAfter != tt.force {
				t.Errorf("ForceExitAfter = %v, want %v", got.ForceExitAfter, tt.force)
			}
		})
	}
}

type recordingExporter struct {
	names  []string
	events []map[string]interface{}
}

func (e *recordingExporter) LogEvent(name string, data map[string]interface{}) {
	e.names = append(e.names, name)
	e.events = append(e.events, data)
}
func (e *recordingExporter) Flush() error { return nil }
func (e *recordingExporter) Close() error { return nil }

func TestJournalProgress(t *testing.T) {
	exp := &recordingExporter{}
	progress := journalProgress(exp)

	progress(shutdown.HandlerResult{Name: "announce-shutdown", Phase: shutdown.PhasePre, Duration: 3 * time.Millisecond})
	progress(shutdown.HandlerResult{Name: "bus", Phase: shutdown.PhaseTransport, Close: true, Err: stderrors.New("drain failed")})

	if len(exp.events) != 2 {
		t.Fatalf("events = %d, want 2", len(exp.events))
	}
	if exp.names[0] != "shutdown_step" {
		t.Errorf("event name = %q", exp.names[0])
	}
	first := exp.events[0]
	if first["name"] != "announce-shutdown" || first["phase"] != "pre" || first["duration_ms"] != int64(3) {
		t.Errorf("first event = %v", first)
	}
	if _, ok := first["error"]; ok {
		t.Error("successful step should not carry an error")
	}
	second := exp.events[1]
	if second["close"] != true || second["error"] != "drain failed" {
		t.Errorf("second event = %v", second)
	}
}

func TestOpenJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	exp, err := openJournal(path)
	if err != nil {
		t.Fatalf("openJournal(file) = %v", err)
	}
	journalProgress(exp)(shutdown.HandlerResult{Name: "http-server", Phase: shutdown.PhasePost})
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if !strings.Contains(string(data), `"name":"shutdown_step"`) || !strings.Contains(string(data), `"http-server"`) {
		t.Errorf("journal = %s", data)
	}

	if _, ok := mustJournal(t, "http://127.0.0.1:1/events").(*telemetry.HTTPExporter); !ok {
		t.Error("http target should use the HTTP exporter")
	}
}

func mustJournal(t *testing.T, target string) telemetry.Exporter {
	t.Helper()
	exp, err := openJournal(target)
	if err != nil {
		t.Fatalf("openJournal(%s) = %v", target, err)
	}
	return exp
}

func TestOpenBus_MemoryByDefault(t *testing.T) {
	b, err := openBus(config.BusConfig{Subject: "x"})
	if err != nil {
		t.Fatalf("openBus() = %v", err)
	}
	defer b.Close()

	sub, err := b.Subscribe("x")
	if err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if err := b.Publish("x", []byte("hi")); err != nil {
		t.Fatalf("Publish() = %v", err)
	}
	select {
	case msg := <-sub.Messages():
		if string(msg.Data) != "hi" {
			t.Errorf("data = %q", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
}

func newWatchCoordinator() *shutdown.Coordinator {
	return shutdown.NewCoordinator(shutdown.Config{ForceExitAfter: -1},
		shutdown.WithLogger(logging.Nop()), shutdown.WithExitFunc(func(int) {}))
}

func TestWatchBusRequests_StartsShutdown(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	coord := newWatchCoordinator()

	done := make(chan struct{})
	go func() {
		watchBusRequests(context.Background(), b, bus.SubjectShutdownRequest, coord, logging.Nop())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for coord.Status() == shutdown.StatusNotStarted {
		_ = b.Publish(bus.SubjectShutdownRequest, []byte("{}"))
		select {
		case <-deadline:
			t.Fatal("bus request did not start shutdown")
		case <-time.After(10 * time.Millisecond):
		}
	}
	<-coord.Done()
	if coord.Reason() != shutdown.ReasonNormal {
		t.Errorf("reason = %v", coord.Reason())
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after the request")
	}
}

func TestWatchBusRequests_StopsOnSignalContext(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	coord := newWatchCoordinator()

	var buf bytes.Buffer
	log := logging.New()
	log.SetOutput(&buf)

	// Stands in for trap.Context() after the first termination signal.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchBusRequests(ctx, b, bus.SubjectShutdownRequest, coord, log)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher still running after the context ended")
	}
	if coord.Status() != shutdown.StatusNotStarted {
		t.Errorf("status = %v, watcher must not start a shutdown", coord.Status())
	}
	if strings.Contains(buf.String(), "watch ended") {
		t.Errorf("cancellation should not be logged as a failure: %s", buf.String())
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(out.String(), "winsys-mcp "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"serve", "carrier-pigeon"})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for an unknown transport")
	}
}
