package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoopExporter(t *testing.T) {
	exp := NewNoopExporter()

	// Should not panic
	exp.LogEvent("test", map[string]interface{}{"key": "value"})

	if err := exp.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFileExporter(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "shutdown.jsonl")

	exp, err := NewFileExporter(path)
	if err != nil {
		t.Fatalf("NewFileExporter() error = %v", err)
	}

	exp.LogEvent("shutdown.step", map[string]interface{}{"name": "flush-metrics"})
	exp.LogEvent("shutdown.step", map[string]interface{}{"name": "save-state"})

	if err := OnShutdown(exp)(context.Background()); err != nil {
		t.Fatalf("OnShutdown() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if ev.Name != "shutdown.step" || ev.Data["name"] != "save-state" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHTTPExporterFlush(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var events []Event
		if err := json.NewDecoder(r.Body).Decode(&events); err != nil || len(events) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		posts.Add(1)
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	exp.LogEvent("shutdown.finished", map[string]interface{}{"status": "completed"})
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if posts.Load() != 1 {
		t.Errorf("expected 1 post, got %d", posts.Load())
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		protocol string
		wantErr  bool
	}{
		{"noop", false},
		{"", false},
		{"unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			exp, err := NewExporter(tt.protocol, "")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExporter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if exp != nil {
				exp.Close()
			}
		})
	}
}

func TestShutdownSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	tr := NewTracerFrom(tp.Tracer("test"), false)
	ctx, root := tr.StartShutdownSpan(context.Background(), "signal", 2*time.Second)
	_, phase := tr.StartPhaseSpan(ctx, "pre", 2)
	tr.EndPhaseSpan(phase, 1)
	tr.EndShutdownSpan(root, errors.New("closes pending"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "shutdown.pre" || spans[1].Name() != "shutdown" {
		t.Errorf("unexpected span names %q, %q", spans[0].Name(), spans[1].Name())
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("phase span should be a child of the shutdown span")
	}
}

func TestGetTracerDefaultsToNoop(t *testing.T) {
	_, span := GetTracer().StartToolSpan(context.Background(), "window_list")
	GetTracer().EndToolSpan(span, ToolSpanOptions{Args: map[string]interface{}{"n": 3}}, nil)
}

func TestInitProviderRejectsBadConfig(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	if _, err := InitProvider(context.Background(), ProviderConfig{}); err == nil {
		t.Error("expected an error without an endpoint")
	}
	if _, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier"}); err == nil {
		t.Error("expected an error for an unknown protocol")
	}
}

func TestHTTPExporterKeepsBatchOnFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var got atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var events []Event
		json.NewDecoder(r.Body).Decode(&events)
		got.Store(int32(len(events)))
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	exp.LogEvent("shutdown_step", map[string]interface{}{"name": "bus"})
	exp.LogEvent("shutdown_step", map[string]interface{}{"name": "stdio"})
	if err := exp.Flush(); err == nil {
		t.Fatal("expected an error from a failing endpoint")
	}

	fail.Store(false)
	if err := OnShutdown(exp)(context.Background()); err != nil {
		t.Fatalf("OnShutdown() = %v", err)
	}
	if got.Load() != 2 {
		t.Errorf("posted %d events, want 2", got.Load())
	}
}
