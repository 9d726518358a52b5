// Package telemetry provides OpenTelemetry tracing and a lightweight event
// journal for shutdown and tool activity.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// Exporter receives journal events.
type Exporter interface {
	LogEvent(name string, data map[string]interface{})
	Flush() error
	Close() error
}

// Event is one journal record. Seq orders events written by one exporter.
type Event struct {
	Seq       uint64                 `json:"seq"`
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewExporter returns the journal for protocol: "http" posts batches to
// endpoint, "file" appends JSON lines to the file at endpoint, and "noop"
// or "" discards events.
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	}
	return nil, errors.InvalidInput("unknown journal protocol: " + protocol)
}

// httpBatchSize is the number of buffered events that triggers a post.
const httpBatchSize = 64

// HTTPExporter buffers events and posts them as a JSON array.
type HTTPExporter struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	seq    uint64
	buffer []Event
}

func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.buffer = append(e.buffer, Event{Seq: e.seq, Name: name, Timestamp: time.Now(), Data: data})
	if len(e.buffer) >= httpBatchSize {
		// A failed post keeps the batch for the next flush.
		e.post(context.Background())
	}
}

func (e *HTTPExporter) Flush() error {
	return e.FlushContext(context.Background())
}

// FlushContext posts the buffered events, bounded by ctx.
func (e *HTTPExporter) FlushContext(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.post(ctx)
}

func (e *HTTPExporter) post(ctx context.Context) error {
	if len(e.buffer) == 0 {
		return nil
	}
	body, err := json.Marshal(e.buffer)
	if err != nil {
		return errors.Wrap(err, "encoding journal batch")
	}

	ctx, cancel := context.WithTimeout(ctx, e.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "journal endpoint "+e.endpoint)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "posting journal batch")
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errors.Newf(errors.ErrCodeUnavailable, "journal endpoint returned %d", resp.StatusCode)
	}
	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// FileExporter appends one JSON line per event.
type FileExporter struct {
	mu   sync.Mutex
	seq  uint64
	file *os.File
	enc  *json.Encoder
}

func NewFileExporter(path string) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal file")
	}
	return &FileExporter{file: f, enc: json.NewEncoder(f)}, nil
}

// LogEvent writes the event immediately; encoding errors drop it.
func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.enc.Encode(Event{Seq: e.seq, Name: name, Timestamp: time.Now(), Data: data})
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	syncErr := e.Flush()
	if err := e.file.Close(); err != nil {
		return errors.Wrap(err, "closing journal file")
	}
	return syncErr
}

// NoopExporter discards all events.
type NoopExporter struct{}

func NewNoopExporter() *NoopExporter { return &NoopExporter{} }

func (NoopExporter) LogEvent(string, map[string]interface{}) {}
func (NoopExporter) Flush() error                            { return nil }
func (NoopExporter) Close() error                            { return nil }

// OnShutdown returns a post hook that flushes and closes exp. Exporters
// with a FlushContext method are flushed under the hook's context instead.
func OnShutdown(exp Exporter) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if fc, ok := exp.(interface{ FlushContext(context.Context) error }); ok {
			return fc.FlushContext(ctx)
		}
		return exp.Close()
	}
}
