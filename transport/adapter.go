package transport

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/winsys-mcp/errors"
	"github.com/vinayprograms/winsys-mcp/logging"
	"github.com/vinayprograms/winsys-mcp/shutdown"
)

// Adapter names registered as transport-phase hooks.
const (
	NameStdio     = "stdio"
	NameSSE       = "sse"
	NameWebSocket = "ws"
)

// DefaultSessionTimeout bounds the collective session close.
const DefaultSessionTimeout = 3 * time.Second

// Callback is run by an adapter before it releases its resources.
type Callback func(ctx context.Context) error

type namedCallback struct {
	name string
	fn   Callback
}

// Adapter holds what every transport adapter shares: a name and an
// ordered list of cleanup callbacks.
type Adapter struct {
	name   string
	logger *logging.Logger

	mu        sync.Mutex
	callbacks []namedCallback
}

func newAdapter(name string, logger *logging.Logger) Adapter {
	if logger == nil {
		logger = logging.New()
	}
	return Adapter{name: name, logger: logger.WithComponent("transport." + name)}
}

// Name returns the transport name.
func (a *Adapter) Name() string { return a.name }

// RegisterCallback adds a cleanup callback. Names are unique per adapter.
func (a *Adapter) RegisterCallback(name string, fn Callback) error {
	if name == "" || fn == nil {
		return errors.InvalidInput("callback needs a name and a function", errors.WithComponent(a.name))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, cb := range a.callbacks {
		if cb.name == name {
			return errors.AlreadyExists("callback "+name+" already registered", errors.WithComponent(a.name))
		}
	}
	a.callbacks = append(a.callbacks, namedCallback{name: name, fn: fn})
	return nil
}

// runCallbacks runs every callback in order. Failures are logged only.
func (a *Adapter) runCallbacks(ctx context.Context) {
	a.mu.Lock()
	callbacks := make([]namedCallback, len(a.callbacks))
	copy(callbacks, a.callbacks)
	a.mu.Unlock()

	for _, cb := range callbacks {
		if err := runCallback(ctx, cb.fn); err != nil {
			a.logger.Error("callback_failed", map[string]interface{}{
				"callback": cb.name,
				"error":    err,
			})
		}
	}
}

func runCallback(ctx context.Context, fn Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return fn(ctx)
}

// StreamAdapter cleans up a stream transport such as stdio.
type StreamAdapter struct {
	Adapter

	streamMu sync.Mutex
	reader   any
	writer   any
}

// NewStreamAdapter creates an adapter for the named stream transport.
func NewStreamAdapter(name string, logger *logging.Logger) *StreamAdapter {
	return &StreamAdapter{Adapter: newAdapter(name, logger)}
}

// SetStreams records the streams to close on shutdown. Streams that are
// neither io.Closer nor shutdown.GracefulCloser are left alone.
func (a *StreamAdapter) SetStreams(reader, writer any) {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	a.reader = reader
	a.writer = writer
}

// Register adds the adapter as a transport-phase hook under its name.
func (a *StreamAdapter) Register(reg *shutdown.HookRegistry) error {
	return reg.RegisterTransport(a.name, a.HandleShutdown)
}

// HandleShutdown runs the callbacks, then closes the write stream and
// the read stream. Close errors are logged at debug and never returned.
func (a *StreamAdapter) HandleShutdown(ctx context.Context) error {
	a.runCallbacks(ctx)

	a.streamMu.Lock()
	reader, writer := a.reader, a.writer
	a.streamMu.Unlock()

	a.closeStream(ctx, "writer", writer)
	a.closeStream(ctx, "reader", reader)
	return nil
}

func (a *StreamAdapter) closeStream(ctx context.Context, which string, stream any) {
	var err error
	switch s := stream.(type) {
	case nil:
		return
	case interface{ Shutdown(context.Context) error }:
		err = s.Shutdown(ctx)
	case io.Closer:
		err = s.Close()
	default:
		return
	}
	if err != nil {
		a.logger.Debug("stream_close_failed", map[string]interface{}{
			"stream": which,
			"error":  err,
		})
	}
}

// SessionAdapter cleans up a multi-session transport such as SSE or
// WebSocket.
type SessionAdapter struct {
	Adapter
	timeout time.Duration

	sessMu   sync.Mutex
	sessions map[string]io.Closer
}

// NewSessionAdapter creates an adapter for the named session transport.
// A timeout <= 0 uses DefaultSessionTimeout.
func NewSessionAdapter(name string, timeout time.Duration, logger *logging.Logger) *SessionAdapter {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionAdapter{
		Adapter:  newAdapter(name, logger),
		timeout:  timeout,
		sessions: make(map[string]io.Closer),
	}
}

// Timeout returns the collective session close bound.
func (a *SessionAdapter) Timeout() time.Duration { return a.timeout }

// RegisterSession tracks a live session. An existing id is replaced.
func (a *SessionAdapter) RegisterSession(id string, s io.Closer) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	a.sessions[id] = s
}

// RemoveSession stops tracking a session. Unknown ids are ignored.
func (a *SessionAdapter) RemoveSession(id string) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	delete(a.sessions, id)
}

// Sessions returns the tracked session ids, sorted.
func (a *SessionAdapter) Sessions() []string {
	a.sessMu.Lock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.sessMu.Unlock()

	sort.Strings(ids)
	return ids
}

// Register adds the adapter as a transport-phase hook under its name.
func (a *SessionAdapter) Register(reg *shutdown.HookRegistry) error {
	return reg.RegisterTransport(a.name, a.HandleShutdown)
}

// HandleShutdown runs the callbacks, then notifies and closes every
// session concurrently. All sessions share one timeout; running past it
// is logged and does not fail the hook.
func (a *SessionAdapter) HandleShutdown(ctx context.Context) error {
	a.runCallbacks(ctx)

	a.sessMu.Lock()
	sessions := make(map[string]io.Closer, len(a.sessions))
	for id, s := range a.sessions {
		sessions[id] = s
	}
	a.sessMu.Unlock()

	if len(sessions) == 0 {
		return nil
	}

	closeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for id, s := range sessions {
		wg.Add(1)
		go func(id string, s io.Closer) {
			defer wg.Done()
			a.closeSession(closeCtx, id, s)
		}(id, s)
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-closeCtx.Done():
		a.logger.Warn("session_close_timeout", map[string]interface{}{
			"sessions": len(sessions),
			"timeout":  a.timeout,
		})
	}
	return nil
}

func (a *SessionAdapter) closeSession(ctx context.Context, id string, s io.Closer) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("session_close_panic", map[string]interface{}{
				"session": id,
				"error":   errors.RecoverPanic(r),
			})
		}
	}()

	if n, ok := s.(CloseNotifier); ok {
		if err := n.NotifyClose(ctx); err != nil {
			a.logger.Debug("session_notify_failed", map[string]interface{}{
				"session": id,
				"error":   err,
			})
		}
	}

	if err := s.Close(); err != nil {
		a.logger.Debug("session_close_failed", map[string]interface{}{
			"session": id,
			"error":   err,
		})
	}
	a.RemoveSession(id)
}
