package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
)

// maxLineSize bounds a single newline-delimited message.
const maxLineSize = 1024 * 1024

// StdioTransport implements Transport over stdin/stdout.
type StdioTransport struct {
	reader io.Reader
	writer io.Writer
	config Config

	recv  chan *InboundMessage
	send  chan *OutboundMessage
	flush chan chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
	running bool
	writeWG sync.WaitGroup
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(r io.Reader, w io.Writer, cfg Config) *StdioTransport {
	cfg = cfg.withDefaults()

	return &StdioTransport{
		reader: r,
		writer: w,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		flush:  make(chan chan struct{}),
		done:   make(chan struct{}),
	}
}

// Reader returns the input stream.
func (t *StdioTransport) Reader() io.Reader { return t.reader }

// Writer returns the output stream.
func (t *StdioTransport) Writer() io.Writer { return t.writer }

// Recv returns the channel for incoming messages.
func (t *StdioTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *StdioTransport) Send(msg *OutboundMessage) error {
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

// Run starts the transport. It returns nil when the input reaches EOF or
// the transport is closed, and ctx.Err() when ctx is cancelled. A reader
// blocked in Read is not waited for.
func (t *StdioTransport) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.running = true
	t.writeWG.Add(1)
	t.mu.Unlock()

	eof := make(chan struct{})

	go func() {
		defer close(eof)
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
	case <-eof:
		// Peer is gone; keep the writer alive until Close so that
		// in-flight responses and shutdown output still get written.
		return nil
	}
}

// Shutdown writes everything still queued, bounded by ctx, then closes
// the transport.
func (t *StdioTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	running := t.running && !t.closed
	t.mu.Unlock()

	if running {
		ack := make(chan struct{})
		select {
		case t.flush <- ack:
			select {
			case <-ack:
			case <-ctx.Done():
				t.Close()
				return ctx.Err()
			}
		case <-t.done:
		case <-ctx.Done():
			t.Close()
			return ctx.Err()
		}
	}

	t.Close()
	if !running {
		t.drainSendQueue()
	}

	// The writer drains once more on close; wait for it within ctx.
	exited := make(chan struct{})
	go func() {
		t.writeWG.Wait()
		close(exited)
	}()
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close initiates graceful shutdown.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	return nil
}

// readLoop reads from input and sends to recv channel.
func (t *StdioTransport) readLoop(ctx context.Context) {
	defer close(t.recv)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Scanner reuses its buffer.
		data := make([]byte, len(line))
		copy(data, line)

		msg, err := ParseInbound(data)
		if err != nil {
			t.sendParseError(data, err)
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

// writeLoop reads from send channel and writes to output.
func (t *StdioTransport) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.drainSendQueue()
			return
		case <-t.done:
			t.drainSendQueue()
			return
		case ack := <-t.flush:
			t.drainSendQueue()
			close(ack)
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

// drainSendQueue writes any remaining messages in the send queue.
func (t *StdioTransport) drainSendQueue() {
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
func (t *StdioTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}

	t.writeMu.Lock()
	t.writer.Write(append(data, '\n'))
	t.writeMu.Unlock()
}

// sendParseError sends an error response for parse failures.
func (t *StdioTransport) sendParseError(raw []byte, parseErr error) {
	var partial struct {
		ID interface{} `json:"id"`
	}
	json.Unmarshal(raw, &partial)

	rpcErr, ok := parseErr.(*Error)
	if !ok {
		rpcErr = &Error{Code: ParseError, Message: "Parse error", Data: parseErr.Error()}
	}

	t.Send(NewError(partial.ID, rpcErr))
}
