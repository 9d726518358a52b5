package bus

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// NATSBus implements MessageBus using NATS.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
	closed chan struct{}
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection. Also bounds Flush when the
	// caller's context has no deadline.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		Name:           "winsys-mcp",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "nats connect "+cfg.URL)
	}
	return NewNATSBusFromConn(conn, cfg), nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection. The
// bus takes over the connection's closed handler.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultNATSConfig().ConnectTimeout
	}

	b := &NATSBus{
		conn:   conn,
		config: cfg,
		closed: make(chan struct{}),
	}

	var once sync.Once
	conn.SetClosedHandler(func(*nats.Conn) {
		once.Do(func() { close(b.closed) })
	})
	if conn.IsClosed() {
		once.Do(func() { close(b.closed) })
	}
	return b
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// Publish sends a message to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() || b.conn.IsDraining() {
		return ErrClosed
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats publish "+subject)
	}
	return nil
}

// Subscribe creates a subscription to a subject.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	s := &natsSubscription{ch: make(chan *Message, b.config.BufferSize)}

	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		s.deliver(&Message{Subject: m.Subject, Data: m.Data})
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats subscribe "+subject)
	}
	s.sub = sub
	return s, nil
}

// Flush waits for the server to acknowledge everything published so far.
func (b *NATSBus) Flush(ctx context.Context) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}

	var err error
	if _, ok := ctx.Deadline(); ok {
		err = b.conn.FlushWithContext(ctx)
	} else {
		err = b.conn.FlushTimeout(b.config.ConnectTimeout)
	}
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats flush")
	}
	return nil
}

// Shutdown drains the connection: subscriptions stop, pending messages
// are processed and published data is flushed before the connection
// closes. If ctx ends first the connection is closed outright.
func (b *NATSBus) Shutdown(ctx context.Context) error {
	if b.conn.IsClosed() {
		return nil
	}

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats drain")
	}

	select {
	case <-b.closed:
		return nil
	case <-ctx.Done():
		b.conn.Close()
		return ctx.Err()
	}
}

// Close shuts down the NATS connection.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSubscription wraps a NATS subscription.
type natsSubscription struct {
	sub *nats.Subscription

	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

func (s *natsSubscription) deliver(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	return s.sub.Unsubscribe()
}
