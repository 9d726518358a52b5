package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process MessageBus. It is the default when no NATS
// URL is configured: lifecycle announcements still flow to in-process
// subscribers such as tests and the status tool.
type MemoryBus struct {
	bufferSize int

	mu     sync.Mutex
	closed bool
	subs   map[string]map[*memorySub]struct{}
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	ch      chan *Message
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		bufferSize: cfg.BufferSize,
		subs:       make(map[string]map[*memorySub]struct{}),
	}
}

// Publish delivers data to every subscriber of subject. A subscriber whose
// buffer is full misses the message; Publish never blocks.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	msg := &Message{Subject: subject, Data: data}
	for sub := range b.subs[subject] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{bus: b, subject: subject, ch: make(chan *Message, b.bufferSize)}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]struct{})
	}
	b.subs[subject][sub] = struct{}{}
	return sub, nil
}

// Flush returns at once; Publish hands messages over synchronously.
func (b *MemoryBus) Flush(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (b *MemoryBus) Shutdown(ctx context.Context) error {
	return b.Close()
}

// Close ends every subscription. Later calls are no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	b.subs = nil
	return nil
}

func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe closes the channel. It is safe to call more than once and
// after the bus is closed.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	set, ok := s.bus.subs[s.subject]
	if !ok {
		return nil
	}
	if _, ok := set[s]; !ok {
		return nil
	}
	delete(set, s)
	if len(set) == 0 {
		delete(s.bus.subs, s.subject)
	}
	close(s.ch)
	return nil
}
