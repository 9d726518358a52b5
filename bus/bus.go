package bus

import (
	"context"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// Common errors.
var (
	ErrClosed         = errors.Unavailable("bus closed")
	ErrInvalidSubject = errors.InvalidInput("invalid subject")
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte
}

// MessageBus provides pub/sub messaging for lifecycle events.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all messages.
	Subscribe(subject string) (Subscription, error)

	// Flush blocks until published messages have left the process or
	// ctx is done.
	Flush(ctx context.Context) error

	// Shutdown delivers what is pending and releases the connection,
	// bounded by ctx.
	Shutdown(ctx context.Context) error

	// Close shuts down the bus connection immediately.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks if a subject is valid.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	return nil
}
