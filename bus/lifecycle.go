package bus

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/vinayprograms/winsys-mcp/errors"
	"github.com/vinayprograms/winsys-mcp/logging"
	"github.com/vinayprograms/winsys-mcp/shutdown"
	"github.com/vinayprograms/winsys-mcp/telemetry"
)

// Lifecycle subjects.
const (
	// SubjectShutdown carries the announcement that a shutdown started.
	SubjectShutdown = "winsys.lifecycle.shutdown"

	// SubjectShutdownRequest asks a running server to shut down.
	SubjectShutdownRequest = "winsys.control.shutdown"
)

// Event is the payload published on the lifecycle subject.
type Event struct {
	Type      string    `json:"type"`
	Service   string    `json:"service"`
	PID       int       `json:"pid"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`

	// Trace carries the W3C trace context of the shutdown run.
	Trace map[string]string `json:"trace,omitempty"`
}

// Announcer publishes lifecycle events for one service instance.
type Announcer struct {
	bus     MessageBus
	subject string
	service string
	logger  *logging.Logger
}

// NewAnnouncer creates an announcer publishing on subject. An empty
// subject uses SubjectShutdown.
func NewAnnouncer(b MessageBus, subject string, logger *logging.Logger) *Announcer {
	if subject == "" {
		subject = SubjectShutdown
	}
	if logger == nil {
		logger = logging.New()
	}
	return &Announcer{
		bus:     b,
		subject: subject,
		service: "winsys-mcp",
		logger:  logger.WithComponent("bus"),
	}
}

// Subject returns the announcement subject.
func (a *Announcer) Subject() string { return a.subject }

// Announce publishes a shutdown event and flushes it within ctx.
func (a *Announcer) Announce(ctx context.Context, reason shutdown.Reason) error {
	ev := Event{
		Type:      "shutdown",
		Service:   a.service,
		PID:       os.Getpid(),
		Reason:    reason.String(),
		Timestamp: time.Now().UTC(),
	}
	carrier := propagation.MapCarrier{}
	telemetry.InjectContext(ctx, carrier)
	if len(carrier) > 0 {
		ev.Trace = carrier
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encoding lifecycle event")
	}

	if err := a.bus.Publish(a.subject, data); err != nil {
		return err
	}
	if err := a.bus.Flush(ctx); err != nil {
		return err
	}

	a.logger.Info("shutdown_announced", map[string]interface{}{
		"subject": a.subject,
		"reason":  reason.String(),
	})
	return nil
}

// Hook returns a pre-shutdown hook announcing the coordinator's reason.
func (a *Announcer) Hook(coord *shutdown.Coordinator) shutdown.Hook {
	return func(ctx context.Context) error {
		return a.Announce(ctx, coord.Reason())
	}
}

// WatchShutdownRequests calls trigger once for the first message on
// subject, then stops watching. It returns when that happens, when ctx
// is done, or when the bus closes.
func WatchShutdownRequests(ctx context.Context, b MessageBus, subject string, trigger func()) error {
	if subject == "" {
		subject = SubjectShutdownRequest
	}

	sub, err := b.Subscribe(subject)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	select {
	case _, ok := <-sub.Messages():
		if ok {
			trigger()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
