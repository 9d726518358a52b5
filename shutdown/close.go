package shutdown

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/winsys-mcp/errors"
)

type closeOutcome struct {
	id       string
	err      error
	duration time.Duration
}

// closeConnections closes every tracked connection concurrently and waits
// for all of them under one deadline. All closes are issued before any is
// awaited. Connections still closing at the deadline are reported and their
// context is cancelled; the returned error then has code TIMEOUT.
func (c *Coordinator) closeConnections(ctx context.Context, timeout time.Duration, result *ShutdownResult) error {
	snap := c.conns.Snapshot()
	if len(snap) == 0 {
		return nil
	}

	start := time.Now()
	closeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := c.tracer.StartPhaseSpan(closeCtx, "close", len(snap))

	pending := make(map[string]struct{}, len(snap))
	outcomes := make(chan closeOutcome, len(snap))
	for id, conn := range snap {
		pending[id] = struct{}{}
		go func(id string, conn io.Closer) {
			begin := time.Now()
			err := closeOne(ctx, conn)
			outcomes <- closeOutcome{id: id, err: err, duration: time.Since(begin)}
		}(id, conn)
	}

	failed := 0
	for len(pending) > 0 {
		select {
		case o := <-outcomes:
			delete(pending, o.id)
			c.conns.Remove(o.id)
			result.Closed = append(result.Closed, o.id)

			hr := HandlerResult{Name: o.id, Phase: PhaseTransport, Close: true, Duration: o.duration}
			if o.err != nil {
				failed++
				ce := errors.CloseFailed(o.id, o.err)
				hr.Err = ce
				c.logger.Warn("connection close failed", map[string]interface{}{
					"conn":      ce.ConnID(),
					"code":      ce.Code().String(),
					"retryable": ce.Retryable(),
					"error":     o.err.Error(),
				})
			}
			c.record(result, hr)

		case <-closeCtx.Done():
			cancel()
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			result.Pending = ids

			c.logger.CloseTimeout(ids)
			c.tracer.EndPhaseSpan(span, failed+len(ids))
			if c.observer != nil {
				c.observer.ConnectionsClosed(len(result.Closed), len(ids), time.Since(start))
			}

			if closeCtx.Err() == context.DeadlineExceeded {
				return errors.Timeout("connection close deadline exceeded",
					errors.WithMetadata("pending", strings.Join(ids, ",")),
					errors.WithMetadata("timeout", timeout.String()))
			}
			return errors.Wrap(closeCtx.Err(), "connection close interrupted",
				errors.WithMetadata("pending", strings.Join(ids, ",")))
		}
	}

	c.tracer.EndPhaseSpan(span, failed)
	if c.observer != nil {
		c.observer.ConnectionsClosed(len(result.Closed), 0, time.Since(start))
	}
	return nil
}

// closeOne prefers a graceful shutdown and converts a panic into an error.
func closeOne(ctx context.Context, conn io.Closer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	if gc, ok := conn.(GracefulCloser); ok {
		return gc.Shutdown(ctx)
	}
	return conn.Close()
}
