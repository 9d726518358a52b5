package shutdown

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/winsys-mcp/errors"
	"github.com/vinayprograms/winsys-mcp/logging"
	"github.com/vinayprograms/winsys-mcp/telemetry"
)

// Coordinator runs the shutdown sequence: Pre hooks, tracked connection
// close, Transport hooks, Post hooks. It runs at most once.
type Coordinator struct {
	config   Config
	hooks    *HookRegistry
	conns    *ConnectionTracker
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	observer Observer
	exit     func(code int)

	status atomic.Int32
	reason atomic.Int32
	done   chan struct{}

	mu       sync.Mutex
	result   *ShutdownResult
	err      error
	watchdog *time.Timer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for shutdown diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l.WithComponent("shutdown")
	}
}

// WithObserver sets a progress observer such as the metrics collector.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithTracer sets the tracer used for phase spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithExitFunc replaces os.Exit for Exit and the force-exit watchdog.
func WithExitFunc(fn func(code int)) Option {
	return func(c *Coordinator) {
		c.exit = fn
	}
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(config Config, opts ...Option) *Coordinator {
	defaults := DefaultConfig()
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = defaults.SessionTimeout
	}
	if config.ForceExitAfter == 0 {
		config.ForceExitAfter = WatchdogDelay(config.DefaultTimeout, config.SessionTimeout)
	}

	c := &Coordinator{
		config: config,
		hooks:  NewHookRegistry(),
		conns:  NewConnectionTracker(),
		logger: logging.New().WithComponent("shutdown"),
		tracer: telemetry.GetTracer(),
		exit:   os.Exit,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hooks returns the hook registry.
func (c *Coordinator) Hooks() *HookRegistry {
	return c.hooks
}

// Connections returns the connection tracker.
func (c *Coordinator) Connections() *ConnectionTracker {
	return c.conns
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.config
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *logging.Logger {
	return c.logger
}

// Status returns the current lifecycle state.
func (c *Coordinator) Status() Status {
	return Status(c.status.Load())
}

// Reason returns the recorded shutdown reason, ReasonUnknown before start.
func (c *Coordinator) Reason() Reason {
	return Reason(c.reason.Load())
}

// InProgress reports whether a shutdown has started.
func (c *Coordinator) InProgress() bool {
	return c.Status() != StatusNotStarted
}

// ExitCode returns the process exit code for the terminal status.
// It is 0 until shutdown resolves.
func (c *Coordinator) ExitCode() int {
	return c.Status().ExitCode()
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the run. Only valid after Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.err
	default:
		return nil
	}
}

// Result returns the detailed shutdown result.
// Only valid after Done() is closed.
func (c *Coordinator) Result() *ShutdownResult {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result
	default:
		return nil
	}
}

// Shutdown runs the shutdown sequence once. timeout bounds the connection
// close phase; zero or negative uses Config.DefaultTimeout.
//
// It returns true when the run Completed. A second call while a run is in
// progress, or after it finished, returns false and ErrAlreadyShutdown
// without running any hook. A close timeout yields Forced and an error
// with code TIMEOUT; any other fault yields Failed and the wrapped fault.
func (c *Coordinator) Shutdown(ctx context.Context, reason Reason, timeout time.Duration) (completed bool, err error) {
	if !c.status.CompareAndSwap(int32(StatusNotStarted), int32(StatusInProgress)) {
		c.logger.Error("shutdown already in progress", map[string]interface{}{
			"status": c.Status().String(),
			"reason": reason.String(),
		})
		return false, ErrAlreadyShutdown
	}
	c.reason.Store(int32(reason))

	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}

	start := time.Now()
	result := &ShutdownResult{Reason: reason}
	c.logger.ShutdownStart(reason.String(), timeout)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(errors.RecoverPanic(r), "shutdown sequence")
		}
		completed = err == nil
		c.finish(result, start, err)
	}()

	if c.observer != nil {
		c.observer.ShutdownStarted(reason)
	}

	ctx, span := c.tracer.StartShutdownSpan(ctx, reason.String(), timeout)
	defer func() { c.tracer.EndShutdownSpan(span, err) }()

	return true, c.run(ctx, result, timeout)
}

// run executes the phases in order. Hook failures are recorded and do not
// stop the sequence. Once the Pre phase has run, the Transport and Post
// phases always run; if ctx ended they get a detached context and the run
// still ends Forced (deadline) or Failed (cancellation).
func (c *Coordinator) run(ctx context.Context, result *ShutdownResult, timeout time.Duration) error {
	if err := c.runPhase(ctx, PhasePre, result); err != nil {
		return err
	}

	closeErr := c.closeConnections(ctx, timeout, result)

	hookCtx := ctx
	if ctx.Err() != nil {
		hookCtx = context.WithoutCancel(ctx)
	}
	c.runPhase(hookCtx, PhaseTransport, result)
	c.runPhase(hookCtx, PhasePost, result)

	if closeErr != nil {
		return closeErr
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "shutdown sequence interrupted")
	}
	return nil
}

// runPhase runs every hook of phase sequentially in registration order.
// It returns an error only when ctx ended before the phase could start.
func (c *Coordinator) runPhase(ctx context.Context, phase Phase, result *ShutdownResult) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "shutdown "+phase.String()+" phase")
	}

	hooks := c.hooks.Each(phase)
	if len(hooks) == 0 {
		return nil
	}

	ctx, span := c.tracer.StartPhaseSpan(ctx, phase.String(), len(hooks))
	failed := 0
	for _, h := range hooks {
		hr := c.runHook(ctx, h)
		if hr.Err != nil {
			failed++
		}
		c.record(result, hr)
	}
	c.tracer.EndPhaseSpan(span, failed)
	return nil
}

// runHook invokes one hook, converting a panic into a hook failure.
func (c *Coordinator) runHook(ctx context.Context, h NamedHook) (hr HandlerResult) {
	hr = HandlerResult{Name: h.Name, Phase: h.Phase}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			hr.Err = errors.HookFailed(h.Name, errors.RecoverPanic(r))
		}
		hr.Duration = time.Since(start)
		c.logger.HookResult(h.Phase.String(), h.Name, hr.Duration, hr.Err)
	}()

	if err := h.Fn(ctx); err != nil {
		hr.Err = errors.HookFailed(h.Name, err)
	}
	return hr
}

// record appends hr to the result and reports progress.
func (c *Coordinator) record(result *ShutdownResult, hr HandlerResult) {
	result.Results = append(result.Results, hr)
	if c.observer != nil {
		c.observer.HookFinished(hr)
	}
	if c.config.OnProgress != nil {
		c.config.OnProgress(hr)
	}
}

// finish sets the terminal status exactly once and releases waiters.
func (c *Coordinator) finish(result *ShutdownResult, start time.Time, err error) {
	status := StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrCodeTimeout):
		status = StatusForced
	default:
		status = StatusFailed
	}

	result.Status = status
	result.Err = err
	result.TotalDuration = time.Since(start)

	c.mu.Lock()
	c.result = result
	c.err = err
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.mu.Unlock()

	c.status.Store(int32(status))

	fields := map[string]interface{}{}
	if err != nil {
		fields["error"] = err.Error()
		c.logger.Error("shutdown ended abnormally", fields)
	}
	c.logger.ShutdownComplete(status.String(), result.TotalDuration, status.ExitCode())
	if c.observer != nil {
		c.observer.ShutdownFinished(status, result.TotalDuration)
	}
	close(c.done)
}

// SignalHook returns the callback for SignalTrap.OnSignal. It schedules the
// shutdown run on its own goroutine and arms the force-exit watchdog; it
// never blocks.
func (c *Coordinator) SignalHook() func(os.Signal) {
	return func(sig os.Signal) {
		c.logger.Info("shutdown requested by signal", map[string]interface{}{
			"signal": sig.String(),
		})
		c.armWatchdog()
		go func() {
			_, _ = c.Shutdown(context.Background(), ReasonSignal, 0)
		}()
	}
}

// armWatchdog exits with code 1 if the run has not finished in time.
func (c *Coordinator) armWatchdog() {
	if c.config.ForceExitAfter < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog != nil {
		return
	}
	c.watchdog = time.AfterFunc(c.config.ForceExitAfter, func() {
		select {
		case <-c.done:
			return
		default:
		}
		c.logger.Error("forcing exit after shutdown timeout", map[string]interface{}{
			"after": c.config.ForceExitAfter.String(),
		})
		c.exit(StatusForced.ExitCode())
	})
}

// Exit terminates the process with ExitCode.
func (c *Coordinator) Exit() {
	c.exit(c.ExitCode())
}
