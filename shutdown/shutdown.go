package shutdown

import (
	"context"
	"io"
	"time"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates a shutdown run already owns the coordinator.
	ErrAlreadyShutdown = errors.FromCode(errors.ErrCodeShutdownInProgress)

	// ErrDuplicateHook indicates a hook name is already registered in a phase.
	ErrDuplicateHook = errors.AlreadyExists("hook already registered")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.InvalidInput("invalid shutdown configuration")
)

// Reason is the cause of a shutdown. It is set exactly once per run.
type Reason int32

const (
	ReasonUnknown Reason = iota
	ReasonNormal
	ReasonSignal
	ReasonError
	ReasonTimeout
)

func (r Reason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonSignal:
		return "signal"
	case ReasonError:
		return "error"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Status is the coordinator lifecycle state.
// NotStarted -> InProgress -> {Completed, Forced, Failed}.
type Status int32

const (
	StatusNotStarted Status = iota
	StatusInProgress
	StatusCompleted
	StatusForced
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusForced:
		return "forced"
	case StatusFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Terminal reports whether s is one of the final states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusForced || s == StatusFailed
}

// ExitCode maps a terminal status to the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusForced:
		return 1
	case StatusFailed:
		return 2
	default:
		return 0
	}
}

// Phase identifies when a hook runs during shutdown.
type Phase int

const (
	PhasePre Phase = iota
	PhaseTransport
	PhasePost
)

func (p Phase) String() string {
	switch p {
	case PhasePre:
		return "pre"
	case PhaseTransport:
		return "transport"
	case PhasePost:
		return "post"
	default:
		return "unknown"
	}
}

// Hook is a callback invoked during one shutdown phase.
// Hooks run sequentially within their phase; a returned error is logged
// and does not stop the sequence.
type Hook func(ctx context.Context) error

// GracefulCloser is implemented by connections that can wind down
// cooperatively. Shutdown should return once the connection is closed or
// ctx is done.
type GracefulCloser interface {
	io.Closer
	Shutdown(ctx context.Context) error
}

// HandlerResult contains the result of a single hook or connection close.
type HandlerResult struct {
	// Name of the hook, or the connection id for closes.
	Name string

	// Phase the hook ran in. Closes report PhaseTransport with Close set.
	Phase Phase

	// Close is true for a tracked connection close.
	Close bool

	// Duration how long the hook took.
	Duration time.Duration

	// Err is any error returned by the hook, or a recovered panic.
	Err error
}

// ShutdownResult contains the complete shutdown result.
type ShutdownResult struct {
	Reason Reason
	Status Status

	// TotalDuration of the entire shutdown process.
	TotalDuration time.Duration

	// Results for each hook, in execution order.
	Results []HandlerResult

	// Closed lists connection ids whose close finished before the deadline.
	Closed []string

	// Pending lists connection ids still closing at the deadline.
	Pending []string

	// Err is the overall error (nil when Completed).
	Err error
}

// Failed returns true if the run did not complete cleanly.
func (r *ShutdownResult) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of hooks and connections that failed.
func (r *ShutdownResult) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Observer receives shutdown progress. The metrics package implements it.
type Observer interface {
	ShutdownStarted(reason Reason)
	HookFinished(result HandlerResult)
	ConnectionsClosed(closed, pending int, elapsed time.Duration)
	ShutdownFinished(status Status, elapsed time.Duration)
}

// Config configures the shutdown coordinator.
type Config struct {
	// DefaultTimeout bounds the connection close phase when Shutdown is
	// called without a timeout.
	// Default: 5 seconds
	DefaultTimeout time.Duration

	// SessionTimeout bounds the session notify/close join inside a
	// transport hook. It never escalates the overall status.
	// Default: 3 seconds
	SessionTimeout time.Duration

	// ForceExitAfter arms a watchdog on signal-initiated shutdown that
	// exits the process with code 1 if the run has not finished.
	// Default: WatchdogDelay(DefaultTimeout, SessionTimeout). Negative
	// disables the watchdog.
	ForceExitAfter time.Duration

	// OnProgress is called when each hook or close completes.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 || c.SessionTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 5 * time.Second,
		SessionTimeout: 3 * time.Second,
		ForceExitAfter: 8 * time.Second,
	}
}

// WatchdogDelay is the default force-exit delay for the given close and
// session timeouts: 1.5 x timeout, but never less than timeout+session, so
// a close phase followed by a full session join finishes first.
func WatchdogDelay(timeout, session time.Duration) time.Duration {
	return max(timeout*3/2, timeout+session)
}
