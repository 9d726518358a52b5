package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/vinayprograms/winsys-mcp/errors"
	"github.com/vinayprograms/winsys-mcp/logging"
)

// SignalTrap turns termination signals into a cooperative shutdown.
//
// The first signal marks the process as shutting down, cancels Context and
// calls every OnSignal hook in registration order. Hooks run on the trap's
// delivery goroutine and must only schedule work. A repeated signal while
// shutting down restores the signal's prior disposition and raises it again,
// so a stuck shutdown can still be killed.
type SignalTrap struct {
	signals []os.Signal
	logger  *logging.Logger
	raise   func(os.Signal) error

	mu        sync.Mutex
	hooks     ordered[func(os.Signal)]
	ignored   map[os.Signal]bool
	ch        chan os.Signal
	stop      chan struct{}
	installed bool
	ctx       context.Context
	cancel    context.CancelFunc

	wg       sync.WaitGroup
	shutting atomic.Bool
}

// TrapOption configures a SignalTrap.
type TrapOption func(*SignalTrap)

// WithSignals overrides the trapped signals.
func WithSignals(sigs ...os.Signal) TrapOption {
	return func(t *SignalTrap) {
		t.signals = sigs
	}
}

// WithTrapLogger sets the trap's logger.
func WithTrapLogger(l *logging.Logger) TrapOption {
	return func(t *SignalTrap) {
		t.logger = l.WithComponent("signal")
	}
}

// WithRaiser replaces the function that re-raises a repeated signal.
func WithRaiser(fn func(os.Signal) error) TrapOption {
	return func(t *SignalTrap) {
		t.raise = fn
	}
}

// NewSignalTrap creates a trap for the platform's termination signals.
func NewSignalTrap(opts ...TrapOption) *SignalTrap {
	t := &SignalTrap{
		signals: terminationSignals(),
		logger:  logging.New().WithComponent("signal"),
		raise:   raiseSignal,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// OnSignal registers a hook called on the first termination signal.
func (t *SignalTrap) OnSignal(name string, fn func(os.Signal)) error {
	if name == "" || fn == nil {
		return errors.InvalidInput("signal hook requires a name and a function")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hooks.add(name, fn) {
		return errors.Wrap(ErrDuplicateHook, "signal hook "+name, errors.WithComponent(name))
	}
	return nil
}

// Context returns the cooperative cancellation context. It is cancelled on
// the first termination signal.
func (t *SignalTrap) Context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// ShuttingDown reports whether a termination signal has been handled.
func (t *SignalTrap) ShuttingDown() bool {
	return t.shutting.Load()
}

// Install records the current disposition of each signal and starts
// delivering them to the trap. Installing an installed trap is a no-op.
func (t *SignalTrap) Install() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.installed {
		return
	}

	t.ignored = make(map[os.Signal]bool, len(t.signals))
	for _, sig := range deliverable(t.signals) {
		t.ignored[sig] = signal.Ignored(sig)
	}
	if t.ctx.Err() != nil {
		t.ctx, t.cancel = context.WithCancel(context.Background())
	}

	t.ch = make(chan os.Signal, 2)
	t.stop = make(chan struct{})
	if sigs := deliverable(t.signals); len(sigs) > 0 {
		signal.Notify(t.ch, sigs...)
	}
	t.installed = true

	t.wg.Add(1)
	go t.loop(t.ch, t.stop)
}

// Restore stops signal delivery to the trap and puts back the recorded
// dispositions. Other subscribers to the same signals keep theirs. A later
// Install starts a fresh cycle. Restore must not be called from an OnSignal
// hook.
func (t *SignalTrap) Restore() {
	t.mu.Lock()
	if !t.installed {
		t.mu.Unlock()
		return
	}
	if len(deliverable(t.signals)) > 0 {
		signal.Stop(t.ch)
	}
	for _, sig := range deliverable(t.signals) {
		if t.ignored[sig] {
			signal.Ignore(sig)
		}
	}
	close(t.stop)
	t.installed = false
	t.mu.Unlock()

	t.wg.Wait()
	t.shutting.Store(false)
}

func (t *SignalTrap) loop(ch <-chan os.Signal, stop <-chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case sig := <-ch:
			t.handle(sig)
		case <-stop:
			return
		}
	}
}

// handle processes one delivered signal.
func (t *SignalTrap) handle(sig os.Signal) {
	if !t.shutting.CompareAndSwap(false, true) {
		t.logger.Error("signal received during shutdown, terminating", map[string]interface{}{
			"signal": sig.String(),
		})
		t.mu.Lock()
		t.resetLocked(sig)
		t.mu.Unlock()
		if err := t.raise(sig); err != nil {
			t.logger.Error("re-raise failed", map[string]interface{}{
				"signal": sig.String(),
				"error":  err.Error(),
			})
		}
		return
	}

	t.logger.Info("termination signal received", map[string]interface{}{
		"signal": sig.String(),
	})

	t.mu.Lock()
	cancel := t.cancel
	var hooks []namedSignalHook
	t.hooks.each(func(name string, fn func(os.Signal)) {
		hooks = append(hooks, namedSignalHook{name: name, fn: fn})
	})
	t.mu.Unlock()

	cancel()
	for _, h := range hooks {
		t.invoke(h, sig)
	}
}

type namedSignalHook struct {
	name string
	fn   func(os.Signal)
}

func (t *SignalTrap) invoke(h namedSignalHook, sig os.Signal) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("signal hook panicked", map[string]interface{}{
				"hook":  h.name,
				"error": errors.RecoverPanic(r).Error(),
			})
		}
	}()
	h.fn(sig)
}

// resetLocked drops every handler for sig so a re-raise gets the
// disposition recorded at Install.
func (t *SignalTrap) resetLocked(sig os.Signal) {
	if _, ok := sig.(syscall.Signal); !ok {
		return
	}
	if t.ignored[sig] {
		signal.Ignore(sig)
		return
	}
	signal.Reset(sig)
}

// deliverable keeps the signals the runtime can deliver.
func deliverable(sigs []os.Signal) []os.Signal {
	out := make([]os.Signal, 0, len(sigs))
	for _, sig := range sigs {
		if _, ok := sig.(syscall.Signal); ok {
			out = append(out, sig)
		}
	}
	return out
}
