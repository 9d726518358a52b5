//go:build !unix

package shutdown

import (
	"os"
	"syscall"
)

func terminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// raiseSignal has no self-signal primitive here; exit the way the default
// handler would.
func raiseSignal(sig os.Signal) error {
	code := 1
	if s, ok := sig.(syscall.Signal); ok {
		code = 128 + int(s)
	}
	os.Exit(code)
	return nil
}
