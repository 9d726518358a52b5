//go:build unix

package shutdown

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func terminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// raiseSignal delivers sig to the current process.
func raiseSignal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return unix.Kill(unix.Getpid(), unix.SIGTERM)
	}
	return unix.Kill(unix.Getpid(), s)
}
