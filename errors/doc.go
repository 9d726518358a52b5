// Package errors provides the structured error taxonomy used by winsys-mcp.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (close timeouts, etc.)
//   - Permanent: Failures where retry will not help (unknown tool, duplicate hook, etc.)
//   - Resource: Busy or exhausted resources
//   - Internal: Unexpected errors indicating bugs or recovered panics
//
// # Shutdown taxonomy
//
// The shutdown coordinator reports its outcomes with these codes:
//
//   - SHUTDOWN_IN_PROGRESS: a second trigger while a run owns the coordinator
//   - HOOK_FAILED: a hook returned an error or panicked (logged, never fatal)
//   - TIMEOUT: connection closes still pending at the deadline (status Forced)
//   - INTERNAL, PANIC, CANCELED: a fault escaped the sequence (status Failed)
//
// # Usage
//
//	err := errors.New(errors.ErrCodeTimeout, "closes pending")
//	wrapped := errors.Wrap(err, "closing connections")
//	if errors.Is(wrapped, errors.ErrCodeTimeout) {
//	    // forced shutdown
//	}
//
// All errors support JSON serialization so they can ride in the data member
// of a JSON-RPC error response.
package errors
