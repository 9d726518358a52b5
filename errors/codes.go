package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: close timeouts, a server that is shutting down.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid input, unknown tool, duplicate hook name.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or busy resources.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: recovered panics, a fault inside the shutdown sequence.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Service temporarily unavailable
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR" // Network connectivity issue

	// Permanent errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"      // Resource does not exist
	ErrCodeConflict      ErrorCode = "CONFLICT"       // Conflicting operation or state
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"  // Malformed or invalid input
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS" // Resource already exists
	ErrCodeUnsupported   ErrorCode = "UNSUPPORTED"    // Operation not supported
	ErrCodeCanceled      ErrorCode = "CANCELED"       // Operation was canceled

	// Resource errors
	ErrCodeResourceBusy ErrorCode = "RESOURCE_BUSY" // Resource is busy/locked

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic

	// Shutdown and tool errors
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS" // A shutdown run already owns the coordinator
	ErrCodeHookFailed         ErrorCode = "HOOK_FAILED"          // A shutdown hook returned an error or panicked
	ErrCodeCloseFailed        ErrorCode = "CLOSE_FAILED"         // A tracked connection failed to close
	ErrCodeToolFailed         ErrorCode = "TOOL_FAILED"          // Tool invocation failed
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	// Transient
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr:
		return CategoryTransient

	// Permanent
	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput, ErrCodeAlreadyExists,
		ErrCodeUnsupported, ErrCodeCanceled:
		return CategoryPermanent

	// Resource
	case ErrCodeResourceBusy:
		return CategoryResource

	// Internal
	case ErrCodeInternal, ErrCodePanic:
		return CategoryInternal

	case ErrCodeShutdownInProgress, ErrCodeHookFailed, ErrCodeToolFailed:
		return CategoryPermanent
	case ErrCodeCloseFailed:
		return CategoryTransient

	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:            "operation timed out",
	ErrCodeUnavailable:        "service temporarily unavailable",
	ErrCodeNetworkErr:         "network connectivity error",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "conflicting operation",
	ErrCodeInvalidInput:       "invalid input provided",
	ErrCodeAlreadyExists:      "resource already exists",
	ErrCodeUnsupported:        "operation not supported",
	ErrCodeCanceled:           "operation canceled",
	ErrCodeResourceBusy:       "resource is busy",
	ErrCodeInternal:           "internal error",
	ErrCodePanic:              "recovered from panic",
	ErrCodeShutdownInProgress: "shutdown already in progress",
	ErrCodeHookFailed:         "shutdown hook failed",
	ErrCodeCloseFailed:        "connection close failed",
	ErrCodeToolFailed:         "tool invocation failed",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
