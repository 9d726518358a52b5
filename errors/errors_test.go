package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// ============================================================================
// 1. Error creation with different codes/categories
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		message      string
		wantCategory ErrorCategory
	}{
		{"timeout", ErrCodeTimeout, "close timed out", CategoryTransient},
		{"not_found", ErrCodeNotFound, "tool not found", CategoryPermanent},
		{"busy", ErrCodeResourceBusy, "window locked", CategoryResource},
		{"internal", ErrCodeInternal, "internal error", CategoryInternal},
		{"hook_failed", ErrCodeHookFailed, "hook failed", CategoryPermanent},
		{"close_failed", ErrCodeCloseFailed, "close failed", CategoryTransient},
		{"in_progress", ErrCodeShutdownInProgress, "shutdown running", CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Error() != tt.message {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.message)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeShutdownInProgress)
	if err.Error() != "shutdown already in progress" {
		t.Errorf("Error() = %q", err.Error())
	}
}

// ============================================================================
// 2. Retry semantics and metadata
// ============================================================================

func TestMetadataImmutability(t *testing.T) {
	err := New(ErrCodeInternal, "x", WithMetadata("phase", "pre"))
	md := err.Metadata()
	md["phase"] = "post"
	if err.Metadata()["phase"] != "pre" {
		t.Error("Metadata() must return a copy")
	}
}

// ============================================================================
// 3. Wrapping
// ============================================================================

func TestWrapPreservesCode(t *testing.T) {
	inner := HookFailed("save-state", fmt.Errorf("disk full"))
	wrapped := Wrap(inner, "pre phase")
	if wrapped.Code() != ErrCodeHookFailed {
		t.Errorf("Code() = %v, want %v", wrapped.Code(), ErrCodeHookFailed)
	}
	if wrapped.Component() != "save-state" {
		t.Errorf("Component() = %q", wrapped.Component())
	}
	if !errors.Is(wrapped, inner) {
		t.Error("wrapped error should unwrap to inner")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithCode(nil, ErrCodeTimeout, "x") != nil {
		t.Error("WrapWithCode(nil) should return nil")
	}
}

func TestWrapContextErrors(t *testing.T) {
	if got := Wrap(context.DeadlineExceeded, "closing").Code(); got != ErrCodeTimeout {
		t.Errorf("deadline code = %v", got)
	}
	if got := Wrap(context.Canceled, "closing").Code(); got != ErrCodeCanceled {
		t.Errorf("canceled code = %v", got)
	}
	if got := Wrap(fmt.Errorf("boom"), "closing").Code(); got != ErrCodeInternal {
		t.Errorf("plain code = %v", got)
	}
}

func TestIsAndCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", CloseFailed("conn-1", fmt.Errorf("reset")))
	if !Is(err, ErrCodeCloseFailed) {
		t.Error("Is should find code through fmt wrapping")
	}
	if Code(err) != ErrCodeCloseFailed {
		t.Errorf("Code() = %v", Code(err))
	}
	if Is(fmt.Errorf("plain"), ErrCodeCloseFailed) {
		t.Error("plain errors carry no code")
	}
	svc := AsServiceError(err)
	if svc == nil {
		t.Fatal("AsServiceError should find the structured error")
	}
	if id := svc.(*Error).ConnID(); id != "conn-1" {
		t.Errorf("ConnID() = %q", id)
	}
	if svc.Category() != CategoryTransient || !svc.Retryable() {
		t.Error("close failures are transient and retryable")
	}
}

// ============================================================================
// 4. JSON
// ============================================================================

func TestJSONRoundtrip(t *testing.T) {
	orig := ToolFailed("window_list", fmt.Errorf("access denied"), WithMetadata("args", "{}"))
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Error
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Code() != ErrCodeToolFailed || got.Component() != "window_list" {
		t.Errorf("got code=%v component=%q", got.Code(), got.Component())
	}
	if got.Unwrap() == nil || got.Unwrap().Error() != "access denied" {
		t.Errorf("cause = %v", got.Unwrap())
	}
	if got.Metadata()["args"] != "{}" {
		t.Errorf("metadata = %v", got.Metadata())
	}
}

// ============================================================================
// 5. Panic recovery
// ============================================================================

func TestRecoverPanic(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{fmt.Errorf("err value"), "err value"},
		{"string value", "string value"},
		{42, "42"},
	}
	for _, tt := range tests {
		err := RecoverPanic(tt.value)
		if err.Code() != ErrCodePanic {
			t.Errorf("Code() = %v", err.Code())
		}
		if err.Error() != tt.want {
			t.Errorf("Error() = %q, want %q", err.Error(), tt.want)
		}
	}
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should be nil")
	}
}

func TestRecoverPanicIntegration(t *testing.T) {
	run := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = RecoverPanic(r)
			}
		}()
		panic("hook exploded")
	}
	err := run()
	if !Is(err, ErrCodePanic) {
		t.Fatalf("expected panic error, got %v", err)
	}
}
