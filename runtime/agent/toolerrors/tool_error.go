// Package toolerrors provides structured error types for tool invocation
// failures. A ToolError carries a coarse Kind the dispatch loop uses to tag
// error tool results, and preserves its cause chain for errors.Is/As.
package toolerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a tool failure.
type Kind string

const (
	// KindInvalidArgument marks arguments that failed decoding or validation.
	KindInvalidArgument Kind = "invalid_argument"
	// KindUnknownTool marks a call naming a tool outside the closed set.
	KindUnknownTool Kind = "unknown_tool"
	// KindTimeout marks a call that exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindInternal marks any other failure, including recovered panics.
	KindInternal Kind = "internal"
)

// ToolError represents a structured tool failure.
type ToolError struct {
	// Kind is the failure classification.
	Kind Kind
	// Message is the human-readable summary sent back to the model.
	Message string
	// Cause links to the underlying error.
	Cause *ToolError
}

// New constructs a ToolError of the given kind.
func New(kind Kind, message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Kind: kind, Message: message}
}

// InvalidArgument returns a KindInvalidArgument error.
func InvalidArgument(format string, args ...any) *ToolError {
	return New(KindInvalidArgument, fmt.Sprintf(format, args...))
}

// UnknownTool returns a KindUnknownTool error listing the available tools.
func UnknownTool(name string, available []string) *ToolError {
	return New(KindUnknownTool, fmt.Sprintf("unknown tool %q; available: %s", name, strings.Join(available, ", ")))
}

// Timeout returns a KindTimeout error for a tool that ran longer than d.
func Timeout(name string, d time.Duration) *ToolError {
	return New(KindTimeout, fmt.Sprintf("tool %q timed out after %s", name, d))
}

// Aborted returns an error for a tool call cut short by its caller. A
// deadline yields KindTimeout and cancellation yields KindInternal.
func Aborted(name string, cause error) *ToolError {
	kind, reason := KindInternal, "run canceled"
	if errors.Is(cause, context.DeadlineExceeded) {
		kind, reason = KindTimeout, "run timed out"
	}
	te := New(kind, fmt.Sprintf("tool %q aborted: %s", name, reason))
	te.Cause = FromError(cause)
	return te
}

// Internal wraps cause in a KindInternal error.
func Internal(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	te := New(KindInternal, message)
	te.Cause = FromError(cause)
	return te
}

// FromError converts an arbitrary error into a ToolError chain. Existing
// ToolErrors are returned unchanged; other errors become KindInternal.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Kind:    KindInternal,
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// KindOf returns the kind of the first ToolError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var te *ToolError
	if errors.As(err, &te) && te.Kind != "" {
		return te.Kind
	}
	return KindInternal
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
