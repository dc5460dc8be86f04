// Package gatewayerr defines the typed error taxonomy the gateway uses to
// decouple internal failure reasons from wire-level status codes. It
// replaces the exception-for-control-flow pattern the source system used
// for auth/rate-limit/breaker signaling with an explicit Kind.
package gatewayerr

import "fmt"

// Kind enumerates the error categories the orchestrator and its
// collaborators can produce. The HTTP layer maps each Kind to a status
// code; library packages never know about HTTP.
type Kind string

const (
	Validation           Kind = "validation_error"
	Unauthenticated       Kind = "unauthenticated"
	RateLimited           Kind = "rate_limited"
	DependencyUnavailable Kind = "dependency_unavailable"
	LLMUnavailable        Kind = "llm_unavailable"
	ShuttingDown          Kind = "shutting_down"
	AuthConfigError       Kind = "auth_config_error"
	Internal              Kind = "internal_error"
)

// Error wraps an underlying cause with a Kind and a human-readable,
// safe-to-display message. Error() renders the Kind, the Message and, when
// present, the underlying cause's text (which may carry details from a
// remote call); the HTTP error body built in internal/api carries only the
// Kind and the Message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ge *Error
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		ge = e
	} else {
		return false
	}
	return ge.Kind == kind
}

// KindOf extracts the Kind from err, defaulting to Internal for untyped
// errors so the HTTP layer always has a status to map to.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}
