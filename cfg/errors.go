package cfg

import "fmt"

// ErrorKind enumerates the error codes carried by ERROR/LOCAL_ERROR/
// GLOBAL_ERROR action messages (spec §7). These are codes, not Go error
// types; they travel in the action message's int32 MessageID field.
type ErrorKind uint8

const (
	ErrNone ErrorKind = iota
	ErrInvalidArgument
	ErrInvalidFunctionCall
	ErrInvalidIdentifier
	ErrInvalidStateTransition
	ErrConnectionFailure
	ErrRegistrationFailure
	ErrSystemFailure
	ErrExecutionFailure
	ErrDiscardedInput
	ErrInsufficientSpace
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "none"
	case ErrInvalidArgument:
		return "invalid-argument"
	case ErrInvalidFunctionCall:
		return "invalid-function-call"
	case ErrInvalidIdentifier:
		return "invalid-identifier"
	case ErrInvalidStateTransition:
		return "invalid-state-transition"
	case ErrConnectionFailure:
		return "connection-failure"
	case ErrRegistrationFailure:
		return "registration-failure"
	case ErrSystemFailure:
		return "system-failure"
	case ErrExecutionFailure:
		return "execution-failure"
	case ErrDiscardedInput:
		return "discarded-input"
	case ErrInsufficientSpace:
		return "insufficient-space"
	default:
		return "unknown-error"
	}
}

// CoreError is the Go error type carried out of synchronous API calls
// (registration failures, query failures) and wrapped into ERROR action
// messages for the wire.
type CoreError struct {
	Kind    ErrorKind
	Message string
	// Global marks an error that must propagate to the entire federation
	// (spec §7: "a global error from the root propagates ERROR to every
	// federate"), as opposed to a local error confined to one federate.
	Global bool
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// NewError builds a local CoreError.
func NewError(kind ErrorKind, format string, a ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// NewGlobalError builds a CoreError that must propagate federation-wide.
func NewGlobalError(kind ErrorKind, format string, a ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, a...), Global: true}
}
