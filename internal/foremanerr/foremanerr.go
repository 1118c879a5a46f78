// Package foremanerr defines the closed set of error kinds the supervisor
// reports over IPC and in structured logs.
package foremanerr

import "fmt"

// Kind is a closed enumeration of error categories.
type Kind string

const (
	TransientExternal   Kind = "transient-external"
	PolicyViolation     Kind = "policy-violation"
	Resource            Kind = "resource"
	ProtocolViolation   Kind = "protocol-violation"
	MergeConflict       Kind = "merge-conflict"
	SubprocessAbnormal  Kind = "subprocess-abnormal"
	PolicyDeciderFailed Kind = "policy-decider-failure"
	Unknown             Kind = "unknown"
)

// Error is a typed error carrying one of the Kind values above.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is *Error.
// Returns Unknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return Unknown
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
