// Package fault classifies errors by how the system is expected to react
// to them.
//
// A Kind says whether an error is fatal at construction, scoped to one
// connection, retried locally, or an expected policy refusal. Package
// sentinel errors (signal.ErrUnknownSignal, cipher.ErrRotationTooSoon, ...)
// are wrapped in an *Error so callers can use both errors.Is on the
// sentinel and KindOf on the classification.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the error classification.
type Kind uint8

const (
	// KindUnknown is returned by KindOf for errors that were never classified.
	KindUnknown Kind = iota

	// KindConfiguration errors are fatal and rejected at construction.
	KindConfiguration

	// KindProtocol errors are recoverable at connection scope.
	KindProtocol

	// KindTransientTransport errors are retried locally.
	KindTransientTransport

	// KindPolicyRejection errors are expected refusals, surfaced as a
	// normal failure response and not logged as exceptions.
	KindPolicyRejection
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "CONFIGURATION"
	case KindProtocol:
		return "PROTOCOL"
	case KindTransientTransport:
		return "TRANSIENT_TRANSPORT"
	case KindPolicyRejection:
		return "POLICY_REJECTION"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration wraps err as a configuration error.
func Configuration(op string, err error) error {
	return New(KindConfiguration, op, err)
}

// Protocol wraps err as a protocol error.
func Protocol(op string, err error) error {
	return New(KindProtocol, op, err)
}

// Transient wraps err as a transient transport error.
func Transient(op string, err error) error {
	return New(KindTransientTransport, op, err)
}

// Policy wraps err as a policy rejection.
func Policy(op string, err error) error {
	return New(KindPolicyRejection, op, err)
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
