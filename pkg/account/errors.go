package account

import (
	"errors"
	"fmt"
)

// ErrKind classifies worker failures; the propagation policy differs per
// kind.
type ErrKind int

const (
	// ErrConnection covers transport failures: dial, timeout, dropped
	// session.  Retryable by submitting another task.
	ErrConnection ErrKind = iota
	// ErrAuthentication means the server rejected the credentials.  Not
	// auto-retried.
	ErrAuthentication
	// ErrCertificate means the verifier rejected the presented chain.
	ErrCertificate
	// ErrProtocol covers per-operation rejections such as a missing folder.
	// Scoped to the one operation, connection state is unaffected.
	ErrProtocol
	// ErrStorage covers local file or index failures.
	ErrStorage
)

func (k ErrKind) String() string {
	switch k {
	case ErrConnection:
		return "connection"
	case ErrAuthentication:
		return "authentication"
	case ErrCertificate:
		return "certificate"
	case ErrProtocol:
		return "protocol"
	case ErrStorage:
		return "storage"
	}
	return "unknown"
}

// ResetsConnection reports whether an error of this kind puts the worker
// back into the disconnected state.
func (k ErrKind) ResetsConnection() bool {
	switch k {
	case ErrConnection, ErrAuthentication, ErrCertificate:
		return true
	}
	return false
}

// Error is a classified worker failure.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from err; ok is false for unclassified
// errors, which the worker treats as protocol scoped.
func KindOf(err error) (ErrKind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return ErrProtocol, false
}
