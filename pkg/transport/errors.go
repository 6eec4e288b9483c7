package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	ErrConnectionRefused ErrorKind = "connection_refused"
	ErrReset             ErrorKind = "reset"
	ErrTimeout           ErrorKind = "timeout"
	ErrProtocolMismatch  ErrorKind = "protocol_mismatch"
	ErrAuthFailed        ErrorKind = "auth_failed"
	ErrUnavailable       ErrorKind = "unavailable"
)

// Error is the typed failure returned by every transport operation. The peer
// id and operation are attached so broadcast result maps stay self-describing.
type Error struct {
	Op   string
	Peer string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s to %s: %s: %v", e.Op, e.Peer, e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s to %s: %s", e.Op, e.Peer, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the classification inferred from its cause.
func NewError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Kind: classify(err), Err: err}
}

// NewErrorKind wraps err with an explicit classification.
func NewErrorKind(op, peer string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Peer: peer, Kind: kind, Err: err}
}

// IsKind reports whether err is a transport Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}

func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ErrReset
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return ErrUnavailable
}
