package transport

import (
	"context"
	"errors"
	"syscall"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{syscall.ECONNREFUSED, ErrConnectionRefused},
		{syscall.ECONNRESET, ErrReset},
		{syscall.EPIPE, ErrReset},
		{context.DeadlineExceeded, ErrTimeout},
		{errors.New("something else"), ErrUnavailable},
	}
	for _, c := range cases {
		e := NewError("send", "addr:x", c.err)
		if e.Kind != c.kind {
			t.Fatalf("%v classified as %q, want %q", c.err, e.Kind, c.kind)
		}
		if !IsKind(e, c.kind) {
			t.Fatalf("IsKind(%q) false for matching error", c.kind)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := syscall.ECONNREFUSED
	e := NewError("send", "addr:x", base)
	if !errors.Is(e, syscall.ECONNREFUSED) {
		t.Fatalf("wrapped cause not reachable via errors.Is")
	}
	var te *Error
	if !errors.As(e, &te) || te.Op != "send" || te.Peer != "addr:x" {
		t.Fatalf("typed unwrap lost context: %+v", te)
	}
}

func TestIsKindRejectsOtherKinds(t *testing.T) {
	e := NewErrorKind("send", "addr:x", ErrAuthFailed, errors.New("bad sig"))
	if IsKind(e, ErrTimeout) {
		t.Fatalf("auth_failed matched timeout")
	}
	if IsKind(errors.New("plain"), ErrAuthFailed) {
		t.Fatalf("untyped error matched a kind")
	}
}
