package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rohitg00/skillmesh/pkg/message"
)

func newTestRouter(opts Options) *Router {
	if opts.NodeID == "" {
		opts.NodeID = "pk:ed25519:self"
	}
	return New(opts)
}

func TestDispatchIsExactlyOncePerID(t *testing.T) {
	r := newTestRouter(Options{})
	var calls atomic.Int32
	r.RegisterHandler("ping", func(m *message.Message) error {
		calls.Add(1)
		return nil
	})

	m := message.New("ping", nil, "pk:ed25519:peer", "")
	out, err := r.Handle(context.Background(), m)
	if err != nil || out != OutcomeHandled {
		t.Fatalf("first dispatch: outcome=%v err=%v", out, err)
	}
	out, err = r.Handle(context.Background(), m)
	if err != nil || out != OutcomeDuplicate {
		t.Fatalf("redelivery: outcome=%v err=%v", out, err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("handler ran %d times, want 1", n)
	}
}

func TestConcurrentDuplicatesDispatchOnce(t *testing.T) {
	r := newTestRouter(Options{})
	var calls atomic.Int32
	r.RegisterHandler("ping", func(m *message.Message) error {
		calls.Add(1)
		return nil
	})

	m := message.New("ping", nil, "peer", "")
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Handle(context.Background(), m)
		}()
	}
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Fatalf("handler ran %d times under concurrent redelivery, want 1", n)
	}
}

func TestHandlerErrorIsContained(t *testing.T) {
	r := newTestRouter(Options{})
	r.RegisterHandler("bad", func(m *message.Message) error {
		return errors.New("boom")
	})

	m := message.New("bad", nil, "peer", "")
	out, err := r.Handle(context.Background(), m)
	if err != nil {
		t.Fatalf("handler error must not surface to the transport: %v", err)
	}
	if out != OutcomeHandlerError {
		t.Fatalf("outcome=%v, want handler_error", out)
	}
	// The id was consumed even though the handler failed.
	out, _ = r.Handle(context.Background(), m)
	if out != OutcomeDuplicate {
		t.Fatalf("redelivery after handler error: outcome=%v, want duplicate", out)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	r := newTestRouter(Options{})
	r.RegisterHandler("explode", func(m *message.Message) error {
		panic("kaboom")
	})

	m := message.New("explode", nil, "peer", "")
	out, err := r.Handle(context.Background(), m)
	if err != nil || out != OutcomeHandlerError {
		t.Fatalf("panicking handler: outcome=%v err=%v", out, err)
	}
}

func TestForeignRecipientUsesRemoteHook(t *testing.T) {
	var forwarded atomic.Int32
	r := newTestRouter(Options{
		Remote: func(ctx context.Context, m *message.Message) error {
			forwarded.Add(1)
			return nil
		},
	})

	m := message.New("event", nil, "peer", "pk:ed25519:other")
	out, err := r.Handle(context.Background(), m)
	if err != nil || out != OutcomeForwarded {
		t.Fatalf("forward: outcome=%v err=%v", out, err)
	}
	if forwarded.Load() != 1 {
		t.Fatalf("remote hook ran %d times, want 1", forwarded.Load())
	}
	// Successful forwards are recorded.
	out, _ = r.Handle(context.Background(), m)
	if out != OutcomeDuplicate {
		t.Fatalf("redelivery after forward: outcome=%v, want duplicate", out)
	}
}

func TestFailedRemoteDeliveryAllowsRetry(t *testing.T) {
	fail := true
	r := newTestRouter(Options{
		Remote: func(ctx context.Context, m *message.Message) error {
			if fail {
				return errors.New("peer unreachable")
			}
			return nil
		},
	})

	m := message.New("event", nil, "peer", "pk:ed25519:other")
	out, err := r.Handle(context.Background(), m)
	if err == nil || out != OutcomeUndeliverable {
		t.Fatalf("failed forward: outcome=%v err=%v", out, err)
	}

	// A failed forward must not consume the id.
	fail = false
	out, err = r.Handle(context.Background(), m)
	if err != nil || out != OutcomeForwarded {
		t.Fatalf("retry after failed forward: outcome=%v err=%v", out, err)
	}
}

func TestUndeliverableWithoutHandlerOrRecipient(t *testing.T) {
	r := newTestRouter(Options{})
	m := message.New("unknown", nil, "peer", "")
	out, err := r.Handle(context.Background(), m)
	if out != OutcomeUndeliverable {
		t.Fatalf("outcome=%v, want undeliverable", out)
	}
	if !errors.Is(err, ErrUndeliverable) {
		t.Fatalf("expected ErrUndeliverable, got %v", err)
	}
	// Undeliverable ids stay eligible: registering a handler later lets a
	// redelivery succeed.
	r.RegisterHandler("unknown", func(m *message.Message) error { return nil })
	out, err = r.Handle(context.Background(), m)
	if err != nil || out != OutcomeHandled {
		t.Fatalf("redelivery after registering handler: outcome=%v err=%v", out, err)
	}
}

func TestOwnNodeIDRecipientIsLocal(t *testing.T) {
	r := newTestRouter(Options{NodeID: "pk:ed25519:self"})
	handled := false
	r.RegisterHandler("ping", func(m *message.Message) error {
		handled = true
		return nil
	})
	m := message.New("ping", nil, "peer", "pk:ed25519:self")
	out, err := r.Handle(context.Background(), m)
	if err != nil || out != OutcomeHandled || !handled {
		t.Fatalf("self-addressed dispatch: outcome=%v err=%v handled=%v", out, err, handled)
	}
}

func TestUnregisterHandler(t *testing.T) {
	r := newTestRouter(Options{})
	r.RegisterHandler("ping", func(m *message.Message) error { return nil })
	r.UnregisterHandler("ping")
	m := message.New("ping", nil, "peer", "")
	if out, _ := r.Handle(context.Background(), m); out != OutcomeUndeliverable {
		t.Fatalf("outcome=%v after unregister, want undeliverable", out)
	}
}

func TestDedupeCapacityEviction(t *testing.T) {
	r := newTestRouter(Options{DedupeCapacity: 4})
	var calls atomic.Int32
	r.RegisterHandler("ping", func(m *message.Message) error {
		calls.Add(1)
		return nil
	})

	first := message.New("ping", nil, "peer", "")
	if out, _ := r.Handle(context.Background(), first); out != OutcomeHandled {
		t.Fatalf("first message not handled")
	}
	// Push the first id out of the bounded set.
	for i := 0; i < 4; i++ {
		m := message.New("ping", nil, "peer", "")
		m.ID = fmt.Sprintf("filler-%d", i)
		if out, _ := r.Handle(context.Background(), m); out != OutcomeHandled {
			t.Fatalf("filler %d not handled", i)
		}
	}
	out, _ := r.Handle(context.Background(), first)
	if out != OutcomeHandled {
		t.Fatalf("evicted id redelivery: outcome=%v, want handled", out)
	}
	if calls.Load() != 6 {
		t.Fatalf("handler ran %d times, want 6", calls.Load())
	}
}
