package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/peers"
)

// fakeSender fails for peers whose host is listed in failHosts and tracks
// peak concurrency.
type fakeSender struct {
	mu        sync.Mutex
	failHosts map[string]bool
	inflight  atomic.Int32
	peak      atomic.Int32
	calls     atomic.Int32
}

func (f *fakeSender) Kind() Kind { return KindMem }

func (f *fakeSender) Send(ctx context.Context, p peers.Peer, m *message.Message) (DeliveryResult, error) {
	f.calls.Add(1)
	cur := f.inflight.Add(1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	fail := f.failHosts[p.Host]
	f.mu.Unlock()
	if fail {
		return DeliveryResult{}, NewErrorKind("send", p.ID, ErrConnectionRefused, errors.New("refused"))
	}
	return DeliveryResult{Accepted: true}, nil
}

func makeTargets(n int) []peers.Peer {
	out := make([]peers.Peer, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, peers.New(fmt.Sprintf("10.1.0.%d", i+1), 7735, peers.SourceLocal))
	}
	return out
}

func TestBroadcastOneOutcomePerPeer(t *testing.T) {
	s := &fakeSender{failHosts: map[string]bool{"10.1.0.3": true, "10.1.0.7": true}}
	targets := makeTargets(10)
	msg := message.New("event", nil, "self", "")

	out := Broadcast(context.Background(), s, targets, msg, 4)
	if len(out) != 10 {
		t.Fatalf("got %d outcomes, want 10", len(out))
	}
	for _, p := range targets {
		o, ok := out[p.ID]
		if !ok {
			t.Fatalf("missing outcome for %s", p.Addr())
		}
		wantFail := p.Host == "10.1.0.3" || p.Host == "10.1.0.7"
		if wantFail {
			if o.Err == nil || !IsKind(o.Err, ErrConnectionRefused) {
				t.Fatalf("peer %s: expected refused error, got %v", p.Addr(), o.Err)
			}
		} else if o.Err != nil || !o.Result.Accepted {
			t.Fatalf("peer %s: isolated failure leaked: %+v", p.Addr(), o)
		}
	}
}

func TestBroadcastRespectsConcurrencyLimit(t *testing.T) {
	s := &fakeSender{}
	out := Broadcast(context.Background(), s, makeTargets(50), message.New("e", nil, "self", ""), 5)
	if len(out) != 50 {
		t.Fatalf("got %d outcomes, want 50", len(out))
	}
	if p := s.peak.Load(); p > 5 {
		t.Fatalf("observed %d concurrent sends with limit 5", p)
	}
}

func TestBroadcastCollapsesDuplicateTargets(t *testing.T) {
	s := &fakeSender{}
	p := peers.New("10.1.0.1", 7735, peers.SourceLocal)
	out := Broadcast(context.Background(), s, []peers.Peer{p, p, p}, message.New("e", nil, "self", ""), 0)
	if len(out) != 1 {
		t.Fatalf("got %d outcomes for one unique peer, want 1", len(out))
	}
	if s.calls.Load() != 1 {
		t.Fatalf("sender called %d times for one unique peer, want 1", s.calls.Load())
	}
}

func TestBroadcastEmptyTargets(t *testing.T) {
	out := Broadcast(context.Background(), &fakeSender{}, nil, message.New("e", nil, "self", ""), 0)
	if len(out) != 0 {
		t.Fatalf("got %d outcomes for empty targets", len(out))
	}
}
