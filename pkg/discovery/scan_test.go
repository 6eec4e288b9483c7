package discovery

import (
	"context"
	"sync/atomic"
	"testing"
)

func noSelf() selfFilter {
	return selfFilter{addrs: map[string]struct{}{}}
}

func TestSubnetCandidatesWalksCIDR(t *testing.T) {
	cands := subnetCandidates([]string{"192.168.50.0/29"}, 7735, noSelf())
	// /29 holds .0-.7; the network and broadcast addresses are skipped.
	want := []string{
		"192.168.50.1", "192.168.50.2", "192.168.50.3",
		"192.168.50.4", "192.168.50.5", "192.168.50.6",
	}
	if len(cands) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(cands), len(want), cands)
	}
	for i, c := range cands {
		if c.host != want[i] || c.port != 7735 {
			t.Fatalf("candidate %d = %s:%d, want %s:7735", i, c.host, c.port, want[i])
		}
		if c.addr != want[i]+":7735" {
			t.Fatalf("candidate %d addr = %q", i, c.addr)
		}
	}
}

func TestSubnetCandidatesCapped(t *testing.T) {
	cands := subnetCandidates([]string{"10.0.0.0/16"}, 7735, noSelf())
	if len(cands) != 1024 {
		t.Fatalf("got %d candidates from /16, want cap of 1024", len(cands))
	}
}

func TestSubnetCandidatesSkipsBadCIDR(t *testing.T) {
	cands := subnetCandidates([]string{"not-a-cidr", "192.168.50.0/30"}, 7735, noSelf())
	// /30: .1 and .2 remain after network/broadcast.
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(cands), cands)
	}
}

func TestSelfFilterExcludesOwnPortOnly(t *testing.T) {
	self := selfFilter{addrs: map[string]struct{}{"192.168.50.3": {}}, port: 7735}

	if !self.isSelf("192.168.50.3", 7735) {
		t.Fatalf("own address and port not recognized")
	}
	if self.isSelf("192.168.50.3", 7736) {
		t.Fatalf("another node on this host must not be excluded")
	}
	if self.isSelf("192.168.50.4", 7735) {
		t.Fatalf("foreign host excluded")
	}
	if (selfFilter{addrs: map[string]struct{}{"192.168.50.3": {}}}).isSelf("192.168.50.3", 7735) {
		t.Fatalf("zero own port must exclude nothing")
	}

	cands := subnetCandidates([]string{"192.168.50.0/29"}, 7735, self)
	for _, c := range cands {
		if c.host == "192.168.50.3" {
			t.Fatalf("self address present in candidates")
		}
	}
	if len(cands) != 5 {
		t.Fatalf("got %d candidates, want 5", len(cands))
	}
}

func TestExplicitCandidates(t *testing.T) {
	hosts := []string{
		"10.0.0.1",            // default port appended
		"10.0.0.2:9000",       // explicit port kept
		"10.0.0.1:7735",       // duplicate of the first after defaulting
		"192.168.50.3:7735",   // self, excluded
		"192.168.50.3:7736",   // same host, different port, kept
	}
	self := selfFilter{addrs: map[string]struct{}{"192.168.50.3": {}}, port: 7735}
	cands := explicitCandidates(hosts, 7735, self)

	want := []string{"10.0.0.1:7735", "10.0.0.2:9000", "192.168.50.3:7736"}
	if len(cands) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(cands), len(want), cands)
	}
	for i, c := range cands {
		if c.addr != want[i] {
			t.Fatalf("candidate %d = %q, want %q", i, c.addr, want[i])
		}
	}
}

func TestScanPreservesOrderAndBoundsFanout(t *testing.T) {
	cands := explicitCandidates([]string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, 7735, noSelf())

	var inflight, peak atomic.Int32
	probe := func(ctx context.Context, c *candidate) hostState {
		cur := inflight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		defer inflight.Add(-1)
		if c.host == "10.0.0.3" {
			return stateUnreachable
		}
		return stateConfirmed
	}

	got := scan(context.Background(), cands, 2, probe)
	if len(got) != 4 {
		t.Fatalf("scan dropped candidates: %d", len(got))
	}
	for i, c := range got {
		if c.addr != cands[i].addr {
			t.Fatalf("order changed at %d: %q vs %q", i, c.addr, cands[i].addr)
		}
	}
	if got[2].state != stateUnreachable {
		t.Fatalf("state for 10.0.0.3 = %v", got[2].state)
	}
	if got[0].state != stateConfirmed || got[3].state != stateConfirmed {
		t.Fatalf("confirmed states lost: %+v", got)
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("observed %d concurrent probes with fanout 2", p)
	}
}

func TestScanStopsAtDeadline(t *testing.T) {
	cands := explicitCandidates([]string{"10.0.0.1", "10.0.0.2"}, 7735, noSelf())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := scan(ctx, cands, 1, func(ctx context.Context, c *candidate) hostState {
		return stateConfirmed
	})
	for _, c := range got {
		if c.state == stateConfirmed {
			t.Fatalf("probe ran after pass deadline")
		}
	}
}
