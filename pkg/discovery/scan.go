package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// hostState is the per-candidate probe state machine. Terminal states are
// never revisited within one pass; a fresh pass starts every host at idle.
type hostState int

const (
	stateIdle hostState = iota
	stateProbing
	stateConfirmed
	stateUnreachable
	stateAuthFailed
)

func (s hostState) String() string {
	switch s {
	case stateProbing:
		return "probing"
	case stateConfirmed:
		return "confirmed"
	case stateUnreachable:
		return "unreachable"
	case stateAuthFailed:
		return "auth_failed"
	default:
		return "idle"
	}
}

type candidate struct {
	addr  string // host:port
	host  string
	port  int
	state hostState
}

// probeFunc probes one candidate and returns its terminal state. ctx carries
// the per-probe timeout.
type probeFunc func(ctx context.Context, c *candidate) hostState

// scan drives the state machine over all candidates with bounded fan-out.
// It returns when every outstanding probe has finished or timed out; the
// slice preserves candidate order so output ordering is stable.
func scan(ctx context.Context, cands []candidate, fanout int, probe probeFunc) []candidate {
	sem := semaphore.NewWeighted(int64(fanout))
	var wg sync.WaitGroup
	for i := range cands {
		c := &cands[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			// Pass deadline hit; remaining candidates stay idle.
			break
		}
		c.state = stateProbing
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			c.state = probe(ctx, c)
		}()
	}
	wg.Wait()
	return cands
}

// localAddrs returns every IP assigned to a local interface, loopback
// included. Used to keep the node itself out of its own scan results.
func localAddrs() map[string]struct{} {
	out := map[string]struct{}{}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		zap.L().Warn("enumerate interfaces", zap.Error(err))
		return out
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			out[ipn.IP.String()] = struct{}{}
		}
	}
	return out
}

// selfFilter identifies the node's own mesh address. A candidate is the node
// itself when its host is a local interface address and its port equals the
// node's own mesh port; other ports on this machine are legitimate peers.
type selfFilter struct {
	addrs map[string]struct{}
	port  int
}

func newSelfFilter(ownPort int) selfFilter {
	return selfFilter{addrs: localAddrs(), port: ownPort}
}

func (f selfFilter) isSelf(host string, port int) bool {
	if f.port == 0 || port != f.port {
		return false
	}
	_, ok := f.addrs[host]
	return ok
}

// subnetCandidates derives the candidate address list for a scan. With
// explicit CIDRs those subnets are walked; otherwise each non-loopback IPv4
// interface address contributes its /24. The node's own address is excluded
// up front. The walk is capped to keep a misconfigured prefix from exploding
// the scan.
func subnetCandidates(cidrs []string, port int, self selfFilter) []candidate {
	const maxHosts = 1024
	var nets []*net.IPNet
	if len(cidrs) > 0 {
		for _, s := range cidrs {
			_, ipn, err := net.ParseCIDR(s)
			if err != nil {
				zap.L().Warn("bad discovery cidr", zap.String("cidr", s), zap.Error(err))
				continue
			}
			nets = append(nets, ipn)
		}
	} else {
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			zap.L().Warn("enumerate interfaces", zap.Error(err))
			return nil
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok || ipn.IP.IsLoopback() {
				continue
			}
			ip4 := ipn.IP.To4()
			if ip4 == nil {
				continue
			}
			// Scan the host's /24 regardless of the real prefix length.
			nets = append(nets, &net.IPNet{
				IP:   ip4.Mask(net.CIDRMask(24, 32)),
				Mask: net.CIDRMask(24, 32),
			})
		}
	}

	seen := map[string]struct{}{}
	var out []candidate
	for _, ipn := range nets {
		for ip := firstHost(ipn); ipn.Contains(ip) && len(out) < maxHosts; ip = nextIP(ip) {
			host := ip.String()
			if _, dup := seen[host]; dup {
				continue
			}
			seen[host] = struct{}{}
			if self.isSelf(host, port) {
				continue
			}
			if isBroadcast(ip, ipn) {
				continue
			}
			out = append(out, candidate{
				addr: net.JoinHostPort(host, strconv.Itoa(port)),
				host: host,
				port: port,
			})
		}
	}
	return out
}

func firstHost(ipn *net.IPNet) net.IP {
	ip := ipn.IP.Mask(ipn.Mask).To4()
	return nextIP(ip) // skip the network address
}

func nextIP(ip net.IP) net.IP {
	out := append(net.IP(nil), ip.To4()...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func isBroadcast(ip net.IP, ipn *net.IPNet) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	bcast := append(net.IP(nil), ipn.IP.Mask(ipn.Mask).To4()...)
	for i := range bcast {
		bcast[i] |= ^ipn.Mask[i]
	}
	return ip4.Equal(bcast)
}

// explicitCandidates builds the candidate list from Options.Candidates,
// appending the default port where missing and dropping the node itself.
func explicitCandidates(hosts []string, port int, self selfFilter) []candidate {
	seen := map[string]struct{}{}
	var out []candidate
	for _, h := range hosts {
		host, portStr, err := net.SplitHostPort(h)
		p := port
		if err != nil {
			host = h
		} else if n, perr := strconv.Atoi(portStr); perr == nil {
			p = n
		}
		addr := net.JoinHostPort(host, strconv.Itoa(p))
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		if self.isSelf(host, p) {
			continue
		}
		out = append(out, candidate{addr: addr, host: host, port: p})
	}
	return out
}
