package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/observability"
	"github.com/rohitg00/skillmesh/pkg/peers"
)

// LocalDiscovery finds mesh nodes by probing candidate addresses on the
// local network. Confirmed peers are cached in the registry so repeat
// queries within a session are cheap; staleness is the caller's concern via
// Peer.LastSeen.
type LocalDiscovery struct {
	opts     Options
	registry *peers.Registry
	metrics  *observability.Metrics
	client   *probeClient
}

func NewLocal(opts Options, reg *peers.Registry, metrics *observability.Metrics) *LocalDiscovery {
	opts = opts.withDefaults()
	return &LocalDiscovery{
		opts:     opts,
		registry: reg,
		metrics:  metrics,
		client:   newProbeClient(opts.ProbeTimeout),
	}
}

// DiscoverOnce runs one bounded scan and returns every confirmed peer in
// stable candidate order. Unreachable hosts are dropped silently; only the
// pass itself can fail (and only on setup, not on probe errors).
func (d *LocalDiscovery) DiscoverOnce(ctx context.Context) ([]peers.Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	cands := d.candidates()
	if len(cands) == 0 {
		return nil, nil
	}
	started := time.Now()
	cands = scan(ctx, cands, d.opts.Fanout, d.probeOne)

	var out []peers.Peer
	for i := range cands {
		c := &cands[i]
		if c.state != stateConfirmed {
			continue
		}
		p, ok := d.registry.GetAddr(c.addr)
		if !ok {
			continue
		}
		out = append(out, p)
	}
	zap.L().Debug("local discovery pass done",
		zap.Int("candidates", len(cands)),
		zap.Int("confirmed", len(out)),
		zap.Duration("took", time.Since(started)))
	return out, nil
}

// Cached returns the registry's current local peers without scanning.
func (d *LocalDiscovery) Cached() []peers.Peer {
	return d.registry.ListBySource(peers.SourceLocal)
}

func (d *LocalDiscovery) candidates() []candidate {
	self := newSelfFilter(d.opts.SelfPort)
	if len(d.opts.Candidates) > 0 {
		return explicitCandidates(d.opts.Candidates, d.opts.Port, self)
	}
	return subnetCandidates(d.opts.CIDRs, d.opts.Port, self)
}

// probeOne confirms or rejects a single candidate and records confirmed
// peers in the registry. Duplicate (host,port) responses collapse there:
// metadata is last-write-wins, discovery order first-write-wins.
func (d *LocalDiscovery) probeOne(ctx context.Context, c *candidate) hostState {
	pctx, cancel := context.WithTimeout(ctx, d.opts.ProbeTimeout)
	defer cancel()

	resp, err := d.client.Probe(pctx, c.addr)
	if err != nil {
		// Expected common case on a scan; not a failure worth logging.
		d.metrics.ObserveProbe("unreachable")
		return stateUnreachable
	}
	p := peers.New(c.host, c.port, peers.SourceLocal)
	p.NodeID = resp.PeerID
	d.registry.Upsert(p)
	d.metrics.ObserveProbe("confirmed")
	return stateConfirmed
}
