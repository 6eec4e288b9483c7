package discovery

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/crypto/sign"
	"github.com/rohitg00/skillmesh/pkg/handshake"
	"github.com/rohitg00/skillmesh/pkg/identity"
	"github.com/rohitg00/skillmesh/pkg/observability"
	"github.com/rohitg00/skillmesh/pkg/peers"
)

// SecureLocalDiscovery runs the same scan as LocalDiscovery but requires a
// confirmed host to pass a signed challenge/response before it is surfaced.
// Hosts failing or timing out during the handshake are excluded, not retried
// within the same pass. Verified keys are pushed into the keyring so the
// authenticated transports can verify that peer's envelopes.
type SecureLocalDiscovery struct {
	opts     Options
	registry *peers.Registry
	metrics  *observability.Metrics
	client   *probeClient

	// allowed is the out-of-band trust anchor: only responders presenting
	// one of these keys are accepted.
	allowed map[string]struct{}
	keyring *sign.Keyring
}

// NewSecureLocal builds the authenticated strategy. allowedKeys are
// base64url ed25519 public keys; an empty list means every responder is
// rejected. keyring may be nil when the caller does not feed transports.
func NewSecureLocal(opts Options, reg *peers.Registry, metrics *observability.Metrics, allowedKeys []string, keyring *sign.Keyring) *SecureLocalDiscovery {
	opts = opts.withDefaults()
	allowed := make(map[string]struct{}, len(allowedKeys))
	for _, k := range allowedKeys {
		allowed[k] = struct{}{}
	}
	return &SecureLocalDiscovery{
		opts:     opts,
		registry: reg,
		metrics:  metrics,
		client:   newProbeClient(opts.ProbeTimeout),
		allowed:  allowed,
		keyring:  keyring,
	}
}

// DiscoverOnce runs one authenticated scan. Every returned peer completed
// both the probe and the challenge handshake.
func (d *SecureLocalDiscovery) DiscoverOnce(ctx context.Context) ([]peers.Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	self := newSelfFilter(d.opts.SelfPort)
	var cands []candidate
	if len(d.opts.Candidates) > 0 {
		cands = explicitCandidates(d.opts.Candidates, d.opts.Port, self)
	} else {
		cands = subnetCandidates(d.opts.CIDRs, d.opts.Port, self)
	}
	if len(cands) == 0 {
		return nil, nil
	}
	cands = scan(ctx, cands, d.opts.Fanout, d.probeAndAuthenticate)

	var out []peers.Peer
	for i := range cands {
		if cands[i].state != stateConfirmed {
			continue
		}
		if p, ok := d.registry.GetAddr(cands[i].addr); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Cached returns the registry's current authenticated peers without scanning.
func (d *SecureLocalDiscovery) Cached() []peers.Peer {
	return d.registry.ListBySource(peers.SourceLocalSecure)
}

func (d *SecureLocalDiscovery) probeAndAuthenticate(ctx context.Context, c *candidate) hostState {
	pctx, cancel := context.WithTimeout(ctx, d.opts.ProbeTimeout)
	defer cancel()

	resp, err := d.client.Probe(pctx, c.addr)
	if err != nil {
		d.metrics.ObserveProbe("unreachable")
		return stateUnreachable
	}

	// The handshake gets its own timeout slot; signing on the far side can
	// be slower than an identity echo.
	hctx, hcancel := context.WithTimeout(ctx, 2*d.opts.ProbeTimeout)
	defer hcancel()

	challenge, err := handshake.NewChallenge(handshake.DefaultService)
	if err != nil {
		d.metrics.ObserveProbe("auth_failed")
		return stateAuthFailed
	}
	answer, err := d.client.Challenge(hctx, c.addr, challenge)
	if err != nil {
		d.metrics.ObserveAuthFailure()
		d.metrics.ObserveProbe("auth_failed")
		return stateAuthFailed
	}
	pub, err := handshake.VerifyAnswer(challenge, answer, d.opts.MaxSkew)
	if err != nil {
		zap.L().Warn("challenge verification failed", zap.String("addr", c.addr), zap.Error(err))
		d.metrics.ObserveAuthFailure()
		d.metrics.ObserveProbe("auth_failed")
		return stateAuthFailed
	}
	if !d.trusted(pub) {
		zap.L().Warn("responder key not in allowed set", zap.String("addr", c.addr))
		d.metrics.ObserveAuthFailure()
		d.metrics.ObserveProbe("auth_failed")
		return stateAuthFailed
	}

	p := peers.New(c.host, c.port, peers.SourceLocalSecure)
	p.NodeID = resp.PeerID
	p.PublicKey = append([]byte(nil), pub...)
	d.registry.Upsert(p)
	if d.keyring != nil {
		// Bind the verified key to the canonical identity derived from it,
		// never to the id the responder claimed.
		_ = d.keyring.Add(identity.NodeIDFromPubKey(pub), pub)
	}
	d.metrics.ObserveProbe("confirmed")
	return stateConfirmed
}

func (d *SecureLocalDiscovery) trusted(pub ed25519.PublicKey) bool {
	_, ok := d.allowed[base64.RawURLEncoding.EncodeToString(pub)]
	return ok
}
