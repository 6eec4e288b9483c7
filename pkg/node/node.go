// Package node wires discovery, transports, and the router into one mesh
// node with an explicit start/stop lifecycle. Consumers (CLI, TUI, API
// layers) only ever touch this type, peers.Peer, message.Message, and the
// router handler registration.
package node

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/config"
	"github.com/rohitg00/skillmesh/pkg/crypto/sign"
	"github.com/rohitg00/skillmesh/pkg/discovery"
	"github.com/rohitg00/skillmesh/pkg/identity"
	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/observability"
	"github.com/rohitg00/skillmesh/pkg/peers"
	"github.com/rohitg00/skillmesh/pkg/router"
	"github.com/rohitg00/skillmesh/pkg/transport"
	"github.com/rohitg00/skillmesh/pkg/transport/meshhttp"
	quictransport "github.com/rohitg00/skillmesh/pkg/transport/quic"
	securetransport "github.com/rohitg00/skillmesh/pkg/transport/secure"
	wstransport "github.com/rohitg00/skillmesh/pkg/transport/ws"
)

// Strategy selects a discovery mode for Discover.
type Strategy string

const (
	StrategyLocal       Strategy = "local"
	StrategySecureLocal Strategy = "secure"
	StrategyOverlay     Strategy = "overlay"
	// StrategyAuto prefers the overlay roster and falls back to local
	// scanning when the control plane is unavailable.
	StrategyAuto Strategy = "auto"
)

// Node is the process-wide mesh context. It is owned by the integrating
// layer and injected where needed; there is no hidden package-level state.
type Node struct {
	cfg      *config.Config
	id       *identity.Identity
	registry *peers.Registry
	keyring  *sign.Keyring
	metrics  *observability.Metrics
	router   *router.Router

	server  *meshhttp.Server
	unicast transport.Sender
	duplex  transport.Duplex
	quic    *quictransport.Transport

	local       *discovery.LocalDiscovery
	secureLocal *discovery.SecureLocalDiscovery
	overlay     *discovery.OverlayDiscovery

	snapshotPath string
	started      bool
}

// New builds a stopped node from configuration. Nothing is bound until
// Start.
func New(cfg *config.Config) (*Node, error) {
	id, err := identity.LoadOrGen(cfg.Identity)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		id:      id,
		keyring: sign.NewKeyring(),
		metrics: observability.NewMetrics(),
	}
	n.registry = peers.NewRegistry(peers.RegistryOptions{
		TTL: time.Duration(cfg.Discovery.PeerTTLSec) * time.Second,
	})
	if cfg.DataDir != "" {
		n.snapshotPath = filepath.Join(cfg.DataDir, "peers.cbor")
	}

	// Configured trust anchors double as transport verification keys.
	for _, k := range cfg.Discovery.AllowedKeys {
		if err := n.seedTrustedKey(k); err != nil {
			return nil, err
		}
	}

	n.router = router.New(router.Options{
		NodeID:  id.NodeID,
		Remote:  n.deliverRemote,
		Metrics: n.metrics,
	})

	connect := time.Duration(cfg.Mesh.ConnectTimeoutMS) * time.Millisecond
	request := time.Duration(cfg.Mesh.RequestTimeoutMS) * time.Millisecond

	wsDuplex := wstransport.New(wstransport.Options{
		ConnectTimeout: connect,
		Metrics:        n.metrics,
	})
	unicast := transport.Sender(meshhttp.NewClient(meshhttp.ClientOptions{
		ConnectTimeout: connect,
		RequestTimeout: request,
		Metrics:        n.metrics,
	}))

	var verify meshhttp.VerifyFunc
	n.duplex = wsDuplex
	if cfg.Mesh.Secure {
		secOpts := securetransport.Options{
			Priv:    id.Priv,
			Keyring: n.keyring,
			Metrics: n.metrics,
		}
		unicast = securetransport.WrapSender(unicast, secOpts)
		n.duplex = securetransport.WrapDuplex(wsDuplex, secOpts)
		verify = func(m *message.Message) error {
			return securetransport.VerifyMessage(n.keyring, m)
		}
	}
	n.unicast = unicast
	n.duplex.SetHandler(func(m *message.Message) {
		_, _ = n.router.Handle(context.Background(), m)
	})

	n.server = meshhttp.NewServer(meshhttp.ServerOptions{
		Addr:    cfg.Mesh.ListenAddr,
		NodeID:  id.NodeID,
		Priv:    id.Priv,
		Inbound: n.inbound,
		Verify:  verify,
		Stream:  wsDuplex.AcceptHandler(),
		Metrics: n.metrics,
	})

	opts := discovery.OptionsFromConfig(cfg.Discovery)
	opts.SelfPort = listenPort(cfg.Mesh.ListenAddr)
	n.local = discovery.NewLocal(opts, n.registry, n.metrics)
	n.secureLocal = discovery.NewSecureLocal(opts, n.registry, n.metrics, cfg.Discovery.AllowedKeys, n.keyring)
	n.overlay = discovery.NewOverlay(cfg.Overlay, cfg.Discovery.Port, n.registry)
	return n, nil
}

// NodeID returns the canonical node identity used as the sender on
// envelopes built by this node.
func (n *Node) NodeID() string { return n.id.NodeID }

// Router exposes handler registration to the integrating layer.
func (n *Node) Router() *router.Router { return n.router }

// Registry exposes the peer cache.
func (n *Node) Registry() *peers.Registry { return n.registry }

// Keyring exposes the trusted-key set for out-of-band population.
func (n *Node) Keyring() *sign.Keyring { return n.keyring }

// Start binds the mesh endpoint (and the QUIC endpoint when enabled) and
// loads the persisted peer snapshot. Bind failures are returned, not
// panicked.
func (n *Node) Start() error {
	if n.started {
		return fmt.Errorf("node already started")
	}
	if n.snapshotPath != "" {
		if err := n.registry.LoadSnapshot(n.snapshotPath); err != nil {
			zap.L().Warn("loading peer snapshot", zap.Error(err))
		}
	}
	if err := n.server.Start(); err != nil {
		return err
	}
	if n.cfg.Mesh.QUICEnable {
		qt, err := quictransport.New(quictransport.Options{
			ConnectTimeout: time.Duration(n.cfg.Mesh.ConnectTimeoutMS) * time.Millisecond,
			Metrics:        n.metrics,
		})
		if err != nil {
			return err
		}
		var qd transport.Duplex = qt
		if n.cfg.Mesh.Secure {
			qd = securetransport.WrapDuplex(qt, securetransport.Options{
				Priv:    n.id.Priv,
				Keyring: n.keyring,
				Metrics: n.metrics,
			})
		}
		qd.SetHandler(func(m *message.Message) {
			_, _ = n.router.Handle(context.Background(), m)
		})
		addr := net.JoinHostPort("", strconv.Itoa(n.server.Port()))
		if err := qt.Listen(addr); err != nil {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = n.server.Shutdown(sctx)
			return err
		}
		n.quic = qt
	}
	n.started = true
	zap.L().Info("mesh node started",
		zap.String("node_id", n.id.NodeID),
		zap.String("addr", n.server.Addr().String()))
	return nil
}

// Stop persists the peer snapshot and releases every socket the node owns:
// duplex connections first, then the listeners.
func (n *Node) Stop(ctx context.Context) error {
	if !n.started {
		return nil
	}
	n.started = false
	if n.snapshotPath != "" {
		if err := n.registry.SaveSnapshot(n.snapshotPath); err != nil {
			zap.L().Warn("saving peer snapshot", zap.Error(err))
		}
	}
	var firstErr error
	if err := n.duplex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if n.quic != nil {
		if err := n.quic.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := n.server.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	n.registry.Close()
	return firstErr
}

// Port returns the bound mesh port (0 before Start).
func (n *Node) Port() int { return n.server.Port() }

// Discover runs one pass of the selected strategy. Results are merged into
// the registry; the returned slice is this pass's peers. Merge policy when
// strategies combine (StrategyAuto): union by (host, port), overlay entries
// take precedence on conflict.
func (n *Node) Discover(ctx context.Context, s Strategy) ([]peers.Peer, error) {
	switch s {
	case StrategyLocal:
		return n.local.DiscoverOnce(ctx)
	case StrategySecureLocal:
		return n.secureLocal.DiscoverOnce(ctx)
	case StrategyOverlay:
		return n.overlay.DiscoverOnce(ctx)
	case StrategyAuto, "":
		overlayPeers, err := n.overlay.DiscoverOnce(ctx)
		if err == nil {
			localPeers, lerr := n.local.DiscoverOnce(ctx)
			if lerr != nil {
				return overlayPeers, nil
			}
			return mergePeers(overlayPeers, localPeers), nil
		}
		zap.L().Debug("overlay unavailable, falling back to local scan", zap.Error(err))
		return n.local.DiscoverOnce(ctx)
	default:
		return nil, fmt.Errorf("unknown discovery strategy %q", s)
	}
}

// Send delivers one envelope to a peer over the unicast transport.
func (n *Node) Send(ctx context.Context, peer peers.Peer, msg *message.Message) (transport.DeliveryResult, error) {
	return n.unicast.Send(ctx, peer, msg)
}

// SendDuplex delivers one envelope over the persistent duplex transport.
func (n *Node) SendDuplex(ctx context.Context, peer peers.Peer, msg *message.Message) (transport.DeliveryResult, error) {
	return n.duplex.Send(ctx, peer, msg)
}

// Broadcast fans an envelope out to all targets with bounded concurrency.
func (n *Node) Broadcast(ctx context.Context, targets []peers.Peer, msg *message.Message) map[string]transport.SendOutcome {
	return transport.Broadcast(ctx, n.unicast, targets, msg, n.cfg.Discovery.Fanout)
}

// NewMessage builds an envelope from this node.
func (n *Node) NewMessage(typ string, payload []byte, recipient string) *message.Message {
	return message.New(typ, payload, n.id.NodeID, recipient)
}

// NewReply builds a reply envelope from this node to original's sender.
func (n *Node) NewReply(original *message.Message, payload []byte) *message.Message {
	return message.NewReply(original, payload, n.id.NodeID)
}

// inbound is the mesh endpoint's delivery path into the router.
func (n *Node) inbound(ctx context.Context, m *message.Message) transport.DeliveryResult {
	outcome, err := n.router.Handle(ctx, m)
	switch outcome {
	case router.OutcomeHandled, router.OutcomeForwarded, router.OutcomeHandlerError:
		return transport.DeliveryResult{Accepted: true}
	case router.OutcomeDuplicate:
		return transport.DeliveryResult{Accepted: true, Reason: "duplicate"}
	default:
		reason := "undeliverable"
		if err != nil {
			reason = err.Error()
		}
		return transport.DeliveryResult{Accepted: false, Reason: reason}
	}
}

// deliverRemote is the router's remote-delivery hook: resolve the recipient
// to a known peer and send over the unicast transport.
func (n *Node) deliverRemote(ctx context.Context, m *message.Message) error {
	target, ok := n.resolveRecipient(m.Recipient)
	if !ok {
		return fmt.Errorf("no known peer for recipient %s", m.Recipient)
	}
	fwd := message.NewForward(m, n.id.NodeID)
	res, err := n.unicast.Send(ctx, target, fwd)
	if err != nil {
		return err
	}
	if !res.Accepted {
		return fmt.Errorf("peer %s rejected forward: %s", target.ID, res.Reason)
	}
	return nil
}

func (n *Node) resolveRecipient(recipient string) (peers.Peer, bool) {
	for _, p := range n.registry.List() {
		if p.NodeID == recipient || p.ID == recipient {
			return p, true
		}
	}
	return peers.Peer{}, false
}

func (n *Node) seedTrustedKey(pubB64 string) error {
	kr := sign.NewKeyring()
	if err := kr.AddBase64("probe", pubB64); err != nil {
		return fmt.Errorf("discovery.allowed_keys: %w", err)
	}
	pub, _ := kr.Lookup("probe")
	return n.keyring.Add(identity.NodeIDFromPubKey(pub), pub)
}

// mergePeers unions two passes by (host, port); entries from the first
// slice win on conflict.
func mergePeers(preferred, rest []peers.Peer) []peers.Peer {
	seen := make(map[string]struct{}, len(preferred))
	out := make([]peers.Peer, 0, len(preferred)+len(rest))
	for _, p := range preferred {
		seen[p.Addr()] = struct{}{}
		out = append(out, p)
	}
	for _, p := range rest {
		if _, dup := seen[p.Addr()]; dup {
			continue
		}
		out = append(out, p)
	}
	return out
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return p
}
